package station

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/flowsim/sim"
	"github.com/inference-sim/flowsim/sim/device"
	"github.com/inference-sim/flowsim/sim/queue"
	"github.com/inference-sim/flowsim/sim/resource"
)

func TestSeizeRelease_SingleOperatorSerializesWork(t *testing.T) {
	s := newTestSim()
	operators := resource.NewPool("Operators", s, sim.Constant(1), false)
	reqs := []resource.Request{{Pool: operators, Units: 1}}

	seizeQ := queue.NewQueue("SeizeQueue", s)
	sz := NewSeize("Seize", s, seizeQ, reqs)
	workQ := queue.NewQueue("WorkQueue", s)
	sz.Next = workQ
	srv := NewServer("Work", s, workQ, sim.Constant(3))
	rel := NewRelease("Release", s, reqs)
	srv.Next = rel
	out := &recorder{s: s}
	rel.Next = out

	arriveAt(s, 0, seizeQ, s.NewEntity("e1"), s.NewEntity("e2"))
	run(t, s)

	assert.Equal(t, []string{"e1", "e2"}, out.names())
	assert.Equal(t, []float64{3, 6}, out.times)
	assert.Equal(t, 0, operators.UnitsInUse())
	assert.Equal(t, 1.0, operators.UnitsInUseStats().Max())
	assert.Equal(t, int64(2), operators.UnitsSeized())
	assert.Equal(t, int64(2), sz.Counters().Processed)
}

// twoPoolModel has Seize A needing P1 and P2 (priority 1) and Seize B
// needing P1 only (priority 2). P2 stays busy until 10; P1 frees at 2.
func twoPoolModel(t *testing.T, strict bool) (a, b *recorder) {
	s := newTestSim()
	p1 := resource.NewPool("P1", s, sim.Constant(1), strict)
	p2 := resource.NewPool("P2", s, sim.Constant(1), false)

	holdP1 := s.NewEntity("holder1")
	holdP2 := s.NewEntity("holder2")
	at(s, 0, func() {
		p1.Seize(1, holdP1)
		p2.Seize(1, holdP2)
	})
	at(s, 2, func() { p1.Release(1, holdP1) })
	at(s, 10, func() { p2.Release(1, holdP2) })

	qa := queue.NewQueue("QA", s)
	qa.Priority = sim.Constant(1)
	qb := queue.NewQueue("QB", s)
	qb.Priority = sim.Constant(2)
	sa := NewSeize("SeizeA", s, qa, []resource.Request{{Pool: p1, Units: 1}, {Pool: p2, Units: 1}})
	sb := NewSeize("SeizeB", s, qb, []resource.Request{{Pool: p1, Units: 1}})
	a, b = &recorder{s: s}, &recorder{s: s}
	sa.Next = a
	sb.Next = b

	arriveAt(s, 1, qa, s.NewEntity("a1"))
	arriveAt(s, 1, qb, s.NewEntity("b1"))
	run(t, s)
	return a, b
}

func TestSeize_StrictPoolKeepsPriorityOrder(t *testing.T) {
	a, b := twoPoolModel(t, true)

	// B may not take P1 while A, ranked first, waits for P2.
	require.Len(t, a.times, 1)
	assert.Equal(t, []float64{10}, a.times)
	assert.Empty(t, b.times)
}

func TestSeize_NonStrictPoolLetsLowerPriorityProceed(t *testing.T) {
	a, b := twoPoolModel(t, false)

	assert.Equal(t, []float64{2}, b.times)
	assert.Empty(t, a.times, "B still holds P1 when P2 frees up")
}

func TestSeize_ClosedThresholdBlocksSeizing(t *testing.T) {
	s := newTestSim()
	pool := resource.NewPool("Pool", s, sim.Constant(1), false)
	q := queue.NewQueue("Q", s)
	sz := NewSeize("Seize", s, q, []resource.Request{{Pool: pool, Units: 1}})
	out := &recorder{s: s}
	sz.Next = out
	gate := device.NewSignalThreshold("Gate", false)
	sz.Device().OperatingThresholds = append(sz.Device().OperatingThresholds, gate)
	gate.AddUser(sz)

	arriveAt(s, 0, q, s.NewEntity("e1"))
	at(s, 4, func() { gate.SetOpen(true) })
	run(t, s)

	assert.Equal(t, []float64{4}, out.times)
	assert.Equal(t, 1, pool.UnitsInUse())
}

func TestEntityProcessor_ConcurrentService(t *testing.T) {
	s := newTestSim()
	q := queue.NewQueue("Q", s)
	p := NewEntityProcessor("Proc", s, q, sim.Constant(2), sim.Constant(4))
	out := &recorder{s: s}
	p.Next = out

	arriveAt(s, 0, q, s.NewEntity("e1"))
	arriveAt(s, 1, q, s.NewEntity("e2"))
	arriveAt(s, 2, q, s.NewEntity("e3"))
	run(t, s)

	// e3 waits for a free slot at 4.
	assert.Equal(t, []string{"e1", "e2", "e3"}, out.names())
	assert.Equal(t, []float64{4, 5, 8}, out.times)
	assert.Equal(t, 0, p.InService())
}

func TestBranch_ChoiceRoundsDownAndRejectsNonFinite(t *testing.T) {
	tests := []struct {
		name    string
		choice  float64
		wantErr string
	}{
		{"fraction picks the lower destination", 2.7, ""},
		{"NaN", math.NaN(), "invalid choice NaN"},
		{"infinite", math.Inf(1), "invalid choice +Inf"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestSim()
			first, second := &recorder{s: s}, &recorder{s: s}
			b := NewBranch("Fork", s, sim.Constant(tc.choice), []sim.Linkable{first, second})
			arriveAt(s, 1, b, s.NewEntity("e"))

			err := s.Run(context.Background())

			if tc.wantErr == "" {
				require.NoError(t, err)
				assert.Empty(t, first.entities)
				assert.Equal(t, []string{"e"}, second.names())
				return
			}
			var me *sim.ModelError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, "Fork", me.Station)
			assert.Contains(t, me.Msg, tc.wantErr)
		})
	}
}
