package station

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/flowsim/sim"
	"github.com/inference-sim/flowsim/sim/queue"
)

func order(s *sim.Simulator, name, id string) *sim.Entity {
	e := s.NewEntity(name)
	e.Attributes["order"] = id
	return e
}

func byOrder(e *sim.Entity) string { return e.Attributes["order"] }

func TestCombine_MatchRequiredPairsSameClassifier(t *testing.T) {
	s := newTestSim()
	q1 := queue.NewQueue("Orders", s)
	q2 := queue.NewQueue("Parts", s)
	q1.Classifier = byOrder
	q2.Classifier = byOrder
	c := NewCombine("Combine", s, []*queue.Queue{q1, q2}, sim.Constant(1))
	c.MatchRequired = true
	out := &recorder{s: s}
	c.Next = out

	a, b := order(s, "a", "o1"), order(s, "b", "o2")
	partC, partD := order(s, "c", "o2"), order(s, "d", "o1")
	arriveAt(s, 0, q1, a, b)
	arriveAt(s, 0, q2, partC)
	arriveAt(s, 3, q2, partD)
	run(t, s)

	assert.Equal(t, []string{"b", "a"}, out.names())
	assert.Equal(t, []float64{1, 4}, out.times)
	assert.True(t, partC.Disposed())
	assert.True(t, partD.Disposed())
	assert.False(t, a.Disposed())
	assert.Equal(t, int64(4), c.Counters().Received)
	assert.Equal(t, int64(4), c.Counters().Processed)
}

func TestCombine_WithoutMatchTakesHeads(t *testing.T) {
	s := newTestSim()
	q1 := queue.NewQueue("Q1", s)
	q2 := queue.NewQueue("Q2", s)
	c := NewCombine("Combine", s, []*queue.Queue{q1, q2}, sim.Constant(2))
	out := &recorder{s: s}
	c.Next = out

	arriveAt(s, 0, q1, order(s, "a", "o1"))
	arriveAt(s, 1, q2, order(s, "x", "o9"))
	run(t, s)

	assert.Equal(t, []string{"a"}, out.names())
	assert.Equal(t, []float64{3}, out.times)
}

func TestAssemble_KeepParts(t *testing.T) {
	s := newTestSim()
	q1 := queue.NewQueue("Bolts", s)
	q2 := queue.NewQueue("Frames", s)
	a := NewAssemble("Assembly", s, []*queue.Queue{q1, q2}, []int{2, 1}, sim.Constant(2))
	a.Prototype = "Widget"
	a.KeepParts = true
	out := &recorder{s: s}
	a.Next = out

	p1, p2, p3 := s.NewEntity("p1"), s.NewEntity("p2"), s.NewEntity("p3")
	f := s.NewEntity("f")
	arriveAt(s, 0, q1, p1, p2, p3)
	arriveAt(s, 0, q2, f)
	run(t, s)

	require.Len(t, out.entities, 1)
	widget := out.entities[0]
	assert.Equal(t, "Widget1", widget.Name)
	assert.Equal(t, []*sim.Entity{p1, p2, f}, widget.Contents)
	assert.Equal(t, []float64{2}, out.times)
	assert.Equal(t, 1, q1.Size(""), "p3 waits for another frame")
	assert.False(t, p1.Disposed())
}

func TestAssemble_DisposesPartsByDefault(t *testing.T) {
	s := newTestSim()
	q1 := queue.NewQueue("Bolts", s)
	q2 := queue.NewQueue("Frames", s)
	q1.Classifier = byOrder
	q2.Classifier = byOrder
	a := NewAssemble("Assembly", s, []*queue.Queue{q1, q2}, []int{2, 1}, sim.Constant(1))
	a.MatchRequired = true
	out := &recorder{s: s}
	a.Next = out

	bolts := []*sim.Entity{order(s, "b1", "o1"), order(s, "b2", "o2"), order(s, "b3", "o2")}
	arriveAt(s, 0, q1, bolts...)
	arriveAt(s, 0, q2, order(s, "f1", "o2"))
	run(t, s)

	require.Len(t, out.entities, 1)
	assert.Empty(t, out.entities[0].Contents)
	assert.False(t, bolts[0].Disposed(), "o1 has no frame")
	assert.True(t, bolts[1].Disposed())
	assert.True(t, bolts[2].Disposed())
	assert.Equal(t, int64(3), a.Counters().Processed)
}

func TestAssemble_InvalidCountsAreModelErrors(t *testing.T) {
	s := newTestSim()
	q := queue.NewQueue("Q", s)
	assert.Panics(t, func() { NewAssemble("A", s, []*queue.Queue{q}, []int{1, 2}, sim.Constant(1)) })
	assert.Panics(t, func() { NewAssemble("A", s, []*queue.Queue{q}, []int{0}, sim.Constant(1)) })
}

func TestPack_FillsContainersThenUnpack(t *testing.T) {
	s := newTestSim()
	items := queue.NewQueue("Items", s)
	boxes := queue.NewQueue("Boxes", s)
	p := NewPack("Pack", s, items, boxes, sim.Constant(2), sim.Constant(1))
	unpackQ := queue.NewQueue("UnpackQueue", s)
	p.Next = unpackQ
	u := NewUnpack("Unpack", s, unpackQ, sim.Constant(1))
	out := &recorder{s: s}
	empties := &recorder{s: s}
	u.Next = out
	u.ContainerNext = empties

	box := s.NewEntity("box")
	arriveAt(s, 0, items, s.NewEntity("i1"), s.NewEntity("i2"), s.NewEntity("i3"))
	arriveAt(s, 0, boxes, box)
	run(t, s)

	assert.Equal(t, []string{"i1", "i2"}, out.names())
	assert.Equal(t, []float64{3, 4}, out.times)
	assert.Equal(t, []*sim.Entity{box}, empties.entities)
	assert.Empty(t, box.Contents)
	assert.Equal(t, 1, items.Size(""), "i3 waits for another box")
	assert.Nil(t, p.Container())
}

func TestPack_MatchRequiredUsesMostPopulousClassifier(t *testing.T) {
	s := newTestSim()
	items := queue.NewQueue("Items", s)
	items.Classifier = byType
	boxes := queue.NewQueue("Boxes", s)
	p := NewPack("Pack", s, items, boxes, sim.Constant(2), sim.Constant(1))
	p.MatchRequired = true
	out := &recorder{s: s}
	p.Next = out

	arriveAt(s, 0, items, typed(s, "r1", "red"), typed(s, "b1", "blue"), typed(s, "b2", "blue"))
	arriveAt(s, 0, boxes, s.NewEntity("box"))
	run(t, s)

	require.Len(t, out.entities, 1)
	contents := out.entities[0].Contents
	require.Len(t, contents, 2)
	assert.Equal(t, "b1", contents[0].Name)
	assert.Equal(t, "b2", contents[1].Name)
}

func TestPack_MatchRequiredNeverPacksUnclassified(t *testing.T) {
	s := newTestSim()
	items := queue.NewQueue("Items", s)
	items.Classifier = byType
	boxes := queue.NewQueue("Boxes", s)
	p := NewPack("Pack", s, items, boxes, sim.Constant(2), sim.Constant(1))
	p.MatchRequired = true
	out := &recorder{s: s}
	p.Next = out

	arriveAt(s, 0, items, s.NewEntity("u1"), s.NewEntity("u2"), s.NewEntity("u3"))
	arriveAt(s, 0, boxes, s.NewEntity("box"))
	arriveAt(s, 5, items, typed(s, "r1", "red"))
	run(t, s)

	// The box is only taken once a classified item exists, and it then
	// waits for a second red item.
	assert.Empty(t, out.entities)
	require.NotNil(t, p.Container())
	assert.Equal(t, []string{"r1"}, names(p.Container().Contents))
	assert.Equal(t, 3, items.Size(""))
	assert.Equal(t, 0, boxes.Size(""))
}

func TestCombine_MatchRequiredIgnoresUnclassified(t *testing.T) {
	s := newTestSim()
	q1 := queue.NewQueue("Orders", s)
	q2 := queue.NewQueue("Parts", s)
	q1.Classifier = byOrder
	q2.Classifier = byOrder
	c := NewCombine("Combine", s, []*queue.Queue{q1, q2}, sim.Constant(1))
	c.MatchRequired = true
	out := &recorder{s: s}
	c.Next = out

	arriveAt(s, 0, q1, s.NewEntity("loose"), order(s, "a", "o1"))
	arriveAt(s, 0, q2, s.NewEntity("spare"), order(s, "p", "o1"))
	run(t, s)

	assert.Equal(t, []string{"a"}, out.names())
	assert.Equal(t, 1, q1.Size(""))
	assert.Equal(t, 1, q2.Size(""))
}

func names(entities []*sim.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.Name
	}
	return out
}

func TestUnpack_EmptyContainerIsDisposed(t *testing.T) {
	s := newTestSim()
	q := queue.NewQueue("UnpackQueue", s)
	u := NewUnpack("Unpack", s, q, sim.Constant(1))
	out := &recorder{s: s}
	u.Next = out

	empty := s.NewEntity("empty")
	full := s.NewEntity("full")
	full.Contents = []*sim.Entity{s.NewEntity("x")}
	arriveAt(s, 0, q, empty, full)
	run(t, s)

	assert.True(t, empty.Disposed())
	assert.True(t, full.Disposed())
	assert.Equal(t, []string{"x"}, out.names())
	assert.Equal(t, []float64{1}, out.times)
}
