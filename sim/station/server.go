package station

import (
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/flowsim/sim"
	"github.com/inference-sim/flowsim/sim/device"
	"github.com/inference-sim/flowsim/sim/queue"
)

// Server serves one entity at a time from its wait queue. When SetupTime is
// set, a setup step runs before serving an entity whose classifier differs
// from the previous one. A finished entity is held while a release
// threshold is closed.
type Server struct {
	deviceStation

	WaitQueue *queue.Queue
	// ServiceTime is sampled for every entity.
	ServiceTime sim.SampleProvider
	// Match restricts service to entities with this classifier ("" = any).
	Match string
	// SetupTime is sampled when the served classifier changes (nil = no setup).
	SetupTime sim.SampleProvider

	current        *sim.Entity
	inSetup        bool
	holding        bool
	served         bool
	lastClassifier string
	setups         int64
}

// NewServer creates a server fed by waitQueue.
func NewServer(name string, s *sim.Simulator, waitQueue *queue.Queue, serviceTime sim.SampleProvider) *Server {
	srv := &Server{
		deviceStation: deviceStation{linkedService: newLinkedService(name, s)},
		WaitQueue:     waitQueue,
		ServiceTime:   serviceTime,
	}
	srv.dev = device.New(name, s, srv)
	subscribe(name, srv, waitQueue)
	s.RegisterStats(srv)
	return srv
}

// Current returns the entity in service or held, nil when empty.
func (srv *Server) Current() *sim.Entity {
	return srv.current
}

// Setups returns the number of setups performed.
func (srv *Server) Setups() int64 {
	return srv.setups
}

func (srv *Server) IsNewStepRequired(completed bool) bool { return completed }

func (srv *Server) StartProcessing(_ float64) bool {
	if srv.holding {
		if !srv.dev.IsReleaseOpen() {
			return false
		}
		srv.holding = false
		e := srv.current
		srv.current = nil
		srv.send(e)
	}
	if srv.current != nil {
		// setup finished, serve the entity it was for
		return true
	}
	entry := srv.WaitQueue.First(srv.Match)
	if entry == nil {
		return false
	}
	srv.current = srv.WaitQueue.RemoveFirst(srv.Match)
	srv.counters.AddReceived(1)
	srv.inSetup = srv.SetupTime != nil && (!srv.served || entry.Classifier != srv.lastClassifier)
	srv.served = true
	srv.lastClassifier = entry.Classifier
	return true
}

func (srv *Server) StepDuration(_ float64) float64 {
	if srv.inSetup {
		return srv.sample(srv.SetupTime, "setup time")
	}
	return srv.sample(srv.ServiceTime, "service time")
}

func (srv *Server) ProcessStep(_ float64) {
	if srv.inSetup {
		srv.inSetup = false
		srv.setups++
		logrus.Debugf("[tick %07d] %s: setup for %q complete", srv.sim.Now(), srv.name, srv.lastClassifier)
		return
	}
	if !srv.dev.IsReleaseOpen() {
		srv.holding = true
		return
	}
	e := srv.current
	srv.current = nil
	srv.send(e)
}

// IsSetup implements device.SetupReporter.
func (srv *Server) IsSetup() bool {
	return srv.inSetup && srv.dev.IsProcessing()
}

// IsSetdown implements device.SetupReporter.
func (srv *Server) IsSetdown() bool { return false }

// ClearSetup implements device.SetupReporter: after a stop the next entity
// needs a fresh setup.
func (srv *Server) ClearSetup() {
	srv.served = false
}

// IsHoldingFinished implements device.ReleaseHolder.
func (srv *Server) IsHoldingFinished() bool {
	return srv.holding
}
