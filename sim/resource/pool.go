// Package resource implements capacity-limited resource pools and the
// protocol by which stations waiting on them are ranked and woken.
package resource

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/flowsim/sim"
)

// User is a station waiting to seize units from one or more pools.
type User interface {
	Name() string
	// HasWaitingEntity reports whether an entity eligible to seize is queued.
	HasWaitingEntity() bool
	// HeadPriority is the priority of the user's next entity (lower first).
	HeadPriority() int
	// HeadWaitTime is how long the user's next entity has waited, in seconds.
	HeadWaitTime() float64
	// IsReadyToSeize checks every pool the user needs; seizing is all-or-nothing.
	IsReadyToSeize() bool
	// SeizeNext seizes units for the next entity and lets it proceed.
	// Returns false when nothing was seized.
	SeizeNext() bool
}

// Pool is a capacity counter shared by Seize and Release stations.
type Pool struct {
	name string
	sim  *sim.Simulator
	// Capacity is sampled at the current simulation time on every check, so it
	// must be a function of time (a Constant or a SampleFunc), not a random
	// draw.
	Capacity sim.SampleProvider
	// StrictOrder lets only the highest-ranked waiting user seize released units.
	StrictOrder bool

	inUse int
	users []User

	unitsInUse   *sim.TimeWeightedStat
	seized       int64
	released     int64
	lastCapacity int
	capacityWait *sim.Wait
}

// NewPool creates a pool. A non-constant capacity is polled after every
// event so that waiting users are woken when it grows.
func NewPool(name string, s *sim.Simulator, capacity sim.SampleProvider, strict bool) *Pool {
	if capacity == nil {
		panic(fmt.Sprintf("NewPool %s: capacity must not be nil", name))
	}
	p := &Pool{
		name:        name,
		sim:         s,
		Capacity:    capacity,
		StrictOrder: strict,
		unitsInUse:  sim.NewTimeWeightedStat(s.Seconds(), true),
	}
	s.RegisterStats(p)
	if _, constant := capacity.(sim.Constant); !constant {
		p.lastCapacity = p.CapacityNow()
		p.watchCapacity()
	}
	return p
}

// Name returns the pool's name.
func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) watchCapacity() {
	p.capacityWait = p.sim.ScheduleUntil(p.name+".CapacityChanged",
		func() bool { return p.CapacityNow() != p.lastCapacity },
		func() {
			capacity := p.CapacityNow()
			grew := capacity > p.lastCapacity
			p.lastCapacity = capacity
			if grew {
				p.NotifyWaitingUsers()
			}
			p.watchCapacity()
		})
}

// CapacityNow samples the capacity at the current time. A negative or
// non-finite capacity is a model error.
func (p *Pool) CapacityNow() int {
	c := sim.Draw(p.Capacity, p.sim.Seconds(), p.name, "capacity")
	if c < 0 || c > math.MaxInt32 {
		sim.Abort(p.name, "invalid capacity %v", c)
	}
	return int(c)
}

// UnitsInUse returns the units currently seized.
func (p *Pool) UnitsInUse() int {
	return p.inUse
}

// AvailableUnits returns the units that can still be seized now.
func (p *Pool) AvailableUnits() int {
	return max(0, p.CapacityNow()-p.inUse)
}

// AddUser registers a station that waits on this pool.
func (p *Pool) AddUser(u User) {
	p.users = append(p.users, u)
}

// Users returns every registered user in registration order.
func (p *Pool) Users() []User {
	return p.users
}

// CanSeize reports whether n more units fit in the current capacity.
func (p *Pool) CanSeize(n int, _ *sim.Entity) bool {
	return p.inUse+n <= p.CapacityNow()
}

// Seize takes n units for an entity. Seizing beyond capacity is a logic error:
// callers must check CanSeize in the same event.
func (p *Pool) Seize(n int, e *sim.Entity) {
	if n < 0 {
		sim.Abort(p.name, "negative seize of %d units", n)
	}
	if !p.CanSeize(n, e) {
		sim.Abort(p.name, "seize of %d units by %v exceeds capacity (%d in use, capacity %d)", n, e, p.inUse, p.CapacityNow())
	}
	p.inUse += n
	p.seized += int64(n)
	p.unitsInUse.Update(p.sim.Seconds(), float64(p.inUse))
	logrus.Debugf("[tick %07d] %s: %v seized %d (in use %d)", p.sim.Now(), p.name, e, n, p.inUse)
}

// Release returns n units and wakes waiting users. Releasing more than is in
// use is clamped to the units in use and logged; this leniency can hide a
// double release in the model.
func (p *Pool) Release(n int, e *sim.Entity) {
	if n < 0 {
		sim.Abort(p.name, "negative release of %d units", n)
	}
	if n > p.inUse {
		logrus.Warnf("[tick %07d] %s: release of %d units by %v clamped to %d in use", p.sim.Now(), p.name, n, e, p.inUse)
		n = p.inUse
	}
	p.inUse -= n
	p.released += int64(n)
	p.unitsInUse.Update(p.sim.Seconds(), float64(p.inUse))
	logrus.Debugf("[tick %07d] %s: %v released %d (in use %d)", p.sim.Now(), p.name, e, n, p.inUse)
	p.NotifyWaitingUsers()
}

// RankedUsers returns the users with a waiting entity ordered by head
// priority (ascending) then head waiting time (descending); ties keep
// registration order.
func (p *Pool) RankedUsers() []User {
	waiting := make([]User, 0, len(p.users))
	for _, u := range p.users {
		if u.HasWaitingEntity() {
			waiting = append(waiting, u)
		}
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		pi, pj := waiting[i].HeadPriority(), waiting[j].HeadPriority()
		if pi != pj {
			return pi < pj
		}
		return waiting[i].HeadWaitTime() > waiting[j].HeadWaitTime()
	})
	return waiting
}

// IsFirstInLine reports whether u is the highest-ranked waiting user.
func (p *Pool) IsFirstInLine(u User) bool {
	ranked := p.RankedUsers()
	return len(ranked) > 0 && ranked[0] == u
}

// NotifyWaitingUsers hands available units to waiting users in rank order.
// In strict mode only the top-ranked user is considered: if it cannot
// proceed nobody else may, even when the units would suffice for them.
func (p *Pool) NotifyWaitingUsers() {
	users := p.RankedUsers()
	for len(users) > 0 {
		idx := -1
		for i, u := range users {
			if u.IsReadyToSeize() {
				idx = i
				break
			}
			if p.StrictOrder {
				break
			}
		}
		if idx < 0 {
			return
		}
		chosen := users[idx]
		if !chosen.SeizeNext() {
			users = append(users[:idx], users[idx+1:]...)
			continue
		}
		logrus.Debugf("[tick %07d] %s: woke %s", p.sim.Now(), p.name, chosen.Name())
		users = p.RankedUsers()
	}
}

// UnitsInUseStats returns the time-weighted units-in-use statistic, including
// the occupancy histogram.
func (p *Pool) UnitsInUseStats() *sim.TimeWeightedStat {
	return p.unitsInUse
}

// UnitsSeized returns the total units seized since statistics were cleared.
func (p *Pool) UnitsSeized() int64 {
	return p.seized
}

// UnitsReleased returns the total units released since statistics were cleared.
func (p *Pool) UnitsReleased() int64 {
	return p.released
}

// ClearStatistics implements sim.StatsClearer.
func (p *Pool) ClearStatistics(now float64) {
	p.unitsInUse.Reset(now)
	p.seized = 0
	p.released = 0
}
