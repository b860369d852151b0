package resource

import "github.com/inference-sim/flowsim/sim"

// Request asks for a number of units from one pool.
type Request struct {
	Pool  *Pool
	Units int
}

// CanSeizeAll reports whether every request can be satisfied at once. For a
// strict-order pool the user must also be first in line.
func CanSeizeAll(u User, reqs []Request, e *sim.Entity) bool {
	for _, r := range reqs {
		if !r.Pool.CanSeize(r.Units, e) {
			return false
		}
		if r.Pool.StrictOrder && u != nil && !r.Pool.IsFirstInLine(u) {
			return false
		}
	}
	return true
}

// SeizeAll seizes every request or none of them. Returns false, with no pool
// mutated, when any request cannot be satisfied.
func SeizeAll(u User, reqs []Request, e *sim.Entity) bool {
	if !CanSeizeAll(u, reqs, e) {
		return false
	}
	for _, r := range reqs {
		r.Pool.Seize(r.Units, e)
	}
	return true
}

// ReleaseAll releases every request in order.
func ReleaseAll(reqs []Request, e *sim.Entity) {
	for _, r := range reqs {
		r.Pool.Release(r.Units, e)
	}
}
