package sim

import (
	"fmt"

	"github.com/google/uuid"
)

// Entity is the token moved between stations. Stations only hold and reorder
// entities; creation and disposal happen at generators, assemblers and sinks.
type Entity struct {
	ID        uuid.UUID
	Name      string
	CreatedAt float64 // Simulation time of creation (in seconds)
	// Contents holds entities packed inside this one (Pack, Assemble).
	Contents []*Entity
	// Attributes carries caller-defined values such as a match classifier.
	Attributes map[string]string

	disposed bool
}

// NewEntity creates a token and counts it in the simulator's metrics.
func (sim *Simulator) NewEntity(name string) *Entity {
	sim.Metrics.EntitiesCreated++
	return &Entity{
		ID:         uuid.New(),
		Name:       name,
		CreatedAt:  sim.Seconds(),
		Attributes: make(map[string]string),
	}
}

// Dispose marks a token as destroyed. Disposing twice is a model error.
func (sim *Simulator) Dispose(e *Entity) {
	if e.disposed {
		Abort(e.Name, "entity %s disposed twice", e.ID)
	}
	e.disposed = true
	sim.Metrics.EntitiesDisposed++
}

// Disposed reports whether Dispose was called for the entity.
func (e *Entity) Disposed() bool {
	return e.disposed
}

func (e *Entity) String() string {
	return fmt.Sprintf("%s(%s)", e.Name, e.ID.String()[:8])
}

// Linkable is a station that can receive entities from an upstream station.
type Linkable interface {
	Name() string
	AddEntity(e *Entity)
}

// LinkableFunc adapts a function to Linkable; used for ad-hoc destinations.
type LinkableFunc struct {
	Label string
	Fn    func(e *Entity)
}

func (l LinkableFunc) Name() string { return l.Label }

func (l LinkableFunc) AddEntity(e *Entity) { l.Fn(e) }
