// Package queue implements the wait queue placed in front of stations: an
// ordered EntityStore with reneging, length statistics and notification of
// the stations that consume from it.
package queue

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/flowsim/sim"
	"github.com/inference-sim/flowsim/sim/store"
)

// Consumer is a station that removes entities from a queue. QueueChanged is
// invoked from a zero-delay event after entities were added.
type Consumer interface {
	QueueChanged()
}

// Queue holds entities waiting to be removed by its consumers.
type Queue struct {
	name  string
	sim   *sim.Simulator
	store *store.EntityStore
	seq   int64 // monotonic, never reused

	byEntity map[*sim.Entity]*store.StorageEntry
	reneges  map[*store.StorageEntry]*sim.Event

	// Classifier computes the match value of an arriving entity (nil = unclassified).
	Classifier func(e *sim.Entity) string
	// Priority is sampled for each arriving entity (nil = 0). Lower values are served first.
	Priority sim.SampleProvider
	// LIFO serves the latest arrival first among equal priorities.
	LIFO bool

	// RenegeTime is the patience of each arriving entity (nil = no reneging).
	RenegeTime sim.SampleProvider
	// RenegeCondition is evaluated when the patience expires (nil = always renege).
	RenegeCondition func(entry *store.StorageEntry) bool
	// RenegeDestination receives reneging entities.
	RenegeDestination sim.Linkable

	consumers   []Consumer
	notifyEvent *sim.Event

	length      *sim.TimeWeightedStat
	queueTimes  sim.SampleStat
	counters    sim.ThroughputCounters
	reneged     int64
	initReneged int64
}

// NewQueue creates an empty FIFO queue and registers its statistics with the
// simulator.
func NewQueue(name string, s *sim.Simulator) *Queue {
	q := &Queue{
		name:     name,
		sim:      s,
		store:    store.NewEntityStore(),
		byEntity: make(map[*sim.Entity]*store.StorageEntry),
		reneges:  make(map[*store.StorageEntry]*sim.Event),
		length:   sim.NewTimeWeightedStat(s.Seconds(), false),
	}
	s.RegisterStats(q)
	return q
}

// Name returns the queue's name.
func (q *Queue) Name() string {
	return q.name
}

// AddConsumer registers a station to be notified when entities arrive.
func (q *Queue) AddConsumer(c Consumer) {
	q.consumers = append(q.consumers, c)
}

// Consumers returns the registered consumers in registration order.
func (q *Queue) Consumers() []Consumer {
	return q.consumers
}

// AddEntity receives an entity from an upstream station, deriving its
// classifier and priority from the queue's configuration.
func (q *Queue) AddEntity(e *sim.Entity) {
	classifier := ""
	if q.Classifier != nil {
		classifier = q.Classifier(e)
	}
	priority := 0
	if q.Priority != nil {
		priority = sim.DrawInt(q.Priority, q.sim.Seconds(), q.name, "priority")
	}
	q.Add(e, classifier, priority, !q.LIFO)
}

// Add inserts an entity with an explicit classifier, priority and discipline.
// Adding an entity already in the queue is a model error.
func (q *Queue) Add(e *sim.Entity, classifier string, priority int, fifo bool) *store.StorageEntry {
	if _, ok := q.byEntity[e]; ok {
		sim.Abort(q.name, "entity %s is already in the queue", e)
	}
	now := q.sim.Seconds()
	q.seq++
	seq := q.seq
	if !fifo {
		seq = -seq
	}
	entry := &store.StorageEntry{
		Entity:      e,
		Classifier:  classifier,
		Priority:    priority,
		Sequence:    seq,
		ArrivalTime: now,
	}
	q.store.Add(entry)
	q.byEntity[e] = entry
	q.counters.AddReceived(1)
	q.length.Update(now, float64(q.store.Size("")))
	logrus.Debugf("[tick %07d] %s: added %s (class=%q, pri=%d)", q.sim.Now(), q.name, e, classifier, priority)

	if q.RenegeTime != nil {
		patience := sim.Draw(q.RenegeTime, now, q.name, "renege time")
		ticks := q.sim.SecondsToTicks(patience)
		if ticks < 0 {
			sim.Abort(q.name, "negative renege time %v", patience)
		}
		q.reneges[entry] = q.sim.Schedule(ticks, sim.PriorityRenege, true, q.name+".Renege", func() {
			q.renege(entry)
		})
	}
	q.scheduleNotify()
	return entry
}

// scheduleNotify coalesces every insertion within a tick into one
// QueueChanged pass over the consumers.
func (q *Queue) scheduleNotify() {
	if len(q.consumers) == 0 || q.notifyEvent.IsScheduled() {
		return
	}
	q.notifyEvent = q.sim.Schedule(0, sim.PriorityQueueNotify, true, q.name+".Notify", func() {
		for _, c := range q.consumers {
			c.QueueChanged()
		}
	})
}

func (q *Queue) renege(entry *store.StorageEntry) {
	delete(q.reneges, entry)
	if !q.store.Contains(entry) {
		logrus.Debugf("[tick %07d] %s: renege for %s skipped, already removed", q.sim.Now(), q.name, entry.Entity)
		return
	}
	if q.RenegeCondition != nil && !q.RenegeCondition(entry) {
		return
	}
	if q.RenegeDestination == nil {
		sim.Abort(q.name, "entity %s reneged but no renege destination is set", entry.Entity)
	}
	q.removeEntry(entry)
	q.reneged++
	logrus.Debugf("[tick %07d] %s: %s reneged to %s", q.sim.Now(), q.name, entry.Entity, q.RenegeDestination.Name())
	q.RenegeDestination.AddEntity(entry.Entity)
}

func (q *Queue) removeEntry(entry *store.StorageEntry) {
	if !q.store.Remove(entry) {
		panic(fmt.Sprintf("%s: removeEntry: entry for %s not stored", q.name, entry.Entity))
	}
	delete(q.byEntity, entry.Entity)
	if ev, ok := q.reneges[entry]; ok {
		q.sim.Cancel(ev)
		delete(q.reneges, entry)
	}
	now := q.sim.Seconds()
	q.counters.AddProcessed(1)
	q.queueTimes.Add(now - entry.ArrivalTime)
	q.length.Update(now, float64(q.store.Size("")))
}

// RemoveFirst removes and returns the highest-ranked entity with the given
// classifier ("" = any), or nil.
func (q *Queue) RemoveFirst(classifier string) *sim.Entity {
	entry := q.store.First(classifier)
	if entry == nil {
		return nil
	}
	q.removeEntry(entry)
	return entry.Entity
}

// RemoveFirstMatching removes the highest-ranked entity with the given
// classifier ("" = any) that satisfies pred (nil = any) and is not exclude.
func (q *Queue) RemoveFirstMatching(classifier string, pred func(*sim.Entity) bool, exclude *sim.Entity) *sim.Entity {
	var found *store.StorageEntry
	q.store.Each(classifier, func(entry *store.StorageEntry) bool {
		if entry.Entity == exclude {
			return true
		}
		if pred != nil && !pred(entry.Entity) {
			return true
		}
		found = entry
		return false
	})
	if found == nil {
		return nil
	}
	q.removeEntry(found)
	return found.Entity
}

// Remove takes a specific entity out of the queue. Returns false if it is
// not queued.
func (q *Queue) Remove(e *sim.Entity) bool {
	entry, ok := q.byEntity[e]
	if !ok {
		return false
	}
	q.removeEntry(entry)
	return true
}

// Contains reports whether the entity is queued.
func (q *Queue) Contains(e *sim.Entity) bool {
	_, ok := q.byEntity[e]
	return ok
}

// First returns the head entry for the classifier ("" = any) without removing it.
func (q *Queue) First(classifier string) *store.StorageEntry {
	return q.store.First(classifier)
}

// Size returns the number of queued entities with the classifier ("" = all).
func (q *Queue) Size(classifier string) int {
	return q.store.Size(classifier)
}

// IsEmpty reports whether no entity with the classifier ("" = any) is queued.
func (q *Queue) IsEmpty(classifier string) bool {
	return q.store.IsEmpty(classifier)
}

// Entries returns a snapshot of the queued entries in service order.
func (q *Queue) Entries(classifier string) []*store.StorageEntry {
	return q.store.Entries(classifier)
}

// Classifiers returns every classifier currently queued.
func (q *Queue) Classifiers() []string {
	return q.store.Classifiers()
}

// ClassifierWithMaxCount returns the most populous classifier.
func (q *Queue) ClassifierWithMaxCount() (string, bool) {
	return q.store.ClassifierWithMaxCount()
}

// HeadPriority returns the priority of the head entry for the classifier.
func (q *Queue) HeadPriority(classifier string) (int, bool) {
	entry := q.store.First(classifier)
	if entry == nil {
		return 0, false
	}
	return entry.Priority, true
}

// HeadWaitTime returns how long the head entry for the classifier has been
// waiting, 0 when there is none.
func (q *Queue) HeadWaitTime(classifier string) float64 {
	entry := q.store.First(classifier)
	if entry == nil {
		return 0
	}
	return q.sim.Seconds() - entry.ArrivalTime
}

// NumberReneged returns the entities that reneged since statistics were cleared.
func (q *Queue) NumberReneged() int64 {
	return q.reneged
}

// Counters returns the added/removed counts.
func (q *Queue) Counters() sim.ThroughputCounters {
	return q.counters
}

// LengthStats returns the time-weighted queue length statistic.
func (q *Queue) LengthStats() *sim.TimeWeightedStat {
	return q.length
}

// QueueTimes returns the waiting times of removed entities.
func (q *Queue) QueueTimes() *sim.SampleStat {
	return &q.queueTimes
}

// ClearStatistics implements sim.StatsClearer.
func (q *Queue) ClearStatistics(now float64) {
	q.length.Reset(now)
	q.queueTimes.Reset()
	q.counters.ClearStatistics(now)
	q.initReneged += q.reneged
	q.reneged = 0
}

func (q *Queue) String() string {
	var sb strings.Builder
	sb.WriteString(q.name)
	sb.WriteString("[")
	for i, entry := range q.store.Entries("") {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(entry.Entity.String())
	}
	sb.WriteString("]")
	return sb.String()
}
