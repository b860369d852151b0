package store

import (
	"cmp"

	"github.com/inference-sim/flowsim/sim"
)

// StorageEntry is one entity held by an EntityStore.
// Entries order by (Priority ascending, Sequence ascending); FIFO entries get
// positive sequence numbers and LIFO entries negative ones, so one comparator
// serves both disciplines.
type StorageEntry struct {
	Entity      *sim.Entity
	Classifier  string  // match value; "" when the entity is unclassified
	Priority    int     // lower value = served first
	Sequence    int64   // unique per store, negated for LIFO
	ArrivalTime float64 // simulation time of insertion (in seconds)
}

func compareEntries(a, b *StorageEntry) int {
	if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
		return c
	}
	return cmp.Compare(a.Sequence, b.Sequence)
}

// EntityStore is the ordered entity storage shared by queues and stations.
// Classifier queries treat "" as "the whole store".
type EntityStore struct {
	set *OrderedMultiSet[string, *StorageEntry]

	// classifier with the most members; only valid while maxValid is true
	maxClassifier string
	maxValid      bool
}

// NewEntityStore returns an empty store.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		set: NewOrderedMultiSet(func(e *StorageEntry) string { return e.Classifier }, compareEntries),
	}
}

// Add inserts an entry. Returns false if the entry is already stored.
func (s *EntityStore) Add(e *StorageEntry) bool {
	if !s.set.Add(e) {
		return false
	}
	if s.maxValid && e.Classifier != "" && e.Classifier != s.maxClassifier {
		n := s.set.Size(e.Classifier, false)
		best := 0
		if s.maxClassifier != "" {
			best = s.set.Size(s.maxClassifier, false)
		}
		if n > best || (n == best && e.Classifier < s.maxClassifier) {
			s.maxClassifier = e.Classifier
		}
	}
	return true
}

// Remove deletes an entry. Returns false if it was not stored.
func (s *EntityStore) Remove(e *StorageEntry) bool {
	if !s.set.Remove(e) {
		return false
	}
	if s.maxValid && e.Classifier != "" && e.Classifier == s.maxClassifier {
		s.maxValid = false
	}
	return true
}

// Contains reports whether the entry is stored.
func (s *EntityStore) Contains(e *StorageEntry) bool {
	return s.set.Contains(e)
}

// First returns the highest-ranked entry with the given classifier
// ("" = any), or nil.
func (s *EntityStore) First(classifier string) *StorageEntry {
	e, ok := s.set.First(classifier, classifier == "")
	if !ok {
		return nil
	}
	return e
}

// Size returns the number of entries with the given classifier ("" = all).
func (s *EntityStore) Size(classifier string) int {
	return s.set.Size(classifier, classifier == "")
}

// IsEmpty reports whether no entry has the given classifier ("" = any).
func (s *EntityStore) IsEmpty(classifier string) bool {
	return s.Size(classifier) == 0
}

// Each visits entries with the given classifier ("" = all) in order until
// fn returns false.
func (s *EntityStore) Each(classifier string, fn func(*StorageEntry) bool) {
	s.set.Each(classifier, classifier == "", fn)
}

// Entries returns a snapshot of the entries with the given classifier in order.
func (s *EntityStore) Entries(classifier string) []*StorageEntry {
	out := make([]*StorageEntry, 0, s.Size(classifier))
	s.Each(classifier, func(e *StorageEntry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Classifiers returns every classifier currently present.
func (s *EntityStore) Classifiers() []string {
	return s.set.Keys()
}

// ClassifierWithMaxCount returns the classifier with the most members.
// Unclassified entries are not counted; false when no entry is classified.
// Ties go to the lexicographically smallest classifier. The answer is cached
// and only recomputed by a full scan after the cached classifier lost a member.
func (s *EntityStore) ClassifierWithMaxCount() (string, bool) {
	if !s.maxValid {
		best, bestN := "", 0
		for _, k := range s.set.Keys() {
			if k == "" {
				continue
			}
			n := s.set.Size(k, false)
			if n > bestN || (n == bestN && k < best) {
				best, bestN = k, n
			}
		}
		s.maxClassifier, s.maxValid = best, true
	}
	return s.maxClassifier, s.maxClassifier != ""
}
