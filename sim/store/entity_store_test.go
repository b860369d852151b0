package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/flowsim/sim"
)

func entry(name, classifier string, priority int, seq int64) *StorageEntry {
	return &StorageEntry{
		Entity:     &sim.Entity{Name: name},
		Classifier: classifier,
		Priority:   priority,
		Sequence:   seq,
	}
}

func TestEntityStore_OrdersByPriorityThenSequence(t *testing.T) {
	s := NewEntityStore()
	e0 := entry("e0", "", 2, 1)
	e1 := entry("e1", "", 1, 2)
	e2 := entry("e2", "", 2, 3)
	e3 := entry("e3", "", 1, 4)
	for _, e := range []*StorageEntry{e0, e1, e2, e3} {
		require.True(t, s.Add(e))
	}

	var got []string
	for !s.IsEmpty("") {
		first := s.First("")
		got = append(got, first.Entity.Name)
		require.True(t, s.Remove(first))
	}
	assert.Equal(t, []string{"e1", "e3", "e0", "e2"}, got)
}

func TestEntityStore_NegativeSequenceGivesLIFO(t *testing.T) {
	s := NewEntityStore()
	for i := int64(1); i <= 3; i++ {
		s.Add(entry("e", "", 0, -i))
	}
	assert.Equal(t, int64(-3), s.First("").Sequence)
}

func TestEntityStore_ClassifierQueries(t *testing.T) {
	s := NewEntityStore()
	a1 := entry("a1", "A", 0, 1)
	b1 := entry("b1", "B", 0, 2)
	a2 := entry("a2", "A", 0, 3)
	s.Add(a1)
	s.Add(b1)
	s.Add(a2)

	assert.Same(t, b1, s.First("B"))
	assert.Equal(t, 2, s.Size("A"))
	assert.Equal(t, 3, s.Size(""))
	assert.True(t, s.IsEmpty("C"))
	assert.Nil(t, s.First("C"))
	assert.ElementsMatch(t, []string{"A", "B"}, s.Classifiers())
	assert.Equal(t, []*StorageEntry{a1, a2}, s.Entries("A"))
}

func TestEntityStore_ClassifierWithMaxCount(t *testing.T) {
	s := NewEntityStore()
	_, ok := s.ClassifierWithMaxCount()
	assert.False(t, ok)

	a1 := entry("a1", "A", 0, 1)
	b1 := entry("b1", "B", 0, 2)
	b2 := entry("b2", "B", 0, 3)
	s.Add(a1)
	s.Add(b1)
	s.Add(b2)

	got, ok := s.ClassifierWithMaxCount()
	require.True(t, ok)
	assert.Equal(t, "B", got)

	// Removing a member of the cached classifier forces a rescan; the tie
	// goes to the smaller classifier.
	s.Remove(b2)
	got, _ = s.ClassifierWithMaxCount()
	assert.Equal(t, "A", got)

	// Incremental update without a rescan.
	s.Add(entry("b3", "B", 0, 4))
	got, _ = s.ClassifierWithMaxCount()
	assert.Equal(t, "B", got)
}

func TestEntityStore_ClassifierWithMaxCountSkipsUnclassified(t *testing.T) {
	s := NewEntityStore()
	s.Add(entry("u1", "", 0, 1))
	s.Add(entry("u2", "", 0, 2))

	_, ok := s.ClassifierWithMaxCount()
	assert.False(t, ok, "only unclassified entries")

	s.Add(entry("a1", "A", 0, 3))
	got, ok := s.ClassifierWithMaxCount()
	require.True(t, ok)
	assert.Equal(t, "A", got, "two unclassified entries do not outnumber A")
}

func TestEntityStore_RemoveUnknownEntry(t *testing.T) {
	s := NewEntityStore()
	assert.False(t, s.Remove(entry("x", "", 0, 1)))
}
