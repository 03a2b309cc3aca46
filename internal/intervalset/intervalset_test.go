package intervalset

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsertMergeDisjoint(t *testing.T) {
	s := New()
	s.InsertMerge("2020-01-01 00:00Z", "2020-01-02 00:00Z")
	s.InsertMerge("2020-02-01 00:00Z", "2020-02-02 00:00Z")

	got := s.Snapshot()
	assert.Len(t, got, 2)
}

func TestInsertMergeOverlapping(t *testing.T) {
	s := New()
	s.InsertMerge("2020-01-01 00:00Z", "2020-01-10 00:00Z")
	s.InsertMerge("2020-01-05 00:00Z", "2020-01-15 00:00Z")

	got := s.Snapshot()
	assert.Equal(t, []Interval{{Start: "2020-01-01 00:00Z", End: "2020-01-15 00:00Z"}}, got)
}

func TestInsertMergeTouching(t *testing.T) {
	s := New()
	s.InsertMerge("2020-01-01 00:00Z", "2020-01-05 00:00Z")
	s.InsertMerge("2020-01-05 00:00Z", "2020-01-10 00:00Z")

	got := s.Snapshot()
	assert.Equal(t, []Interval{{Start: "2020-01-01 00:00Z", End: "2020-01-10 00:00Z"}}, got)
}

func TestInsertMergeBridgesTwoExisting(t *testing.T) {
	s := New()
	s.InsertMerge("2020-01-01 00:00Z", "2020-01-02 00:00Z")
	s.InsertMerge("2020-01-10 00:00Z", "2020-01-11 00:00Z")
	s.InsertMerge("2020-01-02 00:00Z", "2020-01-10 00:00Z")

	got := s.Snapshot()
	assert.Equal(t, []Interval{{Start: "2020-01-01 00:00Z", End: "2020-01-11 00:00Z"}}, got)
}

func TestCovers(t *testing.T) {
	s := New()
	s.InsertMerge("2020-01-01 00:00Z", "2020-01-10 00:00Z")

	assert.True(t, s.Covers("2020-01-02 00:00Z", "2020-01-05 00:00Z"))
	assert.False(t, s.Covers("2020-01-09 00:00Z", "2020-01-15 00:00Z"))
}

func TestDifferenceFullyUncovered(t *testing.T) {
	s := New()
	gaps := s.Difference("2020-01-01 00:00Z", "2020-01-02 00:00Z")
	assert.Equal(t, []Interval{{Start: "2020-01-01 00:00Z", End: "2020-01-02 00:00Z"}}, gaps)
}

func TestDifferenceFullyCovered(t *testing.T) {
	s := New()
	s.InsertMerge("2020-01-01 00:00Z", "2020-01-10 00:00Z")
	gaps := s.Difference("2020-01-02 00:00Z", "2020-01-05 00:00Z")
	assert.Empty(t, gaps)
}

func TestDifferencePartialWithGapsOnBothSides(t *testing.T) {
	s := New()
	s.InsertMerge("2020-01-03 00:00Z", "2020-01-06 00:00Z")
	gaps := s.Difference("2020-01-01 00:00Z", "2020-01-10 00:00Z")
	assert.Equal(t, []Interval{
		{Start: "2020-01-01 00:00Z", End: "2020-01-03 00:00Z"},
		{Start: "2020-01-06 00:00Z", End: "2020-01-10 00:00Z"},
	}, gaps)
}

func TestDifferenceDegenerateRange(t *testing.T) {
	s := New()
	assert.Nil(t, s.Difference("2020-01-01 00:00Z", "2020-01-01 00:00Z"))
}

func TestConcurrentInsertMergeAndSnapshot(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			day := string(rune('A' + i%20))
			s.InsertMerge("2020-01-01 00:00Z"+day, "2020-01-02 00:00Z"+day)
		}(i)
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
		}()
	}
	wg.Wait()
}
