package repository

import (
	"sort"
	"testing"

	"github.com/pjsph/slam/internal/models"
	"github.com/stretchr/testify/assert"
)

func filledQueue(n int) *QueueRepository {
	q := NewQueueRepository()
	for i := 0; i < n; i++ {
		q.Enqueue(models.PlayerID(100 + i))
	}
	return q
}

func sortedIDs(ids []models.PlayerID) []models.PlayerID {
	out := append([]models.PlayerID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestQueueRepository_RemoveIndices(t *testing.T) {
	q := filledQueue(10)
	removed := q.RemoveIndices([]int{2, 5, 7})

	assert.Equal(t, []models.PlayerID{107, 105, 102}, removed)
	assert.Equal(t, 7, q.Len())

	// same final set as removing the three logical players by value
	var want []models.PlayerID
	for i := 0; i < 10; i++ {
		if i == 2 || i == 5 || i == 7 {
			continue
		}
		want = append(want, models.PlayerID(100+i))
	}
	assert.Equal(t, want, sortedIDs(q.Snapshot()))
}

func TestQueueRepository_RemoveIndicesOrderInsensitive(t *testing.T) {
	a := filledQueue(10)
	b := filledQueue(10)
	a.RemoveIndices([]int{2, 5, 7})
	b.RemoveIndices([]int{7, 2, 5})
	assert.Equal(t, a.Snapshot(), b.Snapshot())
}

func TestQueueRepository_RemoveIndicesEdges(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		indices []int
		wantLen int
	}{
		{"empty set", 4, nil, 4},
		{"duplicates", 4, []int{1, 1, 1}, 3},
		{"out of range", 4, []int{-1, 4, 9}, 4},
		{"last element", 4, []int{3}, 3},
		{"everything", 4, []int{0, 1, 2, 3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := filledQueue(tt.size)
			q.RemoveIndices(tt.indices)
			assert.Equal(t, tt.wantLen, q.Len())
		})
	}
}

func TestQueueRepository_Duplicates(t *testing.T) {
	q := NewQueueRepository()
	q.Enqueue(1)
	q.Enqueue(1)
	assert.Equal(t, 2, q.Len())

	q.RemoveIndices([]int{0})
	assert.Equal(t, []models.PlayerID{1}, q.Snapshot())
}

func idsAt(q *QueueRepository, indices []int) []models.PlayerID {
	out := make([]models.PlayerID, len(indices))
	for k, i := range indices {
		out[k] = q.At(i)
	}
	return out
}

func TestQueueRepository_Oldest(t *testing.T) {
	q := filledQueue(5)
	assert.Equal(t, []int{0, 1, 2}, q.Oldest(3))
	assert.Len(t, q.Oldest(0), 5)
	assert.Len(t, q.Oldest(50), 5)
	assert.Empty(t, NewQueueRepository().Oldest(4))
}

func TestQueueRepository_OldestAfterSwapRemove(t *testing.T) {
	q := filledQueue(10)

	// slot 1 takes 109, then slot 0 takes 108
	q.RemoveIndices([]int{0, 1})
	assert.Equal(t, models.PlayerID(108), q.At(0))
	assert.Equal(t, models.PlayerID(109), q.At(1))

	assert.Equal(t, []models.PlayerID{102, 103, 104, 105}, idsAt(q, q.Oldest(4)))

	// later arrivals stay behind everything already waiting
	q.Enqueue(1)
	assert.Equal(t, []models.PlayerID{102, 103, 104, 105, 106, 107, 108, 109, 1},
		idsAt(q, q.Oldest(0)))
}
