package repository

import (
	"sort"

	"github.com/pjsph/slam/internal/models"
)

type queueEntry struct {
	id  models.PlayerID
	seq uint64
}

// QueueRepository holds the players waiting for a match. A player id may be
// queued more than once; every occurrence is matched independently.
//
// Removal compacts by swapping the last live entry into the freed slot, so
// removing several indices must go from the highest index to the lowest.
// Storage order therefore drifts from arrival order; every entry keeps the
// sequence number it was enqueued with so Oldest can still find the longest
// waiting entries.
type QueueRepository struct {
	entries []queueEntry
	next    uint64
}

func NewQueueRepository() *QueueRepository {
	return &QueueRepository{}
}

func (q *QueueRepository) Enqueue(id models.PlayerID) {
	q.entries = append(q.entries, queueEntry{id: id, seq: q.next})
	q.next++
}

func (q *QueueRepository) Len() int {
	return len(q.entries)
}

// At returns the entry at storage index i.
func (q *QueueRepository) At(i int) models.PlayerID {
	return q.entries[i].id
}

// Oldest returns the storage indices of the n entries that have waited
// longest, oldest first. n <= 0 or n beyond the length selects every entry.
func (q *QueueRepository) Oldest(n int) []int {
	idx := make([]int, len(q.entries))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return q.entries[idx[a]].seq < q.entries[idx[b]].seq })
	if n > 0 && n < len(idx) {
		idx = idx[:n]
	}
	return idx
}

// Snapshot returns a copy of the whole queue in storage order.
func (q *QueueRepository) Snapshot() []models.PlayerID {
	out := make([]models.PlayerID, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.id
	}
	return out
}

// RemoveIndices removes the entries at the given indices and returns them in
// the order they were removed. Indices are deduplicated, out-of-range indices
// are ignored, and processing runs from the highest index down.
func (q *QueueRepository) RemoveIndices(indices []int) []models.PlayerID {
	sorted := make([]int, 0, len(indices))
	seen := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(q.entries) {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		sorted = append(sorted, i)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	removed := make([]models.PlayerID, 0, len(sorted))
	for _, i := range sorted {
		removed = append(removed, q.swapRemove(i))
	}
	return removed
}

func (q *QueueRepository) swapRemove(i int) models.PlayerID {
	last := len(q.entries) - 1
	id := q.entries[i].id
	q.entries[i] = q.entries[last]
	q.entries = q.entries[:last]
	return id
}
