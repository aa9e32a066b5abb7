package models

import (
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Group is one team of a match with the summed rating of its members.
type Group struct {
	Players     []PlayerID `json:"players"`
	TotalRating Rating     `json:"totalRating"`
}

func (g Group) Size() int {
	return len(g.Players)
}

// Average returns the mean member rating, 0 for an empty group.
func (g Group) Average() float64 {
	if len(g.Players) == 0 {
		return 0
	}
	return float64(g.TotalRating) / float64(len(g.Players))
}

func (g Group) Contains(id PlayerID) bool {
	for _, p := range g.Players {
		if p == id {
			return true
		}
	}
	return false
}

// Match is a set of disjoint groups formed in one poll.
type Match struct {
	Groups    []Group   `json:"groups"`
	CreatedAt time.Time `json:"createdAt"`
}

// ID is the content-derived identifier of the match: a 64-bit xxhash over the
// payload bytes of its groups. It is a correlation key, not a commitment.
func (m *Match) ID() uint64 {
	return xxhash.Sum64(m.AppendPayload(nil))
}

// AppendPayload appends the canonical big-endian layout of the groups:
// per group `u32 count`, `count x u64` player ids, `u64` total rating.
func (m *Match) AppendPayload(dst []byte) []byte {
	for _, g := range m.Groups {
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(g.Players)))
		for _, p := range g.Players {
			dst = binary.BigEndian.AppendUint64(dst, uint64(p))
		}
		dst = binary.BigEndian.AppendUint64(dst, uint64(g.TotalRating))
	}
	return dst
}

// PayloadSize is the number of bytes AppendPayload writes.
func (m *Match) PayloadSize() int {
	n := 0
	for _, g := range m.Groups {
		n += GroupPayloadSize(len(g.Players))
	}
	return n
}

// GroupPayloadSize is the encoded size of a group of n players.
func GroupPayloadSize(n int) int {
	return 4 + 8*n + 8
}

// Contains reports whether id plays in any group.
func (m *Match) Contains(id PlayerID) bool {
	for _, g := range m.Groups {
		if g.Contains(id) {
			return true
		}
	}
	return false
}

// Players returns every member of every group in group order.
func (m *Match) Players() []PlayerID {
	var out []PlayerID
	for _, g := range m.Groups {
		out = append(out, g.Players...)
	}
	return out
}

// QueueStats is a point-in-time view of the matchmaking state.
type QueueStats struct {
	Queued        int `json:"queued"`
	Players       int `json:"players"`
	StoredMatches int `json:"storedMatches"`
	MatchesTotal  int `json:"matchesTotal"`
}
