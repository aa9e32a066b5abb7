package broadcast

import (
	"errors"
	"sync"

	"github.com/pjsph/slam/internal/models"
)

var ErrHubStopped = errors.New("broadcast hub stopped")

// Mailbox is a bounded outgoing frame queue with an optional player filter.
// Connections without an identified player receive every match; identified
// ones only receive matches containing one of their players.
type Mailbox struct {
	id   string
	send chan []byte

	mu      sync.RWMutex
	players map[models.PlayerID]struct{}
}

func NewMailbox(id string, backlog int) *Mailbox {
	if backlog <= 0 {
		backlog = 256
	}
	return &Mailbox{
		id:      id,
		send:    make(chan []byte, backlog),
		players: make(map[models.PlayerID]struct{}),
	}
}

func (m *Mailbox) ID() string {
	return m.id
}

// Identify adds a player to the filter.
func (m *Mailbox) Identify(id models.PlayerID) {
	m.mu.Lock()
	m.players[id] = struct{}{}
	m.mu.Unlock()
}

// Players returns the number of identified players.
func (m *Mailbox) Players() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

func (m *Mailbox) Accepts(match *models.Match) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.players) == 0 {
		return true
	}
	for _, g := range match.Groups {
		for _, p := range g.Players {
			if _, ok := m.players[p]; ok {
				return true
			}
		}
	}
	return false
}

func (m *Mailbox) Deliver(frame []byte) bool {
	select {
	case m.send <- frame:
		return true
	default:
		return false
	}
}

// Frames is drained by the connection's writer.
func (m *Mailbox) Frames() <-chan []byte {
	return m.send
}
