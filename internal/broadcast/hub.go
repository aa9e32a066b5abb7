// Package broadcast fans formed matches out to connected subscribers.
package broadcast

import (
	"context"

	"github.com/pjsph/slam/internal/models"
	"github.com/pjsph/slam/internal/protocol"
	"github.com/pjsph/slam/pkg/metrics"
	"go.uber.org/zap"
)

// Subscriber is one connection's view of the hub.
type Subscriber interface {
	ID() string
	// Accepts reports whether the subscriber wants this match.
	Accepts(m *models.Match) bool
	// Deliver queues an encoded frame without blocking and reports whether
	// there was room for it.
	Deliver(frame []byte) bool
}

// Hub owns the subscriber set. Registration, removal and publishing all go
// through channels consumed by Run.
type Hub struct {
	subscribers map[string]Subscriber

	publish    chan *models.Match
	register   chan Subscriber
	unregister chan Subscriber
	done       chan struct{}

	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewHub(backlog int, m *metrics.Metrics, logger *zap.Logger) *Hub {
	if backlog <= 0 {
		backlog = 256
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[string]Subscriber),
		publish:     make(chan *models.Match, backlog),
		register:    make(chan Subscriber),
		unregister:  make(chan Subscriber),
		done:        make(chan struct{}),
		metrics:     m,
		logger:      logger,
	}
}

// Run serves the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case sub := <-h.register:
			h.registerSubscriber(sub)

		case sub := <-h.unregister:
			h.unregisterSubscriber(sub)

		case m := <-h.publish:
			h.broadcastMatch(m)

		case <-ctx.Done():
			h.logger.Info("Broadcast hub stopped", zap.Int("subscribers", len(h.subscribers)))
			return
		}
	}
}

func (h *Hub) registerSubscriber(sub Subscriber) {
	if _, exists := h.subscribers[sub.ID()]; exists {
		h.logger.Warn("Replacing subscriber with duplicate id", zap.String("subscriber", sub.ID()))
	}
	h.subscribers[sub.ID()] = sub
	h.metrics.Connections.Set(float64(len(h.subscribers)))
	h.logger.Debug("Subscriber registered",
		zap.String("subscriber", sub.ID()),
		zap.Int("total", len(h.subscribers)))
}

func (h *Hub) unregisterSubscriber(sub Subscriber) {
	if cur, exists := h.subscribers[sub.ID()]; exists && cur == sub {
		delete(h.subscribers, sub.ID())
		h.metrics.Connections.Set(float64(len(h.subscribers)))
		h.logger.Debug("Subscriber unregistered",
			zap.String("subscriber", sub.ID()),
			zap.Int("total", len(h.subscribers)))
	}
}

// broadcastMatch encodes m once and hands the frame to every interested
// subscriber. A subscriber whose backlog is full misses the match.
func (h *Hub) broadcastMatch(m *models.Match) {
	frame := protocol.EncodeMatch(m)
	delivered := 0
	for id, sub := range h.subscribers {
		if !sub.Accepts(m) {
			continue
		}
		if !sub.Deliver(frame) {
			h.metrics.DroppedFrames.Inc()
			h.logger.Warn("Subscriber backlog full, match dropped",
				zap.String("subscriber", id),
				zap.Uint64("matchId", m.ID()))
			continue
		}
		delivered++
	}
	h.logger.Debug("Match broadcast",
		zap.Uint64("matchId", m.ID()),
		zap.Int("delivered", delivered))
}

// Register adds sub. It is a no-op once the hub has stopped.
func (h *Hub) Register(sub Subscriber) {
	select {
	case h.register <- sub:
	case <-h.done:
	}
}

// Unregister removes sub. It is a no-op once the hub has stopped.
func (h *Hub) Unregister(sub Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Publish queues m for broadcast. It implements service.Publisher. Once Run
// has returned, every call fails with ErrHubStopped.
func (h *Hub) Publish(ctx context.Context, m *models.Match) error {
	// a stopped hub may still have room in its buffer
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.publish <- m:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
