package transport

import (
	"context"
	"fmt"

	"github.com/pjsph/slam/internal/broadcast"
	"github.com/pjsph/slam/internal/models"
	"github.com/pjsph/slam/internal/protocol"
	"github.com/pjsph/slam/pkg/metrics"
	"github.com/pjsph/slam/pkg/ratelimit"
	"go.uber.org/zap"
)

// ResultHandler applies result reports received from clients.
type ResultHandler interface {
	HandleResult(ctx context.Context, report models.ResultReport) (models.ResultStatus, error)
}

// Dispatcher acts on decoded client packets. It is shared by the TCP server
// and the WebSocket endpoint.
type Dispatcher struct {
	results ResultHandler
	limiter ratelimit.Limiter
	metrics *metrics.Metrics
}

// NewDispatcher builds a Dispatcher. limiter may be nil to accept every packet.
func NewDispatcher(results ResultHandler, limiter ratelimit.Limiter, m *metrics.Metrics) *Dispatcher {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Dispatcher{results: results, limiter: limiter, metrics: m}
}

// Dispatch handles one packet from the connection owning mb. Replies are
// queued on mb. key identifies the sender for rate limiting.
func (d *Dispatcher) Dispatch(ctx context.Context, mb *broadcast.Mailbox, key string, p protocol.Packet, log *zap.Logger) error {
	if !d.allow(ctx, key, log) {
		log.Warn("Rate limit exceeded, packet dropped", zap.Uint32("type", uint32(p.Type())))
		return nil
	}

	switch pkt := p.(type) {
	case protocol.SubscribePacket:
		mb.Identify(pkt.Player)
		log.Debug("Connection subscribed", zap.Stringer("player", pkt.Player))
		return nil

	case protocol.ResultPacket:
		status, err := d.results.HandleResult(ctx, pkt.Report)
		if err != nil {
			return fmt.Errorf("handle result: %w", err)
		}
		if !mb.Deliver(protocol.EncodeResultAck(pkt.Report.MatchID, status)) {
			d.metrics.DroppedFrames.Inc()
			log.Warn("Backlog full, result ack dropped", zap.Uint64("matchId", pkt.Report.MatchID))
		}
		return nil
	}
	return fmt.Errorf("%w: %s tag %d", protocol.ErrUnknownPacket, p.Direction(), p.Type())
}

// allow fails open when the limiter itself errors.
func (d *Dispatcher) allow(ctx context.Context, key string, log *zap.Logger) bool {
	if d.limiter == nil {
		return true
	}
	ok, err := d.limiter.Allow(ctx, key)
	if err != nil {
		log.Warn("Rate limiter unavailable", zap.Error(err))
		return true
	}
	return ok
}
