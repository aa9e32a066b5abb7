package broadcast

import (
	"context"
	"fmt"

	"github.com/pjsph/slam/internal/models"
	"github.com/pjsph/slam/internal/protocol"
	"github.com/pjsph/slam/pkg/distributed"
	"go.uber.org/zap"
)

// FrameRelay moves encoded matches between instances.
type FrameRelay interface {
	PublishFrame(ctx context.Context, matchID uint64, frame []byte) error
	Run(ctx context.Context, handler func(env distributed.RelayEnvelope) error) error
}

// RelayBridge forwards local matches to other instances and replays their
// matches into the local hub.
type RelayBridge struct {
	relay  FrameRelay
	hub    *Hub
	codec  *protocol.Codec
	logger *zap.Logger
}

func NewRelayBridge(relay FrameRelay, hub *Hub, codec *protocol.Codec, logger *zap.Logger) *RelayBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayBridge{relay: relay, hub: hub, codec: codec, logger: logger}
}

// Publish implements service.Publisher.
func (b *RelayBridge) Publish(ctx context.Context, m *models.Match) error {
	return b.relay.PublishFrame(ctx, m.ID(), protocol.EncodeMatch(m))
}

// Run replays remote matches until ctx is cancelled.
func (b *RelayBridge) Run(ctx context.Context) error {
	return b.relay.Run(ctx, func(env distributed.RelayEnvelope) error {
		p, _, err := b.codec.Decode(protocol.ClientBound, env.Frame)
		if err != nil {
			return fmt.Errorf("decode relayed frame: %w", err)
		}
		mp, ok := p.(protocol.MatchPacket)
		if !ok {
			return fmt.Errorf("%w: relayed %s tag %d", protocol.ErrUnknownPacket, p.Direction(), p.Type())
		}
		b.logger.Debug("Replaying remote match",
			zap.Uint64("matchId", env.MatchID),
			zap.String("origin", env.Origin))
		return b.hub.Publish(ctx, mp.Match)
	})
}
