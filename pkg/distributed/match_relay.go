// Package distributed shares formed matches between server instances over
// Redis pub/sub.
package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "slam:matches"

var ErrRelayStopped = errors.New("match relay stopped")

// RelayEnvelope is the message published for every match. Frame holds the
// encoded match announcement exactly as sent to clients.
type RelayEnvelope struct {
	Origin      string    `json:"origin"`
	MatchID     uint64    `json:"match_id"`
	Frame       []byte    `json:"frame"`
	PublishedAt time.Time `json:"published_at"`
}

// MatchRelay publishes local matches and delivers matches formed by other
// instances. Messages from the relay's own instance are not delivered back.
type MatchRelay struct {
	client     redis.UniversalClient
	channel    string
	instanceID string
	logger     *zap.Logger
}

func NewMatchRelay(client redis.UniversalClient, channel string, logger *zap.Logger) *MatchRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchRelay{
		client:     client,
		channel:    channel,
		instanceID: uuid.New().String(),
		logger:     logger,
	}
}

func (r *MatchRelay) InstanceID() string {
	return r.instanceID
}

// PublishFrame sends an encoded match to every other instance.
func (r *MatchRelay) PublishFrame(ctx context.Context, matchID uint64, frame []byte) error {
	data, err := json.Marshal(RelayEnvelope{
		Origin:      r.instanceID,
		MatchID:     matchID,
		Frame:       frame,
		PublishedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish match %d: %w", matchID, err)
	}
	r.logger.Debug("Published match to relay", zap.Uint64("matchId", matchID))
	return nil
}

// Run subscribes and calls handler for every remote match until ctx is
// cancelled. Handler errors are logged and do not stop the relay.
func (r *MatchRelay) Run(ctx context.Context, handler func(env RelayEnvelope) error) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	r.logger.Info("Match relay started",
		zap.String("instance_id", r.instanceID),
		zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return ErrRelayStopped
			}
			r.deliver(msg, handler)

		case <-ctx.Done():
			r.logger.Info("Match relay stopped")
			return nil
		}
	}
}

func (r *MatchRelay) deliver(msg *redis.Message, handler func(env RelayEnvelope) error) {
	var env RelayEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		r.logger.Error("Failed to unmarshal envelope", zap.Error(err))
		return
	}
	if env.Origin == r.instanceID {
		return
	}
	if err := handler(env); err != nil {
		r.logger.Warn("Failed to handle relayed match",
			zap.Uint64("matchId", env.MatchID),
			zap.String("origin", env.Origin),
			zap.Error(err))
	}
}
