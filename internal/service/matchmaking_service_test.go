package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pjsph/slam/internal/models"
	"github.com/pjsph/slam/pkg/solver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	matches []*models.Match
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, m *models.Match) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matches = append(p.matches, m)
	return p.err
}

func (p *recordingPublisher) published() []*models.Match {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.Match(nil), p.matches...)
}

func newTestService(t *testing.T, pubs ...Publisher) *MatchmakingService {
	t.Helper()
	engine := NewMatchmaker(MatchmakerConfig{
		GroupSize:      2,
		RatingGapBound: 200,
		DefaultRating:  models.DefaultRating,
	}, solver.NewBranchAndBound(0), nil, nil, nil)
	// the ticker never fires during a test; rounds run through Poll
	svc := NewMatchmakingService(engine, MatchmakingConfig{Interval: time.Hour}, nil, pubs...)
	svc.Start()
	t.Cleanup(svc.Stop)
	return svc
}

func TestMatchmakingService_PlayersAndStats(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	rec, err := svc.CreatePlayer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRating, rec.Rating)

	rec, err = svc.InsertPlayer(ctx, 2, 350)
	require.NoError(t, err)
	assert.Equal(t, models.Rating(350), rec.Rating)

	_, err = svc.Player(ctx, 3)
	assert.ErrorIs(t, err, ErrUnknownPlayer)

	require.NoError(t, svc.Enqueue(ctx, 1))
	require.NoError(t, svc.Enqueue(ctx, 2))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, 2, stats.Players)
}

func TestMatchmakingService_PollPublishesUntilQueueDrains(t *testing.T) {
	pub := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("relay down")}
	svc := newTestService(t, pub, failing)
	ctx := context.Background()

	ratings := []models.Rating{100, 110, 105, 115, 1000, 1010, 1005, 1015}
	for i, r := range ratings {
		_, err := svc.InsertPlayer(ctx, models.PlayerID(i+1), r)
		require.NoError(t, err)
		require.NoError(t, svc.Enqueue(ctx, models.PlayerID(i+1)))
	}

	require.NoError(t, svc.Poll(ctx))

	matches := pub.published()
	assert.Len(t, matches, 2)
	assert.Len(t, failing.published(), 2, "a failing publisher does not stop the others")

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 2, stats.StoredMatches)
	assert.Equal(t, 2, stats.MatchesTotal)
}

func TestMatchmakingService_HandleResult(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, pub)
	ctx := context.Background()

	for id := models.PlayerID(1); id <= 4; id++ {
		_, err := svc.CreatePlayer(ctx, id)
		require.NoError(t, err)
		require.NoError(t, svc.Enqueue(ctx, id))
	}
	require.NoError(t, svc.Poll(ctx))
	require.Len(t, pub.published(), 1)
	match := pub.published()[0]

	status, err := svc.HandleResult(ctx, models.ResultReport{MatchID: match.ID(), Winner: 1})
	require.NoError(t, err)
	assert.Equal(t, models.ResultApplied, status)

	winner, err := svc.Player(ctx, match.Groups[1].Players[0])
	require.NoError(t, err)
	assert.Equal(t, models.Rating(120), winner.Rating)

	status, err = svc.HandleResult(ctx, models.ResultReport{MatchID: match.ID(), Winner: 1})
	require.NoError(t, err)
	assert.Equal(t, models.ResultUnknownMatch, status)
}

func TestMatchmakingService_ConcurrentCallers(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id models.PlayerID) {
			defer wg.Done()
			_, _ = svc.CreatePlayer(ctx, id)
			_ = svc.Enqueue(ctx, id)
		}(models.PlayerID(i))
	}
	wg.Wait()

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, stats.Players)
	assert.Equal(t, 50, stats.Queued)
}

func TestMatchmakingService_StoppedRejectsCalls(t *testing.T) {
	svc := newTestService(t)
	svc.Stop()

	err := svc.Enqueue(context.Background(), 1)
	assert.ErrorIs(t, err, ErrServiceStopped)

	_, err = svc.HandleResult(context.Background(), models.ResultReport{})
	assert.ErrorIs(t, err, ErrServiceStopped)
}

func TestMatchmakingService_CallerContext(t *testing.T) {
	engine := NewMatchmaker(MatchmakerConfig{GroupSize: 2, RatingGapBound: 200}, solver.NewBranchAndBound(0), nil, nil, nil)
	svc := NewMatchmakingService(engine, MatchmakingConfig{}, nil)

	// not started: nothing drains the command channel
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := svc.Enqueue(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
