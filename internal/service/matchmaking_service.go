package service

import (
	"context"
	"sync"
	"time"

	"github.com/pjsph/slam/internal/models"
	"go.uber.org/zap"
)

// Publisher receives every match the service forms.
type Publisher interface {
	Publish(ctx context.Context, m *models.Match) error
}

type MatchmakingConfig struct {
	Interval time.Duration
	// MatchTTL evicts stored matches that never got a result. Zero keeps them forever.
	MatchTTL time.Duration
	// MaxMatchesPerTick bounds how long one tick may hold the loop.
	MaxMatchesPerTick int
}

// MatchmakingService runs the Matchmaker on a single goroutine. Every read
// and write of ratings, queue and stored matches happens on that goroutine;
// other goroutines submit closures through cmds and wait for them.
type MatchmakingService struct {
	engine     *Matchmaker
	publishers []Publisher
	logger     *zap.Logger
	cfg        MatchmakingConfig
	cmds       chan func()
	stopChan   chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	running    bool
	mu         sync.Mutex
}

func NewMatchmakingService(engine *Matchmaker, cfg MatchmakingConfig, logger *zap.Logger, publishers ...Publisher) *MatchmakingService {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.MaxMatchesPerTick <= 0 {
		cfg.MaxMatchesPerTick = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MatchmakingService{
		engine:     engine,
		publishers: publishers,
		logger:     logger,
		cfg:        cfg,
		cmds:       make(chan func()),
		stopChan:   make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the owner goroutine.
func (s *MatchmakingService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting MatchmakingService",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("matchTTL", s.cfg.MatchTTL))

	s.wg.Add(1)
	go s.matchmakingLoop()
}

// Stop cancels an in-flight solve and waits for the loop to exit. Calls
// submitted afterwards fail with ErrServiceStopped.
func (s *MatchmakingService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping MatchmakingService")
	s.cancel()
	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("MatchmakingService stopped")
}

func (s *MatchmakingService) matchmakingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runMatchmaking()
		case fn := <-s.cmds:
			fn()
		case <-s.stopChan:
			return
		}
	}
}

// runMatchmaking polls until the queue yields no further match, then evicts
// expired matches.
func (s *MatchmakingService) runMatchmaking() {
	for i := 0; i < s.cfg.MaxMatchesPerTick; i++ {
		match, err := s.engine.PollQueue(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Matchmaking round failed", zap.Error(err))
			break
		}
		if match == nil {
			break
		}
		s.publish(match)
	}
	s.engine.EvictExpired(s.cfg.MatchTTL)
}

func (s *MatchmakingService) publish(match *models.Match) {
	for _, p := range s.publishers {
		if err := p.Publish(s.ctx, match); err != nil {
			s.logger.Warn("Failed to publish match",
				zap.Uint64("matchId", match.ID()),
				zap.Error(err))
		}
	}
}

// do runs fn on the owner goroutine and waits for it to return.
func (s *MatchmakingService) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	cmd := func() {
		defer close(done)
		fn()
	}

	select {
	case s.cmds <- cmd:
	case <-s.stopChan:
		return ErrServiceStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// CreatePlayer registers id at the default rating.
func (s *MatchmakingService) CreatePlayer(ctx context.Context, id models.PlayerID) (models.PlayerRecord, error) {
	var rec models.PlayerRecord
	err := s.do(ctx, func() {
		s.engine.CreatePlayer(id)
		rec, _ = s.engine.Player(id)
	})
	return rec, err
}

// InsertPlayer assigns or overwrites the rating of id.
func (s *MatchmakingService) InsertPlayer(ctx context.Context, id models.PlayerID, rating models.Rating) (models.PlayerRecord, error) {
	var rec models.PlayerRecord
	err := s.do(ctx, func() {
		s.engine.InsertPlayer(id, rating)
		rec, _ = s.engine.Player(id)
	})
	return rec, err
}

// Player looks up a registry entry. It returns ErrUnknownPlayer for ids never registered.
func (s *MatchmakingService) Player(ctx context.Context, id models.PlayerID) (models.PlayerRecord, error) {
	var (
		rec models.PlayerRecord
		ok  bool
	)
	if err := s.do(ctx, func() {
		rec, ok = s.engine.Player(id)
	}); err != nil {
		return models.PlayerRecord{}, err
	}
	if !ok {
		return models.PlayerRecord{}, ErrUnknownPlayer
	}
	return rec, nil
}

// Enqueue adds id to the queue. Unregistered ids are accepted and dropped at
// the next poll.
func (s *MatchmakingService) Enqueue(ctx context.Context, id models.PlayerID) error {
	return s.do(ctx, func() {
		s.engine.Enqueue(id)
	})
}

func (s *MatchmakingService) Stats(ctx context.Context) (models.QueueStats, error) {
	var stats models.QueueStats
	err := s.do(ctx, func() {
		stats = s.engine.Stats()
	})
	return stats, err
}

// Poll runs one matchmaking round immediately instead of waiting for the ticker.
func (s *MatchmakingService) Poll(ctx context.Context) error {
	return s.do(ctx, func() {
		s.runMatchmaking()
	})
}

// HandleResult applies a client's result report.
func (s *MatchmakingService) HandleResult(ctx context.Context, report models.ResultReport) (models.ResultStatus, error) {
	var status models.ResultStatus
	err := s.do(ctx, func() {
		status, _ = s.engine.ReportResult(report)
	})
	return status, err
}
