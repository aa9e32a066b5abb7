package service

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pjsph/slam/internal/models"
	"github.com/pjsph/slam/internal/repository"
	"github.com/pjsph/slam/pkg/metrics"
	"github.com/pjsph/slam/pkg/solver"
	"go.uber.org/zap"
)

// teamsPerMatch is fixed: the wire format and result handling assume two groups.
const teamsPerMatch = 2

// DefaultSolveTimeout bounds a solve when MatchmakerConfig leaves it unset.
const DefaultSolveTimeout = time.Second

type MatchmakerConfig struct {
	GroupSize      int
	RatingGapBound float64
	// PoolSize caps how many queue entries (oldest first) are offered to the
	// solver per poll. Zero offers the whole queue.
	PoolSize int
	// DefaultRating is given to players created without one. Zero is a valid
	// rating and is used as is.
	DefaultRating models.Rating
	// SolveTimeout bounds one solve; zero means DefaultSolveTimeout. A solve
	// that hits it keeps its best split so far, if any.
	SolveTimeout time.Duration
}

// Matchmaker owns the rating registry, the queue and the match store and
// turns queue contents into matches. It is not safe for concurrent use; the
// MatchmakingService serialises every call onto one goroutine.
type Matchmaker struct {
	cfg     MatchmakerConfig
	ratings *repository.RatingRepository
	queue   *repository.QueueRepository
	matches repository.MatchStore
	solver  solver.Solver
	elo     *ELOService
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
	formed  int
	// stalled fingerprints the last pool that produced no match, so an
	// unchanged pool is not solved again
	stalled uint64
}

func NewMatchmaker(cfg MatchmakerConfig, s solver.Solver, store repository.MatchStore, m *metrics.Metrics, logger *zap.Logger) *Matchmaker {
	if cfg.SolveTimeout <= 0 {
		cfg.SolveTimeout = DefaultSolveTimeout
	}
	if store == nil {
		store = repository.NewMemoryMatchStore()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matchmaker{
		cfg:     cfg,
		ratings: repository.NewRatingRepository(cfg.DefaultRating),
		queue:   repository.NewQueueRepository(),
		matches: store,
		solver:  s,
		elo:     NewELOService(),
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// CreatePlayer registers id at the default rating.
func (mm *Matchmaker) CreatePlayer(id models.PlayerID) models.PlayerID {
	return mm.ratings.Create(id)
}

// InsertPlayer assigns or overwrites the rating of id.
func (mm *Matchmaker) InsertPlayer(id models.PlayerID, rating models.Rating) models.PlayerID {
	return mm.ratings.Insert(id, rating)
}

// Enqueue makes id eligible for matching. Duplicates are allowed.
func (mm *Matchmaker) Enqueue(id models.PlayerID) {
	mm.queue.Enqueue(id)
	mm.metrics.QueueLength.Set(float64(mm.queue.Len()))
}

func (mm *Matchmaker) Player(id models.PlayerID) (models.PlayerRecord, bool) {
	return mm.ratings.Get(id)
}

func (mm *Matchmaker) Queue() []models.PlayerID {
	return mm.queue.Snapshot()
}

func (mm *Matchmaker) Match(id uint64) (*models.Match, bool) {
	return mm.matches.Get(id)
}

func (mm *Matchmaker) Stats() models.QueueStats {
	return models.QueueStats{
		Queued:        mm.queue.Len(),
		Players:       mm.ratings.Len(),
		StoredMatches: mm.matches.Len(),
		MatchesTotal:  mm.formed,
	}
}

// PollQueue tries to form one match from the oldest PoolSize queue entries.
// It returns (nil, nil) when no match is possible this round: too few
// players, an infeasible program, a solve that ran out of time without any
// split, or a pool identical to the last one that failed. Unbounded and
// internal solver failures are returned as errors. The queue is untouched
// in every case except success.
func (mm *Matchmaker) PollQueue(ctx context.Context) (*models.Match, error) {
	mm.dropUnrated()

	need := mm.cfg.GroupSize * teamsPerMatch
	if mm.queue.Len() < need {
		return nil, nil
	}

	window := mm.queue.Oldest(mm.cfg.PoolSize)
	pool := make([]models.PlayerID, len(window))
	ratings := make([]models.Rating, len(window))
	for k, qi := range window {
		pool[k] = mm.queue.At(qi)
		ratings[k], _ = mm.ratings.Rating(pool[k])
	}

	fp := fingerprint(pool, ratings)
	if mm.stalled != 0 && fp == mm.stalled {
		return nil, nil
	}

	f := BuildFormulation(pool, ratings, FormulationConfig{
		GroupSize:      mm.cfg.GroupSize,
		Teams:          teamsPerMatch,
		RatingGapBound: mm.cfg.RatingGapBound,
	})

	ctx, cancel := context.WithTimeout(ctx, mm.cfg.SolveTimeout)
	defer cancel()

	start := mm.now()
	sol, err := mm.solver.Solve(ctx, f.Problem())
	switch {
	case errors.Is(err, solver.ErrInfeasible):
		mm.stalled = fp
		mm.metrics.SolverOutcomes.WithLabelValues("infeasible").Inc()
		mm.logger.Debug("No feasible match in pool",
			zap.Int("pool", len(pool)),
			zap.Int("excluded", f.Excluded()),
			zap.Int("closenessRows", f.ClosenessRows()))
		return nil, nil
	case errors.Is(err, solver.ErrLimit):
		mm.stalled = fp
		mm.metrics.SolverOutcomes.WithLabelValues("limit").Inc()
		mm.logger.Warn("Solve stopped before finding a match",
			zap.Int("pool", len(pool)),
			zap.Duration("timeout", mm.cfg.SolveTimeout),
			zap.Error(err))
		return nil, nil
	case errors.Is(err, solver.ErrUnbounded):
		mm.metrics.SolverOutcomes.WithLabelValues("unbounded").Inc()
		return nil, fmt.Errorf("solve pool of %d: %w", len(pool), err)
	case err != nil:
		mm.metrics.SolverOutcomes.WithLabelValues("internal").Inc()
		return nil, fmt.Errorf("solve pool of %d: %w", len(pool), err)
	}

	teams, err := f.Teams(sol)
	if err != nil {
		mm.metrics.SolverOutcomes.WithLabelValues("internal").Inc()
		return nil, err
	}
	outcome := "optimal"
	if !sol.Optimal {
		outcome = "feasible"
	}
	mm.metrics.SolverOutcomes.WithLabelValues(outcome).Inc()

	match := &models.Match{
		Groups:    make([]models.Group, len(teams)),
		CreatedAt: mm.now(),
	}
	var taken []int
	for t, members := range teams {
		g := models.Group{Players: make([]models.PlayerID, 0, len(members))}
		for _, i := range members {
			g.Players = append(g.Players, pool[i])
			g.TotalRating += ratings[i]
			taken = append(taken, window[i])
		}
		match.Groups[t] = g
	}

	mm.queue.RemoveIndices(taken)
	mm.stalled = 0
	id := mm.matches.Store(match)
	mm.formed++

	mm.metrics.MatchesFormed.Inc()
	mm.metrics.QueueLength.Set(float64(mm.queue.Len()))
	mm.metrics.StoredMatches.Set(float64(mm.matches.Len()))
	mm.logger.Info("Match formed",
		zap.Uint64("matchId", id),
		zap.Int("pool", len(pool)),
		zap.Float64("slack", f.Slack(sol)),
		zap.Bool("optimal", sol.Optimal),
		zap.Bool("warmStart", f.WarmStarted()),
		zap.Int("nodes", sol.Nodes),
		zap.Duration("solveTime", mm.now().Sub(start)),
		zap.Int("remaining", mm.queue.Len()))
	return match, nil
}

// fingerprint hashes a pool's entries and ratings in order.
func fingerprint(pool []models.PlayerID, ratings []models.Rating) uint64 {
	d := xxhash.New()
	buf := make([]byte, 0, 16)
	for i, id := range pool {
		buf = binary.BigEndian.AppendUint64(buf[:0], uint64(id))
		buf = binary.BigEndian.AppendUint64(buf, uint64(ratings[i]))
		_, _ = d.Write(buf)
	}
	return d.Sum64()
}

// dropUnrated removes queue entries whose player has no rating.
func (mm *Matchmaker) dropUnrated() {
	var missing []int
	for i := 0; i < mm.queue.Len(); i++ {
		if _, ok := mm.ratings.Rating(mm.queue.At(i)); !ok {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return
	}
	for _, id := range mm.queue.RemoveIndices(missing) {
		mm.logger.Warn("Dropping queue entry",
			zap.Stringer("player", id),
			zap.Error(ErrUnknownPlayer))
	}
	mm.metrics.DroppedEntries.Add(float64(len(missing)))
	mm.metrics.QueueLength.Set(float64(mm.queue.Len()))
}

// ReportResult applies a result to the stored match it names: ratings of
// both teams are updated and the match is evicted. Unknown matches and bad
// winner values leave all state untouched.
func (mm *Matchmaker) ReportResult(report models.ResultReport) (models.ResultStatus, []models.RatingChange) {
	status, changes := mm.applyResult(report)
	mm.metrics.Results.WithLabelValues(status.String()).Inc()
	return status, changes
}

func (mm *Matchmaker) applyResult(report models.ResultReport) (models.ResultStatus, []models.RatingChange) {
	match, ok := mm.matches.Get(report.MatchID)
	if !ok {
		mm.logger.Warn("Result for unknown match",
			zap.Uint64("matchId", report.MatchID),
			zap.Error(ErrMatchNotFound))
		return models.ResultUnknownMatch, nil
	}

	scores, err := mm.elo.Scores(report.Winner, len(match.Groups))
	if err != nil {
		mm.logger.Warn("Rejected result",
			zap.Uint64("matchId", report.MatchID),
			zap.Uint32("winner", report.Winner),
			zap.Error(err))
		return models.ResultInvalidWinner, nil
	}

	teams := make([][]models.PlayerRecord, len(match.Groups))
	for t, g := range match.Groups {
		for _, id := range g.Players {
			rec, ok := mm.ratings.Get(id)
			if !ok {
				mm.logger.Warn("Skipping rating update",
					zap.Stringer("player", id),
					zap.Error(ErrUnknownPlayer))
				continue
			}
			teams[t] = append(teams[t], rec)
		}
	}

	changes, err := mm.elo.CalculateTeamRatings(teams, scores)
	if err != nil {
		mm.logger.Error("Rating update failed", zap.Uint64("matchId", report.MatchID), zap.Error(err))
		return models.ResultInvalidWinner, nil
	}
	for _, c := range changes {
		mm.ratings.RecordGame(c.Player, c.New)
	}
	mm.matches.Delete(report.MatchID)
	mm.metrics.StoredMatches.Set(float64(mm.matches.Len()))

	mm.logger.Info("Result applied",
		zap.Uint64("matchId", report.MatchID),
		zap.Uint32("winner", report.Winner),
		zap.Int("ratingChanges", len(changes)))
	return models.ResultApplied, changes
}

// EvictExpired drops stored matches older than ttl that never got a result.
func (mm *Matchmaker) EvictExpired(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	n := mm.matches.EvictOlderThan(mm.now().Add(-ttl))
	if n > 0 {
		mm.metrics.StoredMatches.Set(float64(mm.matches.Len()))
		mm.logger.Info("Evicted expired matches", zap.Int("count", n))
	}
	return n
}
