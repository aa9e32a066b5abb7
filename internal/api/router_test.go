package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pjsph/slam/internal/broadcast"
	"github.com/pjsph/slam/internal/config"
	"github.com/pjsph/slam/internal/models"
	"github.com/pjsph/slam/internal/protocol"
	"github.com/pjsph/slam/internal/service"
	"github.com/pjsph/slam/internal/transport"
	"github.com/pjsph/slam/pkg/metrics"
	"github.com/pjsph/slam/pkg/ratelimit"
	"github.com/pjsph/slam/pkg/solver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Env:              "test",
		BroadcastBacklog: 16,
		RateLimitBurst:   1000,
		Matchmaking: config.Matchmaking{
			GroupSize:      2,
			TeamsPerMatch:  2,
			RatingGapBound: 200,
			PoolSize:       16,
			DefaultRating:  100,
		},
	}
}

func setupRouter(t *testing.T, limiter ratelimit.Limiter) (*gin.Engine, *service.MatchmakingService) {
	t.Helper()
	cfg := testConfig()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	engine := service.NewMatchmaker(service.MatchmakerConfig{
		GroupSize:      cfg.Matchmaking.GroupSize,
		RatingGapBound: cfg.Matchmaking.RatingGapBound,
		PoolSize:       cfg.Matchmaking.PoolSize,
		DefaultRating:  models.Rating(cfg.Matchmaking.DefaultRating),
	}, solver.NewBranchAndBound(0), nil, m, nil)
	svc := service.NewMatchmakingService(engine, service.MatchmakingConfig{Interval: time.Hour}, nil)
	svc.Start()
	t.Cleanup(svc.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := broadcast.NewHub(cfg.BroadcastBacklog, m, nil)
	go hub.Run(ctx)

	codec := protocol.NewCodec(cfg.Matchmaking.GroupSize)
	router := SetupRouter(ctx, cfg, Dependencies{
		Matchmaking: svc,
		Hub:         hub,
		Codec:       codec,
		Dispatcher:  transport.NewDispatcher(svc, limiter, m),
		Limiter:     limiter,
		Gatherer:    reg,
	})
	return router, svc
}

func doRequest(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodePlayer(t *testing.T, w *httptest.ResponseRecorder) models.PlayerRecord {
	t.Helper()
	var body struct {
		Player models.PlayerRecord `json:"player"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Player
}

func TestHealth(t *testing.T) {
	router, _ := setupRouter(t, nil)
	w := doRequest(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := setupRouter(t, nil)
	w := doRequest(t, router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "slam_queue_length")
}

func TestPlayers(t *testing.T) {
	router, _ := setupRouter(t, nil)

	t.Run("default rating", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/api/v1/players", `{"id": 7}`)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, models.PlayerRecord{ID: 7, Rating: 100}, decodePlayer(t, w))
	})

	t.Run("explicit rating", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/api/v1/players", `{"id": 8, "rating": 1500}`)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, models.Rating(1500), decodePlayer(t, w).Rating)
	})

	t.Run("zero id is valid", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/api/v1/players", `{"id": 0, "rating": 5}`)
		require.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("missing id", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/api/v1/players", `{"rating": 5}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("get", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/v1/players/8", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.PlayerRecord{ID: 8, Rating: 1500}, decodePlayer(t, w))
	})

	t.Run("get unknown", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/v1/players/999", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("get bad id", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/api/v1/players/abc", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestQueue(t *testing.T) {
	router, _ := setupRouter(t, nil)

	require.Equal(t, http.StatusCreated,
		doRequest(t, router, http.MethodPost, "/api/v1/players", `{"id": 1}`).Code)

	w := doRequest(t, router, http.MethodPost, "/api/v1/queue", `{"id": 1}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	// unknown players are accepted and dropped at the next poll
	w = doRequest(t, router, http.MethodPost, "/api/v1/queue", `{"id": 2}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doRequest(t, router, http.MethodPost, "/api/v1/queue", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodGet, "/api/v1/queue", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Stats models.QueueStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Stats.Queued)
	assert.Equal(t, 1, body.Stats.Players)
}

func TestStoppedServiceUnavailable(t *testing.T) {
	router, svc := setupRouter(t, nil)
	svc.Stop()

	w := doRequest(t, router, http.MethodPost, "/api/v1/players", `{"id": 1}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRateLimit(t *testing.T) {
	router, _ := setupRouter(t, ratelimit.NewRateLimiter(2, 0))

	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodGet, "/api/v1/queue", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodGet, "/api/v1/queue", "").Code)

	w := doRequest(t, router, http.MethodGet, "/api/v1/queue", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// health is outside the limited group
	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodGet, "/health", "").Code)
}
