package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pjsph/slam/internal/api"
	"github.com/pjsph/slam/internal/broadcast"
	"github.com/pjsph/slam/internal/config"
	"github.com/pjsph/slam/internal/models"
	"github.com/pjsph/slam/internal/protocol"
	"github.com/pjsph/slam/internal/service"
	"github.com/pjsph/slam/internal/transport"
	"github.com/pjsph/slam/pkg/distributed"
	"github.com/pjsph/slam/pkg/logger"
	"github.com/pjsph/slam/pkg/metrics"
	"github.com/pjsph/slam/pkg/ratelimit"
	"github.com/pjsph/slam/pkg/solver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "matchmaking JSON config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting slam",
		"tcp", cfg.TCPAddr,
		"http", cfg.HTTPAddr,
		"env", cfg.Env,
		"groupSize", cfg.Matchmaking.GroupSize,
	)
	if cfg.Matchmaking.TeamsPerMatch != 2 {
		logger.Warn("teams_per_match is fixed at 2, ignoring configured value",
			"teamsPerMatch", cfg.Matchmaking.TeamsPerMatch)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("Server failed", "error", err)
	}
	logger.Info("Server exited")
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	codec := protocol.NewCodec(cfg.Matchmaking.GroupSize)
	hub := broadcast.NewHub(cfg.BroadcastBacklog, m, logger.Named("hub"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	local := ratelimit.NewRateLimiter(cfg.RateLimitBurst, cfg.RateLimitPerSec)
	var limiter ratelimit.Limiter = local
	publishers := []service.Publisher{hub}

	if cfg.RedisURL != "" {
		client, err := connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()

		limiter = ratelimit.NewRedisRateLimiter(client, ratelimit.RedisRateLimiterConfig{
			Capacity:   cfg.RateLimitBurst,
			RefillRate: cfg.RateLimitPerSec,
		})

		relay := distributed.NewMatchRelay(client, distributed.DefaultChannel, logger.Named("relay"))
		bridge := broadcast.NewRelayBridge(relay, hub, codec, logger.Named("relay"))
		publishers = append(publishers, bridge)
		g.Go(func() error {
			return bridge.Run(gctx)
		})
		logger.Info("Redis match relay enabled", "instanceId", relay.InstanceID())
	} else {
		g.Go(func() error {
			local.RunCleanup(gctx, time.Minute)
			return nil
		})
	}

	engine := service.NewMatchmaker(service.MatchmakerConfig{
		GroupSize:      cfg.Matchmaking.GroupSize,
		RatingGapBound: cfg.Matchmaking.RatingGapBound,
		PoolSize:       cfg.Matchmaking.PoolSize,
		DefaultRating:  models.Rating(cfg.Matchmaking.DefaultRating),
		SolveTimeout:   cfg.SolveTimeout,
	}, solver.NewBranchAndBound(0), nil, m, logger.Named("matchmaker"))

	matchmaking := service.NewMatchmakingService(engine, service.MatchmakingConfig{
		Interval: cfg.MatchmakingInterval,
		MatchTTL: cfg.MatchTTL,
	}, logger.Named("matchmaking"), publishers...)
	matchmaking.Start()
	defer matchmaking.Stop()

	tcp := transport.NewServer(transport.Config{
		Addr:    cfg.TCPAddr,
		Backlog: cfg.BroadcastBacklog,
	}, codec, hub, matchmaking, limiter, m, logger.Named("transport"))
	g.Go(func() error {
		return tcp.ListenAndServe(gctx)
	})

	router := api.SetupRouter(gctx, cfg, api.Dependencies{
		Matchmaking: matchmaking,
		Hub:         hub,
		Codec:       codec,
		Dispatcher:  transport.NewDispatcher(matchmaking, limiter, m),
		Limiter:     limiter,
		Gatherer:    reg,
		Logger:      logger.Named("websocket"),
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	g.Go(func() error {
		logger.Info("HTTP server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	logger.L().Info("Redis connection established", zap.String("addr", opts.Addr))
	return client, nil
}
