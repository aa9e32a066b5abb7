package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Matchmaking is the matchmaking document, read from JSON.
type Matchmaking struct {
	GroupSize int `mapstructure:"group_size"`
	// TeamsPerMatch is reserved; only 2 is supported.
	TeamsPerMatch  int     `mapstructure:"teams_per_match"`
	RatingGapBound float64 `mapstructure:"rating_gap_bound"`
	PoolSize       int     `mapstructure:"pool_size"`
	DefaultRating  uint64  `mapstructure:"default_rating"`
}

type Config struct {
	// Server
	TCPAddr  string
	HTTPAddr string
	Env      string
	LogLevel string

	// Redis relay, disabled when empty
	RedisURL string

	// Matchmaking loop
	MatchmakingInterval time.Duration
	SolveTimeout        time.Duration
	MatchTTL            time.Duration
	BroadcastBacklog    int

	// Rate limiting for client packets and HTTP requests
	RateLimitBurst  int64
	RateLimitPerSec float64

	Matchmaking Matchmaking
}

// Load reads .env (if present), the process environment and the JSON
// matchmaking document at path. An empty path uses defaults for the
// document; SLAM_-prefixed variables override its keys either way.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		TCPAddr:  getEnv("TCP_ADDR", ":8888"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		RedisURL: getEnv("REDIS_URL", ""),
	}

	var (
		burst int
		errs  []error
	)
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(getEnvDuration("MATCHMAKING_INTERVAL", 500*time.Millisecond, &cfg.MatchmakingInterval))
	collect(getEnvDuration("SOLVE_TIMEOUT", time.Second, &cfg.SolveTimeout))
	collect(getEnvDuration("MATCH_TTL", 10*time.Minute, &cfg.MatchTTL))
	collect(getEnvInt("BROADCAST_BACKLOG", 256, &cfg.BroadcastBacklog))
	collect(getEnvInt("RATE_LIMIT_BURST", 20, &burst))
	collect(getEnvFloat("RATE_LIMIT_PER_SEC", 10, &cfg.RateLimitPerSec))
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	cfg.RateLimitBurst = int64(burst)

	mm, err := loadMatchmaking(path)
	if err != nil {
		return nil, err
	}
	cfg.Matchmaking = *mm

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadMatchmaking(path string) (*Matchmaking, error) {
	v := viper.New()
	v.SetDefault("group_size", 2)
	v.SetDefault("teams_per_match", 2)
	v.SetDefault("rating_gap_bound", 200)
	v.SetDefault("pool_size", 16)
	v.SetDefault("default_rating", 100)

	v.SetEnvPrefix("SLAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var mm Matchmaking
	if err := v.Unmarshal(&mm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &mm, nil
}

// Validate rejects values the matchmaker cannot run with.
func (c *Config) Validate() error {
	mm := c.Matchmaking
	switch {
	case mm.GroupSize < 1:
		return fmt.Errorf("%w: group_size must be at least 1, got %d", ErrInvalidConfig, mm.GroupSize)
	case mm.RatingGapBound <= 0:
		return fmt.Errorf("%w: rating_gap_bound must be positive, got %g", ErrInvalidConfig, mm.RatingGapBound)
	case mm.PoolSize < 2*mm.GroupSize:
		return fmt.Errorf("%w: pool_size %d cannot hold two teams of %d", ErrInvalidConfig, mm.PoolSize, mm.GroupSize)
	case c.MatchmakingInterval <= 0:
		return fmt.Errorf("%w: MATCHMAKING_INTERVAL must be positive", ErrInvalidConfig)
	case c.SolveTimeout <= 0:
		return fmt.Errorf("%w: SOLVE_TIMEOUT must be positive", ErrInvalidConfig)
	case c.BroadcastBacklog < 1:
		return fmt.Errorf("%w: BROADCAST_BACKLOG must be at least 1", ErrInvalidConfig)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// The getEnv* helpers below leave the default in place when key is unset
// and reject a value that does not parse.

func getEnvInt(key string, defaultValue int, dst *int) error {
	*dst = defaultValue
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return invalidEnv(key, value, err)
	}
	*dst = n
	return nil
}

func getEnvFloat(key string, defaultValue float64, dst *float64) error {
	*dst = defaultValue
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return invalidEnv(key, value, err)
	}
	*dst = f
	return nil
}

func getEnvDuration(key string, defaultValue time.Duration, dst *time.Duration) error {
	*dst = defaultValue
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return invalidEnv(key, value, err)
	}
	*dst = d
	return nil
}

func invalidEnv(key, value string, err error) error {
	return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, value, err)
}
