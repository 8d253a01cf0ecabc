package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/neexbeast/mystery-trip/internal/destination"
	"github.com/neexbeast/mystery-trip/internal/ranking"
)

// Config is the full process configuration.
type Config struct {
	Port          string
	DatabaseURL   string
	DBMaxConns    int32
	RedisURL      string
	BearerToken   string
	MigrationsDir string
	LogLevel      slog.Level

	Aviasales AviasalesConfig
	Ranking   ranking.Config
	Weights   ranking.Weights
	OfferTTL  time.Duration
}

// AviasalesConfig configures the flight price client.
type AviasalesConfig struct {
	Token             string
	BaseURL           string
	Currency          string
	RequestsPerSecond float64
}

// Load reads an optional .env file and then the environment.
// Missing required variables are reported together.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit .env path. A missing file is not an error.
func LoadFile(envFile string) (*Config, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	p := &parser{}
	weights := ranking.DefaultWeights()
	weights.TieThreshold = p.float("RANK_TIE_THRESHOLD", weights.TieThreshold)
	weights.Baseline = p.float("RANK_BASELINE", weights.Baseline)
	weights.Limit = p.int("RANK_LIMIT", weights.Limit)

	def := ranking.DefaultConfig()
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   required("DATABASE_URL"),
		DBMaxConns:    p.positiveInt32("DB_MAX_CONNS", 10),
		RedisURL:      required("REDIS_URL"),
		BearerToken:   required("BEARER_TOKEN"),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),
		LogLevel:      p.level("LOG_LEVEL", slog.LevelInfo),
		Aviasales: AviasalesConfig{
			Token:             required("AVIASALES_TOKEN"),
			BaseURL:           getEnv("AVIASALES_BASE_URL", ""),
			Currency:          strings.ToUpper(getEnv("FLIGHT_CURRENCY", "EUR")),
			RequestsPerSecond: p.float("FLIGHT_REQUESTS_PER_SECOND", 5),
		},
		Ranking: ranking.Config{
			Origins:           p.airports("ORIGIN_AIRPORTS", def.Origins),
			LookupTimeout:     p.duration("FLIGHT_LOOKUP_TIMEOUT", def.LookupTimeout),
			LookupConcurrency: p.int("FLIGHT_LOOKUP_CONCURRENCY", def.LookupConcurrency),
		},
		Weights:  weights,
		OfferTTL: p.duration("OFFER_CACHE_TTL", time.Hour),
	}

	if len(missing) > 0 {
		p.errs = append(p.errs, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", ")))
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parser collects conversion errors so they can be reported at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: want a positive integer, got %q", key, v))
		return fallback
	}
	return n
}

// positiveInt32 is int bounded to the int32 range, for pgxpool's MaxConns.
func (p *parser) positiveInt32(key string, fallback int32) int32 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: want a positive integer up to %d, got %q", key, math.MaxInt32, v))
		return fallback
	}
	return int32(n)
}

func (p *parser) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: want a non-negative number, got %q", key, v))
		return fallback
	}
	return f
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: want a positive duration, got %q", key, v))
		return fallback
	}
	return d
}

func (p *parser) level(key string, fallback slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return l
}

func (p *parser) airports(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var codes []string
	for _, part := range strings.Split(v, ",") {
		code := strings.ToUpper(strings.TrimSpace(part))
		if code == "" {
			continue
		}
		if !destination.ValidAirportCode(code) {
			p.errs = append(p.errs, fmt.Errorf("%s: invalid airport code %q", key, code))
			continue
		}
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return fallback
	}
	return codes
}
