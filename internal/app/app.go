// Package app builds the service components from configuration. It is shared
// by the HTTP server and the CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/recoverydesk/case-service/config"
	"github.com/recoverydesk/case-service/internal/database"
	httpclient "github.com/recoverydesk/case-service/internal/http"
	"github.com/recoverydesk/case-service/internal/ingest"
	"github.com/recoverydesk/case-service/internal/parsers"
	"github.com/recoverydesk/case-service/internal/parsers/charset"
	"github.com/recoverydesk/case-service/internal/parsers/csv"
	"github.com/recoverydesk/case-service/internal/registry"
	"github.com/recoverydesk/case-service/internal/resolver"
	"github.com/recoverydesk/case-service/internal/store"
	"github.com/recoverydesk/case-service/internal/webhook"
)

// Pinger checks a backing service
type Pinger func(ctx context.Context) error

// InitLogger builds the root logger. When cfg.File is set output also goes
// to a rotated log file.
func InitLogger(cfg config.LoggingConfig, service string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}
	if cfg.File != "" {
		output = zerolog.MultiLevelWriter(output, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}

	return zerolog.New(output).Level(level).With().Timestamp().Str("service", service).Logger()
}

// Store is an opened record store plus its lifecycle hooks
type Store struct {
	store.RecordStore
	Ping  Pinger
	Close func()
}

// OpenStore opens the record store selected by cfg.Store.Driver
func OpenStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Store, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		logger.Warn().Msg("Using in-memory record store; records are lost on restart")
		return &Store{RecordStore: store.NewMemory(), Close: func() {}}, nil

	case "sqlite":
		path := cfg.Store.SQLitePath
		if path != ":memory:" && !strings.HasPrefix(path, "file:") {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		db, err := store.OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", path).Msg("SQLite record store opened")
		return &Store{
			RecordStore: db,
			Ping:        db.Ping,
			Close:       func() { _ = db.Close() },
		}, nil

	case "postgres":
		err := database.Connect(ctx, cfg.Database.URL, database.PoolConfig{
			MaxConns:    cfg.Database.MaxConnections,
			MinConns:    cfg.Database.MinConnections,
			MaxLifetime: cfg.Database.MaxConnLifetime,
			MaxIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		pg := store.NewPostgres(database.Pool())
		if cfg.Store.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				database.Close()
				return nil, err
			}
		}
		logger.Info().Msg("Postgres record store connected")
		return &Store{
			RecordStore: pg,
			Ping:        database.Status,
			Close:       database.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Registry is an opened task registry plus its lifecycle hooks
type Registry struct {
	registry.Registry
	Ping  Pinger
	Close func()
}

// OpenRegistry opens the task registry selected by cfg.Registry.Driver
func OpenRegistry(ctx context.Context, cfg config.RegistryConfig, logger zerolog.Logger) (*Registry, error) {
	switch cfg.Driver {
	case "", "memory":
		return &Registry{Registry: registry.NewMemory(), Close: func() {}}, nil

	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info().Str("addr", opts.Addr).Msg("Redis task registry connected")

		reg := registry.NewRedis(client, registry.RedisOptions{Prefix: cfg.Prefix, TTL: cfg.TTL}, logger)
		return &Registry{
			Registry: reg,
			Ping:     func(ctx context.Context) error { return client.Ping(ctx).Err() },
			Close:    func() { _ = client.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unknown registry driver %q", cfg.Driver)
	}
}

// DecodeOptions translates the ingestion settings into decoder options
func DecodeOptions(cfg config.IngestionConfig) (parsers.Options, error) {
	enc, err := charset.Parse(cfg.Encoding)
	if err != nil {
		return parsers.Options{}, err
	}
	delim, ok := csv.ParseDelimiter(cfg.Delimiter)
	if !ok {
		return parsers.Options{}, fmt.Errorf("unsupported delimiter %q", cfg.Delimiter)
	}
	return parsers.Options{Encoding: enc, Delimiter: delim}, nil
}

// NewResolver builds the entity resolver from the ingestion settings
func NewResolver(st store.RecordStore, cfg config.IngestionConfig, logger zerolog.Logger) (*resolver.Resolver, error) {
	mode, err := resolver.ParseLockMode(cfg.ResolutionLock)
	if err != nil {
		return nil, err
	}
	mapping := resolver.DefaultFieldMapping()
	if len(cfg.FieldMapping) > 0 {
		mapping = mapping.Merge(resolver.FieldMapping(cfg.FieldMapping))
	}
	return resolver.New(st, resolver.Options{
		Mapping:        mapping,
		RequiredFields: cfg.RequiredFields,
		DefaultStatus:  cfg.DefaultCaseStatus,
		Lock:           mode,
	}, nil, logger), nil
}

// NewDispatcher returns the webhook dispatcher, or nil when no URL is set
func NewDispatcher(cfg config.WebhookConfig, logger zerolog.Logger) ingest.Dispatcher {
	if cfg.URL == "" {
		return nil
	}
	clientCfg := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		clientCfg.Timeout = cfg.Timeout
	}
	clientCfg.RequestsPerSecond = cfg.RequestsPerSecond
	if cfg.Burst > 0 {
		clientCfg.Burst = cfg.Burst
	}
	return webhook.NewDispatcher(cfg.URL, httpclient.NewClient(clientCfg), logger)
}

// RunnerConfig translates the ingestion settings into runner options
func RunnerConfig(cfg config.IngestionConfig) (ingest.Config, error) {
	decode, err := DecodeOptions(cfg)
	if err != nil {
		return ingest.Config{}, err
	}
	return ingest.Config{
		BatchSize:     cfg.BatchSize,
		BatchDelay:    cfg.BatchDelay,
		MaxConcurrent: cfg.MaxConcurrent,
		Decode:        decode,
	}, nil
}
