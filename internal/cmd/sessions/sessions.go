// Package sessions parses sessions command flags and composes the server entrypoint.
package sessions

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	entrypoint "github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/cmd"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/config"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/logging"
	server "github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/app"
)

// StoreConfig holds the backend settings shared by the server and maintenance commands.
type StoreConfig struct {
	Backend         string        `env:"BACKEND"              envDefault:"sqlite"`
	DBPath          string        `env:"DB_PATH"              envDefault:"data/sessions.db"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS"    envDefault:"50"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS"    envDefault:"50"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	PoolWait        time.Duration `env:"DB_POOL_WAIT"         envDefault:"500ms"`
	ChunkSize       int           `env:"CHUNK_SIZE"           envDefault:"10000"`
	RedisAddr       string        `env:"REDIS_ADDR"           envDefault:"localhost:6379"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB"             envDefault:"0"`
	RedisPrefix     string        `env:"REDIS_PREFIX"         envDefault:"tomcat:"`
}

// Server converts the settings into the app-level store configuration.
func (c StoreConfig) Server() server.StoreConfig {
	return server.StoreConfig{
		Backend:         c.Backend,
		DBPath:          c.DBPath,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		PoolWait:        c.PoolWait,
		ChunkSize:       c.ChunkSize,
		RedisAddr:       c.RedisAddr,
		RedisPassword:   c.RedisPassword,
		RedisDB:         c.RedisDB,
		RedisPrefix:     c.RedisPrefix,
	}
}

// RegisterFlags binds flag overrides for the store settings.
func (c *StoreConfig) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Backend, "backend", c.Backend, "session backend: sqlite or redis")
	fs.StringVar(&c.DBPath, "db-path", c.DBPath, "SQLite session database path (env "+config.Key("DB_PATH")+")")
	fs.IntVar(&c.MaxOpenConns, "db-max-open-conns", c.MaxOpenConns, "maximum open pooled connections")
	fs.IntVar(&c.MaxIdleConns, "db-max-idle-conns", c.MaxIdleConns, "maximum idle pooled connections")
	fs.DurationVar(&c.ConnMaxLifetime, "db-conn-max-lifetime", c.ConnMaxLifetime, "maximum lifetime of a pooled connection")
	fs.DurationVar(&c.PoolWait, "db-pool-wait", c.PoolWait, "maximum wait for a pooled connection")
	fs.IntVar(&c.ChunkSize, "chunk-size", c.ChunkSize, "payload read chunk size in bytes (minimum 10000)")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis address (password via env "+config.Key("REDIS_PASSWORD")+")")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", c.RedisPrefix, "Redis key prefix")
}

// Config holds sessions command configuration.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR"         envDefault:"localhost:8095"`
	MaxInactive     time.Duration `env:"MAX_INACTIVE"      envDefault:"60s"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL"    envDefault:"30s"`
	MaxPayloadBytes int64         `env:"MAX_PAYLOAD_BYTES" envDefault:"16777216"`
	LogLevel        string        `env:"LOG_LEVEL"         envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT"        envDefault:"text"`
	Store           StoreConfig
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "sessions HTTP listen address")
	fs.DurationVar(&cfg.MaxInactive, "max-inactive", cfg.MaxInactive, "idle time after which a session expires")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "interval between expiry sweeps")
	fs.Int64Var(&cfg.MaxPayloadBytes, "max-payload-bytes", cfg.MaxPayloadBytes, "largest accepted session payload")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	cfg.Store.RegisterFlags(fs)
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the sessions app and serves it until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger, err := logging.New(level, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSessions, func(ctx context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:        cfg.HTTPAddr,
			Store:           cfg.Store.Server(),
			MaxInactive:     cfg.MaxInactive,
			SweepInterval:   cfg.SweepInterval,
			MaxPayloadBytes: cfg.MaxPayloadBytes,
			Logger:          logger,
		}); err != nil {
			return fmt.Errorf("serve sessions: %w", err)
		}
		return nil
	})
}
