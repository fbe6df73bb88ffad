package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver
	"github.com/spf13/viper"

	"docchat-backend/internal/shared/retry"
	"docchat-backend/internal/shared/telemetry"
)

// Options controls the pool and how hard Connect tries to reach Postgres.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	// ConnectAttempts bounds startup pings; API and worker containers often
	// come up before the database does.
	ConnectAttempts int
}

var (
	openDB         = sql.Open
	singletonMu    sync.Mutex
	singletonCond  = sync.NewCond(&singletonMu)
	singletonDB    *sql.DB
	singletonInFly bool
	connectBackoff = 500 * time.Millisecond
)

// IsLambdaRuntime reports whether the current process is running in AWS Lambda.
func IsLambdaRuntime() bool {
	return strings.TrimSpace(os.Getenv("AWS_LAMBDA_FUNCTION_NAME")) != ""
}

// DefaultLambdaOptions keeps each warm container to a couple of connections.
// A failed cold start is retried by the next invocation instead.
func DefaultLambdaOptions() Options {
	return Options{
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxIdleTime: 30 * time.Second,
		ConnMaxLifetime: 15 * time.Minute,
		PingTimeout:     3 * time.Second,
		ConnectAttempts: 1,
	}
}

// DefaultServerOptions sizes the pool for the API plus an in-process worker
// pool: every ingest goroutine holds a connection during status transitions.
func DefaultServerOptions() Options {
	return Options{
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     5 * time.Second,
		ConnectAttempts: 5,
	}
}

// DefaultMigrateOptions is for goose and the admin CLI.
func DefaultMigrateOptions() Options {
	return Options{
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     5 * time.Second,
		ConnectAttempts: 3,
	}
}

// OptionsFromEnv overrides defaults with DB_* variables. Unparseable or
// non-positive values are logged and ignored.
func OptionsFromEnv(defaults Options) Options {
	v := viper.New()
	v.AutomaticEnv()

	opts := defaults
	overrideInt(v, "DB_MAX_OPEN_CONNS", &opts.MaxOpenConns)
	overrideInt(v, "DB_MAX_IDLE_CONNS", &opts.MaxIdleConns)
	overrideInt(v, "DB_CONNECT_ATTEMPTS", &opts.ConnectAttempts)
	overrideDuration(v, "DB_CONN_MAX_LIFETIME", &opts.ConnMaxLifetime)
	overrideDuration(v, "DB_CONN_MAX_IDLE_TIME", &opts.ConnMaxIdleTime)
	overrideDuration(v, "DB_PING_TIMEOUT", &opts.PingTimeout)
	return opts
}

// Connect opens a pool on DATABASE_URL and pings it, retrying refused or
// timed-out pings up to opts.ConnectAttempts times.
func Connect(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := openDB("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	applyOptions(db, opts)

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	policy := retry.Policy{
		MaxAttempts: opts.ConnectAttempts,
		BaseDelay:   connectBackoff,
		MaxDelay:    10 * time.Second,
		OnRetry: func(attempt int, err error) {
			telemetry.Warn("db.ping_retry", map[string]any{"attempt": attempt, "error": err.Error()})
		},
	}
	err = policy.Do(ctx, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return retry.Transient("ping", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	stats := db.Stats()
	telemetry.Info("db.connected", map[string]any{
		"max_open":  stats.MaxOpenConnections,
		"open":      stats.OpenConnections,
		"is_lambda": IsLambdaRuntime(),
	})
	return db, nil
}

// GetSingleton returns a process-wide pool for Lambda containers, where every
// invocation would otherwise open its own. Concurrent callers wait for the
// first connect; a failed connect is retried by the next caller.
func GetSingleton(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	singletonMu.Lock()
	for singletonInFly && singletonDB == nil {
		singletonCond.Wait()
	}
	if singletonDB != nil {
		db := singletonDB
		singletonMu.Unlock()
		return db, nil
	}
	singletonInFly = true
	singletonMu.Unlock()

	db, err := Connect(ctx, databaseURL, opts)

	singletonMu.Lock()
	if err == nil {
		singletonDB = db
	}
	singletonInFly = false
	singletonCond.Broadcast()
	singletonMu.Unlock()

	if err != nil {
		return nil, err
	}
	telemetry.Info("db.singleton", map[string]any{"event": "cold_start"})
	return db, nil
}

func applyOptions(db *sql.DB, opts Options) {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 || opts.MaxIdleConns > opts.MaxOpenConns {
		opts.MaxIdleConns = opts.MaxOpenConns / 2
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = time.Hour
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}
}

func overrideInt(v *viper.Viper, key string, dst *int) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return
	}
	if n := v.GetInt(key); n > 0 {
		*dst = n
		return
	}
	telemetry.Warn("db.env_invalid", map[string]any{"key": key, "value": raw})
}

func overrideDuration(v *viper.Viper, key string, dst *time.Duration) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		*dst = d
		return
	}
	telemetry.Warn("db.env_invalid", map[string]any{"key": key, "value": raw})
}
