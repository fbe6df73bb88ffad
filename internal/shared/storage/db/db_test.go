package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
)

// pingFailures makes the next n pings on the test driver fail.
var pingFailures atomic.Int32

type nopDriver struct{}

func (d nopDriver) Open(name string) (driver.Conn, error) {
	return nopConn{}, nil
}

type nopConn struct{}

func (nopConn) Prepare(query string) (driver.Stmt, error) { return nopStmt{}, nil }
func (nopConn) Close() error                              { return nil }
func (nopConn) Begin() (driver.Tx, error)                 { return nopTx{}, nil }
func (nopConn) Ping(ctx context.Context) error {
	if pingFailures.Add(-1) >= 0 {
		return errors.New("connection refused")
	}
	pingFailures.Store(0)
	return nil
}

type nopStmt struct{}

func (nopStmt) Close() error                                    { return nil }
func (nopStmt) NumInput() int                                   { return -1 }
func (nopStmt) Exec(args []driver.Value) (driver.Result, error) { return nopResult{}, nil }
func (nopStmt) Query(args []driver.Value) (driver.Rows, error)  { return nopRows{}, nil }

type nopTx struct{}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }

type nopResult struct{}

func (nopResult) LastInsertId() (int64, error) { return 0, nil }
func (nopResult) RowsAffected() (int64, error) { return 0, nil }

type nopRows struct{}

func (nopRows) Columns() []string              { return []string{} }
func (nopRows) Close() error                   { return nil }
func (nopRows) Next(dest []driver.Value) error { return driver.ErrBadConn }

var registerTestDriverOnce sync.Once

func ensureTestDriverRegistered() {
	registerTestDriverOnce.Do(func() {
		sql.Register("dbtest", nopDriver{})
	})
}

func withTestDriver(t *testing.T) func() {
	t.Helper()
	ensureTestDriverRegistered()
	prev, prevBackoff := openDB, connectBackoff
	openDB = func(name, dsn string) (*sql.DB, error) {
		return sql.Open("dbtest", dsn)
	}
	connectBackoff = time.Millisecond
	pingFailures.Store(0)
	return func() {
		openDB, connectBackoff = prev, prevBackoff
		pingFailures.Store(0)
	}
}

func resetSingleton() {
	resetSingleton()
}

func TestGetSingletonReturnsSamePointer(t *testing.T) {
	restore := withTestDriver(t)
	defer restore()

	resetSingleton()

	db1, err := GetSingleton(context.Background(), "ignored", DefaultLambdaOptions())
	if err != nil {
		t.Fatalf("GetSingleton first: %v", err)
	}
	db2, err := GetSingleton(context.Background(), "ignored", DefaultLambdaOptions())
	if err != nil {
		t.Fatalf("GetSingleton second: %v", err)
	}
	if db1 != db2 {
		t.Fatalf("expected singleton pointers to match")
	}
}

func TestOptionsFromEnvAppliesOverrides(t *testing.T) {
	restore := withTestDriver(t)
	defer restore()

	t.Setenv("DB_MAX_OPEN_CONNS", "7")
	t.Setenv("DB_MAX_IDLE_CONNS", "3")
	t.Setenv("DB_CONN_MAX_LIFETIME", "20m")
	t.Setenv("DB_CONN_MAX_IDLE_TIME", "45s")
	t.Setenv("DB_PING_TIMEOUT", "1s")
	t.Setenv("DB_CONNECT_ATTEMPTS", "2")

	opts := OptionsFromEnv(DefaultServerOptions())
	db, err := Connect(context.Background(), "ignored", opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer db.Close()

	stats := db.Stats()
	if stats.MaxOpenConnections != 7 {
		t.Fatalf("expected MaxOpenConnections=7, got %d", stats.MaxOpenConnections)
	}
	if opts.MaxIdleConns != 3 {
		t.Fatalf("expected MaxIdleConns=3, got %d", opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime != 20*time.Minute {
		t.Fatalf("expected ConnMaxLifetime=20m, got %s", opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime != 45*time.Second {
		t.Fatalf("expected ConnMaxIdleTime=45s, got %s", opts.ConnMaxIdleTime)
	}
	if opts.PingTimeout != time.Second {
		t.Fatalf("expected PingTimeout=1s, got %s", opts.PingTimeout)
	}
	if opts.ConnectAttempts != 2 {
		t.Fatalf("expected ConnectAttempts=2, got %d", opts.ConnectAttempts)
	}
}

func TestOptionsFromEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("DB_MAX_OPEN_CONNS", "lots")
	t.Setenv("DB_MAX_IDLE_CONNS", "-4")
	t.Setenv("DB_PING_TIMEOUT", "soon")

	defaults := DefaultServerOptions()
	opts := OptionsFromEnv(defaults)
	if opts != defaults {
		t.Fatalf("expected defaults to survive invalid overrides, got %+v", opts)
	}
}

func TestConnectRetriesRefusedPings(t *testing.T) {
	restore := withTestDriver(t)
	defer restore()

	pingFailures.Store(2)
	opts := DefaultServerOptions()
	opts.ConnectAttempts = 3
	db, err := Connect(context.Background(), "ignored", opts)
	if err != nil {
		t.Fatalf("expected connect to succeed on third ping: %v", err)
	}
	db.Close()
}

func TestConnectGivesUpAfterAttempts(t *testing.T) {
	restore := withTestDriver(t)
	defer restore()

	pingFailures.Store(5)
	opts := DefaultMigrateOptions()
	opts.ConnectAttempts = 2
	if _, err := Connect(context.Background(), "ignored", opts); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestConnectRequiresURL(t *testing.T) {
	if _, err := Connect(context.Background(), "  ", DefaultServerOptions()); err == nil {
		t.Fatalf("expected error for empty DATABASE_URL")
	}
}

func TestGetSingletonConcurrentCallersShareOnePool(t *testing.T) {
	restore := withTestDriver(t)
	defer restore()
	resetSingleton()

	var wg sync.WaitGroup
	pools := make([]*sql.DB, 8)
	for i := range pools {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db, err := GetSingleton(context.Background(), "ignored", DefaultLambdaOptions())
			if err != nil {
				t.Errorf("GetSingleton: %v", err)
				return
			}
			pools[i] = db
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(pools); i++ {
		if pools[i] != pools[0] {
			t.Fatalf("caller %d got a different pool", i)
		}
	}
}

func TestGetSingletonRetriesAfterFailure(t *testing.T) {
	var calls int32
	prev := openDB
	openDB = func(name, dsn string) (*sql.DB, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, driver.ErrBadConn
		}
		ensureTestDriverRegistered()
		return sql.Open("dbtest", dsn)
	}
	defer func() {
		openDB = prev
	}()
	ensureTestDriverRegistered()

	resetSingleton()

	_, err := GetSingleton(context.Background(), "ignored", DefaultLambdaOptions())
	if err == nil {
		t.Fatalf("expected first call to fail")
	}
	db2, err := GetSingleton(context.Background(), "ignored", DefaultLambdaOptions())
	if err != nil {
		t.Fatalf("expected second call to succeed: %v", err)
	}
	if db2 == nil {
		t.Fatalf("expected db after retry")
	}
}

func TestEmbeddedMigrationsCoverSchema(t *testing.T) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	var all strings.Builder
	for _, entry := range entries {
		data, err := fs.ReadFile(migrationFiles, "migrations/"+entry.Name())
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		if !strings.Contains(string(data), "-- +goose Up") {
			t.Fatalf("%s missing goose Up marker", entry.Name())
		}
		all.Write(data)
	}
	for _, table := range []string{"quotas", "documents", "document_chunks", "conversations", "messages"} {
		if !strings.Contains(all.String(), "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("no migration creates table %s", table)
		}
	}
}

func TestEmbeddedMigrationsAreSequential(t *testing.T) {
	if err := setupGoose(); err != nil {
		t.Fatalf("setup goose: %v", err)
	}
	all, err := goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	for i, m := range all {
		if m.Version != int64(i+1) {
			t.Fatalf("migration %d has version %d", i, m.Version)
		}
	}
}

func TestVectorExtensionIsOptional(t *testing.T) {
	raw, err := migrationFiles.ReadFile(migrationsDir + "/00003_document_chunks.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(raw)
	guard := strings.Index(sqlText, "pg_available_extensions")
	create := strings.Index(sqlText, "CREATE EXTENSION")
	if guard < 0 || create < guard {
		t.Fatalf("CREATE EXTENSION vector must sit behind an availability check")
	}
	if !strings.Contains(sqlText, "-- +goose StatementBegin") || !strings.Contains(sqlText, "-- +goose StatementEnd") {
		t.Fatalf("DO block must be a single goose statement")
	}
	entries, err := migrationFiles.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() == "00003_document_chunks.sql" {
			continue
		}
		other, _ := migrationFiles.ReadFile(migrationsDir + "/" + e.Name())
		if strings.Contains(string(other), "vector") {
			t.Fatalf("%s depends on the vector extension", e.Name())
		}
	}
}
