// Package db provides the persistent store for the orchestration engine.
//
// The store exclusively owns durable rows: tickets, tasks, agents, phases,
// discoveries, guardian actions, the event audit log, and phase gate state.
// Every mutable row carries a monotonically increasing version used for
// optimistic concurrency; guarded updates fail with a STALE_VERSION error
// when the row changed under the reader.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/orchard-dev/orchard/internal/db/driver"
	"github.com/orchard-dev/orchard/internal/errors"
)

//go:embed schema/*.sql schema/postgres/*.sql
var schemaFS embed.FS

// embedFSAdapter wraps embed.FS to implement driver.SchemaFS.
type embedFSAdapter struct {
	fs embed.FS
}

func (e *embedFSAdapter) ReadDir(name string) ([]driver.DirEntry, error) {
	entries, err := e.fs.ReadDir(name)
	if err != nil {
		return nil, err
	}
	result := make([]driver.DirEntry, len(entries))
	for i, entry := range entries {
		result[i] = dirEntryAdapter{entry}
	}
	return result, nil
}

func (e *embedFSAdapter) ReadFile(name string) ([]byte, error) {
	return e.fs.ReadFile(name)
}

type dirEntryAdapter struct {
	fs.DirEntry
}

func (d dirEntryAdapter) Name() string {
	return d.DirEntry.Name()
}

func (d dirEntryAdapter) IsDir() bool {
	return d.DirEntry.IsDir()
}

// Store wraps a database connection with driver abstraction and provides
// session-scoped transactional access to engine entities.
type Store struct {
	driver   deadlineDriver
	dsn      string
	deadline time.Duration
}

// deadlineDriver is the subset of driver.Driver the store uses directly.
type deadlineDriver = driver.Driver

// DefaultDeadline bounds every store operation unless overridden.
const DefaultDeadline = 5 * time.Second

// Open opens a SQLite store at the given path, creating the parent
// directory if needed, and applies pending migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return OpenWithDialect(path, driver.DialectSQLite)
}

// OpenInMemory opens an in-memory SQLite store.
// Each call creates a new isolated database; ideal for tests.
func OpenInMemory() (*Store, error) {
	return OpenWithDialect(":memory:", driver.DialectSQLite)
}

// OpenWithDialect opens a store with a specific dialect and applies
// pending migrations.
func OpenWithDialect(dsn string, dialect driver.Dialect) (*Store, error) {
	drv, err := driver.New(dialect)
	if err != nil {
		return nil, err
	}

	if err := drv.Open(dsn); err != nil {
		return nil, err
	}

	s := &Store{driver: drv, dsn: dsn, deadline: DefaultDeadline}
	if err := s.Migrate(); err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// SetDeadline overrides the per-operation deadline.
func (s *Store) SetDeadline(d time.Duration) {
	if d > 0 {
		s.deadline = d
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.driver.Close()
}

// DSN returns the store's DSN/path.
func (s *Store) DSN() string {
	return s.dsn
}

// Dialect returns the database dialect.
func (s *Store) Dialect() driver.Dialect {
	return s.driver.Dialect()
}

// DB returns the underlying sql.DB for advanced operations.
func (s *Store) DB() *sql.DB {
	return s.driver.DB()
}

// Migrate applies pending core schema migrations.
func (s *Store) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.deadline)
	defer cancel()
	return s.driver.Migrate(ctx, &embedFSAdapter{fs: schemaFS}, "core")
}

// TxRunner provides a transactional execution interface. It lets
// multi-table operations run atomically and lets tests substitute the
// store behind components.
type TxRunner interface {
	// RunInTx executes fn within a transaction. If fn returns an error
	// or panics, the transaction is rolled back; otherwise it commits.
	RunInTx(ctx context.Context, fn func(tx *TxOps) error) error
}

// TxOps provides database operations within a transaction. The context
// carries the store deadline and is used for every statement.
type TxOps struct {
	tx         driver.Tx
	dialect    driver.Dialect
	lockSuffix string
	ctx        context.Context
}

// Exec executes a statement within the transaction.
func (t *TxOps) Exec(query string, args ...any) (sql.Result, error) {
	res, err := t.tx.Exec(t.ctx, query, args...)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return res, nil
}

// Query executes a query that returns rows within the transaction.
func (t *TxOps) Query(query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.Query(t.ctx, query, args...)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return rows, nil
}

// QueryRow executes a query that returns at most one row.
func (t *TxOps) QueryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRow(t.ctx, query, args...)
}

// Context returns the context associated with this transaction.
func (t *TxOps) Context() context.Context {
	return t.ctx
}

// Dialect returns the database dialect.
func (t *TxOps) Dialect() driver.Dialect {
	return t.dialect
}

// LockSuffix returns the dialect's row-lock clause for locking reads.
func (t *TxOps) LockSuffix() string {
	return t.lockSuffix
}

// RunInTx executes fn within a database transaction bounded by the
// store deadline. Rollback is guaranteed on every non-commit exit path,
// including panics.
func (s *Store) RunInTx(ctx context.Context, fn func(tx *TxOps) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	tx, err := s.driver.BeginTx(ctx, nil)
	if err != nil {
		return errors.ErrTransport("begin transaction", err)
	}

	// Rollback on every non-commit exit path, panics included.
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	txOps := &TxOps{
		tx:         tx,
		dialect:    s.driver.Dialect(),
		lockSuffix: s.driver.LockSuffix(),
		ctx:        ctx,
	}

	if err := fn(txOps); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.ErrTransport("commit transaction", err)
	}
	committed = true
	return nil
}

// Ensure Store implements TxRunner.
var _ TxRunner = (*Store)(nil)

// wrapStoreErr classifies low-level database failures. Deadline expiry
// and connection loss surface as retryable transport errors.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		return errors.ErrTransport("store deadline exceeded", err)
	}
	return err
}
