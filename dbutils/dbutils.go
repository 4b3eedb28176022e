package dbutils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/jjkim0807/livesqlbench/config"
)

const (
	// Server-side statement timeout applied to every statement.
	StatementTimeout = 60 * time.Second

	// Results are fetched up to this many rows; the excess is silently
	// truncated, never reported as an error.
	MaxRows = 10000
)

// SQLSTATE for query_canceled, raised when statement_timeout fires.
const queryCanceledCode = "57014"

// Result is the fetched output of one statement. Rows is nil for
// statements that produce no row set.
type Result struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
}

// Manager keeps one *sql.DB per database name. Each handle is itself a
// connection pool; phases check dedicated connections out of it and put
// them back when done.
type Manager struct {
	cfg config.DB

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewManager(cfg config.DB) *Manager {
	return &Manager{cfg: cfg, dbs: map[string]*sql.DB{}}
}

func (m *Manager) handle(dbName string) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if db, ok := m.dbs[dbName]; ok {
		return db, nil
	}

	db, err := sql.Open("postgres", m.cfg.DSN(dbName))
	if err != nil {
		return nil, fmt.Errorf("opening pool for %s: %w", dbName, err)
	}
	db.SetMaxOpenConns(m.cfg.MaxConn)
	// the number of idle connections should be the same as the number of
	// open connections, otherwise connections are constantly created and
	// destroyed when workers outnumber the idle allowance
	db.SetMaxIdleConns(m.cfg.MaxConn)

	m.dbs[dbName] = db
	return db, nil
}

// AcquireConnection checks a dedicated connection out of the pool for a
// phase. The caller owns it until ReleaseConnection.
func (m *Manager) AcquireConnection(ctx context.Context, dbName string) (*sql.Conn, error) {
	db, err := m.handle(dbName)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection to %s: %w", dbName, err)
	}
	return conn, nil
}

// ReleaseConnection puts a phase connection back into its pool.
func (m *Manager) ReleaseConnection(conn *sql.Conn) {
	if conn != nil {
		conn.Close()
	}
}

// ClosePool closes the pool bound to dbName and forgets it. Used before a
// database is dropped, so no pooled connection can pin it.
func (m *Manager) ClosePool(dbName string) {
	m.mu.Lock()
	db, ok := m.dbs[dbName]
	delete(m.dbs, dbName)
	m.mu.Unlock()

	if ok {
		db.Close()
	}
}

// CloseAll closes every pool. Called once at the end of the run.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	dbs := m.dbs
	m.dbs = map[string]*sql.DB{}
	m.mu.Unlock()

	for _, db := range dbs {
		db.Close()
	}
}

// Execute runs one statement on dbName. If conn is nil, a connection is
// checked out and returned to the caller, which keeps it for the rest of
// its phase and must release it explicitly. Each statement runs with the
// server-side statement timeout set; its rows are fetched up to MaxRows.
func (m *Manager) Execute(ctx context.Context, query string, dbName string, conn *sql.Conn) (*Result, *sql.Conn, error) {
	if conn == nil {
		c, err := m.AcquireConnection(ctx, dbName)
		if err != nil {
			return nil, nil, err
		}
		conn = c
	}

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET statement_timeout = '%ds'", int(StatementTimeout.Seconds()))); err != nil {
		rollback(ctx, conn)
		return nil, conn, fmt.Errorf("setting statement timeout on %s: %w", dbName, err)
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		rollback(ctx, conn)
		return nil, conn, err
	}

	result, err := fetch(rows)
	rows.Close()
	if err != nil {
		rollback(ctx, conn)
		return nil, conn, err
	}
	return result, conn, nil
}

// rollback clears any open or aborted transaction after a failed
// statement, so the connection stays usable for the statements that
// follow. Outside a transaction the server answers with a warning only.
func rollback(ctx context.Context, conn *sql.Conn) {
	_, _ = conn.ExecContext(ctx, "ROLLBACK")
}

func fetch(rows *sql.Rows) (*Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Result{Columns: columns}
	if len(columns) == 0 {
		return result, rows.Err()
	}

	for rows.Next() {
		if len(result.Rows) == MaxRows {
			result.Truncated = true
			break
		}

		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, values)
	}

	if !result.Truncated {
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ExecuteSequence runs the statements in order on one connection. On the
// first error it stops and reports either the timeout or the execution
// flag; it never continues past a failure. The returned result is the one
// produced by the last statement that ran.
func (m *Manager) ExecuteSequence(ctx context.Context, queries []string, dbName string, conn *sql.Conn, logger zerolog.Logger, label string) (*Result, bool, bool) {
	var result *Result

	for i, query := range queries {
		logger.Debug().Str("section", label).Str("db", dbName).
			Int("statement", i+1).Int("total", len(queries)).Msg(query)

		r, _, err := m.Execute(ctx, query, dbName, conn)
		if err != nil {
			if IsTimeout(err) {
				logger.Error().Str("section", label).Err(err).Msg("statement timed out")
				return result, false, true
			}
			logger.Error().Str("section", label).Err(err).Msg("statement failed")
			return result, true, false
		}
		result = r
	}

	return result, false, false
}

// IsTimeout reports whether err is a server-side statement cancellation.
func IsTimeout(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == queryCanceledCode
}
