package dbutils

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjkim0807/livesqlbench/config"
)

func TestIsTimeout(t *testing.T) {
	canceled := &pq.Error{Code: "57014"}
	assert.True(t, IsTimeout(canceled))
	assert.True(t, IsTimeout(fmt.Errorf("executing statement: %w", canceled)))

	assert.False(t, IsTimeout(&pq.Error{Code: "42601"}))
	assert.False(t, IsTimeout(errors.New("plain error")))
	assert.False(t, IsTimeout(nil))
}

// stubConn is a minimal driver connection recording every statement it
// sees, failing the one configured in failOn.
type stubConn struct {
	mu       sync.Mutex
	executed []string
	failOn   string
}

func (c *stubConn) record(query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executed = append(c.executed, query)
}

func (c *stubConn) statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.executed...)
}

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

func (c *stubConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.record(query)
	if query == c.failOn {
		return nil, errors.New("statement failed")
	}
	return driver.RowsAffected(0), nil
}

func (c *stubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.record(query)
	if query == c.failOn {
		return nil, errors.New("statement failed")
	}
	return &stubRows{}, nil
}

type stubRows struct{}

func (r *stubRows) Columns() []string           { return nil }
func (r *stubRows) Close() error                { return nil }
func (r *stubRows) Next([]driver.Value) error   { return io.EOF }

type stubConnector struct {
	conn *stubConn
}

func (c *stubConnector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c *stubConnector) Driver() driver.Driver                        { return nil }

func stubConnection(t *testing.T, stub *stubConn) *sql.Conn {
	t.Helper()

	db := sql.OpenDB(&stubConnector{conn: stub})
	t.Cleanup(func() { db.Close() })

	conn, err := db.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func TestExecuteRollsBackOnStatementError(t *testing.T) {
	stub := &stubConn{failOn: "SELECT broken"}
	conn := stubConnection(t, stub)

	m := NewManager(config.DB{})
	_, _, err := m.Execute(context.Background(), "SELECT broken", "sales", conn)
	require.Error(t, err)

	// the rollback keeps the connection out of the aborted-transaction
	// state, so later statements on it still run
	assert.Equal(t, []string{
		"SET statement_timeout = '60s'",
		"SELECT broken",
		"ROLLBACK",
	}, stub.statements())
}

func TestExecuteNoRollbackOnSuccess(t *testing.T) {
	stub := &stubConn{}
	conn := stubConnection(t, stub)

	m := NewManager(config.DB{})
	result, _, err := m.Execute(context.Background(), "SELECT 1", "sales", conn)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, []string{
		"SET statement_timeout = '60s'",
		"SELECT 1",
	}, stub.statements())
}
