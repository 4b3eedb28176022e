package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjkim0807/livesqlbench/benchmark"
	"github.com/jjkim0807/livesqlbench/config"
	"github.com/jjkim0807/livesqlbench/dbutils"
	"github.com/jjkim0807/livesqlbench/pool"
)

// recordingAdmin logs every administration call instead of shelling out.
type recordingAdmin struct {
	mu    sync.Mutex
	calls []string
}

func (a *recordingAdmin) record(call string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call)
}

func (a *recordingAdmin) recorded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *recordingAdmin) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = nil
}

func (a *recordingAdmin) TerminateConnections(_ context.Context, db string) error {
	a.record("terminate:" + db)
	return nil
}

func (a *recordingAdmin) DropDatabase(_ context.Context, db string, ifExists bool) error {
	a.record(fmt.Sprintf("drop:%s:%t", db, ifExists))
	return nil
}

func (a *recordingAdmin) CreateDatabase(_ context.Context, db string, template string) error {
	a.record(fmt.Sprintf("create:%s:%s", db, template))
	return nil
}

func newTestWorker(admin dbutils.Admin) (*Worker, *pool.Pool, *benchmark.Stats) {
	cfg := config.Default()
	// nothing listens on port 1, so connection attempts fail immediately
	cfg.Database = config.DB{Host: "127.0.0.1", Port: 1, User: "root", MinConn: 1, MaxConn: 2}
	manager := dbutils.NewManager(cfg.Database)
	stats := benchmark.NewStats()
	dbPool := pool.New(admin, manager)
	w := New(1, cfg, manager, dbPool, nil, stats, "")
	return w, dbPool, stats
}

func parseInstance(t *testing.T, raw string) *benchmark.Instance {
	t.Helper()
	instance := &benchmark.Instance{}
	require.NoError(t, json.Unmarshal([]byte(raw), instance))
	instance.Raw = json.RawMessage(raw)
	return instance
}

func TestProcessInstanceMissingFields(t *testing.T) {
	admin := &recordingAdmin{}
	w, _, stats := newTestWorker(admin)

	instance := parseInstance(t, `{
		"instance_id": "q1",
		"selected_database": "sales",
		"sol_sql": ["SELECT 1"]
	}`)

	outcome := w.ProcessInstance(context.Background(), instance)

	assert.True(t, outcome.ExecutionError)
	assert.Equal(t, "Missing fields: preprocess_sql, pred_sqls", outcome.ErrorMessage)
	assert.Equal(t, benchmark.StatusFailed, outcome.Status)
	// the pipeline never touched a database
	assert.Empty(t, admin.recorded())
	assert.Equal(t, 1, stats.Totals().ExecutionErrors)
}

func TestProcessInstanceNoEphemeralDatabase(t *testing.T) {
	w, _, stats := newTestWorker(&recordingAdmin{})

	// the pool was never provisioned for this base
	instance := parseInstance(t, `{
		"instance_id": "q1",
		"selected_database": "sales",
		"preprocess_sql": [],
		"sol_sql": ["SELECT 1"],
		"pred_sqls": ["SELECT 1"]
	}`)

	outcome := w.ProcessInstance(context.Background(), instance)

	assert.True(t, outcome.ExecutionError)
	assert.Equal(t, "No available ephemeral databases.", outcome.ErrorMessage)
	assert.Equal(t, benchmark.StatusFailed, outcome.Status)
	assert.Equal(t, 1, stats.Totals().ExecutionErrors)
}

func TestProcessInstanceResetsAndReleasesClone(t *testing.T) {
	admin := &recordingAdmin{}
	w, dbPool, _ := newTestWorker(admin)
	require.NoError(t, dbPool.Provision(context.Background(), []string{"sales"}, 1))

	instance := parseInstance(t, `{
		"instance_id": "q1",
		"selected_database": "sales",
		"preprocess_sql": [],
		"sol_sql": ["SELECT 1"],
		"pred_sqls": ["SELECT 1"]
	}`)

	admin.reset()
	outcome := w.ProcessInstance(context.Background(), instance)

	// the evaluation connection fails, yet the clone is restored from
	// its template before going back to the pool
	assert.True(t, outcome.ExecutionError)
	assert.Equal(t, []string{
		"terminate:sales_process_1",
		"drop:sales_process_1:true",
		"create:sales_process_1:sales_template",
	}, admin.recorded())

	db, err := dbPool.Acquire("sales", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "sales_process_1", db.Name)
}
