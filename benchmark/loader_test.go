package benchmark

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSONL(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instances.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))
	return path
}

func TestLoadInstances(t *testing.T) {
	path := writeJSONL(t, `{"instance_id": "q1", "selected_database": "sales", "pred_sqls": ["SELECT 1"]}

{"instance_id": "q2", "selected_database": "crm", "pred_sqls": "SELECT 2"}
`)

	instances, err := LoadInstances(path)
	require.NoError(t, err)
	require.Len(t, instances, 2)

	assert.Equal(t, "q1", instances[0].InstanceID)
	assert.Equal(t, "sales", instances[0].SelectedDatabase)
	assert.Equal(t, StatementList{"SELECT 2"}, instances[1].PredSQLs)
	assert.NotEmpty(t, instances[0].Raw)
}

func TestLoadInstancesMalformedLine(t *testing.T) {
	path := writeJSONL(t, `{"instance_id": "q1"}
not json
`)

	_, err := LoadInstances(path)
	assert.Error(t, err)
}

func TestLoadInstancesMissingFile(t *testing.T) {
	_, err := LoadInstances(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.Error(t, err)
}

func TestBaseDatabases(t *testing.T) {
	instances := []*Instance{
		{SelectedDatabase: "sales"},
		{SelectedDatabase: "crm"},
		{SelectedDatabase: "sales"},
		{SelectedDatabase: ""},
	}

	assert.Equal(t, []string{"sales", "crm"}, BaseDatabases(instances))
}
