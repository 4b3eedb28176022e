package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjkim0807/livesqlbench/benchmark"
)

func TestAccuracy(t *testing.T) {
	assert.Equal(t, 0.0, Accuracy(0, benchmark.Totals{}))
	assert.Equal(t, 100.0, Accuracy(4, benchmark.Totals{Passed: 4}))
	assert.Equal(t, 75.0, Accuracy(4, benchmark.Totals{ExecutionErrors: 1, Passed: 3}))
}

func TestAlignSortsByInstanceID(t *testing.T) {
	instances := []*benchmark.Instance{{InstanceID: "q2"}, {InstanceID: "q1"}}
	outcomes := []*benchmark.Outcome{{InstanceID: "q1"}, {InstanceID: "q2"}}

	require.NoError(t, Align(instances, outcomes))
	assert.Equal(t, "q1", instances[0].InstanceID)
	assert.Equal(t, "q1", outcomes[0].InstanceID)
}

func TestAlignMismatch(t *testing.T) {
	err := Align(
		[]*benchmark.Instance{{InstanceID: "q1"}},
		[]*benchmark.Outcome{{InstanceID: "q1"}, {InstanceID: "q2"}},
	)
	assert.ErrorContains(t, err, "count mismatch")

	err = Align(
		[]*benchmark.Instance{{InstanceID: "q1"}},
		[]*benchmark.Outcome{{InstanceID: "q9"}},
	)
	assert.ErrorContains(t, err, "order mismatch")
}

func TestRender(t *testing.T) {
	summary := Summary{
		RunID:          "run-1",
		TotalInstances: 2,
		Totals:         benchmark.Totals{AssertionErrors: 1, Passed: 1},
		Accuracy:       50,
		Timestamp:      "2026-08-23 10:00:00",
	}
	outcomes := []*benchmark.Outcome{
		{InstanceID: "q1", PassedTestCases: 1, TotalTestCases: 1},
		{
			InstanceID:      "q2",
			PassedTestCases: 0,
			TotalTestCases:  1,
			FailedTestCases: []string{"test_1"},
			AssertionError:  true,
		},
	}

	text := Render(summary, outcomes)

	assert.Contains(t, text, "LiveSQLBench Statistics (Postgres, Multi-Thread):")
	assert.Contains(t, text, "Overall Accuracy: 50.00%")
	assert.Contains(t, text, "Question_q1: (1/1) test cases passed, failed test cases: None")
	assert.Contains(t, text, "Question_q2: (0/1) test cases passed, failed test cases: test_1 | Eval Phase: Assertion Error")
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, Write(path, Summary{RunID: "run-1"}, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Run ID: run-1")
}

func TestAnnotateJSONL(t *testing.T) {
	instances := []*benchmark.Instance{
		{InstanceID: "q1", Raw: json.RawMessage(`{"instance_id": "q1", "custom_field": 7}`)},
		{InstanceID: "q2", Raw: json.RawMessage(`{"instance_id": "q2"}`)},
	}
	outcomes := []*benchmark.Outcome{
		{InstanceID: "q1", Status: benchmark.StatusSuccess},
		{InstanceID: "q2", Status: benchmark.StatusFailed, ErrorMessage: "boom"},
	}

	path := filepath.Join(t.TempDir(), "annotated.jsonl")
	require.NoError(t, AnnotateJSONL(path, instances, outcomes))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "success", first["status"])
	assert.Nil(t, first["error_message"])
	assert.Equal(t, float64(7), first["custom_field"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "failed", second["status"])
	assert.Equal(t, "boom", second["error_message"])
}
