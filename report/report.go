// Package report aggregates per-instance outcomes into the run-level
// report and the optional annotated copy of the input.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jjkim0807/livesqlbench/benchmark"
)

// Summary is the run-level header of the report.
type Summary struct {
	RunID          string
	TotalInstances int
	Totals         benchmark.Totals
	Accuracy       float64
	Timestamp      string
}

// Accuracy computes the overall accuracy percentage: the share of
// instances without any error.
func Accuracy(totalInstances int, totals benchmark.Totals) float64 {
	if totalInstances == 0 {
		return 0
	}
	return float64(totalInstances-totals.Errors()) / float64(totalInstances) * 100
}

// Align sorts instances and outcomes into one common order by instance
// identity and verifies they correspond one to one.
func Align(instances []*benchmark.Instance, outcomes []*benchmark.Outcome) error {
	if len(instances) != len(outcomes) {
		return fmt.Errorf("instance/outcome count mismatch: %d vs %d", len(instances), len(outcomes))
	}

	sort.Slice(instances, func(i, j int) bool { return instances[i].InstanceID < instances[j].InstanceID })
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].InstanceID < outcomes[j].InstanceID })

	for i := range instances {
		if instances[i].InstanceID != outcomes[i].InstanceID {
			return fmt.Errorf("instance/outcome order mismatch at index %d: %s vs %s",
				i, instances[i].InstanceID, outcomes[i].InstanceID)
		}
	}
	return nil
}

// Render produces the plain-text run report.
func Render(summary Summary, outcomes []*benchmark.Outcome) string {
	var b strings.Builder

	b.WriteString("--------------------------------------------------\n")
	b.WriteString("LiveSQLBench Statistics (Postgres, Multi-Thread):\n")
	fmt.Fprintf(&b, "Run ID: %s\n", summary.RunID)
	fmt.Fprintf(&b, "Number of Instances: %d\n", summary.TotalInstances)
	fmt.Fprintf(&b, "Number of Execution Errors: %d\n", summary.Totals.ExecutionErrors)
	fmt.Fprintf(&b, "Number of Timeouts: %d\n", summary.Totals.Timeouts)
	fmt.Fprintf(&b, "Number of Assertion Errors: %d\n", summary.Totals.AssertionErrors)
	fmt.Fprintf(&b, "Total Errors: %d\n", summary.Totals.Errors())
	fmt.Fprintf(&b, "Overall Accuracy: %.2f%%\n", summary.Accuracy)
	fmt.Fprintf(&b, "Timestamp: %s\n\n", summary.Timestamp)

	for _, o := range outcomes {
		failed := "None"
		if len(o.FailedTestCases) > 0 {
			failed = strings.Join(o.FailedTestCases, ", ")
		}

		note := ""
		if o.ExecutionError {
			note += " | Eval Phase: Execution Error"
		}
		if o.TimeoutError {
			note += " | Eval Phase: Timeout Error"
		}
		if o.AssertionError {
			note += " | Eval Phase: Assertion Error"
		}

		fmt.Fprintf(&b, "Question_%s: (%d/%d) test cases passed, failed test cases: %s%s\n",
			o.InstanceID, o.PassedTestCases, o.TotalTestCases, failed, note)
	}

	return b.String()
}

// Write renders the report to path.
func Write(path string, summary Summary, outcomes []*benchmark.Outcome) error {
	if err := os.WriteFile(path, []byte(Render(summary, outcomes)), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// AnnotateJSONL writes a copy of the input with status and error_message
// populated per instance. Instances and outcomes must already be aligned.
func AnnotateJSONL(path string, instances []*benchmark.Instance, outcomes []*benchmark.Outcome) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating annotated output: %w", err)
	}
	defer file.Close()

	for i, instance := range instances {
		var record map[string]any
		if err := json.Unmarshal(instance.Raw, &record); err != nil {
			return fmt.Errorf("re-parsing instance %s: %w", instance.InstanceID, err)
		}

		record["status"] = outcomes[i].Status
		if outcomes[i].ErrorMessage != "" {
			record["error_message"] = outcomes[i].ErrorMessage
		} else {
			record["error_message"] = nil
		}

		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encoding instance %s: %w", instance.InstanceID, err)
		}
		if _, err := file.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("writing annotated output: %w", err)
		}
	}

	return nil
}
