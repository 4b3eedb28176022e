// Package benchmark defines the evaluation input and output records: the
// immutable instances read from JSONL, the per-instance outcomes, and the
// run-level counters.
package benchmark

import (
	"encoding/json"

	"github.com/jjkim0807/livesqlbench/predicate"
)

// Instance categories.
const (
	CategoryQuery      = "Query"
	CategoryManagement = "Management"
)

// StatementList accepts either a single SQL string or a list of them,
// which is how the input format writes statement fields.
type StatementList []string

func (s *StatementList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*s = nil
		} else {
			*s = StatementList{single}
		}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = StatementList(list)
	return nil
}

// Conditions tune the comparison; Order makes row order significant.
type Conditions struct {
	Order bool `json:"order"`
}

// Instance is one benchmark record. Read once from input and never
// mutated; workers reference it concurrently.
type Instance struct {
	InstanceID       string           `json:"instance_id"`
	SelectedDatabase string           `json:"selected_database"`
	PreprocessSQL    StatementList    `json:"preprocess_sql"`
	SolSQL           StatementList    `json:"sol_sql"`
	PredSQLs         StatementList    `json:"pred_sqls"`
	CleanUpSQL       StatementList    `json:"clean_up_sql"`
	TestCases        []predicate.Spec `json:"test_cases"`
	Conditions       Conditions       `json:"conditions"`
	Category         string           `json:"category"`
	Efficiency       bool             `json:"efficiency"`

	// Raw is the original record, kept so the annotated output preserves
	// fields this struct does not model.
	Raw json.RawMessage `json:"-"`
}

var requiredFields = []string{"selected_database", "preprocess_sql", "sol_sql", "pred_sqls"}

// MissingFields returns the required input keys absent from the record.
// Key presence is what counts: an explicitly empty list is not missing.
func (in *Instance) MissingFields() []string {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(in.Raw, &keys); err != nil {
		return requiredFields
	}

	var missing []string
	for _, field := range requiredFields {
		if _, ok := keys[field]; !ok {
			missing = append(missing, field)
		}
	}
	return missing
}

// PredicateSpecs returns the predicates to run for this instance: its own
// list when it declares one, the category default otherwise.
func (in *Instance) PredicateSpecs() []predicate.Spec {
	if len(in.TestCases) > 0 {
		return in.TestCases
	}
	return predicate.DefaultSpecs(in.Category, in.Efficiency)
}

// Outcome is the terminal result of one instance's pipeline. Created once
// at the end and never mutated afterwards.
type Outcome struct {
	InstanceID      string   `json:"instance_id"`
	Status          string   `json:"status"`
	ErrorMessage    string   `json:"error_message,omitempty"`
	TotalTestCases  int      `json:"total_test_cases"`
	PassedTestCases int      `json:"passed_test_cases"`
	FailedTestCases []string `json:"failed_test_cases"`

	ExecutionError bool `json:"evaluation_phase_execution_error"`
	TimeoutError   bool `json:"evaluation_phase_timeout_error"`
	AssertionError bool `json:"evaluation_phase_assertion_error"`
}

// Outcome statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ResolveStatus derives the final status: failed iff any of the error
// flags is set.
func (o *Outcome) ResolveStatus() {
	if o.ExecutionError || o.TimeoutError || o.AssertionError {
		o.Status = StatusFailed
	} else {
		o.Status = StatusSuccess
	}
}
