// Package predicate runs verification predicates against an ephemeral
// database. A predicate is data, never code: a type selecting one of a
// closed set of verification primitives, plus parameters. Bespoke checks
// plug in through Register.
package predicate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jjkim0807/livesqlbench/config"
	"github.com/jjkim0807/livesqlbench/dbutils"
)

// Wall-clock budget for one predicate execution.
const Timeout = 60 * time.Second

// Outcome of one predicate run. Timeout is distinct from Failed: the
// predicate never got to report anything.
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
)

// Builtin predicate types.
const (
	TypeEquivalence  = "equivalence"
	TypePlanCost     = "plan_cost"
	TypeKeywordUsage = "keyword_usage"
)

// Spec selects and parameterizes one verification primitive. In JSONL
// input a spec is either an object or a bare string naming the type.
type Spec struct {
	Type             string   `json:"type" msgpack:"type"`
	RequiredKeywords []string `json:"required_keywords,omitempty" msgpack:"required_keywords"`
}

func (s *Spec) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		s.Type = name
		return nil
	}

	type plain Spec
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Spec(p)
	return nil
}

// DefaultSpecs returns the predicate list for an instance that declares
// none: plain Query instances get the equivalence check, efficiency-
// flagged ones the plan-cost comparison. Management instances are
// expected to bring their own predicates, so the default is empty.
func DefaultSpecs(category string, efficiency bool) []Spec {
	if category != "" && category != "Query" {
		return nil
	}
	if efficiency {
		return []Spec{{Type: TypePlanCost}}
	}
	return []Spec{{Type: TypeEquivalence}}
}

// Request carries everything a predicate needs across the process
// boundary. The child opens its own connection; no state is shared.
type Request struct {
	DB           config.DB `msgpack:"db"`
	DBName       string    `msgpack:"db_name"`
	PredSQLs     []string  `msgpack:"pred_sqls"`
	SolSQLs      []string  `msgpack:"sol_sqls"`
	Spec         Spec      `msgpack:"spec"`
	OrderMatters bool      `msgpack:"order_matters"`
}

// Response is the child's verdict.
type Response struct {
	Passed  bool   `msgpack:"passed"`
	Message string `msgpack:"message"`
}

// Evaluator decides pass (nil) or fail (error) for one predicate.
type Evaluator func(ctx context.Context, manager *dbutils.Manager, req *Request) error

var (
	registryMu sync.RWMutex
	registry   = map[string]Evaluator{}
)

// Register installs an evaluator under the given predicate type,
// replacing any previous one.
func Register(name string, evaluator Evaluator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = evaluator
}

func lookup(name string) (Evaluator, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	evaluator, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown predicate type %q", name)
	}
	return evaluator, nil
}
