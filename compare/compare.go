package compare

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jjkim0807/livesqlbench/dbutils"
)

// Executor is the statement execution surface the comparators need; it is
// satisfied by *dbutils.Manager.
type Executor interface {
	Execute(ctx context.Context, query string, dbName string, conn *sql.Conn) (*dbutils.Result, *sql.Conn, error)
	ExecuteSequence(ctx context.Context, queries []string, dbName string, conn *sql.Conn, logger zerolog.Logger, label string) (*dbutils.Result, bool, bool)
}

// CompareResults executes the candidate and reference statement lists on
// the same connection and decides whether the final result sets are
// semantically equivalent. Any execution error, timeout, or empty result
// on either side is a non-match.
func CompareResults(ctx context.Context, exec Executor, predSQLs, solSQLs []string, dbName string, conn *sql.Conn, orderMatters bool, logger zerolog.Logger) bool {
	if len(predSQLs) == 0 || len(solSQLs) == 0 {
		return false
	}

	predRes, predErr, predTimeout := exec.ExecuteSequence(ctx, predSQLs, dbName, conn, logger, "candidate result")
	solRes, solErr, solTimeout := exec.ExecuteSequence(ctx, solSQLs, dbName, conn, logger, "reference result")
	if predErr || predTimeout || solErr || solTimeout {
		return false
	}
	if predRes == nil || len(predRes.Rows) == 0 || solRes == nil || len(solRes.Rows) == 0 {
		return false
	}

	return RowsEqual(CanonicalRows(predRes.Rows), CanonicalRows(solRes.Rows), orderMatters)
}

type explainPlan struct {
	Plan struct {
		TotalCost float64 `json:"Total Cost"`
	} `json:"Plan"`
}

// CompareCost measures the planner's total estimated cost of both
// statement sets and reports whether the new set is strictly cheaper.
// Each set runs inside its own transaction that is always rolled back, so
// schema or data side effects never persist and both sides observe the
// same starting state.
func CompareCost(ctx context.Context, exec Executor, oldSQLs, newSQLs []string, dbName string, conn *sql.Conn, logger zerolog.Logger) bool {
	if len(oldSQLs) == 0 || len(newSQLs) == 0 {
		return false
	}

	oldCost := measureCost(ctx, exec, oldSQLs, dbName, conn, logger)
	newCost := measureCost(ctx, exec, newSQLs, dbName, conn, logger)

	logger.Info().Float64("old_cost", oldCost).Float64("new_cost", newCost).Msg("plan cost comparison")
	return newCost < oldCost
}

// measureCost sums the Total Cost of every DML statement, obtained via
// EXPLAIN (FORMAT JSON). Non-DML statements are executed for their side
// effects but contribute nothing to the sum. The whole set runs inside a
// transaction that is rolled back before returning.
func measureCost(ctx context.Context, exec Executor, sqls []string, dbName string, conn *sql.Conn, logger zerolog.Logger) float64 {
	if _, _, err := exec.Execute(ctx, "BEGIN", dbName, conn); err != nil {
		logger.Error().Err(err).Msg("failed to open cost measurement transaction")
		return 0
	}
	defer func() {
		if _, _, err := exec.Execute(ctx, "ROLLBACK", dbName, conn); err != nil {
			logger.Error().Err(err).Msg("failed to roll back cost measurement transaction")
		}
	}()

	total := 0.0
	for _, stmt := range sqls {
		if !isDML(stmt) {
			if _, _, err := exec.Execute(ctx, stmt, dbName, conn); err != nil {
				logger.Warn().Err(err).Str("sql", stmt).Msg("non-DML statement failed during cost measurement")
			}
			continue
		}

		result, _, err := exec.Execute(ctx, "EXPLAIN (FORMAT JSON) "+stmt, dbName, conn)
		if err != nil {
			logger.Warn().Err(err).Str("sql", stmt).Msg("EXPLAIN failed during cost measurement")
			continue
		}
		cost, ok := totalCost(result)
		if !ok {
			logger.Warn().Str("sql", stmt).Msg("unexpected EXPLAIN output, skipping cost")
			continue
		}
		total += cost
	}

	return total
}

func isDML(stmt string) bool {
	upper := strings.ToUpper(strings.TrimSpace(stmt))
	return strings.HasPrefix(upper, "SELECT") ||
		strings.HasPrefix(upper, "INSERT") ||
		strings.HasPrefix(upper, "UPDATE") ||
		strings.HasPrefix(upper, "DELETE")
}

func totalCost(result *dbutils.Result) (float64, bool) {
	if result == nil || len(result.Rows) == 0 || len(result.Rows[0]) == 0 {
		return 0, false
	}

	var raw []byte
	switch v := result.Rows[0][0].(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return 0, false
	}

	var plans []explainPlan
	if err := json.Unmarshal(raw, &plans); err != nil || len(plans) == 0 {
		return 0, false
	}
	return plans[0].Plan.TotalCost, true
}

// CheckKeywordUsage reports whether every required keyword or function
// name appears somewhere in the combined statement list.
func CheckKeywordUsage(sqls []string, requiredKeywords []string) bool {
	if len(sqls) == 0 {
		return false
	}

	combined := strings.ToLower(strings.Join(sqls, " "))
	for _, kw := range requiredKeywords {
		if !strings.Contains(combined, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}
