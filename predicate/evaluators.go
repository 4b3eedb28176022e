package predicate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/jjkim0807/livesqlbench/compare"
	"github.com/jjkim0807/livesqlbench/dbutils"
)

func init() {
	Register(TypeEquivalence, evaluateEquivalence)
	Register(TypePlanCost, evaluatePlanCost)
	Register(TypeKeywordUsage, evaluateKeywordUsage)
}

// The default check for Query instances: normalize both statement lists
// and compare their result sets, honoring the instance's order option.
func evaluateEquivalence(ctx context.Context, manager *dbutils.Manager, req *Request) error {
	predSQLs := compare.Normalize(req.PredSQLs)
	solSQLs := compare.Normalize(req.SolSQLs)

	conn, err := manager.AcquireConnection(ctx, req.DBName)
	if err != nil {
		return err
	}
	defer manager.ReleaseConnection(conn)

	if !compare.CompareResults(ctx, manager, predSQLs, solSQLs, req.DBName, conn, req.OrderMatters, zlog.Logger) {
		return errors.New("candidate result set is not equivalent to the reference")
	}
	return nil
}

// The efficiency check: the candidate's summed plan cost must be strictly
// lower than the reference's.
func evaluatePlanCost(ctx context.Context, manager *dbutils.Manager, req *Request) error {
	conn, err := manager.AcquireConnection(ctx, req.DBName)
	if err != nil {
		return err
	}
	defer manager.ReleaseConnection(conn)

	if !compare.CompareCost(ctx, manager, req.SolSQLs, req.PredSQLs, req.DBName, conn, zlog.Logger) {
		return errors.New("candidate plan cost is not lower than the reference")
	}
	return nil
}

func evaluateKeywordUsage(ctx context.Context, _ *dbutils.Manager, req *Request) error {
	if !compare.CheckKeywordUsage(req.PredSQLs, req.Spec.RequiredKeywords) {
		return fmt.Errorf("candidate statements do not use all required keywords: %s",
			strings.Join(req.Spec.RequiredKeywords, ", "))
	}
	return nil
}
