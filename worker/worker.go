package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/jjkim0807/livesqlbench/benchmark"
	"github.com/jjkim0807/livesqlbench/config"
	"github.com/jjkim0807/livesqlbench/dbutils"
	"github.com/jjkim0807/livesqlbench/pool"
	"github.com/jjkim0807/livesqlbench/predicate"
)

// Worker drives benchmark instances through the evaluation pipeline, one
// at a time: acquire an ephemeral database, preprocess, execute the
// candidate, run predicates, clean up, reset, release.
type Worker struct {
	id            int
	cfg           *config.Run
	manager       *dbutils.Manager
	dbPool        *pool.Pool
	executor      *predicate.Executor
	stats         *benchmark.Stats
	experimentDir string
}

func New(id int, cfg *config.Run, manager *dbutils.Manager, dbPool *pool.Pool,
	executor *predicate.Executor, stats *benchmark.Stats, experimentDir string) *Worker {
	return &Worker{
		id:            id,
		cfg:           cfg,
		manager:       manager,
		dbPool:        dbPool,
		executor:      executor,
		stats:         stats,
		experimentDir: experimentDir,
	}
}

// Run pulls instances until the channel closes, sending one outcome per
// instance. A failed instance never aborts its siblings.
func (w *Worker) Run(instances <-chan *benchmark.Instance, outcomes chan<- *benchmark.Outcome) {
	zlog.Info().Int("worker", w.id).Msg("worker started")
	for instance := range instances {
		outcomes <- w.ProcessInstance(context.Background(), instance)
	}
	zlog.Info().Int("worker", w.id).Msg("worker done")
}

// ProcessInstance runs one instance's pipeline to completion and records
// its outcome in the run statistics. Every error is converted into the
// outcome; only a failed database reset aborts the run, since a dirty
// clone must never re-enter the pool.
func (w *Worker) ProcessInstance(ctx context.Context, instance *benchmark.Instance) *benchmark.Outcome {
	logger, closeLog := w.instanceLogger(instance.InstanceID)
	defer closeLog()

	specs := instance.PredicateSpecs()
	outcome := &benchmark.Outcome{
		InstanceID:      instance.InstanceID,
		TotalTestCases:  len(specs),
		FailedTestCases: []string{},
	}

	if missing := instance.MissingFields(); len(missing) > 0 {
		logger.Error().Strs("missing", missing).Msg("missing required fields")
		outcome.TotalTestCases = len(instance.TestCases)
		outcome.ExecutionError = true
		outcome.ErrorMessage = "Missing fields: " + strings.Join(missing, ", ")
		return w.finish(outcome)
	}

	if instance.Category == benchmark.CategoryManagement && len(specs) == 0 {
		logger.Warn().Str("category", instance.Category).Msg("no test cases declared for management instance")
	}

	db, err := w.dbPool.Acquire(instance.SelectedDatabase, pool.AcquireTimeout)
	if err != nil {
		logger.Error().Err(err).Str("base", instance.SelectedDatabase).Msg("failed to acquire ephemeral database")
		outcome.ExecutionError = true
		outcome.ErrorMessage = "No available ephemeral databases."
		return w.finish(outcome)
	}
	logger.Info().Str("db", db.Name).Msg("acquired ephemeral database")

	func() {
		// the clone goes back to the pool clean no matter how the
		// evaluation went
		defer func() {
			if err := w.dbPool.Reset(ctx, db); err != nil {
				zlog.Fatal().Str("db", db.Name).Err(err).Msg("failed to reset ephemeral database")
			}
			w.dbPool.Release(db)
			logger.Info().Str("db", db.Name).Msg("returned ephemeral database")
		}()

		w.evaluate(ctx, instance, db, specs, outcome, logger)
	}()

	return w.finish(outcome)
}

// evaluate runs the preprocessing, candidate, predicate, and cleanup
// phases on the acquired clone.
func (w *Worker) evaluate(ctx context.Context, instance *benchmark.Instance, db *pool.Database,
	specs []predicate.Spec, outcome *benchmark.Outcome, logger zerolog.Logger) {
	logger.Info().Msg("starting evaluation phase")

	conn, err := w.manager.AcquireConnection(ctx, db.Name)
	if err != nil {
		logger.Error().Err(err).Msg("failed to acquire evaluation connection")
		outcome.ExecutionError = true
		outcome.ErrorMessage = err.Error()
		return
	}

	if len(instance.PreprocessSQL) > 0 {
		// a broken preprocess surfaces through the candidate run
		w.manager.ExecuteSequence(ctx, instance.PreprocessSQL, db.Name, conn, logger, "Preprocess SQL")
	}

	_, execErr, timeoutErr := w.manager.ExecuteSequence(ctx, instance.PredSQLs, db.Name, conn, logger, "Candidate SQL")
	outcome.ExecutionError = execErr
	outcome.TimeoutError = timeoutErr

	if !execErr && !timeoutErr && len(specs) > 0 {
		w.runPredicates(ctx, instance, db, specs, outcome, logger)
	}

	w.manager.ReleaseConnection(conn)

	if len(instance.CleanUpSQL) > 0 {
		logger.Info().Msg("executing clean up statements")
		cleanupConn, err := w.manager.AcquireConnection(ctx, db.Name)
		if err != nil {
			logger.Error().Err(err).Msg("failed to acquire cleanup connection")
		} else {
			w.manager.ExecuteSequence(ctx, instance.CleanUpSQL, db.Name, cleanupConn, logger, "Clean Up SQL")
			w.manager.ReleaseConnection(cleanupConn)
		}
	}

	logger.Info().Msg("evaluation phase completed")
}

// runPredicates executes each predicate serially in its isolated process
// and tallies the results. Any non-pass sets the assertion flag.
func (w *Worker) runPredicates(ctx context.Context, instance *benchmark.Instance, db *pool.Database,
	specs []predicate.Spec, outcome *benchmark.Outcome, logger zerolog.Logger) {
	for i, spec := range specs {
		logger.Info().Int("predicate", i+1).Int("total", len(specs)).Str("type", spec.Type).Msg("running predicate")

		req := &predicate.Request{
			DB:           w.cfg.Database,
			DBName:       db.Name,
			PredSQLs:     instance.PredSQLs,
			SolSQLs:      instance.SolSQL,
			Spec:         spec,
			OrderMatters: instance.Conditions.Order,
		}

		result, message := w.executor.Run(ctx, req, logger)
		if result == predicate.OutcomePassed {
			outcome.PassedTestCases++
			continue
		}

		outcome.FailedTestCases = append(outcome.FailedTestCases, fmt.Sprintf("test_%d", i+1))
		if message != "" && outcome.ErrorMessage == "" {
			outcome.ErrorMessage = message
		}
		logger.Error().Int("predicate", i+1).Str("outcome", string(result)).Msg(message)
	}

	if len(outcome.FailedTestCases) > 0 {
		outcome.AssertionError = true
	}
}

func (w *Worker) finish(outcome *benchmark.Outcome) *benchmark.Outcome {
	outcome.ResolveStatus()
	w.stats.Record(outcome)
	return outcome
}

// instanceLogger returns the per-instance logger: a dedicated log file
// under the experiment directory when logging is enabled, a no-op logger
// otherwise.
func (w *Worker) instanceLogger(instanceID string) (zerolog.Logger, func()) {
	if !w.cfg.Logging {
		return zerolog.Nop(), func() {}
	}

	path := filepath.Join(w.experimentDir, fmt.Sprintf("instance_%s.log", instanceID))
	file, err := os.Create(path)
	if err != nil {
		zlog.Error().Err(err).Str("path", path).Msg("failed to create instance log file")
		return zerolog.Nop(), func() {}
	}

	logger := zerolog.New(file).With().Timestamp().Str("instance", instanceID).Logger()
	return logger, func() { file.Close() }
}
