package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/jjkim0807/livesqlbench/benchmark"
	"github.com/jjkim0807/livesqlbench/catalog"
	"github.com/jjkim0807/livesqlbench/config"
	"github.com/jjkim0807/livesqlbench/dbutils"
	"github.com/jjkim0807/livesqlbench/pool"
	"github.com/jjkim0807/livesqlbench/predicate"
	"github.com/jjkim0807/livesqlbench/report"
	"github.com/jjkim0807/livesqlbench/util"
	"github.com/jjkim0807/livesqlbench/worker"
)

var Version = "dev"

func main() {
	app := &cli.App{
		Name:    "livesqlbench",
		Usage:   "evaluate generated SQL against reference solutions on live PostgreSQL databases",
		Version: Version,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run an evaluation over a JSONL instance file",
				Action: runAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "jsonl-file", Usage: "path to the JSONL dataset", Required: true},
					&cli.StringFlag{Name: "config", Usage: "optional yaml config file"},
					&cli.IntFlag{Name: "limit", Usage: "limit the number of instances to process"},
					&cli.IntFlag{Name: "num-threads", Value: 4, Usage: "number of parallel workers"},
					&cli.BoolFlag{Name: "logging", Usage: "enable per-instance log files and annotated output"},
					&cli.StringFlag{Name: "db-host", Usage: "database host"},
					&cli.IntFlag{Name: "db-port", Usage: "database port"},
					&cli.StringFlag{Name: "output-dir", Usage: "directory for reports and logs (defaults next to the input file)"},
					&cli.StringFlag{Name: "log-level", Value: "info", Usage: "log level (debug, info)"},
					&cli.BoolFlag{Name: "quiet", Usage: "disable logging"},
				},
			},
			{
				Name:   predicate.WorkerCommand,
				Hidden: true,
				Action: func(c *cli.Context) error {
					return predicate.RunWorker(os.Stdin, os.Stdout)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// Prepare zerolog
func setupLogging(disableLog bool, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var zlevel zerolog.Level
	if disableLog {
		zlevel = zerolog.Disabled
	} else if level == "debug" {
		zlevel = zerolog.DebugLevel
	} else {
		zlevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(zlevel)
}

func buildConfig(c *cli.Context) (*config.Run, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	cfg.JSONLFile = c.String("jsonl-file")
	if c.IsSet("limit") {
		cfg.Limit = c.Int("limit")
	}
	if c.IsSet("num-threads") {
		cfg.NumThreads = c.Int("num-threads")
	}
	if c.IsSet("logging") {
		cfg.Logging = c.Bool("logging")
	}
	if c.IsSet("db-host") {
		cfg.Database.Host = c.String("db-host")
	}
	if c.IsSet("db-port") {
		cfg.Database.Port = c.Int("db-port")
	}
	if c.IsSet("output-dir") {
		cfg.OutputDir = c.String("output-dir")
	}

	return cfg, nil
}

func runAction(c *cli.Context) error {
	setupLogging(c.Bool("quiet"), c.String("log-level"))
	ctx := context.Background()

	cfg, err := buildConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	instances, err := benchmark.LoadInstances(cfg.JSONLFile)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if len(instances) == 0 {
		return cli.Exit("No data found in the JSONL file.", 1)
	}
	if cfg.Limit > 0 && cfg.Limit < len(instances) {
		instances = instances[:cfg.Limit]
	}

	runID := uuid.NewString()
	experimentDir := experimentDir(cfg)
	util.CheckErr(os.MkdirAll(experimentDir, 0o755))

	zlog.Info().Str("run_id", runID).Int("instances", len(instances)).
		Int("workers", cfg.NumThreads).Msg("starting evaluation")

	manager := dbutils.NewManager(cfg.Database)
	admin := dbutils.NewShellAdmin(cfg.Database)
	dbPool := pool.New(admin, manager)

	defer manager.CloseAll()
	defer dbPool.Teardown(ctx)

	if err := dbPool.Provision(ctx, benchmark.BaseDatabases(instances), cfg.NumThreads); err != nil {
		zlog.Error().Err(err).Msg("provisioning ephemeral databases failed")
		return cli.Exit(err.Error(), 1)
	}

	executor := predicate.NewExecutor(util.Try(os.Executable()))
	stats := benchmark.NewStats()

	outcomes := runInstances(cfg, instances, manager, dbPool, executor, stats, experimentDir)

	totals := stats.Totals()
	summary := report.Summary{
		RunID:          runID,
		TotalInstances: len(instances),
		Totals:         totals,
		Accuracy:       report.Accuracy(len(instances), totals),
		Timestamp:      time.Now().Format("2006-01-02 15:04:05.000000"),
	}

	if err := report.Align(instances, outcomes); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	reportPath := filepath.Join(experimentDir, "report.txt")
	if err := report.Write(reportPath, summary, outcomes); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Printf("Overall Accuracy: %.2f%%\n", summary.Accuracy)
	fmt.Println("Overall report generated:", reportPath)

	if cfg.Logging {
		annotatedPath := filepath.Join(experimentDir, "output_with_status.jsonl")
		if err := report.AnnotateJSONL(annotatedPath, instances, outcomes); err != nil {
			zlog.Error().Err(err).Msg("failed to write annotated output")
		}
	}

	recordRun(cfg, summary)
	return nil
}

// runInstances fans the instance list out over the worker pool and
// collects every outcome, advancing a progress bar as they land.
func runInstances(cfg *config.Run, instances []*benchmark.Instance, manager *dbutils.Manager,
	dbPool *pool.Pool, executor *predicate.Executor, stats *benchmark.Stats, experimentDir string) []*benchmark.Outcome {
	instanceCh := make(chan *benchmark.Instance)
	outcomeCh := make(chan *benchmark.Outcome)

	var wg sync.WaitGroup
	for i := 0; i < cfg.NumThreads; i++ {
		w := worker.New(i, cfg, manager, dbPool, executor, stats, experimentDir)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(instanceCh, outcomeCh)
		}()
	}

	go func() {
		for _, instance := range instances {
			instanceCh <- instance
		}
		close(instanceCh)
	}()

	go func() {
		wg.Wait()
		close(outcomeCh)
	}()

	bar := pb.StartNew(len(instances))
	outcomes := make([]*benchmark.Outcome, 0, len(instances))
	for outcome := range outcomeCh {
		outcomes = append(outcomes, outcome)
		bar.Increment()
	}
	bar.Finish()

	return outcomes
}

// experimentDir is <output-dir>/<input-file-basename-without-extension>.
func experimentDir(cfg *config.Run) string {
	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(cfg.JSONLFile)
	}
	base := strings.TrimSuffix(filepath.Base(cfg.JSONLFile), filepath.Ext(cfg.JSONLFile))
	return filepath.Join(outputDir, base)
}

// recordRun appends the run to the local sqlite catalog; the catalog is
// advisory and never fails the run.
func recordRun(cfg *config.Run, summary report.Summary) {
	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(cfg.JSONLFile)
	}

	cat, err := catalog.Open(filepath.Join(outputDir, "livesqlbench_runs.db"))
	if err != nil {
		zlog.Error().Err(err).Msg("failed to open run catalog")
		return
	}
	defer cat.Close()

	err = cat.RecordRun(catalog.Run{
		RunID:          summary.RunID,
		InputFile:      cfg.JSONLFile,
		TotalInstances: summary.TotalInstances,
		Totals:         summary.Totals,
		Accuracy:       summary.Accuracy,
		CreatedAt:      summary.Timestamp,
	})
	if err != nil {
		zlog.Error().Err(err).Msg("failed to record run in catalog")
	}
}
