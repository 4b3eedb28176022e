package predicate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jjkim0807/livesqlbench/dbutils"
)

// WorkerCommand is the hidden CLI command the executor re-execs to run a
// predicate in its own process.
const WorkerCommand = "predicate-worker"

// Executor runs each predicate in a separate OS process so that infinite
// loops, crashes, or stray standard-output noise cannot affect the worker
// driving it. The processes communicate only a Request and a Response.
type Executor struct {
	binary string
}

func NewExecutor(binary string) *Executor {
	return &Executor{binary: binary}
}

// Run executes one predicate with a hard wall-clock budget. On expiry the
// child is killed and the outcome is OutcomeTimeout; a child that reports
// or suffers any error yields OutcomeFailed with a message.
func (e *Executor) Run(ctx context.Context, req *Request, logger zerolog.Logger) (Outcome, string) {
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return OutcomeFailed, "encoding predicate request: " + err.Error()
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.binary, WorkerCommand)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		logger.Error().Str("predicate", req.Spec.Type).Msg("predicate execution timed out")
		return OutcomeTimeout, "predicate execution timed out"
	}

	if stderr.Len() > 0 {
		logger.Debug().Str("predicate", req.Spec.Type).Msg(strings.TrimSpace(stderr.String()))
	}

	if runErr != nil {
		logger.Error().Str("predicate", req.Spec.Type).Err(runErr).Msg("predicate process failed")
		return OutcomeFailed, "predicate process failed: " + runErr.Error()
	}

	var resp Response
	if err := msgpack.NewDecoder(&stdout).Decode(&resp); err != nil {
		return OutcomeFailed, "decoding predicate response: " + err.Error()
	}
	if !resp.Passed {
		return OutcomeFailed, resp.Message
	}
	return OutcomePassed, ""
}

// RunWorker is the child side: it decodes a Request from r, evaluates the
// selected primitive against a fresh connection pool, and writes the
// Response to w. Only codec errors are returned; evaluation failures
// travel inside the Response.
func RunWorker(r io.Reader, w io.Writer) error {
	var req Request
	if err := msgpack.NewDecoder(r).Decode(&req); err != nil {
		return errors.New("decoding predicate request: " + err.Error())
	}

	manager := dbutils.NewManager(req.DB)
	defer manager.CloseAll()

	resp := Response{Passed: true}
	if err := evaluate(context.Background(), manager, &req); err != nil {
		resp.Passed = false
		resp.Message = err.Error()
	}

	if err := msgpack.NewEncoder(w).Encode(&resp); err != nil {
		return errors.New("encoding predicate response: " + err.Error())
	}
	return nil
}

func evaluate(ctx context.Context, manager *dbutils.Manager, req *Request) error {
	evaluator, err := lookup(req.Spec.Type)
	if err != nil {
		return err
	}
	return evaluator(ctx, manager, req)
}
