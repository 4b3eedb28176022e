package dbutils

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/jjkim0807/livesqlbench/config"
)

// Timeout applied to each admin command invocation.
const AdminTimeout = 60 * time.Second

// Admin is the database administration collaborator: create, drop and
// terminate-connections, executed against the server out-of-band.
type Admin interface {
	TerminateConnections(ctx context.Context, dbName string) error
	DropDatabase(ctx context.Context, dbName string, ifExists bool) error
	CreateDatabase(ctx context.Context, dbName string, template string) error
}

// ShellAdmin shells out to the postgres client binaries (psql, dropdb,
// createdb) with the configured host/port/user and PGPASSWORD injected
// through the environment. Any non-zero exit is an error.
type ShellAdmin struct {
	cfg config.DB
}

func NewShellAdmin(cfg config.DB) *ShellAdmin {
	return &ShellAdmin{cfg: cfg}
}

func (a *ShellAdmin) run(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, AdminTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+a.cfg.Password)

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s %v: %w (%s)", name, args, err, out)
	}
	return nil
}

func (a *ShellAdmin) connArgs() []string {
	return []string{
		"-h", a.cfg.Host,
		"-p", strconv.Itoa(a.cfg.Port),
		"-U", a.cfg.User,
	}
}

func (a *ShellAdmin) TerminateConnections(ctx context.Context, dbName string) error {
	stmt := fmt.Sprintf(
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = '%s' AND pid <> pg_backend_pid();",
		dbName)
	args := append(a.connArgs(), "-d", "postgres", "-c", stmt)
	return a.run(ctx, "psql", args...)
}

func (a *ShellAdmin) DropDatabase(ctx context.Context, dbName string, ifExists bool) error {
	args := []string{}
	if ifExists {
		args = append(args, "--if-exists")
	}
	args = append(args, a.connArgs()...)
	args = append(args, dbName)
	return a.run(ctx, "dropdb", args...)
}

func (a *ShellAdmin) CreateDatabase(ctx context.Context, dbName string, template string) error {
	args := append(a.connArgs(), dbName, "--template", template)
	return a.run(ctx, "createdb", args...)
}
