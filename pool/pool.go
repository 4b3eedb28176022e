package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/jjkim0807/livesqlbench/dbutils"
)

// How long Acquire blocks for a free clone before giving up.
const AcquireTimeout = 60 * time.Second

// ErrAcquireTimeout is returned when no clone of the requested base
// database frees up within the acquire timeout. It is a hard failure for
// the instance that asked, never retried.
var ErrAcquireTimeout = errors.New("no available ephemeral databases")

// Database is a disposable clone of a base database. Exactly one worker
// owns it between Acquire and Release.
type Database struct {
	Name string
	Base string
}

// Pool hands out ephemeral database clones, one bounded queue per base
// database. A clone is either sitting in its queue or held by a worker.
type Pool struct {
	admin   dbutils.Admin
	manager *dbutils.Manager

	mu     sync.Mutex
	queues map[string]chan *Database
	clones []*Database
}

func New(admin dbutils.Admin, manager *dbutils.Manager) *Pool {
	return &Pool{
		admin:   admin,
		manager: manager,
		queues:  map[string]chan *Database{},
	}
}

// TemplateName returns the template database a clone of base is cut from.
func TemplateName(base string) string {
	return base + "_template"
}

// CloneName returns the name of the i-th clone of base (1-based).
func CloneName(base string, i int) string {
	return fmt.Sprintf("%s_process_%d", base, i)
}

// Provision creates copies clones per base database from its template and
// fills the queues. A pre-existing clone with the same name is dropped
// first; a failed create aborts provisioning.
func (p *Pool) Provision(ctx context.Context, baseNames []string, copies int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, base := range baseNames {
		template := TemplateName(base)
		queue := make(chan *Database, copies)

		for i := 1; i <= copies; i++ {
			name := CloneName(base, i)

			// leftovers from a previous run; ignore the drop outcome
			_ = p.admin.DropDatabase(ctx, name, true)

			zlog.Info().Str("db", name).Str("template", template).Msg("creating ephemeral database")
			if err := p.admin.CreateDatabase(ctx, name, template); err != nil {
				return fmt.Errorf("creating ephemeral database %s: %w", name, err)
			}

			db := &Database{Name: name, Base: base}
			p.clones = append(p.clones, db)
			queue <- db
		}

		p.queues[base] = queue
	}

	return nil
}

// Acquire blocks up to timeout for a free clone of base.
func (p *Pool) Acquire(base string, timeout time.Duration) (*Database, error) {
	p.mu.Lock()
	queue, ok := p.queues[base]
	p.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no ephemeral databases provisioned for base %s", base)
	}

	select {
	case db := <-queue:
		return db, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w for base %s", ErrAcquireTimeout, base)
	}
}

// Release puts a clone back into its queue unconditionally. The caller is
// responsible for having reset it first; the pool performs no validation.
func (p *Pool) Release(db *Database) {
	p.mu.Lock()
	queue := p.queues[db.Base]
	p.mu.Unlock()

	queue <- db
}

// Reset restores a clone to its template state: the connection pool bound
// to it is closed, remaining backends are terminated, and the database is
// dropped and recreated from the template. Any failure propagates; an
// un-reset clone must never re-enter the queue.
func (p *Pool) Reset(ctx context.Context, db *Database) error {
	p.manager.ClosePool(db.Name)

	if err := p.admin.TerminateConnections(ctx, db.Name); err != nil {
		return fmt.Errorf("terminating connections to %s: %w", db.Name, err)
	}
	if err := p.admin.DropDatabase(ctx, db.Name, true); err != nil {
		return fmt.Errorf("dropping %s: %w", db.Name, err)
	}
	if err := p.admin.CreateDatabase(ctx, db.Name, TemplateName(db.Base)); err != nil {
		return fmt.Errorf("recreating %s: %w", db.Name, err)
	}
	return nil
}

// Teardown drops every clone, regardless of how individual instances
// fared. Failures are logged, not returned.
func (p *Pool) Teardown(ctx context.Context) {
	p.mu.Lock()
	clones := p.clones
	p.mu.Unlock()

	for _, db := range clones {
		zlog.Info().Str("db", db.Name).Msg("dropping ephemeral database")
		p.manager.ClosePool(db.Name)
		if err := p.admin.DropDatabase(ctx, db.Name, true); err != nil {
			zlog.Error().Str("db", db.Name).Err(err).Msg("failed to drop ephemeral database")
		}
	}
}
