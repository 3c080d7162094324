// Package protect wraps every Tier 1 and Tier 2 mutation in a
// backup-apply-validate-commit cycle. A guard serializes writes to its store;
// readers keep seeing the last committed state until the commit lands, so no
// reader ever observes a partially applied mutation.
package protect

import (
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State names the guard's position in its mutation cycle.
type State int32

const (
	StateIdle State = iota
	StateBackingUp
	StateValidating
	StateCommitting
	StateRollingBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateBackingUp:
		return "BACKING_UP"
	case StateValidating:
		return "VALIDATING"
	case StateCommitting:
		return "COMMITTING"
	case StateRollingBack:
		return "ROLLING_BACK"
	default:
		return "UNKNOWN"
	}
}

// Snapshotter serializes the committed state of the guard's table scope.
type Snapshotter func() ([]byte, error)

// Validator checks a structural invariant against the in-flight transaction.
// A non-nil return names the violated invariant and aborts the commit.
type Validator func(tx *sql.Tx) error

// Outcome is reported to the metrics hook after every mutation attempt.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomeBackupFail Outcome = "backup_failed"
	OutcomeFatal      Outcome = "rollback_failed"
)

// ObserveFunc receives (operation, outcome, duration) per mutation attempt.
type ObserveFunc func(op string, outcome Outcome, d time.Duration)

// Guard is the protection layer for one store. Mutations run one at a time;
// a Tier 1 guard and a Tier 2 guard may run concurrently with each other.
type Guard struct {
	name      string
	db        *sql.DB
	snapshot  Snapshotter
	snapshots *SnapshotRing

	mu     sync.Mutex
	state  atomic.Int32
	halted atomic.Bool

	logger  *slog.Logger
	observe ObserveFunc
}

// NewGuard creates a guard for the named store.
func NewGuard(name string, db *sql.DB, snapshot Snapshotter, retention int, logger *slog.Logger) *Guard {
	return &Guard{
		name:      name,
		db:        db,
		snapshot:  snapshot,
		snapshots: NewSnapshotRing(retention),
		logger:    logger,
	}
}

// SetObserver installs a metrics hook. Must be called before first use.
func (g *Guard) SetObserver(fn ObserveFunc) { g.observe = fn }

// Name returns the store name this guard protects.
func (g *Guard) Name() string { return g.name }

// State returns the guard's current cycle position.
func (g *Guard) State() State { return State(g.state.Load()) }

// Halted reports whether writes are blocked pending manual intervention.
func (g *Guard) Halted() bool { return g.halted.Load() }

// ClearHalt re-enables writes after an operator has verified store state.
func (g *Guard) ClearHalt() {
	g.halted.Store(false)
	g.logger.Warn("write halt cleared by operator", "store", g.name)
}

// Snapshots returns the retained pre-mutation backups, newest first.
func (g *Guard) Snapshots() []Snapshot { return g.snapshots.List() }

// Mutate runs one protected mutation: snapshot the committed state, apply fn
// inside a transaction, run the validators, then commit. Any failure before
// commit rolls the transaction back and leaves the store exactly as it was.
// A failed snapshot aborts before anything is applied. A failed rollback is
// fatal: it is surfaced as RollbackFailure and the guard refuses all further
// writes until ClearHalt.
func (g *Guard) Mutate(op string, fn func(tx *sql.Tx) error, validators ...Validator) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.halted.Load() {
		return ErrWritesHalted
	}

	start := time.Now()
	outcome, err := g.mutate(op, fn, validators)
	if g.observe != nil {
		g.observe(op, outcome, time.Since(start))
	}
	return err
}

func (g *Guard) mutate(op string, fn func(tx *sql.Tx) error, validators []Validator) (Outcome, error) {
	defer g.state.Store(int32(StateIdle))

	g.state.Store(int32(StateBackingUp))
	data, err := g.snapshot()
	if err != nil {
		// Fail closed: no transaction opened, nothing applied.
		g.logger.Error("backup failed", "store", g.name, "op", op, "error", err)
		return OutcomeBackupFail, &BackupFailure{Err: err}
	}
	g.snapshots.Push(Snapshot{Op: op, TakenAt: time.Now(), Size: len(data), Data: data})

	tx, err := g.db.Begin()
	if err != nil {
		return OutcomeBackupFail, &BackupFailure{Err: err}
	}

	if err := fn(tx); err != nil {
		return g.rollback(tx, op, err)
	}

	g.state.Store(int32(StateValidating))
	for _, v := range validators {
		if verr := v(tx); verr != nil {
			return g.rollback(tx, op, &ValidationError{Invariant: invariantName(verr), Err: verr})
		}
	}

	g.state.Store(int32(StateCommitting))
	if err := tx.Commit(); err != nil {
		// A failed commit applies nothing; report it but no rollback needed.
		g.logger.Error("commit failed", "store", g.name, "op", op, "error", err)
		return OutcomeRolledBack, err
	}
	return OutcomeCommitted, nil
}

func (g *Guard) rollback(tx *sql.Tx, op string, cause error) (Outcome, error) {
	g.state.Store(int32(StateRollingBack))
	if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
		g.halted.Store(true)
		fatal := &RollbackFailure{Store: g.name, Err: rbErr}
		g.logger.Error("rollback failed, writes halted",
			"store", g.name, "op", op, "cause", cause, "error", rbErr)
		return OutcomeFatal, fatal
	}
	g.logger.Warn("mutation rolled back", "store", g.name, "op", op, "cause", cause)
	return OutcomeRolledBack, cause
}

// invariantName extracts the short invariant tag from a validator error, the
// text up to the first colon.
func invariantName(err error) string {
	msg := err.Error()
	for i, r := range msg {
		if r == ':' {
			return msg[:i]
		}
	}
	return msg
}
