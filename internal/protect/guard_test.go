package protect

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuardDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "guard.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, value TEXT NOT NULL)`)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func itemCount(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	return n
}

func okSnapshot() ([]byte, error) { return []byte("{}"), nil }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestGuardCommit(t *testing.T) {
	db := newGuardDB(t)
	g := NewGuard("test", db, okSnapshot, 10, testLogger())

	err := g.Mutate("insert", func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO items (value) VALUES ('a')`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, itemCount(t, db))
	assert.Equal(t, StateIdle, g.State())
	assert.Equal(t, 1, len(g.Snapshots()), "snapshot taken before the mutation")
}

func TestGuardValidationFailureRollsBack(t *testing.T) {
	db := newGuardDB(t)
	g := NewGuard("test", db, okSnapshot, 10, testLogger())

	err := g.Mutate("insert", func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO items (value) VALUES ('a')`)
		return err
	}, func(tx *sql.Tx) error {
		return fmt.Errorf("row-shape: value not allowed")
	})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "row-shape", vErr.Invariant)
	assert.Equal(t, 0, itemCount(t, db), "nothing committed")
	assert.False(t, g.Halted())
}

func TestGuardApplyFailureRollsBack(t *testing.T) {
	db := newGuardDB(t)
	g := NewGuard("test", db, okSnapshot, 10, testLogger())

	boom := errors.New("apply failed")
	err := g.Mutate("insert", func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO items (value) VALUES ('a')`); err != nil {
			return err
		}
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, itemCount(t, db))
}

func TestGuardBackupFailsClosed(t *testing.T) {
	db := newGuardDB(t)
	g := NewGuard("test", db, func() ([]byte, error) {
		return nil, errors.New("disk full")
	}, 10, testLogger())

	applied := false
	err := g.Mutate("insert", func(tx *sql.Tx) error {
		applied = true
		return nil
	})

	var bErr *BackupFailure
	require.ErrorAs(t, err, &bErr)
	assert.False(t, applied, "mutation never ran")
	assert.Empty(t, g.Snapshots())
	assert.False(t, g.Halted(), "backup failure is not fatal")
}

func TestGuardValidatorsSeeUncommittedState(t *testing.T) {
	db := newGuardDB(t)
	g := NewGuard("test", db, okSnapshot, 10, testLogger())

	err := g.Mutate("insert", func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO items (value) VALUES ('a')`)
		return err
	}, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("visibility: expected 1 uncommitted row, saw %d", n)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestGuardSnapshotRetention(t *testing.T) {
	db := newGuardDB(t)
	g := NewGuard("test", db, okSnapshot, 3, testLogger())

	for i := 0; i < 5; i++ {
		err := g.Mutate("insert", func(tx *sql.Tx) error {
			_, err := tx.Exec(`INSERT INTO items (value) VALUES ('x')`)
			return err
		})
		require.NoError(t, err)
	}
	assert.Len(t, g.Snapshots(), 3)
}

func TestGuardHaltsOnRollbackFailure(t *testing.T) {
	db := newGuardDB(t)
	g := NewGuard("test", db, okSnapshot, 10, testLogger())

	// Ending the transaction behind the driver's back makes the guard's
	// rollback fail, which is the one unrecoverable path.
	err := g.Mutate("insert", func(tx *sql.Tx) error {
		if _, err := tx.Exec(`ROLLBACK`); err != nil {
			return err
		}
		return errors.New("apply failed")
	})

	var rbErr *RollbackFailure
	require.ErrorAs(t, err, &rbErr)
	assert.True(t, g.Halted())

	err = g.Mutate("insert", func(tx *sql.Tx) error { return nil })
	assert.ErrorIs(t, err, ErrWritesHalted)

	g.ClearHalt()
	assert.False(t, g.Halted())
}
