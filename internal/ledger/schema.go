package ledger

import (
	"database/sql"

	"codeberg.org/mutker/circulatord/internal/errors"
	"codeberg.org/mutker/circulatord/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS ledger_days (
	       date         TEXT PRIMARY KEY,
	       run_seconds  INTEGER NOT NULL CHECK (run_seconds >= 0),
	       cycle_count  INTEGER NOT NULL CHECK (cycle_count >= 0),
	       capped       INTEGER NOT NULL CHECK (capped IN (0, 1))
	   );
	   CREATE TABLE IF NOT EXISTS cycle_history (
	       id           TEXT PRIMARY KEY,
	       started_at   INTEGER NOT NULL,
	       ended_at     INTEGER NOT NULL,
	       run_seconds  INTEGER NOT NULL CHECK (run_seconds >= 0),
	       priority     TEXT NOT NULL,
	       cap_cutoff   INTEGER NOT NULL CHECK (cap_cutoff IN (0, 1))
	   );`
)

// initSchema creates the database schema and records the current version.
func initSchema(db *sql.DB) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if _, err := tx.Exec(`
        INSERT OR IGNORE INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	return nil
}
