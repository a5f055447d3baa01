package ledger

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"codeberg.org/mutker/circulatord/internal/errors"
	"codeberg.org/mutker/circulatord/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

const defaultDirPerm = 0o755

type sqliteRepository struct {
	db *sql.DB
	mu sync.Mutex
}

// NewRepository opens (or creates) the ledger database at dbPath.
func NewRepository(dbPath string) (Repository, error) {
	errFactory := errors.New()

	if dbPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	dsn := dbPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()

		return nil, err
	}

	logger.Debug().
		Str("path", dbPath).
		Int("schema_version", SchemaVersion).
		Msg("Ledger repository initialized")

	return &sqliteRepository{db: db}, nil
}

func (r *sqliteRepository) LoadCurrent() (Day, bool, error) {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	var day Day
	var capped int
	err := r.db.QueryRow(`
        SELECT date, run_seconds, cycle_count, capped
        FROM ledger_days
        ORDER BY date DESC
        LIMIT 1
    `).Scan(&day.Date, &day.RunSeconds, &day.CycleCount, &capped)

	if errors.Is(err, sql.ErrNoRows) {
		return Day{}, false, nil
	}
	if err != nil {
		return Day{}, false, errFactory.Wrap(ErrStorageAccess, err)
	}

	day.Capped = capped != 0

	return day, true, nil
}

func (r *sqliteRepository) SaveDay(day Day) error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
        INSERT INTO ledger_days (date, run_seconds, cycle_count, capped)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(date) DO UPDATE SET
            run_seconds = excluded.run_seconds,
            cycle_count = excluded.cycle_count,
            capped = excluded.capped
    `, day.Date, day.RunSeconds, day.CycleCount, boolToInt(day.Capped))
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) DeleteDaysAfter(date string) error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`DELETE FROM ledger_days WHERE date > ?`, date)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) RecordCycle(cycle CycleRecord) error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
        INSERT INTO cycle_history (id, started_at, ended_at, run_seconds, priority, cap_cutoff)
        VALUES (?, ?, ?, ?, ?, ?)
    `,
		cycle.ID,
		cycle.StartedAt.Unix(),
		cycle.EndedAt.Unix(),
		cycle.RunSeconds,
		cycle.Priority,
		boolToInt(cycle.CapCutoff),
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) Close() error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	if err := r.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
