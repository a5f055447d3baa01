package ledger

import "time"

// Day is the live runtime record for one calendar day.
type Day struct {
	Date       string
	RunSeconds int
	CycleCount int
	Capped     bool
}

// CycleRecord is one completed actuation cycle, kept for the host's
// dashboard pipeline.
type CycleRecord struct {
	ID         string
	StartedAt  time.Time
	EndedAt    time.Time
	RunSeconds int
	Priority   string
	CapCutoff  bool
}

// Repository defines the interface for ledger data storage.
type Repository interface {
	// LoadCurrent returns the most recent day record, if any.
	LoadCurrent() (Day, bool, error)

	// SaveDay upserts a day record.
	SaveDay(day Day) error

	// DeleteDaysAfter removes day records dated after the given date.
	// Used to drop future-dated rows left behind by a clock rollback,
	// so they cannot shadow the real current day on later loads.
	DeleteDaysAfter(date string) error

	// RecordCycle appends a completed cycle to the history.
	RecordCycle(cycle CycleRecord) error

	Close() error
}
