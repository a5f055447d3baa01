// Package ledger tracks cumulative actuator-on seconds and cycle count
// for the current calendar day and enforces the daily runtime cap. The
// day record rolls over at local midnight; a missed midnight is caught
// up lazily before the next usage record is accepted.
package ledger

import (
	"time"

	"codeberg.org/mutker/circulatord/internal/logger"
)

const dateLayout = "2006-01-02"

// Ledger is the daily runtime accountant. It is driven from the host's
// single dispatch loop and performs its own rollover checks; the
// repository underneath it carries its own locking.
type Ledger struct {
	repo       Repository
	capSeconds int
	now        func() time.Time
	day        Day
}

// New loads (or creates) the current day record. A repository that
// cannot be read degrades to an empty, uncapped day with a loud
// warning: this happens at most once per process lifetime, so a broken
// store cannot silently disable the cap forever.
func New(repo Repository, capSeconds int) *Ledger {
	return NewWithClock(repo, capSeconds, time.Now)
}

// NewWithClock creates a ledger with an injected clock, for tests.
func NewWithClock(repo Repository, capSeconds int, now func() time.Time) *Ledger {
	l := &Ledger{
		repo:       repo,
		capSeconds: capSeconds,
		now:        now,
	}

	today := l.today()
	stored, found, err := repo.LoadCurrent()
	if err == nil && found && stored.Date > today {
		// Clock rollback left future-dated rows behind. Drop them so
		// they cannot shadow the real current day on this or any later
		// load, then reload whatever remains.
		logger.Warn().
			Str("stored_date", stored.Date).
			Str("current_date", today).
			Msg("Ledger date is ahead of the clock, dropping stale records")
		if delErr := repo.DeleteDaysAfter(today); delErr != nil {
			logger.Warn().Err(delErr).Msg("Failed to drop stale ledger records")
		}
		stored, found, err = repo.LoadCurrent()
	}

	switch {
	case err != nil:
		logger.Warn().
			Err(err).
			Msg("Ledger store unreadable, defaulting to uncapped day; cap state will be rebuilt from new usage")
		l.day = Day{Date: today}
	case !found:
		l.day = Day{Date: today}
	case stored.Date == today:
		l.day = stored
		// Re-derive the cap from the persisted usage itself.
		if !l.day.Capped && l.day.RunSeconds >= capSeconds {
			l.day.Capped = true
		}
	default:
		logger.Info().
			Str("stored_date", stored.Date).
			Str("current_date", today).
			Msg("Catching up missed day rollover")
		l.day = Day{Date: today}
		l.persist()
	}

	return l
}

// RecordUsage adds actuator-on seconds to the current day. endOfCycle
// marks a distinct Running to non-Running transition and increments the
// cycle count; partial recordings (midnight split, checkpoint) pass
// false.
func (l *Ledger) RecordUsage(seconds int, endOfCycle bool) {
	l.rollover()

	l.day.RunSeconds += seconds
	if endOfCycle {
		l.day.CycleCount++
	}
	l.persist()
}

// WouldExceedCap reports whether the given additional run seconds would
// reach or pass the daily cap.
func (l *Ledger) WouldExceedCap(additionalSeconds int) bool {
	l.rollover()

	return l.day.RunSeconds+additionalSeconds >= l.capSeconds
}

// RemainingCapSeconds returns the run seconds left before today's cap,
// floored at zero. The controller uses it to schedule the cutoff wake.
func (l *Ledger) RemainingCapSeconds() int {
	l.rollover()

	remaining := l.capSeconds - l.day.RunSeconds
	if remaining < 0 {
		return 0
	}

	return remaining
}

// Capped reports whether new Running entries are denied for today.
func (l *Ledger) Capped() bool {
	l.rollover()

	return l.day.Capped
}

// MarkCapped denies new Running entries until the next reset.
func (l *Ledger) MarkCapped() {
	l.rollover()

	if l.day.Capped {
		return
	}

	l.day.Capped = true
	l.persist()
	logger.Warn().
		Int("run_seconds", l.day.RunSeconds).
		Int("cap_seconds", l.capSeconds).
		Msg("Daily runtime cap reached")
}

// Reset zeroes the day record. Invoked on the midnight tick; rollover
// catches the case where the tick itself was missed.
func (l *Ledger) Reset() {
	l.day = Day{Date: l.today()}
	l.persist()
	logger.Info().Str("date", l.day.Date).Msg("Ledger reset for new day")
}

// RecordCycle appends a completed cycle to the durable history.
func (l *Ledger) RecordCycle(cycle CycleRecord) {
	if err := l.repo.RecordCycle(cycle); err != nil {
		logger.Warn().Err(err).Str("cycle_id", cycle.ID).Msg("Failed to record cycle history")
	}
}

// RunSeconds returns today's cumulative actuator-on seconds.
func (l *Ledger) RunSeconds() int {
	l.rollover()

	return l.day.RunSeconds
}

// CycleCount returns today's completed cycle count.
func (l *Ledger) CycleCount() int {
	l.rollover()

	return l.day.CycleCount
}

func (l *Ledger) rollover() {
	today := l.today()
	if l.day.Date == today {
		return
	}

	if l.day.Date > today {
		logger.Warn().
			Str("stored_date", l.day.Date).
			Str("current_date", today).
			Msg("Ledger date is ahead of the clock, dropping stale records")
		if err := l.repo.DeleteDaysAfter(today); err != nil {
			logger.Warn().Err(err).Msg("Failed to drop stale ledger records")
		}
	}

	l.day = Day{Date: today}
	l.persist()
}

func (l *Ledger) persist() {
	if err := l.repo.SaveDay(l.day); err != nil {
		logger.Warn().Err(err).Str("date", l.day.Date).Msg("Failed to persist ledger day")
	}
}

func (l *Ledger) today() string {
	return l.now().Format(dateLayout)
}
