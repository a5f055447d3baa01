// Package timerstore provides restart-safe countdown timers. Timers are
// polled, not callback-driven: callers query Remaining and claim expiry
// with Expire, and the store snapshots remaining durations to a
// checkpoint record so an interrupted countdown resumes where it left
// off. The store is reusable by any timed automation, not just the
// cycle controller.
package timerstore

import (
	"sync"
	"time"

	"codeberg.org/mutker/circulatord/internal/errors"
	"github.com/google/uuid"
)

// Purpose identifies what a timer counts down for. At most one Active
// timer may exist per purpose.
type Purpose string

const (
	PurposeRun      Purpose = "run"
	PurposeCooldown Purpose = "cooldown"
)

// State is the lifecycle state of a timer.
type State string

const (
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
)

// Timer is a single countdown record. Timers are owned by the store and
// mutated only through store operations.
type Timer struct {
	ID            string
	Purpose       Purpose
	TotalDuration time.Duration
	StartedAt     time.Time
	State         State
	Metadata      map[string]string
}

// Resumed describes one timer recreated (or immediately expired) by Resume.
type Resumed struct {
	ID        string
	Purpose   Purpose
	Remaining time.Duration
	Metadata  map[string]string
	Expired   bool
}

// Store holds the live timer arena.
type Store struct {
	mu       sync.Mutex
	timers   map[string]*Timer
	byActive map[Purpose]string
	now      func() time.Time
}

// New creates an empty timer store.
func New() *Store {
	return &Store{
		timers:   make(map[string]*Timer),
		byActive: make(map[Purpose]string),
		now:      time.Now,
	}
}

// NewWithClock creates a store with an injected clock, for tests.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	s.now = now

	return s
}

// Start creates an Active timer for the given purpose. It fails with a
// timer_conflict error if an Active timer of that purpose already
// exists; the caller's state machine must make that impossible.
func (s *Store) Start(purpose Purpose, duration time.Duration, metadata map[string]string) (string, error) {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byActive[purpose]; ok {
		return "", errFactory.WithData(ErrConflict, string(purpose)+" timer already active: "+id)
	}

	timer := &Timer{
		ID:            uuid.NewString(),
		Purpose:       purpose,
		TotalDuration: duration,
		StartedAt:     s.now(),
		State:         StateActive,
		Metadata:      cloneMetadata(metadata),
	}

	s.timers[timer.ID] = timer
	s.byActive[purpose] = timer.ID

	return timer.ID, nil
}

// Cancel transitions a timer to Cancelled. It is idempotent on a timer
// that is already terminal, and a no-op on an unknown id.
func (s *Store) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[id]
	if !ok || timer.State == StateExpired || timer.State == StateCancelled {
		return
	}

	timer.State = StateCancelled
	s.release(timer)
}

// Remaining reports the time left on a timer, floored at zero, together
// with its current state. An Active timer whose countdown has elapsed is
// reported as Expired; the caller claims the firing event with Expire.
func (s *Store) Remaining(id string) (time.Duration, State, error) {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[id]
	if !ok {
		return 0, "", errFactory.WithData(ErrNotFound, id)
	}

	if timer.State != StateActive {
		return 0, timer.State, nil
	}

	remaining := timer.TotalDuration - s.now().Sub(timer.StartedAt)
	if remaining <= 0 {
		return 0, StateExpired, nil
	}

	return remaining, StateActive, nil
}

// Expire claims the firing event for an elapsed timer. It returns true
// exactly once per timer: the call that transitions Active to Expired.
// A timer whose countdown has not elapsed is left untouched.
func (s *Store) Expire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[id]
	if !ok || timer.State != StateActive {
		return false
	}

	if timer.TotalDuration-s.now().Sub(timer.StartedAt) > 0 {
		return false
	}

	timer.State = StateExpired
	s.release(timer)

	return true
}

// SetMetadata updates a metadata key on a live timer. Metadata rides
// along in the checkpoint record and comes back on resume.
func (s *Store) SetMetadata(id, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[id]
	if !ok {
		return
	}

	if timer.Metadata == nil {
		timer.Metadata = make(map[string]string)
	}
	timer.Metadata[key] = value
}

// Active returns a snapshot of the Active timer for a purpose, if any.
func (s *Store) Active(purpose Purpose) (Timer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byActive[purpose]
	if !ok {
		return Timer{}, false
	}

	return s.timers[id].snapshot(), true
}

// NextDeadline returns the earliest expiry instant among Active timers.
// The host uses it to schedule its wake-up.
func (s *Store) NextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deadline time.Time
	found := false
	for _, id := range s.byActive {
		timer := s.timers[id]
		expiry := timer.StartedAt.Add(timer.TotalDuration)
		if !found || expiry.Before(deadline) {
			deadline = expiry
			found = true
		}
	}

	return deadline, found
}

// Checkpoint snapshots every Active timer into a checkpoint record and
// marks it Paused. The whole snapshot is taken under the store lock, so
// no timer changes state while it is being captured. Remaining time is
// recorded with the clock's full granularity.
func (s *Store) Checkpoint() CheckpointRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	record := CheckpointRecord{
		SavedAt: now,
		Timers:  make(map[string]CheckpointEntry),
	}

	for purpose, id := range s.byActive {
		timer := s.timers[id]
		remaining := timer.TotalDuration - now.Sub(timer.StartedAt)
		record.Timers[id] = CheckpointEntry{
			State:            StatePaused,
			Purpose:          purpose,
			RemainingSeconds: remaining.Seconds(),
			Metadata:         cloneMetadata(timer.Metadata),
		}
		timer.State = StatePaused
	}

	for purpose := range s.byActive {
		delete(s.byActive, purpose)
	}

	return record
}

// Resume recreates timers from a checkpoint record. Paused entries with
// time left become Active timers counting down from now; entries whose
// remaining time is spent are surfaced once as Expired so the caller
// fires the completion action exactly once. Entries in any other state
// are dropped.
func (s *Store) Resume(record CheckpointRecord) []Resumed {
	s.mu.Lock()
	defer s.mu.Unlock()

	var resumed []Resumed
	now := s.now()

	for id, entry := range record.Timers {
		if entry.State != StatePaused {
			continue
		}

		remaining := time.Duration(entry.RemainingSeconds * float64(time.Second))
		timer := &Timer{
			ID:            id,
			Purpose:       entry.Purpose,
			TotalDuration: remaining,
			StartedAt:     now,
			Metadata:      cloneMetadata(entry.Metadata),
		}

		if remaining <= 0 {
			timer.State = StateExpired
			timer.TotalDuration = 0
			s.timers[id] = timer
			resumed = append(resumed, Resumed{
				ID:       id,
				Purpose:  entry.Purpose,
				Metadata: timer.Metadata,
				Expired:  true,
			})

			continue
		}

		timer.State = StateActive
		s.timers[id] = timer
		s.byActive[entry.Purpose] = id
		resumed = append(resumed, Resumed{
			ID:        id,
			Purpose:   entry.Purpose,
			Remaining: remaining,
			Metadata:  timer.Metadata,
		})
	}

	return resumed
}

// release drops a timer from the active index. Caller holds the lock.
func (s *Store) release(timer *Timer) {
	if id, ok := s.byActive[timer.Purpose]; ok && id == timer.ID {
		delete(s.byActive, timer.Purpose)
	}
}

func (t *Timer) snapshot() Timer {
	copied := *t
	copied.Metadata = cloneMetadata(t.Metadata)

	return copied
}

func cloneMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}

	cloned := make(map[string]string, len(metadata))
	for k, v := range metadata {
		cloned[k] = v
	}

	return cloned
}
