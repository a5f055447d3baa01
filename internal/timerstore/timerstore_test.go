package timerstore_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/circulatord/internal/errors"
	"codeberg.org/mutker/circulatord/internal/timerstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a controllable clock for countdown tests.
type fakeClock struct {
	current time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func TestStartConflict(t *testing.T) {
	store := timerstore.New()

	_, err := store.Start(timerstore.PurposeRun, 15*time.Minute, nil)
	require.NoError(t, err)

	_, err = store.Start(timerstore.PurposeRun, 10*time.Minute, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, timerstore.ErrConflict))

	// A different purpose is fine.
	_, err = store.Start(timerstore.PurposeCooldown, 45*time.Minute, nil)
	require.NoError(t, err)
}

func TestCancelIdempotent(t *testing.T) {
	store := timerstore.New()

	id, err := store.Start(timerstore.PurposeRun, time.Minute, nil)
	require.NoError(t, err)

	store.Cancel(id)
	_, state, err := store.Remaining(id)
	require.NoError(t, err)
	assert.Equal(t, timerstore.StateCancelled, state)

	// Second cancel is a no-op, and the purpose slot is free again.
	store.Cancel(id)
	_, err = store.Start(timerstore.PurposeRun, time.Minute, nil)
	require.NoError(t, err)
}

func TestRemainingCountsDown(t *testing.T) {
	clock := newFakeClock()
	store := timerstore.NewWithClock(clock.now)

	id, err := store.Start(timerstore.PurposeRun, 900*time.Second, nil)
	require.NoError(t, err)

	clock.advance(300 * time.Second)
	remaining, state, err := store.Remaining(id)
	require.NoError(t, err)
	assert.Equal(t, timerstore.StateActive, state)
	assert.Equal(t, 600*time.Second, remaining)

	clock.advance(600 * time.Second)
	remaining, state, err = store.Remaining(id)
	require.NoError(t, err)
	assert.Equal(t, timerstore.StateExpired, state)
	assert.Equal(t, time.Duration(0), remaining)
}

func TestExpireFiresExactlyOnce(t *testing.T) {
	clock := newFakeClock()
	store := timerstore.NewWithClock(clock.now)

	id, err := store.Start(timerstore.PurposeRun, time.Minute, nil)
	require.NoError(t, err)

	// Not elapsed yet.
	assert.False(t, store.Expire(id))

	clock.advance(time.Minute)
	assert.True(t, store.Expire(id))
	assert.False(t, store.Expire(id))

	// Expired timer freed its purpose slot.
	_, err = store.Start(timerstore.PurposeRun, time.Minute, nil)
	require.NoError(t, err)
}

func TestCheckpointResumeRoundTrip(t *testing.T) {
	clock := newFakeClock()
	store := timerstore.NewWithClock(clock.now)

	_, err := store.Start(timerstore.PurposeRun, 900*time.Second, map[string]string{"priority": "elevated"})
	require.NoError(t, err)

	clock.advance(300 * time.Second)
	record := store.Checkpoint()
	require.Len(t, record.Timers, 1)
	for _, entry := range record.Timers {
		assert.Equal(t, timerstore.StatePaused, entry.State)
		assert.Equal(t, timerstore.PurposeRun, entry.Purpose)
		assert.InDelta(t, 600, entry.RemainingSeconds, 1)
		assert.Equal(t, "elevated", entry.Metadata["priority"])
	}

	// Zero-duration outage: resume on a fresh store, same clock.
	restored := timerstore.NewWithClock(clock.now)
	resumed := restored.Resume(record)
	require.Len(t, resumed, 1)
	assert.Equal(t, timerstore.PurposeRun, resumed[0].Purpose)
	assert.False(t, resumed[0].Expired)
	assert.InDelta(t, 600, resumed[0].Remaining.Seconds(), 1)
	assert.Equal(t, "elevated", resumed[0].Metadata["priority"])

	remaining, state, err := restored.Remaining(resumed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, timerstore.StateActive, state)
	assert.InDelta(t, 600, remaining.Seconds(), 1)
}

func TestResumeSpentTimerSurfacesExpiredOnce(t *testing.T) {
	clock := newFakeClock()
	store := timerstore.NewWithClock(clock.now)

	record := timerstore.CheckpointRecord{
		SavedAt: clock.now(),
		Timers: map[string]timerstore.CheckpointEntry{
			"tid-1": {
				State:            timerstore.StatePaused,
				Purpose:          timerstore.PurposeCooldown,
				RemainingSeconds: 0,
			},
		},
	}

	resumed := store.Resume(record)
	require.Len(t, resumed, 1)
	assert.True(t, resumed[0].Expired)

	// Already terminal: no duplicate firing through Expire.
	assert.False(t, store.Expire("tid-1"))
	_, state, err := store.Remaining("tid-1")
	require.NoError(t, err)
	assert.Equal(t, timerstore.StateExpired, state)
}

func TestResumeIgnoresNonPausedEntries(t *testing.T) {
	store := timerstore.New()

	record := timerstore.CheckpointRecord{
		Timers: map[string]timerstore.CheckpointEntry{
			"tid-1": {State: timerstore.StateCancelled, Purpose: timerstore.PurposeRun, RemainingSeconds: 100},
		},
	}

	assert.Empty(t, store.Resume(record))
}

func TestNextDeadline(t *testing.T) {
	clock := newFakeClock()
	store := timerstore.NewWithClock(clock.now)

	_, found := store.NextDeadline()
	assert.False(t, found)

	_, err := store.Start(timerstore.PurposeRun, 10*time.Minute, nil)
	require.NoError(t, err)

	deadline, found := store.NextDeadline()
	require.True(t, found)
	assert.Equal(t, clock.now().Add(10*time.Minute), deadline)
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	files := timerstore.NewFileStore(path)

	record := timerstore.CheckpointRecord{
		SavedAt: time.Date(2026, 8, 30, 6, 5, 0, 0, time.UTC),
		Timers: map[string]timerstore.CheckpointEntry{
			"tid-1": {
				State:            timerstore.StatePaused,
				Purpose:          timerstore.PurposeRun,
				RemainingSeconds: 600.5,
				Metadata:         map[string]string{"priority": "normal"},
			},
		},
	}

	require.NoError(t, files.Save(record))

	loaded, found, err := files.Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, record.Timers, loaded.Timers)

	require.NoError(t, files.Delete())
	_, found, err = files.Load()
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting again is harmless.
	require.NoError(t, files.Delete())
}

func TestFileStoreMissingIsColdStart(t *testing.T) {
	files := timerstore.NewFileStore(filepath.Join(t.TempDir(), "missing.json"))

	_, found, err := files.Load()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileStoreCorruptBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	files := timerstore.NewFileStore(path)
	_, _, err := files.Load()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, timerstore.ErrCheckpointCorrupt))
}
