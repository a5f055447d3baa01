package timerstore

import "codeberg.org/mutker/circulatord/internal/errors"

const (
	// Conflict Errors
	ErrConflict = errors.ErrTimerConflict
	ErrNotFound = errors.ErrTimerNotFound

	// Checkpoint Errors
	ErrCheckpointCorrupt = errors.ErrCheckpointCorrupt
	ErrCheckpointWrite   = errors.ErrCheckpointWrite
	ErrCheckpointDelete  = errors.ErrorCode("checkpoint_delete_failed")
)
