package timerstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/circulatord/internal/errors"
)

const (
	checkpointDirPerm  = 0o755
	checkpointFilePerm = 0o600
)

// CheckpointRecord is the durable snapshot of in-flight timers, written
// on host-initiated shutdown and read once at startup. It is an atomic
// handoff, not a log: after a successful resume the caller deletes it.
type CheckpointRecord struct {
	SavedAt time.Time                  `json:"saved_at"`
	Timers  map[string]CheckpointEntry `json:"timers"`
}

// CheckpointEntry is one timer's slot in the checkpoint record.
type CheckpointEntry struct {
	State            State             `json:"state"`
	Purpose          Purpose           `json:"purpose"`
	RemainingSeconds float64           `json:"remaining_seconds"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// FileStore persists checkpoint records as a single JSON blob.
type FileStore struct {
	path string
}

// NewFileStore creates a checkpoint file store at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes the record atomically: a temp file in the same directory,
// synced, then renamed over the target.
func (f *FileStore) Save(record CheckpointRecord) error {
	errFactory := errors.New()

	if err := os.MkdirAll(filepath.Dir(f.path), checkpointDirPerm); err != nil {
		return errFactory.Wrap(ErrCheckpointWrite, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errFactory.Wrap(ErrCheckpointWrite, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return errFactory.Wrap(ErrCheckpointWrite, err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return errFactory.Wrap(ErrCheckpointWrite, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return errFactory.Wrap(ErrCheckpointWrite, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return errFactory.Wrap(ErrCheckpointWrite, err)
	}

	if err := os.Chmod(tmp.Name(), checkpointFilePerm); err != nil {
		os.Remove(tmp.Name())

		return errFactory.Wrap(ErrCheckpointWrite, err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())

		return errFactory.Wrap(ErrCheckpointWrite, err)
	}

	return nil
}

// Load reads the checkpoint record. A missing file is a normal cold
// start: found is false with no error. An unreadable or unparsable file
// returns a checkpoint_corrupt error the caller downgrades to "no
// timers to resume".
func (f *FileStore) Load() (CheckpointRecord, bool, error) {
	errFactory := errors.New()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckpointRecord{}, false, nil
		}

		return CheckpointRecord{}, false, errFactory.Wrap(ErrCheckpointCorrupt, err)
	}

	var record CheckpointRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return CheckpointRecord{}, false, errFactory.Wrap(ErrCheckpointCorrupt, err)
	}

	return record, true, nil
}

// Delete removes the checkpoint file after a successful resume.
func (f *FileStore) Delete() error {
	errFactory := errors.New()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(ErrCheckpointDelete, err)
	}

	return nil
}
