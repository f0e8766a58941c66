package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// NotFoundError is returned when a requested checkpoint file does not exist.
// Use errors.Is(err, ErrNotFound) to check for it.
type NotFoundError struct {
	Path string
}

// ErrNotFound is the sentinel for errors.Is checks.
var ErrNotFound = &NotFoundError{}

func (e *NotFoundError) Error() string {
	if e.Path != "" {
		return "checkpoint not found: " + e.Path
	}
	return "checkpoint not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// Save atomically writes the checkpoint to path using a temp file and rename,
// so a crash mid-write never leaves a corrupt checkpoint behind.
func Save(path string, checkpoint *Checkpoint) error {
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("refusing to save: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp checkpoint file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	slog.Debug("Checkpoint saved", "path", path, "epoch", checkpoint.Epoch)
	return nil
}

// Load reads a checkpoint from path. A file that deserializes but lacks the
// state_dict key fails with MissingKeyError rather than a generic decode
// fault.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Path: path}
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}
	if _, ok := raw["state_dict"]; !ok {
		return nil, &MissingKeyError{Key: "state_dict", Path: path}
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}

	slog.Debug("Checkpoint loaded", "path", path, "epoch", checkpoint.Epoch)
	return &checkpoint, nil
}
