// Package research drives jobs through the planning, searching,
// verifying, and synthesizing phases, recording every action in the
// step log and persisting checkpoints so a restart resumes instead of
// starting over.
package research

import (
	"encoding/json"
	"fmt"

	"researchhive/internal/types"
)

const checkpointVersion = 1

// Checkpoint is the resumable cursor serialized into a job's
// checkpoint_data column. Phase names the phase to execute next, not
// the one that wrote the checkpoint, so resume re-runs at most one
// phase.
type Checkpoint struct {
	Version   int      `json:"version"`
	Phase     string   `json:"phase"`
	Plan      string   `json:"plan,omitempty"`
	Queries   []string `json:"queries,omitempty"`
	SourceIDs []string `json:"source_ids,omitempty"`
	Iteration int      `json:"iteration,omitempty"`
}

var checkpointPhases = map[string]types.JobState{
	"searching":    types.StateSearching,
	"verifying":    types.StateVerifying,
	"synthesizing": types.StateSynthesizing,
}

// Encode serializes the checkpoint for storage.
func (c Checkpoint) Encode() (string, error) {
	c.Version = checkpointVersion
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	return string(data), nil
}

// DecodeCheckpoint parses stored checkpoint data. Unknown versions and
// phases are rejected as stale rather than guessed at.
func DecodeCheckpoint(data string) (*Checkpoint, error) {
	if data == "" {
		return nil, fmt.Errorf("%w: empty checkpoint", types.ErrCheckpointStale)
	}
	var c Checkpoint
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCheckpointStale, err)
	}
	if c.Version != checkpointVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", types.ErrCheckpointStale, c.Version, checkpointVersion)
	}
	if _, ok := checkpointPhases[c.Phase]; !ok {
		return nil, fmt.Errorf("%w: unknown phase %q", types.ErrCheckpointStale, c.Phase)
	}
	return &c, nil
}
