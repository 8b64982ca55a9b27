// Package artifacts persists per-step evidence: the annotated screenshot and
// the snapshot the step acted on.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-task-engine/internal/snapshot"
)

// Sink writes step artifacts under dir/<taskID>/. Write failures are logged,
// never propagated; evidence is best-effort.
type Sink struct {
	dir    string
	logger zerolog.Logger
}

func NewSink(dir string, logger zerolog.Logger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	return &Sink{dir: dir, logger: logger}, nil
}

// Capture writes step-NNN.png (when a screenshot exists) and step-NNN.json.
func (s *Sink) Capture(taskID string, step int, screenshot []byte, snap *snapshot.Snapshot) {
	taskDir := filepath.Join(s.dir, taskID)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		s.logger.Warn().Err(err).Str("dir", taskDir).Msg("artifact dir failed")
		return
	}

	if len(screenshot) > 0 {
		name := filepath.Join(taskDir, fmt.Sprintf("step-%03d.png", step))
		if err := os.WriteFile(name, screenshot, 0o644); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("screenshot write failed")
		}
	}

	if snap != nil {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			s.logger.Warn().Err(err).Msg("snapshot marshal failed")
			return
		}
		name := filepath.Join(taskDir, fmt.Sprintf("step-%03d.json", step))
		if err := os.WriteFile(name, data, 0o644); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("snapshot write failed")
		}
	}
}
