package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// LocalSink writes run transcripts as plain files under a root directory,
// one file per run at <root>/<job_id>/<run_id>.log.
type LocalSink struct {
	root string
}

// NewLocalSink builds a LocalSink rooted at dir, creating it if absent.
func NewLocalSink(dir string) (*LocalSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "archive: create root dir")
	}
	return &LocalSink{root: dir}, nil
}

// Store writes contents to the run's log file.
func (s *LocalSink) Store(_ context.Context, jobID string, runID int64, contents []byte) error {
	dir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "archive: create job dir")
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.log", runID))
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		return errors.Wrap(err, "archive: write run log")
	}
	return nil
}
