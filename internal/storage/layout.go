package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/clipwave/clipwave/pkg/log"
)

// Layout addresses rendered artifacts by job id inside a single directory:
// "<id>.mp4" for the combined output and "<id>_clip_<n>.mp4" for individual
// clips. The naming is the only contract; everything else about the
// directory is an operational concern.
type Layout struct {
	root string
}

func NewLayout(root string) (*Layout, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &Layout{root: root}, nil
}

func (l *Layout) Root() string {
	return l.root
}

func (l *Layout) OutputPath(jobID string) string {
	return filepath.Join(l.root, jobID+".mp4")
}

func (l *Layout) ClipPath(jobID string, n int) string {
	return filepath.Join(l.root, fmt.Sprintf("%s_clip_%d.mp4", jobID, n))
}

// RemoveJob deletes every artifact belonging to the job.
func (l *Layout) RemoveJob(jobID string) error {
	matches, err := filepath.Glob(filepath.Join(l.root, jobID+"*.mp4"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove artifact %s: %w", path, err)
		}
	}
	return nil
}

// Sweep removes artifacts whose job id is no longer known. Deletion of job
// records is always explicit; this only reclaims files orphaned by crashes
// or by deletes that failed halfway.
func (l *Layout) Sweep(known func(jobID string) bool) int {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		log.Error("Failed to read storage directory %s: %v", l.root, err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mp4") {
			continue
		}
		jobID := artifactJobID(entry.Name())
		if jobID == "" || known(jobID) {
			continue
		}
		path := filepath.Join(l.root, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Warn("Failed to remove orphaned artifact %s: %v", path, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info("Swept %d orphaned artifacts from %s", removed, l.root)
	}
	return removed
}

func artifactJobID(name string) string {
	name = strings.TrimSuffix(name, ".mp4")
	if idx := strings.Index(name, "_clip_"); idx != -1 {
		name = name[:idx]
	}
	return name
}
