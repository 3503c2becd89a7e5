package worker

import (
	"context"
	"log/slog"
	"testing"

	"github.com/arcade-sync/internal/config"
)

type stubRefs struct {
	refs map[string]bool
}

func (s *stubRefs) ListSaveRefs(ctx context.Context) (map[string]bool, error) {
	return s.refs, nil
}

type stubBlobs struct {
	keys    []string
	removed []string
}

func (s *stubBlobs) ListKeys(ctx context.Context) ([]string, error) {
	return s.keys, nil
}

func (s *stubBlobs) Remove(ctx context.Context, key string) error {
	s.removed = append(s.removed, key)
	return nil
}

func TestSweep_RemovesOnlyUnreferencedSnapshots(t *testing.T) {
	refs := &stubRefs{refs: map[string]bool{
		"u1/chrono.state": true,
	}}
	blobs := &stubBlobs{keys: []string{
		"u1/chrono.state",
		"u1/metroid.state",
		"backups/manual-export.zip",
	}}

	w := NewCleanupWorker(blobs, refs, &config.CleanupConfig{}, slog.Default())
	w.RunOnce(context.Background())

	if len(blobs.removed) != 1 || blobs.removed[0] != "u1/metroid.state" {
		t.Fatalf("expected only the orphaned snapshot removed, got %v", blobs.removed)
	}
}

func TestSweep_NothingOrphanedIsNoOp(t *testing.T) {
	refs := &stubRefs{refs: map[string]bool{
		"u1/chrono.state": true,
	}}
	blobs := &stubBlobs{keys: []string{"u1/chrono.state"}}

	w := NewCleanupWorker(blobs, refs, &config.CleanupConfig{}, slog.Default())
	w.RunOnce(context.Background())

	if len(blobs.removed) != 0 {
		t.Fatalf("expected no removals, got %v", blobs.removed)
	}
}
