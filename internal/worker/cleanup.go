package worker

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/arcade-sync/internal/config"
)

// RefLister reports the storage keys the database still points at
type RefLister interface {
	ListSaveRefs(ctx context.Context) (map[string]bool, error)
}

// BlobStore is the object-store surface the sweep needs
type BlobStore interface {
	ListKeys(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, key string) error
}

// CleanupWorker periodically removes save blobs no database row points
// at. A delete removes the blob before the row, so a crash between the
// two leaves a dangling row, never an orphaned blob; orphans only
// appear through manual intervention or bugs, which is why the sweep is
// optional and off by default.
type CleanupWorker struct {
	store   BlobStore
	refs    RefLister
	config  *config.CleanupConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewCleanupWorker creates a new cleanup worker
func NewCleanupWorker(store BlobStore, refs RefLister, cfg *config.CleanupConfig, logger *slog.Logger) *CleanupWorker {
	return &CleanupWorker{
		store:  store,
		refs:   refs,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background sweep loop
func (w *CleanupWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("cleanup worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sweep loop
func (w *CleanupWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("cleanup worker stopped")
	return nil
}

// run is the main worker loop
func (w *CleanupWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep removes every stored blob the database no longer references
func (w *CleanupWorker) sweep(ctx context.Context) {
	w.logger.Info("starting orphan sweep")
	startTime := time.Now()

	refs, err := w.refs.ListSaveRefs(ctx)
	if err != nil {
		w.logger.Error("failed to list save refs for sweep", "error", err)
		return
	}

	keys, err := w.store.ListKeys(ctx)
	if err != nil {
		w.logger.Error("failed to list stored blobs for sweep", "error", err)
		return
	}

	removed := 0
	errorCount := 0

	for _, key := range keys {
		if refs[key] {
			continue
		}
		// Only touch keys that look like save snapshots; anything else
		// in the bucket is not ours to delete
		if !strings.HasSuffix(key, ".state") {
			continue
		}

		if err := w.store.Remove(ctx, key); err != nil {
			w.logger.Error("failed to remove orphaned blob", "key", key, "error", err)
			errorCount++
			continue
		}
		removed++
	}

	w.logger.Info("orphan sweep completed",
		"duration", time.Since(startTime),
		"scanned", len(keys),
		"removed", removed,
		"errors", errorCount,
	)
}

// IsRunning returns whether the worker is currently running
func (w *CleanupWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sweep cycle (useful for manual triggers)
func (w *CleanupWorker) RunOnce(ctx context.Context) {
	w.sweep(ctx)
}
