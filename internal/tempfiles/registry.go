package tempfiles

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Ephemeral file registry
// Every intermediate audio file the pipeline produces is registered here and
// later deleted by a detached cleanup task. The registry owns its directory,
// so a startup purge can sweep orphans left behind by a crashed process.
// ---------------------------------------------------------------------------

const (
	DefaultCleanupRetries = 3
	DefaultCleanupDelay   = 30 * time.Second
)

// Registry tracks ephemeral file paths and deletes them after a delay.
// It is safe for concurrent use by multiple in-flight requests.
type Registry struct {
	dir     string
	retries int
	delay   time.Duration

	mu    sync.Mutex
	paths map[string]struct{}
}

// NewRegistry creates a registry owning dir, creating it if needed.
// retries/delay of zero fall back to the defaults.
func NewRegistry(dir string, retries int, delay time.Duration) (*Registry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	if retries <= 0 {
		retries = DefaultCleanupRetries
	}
	if delay <= 0 {
		delay = DefaultCleanupDelay
	}
	return &Registry{
		dir:     dir,
		retries: retries,
		delay:   delay,
		paths:   make(map[string]struct{}),
	}, nil
}

// NewTemp reserves a fresh path in the registry's directory with the given
// extension and registers it. The file itself is created by whoever writes it.
func (r *Registry) NewTemp(ext string) string {
	path := filepath.Join(r.dir, fmt.Sprintf("speech_%s.%s", uuid.New().String(), ext))
	r.Register(path)
	return path
}

// Register starts tracking an ephemeral path.
func (r *Registry) Register(path string) {
	r.mu.Lock()
	r.paths[path] = struct{}{}
	r.mu.Unlock()
}

// Tracks reports whether path is currently tracked.
func (r *Registry) Tracks(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.paths[path]
	return ok
}

// ScheduleCleanup deletes path in the background after the configured delay,
// retrying on failure. Fire-and-forget: it never blocks the caller and the
// request path must not wait on it.
func (r *Registry) ScheduleCleanup(path string) {
	go r.cleanup(path)
}

func (r *Registry) cleanup(path string) {
	for attempt := 1; attempt <= r.retries; attempt++ {
		time.Sleep(r.delay)

		err := os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			r.forget(path)
			return
		}
		log.Printf("[TempFiles] Error deleting temp file %s, attempt %d: %v", path, attempt, err)
	}

	// The registry tracks known ephemeral files, it is not a deletion
	// guarantee: report the leak and stop tracking so the set stays bounded.
	log.Printf("[TempFiles] Failed to delete temp file %s after %d attempts, leaking it", path, r.retries)
	r.forget(path)
}

func (r *Registry) forget(path string) {
	r.mu.Lock()
	delete(r.paths, path)
	r.mu.Unlock()
}

// PurgeAll removes every regular file in the registry's directory and clears
// tracking. Called at startup to sweep temp files orphaned by a prior run.
// Best-effort: individual failures are logged and skipped.
func (r *Registry) PurgeAll() int {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		log.Printf("[TempFiles] Error scanning temp dir %s: %v", r.dir, err)
		return 0
	}

	purged := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Printf("[TempFiles] Error purging temp file %s: %v", path, err)
			continue
		}
		purged++
	}

	r.mu.Lock()
	r.paths = make(map[string]struct{})
	r.mu.Unlock()

	if purged > 0 {
		log.Printf("[TempFiles] Purged %d temp files from %s", purged, r.dir)
	}
	return purged
}
