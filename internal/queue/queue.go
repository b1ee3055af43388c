// Package queue implements the process-local change queue (spec 4.5): a
// debounced pending map, a FIFO ready queue, a per-path lock table, and a
// persisted path→hash version map. It sits between the file-change notifier
// (internal/notify) and the processing worker (internal/worker) that drives
// C1+C3+C4+C5.
package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio"

	vaulterrors "github.com/vaultindex/vaultindex/internal/errors"
)

// TaskKind identifies what kind of change a ProcessingTask represents.
type TaskKind int

const (
	// TaskUpsert means the file was created or modified and should be
	// (re-)processed through extraction, chunking, archiving, and indexing.
	TaskUpsert TaskKind = iota
	// TaskDelete means the file was removed and its index entries should
	// be torn down.
	TaskDelete
)

// ProcessingTask is one unit of work the processing worker (C8) consumes.
type ProcessingTask struct {
	RelativePath string
	Kind         TaskKind
	FileHash     string
	RetryCount   int
	EnqueuedAt   time.Time
}

// Manager holds the four process-local structures spec 4.5 describes.
type Manager struct {
	mu      sync.Mutex
	pending map[string]pendingEntry
	ready   []ProcessingTask
	locks   map[string]chan struct{}

	versionMu   sync.RWMutex
	versions    map[string]string
	versionPath string

	debounceDelay time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type pendingEntry struct {
	task       ProcessingTask
	earliestAt time.Time
}

// Options configures a Manager.
type Options struct {
	// DebounceDelay is how long a path must sit unchanged before its
	// pending entry moves to the ready queue. Spec default: 1000ms.
	DebounceDelay time.Duration
	// VersionFilePath is where the version map is persisted as JSON.
	// Empty disables persistence (in-memory only, useful for tests).
	VersionFilePath string
}

// DefaultOptions returns spec 4.5's defaults.
func DefaultOptions() Options {
	return Options{DebounceDelay: 1000 * time.Millisecond}
}

const debounceTickPeriod = 100 * time.Millisecond
const versionFlushPeriod = 30 * time.Second

// New constructs a Manager and, if a version file path is configured, loads
// its persisted version map (falling back to the `.bak` copy, then empty,
// per spec 4.5's startup recovery rule).
func New(opts Options) (*Manager, error) {
	if opts.DebounceDelay <= 0 {
		opts.DebounceDelay = DefaultOptions().DebounceDelay
	}
	m := &Manager{
		pending:       make(map[string]pendingEntry),
		locks:         make(map[string]chan struct{}),
		versions:      make(map[string]string),
		versionPath:   opts.VersionFilePath,
		debounceDelay: opts.DebounceDelay,
		stopCh:        make(chan struct{}),
	}
	if m.versionPath != "" {
		versions, err := loadVersions(m.versionPath)
		if err != nil {
			return nil, err
		}
		m.versions = versions
	}
	return m, nil
}

// Run starts the debounce timer and (if persistence is configured) the
// periodic version-map flush. It blocks until the manager is stopped.
func (m *Manager) Run() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		debounceTicker := time.NewTicker(debounceTickPeriod)
		defer debounceTicker.Stop()

		var flushTicker *time.Ticker
		var flushC <-chan time.Time
		if m.versionPath != "" {
			flushTicker = time.NewTicker(versionFlushPeriod)
			flushC = flushTicker.C
			defer flushTicker.Stop()
		}

		for {
			select {
			case <-m.stopCh:
				if m.versionPath != "" {
					_ = m.flushVersions()
				}
				return
			case <-debounceTicker.C:
				m.promoteDue()
			case <-flushC:
				_ = m.flushVersions()
			}
		}
	}()
}

// Stop halts the background timers, flushing the version map one last time.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// EnqueueChange upserts the pending-map entry for task.RelativePath,
// resetting its debounce timer. A new change on the same path overwrites
// the prior pending entry, per spec 4.5.
func (m *Manager) EnqueueChange(task ProcessingTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.EnqueuedAt = time.Now()
	m.pending[task.RelativePath] = pendingEntry{
		task:       task,
		earliestAt: task.EnqueuedAt.Add(m.debounceDelay),
	}
}

// EnqueueDirect bypasses the debounce and pushes straight to the ready
// queue, used for version-mismatch re-processing (spec 4.6).
func (m *Manager) EnqueueDirect(task ProcessingTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = append(m.ready, task)
}

// TryDequeue pops the oldest ready task, or returns ok=false if empty.
func (m *Manager) TryDequeue() (task ProcessingTask, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ready) == 0 {
		return ProcessingTask{}, false
	}
	task = m.ready[0]
	m.ready = m.ready[1:]
	return task, true
}

// Requeue increments retry_count and pushes the task back onto the ready
// queue (used when a per-path lock is contended or processing failed).
func (m *Manager) Requeue(task ProcessingTask) {
	task.RetryCount++
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = append(m.ready, task)
}

// promoteDue moves every pending entry whose debounce window has elapsed
// into the ready queue. Runs on the 100ms debounce timer.
func (m *Manager) promoteDue() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, entry := range m.pending {
		if now.Before(entry.earliestAt) {
			continue
		}
		m.ready = append(m.ready, entry.task)
		delete(m.pending, path)
	}
}

// TryAcquireLock attempts a non-blocking acquire of the per-path binary
// semaphore, creating it on first use.
func (m *Manager) TryAcquireLock(path string) bool {
	m.mu.Lock()
	lock, ok := m.locks[path]
	if !ok {
		lock = make(chan struct{}, 1)
		lock <- struct{}{}
		m.locks[path] = lock
	}
	m.mu.Unlock()

	select {
	case <-lock:
		return true
	default:
		return false
	}
}

// ReleaseLock releases the per-path semaphore. Safe to call even if the
// lock was never created (a no-op in that case).
func (m *Manager) ReleaseLock(path string) {
	m.mu.Lock()
	lock, ok := m.locks[path]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case lock <- struct{}{}:
	default:
	}
}

// GetVersion returns the last-processed hash for path, and whether one is
// recorded.
func (m *Manager) GetVersion(path string) (string, bool) {
	m.versionMu.RLock()
	defer m.versionMu.RUnlock()
	hash, ok := m.versions[path]
	return hash, ok
}

// SetVersion records the processed hash for path.
func (m *Manager) SetVersion(path, hash string) {
	m.versionMu.Lock()
	defer m.versionMu.Unlock()
	m.versions[path] = hash
}

// RemoveVersion clears path's recorded hash, called on the deletion path
// (spec 4.6).
func (m *Manager) RemoveVersion(path string) {
	m.versionMu.Lock()
	defer m.versionMu.Unlock()
	delete(m.versions, path)
}

// flushVersions atomically serializes the version map to disk: write
// `versions.json.tmp`, rename the existing `versions.json` to
// `versions.json.bak`, then rename `.tmp` into place (spec 4.5).
func (m *Manager) flushVersions() error {
	m.versionMu.RLock()
	snapshot := make(map[string]string, len(m.versions))
	for k, v := range m.versions {
		snapshot[k] = v
	}
	m.versionMu.RUnlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeInternal, "marshal version map", err)
	}

	tmpPath := m.versionPath + ".tmp"
	if err := renameio.WriteFile(tmpPath, data, 0o644); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeFilePermission, "write version map", err)
	}
	bakPath := m.versionPath + ".bak"
	if _, err := os.Stat(m.versionPath); err == nil {
		if err := os.Rename(m.versionPath, bakPath); err != nil {
			return vaulterrors.New(vaulterrors.ErrCodeFilePermission, "back up version map", err)
		}
	}
	if err := os.Rename(tmpPath, m.versionPath); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeFilePermission, "install version map", err)
	}
	return nil
}

// loadVersions loads versions.json, falling back to versions.json.bak, then
// an empty map, per spec 4.5's startup recovery rule.
func loadVersions(path string) (map[string]string, error) {
	if v, err := readVersionFile(path); err == nil {
		return v, nil
	}
	bak := path + ".bak"
	if v, err := readVersionFile(bak); err == nil {
		return v, nil
	}
	return make(map[string]string), nil
}

func readVersionFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v map[string]string
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// VersionFilePath builds the default versions.json location under dataDir.
func VersionFilePath(dataDir string) string {
	return filepath.Join(dataDir, "versions.json")
}
