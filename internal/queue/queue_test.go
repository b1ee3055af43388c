package queue

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_EnqueueChange_DebouncesThenPromotes(t *testing.T) {
	m, err := New(Options{DebounceDelay: 50 * time.Millisecond})
	require.NoError(t, err)
	m.Run()
	defer m.Stop()

	m.EnqueueChange(ProcessingTask{RelativePath: "a.txt", Kind: TaskUpsert, FileHash: "h1"})
	_, ok := m.TryDequeue()
	assert.False(t, ok, "task should still be debouncing")

	require.Eventually(t, func() bool {
		task, ok := m.TryDequeue()
		return ok && task.RelativePath == "a.txt"
	}, time.Second, 10*time.Millisecond)
}

func TestManager_EnqueueChange_OverwritesPriorEntry(t *testing.T) {
	m, err := New(Options{DebounceDelay: 200 * time.Millisecond})
	require.NoError(t, err)
	m.Run()
	defer m.Stop()

	m.EnqueueChange(ProcessingTask{RelativePath: "a.txt", Kind: TaskUpsert, FileHash: "h1"})
	time.Sleep(100 * time.Millisecond)
	m.EnqueueChange(ProcessingTask{RelativePath: "a.txt", Kind: TaskUpsert, FileHash: "h2"})

	require.Eventually(t, func() bool {
		task, ok := m.TryDequeue()
		return ok && task.FileHash == "h2"
	}, time.Second, 10*time.Millisecond)
}

func TestManager_EnqueueDirect_BypassesDebounce(t *testing.T) {
	m, err := New(Options{DebounceDelay: time.Hour})
	require.NoError(t, err)

	m.EnqueueDirect(ProcessingTask{RelativePath: "b.txt", Kind: TaskUpsert, FileHash: "h1"})
	task, ok := m.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "b.txt", task.RelativePath)
}

func TestManager_Locks_AreBinarySemaphoresPerPath(t *testing.T) {
	m, err := New(DefaultOptions())
	require.NoError(t, err)

	assert.True(t, m.TryAcquireLock("x.txt"))
	assert.False(t, m.TryAcquireLock("x.txt"), "second acquire on same path should fail")
	assert.True(t, m.TryAcquireLock("y.txt"), "different path should not be blocked")

	m.ReleaseLock("x.txt")
	assert.True(t, m.TryAcquireLock("x.txt"), "lock should be acquirable again after release")
}

func TestManager_Requeue_IncrementsRetryCount(t *testing.T) {
	m, err := New(DefaultOptions())
	require.NoError(t, err)

	m.Requeue(ProcessingTask{RelativePath: "z.txt", RetryCount: 2})
	task, ok := m.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, 3, task.RetryCount)
}

func TestManager_Versions_SetGetRemove(t *testing.T) {
	m, err := New(DefaultOptions())
	require.NoError(t, err)

	_, ok := m.GetVersion("a.txt")
	assert.False(t, ok)

	m.SetVersion("a.txt", "hash1")
	hash, ok := m.GetVersion("a.txt")
	require.True(t, ok)
	assert.Equal(t, "hash1", hash)

	m.RemoveVersion("a.txt")
	_, ok = m.GetVersion("a.txt")
	assert.False(t, ok)
}

func TestManager_Versions_PersistAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "versions.json")

	m, err := New(Options{DebounceDelay: time.Second, VersionFilePath: path})
	require.NoError(t, err)
	m.SetVersion("a.txt", "hash1")
	m.SetVersion("b.txt", "hash2")
	require.NoError(t, m.flushVersions())

	reloaded, err := New(Options{DebounceDelay: time.Second, VersionFilePath: path})
	require.NoError(t, err)
	hash, ok := reloaded.GetVersion("a.txt")
	require.True(t, ok)
	assert.Equal(t, "hash1", hash)
}

func TestManager_Versions_FallsBackToBackupOnCorruptPrimary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "versions.json")

	m, err := New(Options{DebounceDelay: time.Second, VersionFilePath: path})
	require.NoError(t, err)
	m.SetVersion("a.txt", "hash1")
	require.NoError(t, m.flushVersions())

	// Corrupt the primary; the .bak copy written by a second flush should
	// still be valid and recoverable.
	m.SetVersion("a.txt", "hash2")
	require.NoError(t, m.flushVersions())
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	reloaded, err := New(Options{DebounceDelay: time.Second, VersionFilePath: path})
	require.NoError(t, err)
	hash, ok := reloaded.GetVersion("a.txt")
	require.True(t, ok)
	assert.Equal(t, "hash1", hash)
}
