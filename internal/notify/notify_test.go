package notify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_New(t *testing.T) {
	n, err := New(t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, n)
	defer func() { _ = n.Stop() }()
}

func TestNotifier_ObservesFileCreate(t *testing.T) {
	tempDir := t.TempDir()
	n, err := New(tempDir)
	require.NoError(t, err)
	defer func() { _ = n.Stop() }()

	events := make(chan FileChangeEvent, 10)
	n.Observe(func(evt FileChangeEvent) { events <- evt })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	go func() {
		close(started)
		_ = n.Start(ctx)
	}()
	<-started
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(tempDir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	select {
	case evt := <-events:
		assert.Equal(t, OriginFileSystem, evt.Origin)
		assert.Equal(t, "note.md", evt.RelativePath)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file-change event")
	}
}

func TestNotifier_ApplicationChangeSuppressesEcho(t *testing.T) {
	tempDir := t.TempDir()
	n, err := New(tempDir)
	require.NoError(t, err)
	defer func() { _ = n.Stop() }()

	var received []FileChangeEvent
	n.Observe(func(evt FileChangeEvent) { received = append(received, evt) })

	physical := filepath.Join(tempDir, "doc.txt")
	n.NotifyApplicationChange(Modified, "doc.txt", physical, false, "", "")

	require.NoError(t, os.WriteFile(physical, []byte("x"), 0o644))

	require.True(t, n.isSuppressed(Modified, physical, time.Now()))

	require.Len(t, received, 1)
	assert.Equal(t, OriginWebDav, received[0].Origin)
}

func TestNotifier_SuppressionMatchesPreviousSecond(t *testing.T) {
	n, err := New(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = n.Stop() }()

	n.recordSuppression(Created, "/v/a.txt", time.Now().Add(-1*time.Second))
	assert.True(t, n.isSuppressed(Created, "/v/a.txt", time.Now()))
}

func TestNotifier_SuppressionPrunedAfterWindow(t *testing.T) {
	n, err := New(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = n.Stop() }()

	old := time.Now().Add(-10 * time.Second)
	n.suppressMu.Lock()
	n.suppressed[suppressKey{kind: Created, path: "/v/a.txt", sec: old.Unix()}] = old
	n.suppressMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.pruneSuppressions(ctx)
	time.Sleep(suppressionPrune + 200*time.Millisecond)

	n.suppressMu.Lock()
	_, ok := n.suppressed[suppressKey{kind: Created, path: "/v/a.txt", sec: old.Unix()}]
	n.suppressMu.Unlock()
	assert.False(t, ok)
}

func TestNotifier_AsyncChannelDropsOldestOnOverflow(t *testing.T) {
	n, err := New(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = n.Stop() }()

	for i := 0; i < asyncChannelCapacity+10; i++ {
		n.publish(FileChangeEvent{Kind: Modified, RelativePath: "a.txt"})
	}

	assert.Equal(t, asyncChannelCapacity, len(n.Events()))
	assert.Equal(t, uint64(10), n.DroppedAsyncCount())
}

func TestNotifier_DirectoryCreateForwarded(t *testing.T) {
	tempDir := t.TempDir()
	n, err := New(tempDir)
	require.NoError(t, err)
	defer func() { _ = n.Stop() }()

	events := make(chan FileChangeEvent, 10)
	n.Observe(func(evt FileChangeEvent) { events <- evt })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	go func() {
		close(started)
		_ = n.Start(ctx)
	}()
	<-started
	time.Sleep(100 * time.Millisecond)

	sub := filepath.Join(tempDir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	select {
	case evt := <-events:
		assert.Equal(t, Created, evt.Kind)
		assert.True(t, evt.IsDirectory)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for directory create event")
	}
}
