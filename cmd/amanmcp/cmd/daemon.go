package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultindex/vaultindex/internal/chunk"
	"github.com/vaultindex/vaultindex/internal/config"
	vaultdaemon "github.com/vaultindex/vaultindex/internal/daemon"
	"github.com/vaultindex/vaultindex/internal/embed"
	vaulterrors "github.com/vaultindex/vaultindex/internal/errors"
	"github.com/vaultindex/vaultindex/internal/index"
	"github.com/vaultindex/vaultindex/internal/ingest"
	"github.com/vaultindex/vaultindex/internal/notify"
	"github.com/vaultindex/vaultindex/internal/pipeline"
	"github.com/vaultindex/vaultindex/internal/queue"
	"github.com/vaultindex/vaultindex/internal/syncworker"
	"github.com/vaultindex/vaultindex/internal/worker"
)

// newDaemonCmd wires C6 (notifier) + C7 (queue) + C8 (processing worker) +
// C9 (embedding sync worker) into the single long-running daemon process
// spec 4 describes as the system's "hard core": a watched vault directory
// whose changes flow, debounced and versioned, through to a synced index.
func newDaemonCmd() *cobra.Command {
	var vaultPath string
	var dataPath string

	cmd := &cobra.Command{
		Use:   "watch <vault-path>",
		Short: "Run the indexing daemon: watch, debounce, process, and embed-sync a vault directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vaultPath = args[0]
			return runDaemon(cmd, vaultPath, dataPath)
		},
	}
	cmd.Flags().StringVar(&dataPath, "data-path", "", "Directory for the version map, index, and archives (default: defaults→XDG→env precedence)")
	return cmd
}

func runDaemon(cmd *cobra.Command, vaultPath, dataPathFlag string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, err := config.Load(dataPathFlag)
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeConfigInvalid, "load daemon configuration", err)
	}
	if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeFileNotFound, "create data directory "+cfg.DataPath, err)
	}

	pid := vaultdaemon.NewPIDFile(filepath.Join(cfg.DataPath, "vaultindex.pid"))
	acquired, err := pid.Write()
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeFilePermission, "write PID file", err)
	}
	if !acquired {
		return vaulterrors.New(vaulterrors.ErrCodeConfigInvalid, "a daemon instance is already running for "+cfg.DataPath, nil)
	}
	defer func() { _ = pid.Remove() }()

	embedder, err := embed.NewEmbedder(ctx, embed.ProviderOllama, "")
	if err != nil {
		embedder, err = embed.NewDefaultEmbedder(ctx)
		if err != nil {
			return vaulterrors.Wrap(vaulterrors.ErrCodeEmbeddingFailed, err)
		}
		slog.Warn("embedding backend unavailable, falling back to the offline static embedder")
	}

	archiveDir := filepath.Join(cfg.DataPath, "archives")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeFileNotFound, "create archive directory", err)
	}
	store, err := index.Open(filepath.Join(cfg.DataPath, "index.db"))
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "open index", err)
	}
	defer store.Close()

	chunkOpts := chunkOptionsFrom(cfg)
	ppl := pipeline.New(ingest.NewRegistry(), embedder, chunkOpts, store, archiveDir)

	q, err := queue.New(queue.Options{
		DebounceDelay:   cfg.DebounceDelay(),
		VersionFilePath: queue.VersionFilePath(cfg.DataPath),
	})
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeInternal, "start queue manager", err)
	}
	q.Run()
	defer q.Stop()

	notifier, err := notify.New(vaultPath)
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeInternal, "start file-change notifier", err)
	}
	notifier.Observe(func(evt notify.FileChangeEvent) {
		if evt.IsDirectory {
			return
		}
		if cfg.MatchesExcludePattern(filepath.Base(filepath.Dir(evt.PhysicalPath))) {
			return
		}
		if evt.Kind == notify.Deleted {
			q.EnqueueChange(queue.ProcessingTask{RelativePath: evt.PhysicalPath, Kind: queue.TaskDelete})
			return
		}
		hash, err := pipeline.HashFile(evt.PhysicalPath)
		if err != nil {
			return
		}
		q.EnqueueChange(queue.ProcessingTask{RelativePath: evt.PhysicalPath, Kind: queue.TaskUpsert, FileHash: hash})
	})

	w := worker.New(q, ppl)
	w.MaxRetries = cfg.MaxRetries

	sw := syncworker.New(store, embedder, syncworker.Options{
		Interval:  cfg.EmbeddingSyncInterval(),
		BatchSize: cfg.EmbeddingBatchSize,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		notifyErr := notifier.Start(ctx)
		if notifyErr != nil && notifyErr != context.Canceled {
			slog.Warn("file-change notifier exited", slog.String("error", notifyErr.Error()))
		}
	}()
	go w.Run(ctx)
	go sw.Run(ctx)

	slog.Info("daemon started", slog.String("vault", vaultPath), slog.String("data_path", cfg.DataPath))

	<-ctx.Done()
	_ = notifier.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	slog.Info("daemon stopped")
	return nil
}

func chunkOptionsFrom(cfg *config.Config) chunk.Options {
	opts := chunk.DefaultOptions()
	opts.SimilarityThreshold = cfg.Chunking.SimilarityThreshold
	opts.MinChunkSize = cfg.Chunking.MinChunkSize
	opts.MaxChunkSize = cfg.Chunking.MaxChunkSize
	if len(cfg.Chunking.Delimiters) > 0 {
		opts.Delimiters = cfg.Chunking.Delimiters
	}
	return opts
}
