package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"TranscriptPipeline/internal/config"
	"TranscriptPipeline/internal/domain"
	"TranscriptPipeline/internal/ports"
)

// Watcher polls a folder for new or changed transcripts, diffs against
// the ledger, and dispatches exactly one isolated processor run per
// detected change.
type Watcher struct {
	folder      string
	extensions  map[string]struct{}
	ignore      map[string]struct{}
	hashContent bool

	ledger     ports.Ledger
	processor  ports.Processor
	dispatcher ports.Dispatcher
	logger     *slog.Logger

	ticking  atomic.Bool
	mu       sync.Mutex
	inflight map[string]struct{}
}

// New wires the watcher against its collaborators.
func New(cfg config.WatcherConfig, ledger ports.Ledger, processor ports.Processor, dispatcher ports.Dispatcher, logger *slog.Logger) *Watcher {
	extensions := make(map[string]struct{}, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		extensions[strings.ToLower(ext)] = struct{}{}
	}
	ignore := make(map[string]struct{}, len(cfg.Ignore))
	for _, name := range cfg.Ignore {
		ignore[name] = struct{}{}
	}

	return &Watcher{
		folder:      cfg.Folder,
		extensions:  extensions,
		ignore:      ignore,
		hashContent: cfg.HashContent,
		ledger:      ledger,
		processor:   processor,
		dispatcher:  dispatcher,
		logger:      logger,
		inflight:    map[string]struct{}{},
	}
}

// Tick runs one poll cycle. A single-flight guard drops the tick when
// the previous one is still running, so cycles never overlap.
func (w *Watcher) Tick(ctx context.Context, _ time.Time) {
	if !w.ticking.CompareAndSwap(false, true) {
		w.logger.Debug("previous poll cycle still running, skipping tick")
		return
	}
	defer w.ticking.Store(false)

	if ctx.Err() != nil {
		return
	}

	entries, err := os.ReadDir(w.folder)
	if errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("watched folder does not exist, creating", "folder", w.folder)
		if mkErr := os.MkdirAll(w.folder, 0o755); mkErr != nil {
			w.logger.Error("cannot create watched folder", "error", mkErr)
		}
		return
	}
	if err != nil {
		w.logger.Error("cannot list watched folder", "folder", w.folder, "error", err)
		return
	}

	// Lexical order keeps dispatch order deterministic within a tick.
	names := make([]string, 0, len(entries))
	byName := make(map[string]fs.DirEntry, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !w.watchable(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
		byName[entry.Name()] = entry
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		w.consider(ctx, name, byName[name])
	}
}

func (w *Watcher) watchable(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	if _, ignored := w.ignore[name]; ignored {
		return false
	}
	_, ok := w.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (w *Watcher) consider(ctx context.Context, name string, entry fs.DirEntry) {
	path, err := filepath.Abs(filepath.Join(w.folder, name))
	if err != nil {
		w.logger.Error("cannot resolve path", "file", name, "error", err)
		return
	}
	if w.isInflight(path) {
		return
	}

	info, err := entry.Info()
	if err != nil {
		w.logger.Warn("cannot stat file", "file", name, "error", err)
		return
	}
	fingerprint, err := w.fingerprint(path, info)
	if err != nil {
		w.logger.Warn("cannot fingerprint file", "file", name, "error", err)
		return
	}

	rec, err := w.ledger.Lookup(ctx, path)
	if err != nil {
		w.logger.Error("ledger lookup failed", "file", name, "error", err)
		return
	}

	var expectedVersion int64
	if rec != nil {
		expectedVersion = rec.Version
		if rec.Status == domain.StatusLaunched {
			// In flight (or abandoned — startup reconciliation handles that).
			return
		}
		if rec.Fingerprint == fingerprint && rec.Status != domain.StatusPending {
			return
		}
	}

	if _, err := w.ledger.UpsertPending(ctx, path, fingerprint, expectedVersion); err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			w.logger.Debug("ledger record changed underneath, re-polling next tick", "file", name)
			return
		}
		w.logger.Error("cannot upsert pending record", "file", name, "error", err)
		return
	}

	w.logger.Info("dispatching transcript", "file", name, "fingerprint", fingerprint)
	w.markInflight(path)
	w.dispatcher.Dispatch(ctx, name, func(jobCtx context.Context) {
		defer w.clearInflight(path)
		w.processor.Process(jobCtx, path, fingerprint)
	})
}

func (w *Watcher) fingerprint(path string, info fs.FileInfo) (string, error) {
	if !w.hashContent {
		return fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UTC().UnixNano()), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (w *Watcher) isInflight(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.inflight[path]
	return ok
}

func (w *Watcher) markInflight(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight[path] = struct{}{}
}

func (w *Watcher) clearInflight(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, path)
}
