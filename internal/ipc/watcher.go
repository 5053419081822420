package ipc

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	watchDebounce     = 200 * time.Millisecond
	watchPollInterval = 10 * time.Second
)

// Watcher observes the session ipc tree and records the last delivery time
// per recipient. The health monitor reads these to distinguish a quiet worker
// from a stalled one. Falls back to polling when fsnotify is unavailable.
type Watcher struct {
	root   string
	logger *zap.Logger
	onMsg  func(receiverID string) // optional delivery hook

	mu            sync.Mutex
	lastDelivery  map[string]time.Time
	debounceTimer *time.Timer
	pending       map[string]bool

	watcher     *fsnotify.Watcher
	useFsnotify bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewWatcher returns a watcher over the mailbox root. onMsg may be nil.
func NewWatcher(root string, onMsg func(receiverID string), logger *zap.Logger) *Watcher {
	return &Watcher{
		root:         root,
		logger:       logger,
		onMsg:        onMsg,
		lastDelivery: make(map[string]time.Time),
		pending:      make(map[string]bool),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start runs the watcher until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	defer close(w.doneCh)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify init failed, polling only", zap.Error(err))
	} else {
		w.watcher = watcher
		w.useFsnotify = true
		if err := w.addTree(); err != nil {
			w.logger.Warn("fsnotify add failed, polling only", zap.Error(err))
			_ = watcher.Close()
			w.watcher = nil
			w.useFsnotify = false
		}
	}

	if w.useFsnotify {
		defer w.watcher.Close()
		go w.watchLoop(ctx)
	}
	w.pollLoop(ctx)
}

// Stop terminates the watcher. Call after cancelling the Start context.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// LastDelivery returns the recorded last delivery time for a recipient.
func (w *Watcher) LastDelivery(receiverID string) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.lastDelivery[receiverID]
	return t, ok
}

// addTree registers the root and every existing per-recipient directory.
// New recipient directories are picked up from create events.
func (w *Watcher) addTree() error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.root); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.watcher.Add(filepath.Join(w.root, e.Name())); err != nil {
				w.logger.Warn("watch mailbox dir failed", zap.String("dir", e.Name()), zap.Error(err))
			}
		}
	}
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.watcher.Add(event.Name); err != nil {
					w.logger.Warn("watch new mailbox dir failed", zap.Error(err))
				}
				continue
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			receiver := filepath.Base(filepath.Dir(event.Name))
			w.recordDebounced(receiver)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// recordDebounced batches bursts of deliveries into one hook call per
// recipient.
func (w *Watcher) recordDebounced(receiverID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastDelivery[receiverID] = time.Now()
	w.pending[receiverID] = true
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(watchDebounce, w.flushPending)
}

func (w *Watcher) flushPending() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]bool)
	w.mu.Unlock()
	if w.onMsg == nil {
		return
	}
	for receiver := range pending {
		w.onMsg(receiver)
	}
}

// pollLoop is the fallback scan: it stats every mailbox and records mtimes.
func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(w.root, e.Name())
		latest := time.Time{}
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			info, err := f.Info()
			if err == nil && info.ModTime().After(latest) {
				latest = info.ModTime()
			}
		}
		if latest.IsZero() {
			continue
		}
		w.mu.Lock()
		if latest.After(w.lastDelivery[e.Name()]) {
			w.lastDelivery[e.Name()] = latest
		}
		w.mu.Unlock()
	}
}
