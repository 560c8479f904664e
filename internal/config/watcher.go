package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mcphub/pkg/logging"
)

// ChangeOperation classifies a document change.
type ChangeOperation string

const (
	OperationCreate ChangeOperation = "create"
	OperationUpdate ChangeOperation = "update"
	OperationDelete ChangeOperation = "delete"
)

// ChangeEvent reports one debounced change to a configuration document.
type ChangeEvent struct {
	Document  string
	Path      string
	Operation ChangeOperation
	Timestamp time.Time
}

// Watcher watches a configuration directory for document changes.
//
// It uses fsnotify and debounces rapid successive writes (editors often
// write a file several times in a burst) into a single event per document.
type Watcher struct {
	mu sync.RWMutex

	// configPath is the watched configuration directory
	configPath string

	// watcher is the fsnotify watcher instance
	watcher *fsnotify.Watcher

	// debounceInterval is how long to wait for additional changes
	debounceInterval time.Duration

	// pendingEvents tracks pending debounced events per document
	pendingEvents map[string]*debounceEntry

	// stopCh signals shutdown
	stopCh chan struct{}

	// running indicates if the watcher is active
	running bool
}

// debounceEntry tracks a pending event for debouncing.
type debounceEntry struct {
	event     ChangeEvent
	timer     *time.Timer
	operation ChangeOperation
}

// NewWatcher creates a watcher for the given configuration directory.
func NewWatcher(configPath string, debounceInterval time.Duration) *Watcher {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}

	return &Watcher{
		configPath:       configPath,
		debounceInterval: debounceInterval,
		pendingEvents:    make(map[string]*debounceEntry),
		stopCh:           make(chan struct{}),
	}
}

// Start begins watching for document changes.
func (w *Watcher) Start(ctx context.Context, changes chan<- ChangeEvent) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}

	w.watcher = watcher
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	if err := watcher.Add(w.configPath); err != nil {
		w.Stop()
		return err
	}

	go w.processEvents(ctx, changes)

	logging.Info("Config", "Started watching %s for configuration changes", w.configPath)
	return nil
}

// processEvents handles filesystem events and generates change events.
func (w *Watcher) processEvents(ctx context.Context, changes chan<- ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			w.cleanupPendingEvents()
			return

		case <-w.stopCh:
			w.cleanupPendingEvents()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event, changes)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Config", err, "Filesystem watcher error")
		}
	}
}

// handleFsEvent processes a single filesystem event.
func (w *Watcher) handleFsEvent(event fsnotify.Event, changes chan<- ChangeEvent) {
	document := documentFor(event.Name)
	if document == "" {
		return
	}

	var operation ChangeOperation
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		operation = OperationCreate
	case event.Op&fsnotify.Write == fsnotify.Write:
		operation = OperationUpdate
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		operation = OperationDelete
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		// Rename is treated as delete (the new name will trigger a create)
		operation = OperationDelete
	default:
		return
	}

	w.debounceEvent(ChangeEvent{
		Document:  document,
		Path:      event.Name,
		Operation: operation,
		Timestamp: time.Now(),
	}, changes)
}

// debounceEvent coalesces rapid successive changes to the same document.
func (w *Watcher) debounceEvent(event ChangeEvent, changes chan<- ChangeEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := event.Document

	if entry, ok := w.pendingEvents[key]; ok {
		entry.timer.Stop()
		event.Operation = mergeOperations(entry.operation, event.Operation)
	}

	timer := time.AfterFunc(w.debounceInterval, func() {
		w.mu.Lock()
		entry, ok := w.pendingEvents[key]
		if ok {
			delete(w.pendingEvents, key)
		}
		w.mu.Unlock()

		if ok {
			select {
			case changes <- entry.event:
				logging.Debug("Config", "Emitted change event: %s %s", entry.event.Operation, entry.event.Document)
			default:
				logging.Warn("Config", "Change event channel full, dropping event for %s", entry.event.Document)
			}
		}
	})

	w.pendingEvents[key] = &debounceEntry{
		event:     event,
		timer:     timer,
		operation: event.Operation,
	}
}

// mergeOperations merges two operations into a single logical operation.
func mergeOperations(old, new ChangeOperation) ChangeOperation {
	if old == OperationCreate {
		if new == OperationDelete {
			return OperationDelete
		}
		// Create + Update = Create
		return OperationCreate
	}

	if old == OperationUpdate && new == OperationDelete {
		return OperationDelete
	}

	return new
}

// documentFor maps a file path to the document it belongs to, or "" when
// the file is not a configuration document.
func documentFor(path string) string {
	name := filepath.Base(path)
	if name == hubConfigFile {
		return "config"
	}

	ext := strings.ToLower(filepath.Ext(name))
	supported := false
	for _, e := range documentExtensions {
		if ext == e {
			supported = true
			break
		}
	}
	if !supported {
		return ""
	}

	base := strings.TrimSuffix(name, ext)
	switch base {
	case serversDocument, groupsDocument, apiToolsDocument:
		return base
	}
	return ""
}

// cleanupPendingEvents cancels all pending debounce timers.
func (w *Watcher) cleanupPendingEvents() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, entry := range w.pendingEvents {
		entry.timer.Stop()
	}
	w.pendingEvents = make(map[string]*debounceEntry)
}

// Stop gracefully stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	close(w.stopCh)

	if w.watcher != nil {
		if err := w.watcher.Close(); err != nil {
			logging.Error("Config", err, "Error closing filesystem watcher")
		}
		w.watcher = nil
	}

	logging.Info("Config", "Stopped configuration watcher")
	return nil
}
