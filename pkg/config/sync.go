package config

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lokutor-ai/stream-commentator/pkg/logging"
	"github.com/lokutor-ai/stream-commentator/pkg/providers"
)

// EventType enumerates what SyncEngine reports on its Events channel.
type EventType string

const (
	BeforeSync EventType = "beforeSync"
	AfterSync  EventType = "afterSync"
	SyncError  EventType = "syncError"
)

// Event is one SyncEngine notification.
type Event struct {
	Type          EventType
	UpdatedFields []string
	ErrorType     string
	Err           error
}

// RemoteDocumentKey is the name SyncEngine fetches from the ConfigStore.
const RemoteDocumentKey = "broadcast-config"

// Engine pulls a remote document, merges it with the local one, and
// persists the result.
type Engine struct {
	mu       sync.Mutex
	store    providers.ConfigStore // nil disables remote sync; fetch returns nil
	strategy Strategy
	path     string
	logger   logging.Logger

	current    *Document
	syncing    bool
	cancelAuto context.CancelFunc
	events     chan Event
}

// New builds an Engine. store may be nil, in which case Fetch always
// returns a nil document and auto-sync becomes a no-op.
func New(initial *Document, store providers.ConfigStore, strategy Strategy, persistPath string, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if initial.LastModified == nil {
		initial.LastModified = make(map[string]time.Time)
	}
	return &Engine{
		store:    store,
		strategy: strategy,
		path:     persistPath,
		logger:   logger,
		current:  initial,
		events:   make(chan Event, 32),
	}
}

// Events returns the read side of the Engine's event channel.
func (e *Engine) Events() <-chan Event { return e.events }

// Current returns the active document's deep copy.
func (e *Engine) Current() *Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.Clone()
}

// Fetch pulls the named document from the remote store, or returns nil
// if no store is configured.
func (e *Engine) Fetch(ctx context.Context) (*Document, error) {
	if e.store == nil {
		return nil, nil
	}
	raw, ok, err := e.store.Get(ctx, RemoteDocumentKey)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var doc Document
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("config: decode remote document: %w", err)
	}
	if doc.LastModified == nil {
		doc.LastModified = make(map[string]time.Time)
	}
	return &doc, nil
}

// Sync runs fetch -> merge -> validate -> persist. Concurrent syncs are
// rejected.
func (e *Engine) Sync(ctx context.Context) error {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return fmt.Errorf("config: sync already in progress")
	}
	e.syncing = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	e.emit(Event{Type: BeforeSync})

	remote, err := e.Fetch(ctx)
	if err != nil {
		e.emit(Event{Type: SyncError, ErrorType: "fetch", Err: err})
		return err
	}
	if remote == nil {
		e.emit(Event{Type: AfterSync})
		return nil
	}

	e.mu.Lock()
	local := e.current
	merged := Merge(local, remote, e.strategy)
	e.mu.Unlock()

	if err := merged.Validate(); err != nil {
		e.emit(Event{Type: SyncError, ErrorType: "validation", Err: err})
		return err
	}

	if e.path != "" {
		if err := persist(merged, e.path); err != nil {
			e.emit(Event{Type: SyncError, ErrorType: "persist", Err: err})
			return err
		}
	}

	e.mu.Lock()
	updated := diffSections(local, merged)
	e.current = merged
	e.mu.Unlock()

	e.emit(Event{Type: AfterSync, UpdatedFields: updated})
	return nil
}

// StartAuto ticks Sync every interval until the returned stop func is
// called. Failures do not stop the loop.
func (e *Engine) StartAuto(ctx context.Context, interval time.Duration) func() {
	autoCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelAuto = cancel
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-autoCtx.Done():
				return
			case <-ticker.C:
				if err := e.Sync(autoCtx); err != nil {
					e.logger.Warn("config: auto-sync failed, will retry", "error", err)
				}
			}
		}
	}()
	return cancel
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("config: event channel full, dropping event", "type", ev.Type)
	}
}

func persist(doc *Document, path string) error {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// Save validates and writes doc to path, for callers outside this
// package that edit a Document directly (the `config set`/`safety` CLI
// subcommands) rather than going through an Engine's merge/sync path.
func Save(doc *Document, path string) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	return persist(doc, path)
}

// Load reads and validates a Document from a YAML file on disk.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc.LastModified == nil {
		doc.LastModified = make(map[string]time.Time)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func diffSections(before, after *Document) []string {
	var updated []string
	if !reflect.DeepEqual(before.Providers, after.Providers) {
		updated = append(updated, "providers")
	}
	if !reflect.DeepEqual(before.Comment, after.Comment) {
		updated = append(updated, "comment")
	}
	if !reflect.DeepEqual(before.Safety, after.Safety) {
		updated = append(updated, "safety")
	}
	if before.RateLimit != after.RateLimit {
		updated = append(updated, "rateLimit")
	}
	return updated
}
