package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gxo-labs/ruleflow/internal/config"
	rflog "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/log"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads a catalog file into a MemoryCatalog when it changes.
// Bursts of file events within the debounce interval cause one reload. A
// catalog that fails to load is logged and the previous one stays active.
type Watcher struct {
	path     string
	catalog  *MemoryCatalog
	kinds    config.KindLookup
	debounce time.Duration
	log      rflog.Logger

	// OnReload, when set, runs after every successful swap.
	OnReload func()

	mu    sync.Mutex
	timer *time.Timer
}

func NewWatcher(path string, catalog *MemoryCatalog, kinds config.KindLookup, debounce time.Duration, log rflog.Logger) (*Watcher, error) {
	if path == "" || catalog == nil || log == nil {
		return nil, fmt.Errorf("catalog watcher requires a path, a catalog and a logger")
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve catalog path '%s': %w", path, err)
	}
	return &Watcher{
		path:     abs,
		catalog:  catalog,
		kinds:    kinds,
		debounce: debounce,
		log:      log.With("component", "CatalogWatcher", "path", abs),
	}, nil
}

// Run watches until ctx is done. The parent directory is watched so that
// editors replacing the file through a rename are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch '%s': %w", filepath.Dir(w.path), err)
	}
	w.log.Infof("Watching catalog for changes (debounce %v).", w.debounce)

	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.log.Debugf("Catalog file event: %s", event.Op)
			w.schedule()
		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.log.Errorf("Catalog watcher error: %v", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { _ = w.Reload() })
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Reload loads the file and swaps it in.
func (w *Watcher) Reload() error {
	c, err := config.LoadCatalogFromFile(w.path, w.kinds)
	if err == nil {
		err = w.catalog.Swap(c)
	}
	if err != nil {
		w.log.Errorf("Catalog reload failed, keeping previous catalog: %v", err)
		return err
	}
	if w.OnReload != nil {
		w.OnReload()
	}
	return nil
}
