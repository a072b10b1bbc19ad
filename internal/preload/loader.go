// Package preload evaluates boot scripts from a directory through the engine
// gateway, and optionally re-evaluates them when they change.
package preload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jolby/TiREPL/internal/gateway"
	"github.com/jolby/TiREPL/internal/logger"
)

// ScriptExt is the extension of files picked up by the loader.
const ScriptExt = ".js"

// DefaultDebounce coalesces the burst of events editors emit for one save.
const DefaultDebounce = 100 * time.Millisecond

// Evaluator runs script source. *gateway.Gateway implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, src string) gateway.Outcome
}

// Result is the outcome of evaluating one file.
type Result struct {
	Path    string
	Outcome gateway.Outcome
}

// Loader evaluates the *.js files of one directory in lexical order.
type Loader struct {
	dir  string
	eval Evaluator
	log  *logger.Logger

	// Debounce is the quiet period before a changed file is re-evaluated.
	Debounce time.Duration
	// OnReload, if set, is called after each re-evaluation triggered by Watch.
	OnReload func(Result)
}

// NewLoader creates a loader for dir.
func NewLoader(dir string, eval Evaluator, log *logger.Logger) *Loader {
	if log == nil {
		log = logger.Global()
	}
	return &Loader{
		dir:      dir,
		eval:     eval,
		log:      log.WithPrefix("preload"),
		Debounce: DefaultDebounce,
	}
}

// Scripts lists the script files, sorted. Subdirectories are not searched.
func (l *Loader) Scripts() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read preload directory %s: %w", l.dir, err)
	}

	var scripts []string
	for _, entry := range entries {
		if entry.IsDir() || !isScript(entry.Name()) {
			continue
		}
		scripts = append(scripts, filepath.Join(l.dir, entry.Name()))
	}
	sort.Strings(scripts)
	return scripts, nil
}

// LoadAll evaluates every script. A failing script is logged and does not
// stop the others; only a directory error is returned.
func (l *Loader) LoadAll(ctx context.Context) ([]Result, error) {
	scripts, err := l.Scripts()
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(scripts))
	for _, path := range scripts {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		results = append(results, l.LoadFile(ctx, path))
	}
	l.log.Info("Evaluated %d preload scripts from %s", len(results), l.dir)
	return results, nil
}

// LoadFile evaluates a single file.
func (l *Loader) LoadFile(ctx context.Context, path string) Result {
	data, err := os.ReadFile(path)
	if err != nil {
		l.log.Error("Failed to read %s: %v", path, err)
		return Result{Path: path, Outcome: gateway.Outcome{Err: err}}
	}

	out := l.eval.Evaluate(ctx, string(data))
	if out.Err != nil {
		l.log.Error("Preload %s failed: %v", filepath.Base(path), out.Err)
	} else {
		l.log.Debug("Preload %s => %s", filepath.Base(path), out.Text())
	}
	return Result{Path: path, Outcome: out}
}

// Watch re-evaluates scripts that are written or created until ctx is done.
// It does not evaluate anything on start; call LoadAll first.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", l.dir, err)
	}
	l.log.Info("Watching %s for changes", l.dir)

	var (
		mu      sync.Mutex
		timers  = make(map[string]*time.Timer)
		changed = make(chan string, 16)
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Reset(l.Debounce)
			return
		}
		timers[path] = time.AfterFunc(l.Debounce, func() {
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			select {
			case changed <- path:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isScript(event.Name) || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			schedule(event.Name)

		case path := <-changed:
			l.log.Info("Reloading %s", filepath.Base(path))
			result := l.LoadFile(ctx, path)
			if l.OnReload != nil {
				l.OnReload(result)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Error("Preload watcher error: %v", err)
		}
	}
}

func isScript(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ScriptExt) && !strings.HasPrefix(base, ".")
}
