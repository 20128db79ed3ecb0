package labels

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/JakeFAU/customs-regdocs/internal/metrics"
)

// Config controls where overrides come from and how changes are noticed.
type Config struct {
	// Path of the YAML/JSON override file. Empty means defaults only.
	Path string
	// Watch enables fsnotify on the file's directory.
	Watch bool
	// PollInterval enables mtime/size polling when > 0.
	PollInterval time.Duration
	// Debounce coalesces bursts of filesystem events.
	Debounce time.Duration
}

// FileProvider serves DefaultLabels merged with an optional override file.
type FileProvider struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	dict    Dictionary
	modTime time.Time
	size    int64

	subsMu sync.Mutex
	subs   map[int]chan map[string]string
	nextID int

	lifeMu   sync.Mutex
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewFileProvider loads defaults plus the override file. A broken override file is
// logged and the defaults are served until a later reload succeeds.
func NewFileProvider(cfg Config, logger *zap.Logger) *FileProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 250 * time.Millisecond
	}
	p := &FileProvider{
		cfg:    cfg,
		logger: logger.Named("labels"),
		dict:   NewDictionary(DefaultLabels),
		subs:   make(map[int]chan map[string]string),
		stop:   make(chan struct{}),
	}
	if err := p.Reload(context.Background()); err != nil {
		p.logger.Warn("label overrides not loaded, using defaults", zap.String("path", cfg.Path), zap.Error(err))
	}
	return p
}

// Lookup resolves a page label to a canonical field.
func (p *FileProvider) Lookup(label string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dict.Lookup(label)
}

// RawLabels returns every known label in page form.
func (p *FileProvider) RawLabels() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dict.RawLabels()
}

// Snapshot returns a copy of the current raw label table.
func (p *FileProvider) Snapshot() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dict.Entries()
}

// Reload re-reads the override file and notifies subscribers.
func (p *FileProvider) Reload(_ context.Context) error {
	dict := NewDictionary(DefaultLabels)
	var (
		modTime time.Time
		size    int64
	)
	if p.cfg.Path != "" {
		info, err := os.Stat(p.cfg.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			p.logger.Info("label override file absent, using defaults", zap.String("path", p.cfg.Path))
		case err != nil:
			metrics.IncLabelReload("error")
			return fmt.Errorf("stat label overrides: %w", err)
		default:
			data, err := os.ReadFile(p.cfg.Path)
			if err != nil {
				metrics.IncLabelReload("error")
				return fmt.Errorf("read label overrides: %w", err)
			}
			overrides, issues, err := ParseOverrides(p.cfg.Path, data)
			if err != nil {
				metrics.IncLabelReload("error")
				return err
			}
			for _, issue := range issues {
				p.logger.Warn("skipping label override",
					zap.String("label", issue.Label),
					zap.String("reason", issue.Reason),
				)
			}
			dict = dict.Merge(overrides)
			modTime, size = info.ModTime(), info.Size()
		}
	}

	p.mu.Lock()
	p.dict = dict
	p.modTime, p.size = modTime, size
	p.mu.Unlock()

	metrics.IncLabelReload("ok")
	p.logger.Debug("labels loaded", zap.Int("labels", len(dict.raw)))
	p.notify(dict.Entries())
	return nil
}

// Subscribe returns a channel receiving the label table after every reload.
// Slow readers only see the latest table. The returned func unsubscribes.
func (p *FileProvider) Subscribe() (<-chan map[string]string, func()) {
	ch := make(chan map[string]string, 1)
	p.subsMu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	p.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subsMu.Lock()
			delete(p.subs, id)
			p.subsMu.Unlock()
			close(ch)
		})
	}
}

func (p *FileProvider) notify(table map[string]string) {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	for _, ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- table:
		default:
		}
	}
}

// Start begins watching and polling the override file until Close or ctx ends.
// It is a no-op without a path or when neither watching nor polling is enabled.
func (p *FileProvider) Start(ctx context.Context) error {
	if p.cfg.Path == "" || (!p.cfg.Watch && p.cfg.PollInterval <= 0) {
		return nil
	}
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.done != nil {
		return nil
	}

	var watcher *fsnotify.Watcher
	if p.cfg.Watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create label watcher: %w", err)
		}
		if err := w.Add(filepath.Dir(p.cfg.Path)); err != nil {
			_ = w.Close()
			return fmt.Errorf("watch label directory: %w", err)
		}
		watcher = w
	}
	p.done = make(chan struct{})
	go p.loop(ctx, watcher, p.done)
	return nil
}

// Close stops the watch loop and waits for it to exit.
func (p *FileProvider) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })
	p.lifeMu.Lock()
	done := p.done
	p.lifeMu.Unlock()
	if done != nil {
		<-done
	}
	return nil
}

func (p *FileProvider) loop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var (
		events  <-chan fsnotify.Event
		errs    <-chan error
		pollC   <-chan time.Time
		debounC <-chan time.Time
	)
	if watcher != nil {
		defer func() {
			if err := watcher.Close(); err != nil {
				p.logger.Warn("close label watcher", zap.Error(err))
			}
		}()
		events, errs = watcher.Events, watcher.Errors
	}
	if p.cfg.PollInterval > 0 {
		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()
		pollC = ticker.C
	}
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	target := filepath.Clean(p.cfg.Path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			debounce.Reset(p.cfg.Debounce)
			debounC = debounce.C
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.logger.Warn("label watcher error", zap.Error(err))
		case <-debounC:
			debounC = nil
			p.reloadLogged(ctx, "watch")
		case <-pollC:
			if p.changedOnDisk() {
				p.reloadLogged(ctx, "poll")
			}
		}
	}
}

func (p *FileProvider) reloadLogged(ctx context.Context, trigger string) {
	if err := p.Reload(ctx); err != nil {
		p.logger.Warn("label reload failed, keeping previous labels",
			zap.String("trigger", trigger),
			zap.Error(err),
		)
		return
	}
	p.logger.Info("labels reloaded", zap.String("trigger", trigger))
}

func (p *FileProvider) changedOnDisk() bool {
	info, err := os.Stat(p.cfg.Path)
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err != nil {
		// A removed file reverts to defaults once.
		return !p.modTime.IsZero()
	}
	return !info.ModTime().Equal(p.modTime) || info.Size() != p.size
}
