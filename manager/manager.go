// Package manager owns the per-machine table of hosted applications and keeps
// it in sync with a directory of bundle files: a new <name>.tar.gz launches an
// app, a rewritten one redeploys it, a removed one terminates it.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tomyedwab/apphost/applog"
	"github.com/tomyedwab/apphost/bundle"
	"github.com/tomyedwab/apphost/lifecycle"
)

// BundleSuffix is the file name suffix that marks a deployable bundle in the
// incoming directory.
const BundleSuffix = ".tar.gz"

const defaultDebounce = 500 * time.Millisecond

// Config holds configuration options for the Manager.
type Config struct {
	IncomingDir string

	TempStore   bundle.TempStore
	Ports       lifecycle.PortRegistry
	Runner      lifecycle.Runner
	Prober      lifecycle.Prober
	Provisioner lifecycle.Provisioner // Optional
	Recorder    applog.Recorder       // Optional
	Logger      *slog.Logger          // Optional, defaults to slog.Default()

	DrainGrace   time.Duration // Optional, passed through to each app actor
	CleanupGrace time.Duration // Optional
	Debounce     time.Duration // Optional, defaults to 500ms
}

// Manager tracks all hosted apps. One app actor exists per bundle file; the
// actor's RemoveFromList callback deletes its entry here.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	apps   map[string]*lifecycle.App
	timers map[string]*time.Timer
}

// New creates a Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.IncomingDir == "" {
		return nil, fmt.Errorf("manager: incoming directory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = defaultDebounce
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.With("component", "Manager"),
		apps:   make(map[string]*lifecycle.App),
		timers: make(map[string]*time.Timer),
	}, nil
}

// Run deploys any bundles already present in the incoming directory, then
// watches it for changes until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("manager: failed to create watcher: %w", err)
	}
	defer watcher.Close()
	// Watch before the initial scan so a bundle arriving in between is not
	// missed. One seen by both paths deploys once and then reloads once.
	if err := watcher.Add(m.cfg.IncomingDir); err != nil {
		return fmt.Errorf("manager: failed to watch %s: %w", m.cfg.IncomingDir, err)
	}

	existing, err := filepath.Glob(filepath.Join(m.cfg.IncomingDir, "*"+BundleSuffix))
	if err != nil {
		return fmt.Errorf("manager: failed to scan incoming directory: %w", err)
	}
	for _, path := range existing {
		m.deploy(appNameFor(path), path)
	}

	m.logger.Info("Watching incoming directory", "dir", m.cfg.IncomingDir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			m.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("Watcher error", "error", err)
		}
	}
}

func appNameFor(path string) string {
	return strings.TrimSuffix(filepath.Base(path), BundleSuffix)
}

func (m *Manager) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, BundleSuffix) {
		return
	}
	name := appNameFor(event.Name)

	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		m.logger.Info("Bundle removed", "app", name)
		if err := m.Terminate(name); err != nil {
			m.logger.Warn("Failed to terminate app for removed bundle", "app", name, "error", err)
		}
	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
		// Bundle uploads arrive as a burst of writes; deploy once the file
		// has been quiet for the debounce interval.
		m.scheduleDeploy(name, event.Name)
	}
}

func (m *Manager) scheduleDeploy(name, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timer, ok := m.timers[name]; ok {
		timer.Reset(m.cfg.Debounce)
		return
	}
	m.timers[name] = time.AfterFunc(m.cfg.Debounce, func() {
		m.mu.Lock()
		delete(m.timers, name)
		m.mu.Unlock()

		if _, err := os.Stat(path); err != nil {
			// Removed again before the debounce fired.
			return
		}
		m.deploy(name, path)
	})
}

// deploy starts a new app for the bundle, or reloads the existing one.
func (m *Manager) deploy(name, path string) {
	m.mu.Lock()
	if app, ok := m.apps[name]; ok {
		m.mu.Unlock()
		m.logger.Info("Reloading app", "app", name)
		app.Reload()
		return
	}

	m.logger.Info("Launching app", "app", name, "bundle", path)
	app, launch := lifecycle.Start(lifecycle.Config{
		AppName:        name,
		BundlePath:     path,
		TempStore:      m.cfg.TempStore,
		Ports:          m.cfg.Ports,
		Runner:         m.cfg.Runner,
		Prober:         m.cfg.Prober,
		Provisioner:    m.cfg.Provisioner,
		Logger:         applog.NewLogger(name, m.logger, m.cfg.Recorder),
		RemoveFromList: func() { m.remove(name) },
		DrainGrace:     m.cfg.DrainGrace,
		CleanupGrace:   m.cfg.CleanupGrace,
	})
	m.apps[name] = app
	m.mu.Unlock()

	go launch()
}

func (m *Manager) remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.apps, name)
}

// Get returns the app actor for name.
func (m *Manager) Get(name string) (*lifecycle.App, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[name]
	return app, ok
}

// Reload asks the named app to redeploy its bundle.
func (m *Manager) Reload(name string) error {
	app, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("manager: no app named %s", name)
	}
	app.Reload()
	return nil
}

// Terminate asks the named app to stop.
func (m *Manager) Terminate(name string) error {
	app, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("manager: no app named %s", name)
	}
	app.Terminate()
	return nil
}

// List returns a status snapshot for every known app, sorted by name.
func (m *Manager) List() []lifecycle.Status {
	m.mu.Lock()
	statuses := make([]lifecycle.Status, 0, len(m.apps))
	for _, app := range m.apps {
		statuses = append(statuses, app.Status())
	}
	m.mu.Unlock()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].App < statuses[j].App })
	return statuses
}
