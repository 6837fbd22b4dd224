// Package lifecycle sequences the life of one hosted application: extract the
// bundle, acquire a port, launch the process, wait for it to become healthy,
// switch hostname routing to it, and retire superseded versions without
// dropping traffic.
//
// Each app is driven by a single actor goroutine reading Reload and Terminate
// commands from a FIFO mailbox, so all state transitions for one app are
// strictly sequential. The initial launch and every retirement run as their
// own detached goroutines and never block the mailbox loop.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tomyedwab/apphost/applog"
	"github.com/tomyedwab/apphost/bundle"
	"github.com/tomyedwab/apphost/metrics"
	"github.com/tomyedwab/apphost/postgres"
)

const (
	defaultDrainGrace   = 20 * time.Second
	defaultCleanupGrace = 60 * time.Second
)

// PortRegistry is the shared port allocator and hostname routing table.
// All operations are atomic. Satisfied by *ports.Registry.
type PortRegistry interface {
	Acquire() (int, error)
	Release(port int)
	RegisterHost(host string, port int)
	DeregisterHost(host string)
}

// Process is a supervised app process that can be told to stop.
type Process interface {
	Terminate()
}

// Runner launches app processes. Satisfied by SupervisorRunner.
type Runner interface {
	Spawn(execPath string, args, env []string, dir string, out *applog.Logger) Process
}

// Prober reports whether a process accepts connections on its port.
// Satisfied by processes.Prober.
type Prober interface {
	Probe(ctx context.Context, port int) bool
}

// Provisioner supplies database credentials for apps that request them.
// Satisfied by *postgres.Provisioner.
type Provisioner interface {
	Provision(appName string) (*postgres.Credentials, error)
}

// Config wires one app actor to its collaborators.
type Config struct {
	AppName    string
	BundlePath string

	TempStore   bundle.TempStore
	Ports       PortRegistry
	Runner      Runner
	Prober      Prober
	Provisioner Provisioner // Optional; nil disables database provisioning.
	Logger      *applog.Logger

	// RemoveFromList deregisters this app from the outer app table. Invoked
	// exactly once, when the app permanently stops existing.
	RemoveFromList func()

	DrainGrace   time.Duration // Optional, defaults to 20s
	CleanupGrace time.Duration // Optional, defaults to 60s
}

// version is one extracted-and-started instance of the app. Exactly one
// version is current at a time; a second exists transiently as candidate
// during a reload.
type version struct {
	dir     string
	desc    *bundle.Descriptor
	port    int
	process Process
}

// Status is a read-only snapshot of an app for the control API.
type Status struct {
	App     string   `json:"app"`
	Running bool     `json:"running"`
	Host    string   `json:"host,omitempty"`
	Hosts   []string `json:"extraHosts,omitempty"`
	Port    int      `json:"port,omitempty"`
}

// App is the handle to one application actor. It only exposes
// enqueue-command semantics; all state is private to the actor goroutine.
type App struct {
	cfg     Config
	mailbox *mailbox

	statusMu sync.Mutex
	status   Status
}

// Start creates the actor for one app and returns its handle together with
// the launch action. The caller must run the launch action in its own
// goroutine; it performs the initial extract/start/health-check sequence and,
// on success, becomes the actor's command loop.
func Start(cfg Config) (*App, func()) {
	if cfg.DrainGrace == 0 {
		cfg.DrainGrace = defaultDrainGrace
	}
	if cfg.CleanupGrace == 0 {
		cfg.CleanupGrace = defaultCleanupGrace
	}
	a := &App{
		cfg:     cfg,
		mailbox: newMailbox(),
		status:  Status{App: cfg.AppName},
	}
	return a, a.launch
}

// Reload asks the actor to deploy the bundle currently at the app's bundle
// path. Fire and forget; the outcome is observable in logs and the routing
// table.
func (a *App) Reload() {
	a.mailbox.put(cmdReload)
}

// Terminate asks the actor to stop the app and retire its current version.
// Fire and forget.
func (a *App) Terminate() {
	a.mailbox.put(cmdTerminate)
}

// Status returns a snapshot of the app's externally visible state.
func (a *App) Status() Status {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	return a.status
}

// Logger returns the app's log stream.
func (a *App) Logger() *applog.Logger {
	return a.cfg.Logger
}

// launch runs the initial sequence. A failure anywhere is terminal for the
// app: it is deregistered from the outer table and the actor never enters its
// command loop.
func (a *App) launch() {
	current, ok := a.startVersion()
	if !ok {
		metrics.LaunchFailures.Inc()
		a.cfg.RemoveFromList()
		a.cfg.Logger.Detach()
		return
	}

	a.registerHosts(current)
	a.cfg.Logger.Log(applog.Event{Kind: applog.KindAppStarted, Host: current.desc.Host, Port: current.port})
	a.setStatus(current)
	metrics.AppsRunning.Inc()

	a.loop(current)
}

// loop is the actor's command loop. current is reassigned on every successful
// reload; the loop ends only on Terminate.
func (a *App) loop(current *version) {
	for {
		switch a.mailbox.take() {
		case cmdTerminate:
			a.cfg.RemoveFromList()
			a.cfg.Ports.DeregisterHost(current.desc.Host)
			for _, host := range current.desc.ExtraHosts {
				a.cfg.Ports.DeregisterHost(host)
			}
			a.cfg.Logger.Log(applog.Event{Kind: applog.KindTerminatingApp, Host: current.desc.Host})
			go a.retire(current)
			a.cfg.Logger.Detach()
			a.clearStatus()
			metrics.AppsRunning.Dec()
			return

		case cmdReload:
			candidate, ok := a.startVersion()
			if !ok {
				// Failure is non-fatal: the current version keeps serving.
				metrics.ReloadsTotal.WithLabelValues("failure").Inc()
				continue
			}

			// Registration first: the routing table never has a window
			// without an entry for the app's primary hostname.
			a.registerHosts(candidate)
			if candidate.desc.Host != current.desc.Host {
				a.cfg.Ports.DeregisterHost(current.desc.Host)
			}
			a.cfg.Logger.Log(applog.Event{Kind: applog.KindFinishedReloading, Host: candidate.desc.Host, Port: candidate.port})
			metrics.ReloadsTotal.WithLabelValues("success").Inc()
			go a.retire(current)
			a.setStatus(candidate)
			current = candidate
		}
	}
}

// startVersion runs the extract → port → env → spawn → health-check sequence
// and returns the new version. On any failure it releases everything it
// acquired, logs, and reports !ok.
func (a *App) startVersion() (*version, bool) {
	a.cfg.Logger.Log(applog.Event{Kind: applog.KindUnpackingBundle, Path: a.cfg.BundlePath})

	dir, desc, err := bundle.Extract(a.cfg.TempStore, a.cfg.AppName, a.cfg.BundlePath)
	if err != nil {
		a.cfg.Logger.Log(applog.Event{Kind: applog.KindInvalidBundle, Path: a.cfg.BundlePath, Err: err})
		return nil, false
	}

	port, err := a.cfg.Ports.Acquire()
	if err != nil {
		a.cfg.Logger.Log(applog.Event{Kind: applog.KindPortAcquireFailed, Err: err})
		a.releaseDir(dir)
		return nil, false
	}

	env := a.buildEnv(desc, port)

	execPath := desc.Exec
	if !filepath.IsAbs(execPath) {
		execPath = filepath.Join(dir, execPath)
	}
	process := a.cfg.Runner.Spawn(execPath, desc.Args, env, dir, a.cfg.Logger)

	if !a.cfg.Prober.Probe(context.Background(), port) {
		a.cfg.Logger.Log(applog.Event{Kind: applog.KindProcessDidNotStart, Host: desc.Host, Port: port})
		a.cfg.Ports.Release(port)
		process.Terminate()
		a.releaseDir(dir)
		return nil, false
	}

	return &version{dir: dir, desc: desc, port: port, process: process}, true
}

// buildEnv computes the child environment: the daemon's own environment plus
// PORT, APPROOT and, when requested and available, database credentials.
func (a *App) buildEnv(desc *bundle.Descriptor, port int) []string {
	env := os.Environ()
	env = append(env, fmt.Sprintf("PORT=%d", port))

	scheme := "http"
	if desc.SSL {
		scheme = "https"
	}
	env = append(env, fmt.Sprintf("APPROOT=%s://%s", scheme, desc.Host))

	if desc.Postgres && a.cfg.Provisioner != nil {
		creds, err := a.cfg.Provisioner.Provision(a.cfg.AppName)
		if err != nil {
			// The app starts anyway, without database environment variables.
			a.cfg.Logger.Log(applog.Event{Kind: applog.KindProvisioningFailed, Err: err})
		} else {
			env = append(env,
				fmt.Sprintf("PGHOST=%s", creds.Host),
				fmt.Sprintf("PGPORT=%d", creds.Port),
				fmt.Sprintf("PGUSER=%s", creds.User),
				fmt.Sprintf("PGPASS=%s", creds.Password),
				fmt.Sprintf("PGDATABASE=%s", creds.DBName),
			)
		}
	}
	return env
}

// registerHosts points the primary hostname and every extra hostname at the
// version's port.
func (a *App) registerHosts(v *version) {
	a.cfg.Ports.RegisterHost(v.desc.Host, v.port)
	for _, host := range v.desc.ExtraHosts {
		a.cfg.Ports.RegisterHost(host, v.port)
	}
}

func (a *App) releaseDir(dir string) {
	if err := a.cfg.TempStore.Release(dir); err != nil {
		a.cfg.Logger.Log(applog.Event{Kind: applog.KindFolderRemovalFailed, Path: dir, Err: err})
	}
}

func (a *App) setStatus(v *version) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.status = Status{
		App:     a.cfg.AppName,
		Running: true,
		Host:    v.desc.Host,
		Hosts:   v.desc.ExtraHosts,
		Port:    v.port,
	}
}

func (a *App) clearStatus() {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.status = Status{App: a.cfg.AppName}
}
