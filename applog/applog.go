// Package applog carries the per-application log stream: typed lifecycle
// events from the supervisor plus raw stdout/stderr lines from the app
// process. Each app gets one Logger, which fans events out to the structured
// daemon log, an in-memory ring buffer served by the control API, and the
// audit trail.
package applog

import (
	"fmt"
	"log/slog"
	"sync"
)

// Kind identifies a lifecycle event.
type Kind string

const (
	KindUnpackingBundle       Kind = "unpacking_bundle"
	KindInvalidBundle         Kind = "invalid_bundle"
	KindPortAcquireFailed     Kind = "port_acquisition_failed"
	KindProcessDidNotStart    Kind = "process_did_not_start"
	KindFinishedReloading     Kind = "finished_reloading"
	KindTerminatingApp        Kind = "terminating_app"
	KindTerminatingOldProcess Kind = "terminating_old_process"
	KindRemovingOldFolder     Kind = "removing_old_folder"
	KindProvisioningFailed    Kind = "provisioning_failed"
	KindFolderRemovalFailed   Kind = "folder_removal_failed"
	KindAppStarted            Kind = "app_started"
)

// Event is one lifecycle event for an app. Only the fields relevant to the
// Kind are set.
type Event struct {
	Kind Kind
	Err  error
	Path string
	Host string
	Port int
}

// Message renders the event as a single human-readable line.
func (e Event) Message() string {
	msg := string(e.Kind)
	if e.Host != "" {
		msg = fmt.Sprintf("%s host=%s", msg, e.Host)
	}
	if e.Port != 0 {
		msg = fmt.Sprintf("%s port=%d", msg, e.Port)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s path=%s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s error=%v", msg, e.Err)
	}
	return msg
}

// failure kinds are logged at warning level.
var failureKinds = map[Kind]bool{
	KindInvalidBundle:       true,
	KindPortAcquireFailed:   true,
	KindProcessDidNotStart:  true,
	KindProvisioningFailed:  true,
	KindFolderRemovalFailed: true,
}

// Recorder receives lifecycle events for durable storage. Implemented by the
// audit package.
type Recorder interface {
	Record(app string, kind string, detail string) error
}

// Logger is the per-app log sink handed to the lifecycle actor and the
// process supervisor. Detach marks the app as gone, silencing further child
// output; lifecycle events keep flowing so late retirement steps stay
// visible.
type Logger struct {
	app      string
	slog     *slog.Logger
	buffer   *Buffer
	recorder Recorder

	mu       sync.Mutex
	detached bool
}

// NewLogger creates a Logger for the named app. recorder may be nil.
func NewLogger(app string, logger *slog.Logger, recorder Recorder) *Logger {
	return &Logger{
		app:      app,
		slog:     logger.With("app", app),
		buffer:   NewBuffer(1000),
		recorder: recorder,
	}
}

// Log records a lifecycle event. Events are accepted even after Detach:
// retirement of a terminated app's last version still reports its progress.
func (l *Logger) Log(event Event) {
	attrs := []any{"event", string(event.Kind)}
	if event.Host != "" {
		attrs = append(attrs, "host", event.Host)
	}
	if event.Port != 0 {
		attrs = append(attrs, "port", event.Port)
	}
	if event.Path != "" {
		attrs = append(attrs, "path", event.Path)
	}
	if event.Err != nil {
		attrs = append(attrs, "error", event.Err)
	}
	if failureKinds[event.Kind] {
		l.slog.Warn("lifecycle event", attrs...)
	} else {
		l.slog.Info("lifecycle event", attrs...)
	}

	l.buffer.Add("lifecycle", event.Message())

	if l.recorder != nil {
		if err := l.recorder.Record(l.app, string(event.Kind), event.Message()); err != nil {
			l.slog.Warn("failed to record audit event", "error", err)
		}
	}
}

// Line records one line of child process output. source is "stdout" or
// "stderr".
func (l *Logger) Line(source, text string) {
	l.mu.Lock()
	if l.detached {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	l.slog.Debug("app output", "source", source, "output", text)
	l.buffer.Add(source, text)
}

// Buffer returns the ring buffer of recent entries for this app.
func (l *Logger) Buffer() *Buffer {
	return l.buffer
}

// Detach stops the app's output stream; the app no longer exists and late
// stdout/stderr lines from draining pipes are discarded.
func (l *Logger) Detach() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detached = true
}
