package applog

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	records []string
	err     error
}

func (r *fakeRecorder) Record(app, kind, detail string) error {
	r.records = append(r.records, app+"/"+kind)
	return r.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventMessage(t *testing.T) {
	e := Event{Kind: KindInvalidBundle, Err: errors.New("boom"), Path: "/tmp/a.tar.gz"}
	msg := e.Message()
	assert.Contains(t, msg, "invalid_bundle")
	assert.Contains(t, msg, "path=/tmp/a.tar.gz")
	assert.Contains(t, msg, "error=boom")

	assert.Equal(t, "finished_reloading host=a.example port=8080",
		Event{Kind: KindFinishedReloading, Host: "a.example", Port: 8080}.Message())
}

func TestLoggerRecordsEvents(t *testing.T) {
	rec := &fakeRecorder{}
	l := NewLogger("myapp", discardLogger(), rec)

	l.Log(Event{Kind: KindUnpackingBundle, Path: "/bundles/myapp.tar.gz"})
	l.Log(Event{Kind: KindAppStarted, Host: "a.example", Port: 9000})

	assert.Equal(t, []string{"myapp/unpacking_bundle", "myapp/app_started"}, rec.records)

	entries := l.Buffer().Latest(10)
	require.Len(t, entries, 2)
	assert.Equal(t, "lifecycle", entries[0].Source)
	assert.Contains(t, entries[0].Message, "unpacking_bundle")
}

func TestLoggerNilRecorder(t *testing.T) {
	l := NewLogger("myapp", discardLogger(), nil)
	l.Log(Event{Kind: KindTerminatingApp}) // must not panic
	assert.Len(t, l.Buffer().Latest(10), 1)
}

func TestLoggerLine(t *testing.T) {
	l := NewLogger("myapp", discardLogger(), nil)
	l.Line("stdout", "listening on :9000")
	l.Line("stderr", "warning: deprecated flag")

	entries := l.Buffer().Latest(10)
	require.Len(t, entries, 2)
	assert.Equal(t, "stdout", entries[0].Source)
	assert.Equal(t, "stderr", entries[1].Source)
}

func TestLoggerDetach(t *testing.T) {
	rec := &fakeRecorder{}
	l := NewLogger("myapp", discardLogger(), rec)

	l.Log(Event{Kind: KindTerminatingApp})
	l.Detach()
	l.Line("stdout", "late output")
	l.Log(Event{Kind: KindRemovingOldFolder, Path: "/tmp/x"})

	// Output lines stop at Detach; lifecycle events from the retirement of
	// the final version are still recorded.
	assert.Len(t, rec.records, 2)
	entries := l.Buffer().Latest(10)
	require.Len(t, entries, 2)
	assert.Equal(t, "lifecycle", entries[1].Source)
}

func TestBufferEviction(t *testing.T) {
	b := NewBuffer(3)
	b.Add("stdout", "one")
	b.Add("stdout", "two")
	b.Add("stdout", "three")
	b.Add("stdout", "four")

	entries := b.Latest(10)
	require.Len(t, entries, 3)
	assert.Equal(t, "two", entries[0].Message)
	assert.Equal(t, "four", entries[2].Message)

	since := b.Since(entries[1].ID)
	require.Len(t, since, 1)
	assert.Equal(t, "four", since[0].Message)
}
