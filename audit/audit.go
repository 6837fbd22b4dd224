// Package audit keeps a durable trail of per-app deployment events in a
// sqlite database. The trail is append-only history for operators; the
// supervisor never reads it back to make decisions.
package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Event is one audit row.
type Event struct {
	ID        string `db:"id" json:"id"`
	App       string `db:"app" json:"app"`
	EventType string `db:"event_type" json:"eventType"`
	Timestamp int64  `db:"timestamp" json:"timestamp"`
	Detail    string `db:"detail" json:"detail"`
}

// Trail records deployment lifecycle events. It implements applog.Recorder.
type Trail struct {
	db *sqlx.DB
}

// NewTrail initializes the audit schema and returns a Trail.
func NewTrail(db *sqlx.DB) (*Trail, error) {
	if err := DBInit(db); err != nil {
		return nil, err
	}
	return &Trail{db: db}, nil
}

// DBInit initializes the audit events table.
func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS deploy_events (
		id TEXT PRIMARY KEY,
		app TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		detail TEXT
	)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_deploy_events_app ON deploy_events(app)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_deploy_events_timestamp ON deploy_events(timestamp)`)
	return err
}

// Record inserts one event row.
func (t *Trail) Record(app string, eventType string, detail string) error {
	_, err := t.db.Exec(`
		INSERT INTO deploy_events (id, app, event_type, timestamp, detail)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(),
		app,
		eventType,
		time.Now().UnixMilli(),
		detail,
	)
	return err
}

// RecentForApp returns up to limit most recent events for one app, newest
// first.
func (t *Trail) RecentForApp(app string, limit int) ([]Event, error) {
	events := []Event{}
	err := t.db.Select(&events, `
		SELECT id, app, event_type, timestamp, detail
		FROM deploy_events
		WHERE app = $1
		ORDER BY timestamp DESC, id
		LIMIT $2`, app, limit)
	return events, err
}

// Recent returns up to limit most recent events across all apps, newest first.
func (t *Trail) Recent(limit int) ([]Event, error) {
	events := []Event{}
	err := t.db.Select(&events, `
		SELECT id, app, event_type, timestamp, detail
		FROM deploy_events
		ORDER BY timestamp DESC, id
		LIMIT $1`, limit)
	return events, err
}
