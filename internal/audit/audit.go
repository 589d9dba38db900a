package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Event is the kind of stream lifecycle step a record describes.
type Event string

const (
	EventStart   Event = "start"
	EventEnqueue Event = "enqueue"
	EventFinish  Event = "finish"
	EventError   Event = "error"
	EventCancel  Event = "cancel"
)

type Record struct {
	Timestamp time.Time
	StreamID  string
	Source    string
	Event     Event
	Seq       int

	// Chunk is a printable rendering of the enqueued chunk, if any.
	Chunk string
	Error string
}

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The journal is written from one stream loop at a time; a single
	// connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS stream_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts_unix_ms INTEGER NOT NULL,
  stream_id TEXT NOT NULL,
  source TEXT,
  event TEXT NOT NULL,
  seq INTEGER NOT NULL,
  chunk TEXT,
  error TEXT
);
CREATE INDEX IF NOT EXISTS idx_stream_events_stream ON stream_events(stream_id, seq);
CREATE INDEX IF NOT EXISTS idx_stream_events_event ON stream_events(event);
`)
	return err
}

func (s *Store) Write(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("journal store not initialized")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO stream_events(
  ts_unix_ms, stream_id, source, event, seq, chunk, error
) VALUES(?, ?, ?, ?, ?, ?, ?);
`, r.Timestamp.UnixMilli(), r.StreamID, nullIfEmpty(r.Source), string(r.Event), r.Seq, nullIfEmpty(r.Chunk), nullIfEmpty(r.Error))
	return err
}

// List returns the records of one stream in write order.
func (s *Store) List(ctx context.Context, streamID string) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("journal store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT ts_unix_ms, stream_id, source, event, seq, chunk, error
FROM stream_events
WHERE stream_id = ?
ORDER BY seq, id;
`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			ts                   int64
			r                    Record
			event                string
			source, chunk, errSt sql.NullString
		)
		if err := rows.Scan(&ts, &r.StreamID, &source, &event, &r.Seq, &chunk, &errSt); err != nil {
			return nil, err
		}
		r.Timestamp = time.UnixMilli(ts)
		r.Event = Event(event)
		r.Source, r.Chunk, r.Error = source.String, chunk.String, errSt.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Counts returns how many records of each event a stream has.
func (s *Store) Counts(ctx context.Context, streamID string) (map[Event]int, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("journal store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT event, COUNT(*) FROM stream_events WHERE stream_id = ? GROUP BY event;
`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Event]int)
	for rows.Next() {
		var (
			event string
			n     int
		)
		if err := rows.Scan(&event, &n); err != nil {
			return nil, err
		}
		out[Event(event)] = n
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
