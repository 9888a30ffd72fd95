package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends raw wire events to the relay's audit table. Unlike the
// change journal, which records semantic edits, this keeps the envelopes
// as they arrived so a session can be replayed or debugged.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Record is one audited wire event.
type Record struct {
	ID         int64           `json:"id"`
	Timestamp  string          `json:"timestamp"`
	DocumentID string          `json:"document_id"`
	Event      string          `json:"event"`
	UserID     string          `json:"user_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

func (w Writer) Append(ctx context.Context, documentID, event, userID string, payload json.RawMessage) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	_, err := w.DB.ExecContext(ctx, `INSERT INTO sync_events(ts,document_id,event,user_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, documentID, event, nullable(userID), string(payload))
	if err != nil {
		return fmt.Errorf("append sync event: %w", err)
	}
	return nil
}

// Recent returns up to limit events for a document, newest first.
func (w Writer) Recent(ctx context.Context, documentID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := w.DB.QueryContext(ctx,
		`SELECT id, ts, document_id, event, COALESCE(user_id,''), payload_json FROM sync_events WHERE document_id = ? ORDER BY id DESC LIMIT ?`,
		documentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		var payload string
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.DocumentID, &r.Event, &r.UserID, &payload); err != nil {
			return nil, err
		}
		r.Payload = json.RawMessage(payload)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
