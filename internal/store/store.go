// Package store persists authoritative document state in SQLite. The relay
// writes here on every document-update and force-save; clients read it back
// for staleness checks and cold starts. Presence is deliberately absent:
// ephemeral state is never persisted.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"coscribe/internal/collab"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	DB *sql.DB
}

// DocumentState is the persisted authoritative state of one document.
type DocumentState struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	CompleteState []byte    `json:"complete_state"`
	RenderedText  string    `json:"rendered_text"`
	UpdatedBy     string    `json:"updated_by"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// UpsertState replaces the stored snapshot for a document.
func (s Store) UpsertState(ctx context.Context, doc DocumentState) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO documents(id,title,complete_state,rendered_text,updated_by,updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title,
			complete_state=excluded.complete_state,
			rendered_text=excluded.rendered_text,
			updated_by=excluded.updated_by,
			updated_at=excluded.updated_at`,
		doc.ID, doc.Title, doc.CompleteState, doc.RenderedText, doc.UpdatedBy, doc.UpdatedAt)
	return err
}

func (s Store) GetDocument(ctx context.Context, id string) (DocumentState, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id,title,complete_state,rendered_text,updated_by,updated_at FROM documents WHERE id=?`, id)
	var d DocumentState
	err := row.Scan(&d.ID, &d.Title, &d.CompleteState, &d.RenderedText, &d.UpdatedBy, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (s Store) ListDocuments(ctx context.Context) ([]DocumentState, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,title,complete_state,rendered_text,updated_by,updated_at FROM documents ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DocumentState
	for rows.Next() {
		var d DocumentState
		if err := rows.Scan(&d.ID, &d.Title, &d.CompleteState, &d.RenderedText, &d.UpdatedBy, &d.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// AppendChange records one audit entry for a document.
func (s Store) AppendChange(ctx context.Context, documentID string, change collab.DocumentChange) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO document_changes(change_id,document_id,user_id,change_type,created_at) VALUES (?,?,?,?,?)`,
		change.ChangeID, documentID, change.UserID, string(change.Type), change.Timestamp)
	return err
}

func (s Store) ListChanges(ctx context.Context, documentID string) ([]collab.DocumentChange, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT change_id,user_id,change_type,created_at FROM document_changes WHERE document_id=? ORDER BY created_at ASC, change_id ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []collab.DocumentChange
	for rows.Next() {
		var c collab.DocumentChange
		var kind string
		if err := rows.Scan(&c.ChangeID, &c.UserID, &kind, &c.Timestamp); err != nil {
			return nil, err
		}
		c.Type = collab.ChangeType(kind)
		res = append(res, c)
	}
	return res, rows.Err()
}

// DeleteDocument removes a document, its change history and its audited
// wire events. sync_events carries no foreign key because envelopes are
// audited before the first save creates the document row, so the audit
// rows are purged here instead of by cascade.
func (s Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM sync_events WHERE document_id=?`, id); err != nil {
		return err
	}
	return nil
}
