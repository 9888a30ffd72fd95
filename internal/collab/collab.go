package collab

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidPosition = errors.New("invalid position")
	ErrEmptyQuestion   = errors.New("empty question")
)

// ChangeType classifies a document mutation for the audit journal.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// DocumentChange records a single structural edit for audit and debugging.
// It carries no merge semantics; convergence is the replica's job.
// Instances are never mutated after creation.
type DocumentChange struct {
	ChangeID  string     `json:"change_id"`
	Timestamp time.Time  `json:"timestamp"`
	UserID    string     `json:"user_id"`
	Type      ChangeType `json:"change_type"`
}

func NewDocumentChange(userID string, changeType ChangeType, now time.Time) DocumentChange {
	return DocumentChange{
		ChangeID:  uuid.New().String(),
		Timestamp: now,
		UserID:    userID,
		Type:      changeType,
	}
}

// Selection is a range in the document's linear text projection.
type Selection struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// CursorPosition is one user's caret in the linear projection.
type CursorPosition struct {
	UserID    string    `json:"user_id"`
	Position  int       `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

func NewCursorPosition(userID string, position int, now time.Time) (CursorPosition, error) {
	if position < 0 {
		return CursorPosition{}, ErrInvalidPosition
	}
	return CursorPosition{UserID: userID, Position: position, Timestamp: now}, nil
}

// IsStale reports whether the cursor is older than maxAge. A cursor exactly
// maxAge old is not stale.
func (c CursorPosition) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(c.Timestamp) > maxAge
}

// UserAwareness aggregates one user's ephemeral presence. All mutating
// operations return a new value and bump LastActivity.
type UserAwareness struct {
	UserID       string          `json:"user_id"`
	UserName     string          `json:"user_name"`
	UserColor    string          `json:"user_color"`
	Selection    *Selection      `json:"selection,omitempty"`
	Cursor       *CursorPosition `json:"cursor,omitempty"`
	LastActivity time.Time       `json:"last_activity"`
}

func NewUserAwareness(userID, userName, userColor string, now time.Time) UserAwareness {
	return UserAwareness{
		UserID:       userID,
		UserName:     userName,
		UserColor:    userColor,
		LastActivity: now,
	}
}

func (a UserAwareness) UpdateSelection(sel Selection, now time.Time) UserAwareness {
	a.Selection = &sel
	a.LastActivity = now
	return a
}

func (a UserAwareness) UpdateCursor(cur CursorPosition, now time.Time) UserAwareness {
	a.Cursor = &cur
	a.LastActivity = now
	return a
}

func (a UserAwareness) ClearSelection(now time.Time) UserAwareness {
	a.Selection = nil
	a.LastActivity = now
	return a
}

// IsActive reports whether the user acted within maxInactive. Activity
// exactly maxInactive old still counts; timestamps in the future count as
// active to tolerate clock skew between participants.
func (a UserAwareness) IsActive(now time.Time, maxInactive time.Duration) bool {
	if a.LastActivity.After(now) {
		return true
	}
	return now.Sub(a.LastActivity) <= maxInactive
}

// Participant is a user known to the session. Deactivated participants are
// never reactivated automatically; rejoining creates a fresh Participant.
type Participant struct {
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	UserColor string    `json:"user_color"`
	JoinedAt  time.Time `json:"joined_at"`
	Active    bool      `json:"is_active"`
}

func Join(userID, userName, userColor string, now time.Time) Participant {
	return Participant{
		UserID:    userID,
		UserName:  userName,
		UserColor: userColor,
		JoinedAt:  now,
		Active:    true,
	}
}

func (p Participant) Deactivate() Participant {
	p.Active = false
	return p
}

func trimmedQuestion(q string) string {
	return strings.TrimSpace(q)
}

func newQueryID() string {
	return uuid.New().String()
}
