package collab_test

import (
	"errors"
	"testing"
	"time"

	"coscribe/internal/collab"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestCursorPositionValidation(t *testing.T) {
	if _, err := collab.NewCursorPosition("u1", -1, base); !errors.Is(err, collab.ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	cur, err := collab.NewCursorPosition("u1", 0, base)
	if err != nil {
		t.Fatalf("position 0 should be valid: %v", err)
	}
	if cur.Position != 0 || cur.UserID != "u1" {
		t.Fatalf("unexpected cursor %+v", cur)
	}
}

func TestCursorStalenessBoundary(t *testing.T) {
	maxAge := 10 * time.Second
	cur, _ := collab.NewCursorPosition("u1", 5, base)
	// exactly maxAge old is not stale
	if cur.IsStale(base.Add(maxAge), maxAge) {
		t.Fatalf("cursor exactly maxAge old must not be stale")
	}
	if !cur.IsStale(base.Add(maxAge+time.Millisecond), maxAge) {
		t.Fatalf("cursor older than maxAge must be stale")
	}
}

func TestAwarenessActivityBoundary(t *testing.T) {
	maxInactive := 30 * time.Second
	a := collab.NewUserAwareness("u1", "Ada", "#ff0000", base)
	if !a.IsActive(base.Add(maxInactive), maxInactive) {
		t.Fatalf("activity exactly maxInactive old must count as active")
	}
	if a.IsActive(base.Add(maxInactive+time.Millisecond), maxInactive) {
		t.Fatalf("activity older than maxInactive must be inactive")
	}
	// future timestamps tolerate clock skew
	skewed := collab.NewUserAwareness("u2", "Bob", "#00ff00", base.Add(time.Hour))
	if !skewed.IsActive(base, maxInactive) {
		t.Fatalf("future activity must count as active")
	}
}

func TestAwarenessCopyOnWrite(t *testing.T) {
	a := collab.NewUserAwareness("u1", "Ada", "#ff0000", base)
	later := base.Add(time.Second)
	b := a.UpdateSelection(collab.Selection{Anchor: 1, Head: 4}, later)
	if a.Selection != nil {
		t.Fatalf("original awareness mutated")
	}
	if b.Selection == nil || b.Selection.Head != 4 {
		t.Fatalf("selection not applied: %+v", b.Selection)
	}
	if !b.LastActivity.Equal(later) {
		t.Fatalf("LastActivity not bumped")
	}
	cur, _ := collab.NewCursorPosition("u1", 2, later)
	c := b.UpdateCursor(cur, later.Add(time.Second))
	if c.Cursor == nil || c.Cursor.Position != 2 {
		t.Fatalf("cursor not applied")
	}
	d := c.ClearSelection(later.Add(2 * time.Second))
	if d.Selection != nil {
		t.Fatalf("selection not cleared")
	}
	if c.Selection == nil {
		t.Fatalf("clear must not mutate the source value")
	}
}

func TestParticipantLifecycle(t *testing.T) {
	p := collab.Join("u1", "Ada", "#ff0000", base)
	if !p.Active {
		t.Fatalf("participant must be active at creation")
	}
	q := p.Deactivate()
	if q.Active {
		t.Fatalf("deactivate must return inactive participant")
	}
	if !p.Active {
		t.Fatalf("deactivate must not mutate the source value")
	}
}

func TestDocumentChangeIdentity(t *testing.T) {
	a := collab.NewDocumentChange("u1", collab.ChangeUpdate, base)
	b := collab.NewDocumentChange("u1", collab.ChangeUpdate, base)
	if a.ChangeID == "" || a.ChangeID == b.ChangeID {
		t.Fatalf("change ids must be unique, got %q and %q", a.ChangeID, b.ChangeID)
	}
	if a.Type != collab.ChangeUpdate || !a.Timestamp.Equal(base) {
		t.Fatalf("unexpected change %+v", a)
	}
}

func TestAgentQueryTransitions(t *testing.T) {
	if _, err := collab.NewAgentQuery("n1", "   ", base); !errors.Is(err, collab.ErrEmptyQuestion) {
		t.Fatalf("blank question must be rejected, got %v", err)
	}
	q, err := collab.NewAgentQuery("n1", "Summarize this", base)
	if err != nil {
		t.Fatal(err)
	}
	if q.Status != collab.QueryPending || !q.IsActive() {
		t.Fatalf("unexpected initial state %+v", q)
	}
	if _, ok := q.Duration(); ok {
		t.Fatalf("pending query must have no duration")
	}
	if _, err := q.MarkCompleted("Done.", base); !errors.Is(err, collab.ErrInvalidTransition) {
		t.Fatalf("complete from pending must fail, got %v", err)
	}

	s, err := q.MarkStreaming()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkStreaming(); !errors.Is(err, collab.ErrInvalidTransition) {
		t.Fatalf("double streaming must fail, got %v", err)
	}
	if _, err := s.MarkCompleted("", base); !errors.Is(err, collab.ErrEmptyResponse) {
		t.Fatalf("empty response must fail, got %v", err)
	}

	done, err := s.MarkCompleted("Done.", base.Add(250*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != collab.QueryCompleted || done.Response != "Done." {
		t.Fatalf("unexpected completed query %+v", done)
	}
	d, ok := done.Duration()
	if !ok || d < 0 {
		t.Fatalf("terminal query must have non-negative duration, got %v %v", d, ok)
	}
	if done.IsActive() {
		t.Fatalf("completed query must not be active")
	}
	if _, err := done.MarkFailed("boom", base); !errors.Is(err, collab.ErrInvalidTransition) {
		t.Fatalf("terminal query must be immutable, got %v", err)
	}
}

func TestAgentQueryFailure(t *testing.T) {
	q, _ := collab.NewAgentQuery("n1", "Expand", base)
	if _, err := q.MarkFailed("", base); !errors.Is(err, collab.ErrEmptyError) {
		t.Fatalf("empty error must fail, got %v", err)
	}
	failed, err := q.MarkFailed("model unavailable", base.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != collab.QueryFailed || failed.Err != "model unavailable" {
		t.Fatalf("unexpected failed query %+v", failed)
	}
	if _, ok := failed.Duration(); !ok {
		t.Fatalf("failed query must have a duration")
	}
	// failure from streaming is also allowed
	s, _ := q.MarkStreaming()
	if _, err := s.MarkFailed("timeout", base.Add(time.Second)); err != nil {
		t.Fatalf("fail from streaming: %v", err)
	}
}
