package coordinator_test

import (
	"testing"
	"time"

	"coscribe/internal/channel"
	"coscribe/internal/coordinator"
	"coscribe/internal/replica"
)

func newPresenceEnv(t *testing.T, user string) (*coordinator.PresenceCoordinator, *fakeEmitter, *coordinator.VirtualClock) {
	t.Helper()
	clock := coordinator.NewVirtualClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	emitter := &fakeEmitter{}
	coord, err := coordinator.NewPresenceCoordinator(replica.NewPresence(), emitter, clock, coordinator.PresenceOptions{
		UserID:    user,
		UserName:  user,
		UserColor: "#336699",
	})
	if err != nil {
		t.Fatalf("new presence coordinator: %v", err)
	}
	return coord, emitter, clock
}

func TestPresenceEmitsImmediately(t *testing.T) {
	coord, emitter, _ := newPresenceEnv(t, "alice")
	if err := coord.SetCursor(4); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if err := coord.SetSelection(1, 4); err != nil {
		t.Fatalf("set selection: %v", err)
	}
	updates := emitter.ofKind(channel.EventPresenceUpdate)
	if len(updates) != 2 {
		t.Fatalf("presence-update count = %d, want 2", len(updates))
	}
	upd := updates[0].payload.(channel.PresenceUpdate)
	if upd.UserID != "alice" || len(upd.Update) == 0 {
		t.Fatalf("unexpected payload: %+v", upd)
	}
	if pos, ok := coord.Cursor(); !ok || pos != 4 {
		t.Fatalf("cursor = %d,%v, want 4,true", pos, ok)
	}
}

func TestPresenceNegativeCursorRejected(t *testing.T) {
	coord, emitter, _ := newPresenceEnv(t, "alice")
	if err := coord.SetCursor(-1); err == nil {
		t.Fatal("negative cursor accepted")
	}
	if len(emitter.events) != 0 {
		t.Fatalf("rejected cursor was emitted: %+v", emitter.events)
	}
}

func TestPresenceRemoteApplyWithoutRebroadcast(t *testing.T) {
	alice, aliceEmitter, _ := newPresenceEnv(t, "alice")
	bob, bobEmitter, _ := newPresenceEnv(t, "bob")

	if err := bob.SetCursor(2); err != nil {
		t.Fatalf("bob cursor: %v", err)
	}
	upd := bobEmitter.ofKind(channel.EventPresenceUpdate)[0].payload.(channel.PresenceUpdate)

	if err := alice.ApplyRemote(upd); err != nil {
		t.Fatalf("apply remote: %v", err)
	}
	if len(aliceEmitter.events) != 0 {
		t.Fatalf("inbound presence was rebroadcast: %+v", aliceEmitter.events)
	}
	states := alice.States()
	if len(states) != 1 || states[0].UserID != "bob" {
		t.Fatalf("states = %+v", states)
	}
	parts := alice.Participants()
	if len(parts) != 2 {
		t.Fatalf("participants = %d, want 2", len(parts))
	}
}

func TestPresenceActivityWindow(t *testing.T) {
	alice, _, clock := newPresenceEnv(t, "alice")
	bob, bobEmitter, _ := newPresenceEnv(t, "bob")
	if err := bob.SetCursor(0); err != nil {
		t.Fatalf("bob cursor: %v", err)
	}
	upd := bobEmitter.ofKind(channel.EventPresenceUpdate)[0].payload.(channel.PresenceUpdate)
	if err := alice.ApplyRemote(upd); err != nil {
		t.Fatalf("apply remote: %v", err)
	}
	if got := len(alice.ActiveUsers()); got != 1 {
		t.Fatalf("active = %d, want 1", got)
	}
	clock.Advance(31 * time.Second)
	if got := len(alice.ActiveUsers()); got != 0 {
		t.Fatalf("active after window = %d, want 0", got)
	}
}

func TestPresenceLeaveDeactivates(t *testing.T) {
	alice, _, _ := newPresenceEnv(t, "alice")
	bob, bobEmitter, _ := newPresenceEnv(t, "bob")
	_ = bob.Announce()
	upd := bobEmitter.ofKind(channel.EventPresenceUpdate)[0].payload.(channel.PresenceUpdate)
	if err := alice.ApplyRemote(upd); err != nil {
		t.Fatalf("apply remote: %v", err)
	}
	alice.Leave("bob")
	if len(alice.States()) != 0 {
		t.Fatalf("states after leave = %+v", alice.States())
	}
	for _, p := range alice.Participants() {
		if p.UserID == "bob" && p.Active {
			t.Fatal("bob still active after leave")
		}
	}
}

func TestStaleCursorsNotRendered(t *testing.T) {
	alice, aliceEmitter, clock := newPresenceEnv(t, "alice")
	bob, _, _ := newPresenceEnv(t, "bob")
	if err := alice.SetCursor(3); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	upd := aliceEmitter.ofKind(channel.EventPresenceUpdate)[0].payload.(channel.PresenceUpdate)
	if err := bob.ApplyRemote(upd); err != nil {
		t.Fatalf("apply remote: %v", err)
	}

	if got := len(alice.Cursors()); got != 1 {
		t.Fatalf("fresh cursor count = %d, want 1", got)
	}

	// a cursor exactly max-age old still renders
	clock.Advance(10 * time.Second)
	if got := len(alice.Cursors()); got != 1 {
		t.Fatalf("boundary cursor count = %d, want 1", got)
	}

	clock.Advance(time.Millisecond)
	if got := len(alice.Cursors()); got != 0 {
		t.Fatalf("stale cursor count = %d, want 0", got)
	}
	// the awareness state itself is untouched
	if got := len(alice.States()); got != 1 {
		t.Fatalf("states = %d, want 1", got)
	}
}
