package coordinator_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"coscribe/internal/channel"
	"coscribe/internal/coordinator"
	"coscribe/internal/replica"
	"coscribe/internal/surface"
)

type emitted struct {
	event   string
	payload any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{event: event, payload: payload})
	return nil
}

func (f *fakeEmitter) ofKind(event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type syncEnv struct {
	clock   *coordinator.VirtualClock
	emitter *fakeEmitter
	surf    *surface.MemorySurface
	doc     *replica.Doc
	coord   *coordinator.SyncCoordinator
}

func newSyncEnv(t *testing.T, user string) *syncEnv {
	t.Helper()
	env := &syncEnv{
		clock:   coordinator.NewVirtualClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)),
		emitter: &fakeEmitter{},
		surf:    surface.NewMemorySurface(),
		doc:     replica.NewDoc(user),
	}
	coord, err := coordinator.NewSyncCoordinator(env.doc, env.surf, env.emitter, env.clock, coordinator.SyncOptions{UserID: user})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	env.coord = coord
	return env
}

func (e *syncEnv) edit(t *testing.T, edit surface.Edit) {
	t.Helper()
	if err := e.coord.LocalEdit(edit); err != nil {
		t.Fatalf("local edit: %v", err)
	}
}

func TestLocalEditEmitsDocumentUpdate(t *testing.T) {
	env := newSyncEnv(t, "alice")
	env.edit(t, surface.InsertNode{Node: surface.Node{ID: "n1", Text: "hello"}})

	updates := env.emitter.ofKind(channel.EventDocumentUpdate)
	if len(updates) != 1 {
		t.Fatalf("document-update count = %d, want 1", len(updates))
	}
	upd := updates[0].payload.(channel.DocumentUpdate)
	if upd.UserID != "alice" || upd.RenderedText != "hello" {
		t.Fatalf("unexpected payload: %+v", upd)
	}
	if len(upd.Update) == 0 || len(upd.CompleteState) == 0 {
		t.Fatal("payload missing delta or state")
	}
	if !env.coord.HasPendingChanges() {
		t.Fatal("local edit did not set pending")
	}
	if len(env.coord.Changes()) != 1 {
		t.Fatalf("changes = %d, want 1", len(env.coord.Changes()))
	}
}

func TestForceSaveClearsPendingAndIsIdempotent(t *testing.T) {
	env := newSyncEnv(t, "alice")
	env.edit(t, surface.InsertNode{Node: surface.Node{ID: "n1", Text: "x"}})

	if err := env.coord.ForceSave(); err != nil {
		t.Fatalf("force save: %v", err)
	}
	if env.coord.HasPendingChanges() {
		t.Fatal("pending not cleared by force save")
	}
	if got := len(env.emitter.ofKind(channel.EventForceSave)); got != 1 {
		t.Fatalf("force-save count = %d, want 1", got)
	}
	// no pending changes left, so this must not emit
	if err := env.coord.ForceSave(); err != nil {
		t.Fatalf("repeat force save: %v", err)
	}
	if got := len(env.emitter.ofKind(channel.EventForceSave)); got != 1 {
		t.Fatalf("force-save count after no-op = %d, want 1", got)
	}
}

func TestDocumentUpdateDoesNotClearPending(t *testing.T) {
	env := newSyncEnv(t, "alice")
	env.edit(t, surface.InsertNode{Node: surface.Node{ID: "n1", Text: "a"}})
	env.edit(t, surface.InsertText{NodeID: "n1", Offset: 1, Text: "b"})
	if !env.coord.HasPendingChanges() {
		t.Fatal("pending cleared by document-update emission")
	}
}

func TestBackupTimerFlushesPending(t *testing.T) {
	env := newSyncEnv(t, "alice")
	env.coord.Start()
	defer env.coord.Stop()

	env.clock.Advance(31 * time.Second)
	if got := len(env.emitter.ofKind(channel.EventForceSave)); got != 0 {
		t.Fatalf("flush without pending changes, count = %d", got)
	}

	env.edit(t, surface.InsertNode{Node: surface.Node{ID: "n1", Text: "dirty"}})
	env.clock.Advance(30 * time.Second)
	if got := len(env.emitter.ofKind(channel.EventForceSave)); got != 1 {
		t.Fatalf("force-save count = %d, want 1", got)
	}
	if env.coord.HasPendingChanges() {
		t.Fatal("pending survived backup flush")
	}
}

func TestApplyRemoteRendersWithoutReEmit(t *testing.T) {
	a := newSyncEnv(t, "alice")
	b := newSyncEnv(t, "bob")

	a.edit(t, surface.InsertNode{Node: surface.Node{ID: "n1", Text: "shared"}})
	upd := a.emitter.ofKind(channel.EventDocumentUpdate)[0].payload.(channel.DocumentUpdate)

	if err := b.coord.ApplyRemote(channel.DocumentUpdate{Update: upd.Update}); err != nil {
		t.Fatalf("apply remote: %v", err)
	}
	if got := b.surf.Text(); got != "shared" {
		t.Fatalf("surface = %q, want %q", got, "shared")
	}
	if len(b.emitter.events) != 0 {
		t.Fatalf("inbound delta was re-emitted: %+v", b.emitter.events)
	}
	if b.coord.HasPendingChanges() {
		t.Fatal("remote apply set pending")
	}
}

func TestConcurrentEditsConvergeAcrossCoordinators(t *testing.T) {
	a := newSyncEnv(t, "alice")
	b := newSyncEnv(t, "bob")

	a.edit(t, surface.InsertNode{Node: surface.Node{ID: "na", Text: "foo"}})
	b.edit(t, surface.InsertNode{Node: surface.Node{ID: "nb", Text: "bar"}})

	fromA := a.emitter.ofKind(channel.EventDocumentUpdate)[0].payload.(channel.DocumentUpdate)
	fromB := b.emitter.ofKind(channel.EventDocumentUpdate)[0].payload.(channel.DocumentUpdate)

	if err := a.coord.ApplyRemote(channel.DocumentUpdate{Update: fromB.Update}); err != nil {
		t.Fatalf("a apply: %v", err)
	}
	if err := b.coord.ApplyRemote(channel.DocumentUpdate{Update: fromA.Update}); err != nil {
		t.Fatalf("b apply: %v", err)
	}
	if a.coord.Text() != b.coord.Text() {
		t.Fatalf("diverged: %q vs %q", a.coord.Text(), b.coord.Text())
	}
	if a.surf.Text() != b.surf.Text() {
		t.Fatalf("surfaces diverged: %q vs %q", a.surf.Text(), b.surf.Text())
	}
}

func TestOnHiddenFlushes(t *testing.T) {
	env := newSyncEnv(t, "alice")
	env.edit(t, surface.InsertNode{Node: surface.Node{ID: "n1", Text: "x"}})
	if err := env.coord.OnHidden(); err != nil {
		t.Fatalf("on hidden: %v", err)
	}
	if got := len(env.emitter.ofKind(channel.EventForceSave)); got != 1 {
		t.Fatalf("force-save count = %d, want 1", got)
	}
}

func TestInvalidEditRejected(t *testing.T) {
	env := newSyncEnv(t, "alice")
	err := env.coord.LocalEdit(surface.InsertText{NodeID: "missing", Offset: 0, Text: "x"})
	if err == nil {
		t.Fatal("edit against unknown node accepted")
	}
	if env.coord.HasPendingChanges() {
		t.Fatal("rejected edit set pending")
	}
}

func TestBackupTimerSafeAgainstConcurrentEdits(t *testing.T) {
	emitter := &fakeEmitter{}
	surf := surface.NewMemorySurface()
	doc := replica.NewDoc("alice")
	coord, err := coordinator.NewSyncCoordinator(doc, surf, emitter, coordinator.WallClock{}, coordinator.SyncOptions{
		UserID:         "alice",
		BackupInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	coord.Start()
	defer coord.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if err := coord.ForceSave(); err != nil {
				t.Errorf("force save: %v", err)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	for i := 0; i < 50; i++ {
		edit := surface.InsertNode{Node: surface.Node{Text: fmt.Sprintf("line %d", i)}}
		if err := coord.LocalEdit(edit); err != nil {
			t.Fatalf("local edit %d: %v", i, err)
		}
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	if err := coord.OnUnload(); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if coord.HasPendingChanges() {
		t.Fatal("pending after final flush")
	}
	if got := len([]rune(coord.Text())); got == 0 {
		t.Fatal("document text lost")
	}
}
