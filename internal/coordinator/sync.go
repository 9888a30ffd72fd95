// Package coordinator bridges the replicas to the sync channel and the
// editable surface for one open document session. Each session owns exactly
// one SyncCoordinator and one PresenceCoordinator. The SyncCoordinator
// serializes all access internally: the backup flush fires on the scheduler
// goroutine while edits and remote deltas arrive from the session loop. The
// PresenceCoordinator is driven from a single goroutine and is not locked.
package coordinator

import (
	"fmt"
	"sync"
	"time"

	"coscribe/internal/channel"
	"coscribe/internal/collab"
	"coscribe/internal/replica"
	"coscribe/internal/surface"
)

type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

const DefaultBackupInterval = 30 * time.Second

type SyncOptions struct {
	UserID         string
	BackupInterval time.Duration
	Logger         Logger
}

// SyncCoordinator keeps the document replica, the editable surface and the
// sync channel consistent. Local edits flow surface -> replica -> channel;
// remote deltas flow channel -> replica -> surface and are never re-emitted.
type SyncCoordinator struct {
	doc     *replica.Doc
	surface surface.Surface
	emitter channel.Emitter
	sched   Scheduler
	logger  Logger

	userID         string
	backupInterval time.Duration

	mu         sync.Mutex
	hasPending bool
	stopBackup func()
	changes    []collab.DocumentChange
}

func NewSyncCoordinator(doc *replica.Doc, surf surface.Surface, emitter channel.Emitter, sched Scheduler, opts SyncOptions) (*SyncCoordinator, error) {
	if doc == nil || surf == nil || emitter == nil || sched == nil {
		return nil, fmt.Errorf("doc, surface, emitter and scheduler are required")
	}
	if opts.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if opts.BackupInterval <= 0 {
		opts.BackupInterval = DefaultBackupInterval
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &SyncCoordinator{
		doc:            doc,
		surface:        surf,
		emitter:        emitter,
		sched:          sched,
		logger:         opts.Logger,
		userID:         opts.UserID,
		backupInterval: opts.BackupInterval,
	}, nil
}

// Start arms the periodic backup flush. Stop disarms it.
func (c *SyncCoordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopBackup != nil {
		return
	}
	c.stopBackup = c.sched.Every(c.backupInterval, func() {
		if err := c.ForceSave(); err != nil {
			c.logger.Printf("backup flush: %v", err)
		}
	})
}

func (c *SyncCoordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopBackup != nil {
		c.stopBackup()
		c.stopBackup = nil
	}
}

func (c *SyncCoordinator) HasPendingChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasPending
}

// Changes returns the audit trail of local structural edits.
func (c *SyncCoordinator) Changes() []collab.DocumentChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]collab.DocumentChange, len(c.changes))
	copy(out, c.changes)
	return out
}

// LocalEdit applies a structural edit to the surface, folds the resulting
// text change into the replica, and emits the delta immediately. Pending
// state stays set until a flush succeeds, so edits made while the channel
// is down are never lost.
func (c *SyncCoordinator) LocalEdit(edit surface.Edit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := linearText(c.surface)
	if err := c.surface.ApplyStructuralEdit(edit); err != nil {
		return fmt.Errorf("%w: %v", replica.ErrInvalidEdit, err)
	}
	after := linearText(c.surface)
	pos, del, ins := diffSplice([]rune(before), []rune(after))
	delta, err := c.doc.Splice(pos, del, ins)
	if err != nil {
		return err
	}
	if delta == nil {
		return nil
	}
	c.hasPending = true
	c.changes = append(c.changes, collab.NewDocumentChange(c.userID, changeKind(edit), c.sched.Now()))

	state, err := c.doc.ExportSnapshot()
	if err != nil {
		return err
	}
	if err := c.emitter.Emit(channel.EventDocumentUpdate, channel.DocumentUpdate{
		Update:        delta,
		CompleteState: state,
		UserID:        c.userID,
		RenderedText:  c.doc.Text(),
	}); err != nil {
		// keep the edit; it flushes on the next save
		c.logger.Printf("emit document-update: %v", err)
	}
	return nil
}

// ApplyRemote merges an inbound delta and re-renders the surface. The
// update is never re-emitted. A CorruptDelta error means the caller should
// run a staleness check against the authoritative snapshot.
func (c *SyncCoordinator) ApplyRemote(upd channel.DocumentUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.doc.ApplyRemoteDelta(upd.Update); err != nil {
		return err
	}
	return c.render()
}

// ForceSave flushes the full state. It is a no-op without pending changes
// and is the only path that clears the pending flag.
func (c *SyncCoordinator) ForceSave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasPending {
		return nil
	}
	state, err := c.doc.ExportSnapshot()
	if err != nil {
		return err
	}
	if err := c.emitter.Emit(channel.EventForceSave, channel.ForceSave{
		CompleteState: state,
		RenderedText:  c.doc.Text(),
	}); err != nil {
		return fmt.Errorf("emit force-save: %w", err)
	}
	c.hasPending = false
	return nil
}

// OnHidden flushes when the page or tab stops being visible.
func (c *SyncCoordinator) OnHidden() error { return c.ForceSave() }

// OnUnload flushes on teardown.
func (c *SyncCoordinator) OnUnload() error {
	c.Stop()
	return c.ForceSave()
}

// ReplaceFromSnapshot swaps local state for the authoritative snapshot.
// Only called by the merge protocol when nothing local is pending.
func (c *SyncCoordinator) ReplaceFromSnapshot(snapshot []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.doc.ReplaceWith(snapshot); err != nil {
		return err
	}
	return c.render()
}

// MergeFromSnapshot folds the authoritative snapshot into local state,
// keeping both edit sets.
func (c *SyncCoordinator) MergeFromSnapshot(snapshot []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.doc.MergeSnapshot(snapshot); err != nil {
		return err
	}
	return c.render()
}

// Rebroadcast emits the full current state so peers converge after a merge.
func (c *SyncCoordinator) Rebroadcast() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, err := c.doc.ExportSnapshot()
	if err != nil {
		return err
	}
	return c.emitter.Emit(channel.EventDocumentUpdate, channel.DocumentUpdate{
		Update:        state,
		CompleteState: state,
		UserID:        c.userID,
		RenderedText:  c.doc.Text(),
	})
}

func (c *SyncCoordinator) Snapshot() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.ExportSnapshot()
}

func (c *SyncCoordinator) DiffAgainst(snapshot []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.DiffAgainst(snapshot)
}

func (c *SyncCoordinator) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Text()
}

func (c *SyncCoordinator) render() error {
	return c.surface.ApplyStructuralEdit(surface.SetDocument{Text: c.doc.Text()})
}

func linearText(s surface.Surface) string {
	type texter interface{ Text() string }
	if t, ok := s.(texter); ok {
		return t.Text()
	}
	nodes := s.ReadTree()
	out := ""
	for i, n := range nodes {
		if i > 0 {
			out += "\n"
		}
		out += n.Text
	}
	return out
}

func changeKind(edit surface.Edit) collab.ChangeType {
	switch edit.(type) {
	case surface.InsertNode:
		return collab.ChangeCreate
	case surface.RemoveNode:
		return collab.ChangeDelete
	default:
		return collab.ChangeUpdate
	}
}

// diffSplice reduces an old/new text pair to a single splice by trimming
// the common prefix and suffix.
func diffSplice(old, new []rune) (pos, del int, ins string) {
	prefix := 0
	for prefix < len(old) && prefix < len(new) && old[prefix] == new[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(old)-prefix && suffix < len(new)-prefix &&
		old[len(old)-1-suffix] == new[len(new)-1-suffix] {
		suffix++
	}
	return prefix, len(old) - prefix - suffix, string(new[prefix : len(new)-suffix])
}
