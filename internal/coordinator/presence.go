package coordinator

import (
	"fmt"
	"sort"
	"time"

	"coscribe/internal/channel"
	"coscribe/internal/collab"
	"coscribe/internal/replica"
)

const (
	DefaultMaxInactive  = 30 * time.Second
	DefaultCursorMaxAge = 10 * time.Second
)

type PresenceOptions struct {
	UserID       string
	UserName     string
	UserColor    string
	MaxInactive  time.Duration
	CursorMaxAge time.Duration
	Logger       Logger
}

// PresenceCoordinator mirrors the sync coordinator for ephemeral state.
// There is no backup timer and no pending flag: presence is rebuilt from
// scratch on every (re)join, so losing it is harmless.
type PresenceCoordinator struct {
	pres    *replica.Presence
	emitter channel.Emitter
	sched   Scheduler
	logger  Logger

	local        collab.UserAwareness
	participants map[string]collab.Participant
	maxInactive  time.Duration
	cursorMaxAge time.Duration
}

func NewPresenceCoordinator(pres *replica.Presence, emitter channel.Emitter, sched Scheduler, opts PresenceOptions) (*PresenceCoordinator, error) {
	if pres == nil || emitter == nil || sched == nil {
		return nil, fmt.Errorf("presence replica, emitter and scheduler are required")
	}
	if opts.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if opts.MaxInactive <= 0 {
		opts.MaxInactive = DefaultMaxInactive
	}
	if opts.CursorMaxAge <= 0 {
		opts.CursorMaxAge = DefaultCursorMaxAge
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	now := sched.Now()
	c := &PresenceCoordinator{
		pres:         pres,
		emitter:      emitter,
		sched:        sched,
		logger:       opts.Logger,
		local:        collab.NewUserAwareness(opts.UserID, opts.UserName, opts.UserColor, now),
		participants: map[string]collab.Participant{},
		maxInactive:  opts.MaxInactive,
		cursorMaxAge: opts.CursorMaxAge,
	}
	c.participants[opts.UserID] = collab.Join(opts.UserID, opts.UserName, opts.UserColor, now)
	return c, nil
}

// Announce broadcasts the local awareness state, e.g. right after joining.
func (c *PresenceCoordinator) Announce() error {
	return c.broadcast()
}

// SetCursor moves the local cursor and emits the change immediately.
func (c *PresenceCoordinator) SetCursor(position int) error {
	now := c.sched.Now()
	cur, err := collab.NewCursorPosition(c.local.UserID, position, now)
	if err != nil {
		return err
	}
	c.local = c.local.UpdateCursor(cur, now)
	return c.broadcast()
}

func (c *PresenceCoordinator) SetSelection(anchor, head int) error {
	c.local = c.local.UpdateSelection(collab.Selection{Anchor: anchor, Head: head}, c.sched.Now())
	return c.broadcast()
}

func (c *PresenceCoordinator) ClearSelection() error {
	c.local = c.local.ClearSelection(c.sched.Now())
	return c.broadcast()
}

// Cursor returns the local cursor's linear position, if one is set.
func (c *PresenceCoordinator) Cursor() (int, bool) {
	if c.local.Cursor == nil {
		return 0, false
	}
	return c.local.Cursor.Position, true
}

// ApplyRemote merges an inbound presence update without rebroadcast.
func (c *PresenceCoordinator) ApplyRemote(upd channel.PresenceUpdate) error {
	if err := c.pres.ApplyRemote(upd.Update); err != nil {
		return err
	}
	if a, ok := c.pres.Get(upd.UserID); ok {
		if _, known := c.participants[a.UserID]; !known {
			c.participants[a.UserID] = collab.Join(a.UserID, a.UserName, a.UserColor, c.sched.Now())
		}
	}
	return nil
}

// Leave deactivates a participant and drops their presence state.
func (c *PresenceCoordinator) Leave(userID string) {
	if p, ok := c.participants[userID]; ok {
		c.participants[userID] = p.Deactivate()
	}
	c.pres.Remove(userID)
}

// States returns every known awareness state, the local one included.
func (c *PresenceCoordinator) States() []collab.UserAwareness {
	return c.pres.States()
}

// ActiveUsers filters states by the activity window.
func (c *PresenceCoordinator) ActiveUsers() []collab.UserAwareness {
	now := c.sched.Now()
	var out []collab.UserAwareness
	for _, a := range c.pres.States() {
		if a.IsActive(now, c.maxInactive) {
			out = append(out, a)
		}
	}
	return out
}

// Cursors returns the cursor of every user that moved one recently enough
// to still render. Stale cursors stay in the awareness states but are not
// drawn.
func (c *PresenceCoordinator) Cursors() []collab.CursorPosition {
	now := c.sched.Now()
	var out []collab.CursorPosition
	for _, a := range c.pres.States() {
		if a.Cursor == nil || a.Cursor.IsStale(now, c.cursorMaxAge) {
			continue
		}
		out = append(out, *a.Cursor)
	}
	return out
}

func (c *PresenceCoordinator) Participants() []collab.Participant {
	out := make([]collab.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (c *PresenceCoordinator) broadcast() error {
	delta, err := c.pres.ApplyLocal(c.local)
	if err != nil {
		return err
	}
	return c.emitter.Emit(channel.EventPresenceUpdate, channel.PresenceUpdate{
		Update: delta,
		UserID: c.local.UserID,
	})
}
