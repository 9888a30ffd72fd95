package replica

import (
	"encoding/json"
	"fmt"
	"sort"

	"coscribe/internal/collab"
)

// Presence holds the ephemeral awareness state of every participant in a
// session. Unlike the document replica it keeps no history: each user's
// entry is a last-writer-wins register keyed by user ID, newest activity
// timestamp winning.
type Presence struct {
	states map[string]collab.UserAwareness
}

func NewPresence() *Presence {
	return &Presence{states: make(map[string]collab.UserAwareness)}
}

// ApplyLocal records the local user's awareness and returns the encoded
// presence delta for broadcast.
func (p *Presence) ApplyLocal(a collab.UserAwareness) ([]byte, error) {
	if a.UserID == "" {
		return nil, fmt.Errorf("%w: presence without user id", ErrCorruptDelta)
	}
	p.states[a.UserID] = a
	return json.Marshal(a)
}

// ApplyRemote merges a peer's presence delta. Updates older than the state
// already held for that user are ignored, so redelivery and reordering are
// harmless.
func (p *Presence) ApplyRemote(delta []byte) error {
	var a collab.UserAwareness
	if err := json.Unmarshal(delta, &a); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptDelta, err)
	}
	if a.UserID == "" {
		return fmt.Errorf("%w: presence without user id", ErrCorruptDelta)
	}
	if cur, ok := p.states[a.UserID]; ok && cur.LastActivity.After(a.LastActivity) {
		return nil
	}
	p.states[a.UserID] = a
	return nil
}

// Remove drops a user's state, e.g. when they leave the session.
func (p *Presence) Remove(userID string) {
	delete(p.states, userID)
}

// Get returns the awareness state held for a user.
func (p *Presence) Get(userID string) (collab.UserAwareness, bool) {
	a, ok := p.states[userID]
	return a, ok
}

// States returns every known awareness state, ordered by user ID.
func (p *Presence) States() []collab.UserAwareness {
	out := make([]collab.UserAwareness, 0, len(p.states))
	for _, a := range p.states {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
