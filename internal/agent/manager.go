// Package agent tracks AI-generation requests bound to placeholder nodes
// in the document. Streamed output is written through the same replica
// path as human edits, so agent text merges under the same rules as any
// other content.
package agent

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"coscribe/internal/channel"
	"coscribe/internal/collab"
	"coscribe/internal/surface"
)

var ErrUnknownQuery = errors.New("unknown query")

// DocumentEditor applies a structural edit through the document replica.
type DocumentEditor interface {
	LocalEdit(edit surface.Edit) error
}

type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type Options struct {
	Logger Logger
	Now    func() time.Time
}

// Manager owns the active-query map for one session, keyed by the
// placeholder node ID. It is not safe for concurrent use.
type Manager struct {
	editor  DocumentEditor
	surface surface.Surface
	emitter channel.Emitter
	logger  Logger
	now     func() time.Time

	queries map[string]collab.AgentQuery
}

func NewManager(editor DocumentEditor, surf surface.Surface, emitter channel.Emitter, opts Options) (*Manager, error) {
	if editor == nil || surf == nil || emitter == nil {
		return nil, fmt.Errorf("editor, surface and emitter are required")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		editor:  editor,
		surface: surf,
		emitter: emitter,
		logger:  opts.Logger,
		now:     opts.Now,
		queries: map[string]collab.AgentQuery{},
	}, nil
}

// Ask creates a placeholder node after afterNodeID (or at the end when
// empty), registers a pending query for it, and emits the agent-query
// event. It returns the placeholder node ID.
func (m *Manager) Ask(question, afterNodeID string) (string, error) {
	nodeID := uuid.New().String()
	q, err := collab.NewAgentQuery(nodeID, question, m.now())
	if err != nil {
		return "", err
	}
	node := surface.Node{ID: nodeID, Kind: "paragraph"}
	if err := m.editor.LocalEdit(surface.InsertNode{AfterID: afterNodeID, Node: node}); err != nil {
		return "", err
	}
	m.queries[nodeID] = q
	if err := m.emitter.Emit(channel.EventAgentQuery, channel.AgentQuery{
		Question: q.Question,
		NodeID:   nodeID,
	}); err != nil {
		return nodeID, fmt.Errorf("emit agent-query: %w", err)
	}
	return nodeID, nil
}

// HandleChunk appends streamed output to the placeholder. The first chunk
// moves the query to streaming. Chunks for unknown or terminal queries are
// dropped.
func (m *Manager) HandleChunk(ev channel.AgentChunk) error {
	q, ok := m.queries[ev.NodeID]
	if !ok {
		m.logger.Printf("chunk for unknown node %s dropped", ev.NodeID)
		return nil
	}
	if !q.IsActive() {
		return nil
	}
	if q.Status == collab.QueryPending {
		next, err := q.MarkStreaming()
		if err != nil {
			return err
		}
		q = next
		m.queries[ev.NodeID] = q
	}
	offset, err := m.nodeLength(ev.NodeID)
	if err != nil {
		return err
	}
	return m.editor.LocalEdit(surface.InsertText{NodeID: ev.NodeID, Offset: offset, Text: ev.Chunk})
}

// HandleDone finalizes the query and replaces the accumulated chunks with
// the full response.
func (m *Manager) HandleDone(ev channel.AgentDone) error {
	q, ok := m.queries[ev.NodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuery, ev.NodeID)
	}
	if q.Status == collab.QueryPending {
		// completion without chunks still passes through streaming
		next, err := q.MarkStreaming()
		if err != nil {
			return err
		}
		q = next
	}
	done, err := q.MarkCompleted(ev.Response, m.now())
	if err != nil {
		return err
	}
	m.queries[ev.NodeID] = done
	return m.editor.LocalEdit(surface.SetNodeText{NodeID: ev.NodeID, Text: ev.Response})
}

// HandleError fails the query and renders the error into the placeholder.
// Failures stay user-visible; the node is never silently removed.
func (m *Manager) HandleError(ev channel.AgentError) error {
	q, ok := m.queries[ev.NodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuery, ev.NodeID)
	}
	failed, err := q.MarkFailed(ev.Error, m.now())
	if err != nil {
		return err
	}
	m.queries[ev.NodeID] = failed
	return m.editor.LocalEdit(surface.SetNodeText{
		NodeID: ev.NodeID,
		Text:   "Error: " + ev.Error,
	})
}

// CancelQuery stops tracking the query. The placeholder content is
// withdrawn only while the query is still pending or streaming; completed
// responses and rendered errors stay in the document. Cancelling an
// untracked node is a no-op.
func (m *Manager) CancelQuery(nodeID string) error {
	q, ok := m.queries[nodeID]
	if !ok {
		return nil
	}
	delete(m.queries, nodeID)
	if !q.IsActive() {
		return nil
	}
	if err := m.editor.LocalEdit(surface.RemoveNode{NodeID: nodeID}); err != nil {
		if errors.Is(err, surface.ErrUnknownNode) {
			return nil
		}
		return err
	}
	return nil
}

// CancelAllQueries cancels every tracked query. Used on session teardown.
func (m *Manager) CancelAllQueries() error {
	ids := make([]string, 0, len(m.queries))
	for id := range m.queries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var firstErr error
	for _, id := range ids {
		if err := m.CancelQuery(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) Get(nodeID string) (collab.AgentQuery, bool) {
	q, ok := m.queries[nodeID]
	return q, ok
}

// Active returns the queries still pending or streaming, ordered by node ID.
func (m *Manager) Active() []collab.AgentQuery {
	var out []collab.AgentQuery
	for _, q := range m.queries {
		if q.IsActive() {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

func (m *Manager) nodeLength(nodeID string) (int, error) {
	for _, n := range m.surface.ReadTree() {
		if n.ID == nodeID {
			return len([]rune(n.Text)), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", surface.ErrUnknownNode, nodeID)
}
