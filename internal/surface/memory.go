package surface

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MemorySurface is an in-memory block-list implementation of Surface. It is
// the reference editor used by tests and the CLI; a production deployment
// plugs a real rich-text engine in instead.
type MemorySurface struct {
	nodes []Node
}

func NewMemorySurface() *MemorySurface {
	return &MemorySurface{}
}

func (m *MemorySurface) ReadTree() []Node {
	out := make([]Node, len(m.nodes))
	copy(out, m.nodes)
	return out
}

// Text returns the linear projection: block texts joined by newlines.
func (m *MemorySurface) Text() string {
	parts := make([]string, len(m.nodes))
	for i, n := range m.nodes {
		parts[i] = n.Text
	}
	return strings.Join(parts, "\n")
}

func (m *MemorySurface) ApplyStructuralEdit(edit Edit) error {
	switch e := edit.(type) {
	case InsertText:
		i, err := m.index(e.NodeID)
		if err != nil {
			return err
		}
		text := []rune(m.nodes[i].Text)
		if e.Offset < 0 || e.Offset > len(text) {
			return fmt.Errorf("insert offset %d out of range for node %s", e.Offset, e.NodeID)
		}
		m.nodes[i].Text = string(text[:e.Offset]) + e.Text + string(text[e.Offset:])
	case DeleteText:
		i, err := m.index(e.NodeID)
		if err != nil {
			return err
		}
		text := []rune(m.nodes[i].Text)
		if e.Offset < 0 || e.Length < 0 || e.Offset+e.Length > len(text) {
			return fmt.Errorf("delete range [%d,%d) out of range for node %s", e.Offset, e.Offset+e.Length, e.NodeID)
		}
		m.nodes[i].Text = string(text[:e.Offset]) + string(text[e.Offset+e.Length:])
	case InsertNode:
		node := e.Node
		if node.ID == "" {
			node.ID = uuid.New().String()
		}
		if node.Kind == "" {
			node.Kind = "paragraph"
		}
		at := len(m.nodes)
		if e.AfterID != "" {
			i, err := m.index(e.AfterID)
			if err != nil {
				return err
			}
			at = i + 1
		}
		m.nodes = append(m.nodes[:at], append([]Node{node}, m.nodes[at:]...)...)
	case RemoveNode:
		i, err := m.index(e.NodeID)
		if err != nil {
			return err
		}
		m.nodes = append(m.nodes[:i], m.nodes[i+1:]...)
	case SetNodeText:
		i, err := m.index(e.NodeID)
		if err != nil {
			return err
		}
		m.nodes[i].Text = e.Text
	case SetDocument:
		m.setFromText(e.Text)
	default:
		return fmt.Errorf("unsupported edit %T", edit)
	}
	return nil
}

// NodeRange returns the node's [start, end) range in the linear projection.
func (m *MemorySurface) NodeRange(nodeID string) (start, end int, err error) {
	offset := 0
	for _, n := range m.nodes {
		length := len([]rune(n.Text))
		if n.ID == nodeID {
			return offset, offset + length, nil
		}
		offset += length + 1 // text plus joining newline
	}
	return 0, 0, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
}

// NodeAt maps a linear offset back to the containing node and in-node offset.
func (m *MemorySurface) NodeAt(linear int) (nodeID string, offset int, ok bool) {
	pos := 0
	for _, n := range m.nodes {
		length := len([]rune(n.Text))
		if linear <= pos+length {
			return n.ID, linear - pos, true
		}
		pos += length + 1
	}
	return "", 0, false
}

// setFromText re-splits the linear projection into blocks, keeping existing
// node IDs positionally stable so placeholder anchors survive remote updates.
func (m *MemorySurface) setFromText(text string) {
	lines := strings.Split(text, "\n")
	if text == "" {
		lines = nil
	}
	nodes := make([]Node, 0, len(lines))
	for i, line := range lines {
		node := Node{Kind: "paragraph", Text: line}
		if i < len(m.nodes) {
			node.ID = m.nodes[i].ID
			if m.nodes[i].Kind != "" {
				node.Kind = m.nodes[i].Kind
			}
		} else {
			node.ID = uuid.New().String()
		}
		nodes = append(nodes, node)
	}
	m.nodes = nodes
}

func (m *MemorySurface) index(nodeID string) (int, error) {
	for i, n := range m.nodes {
		if n.ID == nodeID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
}
