package surface

import "errors"

var ErrUnknownNode = errors.New("unknown node")

// Node is one block of the editable document tree.
type Node struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Edit is the closed set of structural edits the surface accepts.
type Edit interface {
	isEdit()
}

// InsertText inserts text inside an existing node at a rune offset.
type InsertText struct {
	NodeID string
	Offset int
	Text   string
}

// DeleteText removes Length runes from a node starting at Offset.
type DeleteText struct {
	NodeID string
	Offset int
	Length int
}

// InsertNode adds a new block after the node with AfterID, or at the end
// when AfterID is empty.
type InsertNode struct {
	AfterID string
	Node    Node
}

// RemoveNode deletes a block and its content.
type RemoveNode struct {
	NodeID string
}

// SetNodeText replaces a block's full text.
type SetNodeText struct {
	NodeID string
	Text   string
}

// SetDocument replaces the whole tree from a linear text projection. Used
// when remote state lands and the surface must re-render.
type SetDocument struct {
	Text string
}

func (InsertText) isEdit()  {}
func (DeleteText) isEdit()  {}
func (InsertNode) isEdit()  {}
func (RemoveNode) isEdit()  {}
func (SetNodeText) isEdit() {}
func (SetDocument) isEdit() {}

// Surface is the capability any rich-text engine implements so the
// collaboration core can drive it. The core never assumes a concrete editor.
type Surface interface {
	ApplyStructuralEdit(edit Edit) error
	ReadTree() []Node
}
