// Package replica owns the converging document state and the ephemeral
// presence state for one open document session.
//
// Causality bookkeeping (version assignment, parent tracking, frontier)
// is delegated to the eg-walker causal graph. On top of it the replica
// renders the text projection by replaying operations in a canonical
// linearization: parents always before children, concurrent operations
// ordered by (agent, seq). Every replica that knows the same operation set
// therefore renders the same text, regardless of delivery order.
package replica

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JonyBepary/go-eg-walker/causalgraph"
)

var (
	ErrInvalidEdit  = errors.New("invalid edit")
	ErrCorruptDelta = errors.New("corrupt delta")
)

const (
	opInsert = "ins"
	opDelete = "del"
)

// Version identifies one operation as an (agent, seq) pair on the wire.
type Version struct {
	Agent string `json:"agent"`
	Seq   int    `json:"seq"`
}

// Op is the wire form of a single CRDT operation. A delta is a JSON array
// of ops; a snapshot is the same array covering the full operation log.
type Op struct {
	Agent   string    `json:"agent"`
	Seq     int       `json:"seq"`
	Parents []Version `json:"parents,omitempty"`
	Type    string    `json:"type"`
	Pos     int       `json:"pos"`
	Ch      string    `json:"ch,omitempty"`
}

func (op Op) validate() error {
	if op.Agent == "" || op.Seq < 0 || op.Pos < 0 {
		return fmt.Errorf("%w: malformed op %+v", ErrCorruptDelta, op)
	}
	switch op.Type {
	case opInsert:
		if len([]rune(op.Ch)) != 1 {
			return fmt.Errorf("%w: insert op must carry exactly one rune", ErrCorruptDelta)
		}
	case opDelete:
	default:
		return fmt.Errorf("%w: unknown op type %q", ErrCorruptDelta, op.Type)
	}
	return nil
}

// Doc is the Document Replica. It is owned by exactly one sync coordinator
// per session and is not safe for concurrent use.
type Doc struct {
	agent   string
	cg      *causalgraph.CausalGraph
	ops     []Op // indexed by local version (LV)
	pending []Op // remote ops whose causal parents have not arrived yet
	text    []rune
}

func NewDoc(agent string) *Doc {
	return &Doc{
		agent: agent,
		cg:    causalgraph.CreateCG(),
	}
}

func (d *Doc) AgentID() string { return d.agent }

// Text returns the linear projection of the document.
func (d *Doc) Text() string { return string(d.text) }

// Splice applies a local edit: delete deleteCount runes at pos, then insert
// text at pos. It returns the encoded delta for broadcast, or nil when the
// splice is empty.
func (d *Doc) Splice(pos, deleteCount int, insert string) ([]byte, error) {
	if pos < 0 || deleteCount < 0 || pos+deleteCount > len(d.text) {
		return nil, fmt.Errorf("%w: splice [%d,%d) outside document of length %d",
			ErrInvalidEdit, pos, pos+deleteCount, len(d.text))
	}
	var out []Op
	for i := 0; i < deleteCount; i++ {
		op, err := d.appendLocal(opDelete, pos, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	for i, r := range []rune(insert) {
		op, err := d.appendLocal(opInsert, pos+i, r)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	if len(out) == 0 {
		return nil, nil
	}
	d.refresh()
	return json.Marshal(out)
}

func (d *Doc) appendLocal(typ string, pos int, ch rune) (Op, error) {
	agentID := causalgraph.AgentID(d.agent)
	seq := causalgraph.NextSeqForAgent(d.cg, agentID)
	parents, err := causalgraph.LVToRawList(d.cg, d.cg.Heads)
	if err != nil {
		return Op{}, fmt.Errorf("resolve frontier: %w", err)
	}
	entry, err := causalgraph.AddRaw(d.cg, causalgraph.RawVersion{Agent: agentID, Seq: seq}, 1, parents)
	if err != nil {
		return Op{}, fmt.Errorf("extend causal graph: %w", err)
	}
	if entry == nil {
		return Op{}, fmt.Errorf("version %s:%d already assigned", d.agent, seq)
	}
	op := Op{Agent: d.agent, Seq: seq, Parents: toWireVersions(parents), Type: typ, Pos: pos}
	if typ == opInsert {
		op.Ch = string(ch)
	}
	d.ops = append(d.ops, op)
	return op, nil
}

// ApplyRemoteDelta merges a peer's delta. Undecodable input fails with
// ErrCorruptDelta and leaves the replica untouched; the caller should drop
// the delta and request a full resync. Valid deltas never fail: ops with
// missing causal parents are buffered until the parents arrive, and
// redelivered ops are ignored.
func (d *Doc) ApplyRemoteDelta(delta []byte) error {
	ops, err := decodeOps(delta)
	if err != nil {
		return err
	}
	d.integrate(ops)
	d.refresh()
	return nil
}

// ExportSnapshot serializes the full operation log.
func (d *Doc) ExportSnapshot() ([]byte, error) {
	return json.Marshal(d.ops)
}

// DiffAgainst reports whether the replica and the given snapshot have
// diverged, i.e. either side holds an operation the other lacks.
func (d *Doc) DiffAgainst(snapshot []byte) (bool, error) {
	ops, err := decodeOps(snapshot)
	if err != nil {
		return false, err
	}
	theirs := make(map[Version]bool, len(ops))
	for _, op := range ops {
		theirs[Version{Agent: op.Agent, Seq: op.Seq}] = true
	}
	mine := make(map[Version]bool, len(d.ops))
	for _, op := range d.ops {
		v := Version{Agent: op.Agent, Seq: op.Seq}
		mine[v] = true
		if !theirs[v] {
			return true, nil
		}
	}
	for v := range theirs {
		if !mine[v] {
			return true, nil
		}
	}
	return false, nil
}

// MergeSnapshot integrates every operation from the snapshot that the
// replica does not know yet. The merge is commutative: local operations
// survive alongside the snapshot's.
func (d *Doc) MergeSnapshot(snapshot []byte) error {
	ops, err := decodeOps(snapshot)
	if err != nil {
		return err
	}
	d.integrate(ops)
	d.refresh()
	return nil
}

// ReplaceWith discards local state and rebuilds the replica from the
// snapshot. Only safe when the caller knows no local changes are pending.
func (d *Doc) ReplaceWith(snapshot []byte) error {
	ops, err := decodeOps(snapshot)
	if err != nil {
		return err
	}
	d.cg = causalgraph.CreateCG()
	d.ops = nil
	d.pending = nil
	d.integrate(ops)
	d.refresh()
	return nil
}

func decodeOps(data []byte) ([]Op, error) {
	var ops []Op
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDelta, err)
	}
	for _, op := range ops {
		if err := op.validate(); err != nil {
			return nil, err
		}
	}
	return ops, nil
}

type integrateResult int

const (
	opAdded integrateResult = iota
	opDuplicate
	opParked
)

func (d *Doc) integrate(ops []Op) {
	queue := make([]Op, 0, len(ops)+len(d.pending))
	queue = append(queue, ops...)
	queue = append(queue, d.pending...)
	d.pending = nil
	for {
		var parked []Op
		progressed := false
		for _, op := range queue {
			switch d.addRemote(op) {
			case opAdded:
				progressed = true
			case opParked:
				parked = append(parked, op)
			}
		}
		if len(parked) == 0 || !progressed {
			d.pending = parked
			return
		}
		queue = parked
	}
}

func (d *Doc) addRemote(op Op) integrateResult {
	agentID := causalgraph.AgentID(op.Agent)
	if _, err := causalgraph.RawToLV(d.cg, agentID, op.Seq); err == nil {
		// at-least-once delivery: already integrated
		return opDuplicate
	}
	if causalgraph.NextSeqForAgent(d.cg, agentID) != op.Seq {
		return opParked
	}
	raw := make([]causalgraph.RawVersion, 0, len(op.Parents))
	for _, p := range op.Parents {
		pid := causalgraph.AgentID(p.Agent)
		if _, err := causalgraph.RawToLV(d.cg, pid, p.Seq); err != nil {
			return opParked
		}
		raw = append(raw, causalgraph.RawVersion{Agent: pid, Seq: p.Seq})
	}
	entry, err := causalgraph.AddRaw(d.cg, causalgraph.RawVersion{Agent: agentID, Seq: op.Seq}, 1, raw)
	if err != nil || entry == nil {
		return opParked
	}
	d.ops = append(d.ops, op)
	return opAdded
}

// refresh recomputes the text projection by canonical replay. Quadratic in
// the operation count; documents large enough for that to hurt are a known
// scaling limit.
func (d *Doc) refresh() {
	applied := make([]bool, len(d.ops))
	ready := func(lv int) bool {
		_, _, parents, ok := causalgraph.LVToRawWithParents(d.cg, causalgraph.LV(lv))
		if !ok {
			return false
		}
		for _, p := range parents {
			if int(p) >= 0 && !applied[int(p)] {
				return false
			}
		}
		return true
	}
	var text []rune
	for remaining := len(d.ops); remaining > 0; remaining-- {
		best := -1
		for lv := range d.ops {
			if applied[lv] || !ready(lv) {
				continue
			}
			if best == -1 || opLess(d.ops[lv], d.ops[best]) {
				best = lv
			}
		}
		if best == -1 {
			break
		}
		applied[best] = true
		text = applyOp(text, d.ops[best])
	}
	d.text = text
}

func applyOp(text []rune, op Op) []rune {
	switch op.Type {
	case opInsert:
		pos := op.Pos
		if pos > len(text) {
			pos = len(text)
		}
		r := []rune(op.Ch)[0]
		text = append(text[:pos], append([]rune{r}, text[pos:]...)...)
	case opDelete:
		if op.Pos < len(text) {
			text = append(text[:op.Pos], text[op.Pos+1:]...)
		}
	}
	return text
}

func opLess(a, b Op) bool {
	if a.Agent != b.Agent {
		return a.Agent < b.Agent
	}
	return a.Seq < b.Seq
}

func toWireVersions(raw []causalgraph.RawVersion) []Version {
	if len(raw) == 0 {
		return nil
	}
	out := make([]Version, len(raw))
	for i, r := range raw {
		out[i] = Version{Agent: string(r.Agent), Seq: r.Seq}
	}
	return out
}
