// Package crdt implements replicated document bodies: a sequence CRDT
// (merge, encode_state, diff_with_attributes, insert_text, insert_embed,
// format) for card bodies — text and embeds with formatting — and a
// last-writer-wins map for the simple key->value documents (Account,
// Profile, Notifications, ACL). See DESIGN.md for why these are hand
// rolled rather than built on a pack dependency.
package crdt

import (
	"sort"

	"github.com/cipherdeck/core/model"
)

// NodeID identifies one inserted element in a Text CRDT: the device that
// authored it plus a Lamport sequence number (one more than the highest
// Seq the authoring replica had created or merged at the time),
// following the replicated-growable-array idiom.
type NodeID struct {
	Device model.DeviceID
	Seq    uint64
}

func (n NodeID) less(o NodeID) bool {
	if n.Seq != o.Seq {
		return n.Seq < o.Seq
	}
	return n.Device.Less(o.Device)
}

// Format is a set of named formatting attributes applied to a text run
// (bold, italic, link href, ...); kept generic rather than fixing the
// attribute vocabulary.
type Format map[string]string

// Embed is a non-text element inlined into the sequence (a file
// attachment reference, a mention, ...).
type Embed struct {
	Kind string
	Data []byte
}

type node struct {
	id      NodeID
	after   NodeID // zero value = head
	rune    rune
	embed   *Embed
	tomb    bool
	format  Format
}

// Text is a CRDT sequence of characters and embeds, replicated with
// insert-after-id operations and tombstone deletes so concurrent edits
// always converge regardless of delivery order.
type Text struct {
	nodes map[NodeID]*node
	// order caches the current tombstone-free traversal order; invalidated
	// on every mutation and recomputed lazily.
	orderDirty bool
	order      []NodeID
	seq        uint64
	device     model.DeviceID
}

// NewText creates an empty Text CRDT authored locally by device.
func NewText(device model.DeviceID) *Text {
	return &Text{nodes: map[NodeID]*node{}, device: device, orderDirty: true}
}

func (t *Text) nextID() NodeID {
	t.seq++
	return NodeID{Device: t.device, Seq: t.seq}
}

// InsertText inserts text as individual character nodes immediately after
// after (the zero NodeID means "at the head").
func (t *Text) InsertText(after NodeID, text string) []NodeID {
	ids := make([]NodeID, 0, len(text))
	cur := after
	for _, r := range text {
		id := t.nextID()
		t.nodes[id] = &node{id: id, after: cur, rune: r}
		ids = append(ids, id)
		cur = id
	}
	t.orderDirty = true
	return ids
}

// InsertEmbed inserts a single non-text element after after.
func (t *Text) InsertEmbed(after NodeID, embed Embed) NodeID {
	id := t.nextID()
	t.nodes[id] = &node{id: id, after: after, embed: &embed}
	t.orderDirty = true
	return id
}

// Delete tombstones the node at id; a no-op if id is absent (already
// deleted concurrently, or never seen), which is what makes Delete
// idempotent across replays.
func (t *Text) Delete(id NodeID) {
	if n, ok := t.nodes[id]; ok {
		n.tomb = true
		t.orderDirty = true
	}
}

// Format applies formatting attributes to the run of nodes between from
// and to (inclusive), merged key-by-key into each node's existing format.
func (t *Text) Format(from, to NodeID, attrs Format) {
	t.rebuildOrder()
	inRange := false
	for _, id := range t.order {
		if id == from {
			inRange = true
		}
		if inRange {
			n := t.nodes[id]
			if n.format == nil {
				n.format = Format{}
			}
			for k, v := range attrs {
				n.format[k] = v
			}
		}
		if id == to {
			break
		}
	}
}

// rebuildOrder computes a deterministic traversal: children follow their
// parent newest first (descending NodeID.less), so a later insert after a
// node lands immediately after it and concurrent inserts after the same
// node produce the same order on every replica (equal Seqs broken by
// device id, the wall-clock-independent order merge.go also uses).
func (t *Text) rebuildOrder() {
	if !t.orderDirty {
		return
	}
	children := map[NodeID][]NodeID{}
	for id, n := range t.nodes {
		children[n.after] = append(children[n.after], id)
	}
	for _, ids := range children {
		sort.Slice(ids, func(i, j int) bool { return ids[j].less(ids[i]) })
	}

	var order []NodeID
	var walk func(parent NodeID)
	walk = func(parent NodeID) {
		for _, id := range children[parent] {
			order = append(order, id)
			walk(id)
		}
	}
	walk(NodeID{})
	t.order = order
	t.orderDirty = false
}

// EncodeState serializes the full CRDT state (all nodes including
// tombstones) for transmission to a peer or persistence to docstore.
func (t *Text) EncodeState() State {
	st := State{Device: t.device, Seq: t.seq, Nodes: make([]WireNode, 0, len(t.nodes))}
	for _, n := range t.nodes {
		st.Nodes = append(st.Nodes, WireNode{
			ID: n.id, After: n.after, Rune: n.rune, Embed: n.embed,
			Tomb: n.tomb, Format: n.format,
		})
	}
	sort.Slice(st.Nodes, func(i, j int) bool { return st.Nodes[i].ID.less(st.Nodes[j].ID) })
	return st
}

// WireNode is one Text node in its wire/storage form.
type WireNode struct {
	ID     NodeID
	After  NodeID
	Rune   rune
	Embed  *Embed
	Tomb   bool
	Format Format
}

// State is the full encoded form of a Text CRDT.
type State struct {
	Device model.DeviceID
	Seq    uint64
	Nodes  []WireNode
}

// Merge folds update's nodes into t: insertions are idempotent (same
// NodeID always produces the same node), deletes are idempotent
// (tombstone is sticky — once true, Merge never resets it to false), and
// format attributes merge key-by-key, last writer arbitrary-but-consistent
// (we keep whichever value is lexicographically larger, which is
// commutative and associative and therefore safe under any merge order).
func (t *Text) Merge(update State) {
	for _, wn := range update.Nodes {
		existing, ok := t.nodes[wn.ID]
		if !ok {
			t.nodes[wn.ID] = &node{
				id: wn.ID, after: wn.After, rune: wn.Rune, embed: wn.Embed,
				tomb: wn.Tomb, format: wn.Format,
			}
			t.orderDirty = true
			continue
		}
		if wn.Tomb {
			existing.tomb = true
		}
		for k, v := range wn.Format {
			if existing.format == nil {
				existing.format = Format{}
			}
			if cur, ok := existing.format[k]; !ok || v > cur {
				existing.format[k] = v
			}
		}
	}
	if update.Seq > t.seq {
		t.seq = update.Seq
	}
	t.orderDirty = true
}

// String renders the current (tombstone-free) text, skipping embeds.
func (t *Text) String() string {
	t.rebuildOrder()
	runes := make([]rune, 0, len(t.order))
	for _, id := range t.order {
		n := t.nodes[id]
		if n.tomb || n.embed != nil {
			continue
		}
		runes = append(runes, n.rune)
	}
	return string(runes)
}

// DiffWithAttributes returns the current content as a sequence of runs,
// each tagged with its formatting attributes, the shape a rich-text
// renderer needs.
func (t *Text) DiffWithAttributes() []Run {
	t.rebuildOrder()
	var runs []Run
	var cur *Run
	sameFormat := func(a, b Format) bool {
		if len(a) != len(b) {
			return false
		}
		for k, v := range a {
			if b[k] != v {
				return false
			}
		}
		return true
	}
	for _, id := range t.order {
		n := t.nodes[id]
		if n.tomb {
			continue
		}
		if n.embed != nil {
			if cur != nil {
				runs = append(runs, *cur)
				cur = nil
			}
			runs = append(runs, Run{Embed: n.embed, Format: n.format})
			continue
		}
		if cur != nil && sameFormat(cur.Format, n.format) {
			cur.Text += string(n.rune)
			continue
		}
		if cur != nil {
			runs = append(runs, *cur)
		}
		cur = &Run{Text: string(n.rune), Format: n.format}
	}
	if cur != nil {
		runs = append(runs, *cur)
	}
	return runs
}

// Run is one formatting-homogeneous span of the rendered document.
type Run struct {
	Text   string
	Embed  *Embed
	Format Format
}

// HeadID returns the NodeID to pass as `after` to append at the very end
// of the current visible content, or the zero NodeID if empty.
func (t *Text) HeadID() NodeID {
	t.rebuildOrder()
	for i := len(t.order) - 1; i >= 0; i-- {
		if !t.nodes[t.order[i]].tomb {
			return t.order[i]
		}
	}
	return NodeID{}
}
