package crdt_test

import (
	"testing"

	"github.com/cipherdeck/core/crdt"
	"github.com/cipherdeck/core/model"
	"github.com/stretchr/testify/require"
)

func devID(b byte) model.DeviceID {
	var id model.DeviceID
	id[0] = b
	return id
}

// TestTextConcurrentEditsConverge: two replicas of "Hello world!" diverge
// (one inserts at the end, the other replaces a prefix) and must converge
// to the same string once merged in either order.
func TestTextConcurrentEditsConverge(t *testing.T) {
	a := crdt.NewText(devID(1))
	ids := a.InsertText(crdt.NodeID{}, "Hello world!")

	b := crdt.NewText(devID(2))
	b.Merge(a.EncodeState())

	// Device 1 inserts " and Good luck" after "d", before the final "!"
	a.InsertText(ids[len(ids)-2], " and Good luck")

	// Device 2 replaces "ello" (indices 1..4) with "i": delete then insert.
	for i := 1; i < 5; i++ {
		b.Delete(ids[i])
	}
	b.InsertText(ids[0], "i")

	stateA := a.EncodeState()
	stateB := b.EncodeState()

	merged1 := crdt.NewText(devID(1))
	merged1.Merge(stateA)
	merged1.Merge(stateB)

	merged2 := crdt.NewText(devID(2))
	merged2.Merge(stateB)
	merged2.Merge(stateA)

	require.Equal(t, merged1.String(), merged2.String(), "merge must be order-independent")
	require.Equal(t, "Hi world and Good luck!", merged1.String())
}

func TestTextDeleteIdempotent(t *testing.T) {
	a := crdt.NewText(devID(1))
	ids := a.InsertText(crdt.NodeID{}, "abc")
	a.Delete(ids[1])
	a.Delete(ids[1])
	require.Equal(t, "ac", a.String())
}

func TestMapLastWriterWins(t *testing.T) {
	m := crdt.NewMap()
	m.Set("title", []byte("first"), devID(1), 1)
	m.Set("title", []byte("stale"), devID(2), 0)
	got, ok := m.Get("title")
	require.True(t, ok)
	require.Equal(t, []byte("first"), got)

	other := crdt.NewMap()
	other.Set("title", []byte("second"), devID(2), 2)
	m.Merge(other.EncodeState())
	got, _ = m.Get("title")
	require.Equal(t, []byte("second"), got)
}

func TestDiffWithAttributes(t *testing.T) {
	a := crdt.NewText(devID(1))
	ids := a.InsertText(crdt.NodeID{}, "bold")
	a.Format(ids[0], ids[len(ids)-1], crdt.Format{"bold": "true"})
	a.InsertText(ids[len(ids)-1], " plain")

	runs := a.DiffWithAttributes()
	require.Len(t, runs, 2)
	require.Equal(t, "bold", runs[0].Text)
	require.Equal(t, "true", runs[0].Format["bold"])
	require.Equal(t, " plain", runs[1].Text)
}
