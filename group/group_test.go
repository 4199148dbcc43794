package group_test

import (
	"testing"

	"github.com/cipherdeck/core/chain"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/group"
	"github.com/cipherdeck/core/model"
	"github.com/stretchr/testify/require"
)

type testDevice struct {
	author chain.Author
	kp     model.KeyPackage
}

func newTestDevice(t *testing.T) testDevice {
	t.Helper()
	key, err := cryptoprim.GenerateSigningKey()
	require.NoError(t, err)
	dev := model.DeviceIDFromPublicKey(key.Public())
	kp := chain.NewKeyPackage(dev, key.Public())
	return testDevice{author: chain.Author{Device: dev, Key: key}, kp: kp}
}

func TestGroupAddThenJoinSharesSecret(t *testing.T) {
	a := newTestDevice(t)
	b := newTestDevice(t)

	groupA, err := group.Create(a.author, a.kp)
	require.NoError(t, err)

	msg, err := groupA.Add([]model.KeyPackage{b.kp})
	require.NoError(t, err)
	require.NotNil(t, msg.Welcome)
	require.NotNil(t, msg.Commit)

	groupB, err := group.Join(nil, b.author.Device, b.author.Key, *msg.Welcome)
	require.NoError(t, err)
	require.Equal(t, groupA.Chain().Head(), groupB.Chain().Head())

	app, err := groupA.EncryptMessage([]byte("hello B"))
	require.NoError(t, err)

	outcome, err := groupB.Apply(group.Message{App: &app})
	require.NoError(t, err)
	require.Equal(t, group.OutcomeAppMessage, outcome.Kind)
	require.Equal(t, []byte("hello B"), outcome.Plaintext)
}

func TestGroupRemoveRotatesSecretAwayFromRemovedMember(t *testing.T) {
	a := newTestDevice(t)
	b := newTestDevice(t)

	groupA, err := group.Create(a.author, a.kp)
	require.NoError(t, err)

	addMsg, err := groupA.Add([]model.KeyPackage{b.kp})
	require.NoError(t, err)

	groupB, err := group.Join(nil, b.author.Device, b.author.Key, *addMsg.Welcome)
	require.NoError(t, err)

	// B integrates A's add-commit so it shares A's view before being removed.
	_, err = groupB.Apply(group.Message{Commit: addMsg.Commit})
	require.NoError(t, err)

	removeMsg, err := groupA.Remove([]chain.RemovedOp{{Device: b.kp.Device}})
	require.NoError(t, err)
	require.NotNil(t, removeMsg.Commit)
	require.NotEmpty(t, removeMsg.Commit.Wrapped)

	// B never integrates the remove (it was kicked) and so never learns the
	// new secret; a fresh app message under it must be undecryptable by B's
	// lingering (now stale) ratchet state.
	app, err := groupA.EncryptMessage([]byte("no longer for B"))
	require.NoError(t, err)
	_, err = groupB.Apply(group.Message{App: &app})
	require.Error(t, err)
}

// TestGroupApplyReappliesDivergedRemoteBlock mirrors chain_test.go's
// TestMergeDivergedAdds but drives the merge through Group.Apply: A adds
// C while B concurrently adds D from the same base chain. A's branch
// wins the tie-break (A joined first), but D's add must still be
// reapplied on top rather than dropped, with its own rekeyed commit.
func TestGroupApplyReappliesDivergedRemoteBlock(t *testing.T) {
	a := newTestDevice(t)
	b := newTestDevice(t)
	c := newTestDevice(t)
	d := newTestDevice(t)

	groupA, err := group.Create(a.author, a.kp)
	require.NoError(t, err)
	addBMsg, err := groupA.Add([]model.KeyPackage{b.kp})
	require.NoError(t, err)

	groupB, err := group.Join(nil, b.author.Device, b.author.Key, *addBMsg.Welcome)
	require.NoError(t, err)

	addCMsg, err := groupA.Add([]model.KeyPackage{c.kp})
	require.NoError(t, err)
	require.NotNil(t, addCMsg)

	addDMsg, err := groupB.Add([]model.KeyPackage{d.kp})
	require.NoError(t, err)
	require.NotNil(t, addDMsg)

	outcome, err := groupA.Apply(group.Message{Commit: addDMsg.Commit})
	require.NoError(t, err)
	require.Equal(t, group.OutcomeCommit, outcome.Kind)
	require.Len(t, outcome.Outgoing, 1, "exactly one commit reapplying D's add block")
	require.NotNil(t, outcome.Outgoing[0].Commit)
	require.NotNil(t, outcome.Outgoing[0].Welcome, "D needs the rekeyed secret wrapped for it")

	members := groupA.Chain().Members()
	require.True(t, members.Has(c.kp.Device), "A's own concurrent add survives")
	require.True(t, members.Has(d.kp.Device), "B's concurrent add is reapplied, not dropped")
	require.Equal(t, 1, outcome.Stats.Added, "only D is new as of this Apply call; C was already local")
}

func TestGroupApplyUnknownGroupIsSilent(t *testing.T) {
	a := newTestDevice(t)
	groupA, err := group.Create(a.author, a.kp)
	require.NoError(t, err)

	other := newTestDevice(t)
	groupC, err := group.Create(other.author, other.kp)
	require.NoError(t, err)

	app, err := groupC.EncryptMessage([]byte("wrong group"))
	require.NoError(t, err)

	outcome, err := groupA.Apply(group.Message{App: &app})
	require.NoError(t, err)
	require.Equal(t, group.OutcomeUnknownGroup, outcome.Kind)
}
