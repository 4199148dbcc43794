package chain_test

import (
	"testing"

	"github.com/cipherdeck/core/chain"
	"github.com/cipherdeck/core/cryptoprim"
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

func TestRootInvariants(t *testing.T) {
	a := newTestDevice(t)

	_, err := chain.New(a.author, a.kp, []model.AccountID{{1}, {2}, {3}})
	require.ErrorIs(t, err, chain.ErrInvalidRoot)

	c, err := chain.New(a.author, a.kp, nil)
	require.NoError(t, err)
	require.NoError(t, c.Verify())
	require.Equal(t, 1, c.Len())
}

func TestAppendRejectsNonMember(t *testing.T) {
	a := newTestDevice(t)
	b := newTestDevice(t)
	c, err := chain.New(a.author, a.kp, nil)
	require.NoError(t, err)

	err = c.Append(chain.DeviceOps{Add: []model.KeyPackage{b.kp}}, b.author)
	require.ErrorIs(t, err, chain.ErrNonMemberEdit)
}

func TestAppendRejectsMixedOps(t *testing.T) {
	a := newTestDevice(t)
	b := newTestDevice(t)
	c, err := chain.New(a.author, a.kp, nil)
	require.NoError(t, err)
	require.NoError(t, c.Append(chain.DeviceOps{Add: []model.KeyPackage{b.kp}}, a.author))

	err = c.Append(chain.DeviceOps{
		Add:    []model.KeyPackage{b.kp},
		Remove: []chain.RemovedOp{{Device: b.kp.Device}},
	}, a.author)
	require.ErrorIs(t, err, chain.ErrDifferentOps)
}

func TestHashMismatchDetected(t *testing.T) {
	a := newTestDevice(t)
	c, err := chain.New(a.author, a.kp, nil)
	require.NoError(t, err)

	blocks := c.Blocks()
	blocks[0].Hash[0] ^= 0xFF
	tampered := chain.FromBlocks(blocks)
	require.ErrorIs(t, tampered.Verify(), chain.ErrHashMismatch)
}

// TestMergeDivergedAdds: from root-addA-addB, both A and B concurrently
// append addC (by A) and addD (by B); after merge both chains agree,
// with A winning because it joined earlier.
func TestMergeDivergedAdds(t *testing.T) {
	a := newTestDevice(t)
	b := newTestDevice(t)
	cDev := newTestDevice(t)
	dDev := newTestDevice(t)

	base, err := chain.New(a.author, a.kp, nil)
	require.NoError(t, err)
	require.NoError(t, base.Append(chain.DeviceOps{Add: []model.KeyPackage{b.kp}}, a.author))

	localBytes := base.Blocks()
	remoteBytes := append([]chain.Block(nil), localBytes...)
	localChain := chain.FromBlocks(localBytes)
	remoteChain := chain.FromBlocks(remoteBytes)

	require.NoError(t, localChain.Append(chain.DeviceOps{Add: []model.KeyPackage{cDev.kp}}, a.author))
	require.NoError(t, remoteChain.Append(chain.DeviceOps{Add: []model.KeyPackage{dDev.kp}}, b.author))

	advice, err := localChain.PrepareMerge(remoteChain)
	require.NoError(t, err)
	require.Equal(t, chain.UsedLocal, advice.Used, "A joined before B, so A's branch wins")
	require.Len(t, advice.RemoteBlocks, 1)

	merged := advice.Chain
	appended, err := merged.Modify(chain.RemoteApply(advice.RemoteBlocks[0]), a.author)
	require.NoError(t, err)
	require.True(t, appended)
	require.Equal(t, 4, merged.Len())
	require.NoError(t, merged.Verify())

	members := merged.Members()
	require.True(t, members.Has(cDev.kp.Device))
	require.True(t, members.Has(dDev.kp.Device))
}

// TestMergeMutualRemoval: from root-addA-addB, A appends rmB and B
// appends rmA; A wins, B's self-removal is dropped.
func TestMergeMutualRemoval(t *testing.T) {
	a := newTestDevice(t)
	b := newTestDevice(t)

	base, err := chain.New(a.author, a.kp, nil)
	require.NoError(t, err)
	require.NoError(t, base.Append(chain.DeviceOps{Add: []model.KeyPackage{b.kp}}, a.author))

	localChain := chain.FromBlocks(base.Blocks())
	remoteChain := chain.FromBlocks(base.Blocks())

	require.NoError(t, localChain.Append(chain.DeviceOps{Remove: []chain.RemovedOp{{Device: b.kp.Device}}}, a.author))
	require.NoError(t, remoteChain.Append(chain.DeviceOps{Remove: []chain.RemovedOp{{Device: a.kp.Device}}}, b.author))

	advice, err := localChain.PrepareMerge(remoteChain)
	require.NoError(t, err)
	require.Equal(t, chain.UsedLocal, advice.Used)

	merged := advice.Chain
	for _, rb := range advice.RemoteBlocks {
		// rmA was authored by B, but B lost the merge and was itself
		// removed by rmB — B is no longer a member, so its block is
		// rejected rather than re-applied.
		_, err := merged.Modify(chain.RemoteApply(rb), a.author)
		require.ErrorIs(t, err, chain.ErrNonMemberEdit)
	}
	require.Equal(t, 3, merged.Len(), "B's self-removal block must be dropped entirely")
	members := merged.Members()
	require.True(t, members.Has(a.kp.Device))
	require.False(t, members.Has(b.kp.Device))
}

func TestMergeCommutesAcrossThreeChains(t *testing.T) {
	a := newTestDevice(t)
	b := newTestDevice(t)
	cDev := newTestDevice(t)

	base, err := chain.New(a.author, a.kp, nil)
	require.NoError(t, err)
	require.NoError(t, base.Append(chain.DeviceOps{Add: []model.KeyPackage{b.kp}}, a.author))

	chainA := chain.FromBlocks(base.Blocks())
	chainB := chain.FromBlocks(base.Blocks())
	require.NoError(t, chainA.Append(chain.DeviceOps{Add: []model.KeyPackage{cDev.kp}}, a.author))

	mergeAB, err := chainA.PrepareMerge(chainB)
	require.NoError(t, err)

	mergeBA, err := chainB.PrepareMerge(chainA)
	require.NoError(t, err)

	require.Equal(t, mergeAB.Chain.Head(), mergeBA.Chain.Head(), "prepare_merge must be commutative")
}
