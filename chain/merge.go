package chain

// ChainUsed records which side prepare_merge picked.
type ChainUsed int

const (
	UsedLocal ChainUsed = iota
	UsedRemote
)

// MergeAdvice is the result of PrepareMerge: the winning chain, which side
// won, and any remote blocks that still need to be re-applied on top via
// Modify.
type MergeAdvice struct {
	Chain        *Chain
	Used         ChainUsed
	RemoteBlocks []Block
}

type authoredBlock struct {
	block             Block
	authorAddedAtEpoch uint64
}

// authoredSeq replays blocks recording, for each one, the epoch at which
// its author joined — exactly the information prepare_merge's tie-break
// needs ("the epoch at which the author joined").
func authoredSeq(blocks []Block) []authoredBlock {
	members := newMembers()
	out := make([]authoredBlock, 0, len(blocks))
	for _, block := range blocks {
		for _, kp := range block.Body.Ops.Add {
			members.insert(kp, block.Body.Epoch)
		}
		for _, r := range block.Body.Ops.Remove {
			members.remove(r)
		}
		addedAt := uint64(1<<64 - 1)
		if m, ok := members.ByDevice[block.Body.AuthoredBy]; ok {
			addedAt = m.AddedAtEpoch
		}
		out = append(out, authoredBlock{block: block, authorAddedAtEpoch: addedAt})
	}
	return out
}

// diff walks both authored sequences in lock-step and returns the
// divergent suffixes by walking both chains in lock-step until the
// blocks diverge.
func diff(local, remote []Block) (localDiverged, remoteDiverged []authoredBlock) {
	localSeq := authoredSeq(local)
	remoteSeq := authoredSeq(remote)

	i := 0
	for i < len(localSeq) && i < len(remoteSeq) {
		if localSeq[i].block.Hash != remoteSeq[i].block.Hash {
			break
		}
		i++
	}
	return localSeq[i:], remoteSeq[i:]
}

// PrepareMerge verifies the remote chain, short-circuits on equal heads
// or a prefix relationship, otherwise deterministically picks a winner by
// comparing the epoch at which each side's first divergent author joined
// (ties broken by lexicographic device id).
func (c *Chain) PrepareMerge(remote *Chain) (*MergeAdvice, error) {
	if err := remote.Verify(); err != nil {
		return nil, err
	}

	if c.Equal(remote) {
		return &MergeAdvice{Chain: c, Used: UsedLocal}, nil
	}

	localDiverged, remoteDiverged := diff(c.blocks, remote.blocks)

	if len(localDiverged) == 0 {
		// Remote is a continuation of ours.
		return &MergeAdvice{Chain: remote, Used: UsedRemote}, nil
	}
	if len(remoteDiverged) == 0 {
		// Local is a continuation of theirs.
		return &MergeAdvice{Chain: c, Used: UsedLocal}, nil
	}

	localNext := localDiverged[0]
	remoteNext := remoteDiverged[0]

	var localWins bool
	if localNext.authorAddedAtEpoch == remoteNext.authorAddedAtEpoch {
		localWins = localNext.block.Body.AuthoredBy.Less(remoteNext.block.Body.AuthoredBy)
	} else {
		localWins = localNext.authorAddedAtEpoch < remoteNext.authorAddedAtEpoch
	}

	if localWins {
		remoteBlocks := make([]Block, 0, len(remoteDiverged))
		for _, rb := range remoteDiverged {
			remoteBlocks = append(remoteBlocks, rb.block)
		}
		return &MergeAdvice{Chain: c, Used: UsedLocal, RemoteBlocks: remoteBlocks}, nil
	}
	return &MergeAdvice{Chain: remote, Used: UsedRemote}, nil
}
