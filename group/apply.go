package group

import (
	"github.com/cipherdeck/core/chain"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/model"
)

// ApplyOutcomeKind tags which case Apply produced.
type ApplyOutcomeKind int

const (
	OutcomeNothing ApplyOutcomeKind = iota
	OutcomeUnknownGroup
	OutcomeAppMessage
	OutcomeCommit
)

// ApplyOutcome is the result of feeding one inbound Message through Apply.
type ApplyOutcome struct {
	Kind ApplyOutcomeKind

	// Set when Kind == OutcomeAppMessage.
	Plaintext []byte
	Sender    model.DeviceID
	GroupID   cryptoprim.Digest

	// Set when Kind == OutcomeCommit.
	Group    *Group
	Outgoing []Message
	Stats    Stats
}

// Apply is the top-level inbound handler: decrypt an application message,
// merge a commit (rekeying or adopting the delivered secret as needed),
// or report that msg doesn't belong to any group this device knows about.
func (g *Group) Apply(msg Message) (ApplyOutcome, error) {
	switch {
	case msg.App != nil:
		return g.applyAppMessage(*msg.App)
	case msg.Commit != nil:
		return g.applyCommit(*msg.Commit)
	default:
		return ApplyOutcome{Kind: OutcomeNothing}, nil
	}
}

func (g *Group) applyAppMessage(app AppMessage) (ApplyOutcome, error) {
	if app.GroupID != g.ID() {
		return ApplyOutcome{Kind: OutcomeUnknownGroup}, nil
	}
	secret, ok := g.lookup(app.GroupID, app.ChainHash)
	if !ok {
		return ApplyOutcome{}, ErrGroupChainMismatch
	}
	plaintext, err := cryptoprim.Open([32]byte(secret), app.Ciphertext, app.GroupID[:])
	if err != nil {
		return ApplyOutcome{}, err
	}
	return ApplyOutcome{
		Kind:      OutcomeAppMessage,
		Plaintext: plaintext,
		Sender:    app.Sender,
		GroupID:   app.GroupID,
	}, nil
}

func (g *Group) applyCommit(c Commit) (ApplyOutcome, error) {
	remote := chain.FromBlocks(c.ChainBlocks)
	if err := remote.Verify(); err != nil {
		return ApplyOutcome{}, err
	}
	if remote.Root() != g.ID() {
		return ApplyOutcome{Kind: OutcomeUnknownGroup}, nil
	}

	before := g.chain.Members()
	prevHead := g.chain.Head()

	advice, err := g.chain.PrepareMerge(remote)
	if err != nil {
		return ApplyOutcome{}, err
	}

	var outgoing []Message
	switch advice.Used {
	case chain.UsedRemote:
		headAuthor := advice.Chain.Blocks()[len(advice.Chain.Blocks())-1].Body.AuthoredBy
		authorMembers := advice.Chain.Members()
		authorMember, ok := authorMembers.ByDevice[headAuthor]
		if !ok {
			authorMember, ok = before.ByDevice[headAuthor]
		}
		if !ok {
			return ApplyOutcome{}, ErrGroupChainMismatch
		}
		authorPub, err := cryptoprim.PublicKeyFromBytes(authorMember.KeyPackage.PublicKey)
		if err != nil {
			return ApplyOutcome{}, err
		}

		g.chain = advice.Chain

		if len(c.Wrapped) > 0 {
			ws, ok := findWrapped(c.Wrapped, g.self.Device)
			if !ok {
				return ApplyOutcome{}, ErrNoSecretForDevice
			}
			secret, err := unwrapSecret(g.self.Key, authorPub, ws.Ciphertext)
			if err != nil {
				return ApplyOutcome{}, err
			}
			g.secret = secret
		} else if g.chain.Head() != prevHead {
			next, err := ratchetForward(g.secret, g.chain.Head())
			if err != nil {
				return ApplyOutcome{}, err
			}
			g.secret = next
		}
		g.remember(g.ID(), g.chain.Head(), g.secret)

	case chain.UsedLocal:
		// Our chain won the merge, but the remote side may have made its
		// own legitimately concurrent membership changes (advice.
		// RemoteBlocks) that aren't in our chain yet. Reapply each one in
		// turn rather than silently dropping them: chain.Modify rejects a
		// block whose author lost membership along the way (e.g. mutual
		// removal) with ErrNonMemberEdit, which we skip rather than treat
		// as fatal. Every block that does land gets its own rekey and its
		// own outgoing commit, the same as a locally-originated edit
		// would produce via Add/Remove/SelfUpdate.
		for _, rb := range advice.RemoteBlocks {
			appended, err := g.chain.Modify(chain.RemoteApply(rb), g.self)
			if err != nil {
				if err == chain.ErrNonMemberEdit {
					continue
				}
				return ApplyOutcome{}, err
			}
			if !appended {
				continue
			}

			last := g.chain.Blocks()[len(g.chain.Blocks())-1]
			var (
				msg *Message
				err2 error
			)
			switch {
			case len(last.Body.Ops.Remove) > 0:
				msg, err2 = g.rekeyForRemove()
			case len(last.Body.Ops.Add) > 0:
				msg, err2 = g.rekeyForAdd(last.Body.Ops.Add)
			default:
				msg, err2 = g.rekeyForUpdate()
			}
			if err2 != nil {
				return ApplyOutcome{}, err2
			}
			g.remember(g.ID(), g.chain.Head(), g.secret)
			outgoing = append(outgoing, *msg)
		}

		if len(outgoing) == 0 && !remote.Equal(g.chain) {
			// Nothing of the remote's own survived reapplication (it was
			// simply stale, or every divergent block it authored turned
			// out to belong to a device that lost membership along the
			// way). Send our full chain back as a catch-up commit rather
			// than leaving the sender's view stale; its own PrepareMerge
			// will adopt it since it's a continuation of theirs.
			outgoing = append(outgoing, Message{Commit: &Commit{ChainBlocks: g.chain.Blocks()}})
		}
	}

	after := g.chain.Members()
	stats := diffStats(before, after)

	return ApplyOutcome{Kind: OutcomeCommit, Group: g, Outgoing: outgoing, Stats: stats}, nil
}

func findWrapped(list []WrappedSecret, device model.DeviceID) (WrappedSecret, bool) {
	for _, ws := range list {
		if ws.Recipient == device {
			return ws, true
		}
	}
	return WrappedSecret{}, false
}

func diffStats(before, after chain.Members) Stats {
	var s Stats
	for d := range after.ByDevice {
		if !before.Has(d) {
			s.Added++
		}
	}
	for d := range before.ByDevice {
		if !after.Has(d) {
			s.Removed++
		}
	}
	for d, m := range after.ByDevice {
		if bm, ok := before.ByDevice[d]; ok && string(bm.KeyPackage.PublicKey) != string(m.KeyPackage.PublicKey) {
			s.Updated++
		}
	}
	return s
}
