package chain

import (
	"sort"

	"github.com/cipherdeck/core/model"
)

// ApplyBlock is the tagged union `modify` accepts: either a block received
// from a remote peer, or a freshly-built local ops set.
type ApplyBlock struct {
	Remote *Block
	Local  *DeviceOps
}

// RemoteApply wraps a remote block for Modify.
func RemoteApply(b Block) ApplyBlock { return ApplyBlock{Remote: &b} }

// LocalApply wraps a local ops set for Modify.
func LocalApply(ops DeviceOps) ApplyBlock { return ApplyBlock{Local: &ops} }

// Modify applies either a local ops block or a remote block, filtering:
// adds whose device is already a member are dropped; removes whose device
// is not a current member are dropped; updates whose device is not a
// member are dropped. At most one block is appended per call and it
// carries a single kind of op, because the ratchet layer (group package)
// cannot carry two kinds of change in a single commit: ops holding both
// adds and removes are rejected with ErrDifferentOps; otherwise adds take
// precedence over removes and removes over updates, and the ops of the
// other kinds in the same call are not applied.
// Returns whether a block was actually appended.
func (c *Chain) Modify(apply ApplyBlock, author Author) (bool, error) {
	members := c.Members()

	var ops DeviceOps
	switch {
	case apply.Remote != nil:
		if !members.Has(apply.Remote.Body.AuthoredBy) {
			return false, ErrNonMemberEdit
		}
		ops = apply.Remote.Body.Ops
	case apply.Local != nil:
		ops = *apply.Local
	default:
		return false, ErrEmptyOps
	}

	if len(ops.Add) > 0 && len(ops.Remove) > 0 {
		return false, ErrDifferentOps
	}

	additions := map[model.DeviceID]model.KeyPackage{}
	for _, kp := range ops.Add {
		if !members.Has(kp.Device) {
			additions[kp.Device] = kp
		}
	}

	removals := map[model.DeviceID]RemovedOp{}
	for _, r := range ops.Remove {
		if members.Has(r.Device) {
			removals[r.Device] = r
		}
	}

	updates := map[model.DeviceID]model.KeyPackage{}
	for _, kp := range ops.Update {
		if members.Has(kp.Device) {
			updates[kp.Device] = kp
		}
	}

	// Ordered collections so that independent implementations of the same
	// logical change always produce the same block bytes (mirrors the
	// BTreeMap/BTreeSet usage in the original signature chain).
	sortedAdds := sortedKeyPackages(additions)
	sortedRemoves := sortedRemoved(removals)
	sortedUpdates := sortedKeyPackages(updates)

	var err error
	switch {
	case len(sortedAdds) > 0:
		err = c.Append(DeviceOps{Add: sortedAdds}, author)
	case len(sortedRemoves) > 0:
		err = c.Append(DeviceOps{Remove: sortedRemoves}, author)
	case len(sortedUpdates) > 0:
		err = c.Append(DeviceOps{Update: sortedUpdates}, author)
	default:
		return false, nil
	}
	return err == nil, err
}

func sortedKeyPackages(m map[model.DeviceID]model.KeyPackage) []model.KeyPackage {
	out := make([]model.KeyPackage, 0, len(m))
	for _, kp := range m {
		out = append(out, kp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device.Less(out[j].Device) })
	return out
}

func sortedRemoved(m map[model.DeviceID]RemovedOp) []RemovedOp {
	out := make([]RemovedOp, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device.Less(out[j].Device) })
	return out
}
