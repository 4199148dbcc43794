package chain

import "github.com/cipherdeck/core/model"

// Member is a current chain member: its key package and the epoch at
// which it was added (used to break merge ties by seniority).
type Member struct {
	KeyPackage   model.KeyPackage
	AddedAtEpoch uint64
}

// RemovedMember is a device that was once a member and the last counter it
// reached before removal — replaying the chain must reproduce this
// set exactly.
type RemovedMember struct {
	KeyPackage  model.KeyPackage
	LastCounter uint64
}

// Members is the result of replaying a chain up to some epoch.
type Members struct {
	ByDevice map[model.DeviceID]Member
	Removed  map[model.DeviceID]RemovedMember
}

func newMembers() Members {
	return Members{ByDevice: map[model.DeviceID]Member{}, Removed: map[model.DeviceID]RemovedMember{}}
}

func (m Members) insert(kp model.KeyPackage, epoch uint64) {
	delete(m.Removed, kp.Device)
	m.ByDevice[kp.Device] = Member{KeyPackage: kp, AddedAtEpoch: epoch}
}

func (m Members) remove(r RemovedOp) {
	if existing, ok := m.ByDevice[r.Device]; ok {
		delete(m.ByDevice, r.Device)
		m.Removed[r.Device] = RemovedMember{KeyPackage: existing.KeyPackage, LastCounter: r.LastCounter}
	}
}

// Has reports current membership.
func (m Members) Has(device model.DeviceID) bool {
	_, ok := m.ByDevice[device]
	return ok
}

// Len returns the current member count.
func (m Members) Len() int { return len(m.ByDevice) }

// DeviceIDs returns the current member set.
func (m Members) DeviceIDs() []model.DeviceID {
	out := make([]model.DeviceID, 0, len(m.ByDevice))
	for id := range m.ByDevice {
		out = append(out, id)
	}
	return out
}

func replayMembers(blocks []Block, uptoEpoch uint64) Members {
	members := newMembers()
	for _, block := range blocks {
		if block.Body.Epoch > uptoEpoch {
			break
		}
		for _, kp := range block.Body.Ops.Add {
			members.insert(kp, block.Body.Epoch)
		}
		for _, r := range block.Body.Ops.Remove {
			members.remove(r)
		}
		for _, kp := range block.Body.Ops.Update {
			members.insert(kp, block.Body.Epoch)
		}
	}
	return members
}
