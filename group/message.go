package group

import (
	"github.com/cipherdeck/core/chain"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/model"
)

// WrappedSecret carries one epoch secret sealed to a single recipient
// device; a Welcome or a removal Commit lists one per device that needs
// the secret delivered rather than ratcheted locally.
type WrappedSecret struct {
	Recipient  model.DeviceID
	Ciphertext []byte
}

// Commit is the outbound/inbound representation of a membership-changing
// chain block: the sender's full chain (so the receiver can run
// PrepareMerge against it) plus, when the block removed a member, a fresh
// secret wrapped for every device that remains.
type Commit struct {
	ChainBlocks []chain.Block
	Wrapped     []WrappedSecret // nil when the epoch secret simply ratchets forward
}

// Welcome is broadcast to every newly added device at once: the full
// chain so each can reconstruct membership history, and the current
// secret wrapped individually per joiner, who finds its own entry by
// device id.
type Welcome struct {
	ChainBlocks []chain.Block
	Wrapped     []WrappedSecret
}

// ForDevice returns the wrapped secret addressed to device, if present.
func (w Welcome) ForDevice(device model.DeviceID) (WrappedSecret, bool) {
	for _, ws := range w.Wrapped {
		if ws.Recipient == device {
			return ws, true
		}
	}
	return WrappedSecret{}, false
}

// AppMessage is a non-handshake ciphertext plus the causal chain-hash
// pointer the recipient needs to look up the matching ratchet snapshot.
type AppMessage struct {
	GroupID    cryptoprim.Digest
	ChainHash  cryptoprim.Digest
	Sender     model.DeviceID
	Ciphertext []byte
}

// Message is the tagged union every group operation produces and Apply
// consumes: exactly one of Welcome, Commit or App is set, or none (a
// deduplicated no-op).
type Message struct {
	Welcome *Welcome
	Commit  *Commit
	App     *AppMessage
}

func (m *Message) isEmpty() bool {
	return m == nil || (m.Welcome == nil && m.Commit == nil && m.App == nil)
}
