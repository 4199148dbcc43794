package docsync

import (
	"context"

	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/group"
	"github.com/cipherdeck/core/mailbox"
	"github.com/cipherdeck/core/model"
)

// AccountDirectory resolves which account owns a device, that device's
// current signing public key, and the set of accounts this account has
// an active contact relationship with — all derived from account and
// contact Signature Chains the caller already tracks.
type AccountDirectory interface {
	Lookup(device model.DeviceID) (model.AccountDevice, bool)
	PublicKey(device model.DeviceID) (cryptoprim.PublicKey, bool)
	Contacts() []model.AccountID
}

// GroupDirectory resolves and creates the Secret Groups documents are
// encrypted for. It embeds mailbox.Hub so one concrete implementation
// can back both the mailbox processor's group lookups and docsync's.
type GroupDirectory interface {
	mailbox.Hub

	// GroupForAccount returns the contact group covering account,
	// creating it (and queuing its Welcome) if this is the first
	// document shared with it. created reports whether a new group was
	// produced, signaling the caller to flush the mailbox before
	// uploading anything sealed for it.
	GroupForAccount(ctx context.Context, account model.AccountID) (g *group.Group, created bool, err error)
}

// Mailbox is the subset of mailbox.Processor the engine needs in order
// to flush a freshly created group's Welcome before relying on it.
type Mailbox interface {
	Sync(ctx context.Context) error
}
