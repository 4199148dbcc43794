// Package mailbox runs the per-device cooperative sync round: drain
// outbound key packages, ack previously processed messages, fetch and
// dispatch the inbound mailbox, then push whatever the dispatch queued.
// It never talks to a document's CRDT body; it only routes Secret Group
// traffic to the group package and hands document secrets and removal
// suggestions off to the store.
package mailbox

import (
	"context"
	"time"

	"github.com/cipherdeck/core/chain"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/docstore"
	"github.com/cipherdeck/core/group"
	"github.com/cipherdeck/core/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// InboxEntry is one message pulled from the server's per-device mailbox.
type InboxEntry struct {
	ID  string
	Msg group.Message
}

// Transport is the subset of the sync API the processor drives.
type Transport interface {
	UploadKeyPackage(ctx context.Context, kp model.KeyPackage) error
	AckMailboxMessage(ctx context.Context, id string, errTag string) error
	FetchMailbox(ctx context.Context) ([]InboxEntry, error)
	PushMailbox(ctx context.Context, groupID cryptoprim.Digest, msg group.Message) error
}

// Hub resolves and persists Secret Group sessions by id; the mailbox
// processor never constructs a root group itself, only joins or mutates
// ones Hub already knows about.
type Hub interface {
	Lookup(groupID cryptoprim.Digest) (*group.Group, bool)
	Save(g *group.Group) error
}

// AccountBinding tracks which account (if any) this device is connected
// to, set the first time a single-account Welcome arrives.
type AccountBinding interface {
	AccountID() (model.AccountID, bool)
	BindAccount(model.AccountID) error
}

// Processor runs sync rounds for one device.
type Processor struct {
	store     *Store
	docs      *docstore.Store
	transport Transport
	hub       Hub
	binding   AccountBinding
	emitter   Emitter
	self      model.DeviceID
	selfKey   cryptoprim.SigningKey
	log       *zap.Logger

	pendingRemovals []removalSuggestion
}

type removalSuggestion struct {
	GroupID cryptoprim.Digest
	Device  model.DeviceID
}

// New builds a processor. log may be nil.
func New(store *Store, docs *docstore.Store, transport Transport, hub Hub, binding AccountBinding, emitter Emitter, self model.DeviceID, selfKey cryptoprim.SigningKey, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		store: store, docs: docs, transport: transport, hub: hub, binding: binding,
		emitter: emitter, self: self, selfKey: selfKey, log: log,
	}
}

// Sync runs one full cooperative round: push key packages, ack, fetch
// and dispatch, process deferred removal suggestions, then push
// whatever got queued.
func (p *Processor) Sync(ctx context.Context) error {
	if err := p.pushKeyPackages(ctx); err != nil {
		return errors.Wrap(err, "push key packages")
	}
	if err := p.ackMailbox(ctx); err != nil {
		return errors.Wrap(err, "ack mailbox")
	}
	if err := p.fetchMailbox(ctx); err != nil {
		return errors.Wrap(err, "fetch mailbox")
	}
	if err := p.processRemovalSuggestions(); err != nil {
		p.log.Warn("failed to act on removal suggestions", zap.Error(err))
	}
	if err := p.pushMailbox(ctx); err != nil {
		return errors.Wrap(err, "push mailbox")
	}
	return nil
}

func (p *Processor) pushKeyPackages(ctx context.Context) error {
	keys, kps, err := p.store.ListKeyPackageQueue()
	if err != nil {
		return err
	}
	for i, kp := range kps {
		if err := p.transport.UploadKeyPackage(ctx, kp); err != nil {
			return err
		}
		if err := p.store.RemoveKeyPackageQueueEntry(keys[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) ackMailbox(ctx context.Context) error {
	entries, err := p.store.ListUnacked()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := p.transport.AckMailboxMessage(ctx, e.ID, e.Error); err != nil {
			return err
		}
		if err := p.store.RemoveAck(e.ID); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) fetchMailbox(ctx context.Context) error {
	entries, err := p.transport.FetchMailbox(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		processed, err := p.store.IsProcessed(entry.ID)
		if err != nil {
			return err
		}
		errTag := ""
		if !processed {
			if dispatchErr := p.dispatch(entry.Msg); dispatchErr != nil {
				p.log.Error("failed to dispatch mailbox entry", zap.String("id", entry.ID), zap.Error(dispatchErr))
				errTag = dispatchErrorTag(entry.Msg)
			}
			if err := p.store.MarkProcessed(entry.ID, errTag); err != nil {
				return err
			}
		}
		// Ack immediately rather than waiting for the next round; a failed
		// ack here just leaves the entry for ackMailbox to retry later.
		if err := p.transport.AckMailboxMessage(ctx, entry.ID, errTag); err == nil {
			if err := p.store.RemoveAck(entry.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func dispatchErrorTag(msg group.Message) string {
	switch {
	case msg.Welcome != nil:
		return "Welcome"
	case msg.Commit != nil:
		return "Commit"
	case msg.App != nil:
		return "AppMessage"
	default:
		return "Unknown"
	}
}

func (p *Processor) dispatch(msg group.Message) error {
	switch {
	case msg.Welcome != nil:
		return p.dispatchWelcome(*msg.Welcome)
	case msg.Commit != nil:
		return p.dispatchCommit(*msg.Commit)
	case msg.App != nil:
		return p.dispatchApp(*msg.App)
	default:
		return nil
	}
}

func (p *Processor) dispatchWelcome(w group.Welcome) error {
	root := chain.FromBlocks(w.ChainBlocks).Root()
	existing, _ := p.hub.Lookup(root)

	g, err := group.Join(existing, p.self, p.selfKey, w)
	if err != nil {
		return err
	}
	if err := p.hub.Save(g); err != nil {
		return err
	}

	if len(g.Chain().AccountIDs()) > 0 {
		return nil // contact group, nothing account-level to do.
	}
	accountID := model.AccountID(g.ID())
	if bound, ok := p.binding.AccountID(); ok {
		if bound == accountID {
			// A conflict resolved back onto the account we already have; fine.
			return nil
		}
		return errors.New("already connected to a different account")
	}
	if err := p.binding.BindAccount(accountID); err != nil {
		return err
	}
	p.emitter.Emit(Event{Kind: EventConnectedToAccount, Account: accountID})
	return nil
}

func (p *Processor) dispatchCommit(c group.Commit) error {
	root := chain.FromBlocks(c.ChainBlocks).Root()
	g, ok := p.hub.Lookup(root)
	if !ok {
		return nil // unknown group: nothing to apply against.
	}

	outcome, err := g.Apply(group.Message{Commit: &c})
	if err != nil {
		return err
	}
	if outcome.Kind != group.OutcomeCommit {
		return nil
	}
	if err := p.hub.Save(outcome.Group); err != nil {
		return err
	}
	for _, out := range outcome.Outgoing {
		if err := p.store.QueueOutbound(outcome.Group.ID(), out); err != nil {
			return err
		}
	}

	selfRemoved := !outcome.Group.Chain().Members().Has(p.self)
	if selfRemoved {
		if len(outcome.Group.Chain().AccountIDs()) == 0 {
			if bound, ok := p.binding.AccountID(); ok && bound == model.AccountID(outcome.Group.ID()) {
				p.emitter.Emit(Event{Kind: EventLogOut, Account: bound})
			}
		}
		return nil
	}
	if outcome.Stats.Removed > 0 {
		return p.rotateSecrets(outcome.Group)
	}
	return nil
}

func (p *Processor) dispatchApp(app group.AppMessage) error {
	g, ok := p.hub.Lookup(app.GroupID)
	if !ok {
		return nil
	}
	outcome, err := g.Apply(group.Message{App: &app})
	if err != nil {
		return err
	}
	if outcome.Kind != group.OutcomeAppMessage {
		return nil
	}
	payload, err := DecodeControlPayload(outcome.Plaintext)
	if err != nil {
		return err
	}
	if payload.RemoveMe {
		p.pendingRemovals = append(p.pendingRemovals, removalSuggestion{GroupID: app.GroupID, Device: outcome.Sender})
		return nil
	}
	for _, entry := range payload.Secrets {
		sec := docstore.DocumentSecret{
			ID: entry.ID, Key: entry.Key, Algorithm: entry.Algorithm,
			Accounts: entry.Accounts, DocID: entry.DocID, CreatedAt: entry.createdAt(),
		}
		obsoleteAt := sec.CreatedAt.Add(30 * 24 * time.Hour)
		sec.ObsoleteAt = &obsoleteAt
		if err := p.docs.SaveSecret(sec); err != nil {
			return err
		}
	}
	return nil
}

// rotateSecrets marks obsolete every local document secret shared with
// this group's participants, the trigger fired whenever a commit
// removes a member. A single-account group rotates that account's own
// secrets; a contact group rotates both sides'.
func (p *Processor) rotateSecrets(g *group.Group) error {
	accounts := g.Chain().AccountIDs()
	if len(accounts) == 0 {
		accounts = []model.AccountID{model.AccountID(g.ID())}
	}
	now := time.Now()
	for _, acc := range accounts {
		if err := p.docs.MarkObsoleteForAccounts([]model.AccountID{acc}, now); err != nil {
			return err
		}
	}
	return nil
}

// processRemovalSuggestions acts on every RemoveMe request collected
// this round, outside the fetch loop so removing a device can't
// re-enter message dispatch mid-iteration.
func (p *Processor) processRemovalSuggestions() error {
	suggestions := p.pendingRemovals
	p.pendingRemovals = nil

	for _, s := range suggestions {
		g, ok := p.hub.Lookup(s.GroupID)
		if !ok {
			continue
		}
		if !g.Chain().Members().Has(s.Device) {
			continue
		}
		lastCounter, err := p.docs.DeviceCounter(s.Device)
		if err != nil {
			return err
		}
		msg, err := g.Remove([]chain.RemovedOp{{Device: s.Device, LastCounter: lastCounter}})
		if err != nil {
			return err
		}
		if msg == nil {
			continue
		}
		if err := p.hub.Save(g); err != nil {
			return err
		}
		if err := p.store.QueueOutbound(g.ID(), *msg); err != nil {
			return err
		}
		if err := p.rotateSecrets(g); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) pushMailbox(ctx context.Context) error {
	entries, err := p.store.ListOutboundQueue()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := p.transport.PushMailbox(ctx, e.GroupID, e.Msg); err != nil {
			return err
		}
		if err := p.store.RemoveOutboundQueueEntry(e.Key); err != nil {
			return err
		}
	}
	return nil
}
