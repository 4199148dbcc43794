// Package sdk wires a device's docstore, blobstore, mailbox processor,
// document sync engine and event bus into one long-lived object scoped
// to a single local directory. It is the thing an embedding application
// opens once per process and drives via Sync/CreateAccount/Logout; every
// other package in this module only ever sees the narrow interface it
// needs.
package sdk

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/cipherdeck/core/blobstore"
	"github.com/cipherdeck/core/chain"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/docstore"
	"github.com/cipherdeck/core/docsync"
	"github.com/cipherdeck/core/eventbus"
	"github.com/cipherdeck/core/group"
	"github.com/cipherdeck/core/mailbox"
	"github.com/cipherdeck/core/model"
	"github.com/cipherdeck/core/notify"
	"github.com/cipherdeck/core/transport"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SDK is one device's view of its account: local storage plus the sync
// machinery that keeps it converged with the server and every other
// device.
type SDK struct {
	dir string
	log *zap.Logger

	self    model.DeviceID
	selfKey cryptoprim.SigningKey
	dbKey   cryptoprim.DBKey

	docs      *docstore.Store
	blobs     *blobstore.Store
	transfer  *blobstore.Transfer
	mboxStore *mailbox.Store
	transport *transport.Client

	reg  *registry
	proc *mailbox.Processor

	mu     sync.Mutex
	engine *docsync.Engine
	bus    *eventbus.Bus
	cancel context.CancelFunc
	notify *notify.Service
}

// Open opens (creating if needed) every local store under dir and wires
// them into a running SDK. The mailbox processor is ready immediately;
// the document sync engine and event bus only come up once a device is
// actually bound to an account (see ensureEngine), since the engine is
// scoped to one fixed account for its lifetime.
func Open(dir, serverURL string, log *zap.Logger) (*SDK, error) {
	if log == nil {
		log = zap.NewNop()
	}
	id, freshlyCreated, err := loadOrCreateIdentity(dir)
	if err != nil {
		return nil, errors.Wrap(err, "load device identity")
	}
	selfKey, err := cryptoprim.SigningKeyFromBytes(id.SigningKey)
	if err != nil {
		return nil, errors.Wrap(err, "decode signing key")
	}
	dbKey := cryptoprim.DBKey(id.DBKey)

	docs, err := docstore.Open(filepath.Join(dir, "docs.db"), dbKey, docstore.WithLogger(log))
	if err != nil {
		return nil, errors.Wrap(err, "open docstore")
	}
	blobs, err := blobstore.Open(filepath.Join(dir, "blobs"), blobstore.WithLogger(log))
	if err != nil {
		docs.Close()
		return nil, errors.Wrap(err, "open blobstore")
	}
	mboxStore, err := mailbox.Open(filepath.Join(dir, "mailbox.db"))
	if err != nil {
		docs.Close()
		return nil, errors.Wrap(err, "open mailbox store")
	}
	if freshlyCreated {
		kp := chain.NewKeyPackage(id.Device, selfKey.Public())
		if err := mboxStore.QueueKeyPackage(kp); err != nil {
			docs.Close()
			mboxStore.Close()
			return nil, errors.Wrap(err, "queue initial key package")
		}
	}

	client := transport.New(serverURL, id.Device, selfKey, log)
	reg := newRegistry(id.Device, selfKey, mboxStore, client)

	s := &SDK{
		dir: dir, log: log, self: id.Device, selfKey: selfKey, dbKey: dbKey,
		docs: docs, blobs: blobs, transfer: blobstore.NewTransfer(log),
		mboxStore: mboxStore, transport: client, reg: reg,
	}

	if id.Bound {
		if err := reg.bindAccount(id.Account); err != nil {
			docs.Close()
			mboxStore.Close()
			return nil, err
		}
		s.notify = notify.New(docs, id.Device, id.Account)
	}

	s.proc = mailbox.New(mboxStore, docs, client, hub{reg}, accountBinding{reg},
		mailbox.EmitterFunc(s.onMailboxEvent), id.Device, selfKey, log)

	if id.Bound {
		s.ensureEngine(id.Account)
	}

	return s, nil
}

// onMailboxEvent forwards mailbox events to the bus once it exists, and
// additionally wires up a freshly created engine/notify service the
// moment a Welcome binds this device to an account.
func (s *SDK) onMailboxEvent(ev mailbox.Event) {
	if ev.Kind == mailbox.EventConnectedToAccount {
		s.ensureEngine(ev.Account)
	}
	s.mu.Lock()
	bus := s.bus
	s.mu.Unlock()
	if bus != nil {
		bus.OnMailboxEvent(ev)
	}
}

// ensureEngine builds the document sync engine and event bus the first
// time this device is bound to an account, and is a no-op afterward.
func (s *SDK) ensureEngine(account model.AccountID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		return
	}
	if s.notify == nil {
		s.notify = notify.New(s.docs, s.self, account)
	}

	engine := docsync.New(s.docs, s.blobs, s.transfer, s.transport, hub{s.reg}, accountDirectory{s.reg},
		s.mboxStore, s.proc, s.self, s.selfKey, account, nil, s.log)
	bus := eventbus.New(engine, accountViewer{s.reg}, nil, s.log)
	engine = docsync.New(s.docs, s.blobs, s.transfer, s.transport, hub{s.reg}, accountDirectory{s.reg},
		s.mboxStore, s.proc, s.self, s.selfKey, account, docsync.EmitterFunc(bus.OnDocEvent), s.log)
	bus = eventbus.New(engine, accountViewer{s.reg}, nil, s.log)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.engine, s.bus = engine, bus
	go bus.Run(ctx)
}

// Self returns this device's id.
func (s *SDK) Self() model.DeviceID { return s.self }

// PublicKey returns this device's signing public key, the credential a
// server or contact verifies requests and chain blocks against.
func (s *SDK) PublicKey() cryptoprim.PublicKey { return s.selfKey.Public() }

// Account returns the account this device is currently bound to.
func (s *SDK) Account() (model.AccountID, bool) { return s.reg.accountID() }

// Docs exposes the local document store for read access (timeline
// queries, card rendering) that doesn't belong in this package.
func (s *SDK) Docs() *docstore.Store { return s.docs }

// Blobs exposes the local blob store for read access.
func (s *SDK) Blobs() *blobstore.Store { return s.blobs }

// Bus exposes the event bus Sync/DownloadFile/ProcessFiles run through,
// once an account is bound.
func (s *SDK) Bus() (*eventbus.Bus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus, s.bus != nil
}

// Notify returns the local-notification service, once an account is
// bound; ok is false before that, since notifications are scoped to one
// account's shared AccountNotificationsV1 document.
func (s *SDK) Notify() (*notify.Service, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notify, s.notify != nil
}

// Engine exposes the document sync engine directly, once an account is
// bound, for bin/deletion operations (MoveToBin, MoveToBinForAll,
// EmptyBin) and blob downloads that don't warrant their own SDK
// passthrough method.
func (s *SDK) Engine() (*docsync.Engine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine, s.engine != nil
}

// OwnChainBlocks returns this device's account's own Secret Group chain
// blocks, once bound: the form a sync server needs in order to resolve
// another account's current devices and key packages when a document
// is first shared with it (see transport.Client.AccountDevices).
func (s *SDK) OwnChainBlocks() ([]chain.Block, bool) {
	account, bound := s.reg.accountID()
	if !bound {
		return nil, false
	}
	g, ok := s.reg.lookupGroup(cryptoprim.Digest(account))
	if !ok {
		return nil, false
	}
	return g.Chain().Blocks(), true
}

// CreateAccount mints a brand new account rooted at this device: a
// single-account Secret Group chain with this device as its sole
// member, whose chain root becomes the account id.
func (s *SDK) CreateAccount(ctx context.Context) (model.AccountID, error) {
	if _, bound := s.reg.accountID(); bound {
		return model.AccountID{}, errors.New("device is already bound to an account")
	}

	ownKP := chain.NewKeyPackage(s.self, s.selfKey.Public())
	g, err := group.Create(chain.Author{Device: s.self, Key: s.selfKey}, ownKP)
	if err != nil {
		return model.AccountID{}, errors.Wrap(err, "create account group")
	}
	if err := s.reg.saveGroup(g); err != nil {
		return model.AccountID{}, err
	}
	account := model.AccountID(g.ID())
	if err := s.reg.bindAccount(account); err != nil {
		return model.AccountID{}, err
	}

	if err := saveIdentity(s.dir, identity{
		Device: s.self, SigningKey: s.selfKey.Bytes(), DBKey: [32]byte(s.dbKey),
		Bound: true, Account: account,
	}); err != nil {
		s.log.Warn("failed to persist account binding", zap.Error(err))
	}

	s.ensureEngine(account)

	profile := model.Document{
		ID: model.ProfileDocID(account), Schema: model.SchemaProfileV1, Author: s.self,
		Counter: 1, CreatedAt: time.Now(), EditedAt: time.Now(),
		ACL: model.NewACLSeededAdmin(account),
	}
	if err := s.docs.Save(profile); err != nil {
		return model.AccountID{}, errors.Wrap(err, "seed profile doc")
	}
	if err := s.docs.BumpDeviceCounter(s.self, 0); err != nil {
		return model.AccountID{}, err
	}

	return account, nil
}

// LinkDevice adds another device to this device's own account: it fetches
// that device's offered key packages from the server, appends an add
// block to the account's root group, and queues the resulting Welcome
// over the mailbox so the next Sync on either side delivers it. The
// other device only needs to have pushed a key package (via its own
// Sync) before this call.
func (s *SDK) LinkDevice(ctx context.Context, other model.DeviceID) error {
	account, bound := s.reg.accountID()
	if !bound {
		return errors.New("device is not bound to an account yet")
	}
	g, ok := s.reg.lookupGroup(cryptoprim.Digest(account))
	if !ok {
		return errors.New("own account group not found")
	}
	packages, err := s.transport.DevicePackages(ctx, other)
	if err != nil {
		return errors.Wrap(err, "fetch device packages")
	}
	if len(packages) == 0 {
		return errors.New("other device has not offered a key package yet")
	}

	msg, err := g.Add(packages)
	if err != nil {
		return errors.Wrap(err, "add device")
	}
	if err := s.reg.saveGroup(g); err != nil {
		return err
	}
	if msg == nil {
		return nil // device was already a member
	}
	return s.mboxStore.QueueOutbound(g.ID(), *msg)
}

// RemoveDevice removes another device from this device's own account: it
// appends a remove block to the account's root group and queues the
// resulting commit, rekeyed to a fresh secret wrapped for every
// remaining device, over the mailbox. The removed device itself, once it
// next syncs and receives the commit, sees its own membership gone and
// its mailbox processor emits EventLogOut.
func (s *SDK) RemoveDevice(ctx context.Context, other model.DeviceID) error {
	account, bound := s.reg.accountID()
	if !bound {
		return errors.New("device is not bound to an account yet")
	}
	g, ok := s.reg.lookupGroup(cryptoprim.Digest(account))
	if !ok {
		return errors.New("own account group not found")
	}

	msg, err := g.Remove([]chain.RemovedOp{{Device: other}})
	if err != nil {
		return errors.Wrap(err, "remove device")
	}
	if err := s.reg.saveGroup(g); err != nil {
		return err
	}
	if msg == nil {
		return nil // device was already not a member
	}
	return s.mboxStore.QueueOutbound(g.ID(), *msg)
}

// Sync runs one full cooperative round: the mailbox processor first (so
// any Secret Group membership change, fresh account binding or newly
// minted document secret is applied before documents are merged), then
// the document sync engine via the event bus. Sync is a no-op on the
// document side until an account is bound.
func (s *SDK) Sync(ctx context.Context) error {
	if err := s.proc.Sync(ctx); err != nil {
		return errors.Wrap(err, "mailbox sync")
	}
	bus, ok := s.Bus()
	if !ok {
		return nil
	}
	return bus.Sync(ctx)
}

// Logout drops this device's binding to its account; the device
// identity and keys survive so the same device can later bind to a
// different (or the same, re-invited) account. The engine and bus built
// for the old account are left running but will never be rebuilt for a
// new one in this process; callers that log back in should start a
// fresh SDK.
func (s *SDK) Logout() error {
	s.mu.Lock()
	s.notify = nil
	s.mu.Unlock()
	return saveIdentity(s.dir, identity{Device: s.self, SigningKey: s.selfKey.Bytes(), DBKey: [32]byte(s.dbKey)})
}

// Close stops the event bus (if running) and releases every local
// store's file handle.
func (s *SDK) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := s.mboxStore.Close(); err != nil {
		return err
	}
	return s.docs.Close()
}
