package sdk

import (
	"context"
	"sync"

	"github.com/cipherdeck/core/chain"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/docsync"
	"github.com/cipherdeck/core/eventbus"
	"github.com/cipherdeck/core/group"
	"github.com/cipherdeck/core/mailbox"
	"github.com/cipherdeck/core/model"
	"github.com/cipherdeck/core/transport"
	"github.com/pkg/errors"
)

var (
	_ mailbox.Hub            = hub{}
	_ docsync.GroupDirectory = hub{}
	_ mailbox.AccountBinding = accountBinding{}
	_ docsync.AccountDirectory = accountDirectory{}
	_ eventbus.AccountViewer = accountViewer{}
)

// contactRecord is what has been learned about one contact account: its
// own device-roster chain (fetched from the server, used to resolve
// device -> account and device -> public key) and the id of the 2-party
// Secret Group shared with it, once one has been created.
type contactRecord struct {
	chain   *chain.Chain
	groupID cryptoprim.Digest
	hasGrp  bool
}

// registry holds every Secret Group this device is a member of (keyed
// by id, so a lookup by cryptoprim.Digest(accountID) finds the
// account's own root group) plus a per-contact cache of device rosters
// and shared-group ids. It underlies mailbox.Hub, mailbox.AccountBinding,
// docsync.AccountDirectory and docsync.GroupDirectory — a single shared
// table so a group joined or rekeyed by the mailbox processor is
// immediately visible to the sync engine's own group lookups, the way
// one device-roster table backs every subsystem that needs "who is
// this, and what can I encrypt to them with".
//
// Go forbids two methods of the same name with different signatures on
// one type, and mailbox.Hub's Lookup(groupID) collides with
// AccountDirectory's Lookup(device); the hub, accountDirectory,
// accountBinding and accountViewer types below are thin adapters onto
// this shared core, each exposing the one interface it backs.
type registry struct {
	mu sync.RWMutex

	self    model.DeviceID
	selfKey cryptoprim.SigningKey

	bound   bool
	account model.AccountID

	ownChain *chain.Chain
	contacts map[model.AccountID]*contactRecord
	groups   map[cryptoprim.Digest]*group.Group

	outbound  *mailbox.Store
	transport *transport.Client
}

func newRegistry(self model.DeviceID, selfKey cryptoprim.SigningKey, outbound *mailbox.Store, t *transport.Client) *registry {
	return &registry{
		self: self, selfKey: selfKey, outbound: outbound, transport: t,
		contacts: map[model.AccountID]*contactRecord{},
		groups:   map[cryptoprim.Digest]*group.Group{},
	}
}

func (r *registry) saveGroup(g *group.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.ID()] = g
	if len(g.Chain().AccountIDs()) == 0 && r.bound && g.ID() == cryptoprim.Digest(r.account) {
		r.ownChain = g.Chain()
	}
	return nil
}

func (r *registry) lookupGroup(groupID cryptoprim.Digest) (*group.Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[groupID]
	return g, ok
}

func (r *registry) accountID() (model.AccountID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.account, r.bound
}

func (r *registry) bindAccount(acc model.AccountID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bound && r.account != acc {
		return errors.New("already connected to a different account")
	}
	r.account, r.bound = acc, true
	if g, ok := r.groups[cryptoprim.Digest(acc)]; ok {
		r.ownChain = g.Chain()
	}
	return nil
}

func (r *registry) member(device model.DeviceID) (model.AccountID, chain.Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.ownChain != nil {
		if m, ok := r.ownChain.Members().ByDevice[device]; ok {
			return r.account, m, true
		}
	}
	for acc, rec := range r.contacts {
		if rec.chain == nil {
			continue
		}
		if m, ok := rec.chain.Members().ByDevice[device]; ok {
			return acc, m, true
		}
	}
	return model.AccountID{}, chain.Member{}, false
}

func (r *registry) contactList() []model.AccountID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.AccountID, 0, len(r.contacts))
	for acc, rec := range r.contacts {
		if rec.hasGrp {
			out = append(out, acc)
		}
	}
	return out
}

// groupForAccount returns the 2-party contact group shared with
// account, creating it (and fetching that account's current devices
// from the server to add as members) the first time anything is shared
// with it.
func (r *registry) groupForAccount(ctx context.Context, account model.AccountID) (*group.Group, bool, error) {
	r.mu.Lock()
	if rec, ok := r.contacts[account]; ok && rec.hasGrp {
		g := r.groups[rec.groupID]
		r.mu.Unlock()
		return g, false, nil
	}
	self, selfKey, bound, ownAccount := r.self, r.selfKey, r.bound, r.account
	r.mu.Unlock()
	if !bound {
		return nil, false, errors.New("device is not bound to an account yet")
	}

	ownKP := chain.NewKeyPackage(self, selfKey.Public())
	g, err := group.CreateForAccounts(chain.Author{Device: self, Key: selfKey}, ownKP, ownAccount, account)
	if err != nil {
		return nil, false, errors.Wrap(err, "create contact group")
	}

	res, err := r.transport.AccountDevices(ctx, account)
	if err != nil {
		return nil, false, errors.Wrap(err, "fetch contact devices")
	}

	var welcome *group.Message
	if len(res.Packages) > 0 {
		welcome, err = g.Add(res.Packages)
		if err != nil {
			return nil, false, errors.Wrap(err, "add contact devices")
		}
	}

	r.mu.Lock()
	r.groups[g.ID()] = g
	r.contacts[account] = &contactRecord{chain: chain.FromBlocks(res.ChainBlocks), groupID: g.ID(), hasGrp: true}
	r.mu.Unlock()

	if welcome != nil {
		if err := r.outbound.QueueOutbound(g.ID(), *welcome); err != nil {
			return nil, false, err
		}
	}
	return g, true, nil
}

// hub adapts registry to mailbox.Hub and docsync.GroupDirectory.
type hub struct{ r *registry }

func (h hub) Lookup(groupID cryptoprim.Digest) (*group.Group, bool) { return h.r.lookupGroup(groupID) }
func (h hub) Save(g *group.Group) error                             { return h.r.saveGroup(g) }
func (h hub) GroupForAccount(ctx context.Context, account model.AccountID) (*group.Group, bool, error) {
	return h.r.groupForAccount(ctx, account)
}

// accountBinding adapts registry to mailbox.AccountBinding.
type accountBinding struct{ r *registry }

func (b accountBinding) AccountID() (model.AccountID, bool)    { return b.r.accountID() }
func (b accountBinding) BindAccount(acc model.AccountID) error { return b.r.bindAccount(acc) }

// accountDirectory adapts registry to docsync.AccountDirectory.
type accountDirectory struct{ r *registry }

func (d accountDirectory) Lookup(device model.DeviceID) (model.AccountDevice, bool) {
	acc, m, ok := d.r.member(device)
	if !ok {
		return model.AccountDevice{}, false
	}
	return model.AccountDevice{Device: device, Account: acc, LastCounter: m.AddedAtEpoch}, true
}

func (d accountDirectory) PublicKey(device model.DeviceID) (cryptoprim.PublicKey, bool) {
	_, m, ok := d.r.member(device)
	if !ok {
		return cryptoprim.PublicKey{}, false
	}
	pub, err := cryptoprim.PublicKeyFromBytes(m.KeyPackage.PublicKey)
	if err != nil {
		return cryptoprim.PublicKey{}, false
	}
	return pub, true
}

func (d accountDirectory) Contacts() []model.AccountID { return d.r.contactList() }

// accountViewer adapts registry to eventbus.AccountViewer.
type accountViewer struct{ r *registry }

func (v accountViewer) AccountView(id model.AccountID) eventbus.AccountView {
	v.r.mu.RLock()
	defer v.r.mu.RUnlock()
	view := eventbus.AccountView{Account: id}
	if v.r.ownChain != nil && id == v.r.account {
		view.Devices = v.r.ownChain.Members().DeviceIDs()
	}
	return view
}
