package mailbox_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cipherdeck/core/chain"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/docstore"
	"github.com/cipherdeck/core/group"
	"github.com/cipherdeck/core/mailbox"
	"github.com/cipherdeck/core/model"
	"github.com/stretchr/testify/require"
)

type fakeHub struct {
	groups map[cryptoprim.Digest]*group.Group
}

func newFakeHub() *fakeHub { return &fakeHub{groups: map[cryptoprim.Digest]*group.Group{}} }

func (h *fakeHub) Lookup(id cryptoprim.Digest) (*group.Group, bool) {
	g, ok := h.groups[id]
	return g, ok
}
func (h *fakeHub) Save(g *group.Group) error {
	h.groups[g.ID()] = g
	return nil
}

type fakeBinding struct {
	id    model.AccountID
	bound bool
}

func (b *fakeBinding) AccountID() (model.AccountID, bool) { return b.id, b.bound }
func (b *fakeBinding) BindAccount(id model.AccountID) error {
	b.id, b.bound = id, true
	return nil
}

type fakeTransport struct {
	inbox    []mailbox.InboxEntry
	pushed   []struct {
		GroupID cryptoprim.Digest
		Msg     group.Message
	}
	acked []string
}

func (t *fakeTransport) UploadKeyPackage(ctx context.Context, kp model.KeyPackage) error { return nil }
func (t *fakeTransport) AckMailboxMessage(ctx context.Context, id string, errTag string) error {
	t.acked = append(t.acked, id)
	return nil
}
func (t *fakeTransport) FetchMailbox(ctx context.Context) ([]mailbox.InboxEntry, error) {
	entries := t.inbox
	t.inbox = nil
	return entries, nil
}
func (t *fakeTransport) PushMailbox(ctx context.Context, groupID cryptoprim.Digest, msg group.Message) error {
	t.pushed = append(t.pushed, struct {
		GroupID cryptoprim.Digest
		Msg     group.Message
	}{groupID, msg})
	return nil
}

type recordingEmitter struct {
	events []mailbox.Event
}

func (e *recordingEmitter) Emit(ev mailbox.Event) { e.events = append(e.events, ev) }

func newTestDevice(t *testing.T) (model.DeviceID, cryptoprim.SigningKey, model.KeyPackage, chain.Author) {
	t.Helper()
	key, err := cryptoprim.GenerateSigningKey()
	require.NoError(t, err)
	dev := model.DeviceIDFromPublicKey(key.Public())
	kp := chain.NewKeyPackage(dev, key.Public())
	return dev, key, kp, chain.Author{Device: dev, Key: key}
}

func newTestProcessor(t *testing.T, self model.DeviceID, selfKey cryptoprim.SigningKey, hub *fakeHub, transport *fakeTransport, binding *fakeBinding, emitter *recordingEmitter) (*mailbox.Processor, *docstore.Store) {
	t.Helper()
	store, err := mailbox.Open(filepath.Join(t.TempDir(), "mailbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	key, err := cryptoprim.NewDBKey()
	require.NoError(t, err)
	docs, err := docstore.Open(filepath.Join(t.TempDir(), "docs.db"), key)
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	return mailbox.New(store, docs, transport, hub, binding, emitter, self, selfKey, nil), docs
}

func TestSyncJoinsWelcomeAndConnectsAccount(t *testing.T) {
	_, _, aKP, aAuthor := newTestDevice(t)
	bDev, bKey, bKP, _ := newTestDevice(t)

	g, err := group.Create(aAuthor, aKP)
	require.NoError(t, err)
	msg, err := g.Add([]model.KeyPackage{bKP})
	require.NoError(t, err)
	require.NotNil(t, msg.Welcome)

	hub := newFakeHub()
	transport := &fakeTransport{inbox: []mailbox.InboxEntry{{ID: "m1", Msg: group.Message{Welcome: msg.Welcome}}}}
	binding := &fakeBinding{}
	emitter := &recordingEmitter{}
	proc, _ := newTestProcessor(t, bDev, bKey, hub, transport, binding, emitter)

	require.NoError(t, proc.Sync(context.Background()))

	require.True(t, binding.bound)
	require.Len(t, emitter.events, 1)
	require.Equal(t, mailbox.EventConnectedToAccount, emitter.events[0].Kind)
	require.Contains(t, transport.acked, "m1")

	joined, ok := hub.Lookup(g.ID())
	require.True(t, ok)
	require.Equal(t, g.Chain().Head(), joined.Chain().Head())
}

func TestSyncDedupesByMessageID(t *testing.T) {
	_, _, aKP, aAuthor := newTestDevice(t)
	bDev, bKey, bKP, _ := newTestDevice(t)

	g, err := group.Create(aAuthor, aKP)
	require.NoError(t, err)
	msg, err := g.Add([]model.KeyPackage{bKP})
	require.NoError(t, err)

	hub := newFakeHub()
	transport := &fakeTransport{}
	binding := &fakeBinding{}
	emitter := &recordingEmitter{}
	proc, _ := newTestProcessor(t, bDev, bKey, hub, transport, binding, emitter)

	transport.inbox = []mailbox.InboxEntry{{ID: "dup", Msg: group.Message{Welcome: msg.Welcome}}}
	require.NoError(t, proc.Sync(context.Background()))
	require.Len(t, emitter.events, 1)

	// Re-delivering the same id must not re-dispatch (it would otherwise
	// error: already connected to this account).
	transport.inbox = []mailbox.InboxEntry{{ID: "dup", Msg: group.Message{Welcome: msg.Welcome}}}
	require.NoError(t, proc.Sync(context.Background()))
	require.Len(t, emitter.events, 1)
}

func TestSyncAppliesAppMessageSecrets(t *testing.T) {
	_, _, aKP, aAuthor := newTestDevice(t)
	bDev, bKey, bKP, _ := newTestDevice(t)

	gA, err := group.Create(aAuthor, aKP)
	require.NoError(t, err)
	addMsg, err := gA.Add([]model.KeyPackage{bKP})
	require.NoError(t, err)

	gB, err := group.Join(nil, bDev, bKey, *addMsg.Welcome)
	require.NoError(t, err)

	docID := model.DocID("abc123")
	payload := mailbox.ControlPayload{Secrets: []mailbox.SecretEntry{{
		ID: "secret-1", Key: [32]byte{1, 2, 3}, Algorithm: "xchacha20poly1305",
		Accounts: []model.AccountID{model.AccountID(gA.ID())}, DocID: &docID,
	}}}
	raw, err := mailbox.EncodeControlPayload(payload)
	require.NoError(t, err)
	app, err := gA.EncryptMessage(raw)
	require.NoError(t, err)

	hub := newFakeHub()
	require.NoError(t, hub.Save(gB))
	transport := &fakeTransport{inbox: []mailbox.InboxEntry{{ID: "app1", Msg: group.Message{App: &app}}}}
	binding := &fakeBinding{}
	emitter := &recordingEmitter{}
	proc, docs := newTestProcessor(t, bDev, bKey, hub, transport, binding, emitter)

	require.NoError(t, proc.Sync(context.Background()))

	sec, err := docs.FindSecret("secret-1")
	require.NoError(t, err)
	require.Equal(t, [32]byte{1, 2, 3}, sec.Key)
	require.Equal(t, docID, *sec.DocID)
}
