package docsync

import (
	"path/filepath"
	"testing"

	"github.com/cipherdeck/core/blobstore"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/docstore"
	"github.com/cipherdeck/core/mailbox"
	"github.com/cipherdeck/core/model"
	"github.com/stretchr/testify/require"
)

type testRig struct {
	docs      *docstore.Store
	blobs     *blobstore.Store
	transfer  *blobstore.Transfer
	transport *fakeTransport
	groups    *fakeGroupDirectory
	accounts  *fakeAccountDirectory
	outbox    *mailbox.Store
	emitter   *recordingEmitter
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	key, err := cryptoprim.NewDBKey()
	require.NoError(t, err)
	docs, err := docstore.Open(filepath.Join(t.TempDir(), "docs.db"), key)
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	blobs, err := blobstore.Open(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	outbox, err := mailbox.Open(filepath.Join(t.TempDir(), "mailbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { outbox.Close() })

	return &testRig{
		docs: docs, blobs: blobs, transfer: blobstore.NewTransfer(nil),
		transport: &fakeTransport{}, groups: newFakeGroupDirectory(),
		accounts: newFakeAccountDirectory(), outbox: outbox, emitter: &recordingEmitter{},
	}
}

func (r *testRig) engine(self model.DeviceID, selfKey cryptoprim.SigningKey, account model.AccountID) *Engine {
	return New(r.docs, r.blobs, r.transfer, r.transport, r.groups, r.accounts, r.outbox, nil,
		self, selfKey, account, r.emitter, nil)
}

func newTestDevice(t *testing.T) (model.DeviceID, cryptoprim.SigningKey) {
	t.Helper()
	key, err := cryptoprim.GenerateSigningKey()
	require.NoError(t, err)
	return model.DeviceIDFromPublicKey(key.Public()), key
}
