package notify_test

import (
	"path/filepath"
	"testing"

	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/docstore"
	"github.com/cipherdeck/core/model"
	"github.com/cipherdeck/core/notify"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *docstore.Store {
	t.Helper()
	key, err := cryptoprim.NewDBKey()
	require.NoError(t, err)
	s, err := docstore.Open(filepath.Join(t.TempDir(), "docs.db"), key)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateIfNewThenAcceptPromotesToSharedDoc(t *testing.T) {
	docs := openTestStore(t)
	selfKey, err := cryptoprim.GenerateSigningKey()
	require.NoError(t, err)
	self := model.DeviceIDFromPublicKey(selfKey.Public())
	account := model.AccountID(cryptoprim.Hash([]byte("acct")))

	svc := notify.New(docs, self, account)
	payload := []byte("contact-account-id")

	inserted, err := svc.CreateIfNew(model.NotificationContactRequest, payload)
	require.NoError(t, err)
	require.True(t, inserted)

	again, err := svc.CreateIfNew(model.NotificationContactRequest, payload)
	require.NoError(t, err)
	require.False(t, again)

	list, err := svc.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	id := list[0].ID

	status, err := svc.Status(id)
	require.NoError(t, err)
	require.Equal(t, model.NotificationMissing, status)

	require.NoError(t, svc.Accept(id))

	status, err = svc.Status(id)
	require.NoError(t, err)
	require.Equal(t, model.NotificationAccepted, status)

	list, err = svc.List()
	require.NoError(t, err)
	require.Empty(t, list)

	// A second raise of the same notification is now a no-op: some
	// device already decided it.
	inserted, err = svc.CreateIfNew(model.NotificationContactRequest, payload)
	require.NoError(t, err)
	require.False(t, inserted)
}

func TestIDForIsDeterministic(t *testing.T) {
	a := notify.IDFor(model.NotificationCardShare, []byte("doc-1"))
	b := notify.IDFor(model.NotificationCardShare, []byte("doc-1"))
	c := notify.IDFor(model.NotificationCardShare, []byte("doc-2"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
