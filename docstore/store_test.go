package docstore_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/docstore"
	"github.com/cipherdeck/core/model"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *docstore.Store {
	t.Helper()
	key, err := cryptoprim.NewDBKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := docstore.Open(path, key)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveFindRoundTrip(t *testing.T) {
	s := openTestStore(t)
	doc := model.Document{
		ID: "card-1", Schema: model.SchemaCardV1, Counter: 1,
		CreatedAt: time.Now(), EditedAt: time.Now(),
		Body: []byte("crdt-state"), ACL: model.NewACLSeededAdmin(model.AccountID{1}),
	}
	require.NoError(t, s.Save(doc))

	got, err := s.Find("card-1")
	require.NoError(t, err)
	require.Equal(t, doc.Body, got.Body)
	require.True(t, got.ACL.Has(model.AccountID{1}, model.RightAdmin))

	_, err = s.Find("missing")
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestFindLocalAfterOrdersByCounter(t *testing.T) {
	s := openTestStore(t)
	dev := model.DeviceID{9}
	for _, c := range []uint64{3, 1, 2} {
		id := model.DocID(string(rune(int('a') + int(c))))
		require.NoError(t, s.Save(model.Document{ID: id, Author: dev, Counter: c}))
	}
	require.NoError(t, s.Save(model.Document{ID: "other-device", Author: model.DeviceID{8}, Counter: 5}))

	docs, err := s.FindLocalAfter(dev, 1)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, uint64(2), docs[0].Counter)
	require.Equal(t, uint64(3), docs[1].Counter)
}

func TestGetSecretForAccountsCreatesThenReuses(t *testing.T) {
	s := openTestStore(t)
	accounts := []model.AccountID{{1}, {2}}
	now := time.Now()

	sec, isNew, err := s.GetSecretForAccounts(accounts, now)
	require.NoError(t, err)
	require.True(t, isNew)

	again, isNew2, err := s.GetSecretForAccounts(accounts, now.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, isNew2)
	require.Equal(t, sec.ID, again.ID)
	require.Equal(t, sec.Key, again.Key)
}

func TestMarkObsoleteForAccountsForcesRotation(t *testing.T) {
	s := openTestStore(t)
	accounts := []model.AccountID{{3}, {4}}
	now := time.Now()

	sec, _, err := s.GetSecretForAccounts(accounts, now)
	require.NoError(t, err)

	require.NoError(t, s.MarkObsoleteForAccounts(accounts, now.Add(time.Hour)))

	next, isNew, err := s.GetSecretForAccounts(accounts, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.True(t, isNew)
	require.NotEqual(t, sec.ID, next.ID)
}

func TestPushQueueFIFO(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.QueueDocPush(docstore.QueuedPush{DocID: "a"}))
	require.NoError(t, s.QueueDocPush(docstore.QueuedPush{DocID: "b"}))

	keys, items, err := s.ListPushQueue()
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, model.DocID("a"), items[0].DocID)

	require.NoError(t, s.RemovePushQueueEntry(keys[0]))
	_, items, err = s.ListPushQueue()
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, model.DocID("b"), items[0].DocID)
}
