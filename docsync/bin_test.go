package docsync

import (
	"testing"
	"time"

	"github.com/cipherdeck/core/crdt"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/model"
	"github.com/stretchr/testify/require"
)

func TestMoveToBinSetsLabel(t *testing.T) {
	rig := newTestRig(t)
	selfDev, selfKey := newTestDevice(t)
	account := model.AccountID(cryptoprim.Hash([]byte("me")))
	engine := rig.engine(selfDev, selfKey, account)

	card := model.DocID("card-1")
	require.NoError(t, engine.MoveToBin(card))

	labels, err := rig.docs.Find(model.LabelsDocID(card))
	require.NoError(t, err)

	var st crdt.MapState
	require.NoError(t, decodeGob(labels.Body, &st))
	entry, ok := st.Fields[model.BinLabelID]
	require.True(t, ok)
	require.Equal(t, binFlagSet, entry.Value)
}

func TestEmptyBinDeletesOldBinnedCards(t *testing.T) {
	rig := newTestRig(t)
	selfDev, selfKey := newTestDevice(t)
	account := model.AccountID(cryptoprim.Hash([]byte("me")))
	engine := rig.engine(selfDev, selfKey, account)

	binnedAt := time.Now().Add(-40 * 24 * time.Hour)
	card := model.Document{
		ID: model.DocID("card-old"), Schema: model.SchemaCardV1, Author: selfDev, Counter: 1,
		CreatedAt: binnedAt, EditedAt: binnedAt,
		ACL: model.ACL{Mode: model.ACLModeNormal, Grants: map[model.AccountID]model.Right{account: model.RightAdmin}, BinnedAt: &binnedAt},
	}
	require.NoError(t, rig.docs.Save(card))

	require.NoError(t, engine.EmptyBin())

	_, err := rig.docs.Find(card.ID)
	require.Error(t, err)

	keys, items, err := rig.docs.ListPushQueue()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, card.ID, items[0].DocID)
}

func TestEmptyBinKeepsRecentlyBinnedCards(t *testing.T) {
	rig := newTestRig(t)
	selfDev, selfKey := newTestDevice(t)
	account := model.AccountID(cryptoprim.Hash([]byte("me")))
	engine := rig.engine(selfDev, selfKey, account)

	binnedAt := time.Now().Add(-time.Hour)
	card := model.Document{
		ID: model.DocID("card-recent"), Schema: model.SchemaCardV1, Author: selfDev, Counter: 1,
		CreatedAt: binnedAt, EditedAt: binnedAt,
		ACL: model.ACL{Mode: model.ACLModeNormal, Grants: map[model.AccountID]model.Right{account: model.RightAdmin}, BinnedAt: &binnedAt},
	}
	require.NoError(t, rig.docs.Save(card))

	require.NoError(t, engine.EmptyBin())

	_, err := rig.docs.Find(card.ID)
	require.NoError(t, err)
}
