package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/docsync"
	"github.com/cipherdeck/core/group"
	"github.com/cipherdeck/core/mailbox"
	"github.com/cipherdeck/core/model"
	"github.com/cipherdeck/core/transport"
	"github.com/cipherdeck/core/transport/fake"
	"github.com/stretchr/testify/require"
)

func newSignedDevice(t *testing.T) (model.DeviceID, cryptoprim.SigningKey) {
	t.Helper()
	key, err := cryptoprim.GenerateSigningKey()
	require.NoError(t, err)
	return model.DeviceIDFromPublicKey(key.Public()), key
}

func TestUploadKeyPackageAndDocsRoundTrip(t *testing.T) {
	srv := fake.New()
	defer srv.Close()

	dev, key := newSignedDevice(t)
	srv.RegisterDevice(dev, key.Public())
	client := transport.New(srv.URL(), dev, key, nil)

	kp := model.KeyPackage{Device: dev, PublicKey: key.Public().Bytes(), CreatedAt: time.Now()}
	require.NoError(t, client.UploadKeyPackage(context.Background(), kp))

	docID := model.DocID("doc-1")
	msg := docsync.DocMessage{
		ID: docID, Author: dev, Counter: 1, CreatedAt: time.Now(),
		ToAccountIDs: []model.AccountID{model.AccountID(cryptoprim.Hash([]byte("acct")))},
		Encrypted:    &docsync.EncryptedBody{SecretID: "sec-1", Payload: []byte("ciphertext")},
	}
	msg.PayloadSignature = cryptoprim.Sign(key, append([]byte(string(docID)), msg.Encrypted.Payload...))
	require.NoError(t, client.PushDoc(context.Background(), msg))

	res, err := client.FetchDocs(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, res.Docs, 1)
	require.Equal(t, docID, res.Docs[0].ID)
	require.Equal(t, msg.Encrypted.Payload, res.Docs[0].Encrypted.Payload)
}

func TestMailboxFanOutExcludesSender(t *testing.T) {
	srv := fake.New()
	defer srv.Close()

	devA, keyA := newSignedDevice(t)
	devB, keyB := newSignedDevice(t)
	srv.RegisterDevice(devA, keyA.Public())
	srv.RegisterDevice(devB, keyB.Public())

	groupID := cryptoprim.Hash([]byte("group-1"))
	srv.RegisterGroupMembers(groupID, []model.DeviceID{devA, devB})

	clientA := transport.New(srv.URL(), devA, keyA, nil)
	clientB := transport.New(srv.URL(), devB, keyB, nil)

	appMsg := group.Message{App: &group.AppMessage{GroupID: groupID, Sender: devA, Ciphertext: []byte("hi")}}
	require.NoError(t, clientA.PushMailbox(context.Background(), groupID, appMsg))

	entriesA, err := clientA.FetchMailbox(context.Background())
	require.NoError(t, err)
	require.Empty(t, entriesA, "sender should not receive its own push")

	entriesB, err := clientB.FetchMailbox(context.Background())
	require.NoError(t, err)
	require.Len(t, entriesB, 1)
	require.NotNil(t, entriesB[0].Msg.App)
	require.Equal(t, []byte("hi"), entriesB[0].Msg.App.Ciphertext)

	require.NoError(t, clientB.AckMailboxMessage(context.Background(), entriesB[0].ID, ""))
	entriesB2, err := clientB.FetchMailbox(context.Background())
	require.NoError(t, err)
	require.Empty(t, entriesB2)
}

func TestBlobUploadDownloadURLsRoundTrip(t *testing.T) {
	srv := fake.New()
	defer srv.Close()

	dev, key := newSignedDevice(t)
	srv.RegisterDevice(dev, key.Public())
	client := transport.New(srv.URL(), dev, key, nil)

	uploadURL, err := client.BlobUploadURL(context.Background(), "blob-1")
	require.NoError(t, err)
	require.NotEmpty(t, uploadURL)

	downloadURL, length, err := client.BlobDownloadURL(context.Background(), "blob-1")
	require.NoError(t, err)
	require.NotEmpty(t, downloadURL)
	require.Equal(t, int64(0), length)
}

func TestAccountDevicesAndDevicePackages(t *testing.T) {
	srv := fake.New()
	defer srv.Close()

	dev, key := newSignedDevice(t)
	srv.RegisterDevice(dev, key.Public())
	client := transport.New(srv.URL(), dev, key, nil)

	kp := model.KeyPackage{Device: dev, PublicKey: key.Public().Bytes(), CreatedAt: time.Now()}
	require.NoError(t, client.UploadKeyPackage(context.Background(), kp))

	account := model.AccountID(cryptoprim.Hash([]byte("acct-1")))
	srv.RegisterAccountChain(account, nil)

	packages, err := client.DevicePackages(context.Background(), dev)
	require.NoError(t, err)
	require.Len(t, packages, 1)

	res, err := client.AccountDevices(context.Background(), account)
	require.NoError(t, err)
	require.Empty(t, res.ChainBlocks)
}

func TestDocVersionLooksUpByDocAndDevice(t *testing.T) {
	srv := fake.New()
	defer srv.Close()

	dev, key := newSignedDevice(t)
	srv.RegisterDevice(dev, key.Public())
	client := transport.New(srv.URL(), dev, key, nil)

	docID := model.DocID("card-1/labels")
	msg := docsync.DocMessage{
		ID: docID, Author: dev, Counter: 1, CreatedAt: time.Now(),
		Encrypted: &docsync.EncryptedBody{SecretID: "sec-1", Payload: []byte("ciphertext")},
	}
	msg.PayloadSignature = cryptoprim.Sign(key, append([]byte(string(docID)), msg.Encrypted.Payload...))
	require.NoError(t, client.PushDoc(context.Background(), msg))

	got, err := client.DocVersion(context.Background(), docID, dev)
	require.NoError(t, err)
	require.Equal(t, docID, got.ID)
	require.Equal(t, msg.Encrypted.Payload, got.Encrypted.Payload)
}

var _ mailbox.Transport = (*transport.Client)(nil)
