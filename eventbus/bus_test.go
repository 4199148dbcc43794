package eventbus_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cipherdeck/core/blobstore"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/docstore"
	"github.com/cipherdeck/core/docsync"
	"github.com/cipherdeck/core/eventbus"
	"github.com/cipherdeck/core/mailbox"
	"github.com/cipherdeck/core/model"
	"github.com/stretchr/testify/require"
)

type collectingEmitter struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (c *collectingEmitter) Emit(e eventbus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collectingEmitter) kinds() []eventbus.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]eventbus.EventKind, len(c.events))
	for i, e := range c.events {
		out[i] = e.Kind
	}
	return out
}

type noopTransport struct{}

func (noopTransport) FetchDocs(ctx context.Context, limit int) (docsync.FetchResult, error) {
	return docsync.FetchResult{}, nil
}
func (noopTransport) PushDoc(ctx context.Context, msg docsync.DocMessage) error { return nil }
func (noopTransport) BlobUploadURL(ctx context.Context, blobID string) (string, error) {
	return "", nil
}
func (noopTransport) BlobDownloadURL(ctx context.Context, blobID string) (string, int64, error) {
	return "", 0, nil
}

func newTestEngine(t *testing.T) *docsync.Engine {
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

	signKey, err := cryptoprim.GenerateSigningKey()
	require.NoError(t, err)
	self := model.DeviceIDFromPublicKey(signKey.Public())
	account := model.AccountID(cryptoprim.Hash([]byte("acct")))

	return docsync.New(docs, blobs, blobstore.NewTransfer(nil), noopTransport{}, nil, nil, outbox, nil,
		self, signKey, account, nil, nil)
}

func TestSyncEmitsSyncedAndTimelineUpdated(t *testing.T) {
	engine := newTestEngine(t)
	bus := eventbus.New(engine, nil, nil, nil)
	collector := &collectingEmitter{}
	bus.Subscribe(collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	require.NoError(t, bus.Sync(ctx))

	require.Eventually(t, func() bool { return len(collector.kinds()) >= 2 }, time.Second, 5*time.Millisecond)
	require.Contains(t, collector.kinds(), eventbus.EventSynced)
	require.Contains(t, collector.kinds(), eventbus.EventTimelineUpdated)
}

func TestConcurrentSyncCallsCoalesce(t *testing.T) {
	engine := newTestEngine(t)
	bus := eventbus.New(engine, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = bus.Sync(ctx)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestOnMailboxEventConnectedToAccount(t *testing.T) {
	engine := newTestEngine(t)
	bus := eventbus.New(engine, nil, nil, nil)
	collector := &collectingEmitter{}
	bus.Subscribe(collector)

	account := model.AccountID(cryptoprim.Hash([]byte("acct")))
	bus.OnMailboxEvent(mailbox.Event{Kind: mailbox.EventConnectedToAccount, Account: account})

	require.Equal(t, []eventbus.EventKind{eventbus.EventConnectedToAccount}, collector.kinds())
	require.Equal(t, account, collector.events[0].View.Account)
}
