package docsync

import (
	"context"
	"sort"
	"time"

	"github.com/cipherdeck/core/blobstore"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/docstore"
	"github.com/cipherdeck/core/mailbox"
	"github.com/cipherdeck/core/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// fetchLimit is the page size requested per round; fewer than this
// coming back signals the server's backlog is drained.
const fetchLimit = 100

// maxRounds bounds how many fetch/upload rounds one Sync call runs, a
// backstop against a push/pull feedback loop never converging.
const maxRounds = 20

// binRetention is how long a card stays in the bin before EmptyBin
// permanently deletes it.
const binRetention = 30 * 24 * time.Hour

// EventKind tags a high-level change worth telling the rest of the app
// about, emitted once a round's "process fetched" queue drains.
type EventKind int

const (
	EventAccountUpdated EventKind = iota
	EventNotificationsUpdated
	EventDocUpdated
)

// Event is one document update surfaced after a sync round.
type Event struct {
	Kind EventKind
	Doc  model.DocID
}

// Emitter receives Events in schema-priority order.
type Emitter interface{ Emit(Event) }

// EmitterFunc adapts a plain function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

type fetchedDoc struct {
	id       model.DocID
	schema   model.Schema
	priority int
}

// Engine runs document sync rounds for one device of one account.
type Engine struct {
	docs      *docstore.Store
	blobs     *blobstore.Store
	transfer  *blobstore.Transfer
	transport Transport
	groups    GroupDirectory
	accounts  AccountDirectory
	outbox    *mailbox.Store
	mbox      Mailbox
	self      model.DeviceID
	selfKey   cryptoprim.SigningKey
	account   model.AccountID
	emitter   Emitter
	log       *zap.Logger

	fetched []fetchedDoc
}

// New builds an Engine. mbox may be nil if the caller never expects a
// new Secret Group to be created mid-upload (e.g. tests with a fixed
// contact set); log and emitter default to no-ops.
func New(
	docs *docstore.Store,
	blobs *blobstore.Store,
	transfer *blobstore.Transfer,
	transport Transport,
	groups GroupDirectory,
	accounts AccountDirectory,
	outbox *mailbox.Store,
	mbox Mailbox,
	self model.DeviceID,
	selfKey cryptoprim.SigningKey,
	account model.AccountID,
	emitter Emitter,
	log *zap.Logger,
) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if emitter == nil {
		emitter = EmitterFunc(func(Event) {})
	}
	return &Engine{
		docs: docs, blobs: blobs, transfer: transfer, transport: transport,
		groups: groups, accounts: accounts, outbox: outbox, mbox: mbox,
		self: self, selfKey: selfKey, account: account, emitter: emitter, log: log,
	}
}

// Sync runs fetch/merge, upload, push-queue-drain rounds until the
// server's backlog is exhausted or maxRounds is reached, then retries
// any deferred merge whose retry window elapsed and emits queued events
// in priority order.
func (e *Engine) Sync(ctx context.Context) error {
	for round := 0; round < maxRounds; round++ {
		res, err := e.transport.FetchDocs(ctx, fetchLimit)
		if err != nil {
			return errors.Wrap(err, "fetch docs")
		}
		for _, rd := range res.Docs {
			if rd.Author == e.self {
				continue
			}
			if err := e.docs.BumpDeviceCounter(rd.Author, rd.Counter); err != nil {
				return err
			}
			if err := e.mergeRemote(rd); err != nil {
				e.log.Error("merge remote doc failed", zap.String("doc", string(rd.ID)), zap.Error(err))
			}
		}

		if err := e.uploadPending(ctx); err != nil {
			return err
		}
		if err := e.drainPushQueue(ctx); err != nil {
			return err
		}

		if len(res.Docs) < fetchLimit {
			break
		}
	}

	if err := e.retryDeferred(ctx); err != nil {
		return err
	}

	e.emitFetched()
	return nil
}

func (e *Engine) uploadPending(ctx context.Context) error {
	lastSeen, err := e.docs.DeviceCounter(e.self)
	if err != nil {
		return err
	}
	pending, err := e.docs.FindLocalAfter(e.self, lastSeen)
	if err != nil {
		return err
	}
	for _, doc := range pending {
		if err := e.uploadEncryptedDoc(ctx, doc); err != nil {
			e.log.Error("upload doc failed", zap.String("doc", string(doc.ID)), zap.Error(err))
			continue
		}
		if err := e.docs.BumpDeviceCounter(e.self, doc.Counter); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) drainPushQueue(ctx context.Context) error {
	keys, items, err := e.docs.ListPushQueue()
	if err != nil {
		return err
	}
	for i, item := range items {
		var qp queuedDocPush
		if err := decodeGob(item.Ciphertext, &qp); err != nil {
			return err
		}

		counter, err := e.docs.DeviceCounter(e.self)
		if err != nil {
			return err
		}
		counter++

		msg := DocMessage{ID: item.DocID, Author: e.self, Counter: counter, CreatedAt: time.Now(), ToAccountIDs: qp.ToAccounts}
		if qp.Deletion != nil {
			msg.Deletion = qp.Deletion
			msg.PayloadSignature = cryptoprim.Sign(e.selfKey, msg.signedBytesOutbound())
		} else {
			sec, _, err := e.docs.GetSecretForAccounts(qp.ToAccounts, time.Now())
			if err != nil {
				return err
			}
			wire := docPayload{Schema: qp.Schema, ACL: qp.ACL, EditedAt: qp.EditedAt}
			plain, err := encodeGob(wire)
			if err != nil {
				return err
			}
			ciphertext, err := cryptoprim.Seal([32]byte(sec.Key), plain, []byte(item.DocID))
			if err != nil {
				return err
			}
			msg.Encrypted = &EncryptedBody{SecretID: sec.ID, Payload: ciphertext}
			msg.PayloadSignature = cryptoprim.Sign(e.selfKey, msg.signedBytesOutbound())
		}

		if err := e.transport.PushDoc(ctx, msg); err != nil {
			e.log.Warn("push queued doc failed", zap.Error(err))
			continue
		}
		if err := e.docs.BumpDeviceCounter(e.self, counter); err != nil {
			return err
		}
		if err := e.docs.RemovePushQueueEntry(keys[i]); err != nil {
			return err
		}
	}
	return nil
}

// signedBytesOutbound mirrors RemoteDoc.signedBytes for a message this
// device is producing rather than verifying.
func (m DocMessage) signedBytesOutbound() []byte {
	if m.Deletion != nil {
		return []byte(string(m.ID) + "," + m.Deletion.DeletedAt.Format(time.RFC3339Nano))
	}
	return append([]byte(string(m.ID)), m.Encrypted.Payload...)
}

func (e *Engine) retryDeferred(ctx context.Context) error {
	_ = ctx
	pending, err := e.docs.ListPendingRetries(time.Now())
	if err != nil {
		return err
	}
	for _, p := range pending {
		var remote RemoteDoc
		if err := decodeGob(p.Payload, &remote); err != nil {
			e.log.Error("corrupt retry payload", zap.String("doc", string(p.DocID)), zap.Error(err))
			continue
		}
		if err := e.mergeRemote(remote); err != nil {
			e.log.Error("retry merge failed", zap.String("doc", string(p.DocID)), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) emitFetched() {
	sort.Slice(e.fetched, func(i, j int) bool { return e.fetched[i].priority < e.fetched[j].priority })
	for _, f := range e.fetched {
		e.emitter.Emit(Event{Kind: eventKindFor(f.schema), Doc: f.id})
	}
	e.fetched = nil
}

func eventKindFor(schema model.Schema) EventKind {
	switch schema {
	case model.SchemaAccountV1:
		return EventAccountUpdated
	case model.SchemaAccountNotificationsV1:
		return EventNotificationsUpdated
	default:
		return EventDocUpdated
	}
}
