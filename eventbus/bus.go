// Package eventbus is the single cooperative scheduler every
// state-mutating operation funnels through: one background goroutine
// drains a bounded command channel (Sync, DownloadFile, ProcessFiles)
// serially, with a small fixed-size worker pool reserved for the blob
// I/O a download needs so one slow transfer can't stall the next
// command. It also fans the lower-level mailbox/docsync event streams
// out into the single enumerated Event catalog the embedding
// application sees.
package eventbus

import (
	"context"
	"sync"

	"github.com/cipherdeck/core/docsync"
	"github.com/cipherdeck/core/mailbox"
	"github.com/cipherdeck/core/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// commandQueueSize bounds how many pending commands may queue up before
// a call that submits one (Sync, SyncAsync, DownloadFile, ProcessFiles)
// blocks; generous enough that a burst of DownloadFile
// requests from the UI doesn't stall, small enough that a wedged
// consumer is visible quickly.
const commandQueueSize = 64

// downloadWorkers is the fixed-size pool blob downloads run on.
const downloadWorkers = 4

// AccountViewer resolves the account projection carried by
// ConnectedToAccount/AccUpdated events. Bus falls back to a bare
// AccountView{Account: id} if none is configured.
type AccountViewer interface {
	AccountView(id model.AccountID) AccountView
}

// FileProcessor does whatever derived-file work a card's attachments
// need (e.g. thumbnailing) before ProcessFiles reports done. A nil
// FileProcessor makes ProcessFiles a no-op that replies immediately.
type FileProcessor interface {
	ProcessFiles(ctx context.Context, card model.DocID) error
}

// Bus is the command loop. Construct with New, start it with Run in its
// own goroutine, and stop it by cancelling the context passed to Run.
type Bus struct {
	cmds   chan any
	engine *docsync.Engine
	viewer AccountViewer
	proc   FileProcessor
	log    *zap.Logger

	mu          sync.Mutex
	subscribers []Emitter

	syncGroup singleflight.Group
	downloads errgroup.Group
}

// New builds a Bus bound to engine for Sync/DownloadFile. viewer and
// proc may be nil; log defaults to a no-op logger.
func New(engine *docsync.Engine, viewer AccountViewer, proc FileProcessor, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{
		cmds:   make(chan any, commandQueueSize),
		engine: engine,
		viewer: viewer,
		proc:   proc,
		log:    log,
	}
	b.downloads.SetLimit(downloadWorkers)
	return b
}

// Subscribe registers e to receive every future outbound Event.
func (b *Bus) Subscribe(e Emitter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, e)
}

func (b *Bus) emit(ev Event) {
	b.mu.Lock()
	subs := append([]Emitter(nil), b.subscribers...)
	b.mu.Unlock()
	for _, s := range subs {
		s.Emit(ev)
	}
}

func (b *Bus) view(id model.AccountID) *AccountView {
	if b.viewer == nil {
		return &AccountView{Account: id}
	}
	v := b.viewer.AccountView(id)
	return &v
}

// OnMailboxEvent adapts a mailbox.Event into the outbound Event stream;
// pass this as the mailbox.Emitter handed to mailbox.Processor.
func (b *Bus) OnMailboxEvent(ev mailbox.Event) {
	switch ev.Kind {
	case mailbox.EventConnectedToAccount:
		b.emit(Event{Kind: EventConnectedToAccount, View: b.view(ev.Account)})
	case mailbox.EventAccUpdated:
		b.emit(Event{Kind: EventAccUpdated, View: b.view(ev.Account)})
	case mailbox.EventLogOut:
		b.emit(Event{Kind: EventLogOut})
	}
}

// OnDocEvent adapts a docsync.Event into the outbound Event stream; pass
// this as the docsync.Emitter handed to docsync.New.
func (b *Bus) OnDocEvent(ev docsync.Event) {
	switch ev.Kind {
	case docsync.EventAccountUpdated:
		b.emit(Event{Kind: EventAccUpdated})
	case docsync.EventNotificationsUpdated:
		b.emit(Event{Kind: EventNotificationsUpdated})
	default:
		b.emit(Event{Kind: EventDocUpdated, Doc: ev.Doc})
	}
}

// Run drains commands until ctx is cancelled. It is meant to run in its
// own long-lived goroutine for the lifetime of one signed-in session.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = b.downloads.Wait()
			return
		case cmd := <-b.cmds:
			b.dispatch(ctx, cmd)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, cmd any) {
	switch c := cmd.(type) {
	case syncCmd:
		b.runSync(ctx, c)
	case downloadFileCmd:
		b.runDownload(ctx, c)
	case processFilesCmd:
		b.runProcessFiles(ctx, c)
	}
}

func (b *Bus) runSync(ctx context.Context, cmd syncCmd) {
	err := b.engine.Sync(ctx)
	if err != nil {
		b.log.Warn("sync round failed", zap.Error(err))
		b.emit(Event{Kind: EventSyncFailed, Err: err})
	} else {
		b.emit(Event{Kind: EventSynced})
		b.emit(Event{Kind: EventTimelineUpdated})
	}
	if cmd.reply != nil {
		cmd.reply <- err
	}
}

// runDownload hands the transfer to the bounded worker pool so the
// command loop can keep draining Sync/ProcessFiles requests while
// several downloads are in flight.
func (b *Bus) runDownload(ctx context.Context, cmd downloadFileCmd) {
	b.downloads.Go(func() error {
		blob, err := b.engine.DownloadBlob(ctx, cmd.ref, cmd.docID, cmd.originalName)
		if err != nil {
			b.emit(Event{Kind: EventDownloadFailed, BlobID: cmd.ref.BlobID})
		} else {
			b.emit(Event{Kind: EventDownloadCompleted, BlobID: blob.ID, Path: blob.Path})
		}
		if cmd.reply != nil {
			cmd.reply <- downloadResult{blob: blob, err: err}
		}
		return nil
	})
}

func (b *Bus) runProcessFiles(ctx context.Context, cmd processFilesCmd) {
	var err error
	if b.proc != nil {
		err = b.proc.ProcessFiles(ctx, cmd.card)
	}
	if cmd.reply != nil {
		cmd.reply <- err
	}
}

// Sync submits a Sync command and waits for the round to finish.
// Concurrent callers share a single in-flight round: a Sync already
// running when a second caller arrives is awaited rather than repeated.
func (b *Bus) Sync(ctx context.Context) error {
	_, err, _ := b.syncGroup.Do("sync", func() (any, error) {
		reply := make(chan error, 1)
		select {
		case b.cmds <- syncCmd{reply: reply}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		select {
		case err := <-reply:
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	return err
}

// SyncAsync submits a Sync command without waiting for it to finish;
// its outcome only surfaces as a Synced/SyncFailed event.
func (b *Bus) SyncAsync(ctx context.Context) {
	select {
	case b.cmds <- syncCmd{}:
	case <-ctx.Done():
	}
}

// DownloadFile submits a blob download and waits for it to complete.
func (b *Bus) DownloadFile(ctx context.Context, ref docsync.BlobRef, docID model.DocID, originalName string) (model.Blob, error) {
	reply := make(chan downloadResult, 1)
	select {
	case b.cmds <- downloadFileCmd{ref: ref, docID: docID, originalName: originalName, reply: reply}:
	case <-ctx.Done():
		return model.Blob{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.blob, res.err
	case <-ctx.Done():
		return model.Blob{}, ctx.Err()
	}
}

// ProcessFiles submits a ProcessFiles command and waits for the file
// processor hook to finish. Callers that want a follow-up sync (the way
// closing a card schedules thumbnail generation then a sync) issue it
// themselves once ProcessFiles returns, mirroring how the two are
// separate commands on the wire.
func (b *Bus) ProcessFiles(ctx context.Context, card model.DocID) error {
	reply := make(chan error, 1)
	select {
	case b.cmds <- processFilesCmd{card: card, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
