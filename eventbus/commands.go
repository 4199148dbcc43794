package eventbus

import (
	"github.com/cipherdeck/core/docsync"
	"github.com/cipherdeck/core/model"
)

// syncCmd requests one docsync round. reply is optional: SyncAsync,
// which only fires and forgets a sync, leaves it nil.
type syncCmd struct {
	reply chan error
}

// downloadFileCmd requests one blob be fetched and decrypted into the
// local blob store.
type downloadFileCmd struct {
	ref          docsync.BlobRef
	docID        model.DocID
	originalName string
	reply        chan downloadResult
}

type downloadResult struct {
	blob model.Blob
	err  error
}

// processFilesCmd asks the file processor hook to finish whatever
// derived-file work (e.g. thumbnailing) a card's attachments need before
// the card is next uploaded.
type processFilesCmd struct {
	card  model.DocID
	reply chan error
}
