// Package transport is the signed HTTP client for the sync API: mailbox
// key-package/message exchange, document list/push, and blob presigned
// URLs. The on-wire shape is a thin relay with no independent
// correctness requirements of its own, so request and response bodies
// are gob-encoded the same way every other store in this codebase
// serializes its rows, rather than inventing a JSON or protobuf schema
// nothing else here needs.
package transport

import (
	"bytes"
	"encoding/gob"

	"github.com/cipherdeck/core/chain"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/docsync"
	"github.com/cipherdeck/core/group"
	"github.com/cipherdeck/core/mailbox"
	"github.com/cipherdeck/core/model"
)

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// Endpoint paths, matching the sync API's listed routes.
const (
	pathKeyPackage     = "/key-package"
	pathMailbox        = "/mailbox"
	pathMailboxAck     = "/mailbox/ack/"
	pathBlobUpload     = "/blobs/upload"
	pathBlobDownload   = "/blobs/download"
	pathAccountDevices = "/account/"
	pathDevicePackages = "/device/"
	pathDocsList       = "/docs/list"
	pathDocsVersion    = "/docs/version/"
	pathDocs           = "/docs"
)

// uploadKeyPackageRequest is the PUT key-package body.
type uploadKeyPackageRequest struct {
	KeyPackage model.KeyPackage
}

// pushMailboxRequest carries exactly one of the three PushMailbox
// variants the mailbox processor ever sends to a group.
type pushMailboxRequest struct {
	GroupID cryptoprim.Digest
	Message group.Message
}

// ackMailboxRequest is the DELETE mailbox/ack/<id> body.
type ackMailboxRequest struct {
	Error string // empty means acked without error
}

// fetchMailboxResponse is the GET mailbox body for the calling device.
type fetchMailboxResponse struct {
	Entries []mailbox.InboxEntry
}

// blobUploadRequest/Response are the PUT blobs/upload exchange.
type blobUploadRequest struct {
	BlobID string
	Size   int64
}

type blobUploadResponse struct {
	URL string
}

// blobDownloadRequest/Response are the PUT blobs/download exchange.
type blobDownloadRequest struct {
	BlobID string
}

type blobDownloadResponse struct {
	URL          string
	EncryptedLen int64
}

// docsListRequest is the POST docs/list body; limit is the page size
// the caller is willing to receive.
type docsListRequest struct {
	Limit int
}

// docsListResponse mirrors docsync.FetchResult over the wire.
type docsListResponse struct {
	Docs            []docsync.RemoteDoc
	LastSeenCounter uint64
}

// docMessageRequest is the POST docs body.
type docMessageRequest struct {
	Message docsync.DocMessage
}

// AccountDevicesResponse is the GET account/<id>/devices body: the
// account's chain blocks (chain.FromBlocks reconstructs the Chain) plus
// every member device's unused key packages.
type AccountDevicesResponse struct {
	ChainBlocks []chain.Block
	Packages    []model.KeyPackage
}

// devicePackagesResponse is the GET device/<id>/packages body.
type devicePackagesResponse struct {
	Packages []model.KeyPackage
}

// docVersionResponse is the GET docs/version/<doc>/<device> body.
type docVersionResponse struct {
	Doc docsync.RemoteDoc
}
