package fake

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

// These mirror transport's own (unexported) request/response shapes
// field-for-field; gob matches structures by exported field name, not
// by package or type identity, so decoding a payload the client side
// encoded from its own private types into these works as long as the
// shapes agree.

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

type uploadKeyPackageRequest struct {
	KeyPackage model.KeyPackage
}

type pushMailboxRequest struct {
	GroupID cryptoprim.Digest
	Message group.Message
}

type fetchMailboxResponse struct {
	Entries []mailbox.InboxEntry
}

type blobUploadRequest struct {
	BlobID string
	Size   int64
}

type blobUploadResponse struct {
	URL string
}

type blobDownloadRequest struct {
	BlobID string
}

type blobDownloadResponse struct {
	URL          string
	EncryptedLen int64
}

type docsListRequest struct {
	Limit int
}

type docsListResponse struct {
	Docs            []docsync.RemoteDoc
	LastSeenCounter uint64
}

type docMessageRequest struct {
	Message docsync.DocMessage
}

type accountDevicesResponse struct {
	ChainBlocks []chain.Block
	Packages    []model.KeyPackage
}

type devicePackagesResponse struct {
	Packages []model.KeyPackage
}

type docVersionResponse struct {
	Doc docsync.RemoteDoc
}
