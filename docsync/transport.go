package docsync

import "context"

// FetchResult is one page of remote document updates.
type FetchResult struct {
	Docs            []RemoteDoc
	LastSeenCounter uint64
}

// Transport is the subset of the sync API the engine drives.
type Transport interface {
	FetchDocs(ctx context.Context, limit int) (FetchResult, error)
	PushDoc(ctx context.Context, msg DocMessage) error

	// BlobUploadURL returns a presigned URL to PUT a blob's sealed bytes to.
	BlobUploadURL(ctx context.Context, blobID string) (string, error)
	// BlobDownloadURL returns a presigned URL to GET a blob's sealed bytes
	// from, plus the exact ciphertext length to validate against.
	BlobDownloadURL(ctx context.Context, blobID string) (url string, encryptedLen int64, err error)
}
