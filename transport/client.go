package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/docsync"
	"github.com/cipherdeck/core/group"
	"github.com/cipherdeck/core/mailbox"
	"github.com/cipherdeck/core/model"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// requestTimeout is the default deadline for every sync API call except
// blob transfer, which blobstore.Transfer times separately (5 min).
const requestTimeout = 30 * time.Second

// Client is a signed HTTP client for the sync API, scoped to one
// device. It implements both mailbox.Transport and docsync.Transport so
// a single instance can back both the mailbox processor and the
// document sync engine.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	self    model.DeviceID
	key     cryptoprim.SigningKey
	log     *zap.Logger
}

var (
	_ mailbox.Transport = (*Client)(nil)
	_ docsync.Transport = (*Client)(nil)
)

// New builds a Client. baseURL has no trailing slash. log may be nil.
func New(baseURL string, self model.DeviceID, key cryptoprim.SigningKey, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := retryablehttp.NewClient()
	c.Logger = nil
	c.RetryMax = 3
	return &Client{http: c, baseURL: baseURL, self: self, key: key, log: log}
}

// do signs and sends one request, gob-decoding the response body into
// out (skipped when out is nil) on a 2xx status.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var payload []byte
	if body != nil {
		var err error
		payload, err = encodeGob(body)
		if err != nil {
			return errors.Wrap(err, "encode request body")
		}
	}

	timestamp, signature := signRequest(c.key, method, path, "")

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(HeaderDeviceID, c.self.String())
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, signature)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("sync api request failed", zap.String("path", path), zap.Error(err))
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response body")
	}
	if resp.StatusCode/100 != 2 {
		c.log.Warn("sync api request rejected", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return errors.Errorf("%s %s: unexpected status %s: %s", method, path, resp.Status, string(respBody))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return decodeGob(respBody, out)
}

// UploadKeyPackage implements mailbox.Transport.
func (c *Client) UploadKeyPackage(ctx context.Context, kp model.KeyPackage) error {
	return c.do(ctx, http.MethodPut, pathKeyPackage, uploadKeyPackageRequest{KeyPackage: kp}, nil)
}

// AckMailboxMessage implements mailbox.Transport.
func (c *Client) AckMailboxMessage(ctx context.Context, id string, errTag string) error {
	return c.do(ctx, http.MethodDelete, pathMailboxAck+id, ackMailboxRequest{Error: errTag}, nil)
}

// FetchMailbox implements mailbox.Transport.
func (c *Client) FetchMailbox(ctx context.Context) ([]mailbox.InboxEntry, error) {
	var res fetchMailboxResponse
	if err := c.do(ctx, http.MethodGet, pathMailbox, nil, &res); err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// PushMailbox implements mailbox.Transport.
func (c *Client) PushMailbox(ctx context.Context, groupID cryptoprim.Digest, msg group.Message) error {
	return c.do(ctx, http.MethodPost, pathMailbox, pushMailboxRequest{GroupID: groupID, Message: msg}, nil)
}

// FetchDocs implements docsync.Transport.
func (c *Client) FetchDocs(ctx context.Context, limit int) (docsync.FetchResult, error) {
	var res docsListResponse
	if err := c.do(ctx, http.MethodPost, pathDocsList, docsListRequest{Limit: limit}, &res); err != nil {
		return docsync.FetchResult{}, err
	}
	return docsync.FetchResult{Docs: res.Docs, LastSeenCounter: res.LastSeenCounter}, nil
}

// PushDoc implements docsync.Transport.
func (c *Client) PushDoc(ctx context.Context, msg docsync.DocMessage) error {
	return c.do(ctx, http.MethodPost, pathDocs, docMessageRequest{Message: msg}, nil)
}

// BlobUploadURL implements docsync.Transport.
func (c *Client) BlobUploadURL(ctx context.Context, blobID string) (string, error) {
	var res blobUploadResponse
	if err := c.do(ctx, http.MethodPut, pathBlobUpload, blobUploadRequest{BlobID: blobID}, &res); err != nil {
		return "", err
	}
	return res.URL, nil
}

// BlobDownloadURL implements docsync.Transport.
func (c *Client) BlobDownloadURL(ctx context.Context, blobID string) (string, int64, error) {
	var res blobDownloadResponse
	if err := c.do(ctx, http.MethodPut, pathBlobDownload, blobDownloadRequest{BlobID: blobID}, &res); err != nil {
		return "", 0, err
	}
	return res.URL, res.EncryptedLen, nil
}

// AccountDevices fetches the chain and unused key packages for every
// member of an account, used to bootstrap docsync.AccountDirectory
// lookups when a chain hasn't been seen locally yet.
func (c *Client) AccountDevices(ctx context.Context, acc model.AccountID) (AccountDevicesResponse, error) {
	var res AccountDevicesResponse
	err := c.do(ctx, http.MethodGet, pathAccountDevices+acc.String()+"/devices", nil, &res)
	return res, err
}

// DevicePackages fetches every unused key package a device has offered.
func (c *Client) DevicePackages(ctx context.Context, dev model.DeviceID) ([]model.KeyPackage, error) {
	var res devicePackagesResponse
	err := c.do(ctx, http.MethodGet, pathDevicePackages+dev.String()+"/packages", nil, &res)
	return res.Packages, err
}

// DocVersion fetches a single document version as last authored by a
// specific device, used by diagnostics that need one row without
// paging through the whole fetch-docs list.
func (c *Client) DocVersion(ctx context.Context, docID model.DocID, device model.DeviceID) (docsync.RemoteDoc, error) {
	var res docVersionResponse
	err := c.do(ctx, http.MethodGet, pathDocsVersion+string(docID)+"/"+device.String(), nil, &res)
	return res.Doc, err
}

