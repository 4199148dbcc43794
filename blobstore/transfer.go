package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrContentLengthMismatch is returned when a download's Content-Length
// header disagrees with the length the caller expected.
var ErrContentLengthMismatch = errors.New("blobstore: response content-length does not match expected length")

// Transfer moves encrypted blob bytes to and from presigned URLs.
type Transfer struct {
	client *retryablehttp.Client
	log    *zap.Logger
}

// NewTransfer builds a transfer client. retryablehttp's own retry loop
// is disabled (RetryMax 0): the blob-specific retry-once-after-2s rule
// for downloads is a whole-stream restart handled explicitly in
// Download, not a single request retry, so the two must not stack.
// Each upload or download request is limited to 5 minutes.
func NewTransfer(log *zap.Logger) *Transfer {
	c := retryablehttp.NewClient()
	c.Logger = nil
	c.RetryMax = 0
	c.HTTPClient.Timeout = 5 * time.Minute
	if log == nil {
		log = zap.NewNop()
	}
	return &Transfer{client: c, log: log}
}

// Upload PUTs the sealed chunks read from src to a presigned URL,
// declaring the exact ciphertext length up front as required by
// servers that reject chunked transfer-encoding on presigned PUTs.
func (t *Transfer) Upload(ctx context.Context, url string, src io.Reader, encryptedLen int64) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, url, src)
	if err != nil {
		return errors.Wrap(err, "build upload request")
	}
	req.ContentLength = encryptedLen
	req.Header.Set("Content-Length", strconv.FormatInt(encryptedLen, 10))

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "upload blob")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("upload blob: unexpected status %s", resp.Status)
	}
	return nil
}

// Download fetches ciphertext from a presigned URL into dst, validating
// the response's Content-Length against encryptedLen. A failed attempt
// (transport error, bad status, length mismatch) is retried exactly
// once after a 2-second delay before giving up.
func (t *Transfer) Download(ctx context.Context, url string, dst io.Writer, encryptedLen int64) error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 1)

	return backoff.Retry(func() error {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "build download request"))
		}
		resp, err := t.client.Do(req)
		if err != nil {
			t.log.Warn("blob download attempt failed", zap.Error(err))
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("download blob: unexpected status %s", resp.Status)
		}
		if cl := resp.ContentLength; cl >= 0 && cl != encryptedLen {
			return ErrContentLengthMismatch
		}
		if _, err := io.Copy(dst, resp.Body); err != nil {
			return errors.Wrap(err, "read download body")
		}
		return nil
	}, policy)
}
