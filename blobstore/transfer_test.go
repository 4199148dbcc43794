package blobstore_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/cipherdeck/core/blobstore"
	"github.com/stretchr/testify/require"
)

func TestUploadSendsContentLengthAndBody(t *testing.T) {
	var gotLen int64
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLen = r.ContentLength
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := blobstore.NewTransfer(nil)
	payload := []byte("sealed-bytes")
	err := tr.Upload(context.Background(), srv.URL, bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), gotLen)
	require.Equal(t, payload, gotBody)
}

func TestDownloadRetriesOnceThenSucceeds(t *testing.T) {
	var attempts int32
	payload := []byte("recovered-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
	}))
	defer srv.Close()

	tr := blobstore.NewTransfer(nil)
	var dst bytes.Buffer
	err := tr.Download(context.Background(), srv.URL, &dst, int64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, payload, dst.Bytes())
	require.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestDownloadFailsAfterTwoAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := blobstore.NewTransfer(nil)
	var dst bytes.Buffer
	err := tr.Download(context.Background(), srv.URL, &dst, 10)
	require.Error(t, err)
}

func TestDownloadRejectsContentLengthMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "3")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("abc"))
	}))
	defer srv.Close()

	tr := blobstore.NewTransfer(nil)
	var dst bytes.Buffer
	err := tr.Download(context.Background(), srv.URL, &dst, 999)
	require.ErrorIs(t, err, blobstore.ErrContentLengthMismatch)
}
