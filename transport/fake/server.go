// Package fake is an in-memory stand-in for the sync API server, for
// tests that need two or more devices to actually exchange mailbox and
// document traffic over real HTTP rather than a hand-rolled mock of the
// Transport interfaces. It does no S3 integration: blob upload/download
// URLs point back at itself and are served from memory.
package fake

import (
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cipherdeck/core/chain"
	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/docsync"
	"github.com/cipherdeck/core/group"
	"github.com/cipherdeck/core/mailbox"
	"github.com/cipherdeck/core/model"
	"github.com/cipherdeck/core/transport"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

type mailboxEntry struct {
	id  string
	msg []byte // gob-encoded group.Message
}

type docRow struct {
	msg docsync.RemoteDoc
}

type blobRow struct {
	data []byte
}

// Server is a single in-process instance shared by every device under
// test; RegisterDevice and RegisterGroupMembers wire up the bits a real
// server would learn from chain verification and account resolution,
// which this double skips.
type Server struct {
	mux *chi.Mux
	srv *httptest.Server

	mu            sync.Mutex
	devicePubkey  map[model.DeviceID]cryptoprim.PublicKey
	keyPackages   map[model.DeviceID][]model.KeyPackage
	groupMembers  map[cryptoprim.Digest][]model.DeviceID
	mailboxes     map[model.DeviceID][]mailboxEntry
	seq           int
	docs          []docRow
	docCounters   map[model.DeviceID]uint64
	blobs         map[string]*blobRow
	accountChains map[model.AccountID][]chain.Block
}

// New starts a fake server listening on an ephemeral local port.
func New() *Server {
	s := &Server{
		devicePubkey:  map[model.DeviceID]cryptoprim.PublicKey{},
		keyPackages:   map[model.DeviceID][]model.KeyPackage{},
		groupMembers:  map[cryptoprim.Digest][]model.DeviceID{},
		mailboxes:     map[model.DeviceID][]mailboxEntry{},
		docCounters:   map[model.DeviceID]uint64{},
		blobs:         map[string]*blobRow{},
		accountChains: map[model.AccountID][]chain.Block{},
	}
	s.mux = chi.NewRouter()
	s.mux.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "PUT", "POST", "DELETE"}}))
	s.routes()
	s.srv = httptest.NewServer(s.mux)
	return s
}

// URL is the base URL a transport.Client should be pointed at.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the server down.
func (s *Server) Close() { s.srv.Close() }

// RegisterDevice tells the server which public key authenticates a
// device's signed requests, the part a real server learns by verifying
// a Signature Chain instead of by being told directly.
func (s *Server) RegisterDevice(id model.DeviceID, pub cryptoprim.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devicePubkey[id] = pub
}

// RegisterGroupMembers tells the server which devices belong to a group,
// so PushMailbox knows who to fan a message out to.
func (s *Server) RegisterGroupMembers(groupID cryptoprim.Digest, members []model.DeviceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupMembers[groupID] = append([]model.DeviceID(nil), members...)
}

// RegisterAccountChain stores the blocks GET account/<id>/devices returns,
// the part a real server assembles by persisting every Account/Commit
// PushMailbox body it verifies for that account's chain.
func (s *Server) RegisterAccountChain(acc model.AccountID, blocks []chain.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountChains[acc] = append([]chain.Block(nil), blocks...)
}

// DocCount returns the number of distinct documents currently pushed to
// the server, one row per document id regardless of how many versions
// of it were pushed (handleDocsPush replaces in place).
func (s *Server) DocCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func (s *Server) routes() {
	s.mux.Put("/key-package", s.authed(s.handleUploadKeyPackage))
	s.mux.Get("/mailbox", s.authed(s.handleFetchMailbox))
	s.mux.Post("/mailbox", s.authed(s.handlePushMailbox))
	s.mux.Delete("/mailbox/ack/{id}", s.authed(s.handleAckMailbox))
	s.mux.Put("/blobs/upload", s.authed(s.handleBlobUploadURL))
	s.mux.Put("/blobs/download", s.authed(s.handleBlobDownloadURL))
	s.mux.Post("/docs/list", s.authed(s.handleDocsList))
	s.mux.Post("/docs", s.authed(s.handleDocsPush))
	s.mux.Get("/account/{id}/devices", s.authed(s.handleAccountDevices))
	s.mux.Get("/device/{id}/packages", s.authed(s.handleDevicePackages))
	s.mux.Get("/docs/version/*", s.authed(s.handleDocVersion))
	s.mux.Put("/blob-data/{id}", s.handleBlobPut)
	s.mux.Get("/blob-data/{id}", s.handleBlobGet)
}

// authed wraps a handler with the device-id/timestamp/signature check
// every sync API route requires, and exposes the caller's verified
// device id to the wrapped handler.
func (s *Server) authed(h func(w http.ResponseWriter, r *http.Request, self model.DeviceID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idBytes, err := hex.DecodeString(r.Header.Get(transport.HeaderDeviceID))
		if err != nil || len(idBytes) != len(model.DeviceID{}) {
			http.Error(w, "bad device-id header", http.StatusUnauthorized)
			return
		}
		var self model.DeviceID
		copy(self[:], idBytes)

		s.mu.Lock()
		pub, ok := s.devicePubkey[self]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "unknown device", http.StatusUnauthorized)
			return
		}

		err = transport.VerifyRequest(pub, r.Header.Get(transport.HeaderTimestamp), r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get(transport.HeaderSignature))
		if err != nil {
			http.Error(w, "signature verification failed", http.StatusUnauthorized)
			return
		}
		h(w, r, self)
	}
}

func readBody(r *http.Request) []byte {
	b, _ := io.ReadAll(r.Body)
	return b
}

func writeGob(w http.ResponseWriter, v any) {
	b, err := encodeGob(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) handleUploadKeyPackage(w http.ResponseWriter, r *http.Request, self model.DeviceID) {
	var req uploadKeyPackageRequest
	if err := decodeGob(readBody(r), &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.keyPackages[self] = append(s.keyPackages[self], req.KeyPackage)
	s.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleFetchMailbox(w http.ResponseWriter, r *http.Request, self model.DeviceID) {
	s.mu.Lock()
	entries := append([]mailboxEntry(nil), s.mailboxes[self]...)
	s.mu.Unlock()

	out := make([]mailbox.InboxEntry, 0, len(entries))
	for _, e := range entries {
		var msg group.Message
		if err := decodeGob(e.msg, &msg); err != nil {
			continue
		}
		out = append(out, mailbox.InboxEntry{ID: e.id, Msg: msg})
	}
	writeGob(w, fetchMailboxResponse{Entries: out})
}

func (s *Server) handlePushMailbox(w http.ResponseWriter, r *http.Request, self model.DeviceID) {
	var req pushMailboxRequest
	if err := decodeGob(readBody(r), &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	encoded, err := encodeGob(req.Message)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	members := s.groupMembers[req.GroupID]
	for _, member := range members {
		if member == self {
			continue
		}
		s.seq++
		id := strconv.Itoa(s.seq)
		s.mailboxes[member] = append(s.mailboxes[member], mailboxEntry{id: id, msg: encoded})
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleAckMailbox(w http.ResponseWriter, r *http.Request, self model.DeviceID) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	remaining := make([]mailboxEntry, 0, len(s.mailboxes[self]))
	for _, e := range s.mailboxes[self] {
		if e.id != id {
			remaining = append(remaining, e)
		}
	}
	s.mailboxes[self] = remaining
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBlobUploadURL(w http.ResponseWriter, r *http.Request, self model.DeviceID) {
	var req blobUploadRequest
	if err := decodeGob(readBody(r), &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.blobs[req.BlobID] = &blobRow{}
	s.mu.Unlock()
	writeGob(w, blobUploadResponse{URL: s.URL() + "/blob-data/" + req.BlobID})
}

func (s *Server) handleBlobDownloadURL(w http.ResponseWriter, r *http.Request, self model.DeviceID) {
	var req blobDownloadRequest
	if err := decodeGob(readBody(r), &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	row, ok := s.blobs[req.BlobID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown blob", http.StatusNotFound)
		return
	}
	writeGob(w, blobDownloadResponse{URL: s.URL() + "/blob-data/" + req.BlobID, EncryptedLen: int64(len(row.data))})
}

func (s *Server) handleBlobPut(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data := readBody(r)
	s.mu.Lock()
	s.blobs[id] = &blobRow{data: data}
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBlobGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	row, ok := s.blobs[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown blob", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(row.data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(row.data)
}

func (s *Server) handleDocsList(w http.ResponseWriter, r *http.Request, self model.DeviceID) {
	var req docsListRequest
	if err := decodeGob(readBody(r), &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	docs := append([]docRow(nil), s.docs...)
	lastSeen := s.docCounters[self]
	s.mu.Unlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].msg.CreatedAt.Before(docs[j].msg.CreatedAt) })
	out := make([]docsync.RemoteDoc, 0, len(docs))
	for _, d := range docs {
		if len(out) >= limit {
			break
		}
		out = append(out, d.msg)
	}
	writeGob(w, docsListResponse{Docs: out, LastSeenCounter: lastSeen})
}

func (s *Server) handleAccountDevices(w http.ResponseWriter, r *http.Request, self model.DeviceID) {
	idHex := chi.URLParam(r, "id")
	idBytes, err := hex.DecodeString(idHex)
	if err != nil || len(idBytes) != len(model.AccountID{}) {
		http.Error(w, "bad account id", http.StatusBadRequest)
		return
	}
	var acc model.AccountID
	copy(acc[:], idBytes)

	s.mu.Lock()
	blocks := append([]chain.Block(nil), s.accountChains[acc]...)
	var packages []model.KeyPackage
	if len(blocks) > 0 {
		for _, dev := range chain.FromBlocks(blocks).Members().DeviceIDs() {
			packages = append(packages, s.keyPackages[dev]...)
		}
	}
	s.mu.Unlock()

	writeGob(w, accountDevicesResponse{ChainBlocks: blocks, Packages: packages})
}

func (s *Server) handleDevicePackages(w http.ResponseWriter, r *http.Request, self model.DeviceID) {
	idHex := chi.URLParam(r, "id")
	idBytes, err := hex.DecodeString(idHex)
	if err != nil || len(idBytes) != len(model.DeviceID{}) {
		http.Error(w, "bad device id", http.StatusBadRequest)
		return
	}
	var dev model.DeviceID
	copy(dev[:], idBytes)

	s.mu.Lock()
	packages := append([]model.KeyPackage(nil), s.keyPackages[dev]...)
	s.mu.Unlock()

	writeGob(w, devicePackagesResponse{Packages: packages})
}

func (s *Server) handleDocVersion(w http.ResponseWriter, r *http.Request, self model.DeviceID) {
	rest := strings.TrimPrefix(r.URL.Path, "/docs/version/")
	sep := strings.LastIndex(rest, "/")
	if sep < 0 {
		http.Error(w, "missing device id segment", http.StatusBadRequest)
		return
	}
	docID := model.DocID(rest[:sep])
	deviceHex := rest[sep+1:]
	idBytes, err := hex.DecodeString(deviceHex)
	if err != nil || len(idBytes) != len(model.DeviceID{}) {
		http.Error(w, "bad device id", http.StatusBadRequest)
		return
	}
	var dev model.DeviceID
	copy(dev[:], idBytes)

	s.mu.Lock()
	var found docsync.RemoteDoc
	for _, d := range s.docs {
		if d.msg.ID == docID && d.msg.Author == dev {
			found = d.msg
			break
		}
	}
	s.mu.Unlock()

	writeGob(w, docVersionResponse{Doc: found})
}

func (s *Server) handleDocsPush(w http.ResponseWriter, r *http.Request, self model.DeviceID) {
	var req docMessageRequest
	if err := decodeGob(readBody(r), &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg := req.Message

	remote := docsync.RemoteDoc{
		ID: msg.ID, Author: msg.Author, Counter: msg.Counter, CreatedAt: msg.CreatedAt,
		PayloadSignature: msg.PayloadSignature, Encrypted: msg.Encrypted, Deletion: msg.Deletion,
	}

	s.mu.Lock()
	s.docCounters[self] = msg.Counter
	replaced := false
	for i, d := range s.docs {
		if d.msg.ID == remote.ID {
			s.docs[i].msg = remote
			replaced = true
			break
		}
	}
	if !replaced {
		s.docs = append(s.docs, docRow{msg: remote})
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
}
