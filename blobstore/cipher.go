package blobstore

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// ChunkSize is the plaintext frame size for streaming encryption; every
// frame but the last is exactly this size.
const ChunkSize = 64 * 1024

// EncryptedLength is the exact ciphertext length for a plaintext of
// plainLen bytes: one 16-byte authentication tag per chunk, no other
// framing overhead, so it can be sent as Content-Length before the
// upload body is known to the transport.
func EncryptedLength(plainLen int64) int64 {
	chunks := (plainLen + ChunkSize - 1) / ChunkSize
	if plainLen == 0 {
		chunks = 1 // a single empty authenticated chunk, so 0-byte files still round-trip.
	}
	return plainLen + chunks*int64(chacha20poly1305.Overhead)
}

// chunkNonce derives the per-chunk nonce from its index alone. This is
// safe only because every blob is encrypted under a key used for
// exactly one blob, making the (key, index) pair globally unique —
// the same counter-nonce construction record layers use.
func chunkNonce(index uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], index)
	return nonce
}

// SealStream reads src in ChunkSize frames and writes each one's sealed
// ciphertext to dst, returning the plaintext length it consumed.
func SealStream(dst io.Writer, src io.Reader, key [32]byte) (int64, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return 0, errors.Wrap(err, "new aead")
	}

	buf := make([]byte, ChunkSize)
	var plainLen int64
	var index uint64
	for {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			sealed := aead.Seal(nil, chunkNonce(index), buf[:n], nil)
			if _, err := dst.Write(sealed); err != nil {
				return plainLen, errors.Wrap(err, "write sealed chunk")
			}
			plainLen += int64(n)
			index++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return plainLen, errors.Wrap(readErr, "read plaintext chunk")
		}
	}
	if index == 0 {
		// Empty input still produces one authenticated empty chunk so the
		// ciphertext length formula and the decoder agree on framing.
		sealed := aead.Seal(nil, chunkNonce(0), nil, nil)
		if _, err := dst.Write(sealed); err != nil {
			return 0, errors.Wrap(err, "write empty chunk")
		}
	}
	return plainLen, nil
}

// ErrDecrypt is returned when a chunk fails authentication: a corrupt
// download or a wrong key, the two are indistinguishable from here.
var ErrDecrypt = errors.New("blobstore: chunk failed authentication")

// OpenStream reverses SealStream: reads sealed chunks of exactly
// ChunkSize+Overhead bytes (the last may be shorter) and writes the
// recovered plaintext to dst.
func OpenStream(dst io.Writer, src io.Reader, key [32]byte) error {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return errors.Wrap(err, "new aead")
	}

	sealedChunk := ChunkSize + chacha20poly1305.Overhead
	buf := make([]byte, sealedChunk)
	var index uint64
	for {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			plain, err := aead.Open(nil, chunkNonce(index), buf[:n], nil)
			if err != nil {
				return ErrDecrypt
			}
			if _, err := dst.Write(plain); err != nil {
				return errors.Wrap(err, "write decrypted chunk")
			}
			index++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return errors.Wrap(readErr, "read ciphertext chunk")
		}
	}
	return nil
}
