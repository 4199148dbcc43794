package transport

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/model"
)

// HeaderDeviceID, HeaderTimestamp and HeaderSignature are the three
// authentication headers every request to the sync API carries.
const (
	HeaderDeviceID  = "device-id"
	HeaderTimestamp = "timestamp"
	HeaderSignature = "signature"
)

// signedBytes is the exact byte string a request's signature covers:
// timestamp || method || path || query, concatenated with no separator
// (the four components' own formats make them unambiguous to split on
// the verifying side, which only needs to recompute, not parse, them).
func signedBytes(timestamp, method, path, query string) []byte {
	return []byte(timestamp + method + path + query)
}

// signRequest produces the timestamp and signature header values for a
// request this device is about to send.
func signRequest(key cryptoprim.SigningKey, method, path, query string) (timestamp, signature string) {
	timestamp = fmt.Sprintf("%d", time.Now().Unix())
	sig := cryptoprim.Sign(key, signedBytes(timestamp, method, path, query))
	return timestamp, hex.EncodeToString(sig)
}

// VerifyRequest checks a request's device-id/timestamp/signature headers
// against the claimed device's known public key. Exported for the fake
// server double, which needs the same check the real server performs.
func VerifyRequest(pub cryptoprim.PublicKey, timestamp, method, path, query, signatureHex string) error {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return fmt.Errorf("decode signature header: %w", err)
	}
	if !cryptoprim.Verify(pub, signedBytes(timestamp, method, path, query), sig) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// deviceIDFromHeader parses the device-id header back into a model.DeviceID.
func deviceIDFromHeader(s string) (model.DeviceID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return model.DeviceID{}, fmt.Errorf("decode device-id header: %w", err)
	}
	var id model.DeviceID
	if len(b) != len(id) {
		return model.DeviceID{}, fmt.Errorf("device-id header has wrong length")
	}
	copy(id[:], b)
	return id, nil
}
