// Package model holds the data types shared across every component:
// device/account identifiers, document schema tags, vector clocks and
// notifications. It has no behavior of its own beyond small helpers, so it
// depends on nothing but cryptoprim.
package model

import (
	"encoding/hex"

	"github.com/cipherdeck/core/cryptoprim"
)

// DeviceID identifies a device by the Blake3 hash of its signing public key.
type DeviceID cryptoprim.Digest

// AccountID identifies an account by its account Signature Chain's root hash.
type AccountID cryptoprim.Digest

// DocID identifies a document. Some ids are derived by convention rather
// than randomly: the Profile doc's id is "<account>/profile", labels are
// "<card>/labels" (see model.ProfileDocID, model.LabelsDocID).
type DocID string

func (id DeviceID) String() string  { return hex.EncodeToString(id[:]) }
func (id AccountID) String() string { return hex.EncodeToString(id[:]) }

// MarshalText/UnmarshalText let these ids serialize as plain hex in gob
// row encodings and JSON debug dumps alike, mirroring the fixed-size
// hash-with-text-marshal idiom used throughout this codebase's id types.
func (id DeviceID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *DeviceID) UnmarshalText(b []byte) error {
	decoded, err := hex.DecodeString(string(b))
	if err != nil {
		return err
	}
	copy(id[:], decoded)
	return nil
}

func (id AccountID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *AccountID) UnmarshalText(b []byte) error {
	decoded, err := hex.DecodeString(string(b))
	if err != nil {
		return err
	}
	copy(id[:], decoded)
	return nil
}

// DeviceIDFromPublicKey derives a device's identity from its signing key,
// the same construction used to verify "device id, derived from the
// credential, is globally unique within a chain.
func DeviceIDFromPublicKey(pub cryptoprim.PublicKey) DeviceID {
	return DeviceID(cryptoprim.Hash(pub.Bytes()))
}

// ProfileDocID returns the by-name id of an account's Profile document.
func ProfileDocID(acc AccountID) DocID {
	return DocID(acc.String() + "/profile")
}

// LabelsDocID returns the by-name id of a card's labels document.
func LabelsDocID(card DocID) DocID {
	return DocID(string(card) + "/labels")
}

// NotificationsDocID returns the by-name id of an account's
// AccountNotificationsV1 document.
func NotificationsDocID(acc AccountID) DocID {
	return DocID(acc.String() + "/notifications")
}

// Less gives a stable, wall-clock-independent total order over device ids,
// used to break ties when two chain authors joined at the same epoch.
func (id DeviceID) Less(other DeviceID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}
