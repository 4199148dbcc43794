package model

import "github.com/cipherdeck/core/cryptoprim"

// Blob is a locally stored file: its id, its content checksum, the
// device that authored it, where it lives on disk, and whether the
// server has a synced copy yet.
type Blob struct {
	ID       string
	Device   DeviceID
	Checksum cryptoprim.Digest
	Path     string
	Synced   bool
}
