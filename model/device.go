package model

import "time"

// KeyPackage is a one-time asymmetric key a device offers for being added
// to a group (GLOSSARY). Once consumed by an add operation it must not be
// reused.
type KeyPackage struct {
	Device    DeviceID
	PublicKey []byte // cryptoprim.PublicKey.Bytes()
	CreatedAt time.Time
}

// Device is a long-lived identity: a signing credential plus a monotonic
// per-device counter used as its coordinate in vector clocks.
type Device struct {
	ID      DeviceID
	Counter uint64
}

// AccountDevice records which account a device belongs to, resolved via
// the account Signature Chain; Removed/LastCounter let docsync reject
// tampered uploads replayed after a device was removed.
type AccountDevice struct {
	Device      DeviceID
	Account     AccountID
	Removed     bool
	LastCounter uint64
}
