package group

import "github.com/pkg/errors"

// These are fatal per message, acked with an error tag so neither the
// server nor the sender retries.
var (
	ErrGroupChainMismatch         = errors.New("group: commit's chain hash does not match any known signature-chain epoch")
	ErrExpectedHandshakeMsg       = errors.New("group: expected a handshake (commit) message")
	ErrExpectedNonHandshakeMsg    = errors.New("group: expected a non-handshake (application) message")
	ErrSignatureChainMissingEpoch = errors.New("group: signature chain is missing the epoch this commit was produced against")
	ErrUnknownGroup               = errors.New("group: no local group state for this group id")
	ErrAbandonedFork              = errors.New("group: welcome references an abandoned chain fork")
	ErrNoSecretForDevice          = errors.New("group: message carries no secret wrapped for this device")
	ErrNotAMember                 = errors.New("group: local device is not a member of this group")
)
