package chain

import "github.com/pkg/errors"

// Chain-integrity error kinds — all of these are fatal
// for the message/merge being processed and never mutate the receiver's
// chain.
var (
	ErrInvalidRoot        = errors.New("chain: root block must specify zero or two account ids")
	ErrInvalidRootOps     = errors.New("chain: root block must add exactly one device and no removes")
	ErrInvalidSignature   = errors.New("chain: block signature does not verify")
	ErrHashMismatch       = errors.New("chain: block hash does not match its canonical encoding")
	ErrDifferentOps       = errors.New("chain: add and remove ops must be in separate blocks")
	ErrEmpty              = errors.New("chain: empty signature chain")
	ErrEmptyOps           = errors.New("chain: block has no operations")
	ErrNonMemberEdit      = errors.New("chain: authoring device is not a member of the chain")
	ErrDecodeMissingField = errors.New("chain: missing field while decoding block")
)
