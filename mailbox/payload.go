package mailbox

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/cipherdeck/core/model"
	"github.com/pkg/errors"
)

// SecretEntry is one document secret handed to the recipients of a
// group, minted by whichever device first needed it.
type SecretEntry struct {
	ID            string
	Key           [32]byte
	Algorithm     string
	Accounts      []model.AccountID
	DocID         *model.DocID
	CreatedAtUnix int64
}

// ControlPayload is the plaintext carried inside a Secret Group
// application message: either newly minted document secrets to adopt,
// or a request that the sender be removed from the group. Exactly one
// field is meaningful per message.
type ControlPayload struct {
	Secrets  []SecretEntry
	RemoveMe bool
}

// EncodeControlPayload serializes a payload for EncryptMessage. gob is
// fine here (unlike chain block hashing) because every device in this
// system runs the same Go binary; there is no cross-implementation
// decoding requirement to design around.
func EncodeControlPayload(p ControlPayload) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, errors.Wrap(err, "encode control payload")
	}
	return buf.Bytes(), nil
}

// DecodeControlPayload reverses EncodeControlPayload.
func DecodeControlPayload(raw []byte) (ControlPayload, error) {
	var p ControlPayload
	err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&p)
	return p, err
}

func (e SecretEntry) createdAt() time.Time { return time.Unix(e.CreatedAtUnix, 0) }
