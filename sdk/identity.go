package sdk

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/model"
	"github.com/pkg/errors"
)

const identityFile = "identity.gob"

// identity is a device's durable bootstrap record: its signing
// credential, the key sealing its local database, and which account (if
// any) it has bound to. Everything else the SDK tracks is rebuilt from
// the local stores or the server each time it opens.
type identity struct {
	Device     model.DeviceID
	SigningKey []byte
	DBKey      [32]byte
	Bound      bool
	Account    model.AccountID
}

// loadOrCreateIdentity returns this device's identity, and whether it
// was just minted (vs. loaded from a prior run) — the caller uses that
// to decide whether to queue the device's key package for its one and
// only initial upload.
func loadOrCreateIdentity(dir string) (identity, bool, error) {
	path := filepath.Join(dir, identityFile)
	raw, err := os.ReadFile(path)
	if err == nil {
		var id identity
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&id); err != nil {
			return identity{}, false, errors.Wrap(err, "decode identity")
		}
		return id, false, nil
	}
	if !os.IsNotExist(err) {
		return identity{}, false, errors.Wrap(err, "read identity")
	}

	key, err := cryptoprim.GenerateSigningKey()
	if err != nil {
		return identity{}, false, errors.Wrap(err, "generate signing key")
	}
	dbKey, err := cryptoprim.NewDBKey()
	if err != nil {
		return identity{}, false, errors.Wrap(err, "generate db key")
	}
	id := identity{
		Device:     model.DeviceIDFromPublicKey(key.Public()),
		SigningKey: key.Bytes(),
		DBKey:      [32]byte(dbKey),
	}
	if err := saveIdentity(dir, id); err != nil {
		return identity{}, false, err
	}
	return id, true, nil
}

func saveIdentity(dir string, id identity) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(id); err != nil {
		return errors.Wrap(err, "encode identity")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "create device directory")
	}
	return os.WriteFile(filepath.Join(dir, identityFile), buf.Bytes(), 0o600)
}
