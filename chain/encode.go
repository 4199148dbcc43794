package chain

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/cipherdeck/core/cryptoprim"
	"github.com/cipherdeck/core/model"
)

// Canonical field numbers. The encoding must be bit-exact across every
// device that hashes and verifies a block, so these numbers and the
// field order below are fixed forever — never renumber.
const (
	fieldParent     = 1
	fieldAuthoredBy = 2
	fieldEpoch      = 3
	fieldOps        = 4
	fieldAccountIDs = 5

	fieldOpAdd    = 1
	fieldOpRemove = 2
	fieldOpUpdate = 3

	fieldKPDevice    = 1
	fieldKPPublicKey = 2
	fieldKPCreatedAt = 3

	fieldRemovedDevice = 1
	fieldRemovedLast   = 2
)

// encodeBody produces the canonical, deterministic byte encoding of a
// block body using raw protobuf wire primitives (protowire) rather than a
// generated message type, since no .proto compiler runs in this build
// (see DESIGN.md). Field order and repeated-entry order are exactly the
// order of the slices in body — callers (append/modify) are responsible
// for using a stable order (sorted key packages/removals) so independent
// implementations given the same logical block produce the same bytes.
func encodeBody(body Body) []byte {
	var buf []byte

	if body.Parent != nil {
		buf = protowire.AppendTag(buf, fieldParent, protowire.BytesType)
		buf = protowire.AppendBytes(buf, body.Parent[:])
	}

	buf = protowire.AppendTag(buf, fieldAuthoredBy, protowire.BytesType)
	buf = protowire.AppendBytes(buf, body.AuthoredBy[:])

	buf = protowire.AppendTag(buf, fieldEpoch, protowire.VarintType)
	buf = protowire.AppendVarint(buf, body.Epoch)

	opsBytes := encodeOps(body.Ops)
	buf = protowire.AppendTag(buf, fieldOps, protowire.BytesType)
	buf = protowire.AppendBytes(buf, opsBytes)

	for _, acc := range body.AccountIDs {
		buf = protowire.AppendTag(buf, fieldAccountIDs, protowire.BytesType)
		buf = protowire.AppendBytes(buf, acc[:])
	}

	return buf
}

func encodeOps(ops DeviceOps) []byte {
	var buf []byte
	for _, kp := range ops.Add {
		buf = protowire.AppendTag(buf, fieldOpAdd, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeKeyPackage(kp))
	}
	for _, r := range ops.Remove {
		buf = protowire.AppendTag(buf, fieldOpRemove, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeRemoved(r))
	}
	for _, kp := range ops.Update {
		buf = protowire.AppendTag(buf, fieldOpUpdate, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeKeyPackage(kp))
	}
	return buf
}

func encodeKeyPackage(kp model.KeyPackage) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldKPDevice, protowire.BytesType)
	buf = protowire.AppendBytes(buf, kp.Device[:])
	buf = protowire.AppendTag(buf, fieldKPPublicKey, protowire.BytesType)
	buf = protowire.AppendBytes(buf, kp.PublicKey)
	buf = protowire.AppendTag(buf, fieldKPCreatedAt, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(kp.CreatedAt.UnixNano()))
	return buf
}

func encodeRemoved(r RemovedOp) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldRemovedDevice, protowire.BytesType)
	buf = protowire.AppendBytes(buf, r.Device[:])
	buf = protowire.AppendTag(buf, fieldRemovedLast, protowire.VarintType)
	buf = protowire.AppendVarint(buf, r.LastCounter)
	return buf
}

func digestFromBytes(b []byte) cryptoprim.Digest {
	var d cryptoprim.Digest
	copy(d[:], b)
	return d
}

func deviceIDFromBytes(b []byte) model.DeviceID {
	var d model.DeviceID
	copy(d[:], b)
	return d
}

func accountIDFromBytes(b []byte) model.AccountID {
	var d model.AccountID
	copy(d[:], b)
	return d
}
