package docsync

import (
	"github.com/cipherdeck/core/crdt"
	"github.com/cipherdeck/core/model"
)

// embedKindBlob tags a Text CRDT embed that references a file attachment
// rather than, say, a mention.
const embedKindBlob = "blob"

func encodeBlobEmbed(ref BlobRef) (crdt.Embed, error) {
	data, err := encodeGob(ref)
	if err != nil {
		return crdt.Embed{}, err
	}
	return crdt.Embed{Kind: embedKindBlob, Data: data}, nil
}

func decodeBlobEmbed(e crdt.Embed) (BlobRef, bool) {
	if e.Kind != embedKindBlob {
		return BlobRef{}, false
	}
	var ref BlobRef
	if err := decodeGob(e.Data, &ref); err != nil {
		return BlobRef{}, false
	}
	return ref, true
}

// blobRefsInBody walks a CardV1 body's Text CRDT state and returns every
// live (non-tombstoned) blob reference it embeds.
func blobRefsInBody(schema model.Schema, body []byte) ([]BlobRef, error) {
	if schema != model.SchemaCardV1 || len(body) == 0 {
		return nil, nil
	}
	var state crdt.State
	if err := decodeGob(body, &state); err != nil {
		return nil, err
	}
	var refs []BlobRef
	for _, n := range state.Nodes {
		if n.Tomb || n.Embed == nil {
			continue
		}
		if ref, ok := decodeBlobEmbed(*n.Embed); ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}
