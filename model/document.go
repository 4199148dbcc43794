package model

import "time"

// Schema tags the body of a Document; merge/dispatch logic in docstore and
// docsync switches on this instead of using an open type hierarchy
// of an open type hierarchy.
type Schema int

const (
	SchemaUnknown Schema = iota
	SchemaAccountV1
	SchemaProfileV1
	SchemaAccountNotificationsV1
	SchemaCardV1
	SchemaCardLabelsV1
)

func (s Schema) String() string {
	switch s {
	case SchemaAccountV1:
		return "AccountV1"
	case SchemaProfileV1:
		return "ProfileV1"
	case SchemaAccountNotificationsV1:
		return "AccountNotificationsV1"
	case SchemaCardV1:
		return "CardV1"
	case SchemaCardLabelsV1:
		return "CardLabelsV1"
	default:
		return "Unknown"
	}
}

// FetchPriority orders schemas within one batch of "process fetched"
// documents so account-level updates are emitted before card updates
// before card updates.
func (s Schema) FetchPriority() int {
	switch s {
	case SchemaAccountV1:
		return 1
	case SchemaAccountNotificationsV1:
		return 2
	case SchemaProfileV1:
		return 6
	default:
		return 10
	}
}

// Right is a permission level in a document's ACL.
type Right int

const (
	RightRead Right = iota
	RightWrite
	RightAdmin
)

// ACLMode controls how upload_encrypted_doc derives a document's recipient
// set.
type ACLMode int

const (
	ACLModeNormal ACLMode = iota
	ACLModeCustom
)

// BinLabelID is the reserved label id marking a soft-deleted card.
const BinLabelID = "bolik_bin"

// Document is the core record: id, schema, author, counter,
// timestamps, CRDT body and ACL.
type Document struct {
	ID        DocID
	Schema    Schema
	Author    DeviceID
	Counter   uint64
	CreatedAt time.Time
	EditedAt  time.Time

	// Body is the opaque encoded CRDT state; docstore never interprets it,
	// only docsync/crdt do.
	Body []byte

	ACL ACL
}

// ACL is the CRDT-backed access control list attached to every document.
type ACL struct {
	Mode    ACLMode
	Grants  map[AccountID]Right
	BinnedAt *time.Time // "moved to bin for all" timestamp, nil if not binned
}

// Clone returns a deep copy so callers can mutate a fetched ACL without
// aliasing the store's in-memory representation.
func (a ACL) Clone() ACL {
	grants := make(map[AccountID]Right, len(a.Grants))
	for k, v := range a.Grants {
		grants[k] = v
	}
	var binned *time.Time
	if a.BinnedAt != nil {
		t := *a.BinnedAt
		binned = &t
	}
	return ACL{Mode: a.Mode, Grants: grants, BinnedAt: binned}
}

// Has reports whether acc holds at least `want` on this ACL.
func (a ACL) Has(acc AccountID, want Right) bool {
	got, ok := a.Grants[acc]
	return ok && got >= want
}

// Merge combines a remote ACL CRDT into a, taking the highest-right grant
// per account and the later (or present) bin timestamp — a last-writer-wins
// merge is adequate since grants monotonically only need "union of maximum
// right seen".
func (a *ACL) Merge(remote ACL) {
	if a.Grants == nil {
		a.Grants = map[AccountID]Right{}
	}
	for acc, right := range remote.Grants {
		if cur, ok := a.Grants[acc]; !ok || right > cur {
			a.Grants[acc] = right
		}
	}
	if remote.BinnedAt != nil && (a.BinnedAt == nil || remote.BinnedAt.After(*a.BinnedAt)) {
		t := *remote.BinnedAt
		a.BinnedAt = &t
	}
	if remote.Mode == ACLModeCustom {
		a.Mode = ACLModeCustom
	}
}

// NewACLSeededAdmin builds an ACL with a single Admin grant, used when a
// remote document arrives with no local row and no ACL in the payload
// and the document has an admin grant.
func NewACLSeededAdmin(acc AccountID) ACL {
	return ACL{Mode: ACLModeNormal, Grants: map[AccountID]Right{acc: RightAdmin}}
}
