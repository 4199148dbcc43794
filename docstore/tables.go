package docstore

// Bucket layout, following the flat bucket-per-table scheme with inline
// key/value comments used throughout the codebase's storage layer.
var (
	// Documents holds every known document row.
	// key - doc id
	// value - gob-encoded docRow (document fields plus ACL), sealed with the db key
	Documents = []byte("Documents")

	// DocSecrets holds every document secret this device has observed.
	// key - secret id (uuid bytes)
	// value - gob-encoded secretRow (key bytes sealed with the db key)
	DocSecrets = []byte("DocSecrets")

	// SecretsByAccountsHash indexes DocSecrets by their accounts-hash for
	// get_secret_for_accounts lookups without a full table scan.
	// key - accounts hash (32 bytes) + created_at (for ordering)
	// value - secret id
	SecretsByAccountsHash = []byte("SecretsByAccountsHash")

	// DeviceCounters tracks the highest counter observed per device.
	// key - device id (32 bytes)
	// value - big-endian uint64 counter
	DeviceCounters = []byte("DeviceCounters")

	// PushQueue holds prepared ciphertexts awaiting upload, FIFO by the
	// auto-increment bbolt sequence used as the key.
	// key - big-endian uint64 sequence
	// value - gob-encoded QueuedPush
	PushQueue = []byte("PushQueue")

	// Blobs holds local file metadata: where it lives on disk, its
	// checksum, and whether the server has a synced copy yet.
	// key - blob id
	// value - gob-encoded model.Blob
	Blobs = []byte("Blobs")

	// RetryDocs tracks documents whose merge was deferred (account not
	// yet resolvable, secret not yet known) pending a retry window.
	// key - doc id
	// value - gob-encoded retryRow{Attempts; NextAttempt; Skipped; Payload}
	RetryDocs = []byte("RetryDocs")

	// LocalNotifications holds notifications not yet accepted or ignored;
	// once acted on they're deleted here and promoted into the account's
	// AccountNotificationsV1 document instead.
	// key - notification id
	// value - gob-encoded localNotificationRow
	LocalNotifications = []byte("LocalNotifications")
)

var allBuckets = [][]byte{
	Documents, DocSecrets, SecretsByAccountsHash, DeviceCounters, PushQueue,
	Blobs, RetryDocs, LocalNotifications,
}
