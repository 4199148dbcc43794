package mailbox

// Bucket layout for the mailbox processor's local queues, mirroring the
// flat bucket-per-table idiom used in docstore/tables.go.
var (
	// KeyPackageQueue: autoincrement seq -> gob(model.KeyPackage).
	// Drained by uploading each entry, then deleting it.
	KeyPackageQueue = []byte("KeyPackageQueue")

	// Processed: message id -> gob(processedRow{Error string}).
	// A row existing here means the message was dispatched locally; it is
	// also the queue of messages still owed an ack to the server, so an
	// entry is only deleted once the ack round-trips successfully.
	Processed = []byte("Processed")

	// OutQueue: autoincrement seq -> gob(group.Message) plus its target
	// group id, queued by Apply/Add/Remove/SelfUpdate for push_mailbox.
	OutQueue = []byte("OutQueue")
)

var allBuckets = [][]byte{KeyPackageQueue, Processed, OutQueue}
