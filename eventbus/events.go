package eventbus

import "github.com/cipherdeck/core/model"

// EventKind enumerates every notification the core surfaces to the
// embedding application.
type EventKind int

const (
	EventSynced EventKind = iota
	EventSyncFailed
	EventTimelineUpdated
	EventConnectedToAccount
	EventAccUpdated
	EventDocUpdated
	EventDownloadCompleted
	EventDownloadFailed
	EventNotification
	EventNotificationsUpdated
	EventLogOut
)

func (k EventKind) String() string {
	switch k {
	case EventSynced:
		return "Synced"
	case EventSyncFailed:
		return "SyncFailed"
	case EventTimelineUpdated:
		return "TimelineUpdated"
	case EventConnectedToAccount:
		return "ConnectedToAccount"
	case EventAccUpdated:
		return "AccUpdated"
	case EventDocUpdated:
		return "DocUpdated"
	case EventDownloadCompleted:
		return "DownloadCompleted"
	case EventDownloadFailed:
		return "DownloadFailed"
	case EventNotification:
		return "Notification"
	case EventNotificationsUpdated:
		return "NotificationsUpdated"
	case EventLogOut:
		return "LogOut"
	default:
		return "Unknown"
	}
}

// AccountView is the minimal account projection carried by
// ConnectedToAccount and AccUpdated, enough for an embedder to refresh
// whatever it shows without re-querying the store on the same tick it
// receives the event.
type AccountView struct {
	Account model.AccountID
	Devices []model.DeviceID
}

// Event is one outbound notification. Only the fields relevant to Kind
// are populated.
type Event struct {
	Kind           EventKind
	View           *AccountView
	Doc            model.DocID
	BlobID         string
	Path           string
	NotificationID string
	Err            error
}

// Emitter receives outbound events. Emit must not block.
type Emitter interface{ Emit(Event) }

// EmitterFunc adapts a plain function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }
