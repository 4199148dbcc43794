package model

// NotificationKind distinguishes the two notification shapes.
type NotificationKind int

const (
	NotificationContactRequest NotificationKind = iota
	NotificationCardShare
)

// NotificationStatus tracks a notification's lifecycle. Missing only ever
// exists locally — once Accepted or Ignored it is promoted into the
// AccountNotificationsV1 CRDT so every device of the account converges.
type NotificationStatus int

const (
	NotificationMissing NotificationStatus = iota
	NotificationAccepted
	NotificationIgnored
)

// Notification is a local-only record until accepted/ignored.
type Notification struct {
	ID      string
	Kind    NotificationKind
	Payload []byte // AccountID bytes for ContactRequest, DocID bytes for CardShare
	Status  NotificationStatus
}
