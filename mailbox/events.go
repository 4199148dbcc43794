package mailbox

import "github.com/cipherdeck/core/model"

// EventKind tags the few outcomes the mailbox processor reports
// upward; the full event catalog (Synced, TimelineUpdated, etc.) lives
// in the eventbus package, which subscribes to these.
type EventKind int

const (
	EventConnectedToAccount EventKind = iota
	EventAccUpdated
	EventLogOut
)

// Event is one notification emitted during a Sync round.
type Event struct {
	Kind    EventKind
	Account model.AccountID
}

// Emitter receives events as they happen. Sync never blocks waiting for
// a response, so Emit must not block either.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a plain function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }
