package track

import (
	"time"

	"github.com/atomflow-dev/atomflow/pkg/atom"
)

// EventType identifies a lifecycle event on the tracker's stream.
type EventType string

const (
	EventTrack         EventType = "track"
	EventUntrack       EventType = "untrack"
	EventChange        EventType = "change"
	EventAccess        EventType = "access"
	EventCleanup       EventType = "cleanup"
	EventBeforeCleanup EventType = "beforeCleanup"
	EventAfterCleanup  EventType = "afterCleanup"
	EventError         EventType = "error"
	EventClear         EventType = "clear"
	EventRestore       EventType = "restore"
)

// Event is one entry on the lifecycle stream. Inspection and visualization
// tooling consume these; the core never reads them back.
type Event struct {
	Type   EventType `json:"type"`
	AtomID atom.ID   `json:"atomId,omitempty"`
	Name   string    `json:"name,omitempty"`
	Time   time.Time `json:"time"`
	Detail string    `json:"detail,omitempty"`
}

// EventListener receives lifecycle events. Listeners run synchronously on
// the emitting goroutine and must not block.
type EventListener func(Event)
