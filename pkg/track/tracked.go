package track

import (
	"time"

	"github.com/atomflow-dev/atomflow/pkg/atom"
)

// Status is a tracked atom's lifecycle state. Active, idle, and stale are
// derived from idle time; archived and deleted are applied by the cleanup
// engine.
type Status string

const (
	StatusActive   Status = "active"
	StatusIdle     Status = "idle"
	StatusStale    Status = "stale"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// TrackedAtom is a point-in-time snapshot of one ledger entry. Snapshots
// are plain values: strategies and inspection tooling can hold them without
// touching tracker state.
type TrackedAtom struct {
	ID   atom.ID `json:"id"`
	Name string  `json:"name"`

	Status Status `json:"status"`

	CreatedAt    time.Time `json:"createdAt"`
	FirstSeen    time.Time `json:"firstSeen"`
	LastSeen     time.Time `json:"lastSeen"`
	LastAccessed time.Time `json:"lastAccessed"`
	LastChanged  time.Time `json:"lastChanged,omitempty"`

	AccessCount uint64 `json:"accessCount"`
	ChangeCount uint64 `json:"changeCount"`

	// IdleTime is now minus LastAccessed as of the snapshot.
	IdleTime time.Duration `json:"idleTime"`

	// TTL is the maximum idle duration before the atom goes stale.
	// Zero means no TTL.
	TTL time.Duration `json:"ttl"`

	RefCount int `json:"refCount"`

	// GCEligible reports whether the cleanup engine may reclaim the atom:
	// status idle or stale, and a zero reference count when reference
	// counting is enabled.
	GCEligible bool `json:"gcEligible"`

	SubscriberIDs []uint64 `json:"subscriberIds,omitempty"`
}

// entry is the tracker's mutable ledger record for one atom.
type entry struct {
	id   atom.ID
	name string

	createdAt    time.Time
	firstSeen    time.Time
	lastSeen     time.Time
	lastAccessed time.Time
	lastChanged  time.Time

	accessCount uint64
	changeCount uint64

	ttl         time.Duration
	refCount    int
	subscribers map[uint64]struct{}
}
