package drift

import (
	"errors"
	"time"

	"driftnote/internal/clock"
	"driftnote/internal/eventbus"
	"driftnote/internal/notes"
	logx "driftnote/pkg/logx"
)

const (
	DefaultDelay         = 60 * time.Second
	DefaultShutdownGrace = 5 * time.Second
)

var ErrNoStore = errors.New("drift: store is required")

// Config controls the scheduler.
type Config struct {
	// Delay between the last activity on an entry and its mutation. 0 means DefaultDelay.
	Delay time.Duration

	// ShutdownGrace bounds how long Shutdown waits for in-flight jobs. 0 means DefaultShutdownGrace.
	ShutdownGrace time.Duration

	// WriteWhileViewed keeps the result of a job whose entry was opened while the
	// job was running. By default such results are discarded.
	WriteWhileViewed bool
}

func (c Config) withDefaults() Config {
	if c.Delay <= 0 {
		c.Delay = DefaultDelay
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	return c
}

// Deps are the collaborators of the scheduler. Store is required.
// A nil Prefs resolves every owner to notes.DefaultRate; a nil Oracle leaves text unchanged.
type Deps struct {
	Store  notes.Store
	Prefs  notes.PreferenceProvider
	Oracle notes.Oracle
	Clock  clock.Clock
	Log    logx.Logger
	Bus    eventbus.Bus
}

// Request identifies the entry a timer was armed for. It is captured at arm
// time and never mutated.
type Request struct {
	EntryID string `json:"entry_id"`
	OwnerID string `json:"owner_id"`
}

// pending is a registry entry: the live timer for one entry id.
type pending struct {
	timer   clock.Timer
	gen     uint64
	req     Request
	armedAt time.Time
	dueAt   time.Time
}

// PendingInfo describes one armed timer.
type PendingInfo struct {
	EntryID string
	OwnerID string
	ArmedAt time.Time
	DueAt   time.Time
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Delay    time.Duration
	Closed   bool
	Viewed   int
	InFlight int
	Pending  []PendingInfo
}
