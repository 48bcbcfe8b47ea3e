package drift

import (
	"time"

	"driftnote/internal/eventbus"
)

// Event types published on the bus.
const (
	EventScheduled     = "drift.scheduled"
	EventSuperseded    = "drift.superseded"
	EventSkippedViewed = "drift.skipped_viewed"
	EventCancelled     = "drift.cancelled"
	EventViewed        = "drift.viewed"
	EventUnviewed      = "drift.unviewed"
	EventFired         = "drift.fired"
	EventCompleted     = "drift.completed"
	EventShutdown      = "drift.shutdown"
)

// TimerEvent is the payload of every drift.* event except drift.completed.
type TimerEvent struct {
	EntryID string    `json:"entry_id,omitempty"`
	OwnerID string    `json:"owner_id,omitempty"`
	DueAt   time.Time `json:"due_at,omitempty"`
	// Pending is the registry size right after the operation.
	Pending int `json:"pending"`
}

// JobEvent is the payload of drift.completed.
type JobEvent struct {
	EntryID  string        `json:"entry_id"`
	OwnerID  string        `json:"owner_id"`
	Rate     string        `json:"rate,omitempty"`
	Outcome  Outcome       `json:"outcome"`
	Changed  bool          `json:"changed"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clk.Now(), Data: data})
}

func jobEvent(r Result) JobEvent {
	e := JobEvent{
		EntryID:  r.Request.EntryID,
		OwnerID:  r.Request.OwnerID,
		Rate:     r.Rate.String(),
		Outcome:  r.Outcome,
		Changed:  r.Changed,
		Duration: r.Duration,
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}
