package drift

import logx "driftnote/pkg/logx"

// ViewGate operations. They share the scheduler mutex, so a view change and
// a concurrent Schedule for the same id are serialized.

// MarkViewed records that a client has entryID open and drops its pending timer.
func (s *Scheduler) MarkViewed(entryID string) {
	if entryID == "" {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.views[entryID] = true
	cancelled := s.stopLocked(entryID)
	n := len(s.registry)
	s.mu.Unlock()

	s.log.Debug("entry viewed; drift suspended", logx.String("entry", entryID), logx.Bool("cancelled", cancelled))
	if cancelled {
		s.publish(EventCancelled, TimerEvent{EntryID: entryID, Pending: n})
	}
	s.publish(EventViewed, TimerEvent{EntryID: entryID, Pending: n})
}

// MarkUnviewed records that the client left entryID and restarts its
// countdown from the full delay.
func (s *Scheduler) MarkUnviewed(entryID, ownerID string) {
	if entryID == "" {
		return
	}
	req := Request{EntryID: entryID, OwnerID: ownerID}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.views[entryID] = false
	res := s.scheduleLocked(req)
	n := len(s.registry)
	s.mu.Unlock()

	s.log.Debug("entry left; drift resumed", logx.String("entry", entryID))
	s.publish(EventUnviewed, TimerEvent{EntryID: entryID, OwnerID: ownerID, Pending: n})
	s.reportSchedule(req, res, n)
}

// IsViewed reports whether entryID is currently open.
func (s *Scheduler) IsViewed(entryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views[entryID]
}
