package app

import (
	"context"
	"errors"
	"fmt"

	"driftnote/internal/drift"
	"driftnote/internal/notes"
	"driftnote/internal/storage"
)

// Activity is what the request layer calls when users touch entries.
//
// The bare hooks only inform the scheduler. The *Entry methods pair a store
// operation with the matching hook.
type Activity struct {
	sched *drift.Scheduler
	store storage.Store
}

func NewActivity(sched *drift.Scheduler, store storage.Store) *Activity {
	return &Activity{sched: sched, store: store}
}

// EntryCreated arms the first drift for a new entry.
func (a *Activity) EntryCreated(entryID, ownerID string) { a.sched.Schedule(entryID, ownerID) }

// EntryEdited restarts the delay for an edited entry.
func (a *Activity) EntryEdited(entryID, ownerID string) { a.sched.Schedule(entryID, ownerID) }

// EntryOpened suspends drift while the entry is on screen.
func (a *Activity) EntryOpened(entryID string) { a.sched.MarkViewed(entryID) }

// EntryClosed resumes drift with a fresh delay.
func (a *Activity) EntryClosed(entryID, ownerID string) { a.sched.MarkUnviewed(entryID, ownerID) }

// EntryDeleted drops any pending drift.
func (a *Activity) EntryDeleted(entryID string) { a.sched.Cancel(entryID) }

// CreateEntry stores e and schedules its first drift.
func (a *Activity) CreateEntry(ctx context.Context, e notes.Entry) (notes.Entry, error) {
	created, err := a.store.Create(ctx, e)
	if err != nil {
		return notes.Entry{}, err
	}
	a.EntryCreated(created.ID, created.OwnerID)
	return created, nil
}

// EditEntry updates an entry owned by ownerID and restarts its delay.
func (a *Activity) EditEntry(ctx context.Context, ownerID, entryID, title, content string) error {
	if _, err := a.owned(ctx, ownerID, entryID); err != nil {
		return err
	}
	if err := a.store.Update(ctx, entryID, title, content); err != nil {
		return err
	}
	a.EntryEdited(entryID, ownerID)
	return nil
}

// OpenEntry marks the entry viewed and returns it.
func (a *Activity) OpenEntry(ctx context.Context, ownerID, entryID string) (notes.Entry, error) {
	e, err := a.owned(ctx, ownerID, entryID)
	if err != nil {
		return notes.Entry{}, err
	}
	a.EntryOpened(entryID)
	return e, nil
}

// DeleteEntry cancels pending drift and removes the entry.
func (a *Activity) DeleteEntry(ctx context.Context, ownerID, entryID string) error {
	if _, err := a.owned(ctx, ownerID, entryID); err != nil {
		return err
	}
	a.EntryDeleted(entryID)
	return a.store.Delete(ctx, entryID)
}

// ErrNotOwner is returned when an entry belongs to someone else.
var ErrNotOwner = errors.New("entry belongs to another owner")

func (a *Activity) owned(ctx context.Context, ownerID, entryID string) (notes.Entry, error) {
	e, err := a.store.Get(ctx, entryID)
	if err != nil {
		return notes.Entry{}, err
	}
	if e.OwnerID != ownerID {
		return notes.Entry{}, fmt.Errorf("%s: %w", entryID, ErrNotOwner)
	}
	return e, nil
}
