package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vanadium23/wolfcal-sub000/internal/backoff"
	"github.com/vanadium23/wolfcal-sub000/internal/model"
	"github.com/vanadium23/wolfcal-sub000/internal/remote"
	"github.com/vanadium23/wolfcal-sub000/internal/store"
)

// Editor is the producer side of the change queue: it performs local
// mutations optimistically (store write first) and enqueues the matching
// pending change for the processor to push when connectivity allows.
type Editor struct {
	store  store.Store
	remote remote.Client
	exec   *backoff.Executor
	queue  *Processor
	logger *zap.Logger
	now    func() time.Time
}

// NewEditor builds an Editor that feeds the given processor.
func NewEditor(st store.Store, rc remote.Client, exec *backoff.Executor, queue *Processor, logger *zap.Logger) *Editor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Editor{store: st, remote: rc, exec: exec, queue: queue, logger: logger, now: time.Now}
}

// CreateEvent writes the event locally under a temporary identifier and
// queues the remote create. The returned event carries the temp id until a
// drain confirms it.
func (e *Editor) CreateEvent(ctx context.Context, ev *model.Event) (*model.Event, error) {
	now := e.now()
	ev.ID = model.NewTempID()
	ev.Pending = true
	ev.LocalUpdatedAt = now
	if ev.Status == "" {
		ev.Status = model.StatusConfirmed
	}
	if err := e.store.UpsertEvent(ctx, ev); err != nil {
		return nil, err
	}
	ch := &model.PendingChange{
		ID:         uuid.New().String(),
		Op:         model.OpCreate,
		EventID:    ev.ID,
		AccountID:  ev.AccountID,
		CalendarID: ev.CalendarID,
		Payload:    ev,
		EnqueuedAt: now,
	}
	if err := e.store.EnqueueChange(ctx, ch); err != nil {
		return nil, err
	}
	e.kickDrain()
	return ev, nil
}

// UpdateEvent overwrites the local record and queues the remote update. An
// event still awaiting its create keeps its single create entry; the new
// content folds into that entry's payload instead of queueing a second
// change.
func (e *Editor) UpdateEvent(ctx context.Context, ev *model.Event) error {
	now := e.now()
	current, err := e.store.GetEvent(ctx, ev.ID)
	if err != nil {
		return err
	}
	ev.AccountID = current.AccountID
	ev.CalendarID = current.CalendarID
	ev.Pending = current.Pending
	ev.LocalUpdatedAt = now
	ev.RemoteUpdatedAt = current.RemoteUpdatedAt
	ev.LastSyncedAt = current.LastSyncedAt
	if err := e.store.UpsertEvent(ctx, ev); err != nil {
		return err
	}

	if model.IsTempID(ev.ID) {
		if err := e.foldIntoCreate(ctx, ev); err != nil {
			return err
		}
		e.kickDrain()
		return nil
	}

	ch := &model.PendingChange{
		ID:         uuid.New().String(),
		Op:         model.OpUpdate,
		EventID:    ev.ID,
		AccountID:  ev.AccountID,
		CalendarID: ev.CalendarID,
		Payload:    ev,
		EnqueuedAt: now,
	}
	if err := e.store.EnqueueChange(ctx, ch); err != nil {
		return err
	}
	e.kickDrain()
	return nil
}

func (e *Editor) foldIntoCreate(ctx context.Context, ev *model.Event) error {
	chs, err := e.store.FindChangesByEvent(ctx, ev.ID)
	if err != nil {
		return err
	}
	for _, ch := range chs {
		if ch.Op == model.OpCreate {
			ch.Payload = ev
			return e.store.UpdateChange(ctx, ch)
		}
	}
	return fmt.Errorf("temp event %s has no pending create", ev.ID)
}

// DeleteEvent soft-deletes locally, writes the tombstone that guards against
// resurrection by stale fetches, and queues the remote delete. Deleting an
// event that was never confirmed remotely just unwinds it locally.
func (e *Editor) DeleteEvent(ctx context.Context, eventID string) error {
	now := e.now()
	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}

	if model.IsTempID(eventID) {
		if err := e.dropChanges(ctx, eventID); err != nil {
			return err
		}
		return e.store.DeleteEvent(ctx, eventID)
	}

	ev.Deleted = true
	ev.LocalUpdatedAt = now
	if err := e.store.UpsertEvent(ctx, ev); err != nil {
		return err
	}
	if err := e.store.PutTombstone(ctx, &model.Tombstone{EventID: eventID, DeletedAt: now}); err != nil {
		return err
	}
	ch := &model.PendingChange{
		ID:         uuid.New().String(),
		Op:         model.OpDelete,
		EventID:    eventID,
		AccountID:  ev.AccountID,
		CalendarID: ev.CalendarID,
		EnqueuedAt: now,
	}
	if err := e.store.EnqueueChange(ctx, ch); err != nil {
		return err
	}
	e.kickDrain()
	return nil
}

func (e *Editor) dropChanges(ctx context.Context, eventID string) error {
	chs, err := e.store.FindChangesByEvent(ctx, eventID)
	if err != nil {
		return err
	}
	for _, ch := range chs {
		if err := e.store.DeleteChange(ctx, ch.ID); err != nil {
			return err
		}
	}
	return nil
}

// RespondToInvitation replies to an invitation directly (no queueing; a
// response is only meaningful online) and records the reply locally.
func (e *Editor) RespondToInvitation(ctx context.Context, eventID string, response model.ResponseStatus) error {
	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if model.IsTempID(eventID) {
		return errors.New("syncer: cannot respond to an unconfirmed event")
	}
	err = e.exec.Execute(ctx, func(ctx context.Context) error {
		return e.remote.RespondToInvitation(ctx, ev.AccountID, ev.CalendarID, eventID, response)
	})
	if err != nil {
		return fmt.Errorf("failed to respond to invitation: %w", err)
	}
	for i := range ev.Attendees {
		if ev.Attendees[i].Self {
			ev.Attendees[i].ResponseStatus = response
		}
	}
	ev.LocalUpdatedAt = e.now()
	return e.store.UpsertEvent(ctx, ev)
}

// kickDrain fires a best-effort, non-blocking drain after a mutation.
func (e *Editor) kickDrain() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := e.queue.Drain(ctx); err != nil {
			e.logger.Warn("post-mutation drain failed", zap.Error(err))
		}
	}()
}
