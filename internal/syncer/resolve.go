package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vanadium23/wolfcal-sub000/internal/model"
	"github.com/vanadium23/wolfcal-sub000/internal/store"
)

// ResolutionChoice is the user's decision for a conflicted event.
type ResolutionChoice string

const (
	ResolveKeepLocal  ResolutionChoice = "local"
	ResolveKeepRemote ResolutionChoice = "remote"
	ResolveDefer      ResolutionChoice = "defer"
)

// Resolve applies a manual conflict decision. Keeping a side makes it the
// primary record, clears both snapshots and stamps lastSyncedAt; keeping the
// local side also re-enqueues it so the remote converges. Defer leaves the
// conflict materialized; it resurfaces on the next sync pass and never blocks
// other sync operations.
func (o *Orchestrator) Resolve(ctx context.Context, eventID string, choice ResolutionChoice) error {
	c, err := o.store.GetConflict(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no unresolved conflict for event %s", eventID)
	}
	if err != nil {
		return err
	}
	now := o.now()

	switch choice {
	case ResolveDefer:
		return nil

	case ResolveKeepRemote:
		remote := c.RemoteVersion
		remote.LastSyncedAt = now
		remote.LocalUpdatedAt = now
		remote.Pending = false
		if err := o.store.UpsertEvent(ctx, remote); err != nil {
			return err
		}
		// A delete/update conflict resolved in the remote's favor revives
		// the event: the tombstone and the queued delete are obsolete.
		if err := o.store.DeleteTombstone(ctx, eventID); err != nil {
			return err
		}
		if err := o.dropQueuedChanges(ctx, eventID); err != nil {
			return err
		}
		return o.store.DeleteConflict(ctx, eventID)

	case ResolveKeepLocal:
		if c.LocalVersion == nil {
			// Local side was a deletion; keep it and make sure the delete is
			// still queued for the remote.
			if err := o.store.DeleteEvent(ctx, eventID); err != nil {
				return err
			}
			if err := o.ensureDeleteQueued(ctx, c, now); err != nil {
				return err
			}
			return o.store.DeleteConflict(ctx, eventID)
		}
		local := c.LocalVersion
		local.LastSyncedAt = now
		local.LocalUpdatedAt = now
		if err := o.store.UpsertEvent(ctx, local); err != nil {
			return err
		}
		if err := o.enqueueUpdate(ctx, c, local, now); err != nil {
			return err
		}
		return o.store.DeleteConflict(ctx, eventID)

	default:
		return fmt.Errorf("unknown resolution choice %q", choice)
	}
}

func (o *Orchestrator) dropQueuedChanges(ctx context.Context, eventID string) error {
	chs, err := o.store.FindChangesByEvent(ctx, eventID)
	if err != nil {
		return err
	}
	for _, ch := range chs {
		if err := o.store.DeleteChange(ctx, ch.ID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) ensureDeleteQueued(ctx context.Context, c *model.ConflictRecord, now time.Time) error {
	chs, err := o.store.FindChangesByEvent(ctx, c.EventID)
	if err != nil {
		return err
	}
	for _, ch := range chs {
		if ch.Op == model.OpDelete {
			return nil
		}
	}
	return o.store.EnqueueChange(ctx, &model.PendingChange{
		ID:         uuid.New().String(),
		Op:         model.OpDelete,
		EventID:    c.EventID,
		AccountID:  c.AccountID,
		CalendarID: c.CalendarID,
		EnqueuedAt: now,
	})
}

func (o *Orchestrator) enqueueUpdate(ctx context.Context, c *model.ConflictRecord, ev *model.Event, now time.Time) error {
	o.logger.Debug("re-enqueueing local version after conflict resolution",
		zap.String("event_id", c.EventID))
	return o.store.EnqueueChange(ctx, &model.PendingChange{
		ID:         uuid.New().String(),
		Op:         model.OpUpdate,
		EventID:    c.EventID,
		AccountID:  c.AccountID,
		CalendarID: c.CalendarID,
		Payload:    ev,
		EnqueuedAt: now,
	})
}
