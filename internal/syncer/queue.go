package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vanadium23/wolfcal-sub000/internal/backoff"
	"github.com/vanadium23/wolfcal-sub000/internal/model"
	"github.com/vanadium23/wolfcal-sub000/internal/remote"
	"github.com/vanadium23/wolfcal-sub000/internal/store"
)

// DrainResult summarizes one pass over the pending-change queue.
type DrainResult struct {
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"` // terminally-failed entries awaiting manual action
}

// Processor drains the offline change queue against the remote service in
// strict FIFO order. A drain already in flight short-circuits duplicate
// invocations, and draining an empty queue is a cheap no-op, so callers may
// invoke Drain as often as they like.
type Processor struct {
	store  store.Store
	remote remote.Client
	exec   *backoff.Executor
	logger *zap.Logger
	now    func() time.Time

	draining atomic.Bool
	online   atomic.Bool
}

// NewProcessor builds a Processor; the connectivity gate starts open.
func NewProcessor(st store.Store, rc remote.Client, exec *backoff.Executor, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{store: st, remote: rc, exec: exec, logger: logger, now: time.Now}
	p.online.Store(true)
	return p
}

// Online reports the current connectivity gate.
func (p *Processor) Online() bool { return p.online.Load() }

// SetOnline flips the connectivity gate. Coming back online triggers an
// immediate drain of whatever accumulated while offline.
func (p *Processor) SetOnline(ctx context.Context, online bool) error {
	wasOnline := p.online.Swap(online)
	if online && !wasOnline {
		_, err := p.Drain(ctx)
		return err
	}
	return nil
}

// Drain applies queued changes oldest-first. Entries past the retry ceiling
// are skipped (they stay visible for manual retry or discard); a failing
// entry is retained with its retry count bumped and the error recorded, and
// processing continues with the next entry.
func (p *Processor) Drain(ctx context.Context) (DrainResult, error) {
	var res DrainResult
	if !p.online.Load() {
		return res, nil
	}
	if !p.draining.CompareAndSwap(false, true) {
		return res, nil
	}
	defer p.draining.Store(false)

	changes, err := p.store.ListPendingChanges(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list pending changes: %w", err)
	}
	for _, queued := range changes {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		// Re-read the row: a create applied earlier in this pass retargets
		// later entries from the temp id to the canonical one, and the
		// snapshot taken up front does not see that.
		ch, err := p.store.GetPendingChange(ctx, queued.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("failed to reload pending change %s: %w", queued.ID, err)
		}
		if ch.Failed() {
			res.Skipped++
			continue
		}
		if ch.Op != model.OpCreate && model.IsTempID(ch.EventID) {
			// The create owning this temp id has not landed (it failed or is
			// terminally stuck ahead of us), so the remote cannot resolve the
			// id yet. Leave the entry for a later pass instead of burning its
			// retries on a guaranteed miss.
			res.Skipped++
			continue
		}
		if err := p.applyChange(ctx, ch); err != nil {
			res.Failed++
			p.recordFailure(ctx, ch, err)
			continue
		}
		res.Applied++
	}
	return res, nil
}

// RetryChange resets a (typically terminally-failed) entry so the next drain
// picks it up again.
func (p *Processor) RetryChange(ctx context.Context, changeID string) error {
	ch, err := p.store.GetPendingChange(ctx, changeID)
	if err != nil {
		return err
	}
	ch.RetryCount = 0
	ch.LastError = ""
	if err := p.store.UpdateChange(ctx, ch); err != nil {
		return err
	}
	_, err = p.Drain(ctx)
	return err
}

// DiscardChange drops a queue entry the user gave up on. For a pending
// create the optimistic local record goes with it.
func (p *Processor) DiscardChange(ctx context.Context, changeID string) error {
	ch, err := p.store.GetPendingChange(ctx, changeID)
	if err != nil {
		return err
	}
	if ch.Op == model.OpCreate && model.IsTempID(ch.EventID) {
		if err := p.store.DeleteEvent(ctx, ch.EventID); err != nil {
			return err
		}
	}
	if ch.Op == model.OpDelete {
		if err := p.store.DeleteTombstone(ctx, ch.EventID); err != nil {
			return err
		}
	}
	return p.store.DeleteChange(ctx, ch.ID)
}

func (p *Processor) applyChange(ctx context.Context, ch *model.PendingChange) error {
	switch ch.Op {
	case model.OpCreate:
		return p.applyCreate(ctx, ch)
	case model.OpUpdate:
		return p.applyUpdate(ctx, ch)
	case model.OpDelete:
		return p.applyDelete(ctx, ch)
	default:
		return fmt.Errorf("unknown operation: %s", ch.Op)
	}
}

func (p *Processor) applyCreate(ctx context.Context, ch *model.PendingChange) error {
	if ch.Payload == nil {
		return fmt.Errorf("create change %s has no payload", ch.ID)
	}
	payload := *ch.Payload
	payload.ID = "" // server assigns the canonical identifier
	payload.Pending = false

	created, err := backoff.Run(ctx, p.exec, func(ctx context.Context) (*model.Event, error) {
		return p.remote.CreateEvent(ctx, ch.AccountID, ch.CalendarID, &payload)
	})
	if err != nil {
		return fmt.Errorf("remote create failed: %w", err)
	}

	created.AccountID = ch.AccountID
	created.CalendarID = ch.CalendarID
	created.Pending = false
	created.LastSyncedAt = p.now()
	// The temp record, the queue entry and the confirmed record swap in one
	// transaction, so no moment exists with both copies present.
	if err := p.store.ReplaceTempEvent(ctx, ch.EventID, created, ch.ID); err != nil {
		return err
	}
	p.logger.Debug("confirmed created event",
		zap.String("temp_id", ch.EventID), zap.String("id", created.ID))
	return nil
}

func (p *Processor) applyUpdate(ctx context.Context, ch *model.PendingChange) error {
	if ch.Payload == nil {
		return fmt.Errorf("update change %s has no payload", ch.ID)
	}
	payload := *ch.Payload
	// EventID is authoritative: a create ahead of us in the queue may have
	// swapped the temp id for the canonical one.
	payload.ID = ch.EventID
	payload.Pending = false

	updated, err := backoff.Run(ctx, p.exec, func(ctx context.Context) (*model.Event, error) {
		return p.remote.UpdateEvent(ctx, ch.AccountID, ch.CalendarID, &payload)
	})
	if err != nil {
		return fmt.Errorf("remote update failed: %w", err)
	}

	updated.AccountID = ch.AccountID
	updated.CalendarID = ch.CalendarID
	updated.Pending = false
	updated.LastSyncedAt = p.now()
	// An edit made between enqueue and drain refreshed the stored row and
	// queued its own change; keep its local timestamp so the newer content
	// is not presented as already confirmed.
	cur, err := p.store.GetEvent(ctx, ch.EventID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if cur != nil && cur.LocalUpdatedAt.After(ch.EnqueuedAt) {
		updated.LocalUpdatedAt = cur.LocalUpdatedAt
	}
	if err := p.store.UpsertEvent(ctx, updated); err != nil {
		return err
	}
	return p.store.DeleteChange(ctx, ch.ID)
}

func (p *Processor) applyDelete(ctx context.Context, ch *model.PendingChange) error {
	err := p.exec.Execute(ctx, func(ctx context.Context) error {
		return p.remote.DeleteEvent(ctx, ch.AccountID, ch.CalendarID, ch.EventID)
	})
	// Already gone remotely counts as confirmed.
	if err != nil && !remote.IsStatus(err, http.StatusNotFound) {
		return fmt.Errorf("remote delete failed: %w", err)
	}
	if err := p.store.DeleteEvent(ctx, ch.EventID); err != nil {
		return err
	}
	if err := p.store.DeleteTombstone(ctx, ch.EventID); err != nil {
		return err
	}
	return p.store.DeleteChange(ctx, ch.ID)
}

// recordFailure bumps the retry count and keeps the entry; crossing the
// ceiling appends an error-log record so the failure is visible, but the
// entry is never silently dropped.
func (p *Processor) recordFailure(ctx context.Context, ch *model.PendingChange, cause error) {
	ch.RetryCount++
	ch.LastError = cause.Error()
	if err := p.store.UpdateChange(ctx, ch); err != nil {
		p.logger.Error("failed to record change failure",
			zap.String("change_id", ch.ID), zap.Error(err))
		return
	}
	p.logger.Warn("pending change failed",
		zap.String("change_id", ch.ID), zap.String("op", string(ch.Op)),
		zap.String("event_id", ch.EventID), zap.Int("retry_count", ch.RetryCount),
		zap.Error(cause))
	if !ch.Failed() {
		return
	}
	entry := &model.ErrorLogEntry{
		OccurredAt: p.now(),
		Kind:       classifyError(cause),
		AccountID:  ch.AccountID,
		CalendarID: ch.CalendarID,
		Message:    fmt.Sprintf("change %s (%s %s) exhausted retries", ch.ID, ch.Op, ch.EventID),
		Detail:     cause.Error(),
	}
	if err := p.store.AppendErrorLog(ctx, entry); err != nil {
		p.logger.Error("failed to append error log", zap.Error(err))
	}
}

func classifyError(err error) model.ErrorKind {
	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		return model.ErrKindAPIError
	}
	return model.ErrKindNetworkError
}
