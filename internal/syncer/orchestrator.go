package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vanadium23/wolfcal-sub000/internal/backoff"
	"github.com/vanadium23/wolfcal-sub000/internal/model"
	"github.com/vanadium23/wolfcal-sub000/internal/recurrence"
	"github.com/vanadium23/wolfcal-sub000/internal/remote"
	"github.com/vanadium23/wolfcal-sub000/internal/store"
)

// DefaultWindow is the half-width of the sliding sync window: events are
// fetched and retained within now ± 1.5 months.
const DefaultWindow = 45 * 24 * time.Hour

// ErrSyncInProgress is returned when a sync attempt arrives while another is
// running. The attempt is dropped, not queued; the next trigger catches up.
var ErrSyncInProgress = errors.New("syncer: sync already in progress")

// SyncResult summarizes one calendar's sync pass.
type SyncResult struct {
	AccountID        string `json:"accountId"`
	CalendarID       string `json:"calendarId"`
	Added            int    `json:"added"`
	Updated          int    `json:"updated"`
	Deleted          int    `json:"deleted"`
	Conflicts        int    `json:"conflicts"`
	PrunedEvents     int    `json:"prunedEvents"`
	PrunedTombstones int    `json:"prunedTombstones"`
	Incremental      bool   `json:"incremental"`
}

// CalendarFailure records a calendar whose sync failed during an account
// fan-out.
type CalendarFailure struct {
	CalendarID string `json:"calendarId"`
	Error      string `json:"error"`
}

// AccountSyncResult aggregates the per-calendar outcomes of one account sync.
// Calendar failures are isolated: one broken calendar never aborts its
// siblings.
type AccountSyncResult struct {
	AccountID string            `json:"accountId"`
	Calendars []*SyncResult     `json:"calendars"`
	Failures  []CalendarFailure `json:"failures,omitempty"`
}

// Orchestrator drives per-calendar and per-account synchronization against
// the remote service. It holds no durable state of its own; everything that
// must survive a restart lives in the store.
type Orchestrator struct {
	store  store.Store
	remote remote.Client
	exec   *backoff.Executor
	logger *zap.Logger

	window time.Duration
	now    func() time.Time

	syncing atomic.Bool
}

// NewOrchestrator builds an Orchestrator with the default window.
func NewOrchestrator(st store.Store, rc remote.Client, exec *backoff.Executor, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:  st,
		remote: rc,
		exec:   exec,
		logger: logger,
		window: DefaultWindow,
		now:    time.Now,
	}
}

// SyncAccount fans out to every calendar the remote service reports for the
// account. Per-calendar failures are collected, logged and skipped over.
func (o *Orchestrator) SyncAccount(ctx context.Context, accountID string) (*AccountSyncResult, error) {
	if !o.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer o.syncing.Store(false)

	cals, err := backoff.Run(ctx, o.exec, func(ctx context.Context) ([]*model.Calendar, error) {
		return o.remote.ListCalendars(ctx, accountID)
	})
	if err != nil {
		o.logFailure(ctx, accountID, "", fmt.Sprintf("listing calendars for %s", accountID), err)
		return nil, fmt.Errorf("failed to list calendars for %s: %w", accountID, err)
	}

	res := &AccountSyncResult{AccountID: accountID}
	for _, cal := range cals {
		cal.AccountID = accountID
		if err := o.store.UpsertCalendar(ctx, cal); err != nil {
			return res, err
		}
		calRes, err := o.syncCalendar(ctx, accountID, cal.ID)
		if err != nil {
			o.logger.Error("calendar sync failed",
				zap.String("account_id", accountID), zap.String("calendar_id", cal.ID), zap.Error(err))
			res.Failures = append(res.Failures, CalendarFailure{CalendarID: cal.ID, Error: err.Error()})
			continue
		}
		res.Calendars = append(res.Calendars, calRes)
	}
	return res, nil
}

// SyncCalendar synchronizes a single calendar. It shares the in-progress
// guard with SyncAccount: overlapping invocations are dropped.
func (o *Orchestrator) SyncCalendar(ctx context.Context, accountID, calendarID string) (*SyncResult, error) {
	if !o.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer o.syncing.Store(false)
	return o.syncCalendar(ctx, accountID, calendarID)
}

func (o *Orchestrator) syncCalendar(ctx context.Context, accountID, calendarID string) (*SyncResult, error) {
	now := o.now()
	winStart := now.Add(-o.window)
	winEnd := now.Add(o.window)

	meta, err := o.store.GetSyncMetadata(ctx, accountID, calendarID)
	if errors.Is(err, store.ErrNotFound) {
		meta = &model.SyncMetadata{AccountID: accountID, CalendarID: calendarID}
	} else if err != nil {
		return nil, err
	}
	lastSyncAt := meta.LastSyncAt
	token := meta.SyncToken

	res := &SyncResult{AccountID: accountID, CalendarID: calendarID, Incremental: token != ""}
	o.logger.Info("syncing calendar",
		zap.String("account_id", accountID), zap.String("calendar_id", calendarID),
		zap.Bool("incremental", res.Incremental))

	var newToken string
	pageToken := ""
	for {
		req := remote.ListEventsRequest{
			AccountID:  accountID,
			CalendarID: calendarID,
			TimeMin:    winStart,
			TimeMax:    winEnd,
			SyncToken:  token,
			PageToken:  pageToken,
		}
		page, err := backoff.Run(ctx, o.exec, func(ctx context.Context) (*remote.EventPage, error) {
			return o.remote.ListEvents(ctx, req)
		})
		if err != nil {
			if token != "" && remote.IsSyncTokenExpired(err) {
				// Server invalidated the incremental cursor; start over with
				// a full windowed fetch.
				o.logger.Warn("sync token expired, falling back to full sync",
					zap.String("calendar_id", calendarID))
				token = ""
				pageToken = ""
				res.Incremental = false
				continue
			}
			return nil, o.failSync(ctx, meta, err)
		}

		for _, rev := range page.Items {
			if err := o.applyRemoteEvent(ctx, rev, accountID, calendarID, res.Incremental, lastSyncAt, now, res); err != nil {
				return nil, o.failSync(ctx, meta, err)
			}
		}
		if page.NextSyncToken != "" {
			newToken = page.NextSyncToken
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	pruned, err := o.pruneEvents(ctx, accountID, calendarID, winStart, winEnd)
	if err != nil {
		return nil, o.failSync(ctx, meta, err)
	}
	res.PrunedEvents = pruned

	prunedTombs, err := o.store.PruneTombstonesBefore(ctx, winStart)
	if err != nil {
		return nil, o.failSync(ctx, meta, err)
	}
	res.PrunedTombstones = prunedTombs

	if newToken != "" {
		meta.SyncToken = newToken
	} else {
		meta.SyncToken = token
	}
	meta.LastSyncAt = now
	meta.LastStatus = model.SyncSuccess
	meta.LastError = ""
	if err := o.store.PutSyncMetadata(ctx, meta); err != nil {
		return nil, err
	}

	o.logger.Info("calendar synced",
		zap.String("calendar_id", calendarID),
		zap.Int("added", res.Added), zap.Int("updated", res.Updated),
		zap.Int("deleted", res.Deleted), zap.Int("conflicts", res.Conflicts),
		zap.Int("pruned_events", res.PrunedEvents), zap.Int("pruned_tombstones", res.PrunedTombstones))
	return res, nil
}

// applyRemoteEvent merges one incoming event into the local store, playing
// it against tombstones, pending local edits and the conflict side-table.
func (o *Orchestrator) applyRemoteEvent(ctx context.Context, rev *model.Event, accountID, calendarID string, incremental bool, lastSyncAt, now time.Time, res *SyncResult) error {
	rev.AccountID = accountID
	rev.CalendarID = calendarID

	// Server-side deletion: cancelled status in an incremental feed, or an
	// explicit deleted marker.
	if rev.Deleted || (incremental && rev.Status == model.StatusCancelled) {
		if err := o.store.DeleteEvent(ctx, rev.ID); err != nil {
			return err
		}
		if err := o.store.DeleteConflict(ctx, rev.ID); err != nil {
			return err
		}
		// The remote agrees the event is gone, so a local tombstone has done
		// its job.
		if err := o.store.DeleteTombstone(ctx, rev.ID); err != nil {
			return err
		}
		res.Deleted++
		return nil
	}

	ts, err := o.store.GetTombstone(ctx, rev.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if ts != nil {
		if rev.RemoteUpdatedAt.After(ts.DeletedAt) {
			// Local chose deletion, remote chose modification: surface a
			// conflict with no local version.
			if err := o.store.PutConflict(ctx, &model.ConflictRecord{
				EventID:       rev.ID,
				AccountID:     accountID,
				CalendarID:    calendarID,
				LocalVersion:  nil,
				RemoteVersion: rev,
				DetectedAt:    now,
			}); err != nil {
				return err
			}
			res.Conflicts++
		}
		// Otherwise the remote copy is stale relative to the local delete;
		// ignore it so the event is not resurrected.
		return nil
	}

	local, err := o.store.GetEvent(ctx, rev.ID)
	if errors.Is(err, store.ErrNotFound) {
		rev.LastSyncedAt = now
		rev.LocalUpdatedAt = now
		if err := o.store.UpsertEvent(ctx, rev); err != nil {
			return err
		}
		res.Added++
		return nil
	}
	if err != nil {
		return err
	}

	// A deferred conflict resurfaces every pass with the remote snapshot
	// refreshed; no second record is ever created for the same event.
	if existing, err := o.store.GetConflict(ctx, rev.ID); err == nil {
		existing.RemoteVersion = rev
		existing.DetectedAt = now
		if err := o.store.PutConflict(ctx, existing); err != nil {
			return err
		}
		res.Conflicts++
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	localChanged := local.LocalUpdatedAt.After(lastSyncAt)
	remoteChanged := rev.RemoteUpdatedAt.After(lastSyncAt)

	if localChanged && remoteChanged && !ContentEquals(local, rev) {
		if err := o.store.PutConflict(ctx, &model.ConflictRecord{
			EventID:       rev.ID,
			AccountID:     accountID,
			CalendarID:    calendarID,
			LocalVersion:  local,
			RemoteVersion: rev,
			DetectedAt:    now,
		}); err != nil {
			return err
		}
		res.Conflicts++
		return nil
	}
	if localChanged && !remoteChanged {
		// Only the local side moved; the pending change queue will push it.
		return nil
	}

	rev.LastSyncedAt = now
	rev.LocalUpdatedAt = local.LocalUpdatedAt
	if err := o.store.UpsertEvent(ctx, rev); err != nil {
		return err
	}
	if remoteChanged {
		res.Updated++
	}
	return nil
}

// pruneEvents drops events whose start fell outside the window. Boundary
// starts are kept (inclusive bounds), as are pending, queued or conflicted
// events and recurring events that still occur inside the window.
func (o *Orchestrator) pruneEvents(ctx context.Context, accountID, calendarID string, winStart, winEnd time.Time) (int, error) {
	events, err := o.store.ListEventsByCalendar(ctx, accountID, calendarID)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, ev := range events {
		start := ev.Start.DateTime
		if start.IsZero() || (!start.Before(winStart) && !start.After(winEnd)) {
			continue
		}
		if ev.Pending || model.IsTempID(ev.ID) {
			continue
		}
		if _, err := o.store.GetConflict(ctx, ev.ID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return pruned, err
		}
		if chs, err := o.store.FindChangesByEvent(ctx, ev.ID); err != nil {
			return pruned, err
		} else if len(chs) > 0 {
			continue
		}
		if ev.RecurrenceRule != "" {
			keep, err := recurrence.HasOccurrenceWithin(ev.RecurrenceRule, start, winStart, winEnd)
			if err != nil {
				o.logger.Warn("unparseable recurrence rule, keeping event",
					zap.String("event_id", ev.ID), zap.Error(err))
				continue
			}
			if keep {
				continue
			}
		}
		if err := o.store.DeleteEvent(ctx, ev.ID); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// failSync records the failed attempt in sync metadata and the error log,
// then wraps the cause for the caller. LastSyncAt is left untouched: it is
// the conflict-detection baseline and must keep pointing at the last
// successful sync, or a failed attempt would make local edits since that
// sync look unchanged.
func (o *Orchestrator) failSync(ctx context.Context, meta *model.SyncMetadata, cause error) error {
	meta.LastStatus = model.SyncError
	meta.LastError = cause.Error()
	if err := o.store.PutSyncMetadata(ctx, meta); err != nil {
		o.logger.Error("failed to record sync failure", zap.Error(err))
	}
	o.logFailure(ctx, meta.AccountID, meta.CalendarID,
		fmt.Sprintf("sync of calendar %s failed", meta.CalendarID), cause)
	return fmt.Errorf("sync failed for calendar %s: %w", meta.CalendarID, cause)
}

func (o *Orchestrator) logFailure(ctx context.Context, accountID, calendarID, msg string, cause error) {
	entry := &model.ErrorLogEntry{
		OccurredAt: o.now(),
		Kind:       model.ErrKindSyncFailure,
		AccountID:  accountID,
		CalendarID: calendarID,
		Message:    msg,
		Detail:     cause.Error(),
	}
	if err := o.store.AppendErrorLog(ctx, entry); err != nil {
		o.logger.Error("failed to append error log", zap.Error(err))
	}
}
