package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vanadium23/wolfcal-sub000/internal/model"
)

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and runs schema
// setup. Use ":memory:" for tests.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent drain/sync.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id                 TEXT PRIMARY KEY,
			account_id         TEXT NOT NULL,
			calendar_id        TEXT NOT NULL,
			title              TEXT NOT NULL DEFAULT '',
			description        TEXT NOT NULL DEFAULT '',
			location           TEXT NOT NULL DEFAULT '',
			start_at           TEXT NOT NULL,
			start_all_day      INTEGER NOT NULL DEFAULT 0,
			start_tz           TEXT NOT NULL DEFAULT '',
			end_at             TEXT NOT NULL,
			end_all_day        INTEGER NOT NULL DEFAULT 0,
			end_tz             TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL DEFAULT 'confirmed',
			recurrence_rule    TEXT NOT NULL DEFAULT '',
			recurring_event_id TEXT NOT NULL DEFAULT '',
			original_start     TEXT NOT NULL DEFAULT '',
			attendees          TEXT NOT NULL DEFAULT '[]',
			deleted            INTEGER NOT NULL DEFAULT 0,
			pending            INTEGER NOT NULL DEFAULT 0,
			local_updated_at   TEXT NOT NULL DEFAULT '',
			remote_updated_at  TEXT NOT NULL DEFAULT '',
			last_synced_at     TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_calendar ON events(account_id, calendar_id)`,

		`CREATE TABLE IF NOT EXISTS calendars (
			id         TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			summary    TEXT NOT NULL DEFAULT '',
			time_zone  TEXT NOT NULL DEFAULT '',
			is_primary INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS pending_changes (
			id          TEXT PRIMARY KEY,
			op          TEXT NOT NULL CHECK (op IN ('create','update','delete')),
			event_id    TEXT NOT NULL,
			account_id  TEXT NOT NULL,
			calendar_id TEXT NOT NULL,
			payload     TEXT,
			enqueued_at TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_changes_event ON pending_changes(event_id)`,

		`CREATE TABLE IF NOT EXISTS tombstones (
			event_id   TEXT PRIMARY KEY,
			deleted_at TEXT NOT NULL
		)`,

		// Primary key on event_id is what enforces "at most one unresolved
		// conflict per event".
		`CREATE TABLE IF NOT EXISTS conflicts (
			event_id       TEXT PRIMARY KEY,
			account_id     TEXT NOT NULL,
			calendar_id    TEXT NOT NULL,
			local_version  TEXT,
			remote_version TEXT NOT NULL,
			detected_at    TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sync_metadata (
			account_id  TEXT NOT NULL,
			calendar_id TEXT NOT NULL,
			sync_token  TEXT NOT NULL DEFAULT '',
			last_sync_at TEXT NOT NULL DEFAULT '',
			last_status TEXT NOT NULL DEFAULT '',
			last_error  TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (account_id, calendar_id)
		)`,

		`CREATE TABLE IF NOT EXISTS error_log (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TEXT NOT NULL,
			kind        TEXT NOT NULL,
			account_id  TEXT NOT NULL DEFAULT '',
			calendar_id TEXT NOT NULL DEFAULT '',
			message     TEXT NOT NULL,
			detail      TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Timestamps are compared as TEXT (ORDER BY enqueued_at, tombstone pruning,
// error-log range queries), so the encoding must be fixed width. RFC3339Nano
// drops trailing fractional zeros, which makes "10:00:00Z" sort after
// "10:00:00.5Z"; padding to nine digits keeps lexicographic order equal to
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func decodeTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

const eventColumns = `id, account_id, calendar_id, title, description, location,
	start_at, start_all_day, start_tz, end_at, end_all_day, end_tz,
	status, recurrence_rule, recurring_event_id, original_start, attendees,
	deleted, pending, local_updated_at, remote_updated_at, last_synced_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var ev model.Event
	var startAt, endAt, originalStart, localUpd, remoteUpd, lastSynced string
	var startAllDay, endAllDay, deleted, pending int
	var attendees string
	err := row.Scan(&ev.ID, &ev.AccountID, &ev.CalendarID, &ev.Title, &ev.Description, &ev.Location,
		&startAt, &startAllDay, &ev.Start.TimeZone, &endAt, &endAllDay, &ev.End.TimeZone,
		&ev.Status, &ev.RecurrenceRule, &ev.RecurringEventID, &originalStart, &attendees,
		&deleted, &pending, &localUpd, &remoteUpd, &lastSynced)
	if err != nil {
		return nil, err
	}
	ev.Start.DateTime = decodeTime(startAt)
	ev.Start.AllDay = startAllDay == 1
	ev.End.DateTime = decodeTime(endAt)
	ev.End.AllDay = endAllDay == 1
	ev.OriginalStart = decodeTime(originalStart)
	ev.Deleted = deleted == 1
	ev.Pending = pending == 1
	ev.LocalUpdatedAt = decodeTime(localUpd)
	ev.RemoteUpdatedAt = decodeTime(remoteUpd)
	ev.LastSyncedAt = decodeTime(lastSynced)
	if attendees != "" {
		if err := json.Unmarshal([]byte(attendees), &ev.Attendees); err != nil {
			return nil, fmt.Errorf("failed to decode attendees for %s: %w", ev.ID, err)
		}
	}
	return &ev, nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func eventArgs(ev *model.Event) ([]any, error) {
	attendees, err := json.Marshal(ev.Attendees)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attendees: %w", err)
	}
	return []any{
		ev.ID, ev.AccountID, ev.CalendarID, ev.Title, ev.Description, ev.Location,
		encodeTime(ev.Start.DateTime), b2i(ev.Start.AllDay), ev.Start.TimeZone,
		encodeTime(ev.End.DateTime), b2i(ev.End.AllDay), ev.End.TimeZone,
		string(ev.Status), ev.RecurrenceRule, ev.RecurringEventID, encodeTime(ev.OriginalStart),
		string(attendees), b2i(ev.Deleted), b2i(ev.Pending),
		encodeTime(ev.LocalUpdatedAt), encodeTime(ev.RemoteUpdatedAt), encodeTime(ev.LastSyncedAt),
	}, nil
}

const upsertEventSQL = `INSERT INTO events (` + eventColumns + `)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(id) DO UPDATE SET
		account_id=excluded.account_id, calendar_id=excluded.calendar_id,
		title=excluded.title, description=excluded.description, location=excluded.location,
		start_at=excluded.start_at, start_all_day=excluded.start_all_day, start_tz=excluded.start_tz,
		end_at=excluded.end_at, end_all_day=excluded.end_all_day, end_tz=excluded.end_tz,
		status=excluded.status, recurrence_rule=excluded.recurrence_rule,
		recurring_event_id=excluded.recurring_event_id, original_start=excluded.original_start,
		attendees=excluded.attendees, deleted=excluded.deleted, pending=excluded.pending,
		local_updated_at=excluded.local_updated_at, remote_updated_at=excluded.remote_updated_at,
		last_synced_at=excluded.last_synced_at`

// GetEvent returns the event with the given id or ErrNotFound.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query event %s: %w", id, err)
	}
	return ev, nil
}

// UpsertEvent inserts or fully overwrites the event row keyed by id.
func (s *SQLiteStore) UpsertEvent(ctx context.Context, ev *model.Event) error {
	args, err := eventArgs(ev)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertEventSQL, args...); err != nil {
		return fmt.Errorf("failed to upsert event %s: %w", ev.ID, err)
	}
	return nil
}

// DeleteEvent removes the event row. Deleting a missing row is a no-op.
func (s *SQLiteStore) DeleteEvent(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	return nil
}

// ListEventsByCalendar returns all events for one calendar ordered by start.
func (s *SQLiteStore) ListEventsByCalendar(ctx context.Context, accountID, calendarID string) ([]*model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+`
		FROM events WHERE account_id = ? AND calendar_id = ? ORDER BY start_at`, accountID, calendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ReplaceTempEvent swaps the temporary record for the confirmed one and drops
// the originating queue entry in a single transaction. Insert-then-delete
// ordering: a crash mid-transaction rolls back to the pre-swap state, never
// to a state with both copies or a dangling queue entry.
func (s *SQLiteStore) ReplaceTempEvent(ctx context.Context, tempID string, confirmed *model.Event, changeID string) error {
	args, err := eventArgs(confirmed)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertEventSQL, args...); err != nil {
		return fmt.Errorf("failed to insert confirmed event %s: %w", confirmed.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, tempID); err != nil {
		return fmt.Errorf("failed to delete temp event %s: %w", tempID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_changes WHERE id = ?`, changeID); err != nil {
		return fmt.Errorf("failed to delete pending change %s: %w", changeID, err)
	}
	// Later queue entries (an update or delete enqueued behind the create)
	// still point at the temp id; retarget them at the canonical one.
	if _, err := tx.ExecContext(ctx, `UPDATE pending_changes SET event_id = ? WHERE event_id = ?`,
		confirmed.ID, tempID); err != nil {
		return fmt.Errorf("failed to retarget pending changes for %s: %w", tempID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit temp event swap: %w", err)
	}
	return nil
}

// UpsertCalendar inserts or updates a calendar row.
func (s *SQLiteStore) UpsertCalendar(ctx context.Context, cal *model.Calendar) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO calendars (id, account_id, summary, time_zone, is_primary)
		VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET account_id=excluded.account_id, summary=excluded.summary,
			time_zone=excluded.time_zone, is_primary=excluded.is_primary`,
		cal.ID, cal.AccountID, cal.Summary, cal.TimeZone, b2i(cal.Primary))
	if err != nil {
		return fmt.Errorf("failed to upsert calendar %s: %w", cal.ID, err)
	}
	return nil
}

// ListCalendars returns the calendars known for an account.
func (s *SQLiteStore) ListCalendars(ctx context.Context, accountID string) ([]*model.Calendar, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, account_id, summary, time_zone, is_primary
		FROM calendars WHERE account_id = ? ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendars: %w", err)
	}
	defer rows.Close()

	var cals []*model.Calendar
	for rows.Next() {
		var cal model.Calendar
		var primary int
		if err := rows.Scan(&cal.ID, &cal.AccountID, &cal.Summary, &cal.TimeZone, &primary); err != nil {
			return nil, fmt.Errorf("failed to scan calendar: %w", err)
		}
		cal.Primary = primary == 1
		cals = append(cals, &cal)
	}
	return cals, rows.Err()
}

// DeleteCalendar removes a calendar together with its sync metadata.
func (s *SQLiteStore) DeleteCalendar(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM calendars WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete calendar %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_metadata WHERE calendar_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete sync metadata for %s: %w", id, err)
	}
	return tx.Commit()
}

// EnqueueChange appends a pending change to the queue.
func (s *SQLiteStore) EnqueueChange(ctx context.Context, ch *model.PendingChange) error {
	payload, err := encodeChangePayload(ch)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO pending_changes
		(id, op, event_id, account_id, calendar_id, payload, enqueued_at, retry_count, last_error)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		ch.ID, string(ch.Op), ch.EventID, ch.AccountID, ch.CalendarID, payload,
		encodeTime(ch.EnqueuedAt), ch.RetryCount, ch.LastError)
	if err != nil {
		return fmt.Errorf("failed to enqueue change %s: %w", ch.ID, err)
	}
	return nil
}

func encodeChangePayload(ch *model.PendingChange) (sql.NullString, error) {
	if ch.Payload == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(ch.Payload)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode change payload: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanChange(row rowScanner) (*model.PendingChange, error) {
	var ch model.PendingChange
	var op, enqueued string
	var payload sql.NullString
	err := row.Scan(&ch.ID, &op, &ch.EventID, &ch.AccountID, &ch.CalendarID,
		&payload, &enqueued, &ch.RetryCount, &ch.LastError)
	if err != nil {
		return nil, err
	}
	ch.Op = model.ChangeOp(op)
	ch.EnqueuedAt = decodeTime(enqueued)
	if payload.Valid {
		var ev model.Event
		if err := json.Unmarshal([]byte(payload.String), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode change payload: %w", err)
		}
		ch.Payload = &ev
	}
	return &ch, nil
}

const changeColumns = `id, op, event_id, account_id, calendar_id, payload, enqueued_at, retry_count, last_error`

// ListPendingChanges returns the whole queue in FIFO (enqueue) order.
func (s *SQLiteStore) ListPendingChanges(ctx context.Context) ([]*model.PendingChange, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+changeColumns+` FROM pending_changes ORDER BY enqueued_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending changes: %w", err)
	}
	defer rows.Close()

	var changes []*model.PendingChange
	for rows.Next() {
		ch, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending change: %w", err)
		}
		changes = append(changes, ch)
	}
	return changes, rows.Err()
}

// GetPendingChange returns one queue entry or ErrNotFound.
func (s *SQLiteStore) GetPendingChange(ctx context.Context, id string) (*model.PendingChange, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+changeColumns+` FROM pending_changes WHERE id = ?`, id)
	ch, err := scanChange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pending change %s: %w", id, err)
	}
	return ch, nil
}

// FindChangesByEvent returns the queue entries targeting one event id.
func (s *SQLiteStore) FindChangesByEvent(ctx context.Context, eventID string) ([]*model.PendingChange, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+changeColumns+`
		FROM pending_changes WHERE event_id = ? ORDER BY enqueued_at, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes for event %s: %w", eventID, err)
	}
	defer rows.Close()

	var changes []*model.PendingChange
	for rows.Next() {
		ch, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending change: %w", err)
		}
		changes = append(changes, ch)
	}
	return changes, rows.Err()
}

// UpdateChange overwrites an existing queue entry (retry count, error, payload).
func (s *SQLiteStore) UpdateChange(ctx context.Context, ch *model.PendingChange) error {
	payload, err := encodeChangePayload(ch)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE pending_changes
		SET op = ?, event_id = ?, payload = ?, retry_count = ?, last_error = ?
		WHERE id = ?`,
		string(ch.Op), ch.EventID, payload, ch.RetryCount, ch.LastError, ch.ID)
	if err != nil {
		return fmt.Errorf("failed to update change %s: %w", ch.ID, err)
	}
	return nil
}

// DeleteChange removes a queue entry.
func (s *SQLiteStore) DeleteChange(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_changes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete change %s: %w", id, err)
	}
	return nil
}

// PutTombstone records a local deletion marker.
func (s *SQLiteStore) PutTombstone(ctx context.Context, t *model.Tombstone) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tombstones (event_id, deleted_at) VALUES (?,?)
		ON CONFLICT(event_id) DO UPDATE SET deleted_at=excluded.deleted_at`,
		t.EventID, encodeTime(t.DeletedAt))
	if err != nil {
		return fmt.Errorf("failed to put tombstone for %s: %w", t.EventID, err)
	}
	return nil
}

// GetTombstone returns the tombstone for an event or ErrNotFound.
func (s *SQLiteStore) GetTombstone(ctx context.Context, eventID string) (*model.Tombstone, error) {
	var t model.Tombstone
	var deletedAt string
	err := s.db.QueryRowContext(ctx, `SELECT event_id, deleted_at FROM tombstones WHERE event_id = ?`, eventID).
		Scan(&t.EventID, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tombstone %s: %w", eventID, err)
	}
	t.DeletedAt = decodeTime(deletedAt)
	return &t, nil
}

// DeleteTombstone removes a tombstone once the remote delete is confirmed.
func (s *SQLiteStore) DeleteTombstone(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tombstones WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("failed to delete tombstone %s: %w", eventID, err)
	}
	return nil
}

// PruneTombstonesBefore deletes tombstones older than cutoff and reports how
// many were removed.
func (s *SQLiteStore) PruneTombstonesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tombstones WHERE deleted_at < ?`, encodeTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune tombstones: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PutConflict inserts or refreshes the single conflict record for an event.
func (s *SQLiteStore) PutConflict(ctx context.Context, c *model.ConflictRecord) error {
	local, err := encodeOptionalEvent(c.LocalVersion)
	if err != nil {
		return err
	}
	remote, err := json.Marshal(c.RemoteVersion)
	if err != nil {
		return fmt.Errorf("failed to encode remote version: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO conflicts
		(event_id, account_id, calendar_id, local_version, remote_version, detected_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(event_id) DO UPDATE SET
			local_version=excluded.local_version, remote_version=excluded.remote_version,
			detected_at=excluded.detected_at`,
		c.EventID, c.AccountID, c.CalendarID, local, string(remote), encodeTime(c.DetectedAt))
	if err != nil {
		return fmt.Errorf("failed to put conflict for %s: %w", c.EventID, err)
	}
	return nil
}

func encodeOptionalEvent(ev *model.Event) (sql.NullString, error) {
	if ev == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode event snapshot: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanConflict(row rowScanner) (*model.ConflictRecord, error) {
	var c model.ConflictRecord
	var local sql.NullString
	var remote, detected string
	if err := row.Scan(&c.EventID, &c.AccountID, &c.CalendarID, &local, &remote, &detected); err != nil {
		return nil, err
	}
	if local.Valid {
		var ev model.Event
		if err := json.Unmarshal([]byte(local.String), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode local snapshot: %w", err)
		}
		c.LocalVersion = &ev
	}
	var rv model.Event
	if err := json.Unmarshal([]byte(remote), &rv); err != nil {
		return nil, fmt.Errorf("failed to decode remote snapshot: %w", err)
	}
	c.RemoteVersion = &rv
	c.DetectedAt = decodeTime(detected)
	return &c, nil
}

// GetConflict returns the unresolved conflict for an event or ErrNotFound.
func (s *SQLiteStore) GetConflict(ctx context.Context, eventID string) (*model.ConflictRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT event_id, account_id, calendar_id, local_version, remote_version, detected_at
		FROM conflicts WHERE event_id = ?`, eventID)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conflict %s: %w", eventID, err)
	}
	return c, nil
}

// ListConflicts returns all unresolved conflicts, oldest first.
func (s *SQLiteStore) ListConflicts(ctx context.Context) ([]*model.ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, account_id, calendar_id, local_version, remote_version, detected_at
		FROM conflicts ORDER BY detected_at, event_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*model.ConflictRecord
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// DeleteConflict clears the conflict record for an event.
func (s *SQLiteStore) DeleteConflict(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conflicts WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("failed to delete conflict %s: %w", eventID, err)
	}
	return nil
}

// GetSyncMetadata returns the bookkeeping row for one calendar or ErrNotFound.
func (s *SQLiteStore) GetSyncMetadata(ctx context.Context, accountID, calendarID string) (*model.SyncMetadata, error) {
	var meta model.SyncMetadata
	var lastSync, status string
	err := s.db.QueryRowContext(ctx, `SELECT account_id, calendar_id, sync_token, last_sync_at, last_status, last_error
		FROM sync_metadata WHERE account_id = ? AND calendar_id = ?`, accountID, calendarID).
		Scan(&meta.AccountID, &meta.CalendarID, &meta.SyncToken, &lastSync, &status, &meta.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sync metadata: %w", err)
	}
	meta.LastSyncAt = decodeTime(lastSync)
	meta.LastStatus = model.SyncStatus(status)
	return &meta, nil
}

// PutSyncMetadata writes the bookkeeping row for one calendar.
func (s *SQLiteStore) PutSyncMetadata(ctx context.Context, meta *model.SyncMetadata) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sync_metadata
		(account_id, calendar_id, sync_token, last_sync_at, last_status, last_error)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(account_id, calendar_id) DO UPDATE SET
			sync_token=excluded.sync_token, last_sync_at=excluded.last_sync_at,
			last_status=excluded.last_status, last_error=excluded.last_error`,
		meta.AccountID, meta.CalendarID, meta.SyncToken, encodeTime(meta.LastSyncAt),
		string(meta.LastStatus), meta.LastError)
	if err != nil {
		return fmt.Errorf("failed to put sync metadata: %w", err)
	}
	return nil
}

// DeleteSyncMetadata removes the bookkeeping row (calendar removal only).
func (s *SQLiteStore) DeleteSyncMetadata(ctx context.Context, accountID, calendarID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_metadata WHERE account_id = ? AND calendar_id = ?`,
		accountID, calendarID)
	if err != nil {
		return fmt.Errorf("failed to delete sync metadata: %w", err)
	}
	return nil
}

// AppendErrorLog appends one structured failure record.
func (s *SQLiteStore) AppendErrorLog(ctx context.Context, entry *model.ErrorLogEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO error_log
		(occurred_at, kind, account_id, calendar_id, message, detail)
		VALUES (?,?,?,?,?,?)`,
		encodeTime(entry.OccurredAt), string(entry.Kind), entry.AccountID,
		entry.CalendarID, entry.Message, entry.Detail)
	if err != nil {
		return fmt.Errorf("failed to append error log: %w", err)
	}
	return nil
}

// ListErrorLog returns error-log entries at or after since, newest first.
func (s *SQLiteStore) ListErrorLog(ctx context.Context, since time.Time, limit int) ([]*model.ErrorLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, occurred_at, kind, account_id, calendar_id, message, detail
		FROM error_log WHERE occurred_at >= ? ORDER BY id DESC LIMIT ?`,
		encodeTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query error log: %w", err)
	}
	defer rows.Close()

	var entries []*model.ErrorLogEntry
	for rows.Next() {
		var e model.ErrorLogEntry
		var occurred, kind string
		if err := rows.Scan(&e.ID, &occurred, &kind, &e.AccountID, &e.CalendarID, &e.Message, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan error log entry: %w", err)
		}
		e.OccurredAt = decodeTime(occurred)
		e.Kind = model.ErrorKind(kind)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
