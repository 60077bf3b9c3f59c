package model

import "time"

// ChangeOp is the kind of locally-originated mutation awaiting remote
// confirmation.
type ChangeOp string

const (
	OpCreate ChangeOp = "create"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// MaxChangeRetries is the automatic retry ceiling for a pending change.
// Beyond it the entry stays in the queue flagged as failed until the user
// retries or discards it.
const MaxChangeRetries = 3

// PendingChange is a durable record of a local mutation that has not been
// applied remotely yet. For create/update operations Payload carries the
// event snapshot to push; for delete only EventID matters.
type PendingChange struct {
	ID         string   `json:"id"`
	Op         ChangeOp `json:"op"`
	EventID    string   `json:"eventId"` // temp or canonical
	AccountID  string   `json:"accountId"`
	CalendarID string   `json:"calendarId"`
	Payload    *Event   `json:"payload,omitempty"`

	EnqueuedAt time.Time `json:"enqueuedAt"`
	RetryCount int       `json:"retryCount"`
	LastError  string    `json:"lastError,omitempty"`
}

// Failed reports whether the change exhausted its automatic retries and now
// needs a manual retry or discard.
func (c *PendingChange) Failed() bool {
	return c.RetryCount > MaxChangeRetries
}

// Tombstone marks a locally-deleted event so a stale remote fetch cannot
// resurrect it before the delete has propagated.
type Tombstone struct {
	EventID   string    `json:"eventId"`
	DeletedAt time.Time `json:"deletedAt"`
}

// SyncStatus is the outcome of the most recent sync attempt for a calendar.
type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncError   SyncStatus = "error"
)

// SyncMetadata is the per-(account, calendar) bookkeeping that makes sync
// restartable: the server's incremental-sync token, when the last attempt
// ran and how it ended. A present token means delta sync is possible.
type SyncMetadata struct {
	AccountID  string     `json:"accountId"`
	CalendarID string     `json:"calendarId"`
	SyncToken  string     `json:"syncToken,omitempty"`
	LastSyncAt time.Time  `json:"lastSyncAt"`
	LastStatus SyncStatus `json:"lastStatus"`
	LastError  string     `json:"lastError,omitempty"`
}

// ErrorKind classifies entries in the error log.
type ErrorKind string

const (
	ErrKindSyncFailure       ErrorKind = "sync_failure"
	ErrKindAPIError          ErrorKind = "api_error"
	ErrKindNetworkError      ErrorKind = "network_error"
	ErrKindTokenRefresh      ErrorKind = "token_refresh"
	ErrKindConflictDetection ErrorKind = "conflict_detection"
	ErrKindOther             ErrorKind = "other"
)

// ErrorLogEntry is one structured record of an unrecoverable failure, kept
// for the troubleshooting surface.
type ErrorLogEntry struct {
	ID         int64     `json:"id"`
	OccurredAt time.Time `json:"occurredAt"`
	Kind       ErrorKind `json:"kind"`
	AccountID  string    `json:"accountId"`
	CalendarID string    `json:"calendarId,omitempty"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
}
