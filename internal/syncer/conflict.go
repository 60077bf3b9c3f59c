// Package syncer holds the synchronization core: the per-calendar
// orchestrator, the offline change queue processor, the conflict detector
// and the cron-driven scheduler that ties them together.
package syncer

import (
	"sort"
	"time"

	"github.com/vanadium23/wolfcal-sub000/internal/model"
)

// DetectConflict reports whether local and remote diverged concurrently:
// both sides were touched after the previous successful sync. A one-sided
// change is never a conflict; the newer side simply wins. Content is checked
// separately with ContentEquals so two edits that converged on identical
// fields are not flagged.
func DetectConflict(local, remote *model.Event, lastSyncAt time.Time) bool {
	if local == nil || remote == nil {
		return false
	}
	return local.LocalUpdatedAt.After(lastSyncAt) && remote.RemoteUpdatedAt.After(lastSyncAt)
}

// ContentEquals compares the semantic fields of two event versions: title,
// start, end, description, location and the attendee set. Bookkeeping fields
// (timestamps, flags, identifiers) are ignored.
func ContentEquals(a, b *model.Event) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Title == b.Title &&
		a.Description == b.Description &&
		a.Location == b.Location &&
		timesEqual(a.Start, b.Start) &&
		timesEqual(a.End, b.End) &&
		attendeesEqual(a.Attendees, b.Attendees)
}

func timesEqual(a, b model.EventTime) bool {
	return a.AllDay == b.AllDay && a.DateTime.Equal(b.DateTime)
}

// attendeesEqual compares attendee lists as sets keyed by email.
func attendeesEqual(a, b []model.Attendee) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]model.Attendee(nil), a...)
	bs := append([]model.Attendee(nil), b...)
	sort.Slice(as, func(i, j int) bool { return as[i].Email < as[j].Email })
	sort.Slice(bs, func(i, j int) bool { return bs[i].Email < bs[j].Email })
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
