// Package export renders locally-stored calendars as iCalendar documents.
package export

import (
	"context"
	"fmt"

	ics "github.com/arran4/golang-ical"

	"github.com/vanadium23/wolfcal-sub000/internal/model"
	"github.com/vanadium23/wolfcal-sub000/internal/store"
)

// Calendar serializes all non-deleted events of one calendar to an ICS
// document. Pending (not yet confirmed) events are included; the export is a
// view of local truth, not remote truth.
func Calendar(ctx context.Context, st store.Store, accountID, calendarID string) (string, error) {
	events, err := st.ListEventsByCalendar(ctx, accountID, calendarID)
	if err != nil {
		return "", fmt.Errorf("failed to list events for export: %w", err)
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//wolfcal//EN")

	for _, ev := range events {
		if ev.Deleted {
			continue
		}
		ve := cal.AddEvent(ev.ID)
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if ev.Start.AllDay {
			ve.SetAllDayStartAt(ev.Start.DateTime)
			ve.SetAllDayEndAt(ev.End.DateTime)
		} else {
			ve.SetStartAt(ev.Start.DateTime)
			ve.SetEndAt(ev.End.DateTime)
		}
		if !ev.RemoteUpdatedAt.IsZero() {
			ve.SetModifiedAt(ev.RemoteUpdatedAt)
		}
		if ev.RecurrenceRule != "" {
			ve.AddRrule(ev.RecurrenceRule)
		}
		if ev.Status == model.StatusCancelled {
			ve.SetStatus(ics.ObjectStatusCancelled)
		} else if ev.Status == model.StatusTentative {
			ve.SetStatus(ics.ObjectStatusTentative)
		} else {
			ve.SetStatus(ics.ObjectStatusConfirmed)
		}
		for _, att := range ev.Attendees {
			ve.AddAttendee(att.Email, ics.CalendarUserTypeIndividual)
		}
	}
	return cal.Serialize(), nil
}
