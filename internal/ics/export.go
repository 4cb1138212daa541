package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "ttsalert/internal/log"
	"ttsalert/internal/model"
)

// ProductID identifies exported feeds.
const ProductID = "-//ttsalert//Speech Alerts//EN"

// Export renders stored events as a VCALENDAR. Each event gets a DISPLAY
// alarm at its start so ordinary calendar clients surface the alert too.
// Events whose date or times cannot be read are skipped.
func Export(events []model.Event, loc *time.Location, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)
	cal.SetXWRCalName("Speech Alerts")

	for _, e := range events {
		w, err := e.Window(loc)
		if err != nil {
			appLog.Warn("ics export: event skipped", "id", e.ID, "reason", err)
			continue
		}

		ve := cal.AddEvent(e.ID + "@ttsalert")
		ve.SetDtStampTime(now.UTC())
		ve.SetStartAt(w.StartTime().UTC())
		ve.SetEndAt(w.EndTime().UTC())
		ve.SetSummary(e.Title)
		ve.SetDescription(e.Message)
		if e.AudioURL != "" {
			ve.SetURL(e.AudioURL)
		}

		alarm := ve.AddAlarm()
		alarm.SetAction(ical.ActionDisplay)
		alarm.SetDescription(e.Message)
		alarm.SetTrigger("PT0M")
	}

	return cal.Serialize()
}
