package ics

import (
	"fmt"
	"sort"
	"time"

	ical "github.com/arran4/golang-ical"

	"roomcheck/internal/model"
)

const productID = "-//roomcheck//room occupancy//KO"

// Export renders occurrences as a VCALENDAR with one VEVENT each. Events carry
// the source label as CATEGORIES and the exact room identity in
// X-ROOMCHECK-* properties, which ParseManual reads back.
func Export(occs []model.Occurrence, loc *time.Location, now time.Time) []byte {
	if loc == nil {
		loc = time.Local
	}
	sorted := make([]model.Occurrence, len(occs))
	copy(sorted, occs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRTimezone(loc.String())

	for i, o := range sorted {
		ev := cal.AddEvent(eventUID(o, i))
		ev.SetDtStampTime(now.UTC())
		ev.SetStartAt(o.Start)
		ev.SetEndAt(o.End)
		ev.SetSummary(summary(o))
		ev.SetLocation(fmt.Sprintf("%s %s", o.Building, o.Room))
		if o.Status != "" {
			ev.SetDescription(o.Status)
		}
		ev.AddProperty(ical.ComponentPropertyCategories, o.Source.String())
		ev.AddProperty(propBuilding, o.Building)
		ev.AddProperty(propRoom, o.Room)
		ev.AddProperty(propSource, o.Source.Key())
	}
	return []byte(cal.Serialize())
}

func eventUID(o model.Occurrence, i int) string {
	if o.ID != "" {
		return o.ID
	}
	return fmt.Sprintf("%s-%s-%s-%d@roomcheck", o.Source.Key(), o.Room, o.Start.UTC().Format("20060102T150405Z"), i)
}

func summary(o model.Occurrence) string {
	s := o.Label
	if s == "" {
		s = o.Source.String()
	}
	if o.Conflict {
		s = "[중복] " + s
	}
	return s
}
