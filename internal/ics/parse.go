// Package ics exchanges room occupancy with calendar software: manual
// bookings can be imported from an .ics file and any occurrence list can be
// exported as one.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "roomcheck/internal/log"
	"roomcheck/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000

	// Custom properties written by Export so a round trip keeps the room
	// identity exact instead of relying on LOCATION text.
	propBuilding = ical.ComponentProperty("X-ROOMCHECK-BUILDING")
	propRoom     = ical.ComponentProperty("X-ROOMCHECK-ROOM")
	propSource   = ical.ComponentProperty("X-ROOMCHECK-SOURCE")
)

// ImportOptions controls how VEVENTs become manual occurrences.
type ImportOptions struct {
	// Location is used for floating times and for the returned occurrences.
	// If nil, time.Local is used.
	Location *time.Location

	// RangeStart / RangeEnd bound the expansion of recurring events.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps RRULE expansion. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ParseManual reads manual bookings from an ICS payload. Each VEVENT needs a
// building and room, taken from the X-ROOMCHECK-* properties or else from
// LOCATION ("창조관 501"). Events that cannot be used are logged and skipped.
// Recurring events are expanded within [RangeStart, RangeEnd].
func ParseManual(body []byte, opts ImportOptions) ([]model.Occurrence, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxOccurrencesPerEvent <= 0 {
		opts.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, err
	}

	var out []model.Occurrence
	for _, ve := range cal.Events() {
		occs, perr := parseVEvent(ve, opts)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "reason", perr.Error())
			continue
		}
		out = append(out, occs...)
	}

	appLog.Info("ics parse completed", "event_count", len(cal.Events()), "occurrences", len(out))
	return out, nil
}

func parseVEvent(ve *ical.VEvent, opts ImportOptions) ([]model.Occurrence, error) {
	uid := propValue(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		return nil, errors.New("missing UID")
	}

	building, room := propValue(ve, propBuilding), propValue(ve, propRoom)
	if building == "" || room == "" {
		building, room = splitLocation(propValue(ve, ical.ComponentPropertyLocation))
	}
	if building == "" || room == "" {
		return nil, fmt.Errorf("event %s has no building/room", uid)
	}

	start, err := parseDateTime(ve, ical.ComponentPropertyDtStart, opts.Location)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", uid, err)
	}
	end, err := parseDateTime(ve, ical.ComponentPropertyDtEnd, opts.Location)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", uid, err)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("event %s ends before it starts", uid)
	}

	base := model.Occurrence{
		ID:       uid,
		Source:   model.ManualEntry,
		Building: building,
		Room:     room,
		Start:    start,
		End:      end,
		Label:    propValue(ve, ical.ComponentPropertySummary),
		Status:   propValue(ve, ical.ComponentPropertyStatus),
	}

	raw := propValue(ve, ical.ComponentPropertyRrule)
	if raw == "" {
		return []model.Occurrence{base}, nil
	}
	return expandRecurring(base, raw, exDates(ve, opts.Location), opts)
}

// expandRecurring applies RRULE and EXDATE to base within the import range.
func expandRecurring(base model.Occurrence, raw string, exdates []time.Time, opts ImportOptions) ([]model.Occurrence, error) {
	if opts.RangeEnd.Before(opts.RangeStart) || opts.RangeEnd.IsZero() {
		return nil, fmt.Errorf("event %s is recurring but no import range is set", base.ID)
	}
	r, err := rrule.StrToRRule(raw)
	if err != nil {
		return nil, fmt.Errorf("event %s: bad RRULE: %w", base.ID, err)
	}
	r.DTStart(base.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range exdates {
		set.ExDate(ex)
	}

	times := set.Between(opts.RangeStart, opts.RangeEnd, true)
	if len(times) > opts.MaxOccurrencesPerEvent {
		appLog.Error("ics: truncated occurrences due to cap", errors.New("max occurrences reached"),
			"uid", base.ID, "cap", opts.MaxOccurrencesPerEvent)
		times = times[:opts.MaxOccurrencesPerEvent]
	}

	dur := base.End.Sub(base.Start)
	out := make([]model.Occurrence, 0, len(times))
	for _, t := range times {
		occ := base
		occ.Start = t.In(opts.Location)
		occ.End = occ.Start.Add(dur)
		// Each instance gets its own ID so it can be removed on its own.
		occ.ID = base.ID + "/" + occ.Start.Format("20060102T150405")
		out = append(out, occ)
	}
	return out, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return strings.TrimSpace(prop.Value)
	}
	return ""
}

// splitLocation splits "창조관 501" at the last space.
func splitLocation(loc string) (building, room string) {
	loc = strings.TrimSpace(loc)
	i := strings.LastIndexAny(loc, " \t")
	if i < 0 {
		return "", ""
	}
	return strings.TrimSpace(loc[:i]), strings.TrimSpace(loc[i+1:])
}

// parseDateTime reads a DATE or DATE-TIME property, honoring TZID, and
// returns it in loc. Floating times are taken as loc-local.
func parseDateTime(ve *ical.VEvent, p ical.ComponentProperty, loc *time.Location) (time.Time, error) {
	prop := ve.GetProperty(p)
	if prop == nil {
		return time.Time{}, fmt.Errorf("missing property %s", p)
	}
	var tzid string
	for k, v := range prop.ICalParameters {
		if strings.EqualFold(k, "TZID") && len(v) > 0 {
			tzid = v[0]
		}
	}
	return parseICSTime(prop.Value, tzid, loc)
}

func parseICSTime(v, tzid string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(loc), nil
	}

	in := loc
	if tzid != "" {
		if tzLoc, err := time.LoadLocation(tzid); err == nil {
			in = tzLoc
		}
	}
	layout := "20060102"
	if strings.Contains(v, "T") {
		layout = "20060102T150405"
	}
	t, err := time.ParseInLocation(layout, v, in)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}

func exDates(ve *ical.VEvent, loc *time.Location) []time.Time {
	var out []time.Time
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		var tzid string
		if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
			tzid = tz[0]
		}
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, tzid, loc); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}
