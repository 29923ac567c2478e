// Package schedule turns the recurring lecture feed into concrete room
// occurrences and keeps the last expansion around for repeated lookups.
package schedule

import (
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	appLog "roomcheck/internal/log"
	"roomcheck/internal/model"
	"roomcheck/internal/roomid"
	"roomcheck/internal/timecode"
)

// SkippedRecord names a lecture that produced nothing and why.
type SkippedRecord struct {
	Name   string
	Reason string
}

// ExpandResult wraps the expanded occurrences together with a per-record
// report of what was skipped or reconciled heuristically.
type ExpandResult struct {
	Occurrences []model.Occurrence
	Skipped     []SkippedRecord
	Warnings    []CardinalityWarning
	// TokenErrors collects every *timecode.InvalidCodeError seen while
	// parsing; the offending tokens were dropped.
	TokenErrors []error
}

// Expander resolves lecture records against a reference date.
type Expander struct {
	parser    *timecode.Parser
	identity  *roomid.Identity
	reconcile ReconcileCounts
	loc       *time.Location
	now       func() time.Time
}

// Option customizes an Expander.
type Option func(*Expander)

// WithReconcile replaces the default PadWithLast strategy.
func WithReconcile(fn ReconcileCounts) Option {
	return func(e *Expander) {
		if fn != nil {
			e.reconcile = fn
		}
	}
}

// WithLocation sets the zone used when no reference date is given.
func WithLocation(loc *time.Location) Option {
	return func(e *Expander) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Expander) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExpander returns an Expander. A nil parser means timecode defaults.
func NewExpander(parser *timecode.Parser, identity *roomid.Identity, opts ...Option) *Expander {
	if parser == nil {
		parser = timecode.New(timecode.DefaultConfig())
	}
	e := &Expander{
		parser:    parser,
		identity:  identity,
		reconcile: PadWithLast,
		loc:       time.Local,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand resolves every record around ref (today when nil). A record that
// cannot be used is reported in Skipped and the others are still expanded.
func (e *Expander) Expand(records []model.LectureRecord, ref *time.Time) ExpandResult {
	var result ExpandResult

	day := e.now().In(e.loc)
	if ref != nil {
		day = *ref
	}

	for _, rec := range records {
		e.expandRecord(rec, day, &result)
	}

	appLog.Debug("schedule expanded",
		"records", len(records),
		"occurrences", len(result.Occurrences),
		"skipped", len(result.Skipped),
		"warnings", len(result.Warnings),
	)
	return result
}

func (e *Expander) expandRecord(rec model.LectureRecord, day time.Time, result *ExpandResult) {
	skip := func(reason string) {
		result.Skipped = append(result.Skipped, SkippedRecord{Name: rec.Name, Reason: reason})
		appLog.Warn("schedule: lecture skipped", "name", rec.Name, "reason", reason, "time", rec.Time, "room", rec.Room)
	}

	times := SplitTimes(rec.Time)
	if len(times) == 0 {
		skip("empty time field")
		return
	}
	rooms := SplitRooms(rec.Room)
	if len(rooms) == 0 {
		skip("empty room field")
		return
	}

	if w, ok := cardinalityWarning(rec.Name, len(times), len(rooms)); ok {
		result.Warnings = append(result.Warnings, w)
		appLog.Warn("schedule: room/time count mismatch",
			"name", rec.Name, "times", w.Times, "rooms", w.Rooms, "approximate", w.Approximate)
	}
	assigned := e.reconcile(times, rooms)

	usable := 0
	emitted := 0
	unassignedLogged := false
	for i, code := range times {
		if i >= len(assigned) {
			break
		}
		intervals, errs := e.parser.Parse(code, day)
		result.TokenErrors = append(result.TokenErrors, errs...)
		if len(intervals) == 0 && len(errs) > 0 {
			continue
		}
		usable++

		building, candidates := e.identity.SplitRoomField(assigned[i])
		if !unassignedLogged && len(candidates) == 1 && candidates[0] == roomid.Unassigned {
			unassignedLogged = true
			appLog.Debug("schedule: room has no number", "name", rec.Name, "room", assigned[i])
		}
		for _, cand := range candidates {
			room := cand
			if n := roomid.ParseRoomNumber(cand); n != "" {
				room = n
			}
			for _, iv := range intervals {
				if !iv.End.After(iv.Start) {
					continue
				}
				result.Occurrences = append(result.Occurrences, model.Occurrence{
					Source:   model.RecurringClass,
					Building: building,
					Room:     room,
					Start:    iv.Start,
					End:      iv.End,
					Label:    rec.Name,
				})
				emitted++
			}
		}
	}

	if usable == 0 {
		skip("no parsable time code")
		return
	}
	if emitted == 0 {
		appLog.Debug("schedule: lecture has no occurrence in window", "name", rec.Name, "time", rec.Time)
	}
}

// SplitTimes splits a time field on commas. A token without a weekday glyph
// inherits the glyph of the previous token ("월1,2" is 월1 and 월2), and a
// numeric range "수1-3" becomes one code per period.
func SplitTimes(field string) []string {
	var out []string
	var day string
	for _, tok := range strings.Split(field, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(tok)
		rest := tok
		if timecode.IsWeekdayGlyph(r) {
			day = tok[:size]
			rest = strings.TrimSpace(tok[size:])
		} else if day == "" {
			// Nothing to inherit; the parser reports it.
			out = append(out, tok)
			continue
		}
		out = append(out, expandNumericRange(day, rest)...)
	}
	return out
}

// maxExpandedRange bounds how many codes one "<day><n>-<m>" token becomes.
const maxExpandedRange = 14

func expandNumericRange(day, rest string) []string {
	from, to, ok := strings.Cut(rest, "-")
	if !ok {
		return []string{day + rest}
	}
	a, errA := strconv.Atoi(strings.TrimSpace(from))
	b, errB := strconv.Atoi(strings.TrimSpace(to))
	// Oversized ranges are left whole for the parser to reject.
	if errA != nil || errB != nil || a > b || b-a >= maxExpandedRange {
		return []string{day + rest}
	}
	out := make([]string, 0, b-a+1)
	for n := a; n <= b; n++ {
		out = append(out, day+strconv.Itoa(n))
	}
	return out
}

// SplitRooms splits a room field on commas that are not inside a
// parenthesized alias group.
func SplitRooms(field string) []string {
	var out []string
	depth, start := 0, 0
	flush := func(end int) {
		if tok := strings.TrimSpace(field[start:end]); tok != "" {
			out = append(out, tok)
		}
	}
	for i, r := range field {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				flush(i)
				start = i + 1
			}
		}
	}
	flush(len(field))
	return out
}

// IsInvalidCode reports whether err came from a malformed time code.
func IsInvalidCode(err error) bool {
	var ice *timecode.InvalidCodeError
	return errors.As(err, &ice)
}
