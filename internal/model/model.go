package model

import "time"

// Source identifies where an occurrence came from.
type Source int

const (
	// ScrapedReservation is a live reservation row from the portal.
	ScrapedReservation Source = iota
	// RecurringClass is a lecture expanded from the timetable feed.
	RecurringClass
	// ManualEntry is a booking entered by the operator.
	ManualEntry
)

// String returns the label shown to staff (원본 화면의 "출처" 컬럼과 동일).
func (s Source) String() string {
	switch s {
	case ScrapedReservation:
		return "웹사이트"
	case RecurringClass:
		return "수업"
	case ManualEntry:
		return "수동입력"
	default:
		return "알 수 없음"
	}
}

// Key is a stable ASCII identifier used in JSON and ICS output.
func (s Source) Key() string {
	switch s {
	case ScrapedReservation:
		return "reservation"
	case RecurringClass:
		return "class"
	case ManualEntry:
		return "manual"
	default:
		return "unknown"
	}
}

// ParseSourceKey is the inverse of Source.Key.
func ParseSourceKey(key string) (Source, bool) {
	switch key {
	case "reservation":
		return ScrapedReservation, true
	case "class":
		return RecurringClass, true
	case "manual":
		return ManualEntry, true
	}
	return 0, false
}

// Occurrence is a single concrete, time-bounded room occupancy.
type Occurrence struct {
	// ID is only set for manual entries (uuid) so they can be deleted.
	ID string

	Source Source

	// Building is the canonical building name; Room holds digits only
	// whenever the raw room token contained digits.
	Building string
	Room     string

	// Start / End are in the configured local zone. End is always after Start.
	Start time.Time
	End   time.Time

	// Label is the applicant for reservations and the course name for classes.
	Label  string
	Status string

	// Conflict is recomputed on every marking pass.
	Conflict bool
}

// Building is one entry of the portal's building directory.
type Building struct {
	Code string
	Name string
}

// LectureRecord is a raw recurring lecture as it appears in the feed.
// It only lives long enough to be expanded into occurrences.
type LectureRecord struct {
	Name string
	// Time is the comma-separated time-code field, e.g. "수1-3,목A".
	Time string
	// Room is the comma-separated room field, e.g. "1공-301(1공-302)".
	Room string
}
