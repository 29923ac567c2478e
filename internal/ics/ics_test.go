package ics

import (
	"strings"
	"testing"
	"time"

	"roomcheck/internal/model"
)

var kst = time.FixedZone("KST", 9*60*60)

const manualCalendar = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:seminar-1
DTSTAMP:20250301T000000Z
DTSTART:20250312T100000
DTEND:20250312T120000
SUMMARY:학과 세미나
LOCATION:창조관 501
END:VEVENT
BEGIN:VEVENT
UID:study-weekly
DTSTAMP:20250301T000000Z
DTSTART:20250303T010000Z
DTEND:20250303T020000Z
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE:20250310T010000Z
SUMMARY:스터디
X-ROOMCHECK-BUILDING:제1공학관
X-ROOMCHECK-ROOM:301
END:VEVENT
BEGIN:VEVENT
UID:no-room
DTSTAMP:20250301T000000Z
DTSTART:20250312T100000
DTEND:20250312T120000
SUMMARY:장소 없음
END:VEVENT
BEGIN:VEVENT
UID:backwards
DTSTAMP:20250301T000000Z
DTSTART:20250312T120000
DTEND:20250312T100000
LOCATION:창조관 502
END:VEVENT
END:VCALENDAR
`

func TestParseManual(t *testing.T) {
	occs, err := ParseManual([]byte(manualCalendar), ImportOptions{
		Location:   kst,
		RangeStart: time.Date(2025, 3, 1, 0, 0, 0, 0, kst),
		RangeEnd:   time.Date(2025, 3, 31, 0, 0, 0, 0, kst),
	})
	if err != nil {
		t.Fatalf("ParseManual error = %v", err)
	}
	// seminar + 3 of 4 weekly instances (one excluded).
	if len(occs) != 4 {
		t.Fatalf("got %d occurrences, want 4: %+v", len(occs), occs)
	}

	seminar := occs[0]
	if seminar.ID != "seminar-1" || seminar.Building != "창조관" || seminar.Room != "501" || seminar.Source != model.ManualEntry {
		t.Errorf("seminar = %+v", seminar)
	}
	if !seminar.Start.Equal(time.Date(2025, 3, 12, 10, 0, 0, 0, kst)) {
		t.Errorf("floating start = %v, want 10:00 KST", seminar.Start)
	}

	wantDays := []int{3, 17, 24}
	for i, day := range wantDays {
		o := occs[1+i]
		if o.Building != "제1공학관" || o.Room != "301" {
			t.Errorf("weekly[%d] room = %s/%s", i, o.Building, o.Room)
		}
		if o.Start.Day() != day || o.Start.Hour() != 10 || o.End.Sub(o.Start) != time.Hour {
			t.Errorf("weekly[%d] = %v - %v, want day %d 10:00 for 1h", i, o.Start, o.End, day)
		}
		if !strings.HasPrefix(o.ID, "study-weekly/") {
			t.Errorf("weekly[%d] id = %q", i, o.ID)
		}
	}
}

func TestParseManualEmpty(t *testing.T) {
	if _, err := ParseManual(nil, ImportOptions{}); err == nil {
		t.Error("expected error for empty body")
	}
}

func TestExportRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 12, 9, 0, 0, 0, kst)
	occs := []model.Occurrence{
		{
			Source: model.RecurringClass, Building: "제1공학관", Room: "301",
			Start: time.Date(2025, 3, 12, 11, 0, 0, 0, kst), End: time.Date(2025, 3, 12, 11, 50, 0, 0, kst),
			Label: "자료구조",
		},
		{
			ID: "m-1", Source: model.ManualEntry, Building: "창조관", Room: "501",
			Start: time.Date(2025, 3, 12, 9, 0, 0, 0, kst), End: time.Date(2025, 3, 12, 10, 0, 0, 0, kst),
			Label: "면담", Conflict: true,
		},
	}

	body := Export(occs, kst, now)
	text := string(body)
	for _, want := range []string{"BEGIN:VCALENDAR", "UID:m-1", "CATEGORIES:수업", "X-ROOMCHECK-SOURCE:manual", "[중복] 면담"} {
		if !strings.Contains(text, want) {
			t.Errorf("export missing %q", want)
		}
	}

	back, err := ParseManual(body, ImportOptions{Location: kst})
	if err != nil {
		t.Fatalf("ParseManual error = %v", err)
	}
	if len(back) != 2 {
		t.Fatalf("got %d events back, want 2", len(back))
	}
	// Export sorts by start.
	if back[0].ID != "m-1" || back[0].Building != "창조관" || !back[0].Start.Equal(occs[1].Start) {
		t.Errorf("first = %+v", back[0])
	}
	if back[1].Room != "301" || !back[1].End.Equal(occs[0].End) {
		t.Errorf("second = %+v", back[1])
	}
}
