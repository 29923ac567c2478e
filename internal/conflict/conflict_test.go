package conflict

import (
	"errors"
	"testing"
	"time"

	"roomcheck/internal/model"
	"roomcheck/internal/roomid"
)

var day = time.Date(2025, 3, 12, 0, 0, 0, 0, time.FixedZone("KST", 9*60*60))

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func occ(src model.Source, building, room string, sh, sm, eh, em int, label string) model.Occurrence {
	return model.Occurrence{
		Source:   src,
		Building: building,
		Room:     room,
		Start:    at(sh, sm),
		End:      at(eh, em),
		Label:    label,
	}
}

func newDetector() *Detector {
	return NewDetector(roomid.NewIdentity(map[string]string{"창": "창조관"}))
}

func TestFindConflict(t *testing.T) {
	d := newDetector()
	candidate := func(sh, sm, eh, em int) model.Occurrence {
		return occ(model.ManualEntry, "창조관", "501호", sh, sm, eh, em, "요청")
	}

	tests := []struct {
		name         string
		candidate    model.Occurrence
		recurring    []model.Occurrence
		reservations []model.Occurrence
		manual       []model.Occurrence
		wantLabel    string
	}{
		{
			name:      "touching endpoints",
			candidate: candidate(10, 0, 11, 0),
			recurring: []model.Occurrence{occ(model.RecurringClass, "창조관", "501", 11, 0, 12, 0, "강의")},
		},
		{
			name:      "partial overlap",
			candidate: candidate(10, 0, 11, 30),
			recurring: []model.Occurrence{occ(model.RecurringClass, "창조관", "501", 11, 0, 12, 0, "강의")},
			wantLabel: "강의",
		},
		{
			name:         "abbreviated building and formatted room",
			candidate:    candidate(10, 0, 11, 30),
			reservations: []model.Occurrence{occ(model.ScrapedReservation, "창", "501", 9, 0, 10, 30, "동아리")},
			wantLabel:    "동아리",
		},
		{
			name:         "other room ignored",
			candidate:    candidate(10, 0, 11, 30),
			reservations: []model.Occurrence{occ(model.ScrapedReservation, "창조관", "502", 10, 0, 11, 0, "다른방")},
		},
		{
			name:         "other building ignored",
			candidate:    candidate(10, 0, 11, 30),
			reservations: []model.Occurrence{occ(model.ScrapedReservation, "한마관", "501", 10, 0, 11, 0, "다른건물")},
		},
		{
			name:         "recurring reported first",
			candidate:    candidate(10, 0, 11, 30),
			recurring:    []model.Occurrence{occ(model.RecurringClass, "창조관", "501", 11, 0, 12, 0, "강의")},
			reservations: []model.Occurrence{occ(model.ScrapedReservation, "창조관", "501", 10, 0, 11, 0, "예약")},
			manual:       []model.Occurrence{occ(model.ManualEntry, "창조관", "501", 10, 0, 11, 0, "수동")},
			wantLabel:    "강의",
		},
		{
			name:         "reservation before manual",
			candidate:    candidate(10, 0, 11, 30),
			reservations: []model.Occurrence{occ(model.ScrapedReservation, "창조관", "501", 10, 0, 11, 0, "예약")},
			manual:       []model.Occurrence{occ(model.ManualEntry, "창조관", "501", 10, 0, 11, 0, "수동")},
			wantLabel:    "예약",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.FindConflict(tt.candidate, tt.recurring, tt.reservations, tt.manual)
			if err != nil {
				t.Fatalf("FindConflict error = %v", err)
			}
			if tt.wantLabel == "" {
				if got != nil {
					t.Fatalf("expected no conflict, got %+v", got)
				}
				return
			}
			if got == nil || got.Label != tt.wantLabel {
				t.Fatalf("conflict = %+v, want label %q", got, tt.wantLabel)
			}
		})
	}
}

func TestFindConflictInputErrors(t *testing.T) {
	d := newDetector()
	tests := []struct {
		name      string
		candidate model.Occurrence
		field     string
	}{
		{"end before start", occ(model.ManualEntry, "창조관", "501", 11, 0, 10, 0, ""), "interval"},
		{"empty interval", occ(model.ManualEntry, "창조관", "501", 10, 0, 10, 0, ""), "interval"},
		{"no building", occ(model.ManualEntry, " ", "501", 10, 0, 11, 0, ""), "building"},
		{"no room digits", occ(model.ManualEntry, "창조관", "강당", 10, 0, 11, 0, ""), "room"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.FindConflict(tt.candidate, nil, nil, nil)
			var ie *InputError
			if !errors.As(err, &ie) {
				t.Fatalf("err = %v, want *InputError", err)
			}
			if ie.Field != tt.field {
				t.Errorf("field = %q, want %q", ie.Field, tt.field)
			}
		})
	}
}

func TestMarkConflictsAdjacentOnly(t *testing.T) {
	d := newDetector()
	occs := []model.Occurrence{
		occ(model.ScrapedReservation, "창조관", "501", 11, 0, 12, 0, "c"),
		occ(model.ScrapedReservation, "창조관", "501", 9, 0, 10, 0, "a"),
		occ(model.ScrapedReservation, "창", "501호", 9, 30, 10, 30, "b"),
	}
	occs[0].Conflict = true

	if n := d.MarkConflicts(occs); n != 2 {
		t.Fatalf("flagged %d, want 2", n)
	}
	want := map[string]bool{"a": true, "b": true, "c": false}
	for _, o := range occs {
		if o.Conflict != want[o.Label] {
			t.Errorf("%s conflict = %v, want %v", o.Label, o.Conflict, want[o.Label])
		}
	}
}

func TestMarkConflictsMissesNonAdjacent(t *testing.T) {
	d := newDetector()
	occs := []model.Occurrence{
		occ(model.ScrapedReservation, "창조관", "501", 9, 0, 12, 0, "long"),
		occ(model.ScrapedReservation, "창조관", "501", 9, 0, 9, 30, "short"),
		occ(model.ScrapedReservation, "창조관", "501", 11, 0, 11, 30, "late"),
	}
	d.MarkConflicts(occs)
	// late overlaps long, but short sits between them in start order.
	if !occs[0].Conflict || !occs[1].Conflict {
		t.Error("long and short should be flagged")
	}
	if occs[2].Conflict {
		t.Error("late is only compared with short and should not be flagged")
	}

	occs = []model.Occurrence{
		occ(model.ScrapedReservation, "창조관", "501", 9, 0, 9, 30, "short"),
		occ(model.ScrapedReservation, "창조관", "501", 9, 10, 12, 0, "long"),
		occ(model.ScrapedReservation, "한마관", "501", 9, 0, 12, 0, "elsewhere"),
		occ(model.ScrapedReservation, "창조관", "미지정", 9, 0, 12, 0, "unassigned"),
		occ(model.ScrapedReservation, "창조관", "미지정", 9, 0, 12, 0, "unassigned2"),
	}
	if n := d.MarkConflicts(occs); n != 2 {
		t.Errorf("flagged %d, want 2", n)
	}
	if occs[2].Conflict || occs[3].Conflict || occs[4].Conflict {
		t.Error("rows in other rooms or without room numbers must not be flagged")
	}
}
