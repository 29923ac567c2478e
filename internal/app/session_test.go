package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"roomcheck/internal/conflict"
	"roomcheck/internal/feed"
	"roomcheck/internal/model"
	"roomcheck/internal/roomid"
)

var kst = time.FixedZone("KST", 9*60*60)

const buildingPage = `<html><body><form>
<input type="hidden" name="__VIEWSTATE" value="vs" />
<select id="slct_arg_bldg_cd" name="slct_arg_bldg_cd">
  <option value="%">전체</option>
  <option value="01">01 제1공학관</option>
  <option value="07">07 창조관</option>
</select>
</form></body></html>`

const reservations01 = `<html><body><table id="dataGrid">
<tr><th>No</th><th>강의실</th><th>신청자</th><th>용도</th><th>시간</th><th>x</th><th>y</th><th>상태</th></tr>
<tr><td>1</td><td>302호</td><td>김철수</td><td>회의</td><td>2025.03.12 14:00 ~ 2025.03.12 15:30</td><td></td><td></td><td>승인</td></tr>
</table></body></html>`

const emptyGrid = `<html><body><table id="dataGrid">
<tr><th>No</th><th>강의실</th><th>신청자</th><th>용도</th><th>시간</th><th>x</th><th>y</th><th>상태</th></tr>
</table></body></html>`

const lectureFeed = `<Lectures>
  <Lecture><Name>자료구조</Name><Time>수1-3</Time><Room>1공-301</Room></Lecture>
</Lectures>`

type fakePages struct {
	down  bool
	calls int
}

func (f *fakePages) BuildingPage(ctx context.Context) ([]byte, error) {
	return []byte(buildingPage), nil
}

func (f *fakePages) ReservationPage(ctx context.Context, code string) ([]byte, error) {
	f.calls++
	if f.down {
		return nil, errors.New("portal unreachable")
	}
	if code == "01" {
		return []byte(reservations01), nil
	}
	return []byte(emptyGrid), nil
}

type fakeLectures struct {
	err error
}

func (f *fakeLectures) Fetch(ctx context.Context, url string) (feed.FetchResult, error) {
	if f.err != nil {
		return feed.FetchResult{}, f.err
	}
	return feed.FetchResult{URL: url, Body: []byte(lectureFeed)}, nil
}

func at(h, m int) time.Time {
	return time.Date(2025, 3, 12, h, m, 0, 0, kst)
}

func newSession(t *testing.T, pages *fakePages, lectures *fakeLectures) *Session {
	t.Helper()
	return New(Options{
		Pages:      pages,
		Lectures:   lectures,
		LectureURL: "https://example.invalid/lectures.xml",
		Identity: roomid.NewIdentity(map[string]string{
			"1공": "제1공학관",
			"창":  "창조관",
		}),
		Location: kst,
		Now:      func() time.Time { return at(9, 0) },
	})
}

func refreshed(t *testing.T, s *Session) {
	t.Helper()
	report, err := s.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh error = %v", err)
	}
	if report.Buildings != 2 {
		t.Fatalf("report = %+v", report)
	}
}

func TestCheckBeforeRefresh(t *testing.T) {
	s := newSession(t, &fakePages{}, &fakeLectures{})
	_, err := s.Check(context.Background(), CheckRequest{Building: "01", Room: "301", Start: at(10, 0), End: at(11, 0)})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestCheckMessagesBySource(t *testing.T) {
	s := newSession(t, &fakePages{}, &fakeLectures{})
	refreshed(t, s)

	if _, err := s.AddManual("창", "501", at(13, 0), at(14, 0), "면담"); err != nil {
		t.Fatalf("AddManual error = %v", err)
	}

	tests := []struct {
		name    string
		req     CheckRequest
		free    bool
		source  model.Source
		message string
	}{
		{
			name:    "class",
			req:     CheckRequest{Building: "01", Room: "301호", Start: at(10, 30), End: at(11, 30)},
			source:  model.RecurringClass,
			message: "📖 정규 수업 시간과 중복됩니다!",
		},
		{
			name:    "reservation",
			req:     CheckRequest{Building: "제1공학관", Room: "302", Start: at(14, 30), End: at(15, 0)},
			source:  model.ScrapedReservation,
			message: "🚨 이미 예약된 시간입니다!",
		},
		{
			name:    "manual",
			req:     CheckRequest{Building: "07", Room: "501", Start: at(13, 30), End: at(14, 30)},
			source:  model.ManualEntry,
			message: "🖋️ 수동 입력된 예약이 있습니다!",
		},
		{
			name:    "touching is free",
			req:     CheckRequest{Building: "창", Room: "501", Start: at(14, 0), End: at(15, 0)},
			free:    true,
			message: MessageAvailable,
		},
		{
			name:    "after classes",
			req:     CheckRequest{Building: "01", Room: "301", Start: at(12, 0), End: at(13, 0)},
			free:    true,
			message: MessageAvailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Check(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Check error = %v", err)
			}
			if res.Available != tt.free || res.Message != tt.message {
				t.Fatalf("result = %+v", res)
			}
			if !tt.free && res.Conflict.Source != tt.source {
				t.Errorf("conflict source = %v, want %v", res.Conflict.Source, tt.source)
			}
		})
	}
}

func TestCheckInputErrors(t *testing.T) {
	s := newSession(t, &fakePages{}, &fakeLectures{})
	refreshed(t, s)

	tests := []struct {
		name  string
		req   CheckRequest
		field string
	}{
		{"unknown building", CheckRequest{Building: "99", Room: "301", Start: at(10, 0), End: at(11, 0)}, "building"},
		{"no room number", CheckRequest{Building: "01", Room: "강당", Start: at(10, 0), End: at(11, 0)}, "room"},
		{"reversed", CheckRequest{Building: "01", Room: "301", Start: at(11, 0), End: at(10, 0)}, "interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Check(context.Background(), tt.req)
			var ie *conflict.InputError
			if !errors.As(err, &ie) || ie.Field != tt.field {
				t.Fatalf("err = %v, want InputError on %s", err, tt.field)
			}
		})
	}
}

func TestCheckFallsBackToStoredReservations(t *testing.T) {
	pages := &fakePages{}
	s := newSession(t, pages, &fakeLectures{})
	refreshed(t, s)

	if _, err := s.LoadReservations(context.Background(), "01"); err != nil {
		t.Fatalf("LoadReservations error = %v", err)
	}
	pages.down = true

	res, err := s.Check(context.Background(), CheckRequest{Building: "01", Room: "302", Start: at(15, 0), End: at(16, 0)})
	if err != nil {
		t.Fatalf("Check error = %v", err)
	}
	if !res.ReservationsStale || res.Available {
		t.Errorf("result = %+v, want stale conflict", res)
	}
}

func TestRefreshKeepsLecturesWhenFeedFails(t *testing.T) {
	lectures := &fakeLectures{}
	s := newSession(t, &fakePages{}, lectures)
	refreshed(t, s)

	lectures.err = errors.New("feed down")
	report, err := s.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh error = %v", err)
	}
	if report.LectureError == "" || report.Lectures != 1 {
		t.Errorf("report = %+v", report)
	}
	if got := len(s.Lectures(nil).Occurrences); got != 3 {
		t.Errorf("got %d lecture occurrences, want 3", got)
	}
}

func TestBoardAndSearch(t *testing.T) {
	pages := &fakePages{}
	s := newSession(t, pages, &fakeLectures{})
	refreshed(t, s)

	if _, err := s.AddManual("1공", "302호", at(15, 0), at(16, 0), "스터디"); err != nil {
		t.Fatalf("AddManual error = %v", err)
	}
	if _, err := s.AddManual("창", "302", at(15, 0), at(16, 0), "다른 건물"); err != nil {
		t.Fatalf("AddManual error = %v", err)
	}

	board, err := s.Board(context.Background(), "01")
	if err != nil {
		t.Fatalf("Board error = %v", err)
	}
	if len(board) != 2 {
		t.Fatalf("board = %+v", board)
	}
	for _, o := range board {
		if !o.Conflict {
			t.Errorf("%s %s not flagged", o.Source, o.Label)
		}
	}
	if board[0].Source != model.ScrapedReservation {
		t.Errorf("board not ordered by start: %+v", board)
	}

	if _, err := s.Board(context.Background(), "01"); err != nil {
		t.Fatal(err)
	}
	if pages.calls != 1 {
		t.Errorf("portal fetched %d times, want 1", pages.calls)
	}

	hits, err := s.Search(context.Background(), "01", "스터디")
	if err != nil {
		t.Fatalf("Search error = %v", err)
	}
	if len(hits) != 1 || hits[0].Label != "스터디" {
		t.Errorf("hits = %+v", hits)
	}
	hits, _ = s.Search(context.Background(), "01", "웹사이트")
	if len(hits) != 1 || !strings.Contains(hits[0].Label, "김철수") {
		t.Errorf("hits by source = %+v", hits)
	}
}

func TestImportManualICS(t *testing.T) {
	s := newSession(t, &fakePages{}, &fakeLectures{})
	body := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:a@test\r\nDTSTART:20250312T010000Z\r\nDTEND:20250312T020000Z\r\n" +
		"SUMMARY:면담\r\nLOCATION:창 501\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

	n, err := s.ImportManualICS([]byte(body))
	if err != nil {
		t.Fatalf("ImportManualICS error = %v", err)
	}
	if n != 1 || s.Manual().Len() != 1 {
		t.Fatalf("imported %d, store has %d", n, s.Manual().Len())
	}
	if got := s.Manual().List()[0].Building; got != "창조관" {
		t.Errorf("building = %q, want 창조관", got)
	}
}
