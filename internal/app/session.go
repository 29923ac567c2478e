// Package app owns the state shared by the CLI and the HTTP API: the
// building directory, the lecture schedule cache, loaded reservations and
// manual bookings.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"roomcheck/internal/conflict"
	"roomcheck/internal/feed"
	"roomcheck/internal/ics"
	appLog "roomcheck/internal/log"
	"roomcheck/internal/manual"
	"roomcheck/internal/model"
	"roomcheck/internal/roomid"
	"roomcheck/internal/schedule"
	"roomcheck/internal/timecode"
)

// ErrNotReady is returned before the first successful Refresh.
var ErrNotReady = errors.New("app: building directory not loaded")

// Messages shown to staff after a check.
const (
	MessageAvailable = "✅ 해당 시간은 사용 가능합니다!"
)

// ConflictMessage returns the warning for a conflict with src.
func ConflictMessage(src model.Source) string {
	switch src {
	case model.ScrapedReservation:
		return "🚨 이미 예약된 시간입니다!"
	case model.RecurringClass:
		return "📖 정규 수업 시간과 중복됩니다!"
	case model.ManualEntry:
		return "🖋️ 수동 입력된 예약이 있습니다!"
	}
	return ""
}

// LectureSource fetches the lecture XML feed.
type LectureSource interface {
	Fetch(ctx context.Context, url string) (feed.FetchResult, error)
}

// Options wires a Session.
type Options struct {
	Pages      feed.PageSource
	Lectures   LectureSource
	LectureURL string

	Identity  *roomid.Identity
	Parser    *timecode.Parser
	Reconcile schedule.ReconcileCounts
	Location  *time.Location
	Manual    *manual.Store

	// Now overrides time.Now, for tests.
	Now func() time.Time
}

// Session is the host-owned state. All methods are safe for concurrent use;
// network calls are made without holding the lock.
type Session struct {
	pages      feed.PageSource
	lectures   LectureSource
	lectureURL string
	identity   *roomid.Identity
	detector   *conflict.Detector
	manual     *manual.Store
	loc        *time.Location
	window     int
	now        func() time.Time

	mu           sync.Mutex
	cache        *schedule.Cache
	reservations map[string][]model.Occurrence
	refreshedAt  time.Time
}

func New(opts Options) *Session {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Manual == nil {
		opts.Manual = manual.NewStore()
	}
	if opts.Parser == nil {
		opts.Parser = timecode.New(timecode.DefaultConfig())
	}
	if opts.Identity == nil {
		opts.Identity = roomid.NewIdentity(nil)
	}

	expOpts := []schedule.Option{
		schedule.WithLocation(opts.Location),
		schedule.WithClock(opts.Now),
	}
	if opts.Reconcile != nil {
		expOpts = append(expOpts, schedule.WithReconcile(opts.Reconcile))
	}
	expander := schedule.NewExpander(opts.Parser, opts.Identity, expOpts...)

	return &Session{
		pages:        opts.Pages,
		lectures:     opts.Lectures,
		lectureURL:   opts.LectureURL,
		identity:     opts.Identity,
		detector:     conflict.NewDetector(opts.Identity),
		manual:       opts.Manual,
		loc:          opts.Location,
		window:       opts.Parser.Config().DaysWindow,
		now:          opts.Now,
		cache:        schedule.NewCache(expander),
		reservations: make(map[string][]model.Occurrence),
	}
}

// RefreshReport summarizes one Refresh.
type RefreshReport struct {
	Buildings        int       `json:"buildings"`
	Lectures         int       `json:"lectures"`
	LectureFromCache bool      `json:"lecture_from_cache"`
	LectureError     string    `json:"lecture_error,omitempty"`
	RefreshedAt      time.Time `json:"refreshed_at"`
}

// Refresh fetches the building list and the lecture feed concurrently. An
// empty building list fails the refresh; a lecture feed failure keeps the
// previous lectures and is only reported.
func (s *Session) Refresh(ctx context.Context) (RefreshReport, error) {
	if s.pages == nil {
		return RefreshReport{}, errors.New("app: no portal page source configured")
	}

	var (
		dir        *roomid.Directory
		records    []model.LectureRecord
		fromCache  bool
		lectureErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		page, err := s.pages.BuildingPage(gctx)
		if err != nil {
			return fmt.Errorf("app: fetch building list: %w", err)
		}
		buildings, err := feed.ParseBuildings(bytes.NewReader(page))
		if err != nil {
			return err
		}
		dir, err = roomid.NewDirectory(buildings, s.identity)
		return err
	})
	if s.lectures != nil && s.lectureURL != "" {
		g.Go(func() error {
			res, err := s.lectures.Fetch(gctx, s.lectureURL)
			if err != nil {
				lectureErr = err
				return nil
			}
			fromCache = res.FromCache
			recs, err := feed.DecodeLecturesBytes(res.Body)
			if err != nil {
				appLog.Warn("lecture feed has malformed records", "error", err.Error(), "decoded", len(recs))
				if len(recs) == 0 {
					lectureErr = err
					return nil
				}
			}
			records = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		appLog.Error("refresh failed", err)
		return RefreshReport{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.SetDirectory(dir)
	if lectureErr == nil && records != nil {
		s.cache.SetRecords(records)
	} else {
		s.cache.Invalidate()
	}
	s.reservations = make(map[string][]model.Occurrence)
	s.refreshedAt = s.now()

	report := RefreshReport{
		Buildings:        dir.Len(),
		Lectures:         len(s.cache.Records()),
		LectureFromCache: fromCache,
		RefreshedAt:      s.refreshedAt,
	}
	if lectureErr != nil {
		report.LectureError = lectureErr.Error()
		appLog.Error("lecture feed unavailable; keeping previous lectures", lectureErr, "lectures", report.Lectures)
	}
	appLog.Info("refresh completed", "buildings", report.Buildings, "lectures", report.Lectures, "from_cache", fromCache)
	return report, nil
}

// SetLectures replaces the lecture feed directly, e.g. from a local file.
func (s *Session) SetLectures(records []model.LectureRecord) {
	s.mu.Lock()
	s.cache.SetRecords(records)
	s.mu.Unlock()
}

// Directory returns the current building directory.
func (s *Session) Directory() (*roomid.Directory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.cache.Directory(); d != nil {
		return d, nil
	}
	return nil, ErrNotReady
}

// Lectures expands the lecture feed around ref, or around today when ref is
// nil (served from the cache).
func (s *Session) Lectures(ref *time.Time) schedule.ExpandResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Get(ref)
}

// Manual exposes the manual booking store.
func (s *Session) Manual() *manual.Store {
	return s.manual
}

// LoadReservations fetches and stores the portal reservations of one
// building.
func (s *Session) LoadReservations(ctx context.Context, code string) ([]model.Occurrence, error) {
	dir, err := s.Directory()
	if err != nil {
		return nil, err
	}
	b, ok := dir.Resolve(code)
	if !ok {
		return nil, &conflict.InputError{Field: "building", Reason: fmt.Sprintf("unknown building %q", code)}
	}

	page, err := s.pages.ReservationPage(ctx, b.Code)
	if err != nil {
		return nil, fmt.Errorf("app: fetch reservations for %s: %w", b.Name, err)
	}
	occs, errs := feed.ParseReservations(bytes.NewReader(page), b.Name, s.now(), s.loc)
	for _, e := range errs {
		appLog.Debug("reservation row skipped", "building", b.Name, "reason", e.Error())
	}

	s.mu.Lock()
	s.reservations[b.Code] = occs
	s.mu.Unlock()

	appLog.Info("reservations loaded", "building", b.Name, "rows", len(occs), "skipped", len(errs))
	return occs, nil
}

func (s *Session) storedReservations(code string) ([]model.Occurrence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	occs, ok := s.reservations[code]
	return occs, ok
}

// AddManual stores a manual booking after resolving its building against
// the directory when possible.
func (s *Session) AddManual(building, room string, start, end time.Time, label string) (model.Occurrence, error) {
	if dir, err := s.Directory(); err == nil {
		if b, ok := dir.Resolve(building); ok {
			building = b.Name
		}
	}
	return s.manual.Add(s.identity.NormalizeBuilding(building), room, start, end, label)
}

// ImportManualICS adds the events of an .ics payload as manual bookings.
// Recurring events are expanded over the lecture window around today.
func (s *Session) ImportManualICS(body []byte) (int, error) {
	today := s.now().In(s.loc)
	occs, err := ics.ParseManual(body, ics.ImportOptions{
		Location:   s.loc,
		RangeStart: today.AddDate(0, 0, -s.window),
		RangeEnd:   today.AddDate(0, 0, s.window+1),
	})
	if err != nil {
		return 0, err
	}
	for i := range occs {
		occs[i].Building = s.identity.NormalizeBuilding(occs[i].Building)
	}
	dropped := s.manual.Replace(append(s.manual.List(), occs...))
	return len(occs) - dropped, nil
}

// CheckRequest asks whether a room is free for [Start, End).
type CheckRequest struct {
	// Building is a portal code, a canonical name or an abbreviation.
	Building string
	Room     string
	Start    time.Time
	End      time.Time
}

// CheckResult is the answer to a CheckRequest.
type CheckResult struct {
	Available bool
	Building  model.Building
	Room      string
	Conflict  *model.Occurrence
	Message   string
	// ReservationsStale is set when the portal could not be reached and the
	// last loaded reservations were used.
	ReservationsStale bool
}

// Check looks for the first occupancy overlapping the request: lectures on
// that date, the building's live reservations, then manual bookings.
func (s *Session) Check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	dir, err := s.Directory()
	if err != nil {
		return CheckResult{}, err
	}
	b, ok := dir.Resolve(req.Building)
	if !ok {
		return CheckResult{}, &conflict.InputError{Field: "building", Reason: fmt.Sprintf("unknown building %q", req.Building)}
	}

	candidate := model.Occurrence{
		Source:   model.ManualEntry,
		Building: b.Name,
		Room:     roomid.ParseRoomNumber(req.Room),
		Start:    req.Start.In(s.loc),
		End:      req.End.In(s.loc),
	}
	if err := s.detector.Validate(candidate); err != nil {
		return CheckResult{}, err
	}

	ref := candidate.Start
	recurring := s.Lectures(&ref).Occurrences

	result := CheckResult{Building: b, Room: candidate.Room}
	reservations, err := s.LoadReservations(ctx, b.Code)
	if err != nil {
		var ie *conflict.InputError
		if errors.As(err, &ie) {
			return CheckResult{}, err
		}
		appLog.Error("reservation fetch failed; using last loaded rows", err, "building", b.Name)
		reservations, _ = s.storedReservations(b.Code)
		result.ReservationsStale = true
	}

	hit, err := s.detector.FindConflict(candidate, recurring, reservations, s.manual.List())
	if err != nil {
		return CheckResult{}, err
	}
	if hit == nil {
		result.Available = true
		result.Message = MessageAvailable
	} else {
		result.Conflict = hit
		result.Message = ConflictMessage(hit.Source)
	}

	appLog.Info("availability checked",
		"building", b.Name, "room", candidate.Room,
		"start", candidate.Start.Format(time.RFC3339), "end", candidate.End.Format(time.RFC3339),
		"available", result.Available)
	return result, nil
}

// Board returns the building's reservations and manual bookings ordered by
// start, with overlapping neighbours flagged. Reservations are fetched when
// none are loaded for the building yet.
func (s *Session) Board(ctx context.Context, code string) ([]model.Occurrence, error) {
	dir, err := s.Directory()
	if err != nil {
		return nil, err
	}
	b, ok := dir.Resolve(code)
	if !ok {
		return nil, &conflict.InputError{Field: "building", Reason: fmt.Sprintf("unknown building %q", code)}
	}

	reservations, loaded := s.storedReservations(b.Code)
	if !loaded {
		if reservations, err = s.LoadReservations(ctx, b.Code); err != nil {
			return nil, err
		}
	}

	board := make([]model.Occurrence, 0, len(reservations))
	board = append(board, reservations...)
	for _, m := range s.manual.List() {
		if s.identity.SameBuilding(m.Building, b.Name) {
			board = append(board, m)
		}
	}
	s.detector.MarkConflicts(board)
	sort.SliceStable(board, func(i, j int) bool { return board[i].Start.Before(board[j].Start) })
	return board, nil
}

// Search filters the board of a building by a case-insensitive substring of
// the source label, room, applicant or status.
func (s *Session) Search(ctx context.Context, code, query string) ([]model.Occurrence, error) {
	board, err := s.Board(ctx, code)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return board, nil
	}
	out := board[:0]
	for _, o := range board {
		hay := strings.ToLower(strings.Join([]string{o.Source.String(), o.Building, o.Room, o.Label, o.Status}, " "))
		if strings.Contains(hay, q) {
			out = append(out, o)
		}
	}
	return out, nil
}

// Occurrences returns lectures expanded around ref together with every
// loaded reservation and manual booking, for export.
func (s *Session) Occurrences(ref *time.Time) []model.Occurrence {
	out := s.Lectures(ref).Occurrences

	s.mu.Lock()
	for _, occs := range s.reservations {
		out = append(out, occs...)
	}
	s.mu.Unlock()

	return append(out, s.manual.List()...)
}

// RefreshedAt reports the time of the last successful refresh.
func (s *Session) RefreshedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshedAt
}
