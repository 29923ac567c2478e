package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"roomcheck/internal/app"
	"roomcheck/internal/config"
	"roomcheck/internal/conflict"
	"roomcheck/internal/convert"
	"roomcheck/internal/ics"
	appLog "roomcheck/internal/log"
	"roomcheck/internal/manual"
	"roomcheck/internal/model"
	"roomcheck/internal/schedule"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// Server exposes the session over a JSON API.
// 인증은 제공하지 않는다. 내부망에서만 띄우는 것을 전제로 한다.
type Server struct {
	session *app.Session
	loc     *time.Location
	mux     *http.ServeMux
	now     func() time.Time
}

// NewServer constructs a new Server.
func NewServer(session *app.Session, loc *time.Location) *Server {
	if loc == nil {
		loc = time.Local
	}
	s := &Server{
		session: session,
		loc:     loc,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartServer serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, session *app.Session, loc *time.Location) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewServer(session, loc).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/buildings", s.handleBuildings)
	s.mux.HandleFunc("GET /api/board", s.handleBoard)
	s.mux.HandleFunc("GET /api/lectures", s.handleLectures)
	s.mux.HandleFunc("POST /api/check", s.handleCheck)
	s.mux.HandleFunc("GET /api/manual", s.handleManualList)
	s.mux.HandleFunc("POST /api/manual", s.handleManualAdd)
	s.mux.HandleFunc("DELETE /api/manual/{id}", s.handleManualDelete)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/export.ics", s.handleExportICS)
	s.mux.HandleFunc("GET /api/export.xlsx", s.handleExportXLSX)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	ID          string    `json:"id,omitempty"`
	Source      string    `json:"source"`
	SourceLabel string    `json:"source_label"`
	Building    string    `json:"building"`
	Room        string    `json:"room"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Label       string    `json:"label,omitempty"`
	Status      string    `json:"status,omitempty"`
	Conflict    bool      `json:"conflict"`
}

func toDTO(o model.Occurrence) occurrenceDTO {
	return occurrenceDTO{
		ID:          o.ID,
		Source:      o.Source.Key(),
		SourceLabel: o.Source.String(),
		Building:    o.Building,
		Room:        o.Room,
		Start:       o.Start,
		End:         o.End,
		Label:       o.Label,
		Status:      o.Status,
		Conflict:    o.Conflict,
	}
}

func toDTOs(occs []model.Occurrence) []occurrenceDTO {
	out := make([]occurrenceDTO, 0, len(occs))
	for _, o := range occs {
		out = append(out, toDTO(o))
	}
	return out
}

type buildingDTO struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (s *Server) handleBuildings(w http.ResponseWriter, _ *http.Request) {
	dir, err := s.session.Directory()
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	out := make([]buildingDTO, 0, dir.Len())
	for _, b := range dir.Buildings() {
		out = append(out, buildingDTO{Code: b.Code, Name: b.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleBoard returns the reservation board of one building.
//
// GET /api/board?building=01&q=홍길동&reload=1
func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	code := q.Get("building")
	if code == "" {
		writeError(w, http.StatusBadRequest, "building is required")
		return
	}
	if parseIntDefault(q.Get("reload"), 0) > 0 {
		if _, err := s.session.LoadReservations(ctx, code); err != nil {
			s.writeSessionError(w, err)
			return
		}
	}

	board, err := s.session.Search(ctx, code, q.Get("q"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTOs(board))
}

type lecturesResponse struct {
	Occurrences []occurrenceDTO `json:"occurrences"`
	Skipped     []skippedDTO    `json:"skipped,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	TokenErrors []string        `json:"token_errors,omitempty"`
}

type skippedDTO struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// handleLectures returns the lecture timetable expanded around a date.
//
// GET /api/lectures?date=2025-03-12
//   - date: 기준일. 없으면 오늘 기준 캐시를 사용한다.
func (s *Server) handleLectures(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.parseDateParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toLecturesResponse(s.session.Lectures(ref)))
}

func toLecturesResponse(res schedule.ExpandResult) lecturesResponse {
	resp := lecturesResponse{Occurrences: toDTOs(res.Occurrences)}
	for _, sk := range res.Skipped {
		resp.Skipped = append(resp.Skipped, skippedDTO{Name: sk.Name, Reason: sk.Reason})
	}
	for _, wn := range res.Warnings {
		resp.Warnings = append(resp.Warnings, wn.Error())
	}
	for _, e := range res.TokenErrors {
		resp.TokenErrors = append(resp.TokenErrors, e.Error())
	}
	return resp
}

// slotRequest is the body of /api/check and POST /api/manual.
type slotRequest struct {
	Building string `json:"building"`
	Room     string `json:"room"`
	Date     string `json:"date"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Label    string `json:"label,omitempty"`
}

func (s *Server) interval(req slotRequest) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation(dateLayout, req.Date, s.loc)
	if err != nil {
		return time.Time{}, time.Time{}, &conflict.InputError{Field: "date", Reason: "expected YYYY-MM-DD"}
	}
	clock := func(field, v string) (time.Time, error) {
		t, err := time.Parse(clockLayout, v)
		if err != nil {
			return time.Time{}, &conflict.InputError{Field: field, Reason: "expected HH:MM"}
		}
		return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, s.loc), nil
	}
	start, err := clock("start", req.Start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := clock("end", req.End)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

type checkResponse struct {
	Available         bool           `json:"available"`
	Message           string         `json:"message"`
	Building          buildingDTO    `json:"building"`
	Room              string         `json:"room"`
	Conflict          *occurrenceDTO `json:"conflict,omitempty"`
	ReservationsStale bool           `json:"reservations_stale,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	start, end, err := s.interval(req)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	res, err := s.session.Check(r.Context(), app.CheckRequest{
		Building: req.Building,
		Room:     req.Room,
		Start:    start,
		End:      end,
	})
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	resp := checkResponse{
		Available:         res.Available,
		Message:           res.Message,
		Building:          buildingDTO{Code: res.Building.Code, Name: res.Building.Name},
		Room:              res.Room,
		ReservationsStale: res.ReservationsStale,
	}
	if res.Conflict != nil {
		dto := toDTO(*res.Conflict)
		resp.Conflict = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleManualList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toDTOs(s.session.Manual().List()))
}

func (s *Server) handleManualAdd(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	start, end, err := s.interval(req)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	occ, err := s.session.AddManual(req.Building, req.Room, start, end, req.Label)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	appLog.Info("manual booking added", "id", occ.ID, "building", occ.Building, "room", occ.Room)
	writeJSON(w, http.StatusCreated, toDTO(occ))
}

func (s *Server) handleManualDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.session.Manual().Delete(id); err != nil {
		s.writeSessionError(w, err)
		return
	}
	appLog.Info("manual booking deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	report, err := s.session.Refresh(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleExportICS returns lectures around date together with loaded
// reservations and manual bookings as an iCalendar file.
func (s *Server) handleExportICS(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.parseDateParam(w, r)
	if !ok {
		return
	}
	body := ics.Export(s.session.Occurrences(ref), s.loc, s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="roomcheck.ics"`)
	_, _ = w.Write(body)
}

// handleExportXLSX returns one building's board as a spreadsheet.
func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("building")
	if code == "" {
		writeError(w, http.StatusBadRequest, "building is required")
		return
	}
	board, err := s.session.Board(r.Context(), code)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="board.xlsx"`)
	if err := convert.WriteBoardWorkbook(w, board); err != nil {
		appLog.Error("board export failed", err, "building", code)
	}
}

// parseDateParam reads ?date=YYYY-MM-DD. A missing date yields nil.
func (s *Server) parseDateParam(w http.ResponseWriter, r *http.Request) (*time.Time, bool) {
	v := r.URL.Query().Get("date")
	if v == "" {
		return nil, true
	}
	d, err := time.ParseInLocation(dateLayout, v, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return nil, false
	}
	return &d, true
}

// writeSessionError maps session and input errors to status codes.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	var ie *conflict.InputError
	switch {
	case errors.As(err, &ie):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, manual.ErrInvalidInterval), errors.Is(err, manual.ErrMissingRoom):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, manual.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, "building list not loaded yet; POST /api/refresh")
	default:
		appLog.Error("api request failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
