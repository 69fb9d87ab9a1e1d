// Package api exposes the engine over a JSON HTTP interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/padel-scheduler/internal/booking"
	"github.com/example/padel-scheduler/internal/calendar"
	"github.com/example/padel-scheduler/internal/db"
	"github.com/example/padel-scheduler/internal/engine"
	"github.com/example/padel-scheduler/internal/intake"
	"github.com/example/padel-scheduler/internal/store"
)

// Service is the engine surface the handlers call.
type Service interface {
	CreateBooking(ctx context.Context, targetDate time.Time, primary, fallback string) (booking.Booking, error)
	ImportCSV(ctx context.Context, r io.Reader) (intake.Summary, error)
	Cancel(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (booking.Booking, error)
	List(ctx context.Context, status booking.Status, limit int) ([]booking.Booking, error)
	Upcoming(ctx context.Context, limit int) ([]booking.Booking, error)
	Logs(ctx context.Context, id int64) ([]booking.ExecutionLogEntry, error)
	Stats(ctx context.Context) (booking.Stats, error)
}

type Server struct {
	svc Service
	log *zap.SugaredLogger
	loc *time.Location
}

func NewServer(svc Service, log *zap.SugaredLogger, loc *time.Location) *Server {
	return &Server{svc: svc, log: log, loc: loc}
}

// Router wires all routes. Upload and upcoming live off the /bookings
// subtree so the :id wildcard stays unambiguous.
func (s *Server) Router() http.Handler {
	r := httprouter.New()
	r.GET("/health", s.health)
	r.GET("/stats", s.stats)
	r.GET("/upcoming", s.upcoming)
	r.POST("/imports", s.importCSV)
	r.POST("/bookings", s.create)
	r.GET("/bookings", s.list)
	r.GET("/bookings/:id", s.get)
	r.DELETE("/bookings/:id", s.delete)
	r.POST("/bookings/:id/cancel", s.cancel)
	r.GET("/bookings/:id/invite", s.invite)
	r.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

type bookingResponse struct {
	ID             int64   `json:"id"`
	TargetDate     string  `json:"target_date"`
	OptionPrimary  string  `json:"option_primary"`
	OptionFallback *string `json:"option_fallback,omitempty"`
	Status         string  `json:"status"`
	ExecuteAt      string  `json:"execute_at"`
	ResultOption   *string `json:"result_option,omitempty"`
	ResultLabel    *string `json:"result_label,omitempty"`
	ErrorMessage   *string `json:"error_message,omitempty"`
	DiagnosticRef  *string `json:"diagnostic_ref,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func (s *Server) render(b booking.Booking) bookingResponse {
	return bookingResponse{
		ID:             b.ID,
		TargetDate:     b.DateString(),
		OptionPrimary:  b.OptionPrimary,
		OptionFallback: b.OptionFallback,
		Status:         string(b.Status),
		ExecuteAt:      b.ExecuteAt.In(s.loc).Format(time.RFC3339),
		ResultOption:   b.ResultOption,
		ResultLabel:    b.ResultLabel,
		ErrorMessage:   b.ErrorMessage,
		DiagnosticRef:  b.DiagnosticRef,
		CreatedAt:      b.CreatedAt.In(s.loc).Format(time.RFC3339),
		UpdatedAt:      b.UpdatedAt.In(s.loc).Format(time.RFC3339),
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req intake.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	date, err := req.Validate()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := s.svc.CreateBooking(r.Context(), date, req.OptionPrimary, req.OptionFallback)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.render(b))
}

func (s *Server) importCSV(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body := io.Reader(r.Body)
	if f, _, err := r.FormFile("file"); err == nil {
		defer f.Close()
		body = f
	}
	sum, err := s.svc.ImportCSV(r.Context(), body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	status := booking.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", status))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.svc.List(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]bookingResponse, 0, len(items))
	for _, b := range items {
		out = append(out, s.render(b))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"bookings": out, "count": len(out)})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	logs, err := s.svc.Logs(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	entries := make([]map[string]any, 0, len(logs))
	for _, e := range logs {
		entries = append(entries, map[string]any{
			"timestamp":      e.Timestamp.In(s.loc).Format(time.RFC3339),
			"action":         e.Action,
			"result":         e.Result,
			"details":        e.Details,
			"diagnostic_ref": e.DiagnosticRef,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"booking": s.render(b), "log": entries})
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.Delete(r.Context(), id); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.Cancel(r.Context(), id); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	b, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.render(b))
}

func (s *Server) upcoming(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.svc.Upcoming(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]bookingResponse, 0, len(items))
	for _, b := range items {
		out = append(out, s.render(b))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"bookings": out, "count": len(out)})
}

func (s *Server) invite(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	ics, err := calendar.Invite(&b, s.loc)
	if err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", calendar.Filename(&b)))
	_, _ = w.Write([]byte(ics))
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	st, err := s.svc.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func parseID(ps httprouter.Params) (int64, error) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid booking id %q", ps.ByName("id"))
	}
	return id, nil
}

func statusFor(err error) int {
	switch {
	case db.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, engine.ErrPastExecution):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrAttemptInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorw("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	if code >= 500 {
		s.log.Errorw("request failed", "error", err)
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}
