package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"agendo/backend/internal/domain"
	"agendo/backend/internal/service/scheduling"
)

type schedulingService interface {
	Book(ctx context.Context, in scheduling.BookInput) (domain.Appointment, error)
	UpdateStatus(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID, to domain.AppointmentStatus) (domain.Appointment, error)
	SetWeeklyTemplate(ctx context.Context, actor domain.Actor, providerID string, entries []domain.TemplateEntry) error
	MonthlyAvailability(ctx context.Context, providerID string, horizonDays int) ([]domain.MonthSlots, error)
	ListAppointments(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	RequestReschedule(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID) (domain.Appointment, error)
	Candidates(ctx context.Context, appointmentID uuid.UUID) (scheduling.RescheduleCandidates, error)
	Resolve(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID, choice scheduling.ResolveChoice) (domain.Appointment, error)
	CancelRecurrence(ctx context.Context, actor domain.Actor, recurrenceID uuid.UUID) (domain.Recurrence, error)
	AcceptSingleSession(ctx context.Context, actor domain.Actor, recurrenceID uuid.UUID) (domain.Appointment, error)
	GetRecurrence(ctx context.Context, recurrenceID uuid.UUID) (domain.Recurrence, []domain.Appointment, error)
	ExtendWindow(ctx context.Context, recurrenceID uuid.UUID) error
}

type SchedulingServer struct {
	svc      schedulingService
	log      *slog.Logger
	validate *validator.Validate
}

func NewSchedulingServer(svc schedulingService, log *slog.Logger) *SchedulingServer {
	if log == nil {
		log = slog.Default()
	}
	return &SchedulingServer{
		svc:      svc,
		log:      log.With(slog.String("component", "http.scheduling")),
		validate: validator.New(),
	}
}

func (s *SchedulingServer) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)

	r.Route("/providers/{providerID}", func(r chi.Router) {
		r.Get("/slots", s.listSlots)
		r.Put("/template", s.putTemplate)
		r.Get("/appointments", s.listAppointments)
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", s.book)
		r.Route("/{appointmentID}", func(r chi.Router) {
			r.Post("/status", s.updateStatus)
			r.Post("/reschedule", s.requestReschedule)
			r.Get("/reschedule/candidates", s.rescheduleCandidates)
			r.Post("/reschedule/resolve", s.resolveReschedule)
		})
	})

	r.Route("/recurrences/{recurrenceID}", func(r chi.Router) {
		r.Get("/", s.getRecurrence)
		r.Post("/cancel", s.cancelRecurrence)
		r.Post("/accept-single", s.acceptSingleSession)
		r.Post("/extend", s.extendWindow)
	})

	return r
}

func (s *SchedulingServer) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type actorPayload struct {
	ID   string `json:"actor_id" validate:"required"`
	Role string `json:"actor_role" validate:"required,oneof=PROVIDER CLIENT"`
}

func (p actorPayload) actor() domain.Actor {
	return domain.Actor{ID: p.ID, Role: domain.Role(p.Role)}
}

type bookRequest struct {
	actorPayload
	ProviderID  string `json:"provider_id" validate:"required"`
	ScheduledTo string `json:"scheduled_to" validate:"required"`
	Modality    string `json:"modality" validate:"required,oneof=ONLINE ON_SITE"`
	Recurrence  *struct {
		Frequency    string `json:"frequency" validate:"required,oneof=WEEKLY BIWEEKLY MONTHLY CUSTOM"`
		IntervalDays int    `json:"interval_days" validate:"required_if=Frequency CUSTOM,omitempty,gte=1"`
	} `json:"recurrence"`
}

func (s *SchedulingServer) book(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("route", "book"))

	var req bookRequest
	if !s.decode(w, r, log, &req) {
		return
	}

	slot, err := time.Parse(time.RFC3339, req.ScheduledTo)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_scheduled_to"))
		writeError(w, http.StatusBadRequest, "scheduled_to must be RFC 3339")
		return
	}

	in := scheduling.BookInput{
		Actor:          req.actor(),
		ProviderID:     req.ProviderID,
		ScheduledTo:    slot,
		Modality:       domain.Modality(req.Modality),
		IdempotencyKey: idempotencyKey(r),
	}
	if req.Recurrence != nil {
		in.Recurrence = &scheduling.RecurrenceInput{
			Frequency:    domain.RecurrenceFrequency(req.Recurrence.Frequency),
			IntervalDays: req.Recurrence.IntervalDays,
		}
	}

	appt, err := s.svc.Book(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, log, err)
		return
	}

	log.Info("booking created",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("provider_id", appt.ProviderID),
		slog.Time("scheduled_to", appt.ScheduledTo),
	)
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func idempotencyKey(r *http.Request) string {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = r.Header.Get("X-Idempotency-Key")
	}
	return strings.TrimSpace(key)
}

type statusRequest struct {
	actorPayload
	Status string `json:"status" validate:"required,oneof=ACCEPTED REJECTED CANCELED"`
}

func (s *SchedulingServer) updateStatus(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("route", "updateStatus"))

	id, ok := s.uuidParam(w, r, log, "appointmentID")
	if !ok {
		return
	}
	var req statusRequest
	if !s.decode(w, r, log, &req) {
		return
	}

	appt, err := s.svc.UpdateStatus(r.Context(), req.actor(), id, domain.AppointmentStatus(req.Status))
	if err != nil {
		s.writeServiceError(w, log, err)
		return
	}

	log.Info("status updated",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("status", string(appt.Status)),
	)
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

type templateRequest struct {
	actorPayload
	Entries []templateEntryPayload `json:"entries" validate:"required,min=1,dive"`
}

type templateEntryPayload struct {
	Weekday   int `json:"weekday" validate:"gte=0,lte=6"`
	StartHour int `json:"start_hour" validate:"gte=0,lte=23"`
	EndHour   int `json:"end_hour" validate:"gte=1,lte=24"`
}

func (s *SchedulingServer) putTemplate(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("route", "putTemplate"))

	providerID := chi.URLParam(r, "providerID")
	var req templateRequest
	if !s.decode(w, r, log, &req) {
		return
	}

	entries := make([]domain.TemplateEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, domain.TemplateEntry{
			ProviderID: providerID,
			Weekday:    time.Weekday(e.Weekday),
			StartHour:  e.StartHour,
			EndHour:    e.EndHour,
		})
	}

	if err := s.svc.SetWeeklyTemplate(r.Context(), req.actor(), providerID, entries); err != nil {
		s.writeServiceError(w, log, err)
		return
	}

	log.Info("template replaced",
		slog.String("provider_id", providerID),
		slog.Int("entries", len(entries)),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (s *SchedulingServer) listSlots(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("route", "listSlots"))

	providerID := chi.URLParam(r, "providerID")
	horizonDays := 0
	if raw := r.URL.Query().Get("horizon_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			log.Warn("invalid request", slog.String("reason", "bad_horizon_days"))
			writeError(w, http.StatusBadRequest, "horizon_days must be an integer")
			return
		}
		horizonDays = n
	}

	months, err := s.svc.MonthlyAvailability(r.Context(), providerID, horizonDays)
	if err != nil {
		s.writeServiceError(w, log, err)
		return
	}

	log.Debug("slots listed",
		slog.String("provider_id", providerID),
		slog.Int("months", len(months)),
	)
	writeJSON(w, http.StatusOK, toMonthsResponse(months))
}

func (s *SchedulingServer) listAppointments(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("route", "listAppointments"))

	providerID := chi.URLParam(r, "providerID")
	windowStart, err := time.Parse(time.RFC3339, r.URL.Query().Get("window_start"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_window_start"))
		writeError(w, http.StatusBadRequest, "window_start must be RFC 3339")
		return
	}
	windowEnd, err := time.Parse(time.RFC3339, r.URL.Query().Get("window_end"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_window_end"))
		writeError(w, http.StatusBadRequest, "window_end must be RFC 3339")
		return
	}

	appts, err := s.svc.ListAppointments(r.Context(), providerID, windowStart, windowEnd)
	if err != nil {
		s.writeServiceError(w, log, err)
		return
	}

	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": out})
}

type actorRequest struct {
	actorPayload
}

func (s *SchedulingServer) requestReschedule(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("route", "requestReschedule"))

	id, ok := s.uuidParam(w, r, log, "appointmentID")
	if !ok {
		return
	}
	var req actorRequest
	if !s.decode(w, r, log, &req) {
		return
	}

	appt, err := s.svc.RequestReschedule(r.Context(), req.actor(), id)
	if err != nil {
		s.writeServiceError(w, log, err)
		return
	}

	log.Info("reschedule requested", slog.String("appointment_id", appt.ID.String()))
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (s *SchedulingServer) rescheduleCandidates(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("route", "rescheduleCandidates"))

	id, ok := s.uuidParam(w, r, log, "appointmentID")
	if !ok {
		return
	}

	cands, err := s.svc.Candidates(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, log, err)
		return
	}

	otherDays := make([]daySlotsResponse, 0, len(cands.OtherDays))
	for _, d := range cands.OtherDays {
		otherDays = append(otherDays, toDaySlotsResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"same_day":   emptyIfNil(cands.SameDay),
		"other_days": otherDays,
	})
}

type resolveRequest struct {
	actorPayload
	KeepCurrent bool   `json:"keep_current"`
	NewSlot     string `json:"new_slot"`
}

func (s *SchedulingServer) resolveReschedule(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("route", "resolveReschedule"))

	id, ok := s.uuidParam(w, r, log, "appointmentID")
	if !ok {
		return
	}
	var req resolveRequest
	if !s.decode(w, r, log, &req) {
		return
	}

	choice := scheduling.ResolveChoice{KeepCurrent: req.KeepCurrent}
	if !req.KeepCurrent {
		slot, err := time.Parse(time.RFC3339, req.NewSlot)
		if err != nil {
			log.Warn("invalid request", slog.String("reason", "bad_new_slot"))
			writeError(w, http.StatusBadRequest, "new_slot must be RFC 3339")
			return
		}
		choice.NewSlot = slot
	}

	appt, err := s.svc.Resolve(r.Context(), req.actor(), id, choice)
	if err != nil {
		s.writeServiceError(w, log, err)
		return
	}

	log.Info("reschedule resolved",
		slog.String("appointment_id", appt.ID.String()),
		slog.Bool("kept_current", req.KeepCurrent),
	)
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (s *SchedulingServer) getRecurrence(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("route", "getRecurrence"))

	id, ok := s.uuidParam(w, r, log, "recurrenceID")
	if !ok {
		return
	}

	rec, instances, err := s.svc.GetRecurrence(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, log, err)
		return
	}

	out := make([]appointmentResponse, 0, len(instances))
	for _, a := range instances {
		out = append(out, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recurrence":   toRecurrenceResponse(rec),
		"appointments": out,
	})
}

func (s *SchedulingServer) cancelRecurrence(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("route", "cancelRecurrence"))

	id, ok := s.uuidParam(w, r, log, "recurrenceID")
	if !ok {
		return
	}
	var req actorRequest
	if !s.decode(w, r, log, &req) {
		return
	}

	rec, err := s.svc.CancelRecurrence(r.Context(), req.actor(), id)
	if err != nil {
		s.writeServiceError(w, log, err)
		return
	}

	log.Info("recurrence canceled", slog.String("recurrence_id", rec.ID.String()))
	writeJSON(w, http.StatusOK, map[string]any{"recurrence": toRecurrenceResponse(rec)})
}

func (s *SchedulingServer) acceptSingleSession(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("route", "acceptSingleSession"))

	id, ok := s.uuidParam(w, r, log, "recurrenceID")
	if !ok {
		return
	}
	var req actorRequest
	if !s.decode(w, r, log, &req) {
		return
	}

	appt, err := s.svc.AcceptSingleSession(r.Context(), req.actor(), id)
	if err != nil {
		s.writeServiceError(w, log, err)
		return
	}

	log.Info("single session accepted",
		slog.String("recurrence_id", id.String()),
		slog.String("appointment_id", appt.ID.String()),
	)
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (s *SchedulingServer) extendWindow(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("route", "extendWindow"))

	id, ok := s.uuidParam(w, r, log, "recurrenceID")
	if !ok {
		return
	}

	if err := s.svc.ExtendWindow(r.Context(), id); err != nil {
		s.writeServiceError(w, log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *SchedulingServer) decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_json"))
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		log.Warn("invalid request", slog.String("reason", "validation"), slog.Any("err", err))
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *SchedulingServer) uuidParam(w http.ResponseWriter, r *http.Request, log *slog.Logger, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("param", name))
		writeError(w, http.StatusBadRequest, name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (s *SchedulingServer) writeServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	var vErr *scheduling.ValidationError
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", slog.Any("err", err))
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, scheduling.ErrInvalidTime):
		log.Warn("invalid request", slog.Any("err", err))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduling.ErrAuthorizationDenied):
		log.Info("authorization denied", slog.Any("err", err))
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, scheduling.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, scheduling.ErrSlotUnavailable), errors.Is(err, scheduling.ErrInvalidTransition):
		log.Info("conflict", slog.Any("err", err))
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scheduling.ErrTransient):
		log.Error("transient failure", slog.Any("err", err))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry")
	default:
		log.Error("request failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type appointmentResponse struct {
	ID                  string  `json:"id"`
	ProviderID          string  `json:"provider_id"`
	ClientID            string  `json:"client_id"`
	ScheduledTo         string  `json:"scheduled_to"`
	Modality            string  `json:"modality"`
	Status              string  `json:"status"`
	Type                string  `json:"type"`
	RecurrenceID        *string `json:"recurrence_id,omitempty"`
	RescheduleRequested bool    `json:"reschedule_requested"`
	IsPaid              bool    `json:"is_paid"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

func toAppointmentResponse(a domain.Appointment) appointmentResponse {
	out := appointmentResponse{
		ID:                  a.ID.String(),
		ProviderID:          a.ProviderID,
		ClientID:            a.ClientID,
		ScheduledTo:         a.ScheduledTo.UTC().Format(time.RFC3339),
		Modality:            string(a.Modality),
		Status:              string(a.Status),
		Type:                string(a.Type),
		RescheduleRequested: a.RescheduleRequested,
		IsPaid:              a.IsPaid,
		CreatedAt:           a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if a.RecurrenceID != nil {
		id := a.RecurrenceID.String()
		out.RecurrenceID = &id
	}
	return out
}

type recurrenceResponse struct {
	ID              string `json:"id"`
	ProviderID      string `json:"provider_id"`
	ClientID        string `json:"client_id"`
	Weekday         int    `json:"weekday"`
	StartHour       int    `json:"start_hour"`
	Frequency       string `json:"frequency"`
	IntervalDays    int    `json:"interval_days,omitempty"`
	StartAt         string `json:"start_at"`
	Status          string `json:"status"`
	DefaultModality string `json:"default_modality"`
}

func toRecurrenceResponse(rec domain.Recurrence) recurrenceResponse {
	return recurrenceResponse{
		ID:              rec.ID.String(),
		ProviderID:      rec.ProviderID,
		ClientID:        rec.ClientID,
		Weekday:         int(rec.Weekday),
		StartHour:       rec.StartHour,
		Frequency:       string(rec.Frequency),
		IntervalDays:    rec.IntervalDays,
		StartAt:         rec.StartAt.UTC().Format(time.RFC3339),
		Status:          string(rec.Status),
		DefaultModality: string(rec.DefaultModality),
	}
}

type daySlotsResponse struct {
	Date  string `json:"date"`
	Hours []int  `json:"hours"`
}

func toDaySlotsResponse(d domain.DaySlots) daySlotsResponse {
	return daySlotsResponse{
		Date:  d.Date.Format("2006-01-02"),
		Hours: emptyIfNil(d.Hours),
	}
}

type monthSlotsResponse struct {
	Year  int                `json:"year"`
	Month int                `json:"month"`
	Days  []daySlotsResponse `json:"days"`
}

func toMonthsResponse(months []domain.MonthSlots) []monthSlotsResponse {
	out := make([]monthSlotsResponse, 0, len(months))
	for _, m := range months {
		days := make([]daySlotsResponse, 0, len(m.Days))
		for _, d := range m.Days {
			days = append(days, toDaySlotsResponse(d))
		}
		out = append(out, monthSlotsResponse{
			Year:  m.Year,
			Month: int(m.Month),
			Days:  days,
		})
	}
	return out
}

func emptyIfNil(hours []int) []int {
	if hours == nil {
		return []int{}
	}
	return hours
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
