/*
handlers.go - HTTP API handlers for the club scheduling engine

PURPOSE:
  Exposes the scheduling, booking and entitlement engine via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Sessions:
    GET    /api/sessions                    List sessions in a window
    POST   /api/sessions                    Schedule a session
    GET    /api/sessions/{id}               Get session with live spots
    POST   /api/sessions/{id}/reschedule    Move a SCHEDULED session
    POST   /api/sessions/{id}/status        Advance lifecycle status
    GET    /api/sessions/{id}/reservations  Roster for a session
    POST   /api/availability                Conflict pre-check

  Reservations:
    POST   /api/reservations                Reserve a seat (X-Client-ID)
    GET    /api/reservations/{id}           Get reservation
    POST   /api/reservations/{id}/cancel    Cancel (24h window)
    GET    /api/reservations/{id}/can-cancel Free-cancellation pre-check
    POST   /api/reservations/{id}/visit     Record attendance (X-Actor-ID)

  Clients:
    GET    /api/clients/{id}/reservations   Client's reservations
    GET    /api/clients/{id}/entitlements   Client's grants

  Entitlements:
    POST   /api/entitlements                Grant from a plan

  Catalog:
    GET/POST /api/catalog/{activity-types,rooms,instructors,plans}

  Admin:
    POST   /api/admin/sweeps                Run every sweep once

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (booking ledger, schedule service, sweeps)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with the status derived from the error
  taxonomy:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (overlap, full session, duplicate, bad state)
  - 422: Entitlement failures (none covering, exhausted)
  - 500: Internal errors

SECURITY NOTE:
  Identity comes from the X-Client-ID / X-Actor-ID headers with no
  verification. A production deployment puts an authenticating proxy in
  front and forwards verified identity in those headers.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/club-engine/booking"
	"github.com/warp/club-engine/club"
	"github.com/warp/club-engine/entitlement"
	"github.com/warp/club-engine/schedule"
	"github.com/warp/club-engine/sweep"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        club.Store
	Schedule     *schedule.Service
	Detector     *schedule.Detector
	Booking      *booking.Ledger
	Entitlements *entitlement.Ledger
	Sweeps       *sweep.Runner
}

// NewHandler wires the handler from its domain services.
func NewHandler(store club.Store, sched *schedule.Service, bookings *booking.Ledger, ents *entitlement.Ledger, sweeps *sweep.Runner) *Handler {
	return &Handler{
		Store:        store,
		Schedule:     sched,
		Detector:     schedule.NewDetector(store),
		Booking:      bookings,
		Entitlements: ents,
		Sweeps:       sweeps,
	}
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// ListSessions returns sessions in a window, default the next 7 days.
// Optional filters: instructor_id, room_id, activity_type_id, status.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from := time.Now().UTC()
	to := from.AddDate(0, 0, 7)
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from (use RFC3339)", err)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to (use RFC3339)", err)
			return
		}
	}

	filter := club.SessionFilter{
		Instructor: club.InstructorID(q.Get("instructor_id")),
		Room:       club.RoomID(q.Get("room_id")),
		Activity:   club.ActivityTypeID(q.Get("activity_type_id")),
		Status:     club.SessionStatus(q.Get("status")),
	}

	sessions, err := h.Schedule.SessionsInRange(r.Context(), from, to, filter)
	if err != nil {
		writeDomainError(w, "Failed to list sessions", err)
		return
	}

	dtos := make([]SessionDTO, len(sessions))
	for i, s := range sessions {
		dtos[i] = toSessionDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSession schedules a new session after a conflict check.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_at (use RFC3339)", err)
		return
	}

	session, err := h.Schedule.Create(r.Context(), schedule.Params{
		ActivityType: club.ActivityTypeID(req.ActivityTypeID),
		Instructor:   club.InstructorID(req.InstructorID),
		Room:         club.RoomID(req.RoomID),
		Start:        start,
		Duration:     time.Duration(req.DurationMin) * time.Minute,
		Capacity:     req.Capacity,
		Notes:        req.Notes,
	})
	if err != nil {
		writeDomainError(w, "Failed to create session", err)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionDTO(*session))
}

// GetSession returns a session with its derived available spots.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := club.SessionID(chi.URLParam(r, "id"))

	session, err := h.Schedule.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get session", err)
		return
	}

	spots, err := h.Booking.AvailableSpots(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to compute available spots", err)
		return
	}

	dto := toSessionDTO(*session)
	dto.AvailableSpots = &spots
	writeJSON(w, http.StatusOK, dto)
}

// RescheduleSession moves a SCHEDULED session to a new slot.
func (h *Handler) RescheduleSession(w http.ResponseWriter, r *http.Request) {
	id := club.SessionID(chi.URLParam(r, "id"))

	var req RescheduleSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var start time.Time
	if req.StartAt != "" {
		var err error
		if start, err = time.Parse(time.RFC3339, req.StartAt); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start_at (use RFC3339)", err)
			return
		}
	}

	session, err := h.Schedule.Reschedule(r.Context(), id, start,
		time.Duration(req.DurationMin)*time.Minute,
		club.InstructorID(req.InstructorID), club.RoomID(req.RoomID))
	if err != nil {
		writeDomainError(w, "Failed to reschedule session", err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionDTO(*session))
}

// SetSessionStatus advances a session's lifecycle. Cancelling a session
// also cancels its confirmed reservations and refunds their visits.
func (h *Handler) SetSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := club.SessionID(chi.URLParam(r, "id"))

	var req SetSessionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Schedule.SetStatus(r.Context(), id, club.SessionStatus(req.Status)); err != nil {
		writeDomainError(w, "Failed to change session status", err)
		return
	}

	session, err := h.Schedule.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get session", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(*session))
}

// SessionReservations returns the roster for a session.
func (h *Handler) SessionReservations(w http.ResponseWriter, r *http.Request) {
	id := club.SessionID(chi.URLParam(r, "id"))

	reservations, err := h.Booking.BySession(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list reservations", err)
		return
	}

	dtos := make([]ReservationDTO, len(reservations))
	for i, res := range reservations {
		dtos[i] = toReservationDTO(res)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CheckAvailability runs the conflict pre-check without creating
// anything.
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	var req AvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_at (use RFC3339)", err)
		return
	}

	available, conflict, err := h.Detector.CheckAvailability(r.Context(), schedule.Proposal{
		Instructor: club.InstructorID(req.InstructorID),
		Room:       club.RoomID(req.RoomID),
		Start:      start,
		Duration:   time.Duration(req.DurationMin) * time.Minute,
		Exclude:    club.SessionID(req.ExcludeSessionID),
	})
	if err != nil {
		writeDomainError(w, "Failed to check availability", err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityResponse{
		Available: available,
		Conflict:  toConflictDTO(conflict),
	})
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// Reserve books a seat for the client in X-Client-ID.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	client := club.ClientID(r.Header.Get("X-Client-ID"))
	if client == "" {
		writeError(w, http.StatusBadRequest, "Missing X-Client-ID header", nil)
		return
	}

	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reservation, err := h.Booking.Reserve(r.Context(), client, club.SessionID(req.SessionID), req.Notes)
	if err != nil {
		writeDomainError(w, "Failed to reserve", err)
		return
	}

	writeJSON(w, http.StatusCreated, toReservationDTO(*reservation))
}

// GetReservation returns one reservation.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id := club.ReservationID(chi.URLParam(r, "id"))

	reservation, err := h.Booking.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get reservation", err)
		return
	}

	writeJSON(w, http.StatusOK, toReservationDTO(*reservation))
}

// CancelReservation cancels inside the free-cancellation window and
// refunds the entitlement visit.
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id := club.ReservationID(chi.URLParam(r, "id"))
	actor := r.Header.Get("X-Actor-ID")

	if err := h.Booking.Cancel(r.Context(), id, actor); err != nil {
		writeDomainError(w, "Failed to cancel reservation", err)
		return
	}

	reservation, err := h.Booking.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*reservation))
}

// CanCancelReservation answers the free-cancellation pre-check.
func (h *Handler) CanCancelReservation(w http.ResponseWriter, r *http.Request) {
	id := club.ReservationID(chi.URLParam(r, "id"))

	ok, err := h.Booking.CanCancel(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to check cancellation", err)
		return
	}

	resp := CanCancelResponse{CanCancel: ok}
	if !ok {
		resp.Reason = "outside the free-cancellation window or reservation is not confirmed"
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecordVisit marks attendance for a reservation, completing it.
func (h *Handler) RecordVisit(w http.ResponseWriter, r *http.Request) {
	id := club.ReservationID(chi.URLParam(r, "id"))
	actor := r.Header.Get("X-Actor-ID")

	visit, err := h.Booking.RecordVisit(r.Context(), id, actor)
	if err != nil {
		writeDomainError(w, "Failed to record visit", err)
		return
	}

	writeJSON(w, http.StatusCreated, VisitDTO{
		ID:            string(visit.ID),
		ReservationID: string(visit.Reservation),
		RecordedAt:    visit.RecordedAt.Format(time.RFC3339),
		RecordedBy:    visit.RecordedBy,
	})
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ClientReservations lists a client's reservations, optionally filtered
// by ?status=.
func (h *Handler) ClientReservations(w http.ResponseWriter, r *http.Request) {
	client := club.ClientID(chi.URLParam(r, "id"))

	var status *club.ReservationStatus
	if v := r.URL.Query().Get("status"); v != "" {
		s := club.ReservationStatus(v)
		status = &s
	}

	reservations, err := h.Booking.ByClient(r.Context(), client, status)
	if err != nil {
		writeDomainError(w, "Failed to list reservations", err)
		return
	}

	dtos := make([]ReservationDTO, len(reservations))
	for i, res := range reservations {
		dtos[i] = toReservationDTO(res)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ClientEntitlements lists a client's grants, newest purchase first.
func (h *Handler) ClientEntitlements(w http.ResponseWriter, r *http.Request) {
	client := club.ClientID(chi.URLParam(r, "id"))

	entitlements, err := h.Entitlements.ByClient(r.Context(), client)
	if err != nil {
		writeDomainError(w, "Failed to list entitlements", err)
		return
	}

	dtos := make([]EntitlementDTO, len(entitlements))
	for i, e := range entitlements {
		dtos[i] = toEntitlementDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ENTITLEMENT HANDLERS
// =============================================================================

// GrantEntitlement creates a grant from a plan, pricing and payment
// having happened elsewhere.
func (h *Handler) GrantEntitlement(w http.ResponseWriter, r *http.Request) {
	var req GrantEntitlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var start time.Time
	if req.Start != "" {
		var err error
		if start, err = time.Parse("2006-01-02", req.Start); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start (use YYYY-MM-DD)", err)
			return
		}
	}

	ent, err := h.Entitlements.Grant(r.Context(), club.ClientID(req.ClientID), club.PlanID(req.PlanID), start)
	if err != nil {
		writeDomainError(w, "Failed to grant entitlement", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntitlementDTO(*ent))
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

func (h *Handler) ListActivityTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Store.ListActivityTypes(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list activity types", err)
		return
	}

	dtos := make([]ActivityTypeDTO, len(types))
	for i, at := range types {
		dtos[i] = ActivityTypeDTO{
			ID:                 string(at.ID),
			Name:               at.Name,
			Description:        at.Description,
			DefaultDurationMin: int(at.DefaultDuration / time.Minute),
			DefaultCapacity:    at.DefaultCapacity,
			Active:             at.Active,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateActivityType(w http.ResponseWriter, r *http.Request) {
	var dto ActivityTypeDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if dto.Name == "" || dto.DefaultDurationMin <= 0 || dto.DefaultCapacity < 1 {
		writeError(w, http.StatusBadRequest, "name, default_duration_min and default_capacity are required", nil)
		return
	}
	if dto.ID == "" {
		dto.ID = newID()
	}
	err := h.Store.SaveActivityType(r.Context(), club.ActivityType{
		ID:              club.ActivityTypeID(dto.ID),
		Name:            dto.Name,
		Description:     dto.Description,
		DefaultDuration: time.Duration(dto.DefaultDurationMin) * time.Minute,
		DefaultCapacity: dto.DefaultCapacity,
		Active:          true,
	})
	if err != nil {
		writeDomainError(w, "Failed to save activity type", err)
		return
	}
	dto.Active = true
	writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.Store.ListRooms(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list rooms", err)
		return
	}

	dtos := make([]RoomDTO, len(rooms))
	for i, room := range rooms {
		dtos[i] = RoomDTO{ID: string(room.ID), Name: room.Name, Capacity: room.Capacity, Active: room.Active}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var dto RoomDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if dto.Name == "" || dto.Capacity < 1 {
		writeError(w, http.StatusBadRequest, "name and a positive capacity are required", nil)
		return
	}
	if dto.ID == "" {
		dto.ID = newID()
	}
	err := h.Store.SaveRoom(r.Context(), club.Room{
		ID: club.RoomID(dto.ID), Name: dto.Name, Capacity: dto.Capacity, Active: true,
	})
	if err != nil {
		writeDomainError(w, "Failed to save room", err)
		return
	}
	dto.Active = true
	writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) ListInstructors(w http.ResponseWriter, r *http.Request) {
	instructors, err := h.Store.ListInstructors(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list instructors", err)
		return
	}

	dtos := make([]InstructorDTO, len(instructors))
	for i, ins := range instructors {
		dtos[i] = InstructorDTO{ID: string(ins.ID), Name: ins.Name, Active: ins.Active}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateInstructor(w http.ResponseWriter, r *http.Request) {
	var dto InstructorDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if dto.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if dto.ID == "" {
		dto.ID = newID()
	}
	err := h.Store.SaveInstructor(r.Context(), club.Instructor{
		ID: club.InstructorID(dto.ID), Name: dto.Name, Active: true,
	})
	if err != nil {
		writeDomainError(w, "Failed to save instructor", err)
		return
	}
	dto.Active = true
	writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Store.ListPlans(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list plans", err)
		return
	}

	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = PlanDTO{
			ID:           string(p.ID),
			Name:         p.Name,
			Price:        p.Price.String(),
			DurationDays: p.DurationDays,
			VisitLimit:   p.VisitLimit,
			Active:       p.Active,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var dto PlanDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if dto.Name == "" || dto.DurationDays < 1 {
		writeError(w, http.StatusBadRequest, "name and a positive duration_days are required", nil)
		return
	}
	price, err := parsePrice(dto.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}
	if dto.ID == "" {
		dto.ID = newID()
	}
	err = h.Store.SavePlan(r.Context(), club.Plan{
		ID:           club.PlanID(dto.ID),
		Name:         dto.Name,
		Price:        price,
		DurationDays: dto.DurationDays,
		VisitLimit:   dto.VisitLimit,
		Active:       true,
	})
	if err != nil {
		writeDomainError(w, "Failed to save plan", err)
		return
	}
	dto.Active = true
	writeJSON(w, http.StatusCreated, dto)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunSweeps executes every time-driven sweep once, synchronously.
func (h *Handler) RunSweeps(w http.ResponseWriter, r *http.Request) {
	h.Sweeps.RunAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the error taxonomy to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func newID() string {
	return uuid.NewString()
}

func parsePrice(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, club.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, club.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, club.ErrConflict), errors.Is(err, club.ErrState):
		return http.StatusConflict
	case errors.Is(err, club.ErrEntitlement):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
