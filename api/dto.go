/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Sessions:
    SessionDTO, CreateSessionRequest, RescheduleSessionRequest,
    SetSessionStatusRequest, AvailabilityRequest, AvailabilityResponse

  Reservations:
    ReservationDTO, ReserveRequest, CanCancelResponse, VisitDTO

  Entitlements:
    EntitlementDTO, GrantEntitlementRequest

  Catalog:
    ActivityTypeDTO, RoomDTO, InstructorDTO, PlanDTO

VALIDATION:
  Validation is done in handlers and domain logic, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - club/types.go: The domain model these project
*/
package api

import (
	"time"

	"github.com/warp/club-engine/club"
)

// =============================================================================
// SESSION TYPES
// =============================================================================

// SessionDTO represents a session in API responses. AvailableSpots is
// derived at response time, never stored.
type SessionDTO struct {
	ID             string `json:"id"`
	ActivityTypeID string `json:"activity_type_id"`
	InstructorID   string `json:"instructor_id"`
	RoomID         string `json:"room_id"`
	StartAt        string `json:"start_at"`
	EndAt          string `json:"end_at"`
	DurationMin    int    `json:"duration_min"`
	Capacity       int    `json:"capacity"`
	AvailableSpots *int   `json:"available_spots,omitempty"`
	Status         string `json:"status"`
	Notes          string `json:"notes,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// CreateSessionRequest is the request to schedule a session.
// duration_min and capacity are optional; zero means the activity
// default (capacity additionally clamped to the room).
type CreateSessionRequest struct {
	ActivityTypeID string `json:"activity_type_id"`
	InstructorID   string `json:"instructor_id"`
	RoomID         string `json:"room_id"`
	StartAt        string `json:"start_at"`
	DurationMin    int    `json:"duration_min,omitempty"`
	Capacity       int    `json:"capacity,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

// RescheduleSessionRequest moves a SCHEDULED session. Empty fields keep
// the current value.
type RescheduleSessionRequest struct {
	StartAt      string `json:"start_at,omitempty"`
	DurationMin  int    `json:"duration_min,omitempty"`
	InstructorID string `json:"instructor_id,omitempty"`
	RoomID       string `json:"room_id,omitempty"`
}

// SetSessionStatusRequest advances a session's lifecycle status.
type SetSessionStatusRequest struct {
	Status string `json:"status"`
}

// AvailabilityRequest asks whether an instructor/room/window proposal
// would conflict, without creating anything.
type AvailabilityRequest struct {
	InstructorID     string `json:"instructor_id"`
	RoomID           string `json:"room_id"`
	StartAt          string `json:"start_at"`
	DurationMin      int    `json:"duration_min"`
	ExcludeSessionID string `json:"exclude_session_id,omitempty"`
}

// AvailabilityResponse reports the conflict, if any.
type AvailabilityResponse struct {
	Available bool         `json:"available"`
	Conflict  *ConflictDTO `json:"conflict,omitempty"`
}

// ConflictDTO describes which resource is busy and when.
type ConflictDTO struct {
	Resource   string `json:"resource"` // "instructor" or "room"
	ResourceID string `json:"resource_id"`
	SessionID  string `json:"session_id"`
	Start      string `json:"start"`
	End        string `json:"end"`
}

// =============================================================================
// RESERVATION TYPES
// =============================================================================

// ReservationDTO represents a reservation in API responses.
type ReservationDTO struct {
	ID             string `json:"id"`
	ClientID       string `json:"client_id"`
	SessionID      string `json:"session_id"`
	EntitlementID  string `json:"entitlement_id"`
	Status         string `json:"status"`
	Notes          string `json:"notes,omitempty"`
	CreatedAt      string `json:"created_at"`
	CancelledAt    string `json:"cancelled_at,omitempty"`
	ReminderSentAt string `json:"reminder_sent_at,omitempty"`
}

// ReserveRequest books a seat. The client is identified by the
// X-Client-ID header, not the body.
type ReserveRequest struct {
	SessionID string `json:"session_id"`
	Notes     string `json:"notes,omitempty"`
}

// CanCancelResponse answers the free-cancellation pre-check.
type CanCancelResponse struct {
	CanCancel bool   `json:"can_cancel"`
	Reason    string `json:"reason,omitempty"`
}

// VisitDTO represents a recorded visit.
type VisitDTO struct {
	ID            string `json:"id"`
	ReservationID string `json:"reservation_id"`
	RecordedAt    string `json:"recorded_at"`
	RecordedBy    string `json:"recorded_by,omitempty"`
}

// =============================================================================
// ENTITLEMENT TYPES
// =============================================================================

// EntitlementDTO represents a prepaid access grant. visits_remaining is
// null for unlimited grants.
type EntitlementDTO struct {
	ID              string `json:"id"`
	ClientID        string `json:"client_id"`
	PlanID          string `json:"plan_id,omitempty"`
	ValidFrom       string `json:"valid_from"`
	ValidTo         string `json:"valid_to"`
	Status          string `json:"status"`
	VisitsRemaining *int   `json:"visits_remaining"`
	PurchasedAt     string `json:"purchased_at"`
}

// GrantEntitlementRequest creates a grant from a plan. start defaults to
// today when omitted.
type GrantEntitlementRequest struct {
	ClientID string `json:"client_id"`
	PlanID   string `json:"plan_id"`
	Start    string `json:"start,omitempty"`
}

// =============================================================================
// CATALOG TYPES
// =============================================================================

type ActivityTypeDTO struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	DefaultDurationMin int    `json:"default_duration_min"`
	DefaultCapacity    int    `json:"default_capacity"`
	Active             bool   `json:"active"`
}

type RoomDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	Active   bool   `json:"active"`
}

type InstructorDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type PlanDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Price        string `json:"price"`
	DurationDays int    `json:"duration_days"`
	VisitLimit   *int   `json:"visit_limit"`
	Active       bool   `json:"active"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toSessionDTO(s club.Session) SessionDTO {
	return SessionDTO{
		ID:             string(s.ID),
		ActivityTypeID: string(s.ActivityType),
		InstructorID:   string(s.Instructor),
		RoomID:         string(s.Room),
		StartAt:        s.StartAt.Format(time.RFC3339),
		EndAt:          s.EndAt().Format(time.RFC3339),
		DurationMin:    int(s.Duration / time.Minute),
		Capacity:       s.Capacity,
		Status:         string(s.Status),
		Notes:          s.Notes,
		CreatedAt:      s.CreatedAt.Format(time.RFC3339),
	}
}

func toReservationDTO(r club.Reservation) ReservationDTO {
	dto := ReservationDTO{
		ID:            string(r.ID),
		ClientID:      string(r.Client),
		SessionID:     string(r.Session),
		EntitlementID: string(r.Entitlement),
		Status:        string(r.Status),
		Notes:         r.Notes,
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
	}
	if r.CancelledAt != nil {
		dto.CancelledAt = r.CancelledAt.Format(time.RFC3339)
	}
	if r.ReminderSentAt != nil {
		dto.ReminderSentAt = r.ReminderSentAt.Format(time.RFC3339)
	}
	return dto
}

func toEntitlementDTO(e club.Entitlement) EntitlementDTO {
	return EntitlementDTO{
		ID:              string(e.ID),
		ClientID:        string(e.Client),
		PlanID:          string(e.Plan),
		ValidFrom:       e.ValidFrom.Format("2006-01-02"),
		ValidTo:         e.ValidTo.Format("2006-01-02"),
		Status:          string(e.Status),
		VisitsRemaining: e.Remaining,
		PurchasedAt:     e.PurchasedAt.Format(time.RFC3339),
	}
}

func toConflictDTO(c *club.ScheduleConflictError) *ConflictDTO {
	if c == nil {
		return nil
	}
	return &ConflictDTO{
		Resource:   string(c.Resource),
		ResourceID: c.ResourceID,
		SessionID:  string(c.Session),
		Start:      c.Start.Format(time.RFC3339),
		End:        c.End.Format(time.RFC3339),
	}
}
