package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AppointmentStatus string

const (
	AppointmentStatusPendent  AppointmentStatus = "PENDENT"
	AppointmentStatusAccepted AppointmentStatus = "ACCEPTED"
	AppointmentStatusRejected AppointmentStatus = "REJECTED"
	AppointmentStatusCanceled AppointmentStatus = "CANCELED"
)

// Terminal reports whether no further status transition is permitted.
func (s AppointmentStatus) Terminal() bool {
	return s == AppointmentStatusRejected || s == AppointmentStatusCanceled
}

// CanTransition encodes the appointment state machine:
// PENDENT -> ACCEPTED | REJECTED, ACCEPTED -> CANCELED.
func CanTransition(from, to AppointmentStatus) bool {
	switch from {
	case AppointmentStatusPendent:
		return to == AppointmentStatusAccepted || to == AppointmentStatusRejected
	case AppointmentStatusAccepted:
		return to == AppointmentStatusCanceled
	default:
		return false
	}
}

type AppointmentType string

const (
	AppointmentTypeSingle            AppointmentType = "SINGLE"
	AppointmentTypeSingleRepeated    AppointmentType = "SINGLE_REPEATED"
	AppointmentTypeFirstInRecurrence AppointmentType = "FIRST_IN_RECURRENCE"
	AppointmentTypeRecurrent         AppointmentType = "RECURRENT"
)

type Modality string

const (
	ModalityOnline Modality = "ONLINE"
	ModalityOnSite Modality = "ON_SITE"
)

type Role string

const (
	RoleProvider Role = "PROVIDER"
	RoleClient   Role = "CLIENT"
)

// Actor identifies who is performing a call. Authorization is decided from
// this explicit value, never from ambient state.
type Actor struct {
	ID   string
	Role Role
}

// CancellationCutoff is the minimum notice a client must give to cancel an
// accepted appointment. Providers are not bound by it.
const CancellationCutoff = 24 * time.Hour

// ClientMayCancel reports whether a client-initiated cancel at "now" is still
// inside the allowed notice window for the given slot.
func ClientMayCancel(scheduledTo, now time.Time) bool {
	return scheduledTo.Sub(now) > CancellationCutoff
}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID                  uuid.UUID         `bun:"id,pk,type:uuid"`
	ProviderID          string            `bun:"provider_id,notnull"`
	ClientID            string            `bun:"client_id,notnull"`
	ScheduledTo         time.Time         `bun:"scheduled_to,notnull"`
	Modality            Modality          `bun:"modality,notnull"`
	Status              AppointmentStatus `bun:"status,notnull"`
	Type                AppointmentType   `bun:"type,notnull"`
	RecurrenceID        *uuid.UUID        `bun:"recurrence_id,type:uuid"`
	RescheduleRequested bool              `bun:"reschedule_requested,notnull"`
	IsPaid              bool              `bun:"is_paid,notnull"`
	CreatedAt           time.Time         `bun:"created_at,notnull"`
	UpdatedAt           time.Time         `bun:"updated_at,notnull"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

// Occupies reports whether the appointment still holds its slot against
// availability. Terminal appointments free the slot immediately.
func (a Appointment) Occupies() bool {
	return !a.Status.Terminal()
}
