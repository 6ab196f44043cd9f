package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"agendo/backend/internal/domain"
)

// MaxHorizonDays bounds how far ahead availability is computed and
// recurrence instances are materialized.
const MaxHorizonDays = 180

// SchedulingRepository is the authoritative store of templates, appointments
// and recurrences. Mutations that claim or move a slot run inside
// InProviderTransaction so that the final free-slot check and the write are a
// single atomic unit per provider.
type SchedulingRepository interface {
	InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx SchedulingTx) error) error

	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	ListAppointments(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	ListOccupied(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	ListTemplate(ctx context.Context, providerID string) ([]domain.TemplateEntry, error)
	GetRecurrence(ctx context.Context, id uuid.UUID) (domain.Recurrence, error)
	ListRecurrenceInstances(ctx context.Context, recurrenceID uuid.UUID) ([]domain.Appointment, error)
	MarkPaid(ctx context.Context, appointmentID uuid.UUID) error
}

// SchedulingTx is the per-provider transactional view. Status writes are
// compare-and-set: they name the expected current status and fail with
// ErrPreconditionFailed when the row has moved on.
type SchedulingTx interface {
	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	ListOccupied(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus) (domain.Appointment, error)
	SetRescheduleRequested(ctx context.Context, id uuid.UUID, requested bool) (domain.Appointment, error)
	MoveAppointment(ctx context.Context, id uuid.UUID, scheduledTo time.Time) (domain.Appointment, error)
	ConvertSeedToSingle(ctx context.Context, id uuid.UUID) (domain.Appointment, error)

	ReplaceTemplate(ctx context.Context, providerID string, entries []domain.TemplateEntry) error
	ListTemplate(ctx context.Context, providerID string) ([]domain.TemplateEntry, error)

	CreateRecurrence(ctx context.Context, rec domain.Recurrence) (domain.Recurrence, error)
	GetRecurrence(ctx context.Context, id uuid.UUID) (domain.Recurrence, error)
	UpdateRecurrenceStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus) (domain.Recurrence, error)
	ListRecurrenceInstances(ctx context.Context, recurrenceID uuid.UUID) ([]domain.Appointment, error)
}
