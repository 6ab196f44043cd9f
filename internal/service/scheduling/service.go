package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"agendo/backend/internal/domain"
	"agendo/backend/internal/store"
)

const (
	// DefaultHorizonDays is used when the caller does not name a horizon.
	DefaultHorizonDays = 30

	// RecurrenceWindowSize is the rolling number of future instances kept
	// materialized for an accepted recurrence.
	RecurrenceWindowSize = 12
)

type Service struct {
	repo     store.SchedulingRepository
	notifier Notifier
	payments PaymentRecorder
	log      *slog.Logger

	now func() time.Time
}

func NewService(repo store.SchedulingRepository, notifier Notifier, payments PaymentRecorder, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = NewLogNotifier(log)
	}
	if payments == nil {
		payments = NopPaymentRecorder{}
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		payments: payments,
		log:      log.With(slog.String("component", "scheduling.service")),
		now:      time.Now,
	}
}

type RecurrenceInput struct {
	Frequency    domain.RecurrenceFrequency
	IntervalDays int
}

type BookInput struct {
	Actor          domain.Actor
	ProviderID     string
	ScheduledTo    time.Time
	Modality       domain.Modality
	Recurrence     *RecurrenceInput
	IdempotencyKey string
}

// Book validates a slot request and atomically reserves it as a PENDENT
// appointment. A recurring request additionally creates the Recurrence row
// and marks the appointment as its seed; further instances materialize only
// once the provider accepts the seed.
func (s *Service) Book(ctx context.Context, in BookInput) (domain.Appointment, error) {
	if in.Actor.Role != domain.RoleClient {
		return domain.Appointment{}, fmt.Errorf("%w: only clients book appointments", ErrAuthorizationDenied)
	}
	if in.Actor.ID == "" {
		return domain.Appointment{}, validationError("actor id is required")
	}
	if in.ProviderID == "" {
		return domain.Appointment{}, validationError("provider_id is required")
	}
	if in.Modality != domain.ModalityOnline && in.Modality != domain.ModalityOnSite {
		return domain.Appointment{}, validationError("modality must be ONLINE or ON_SITE")
	}

	slot, err := normalizeSlot(in.ScheduledTo)
	if err != nil {
		return domain.Appointment{}, err
	}

	if in.Recurrence != nil {
		if err := validateRecurrenceInput(*in.Recurrence); err != nil {
			return domain.Appointment{}, err
		}
	}

	now := s.now().UTC()
	if !slot.After(now) {
		return domain.Appointment{}, fmt.Errorf("%w: %s is not in the future", ErrInvalidTime, slot.Format(time.RFC3339))
	}

	var apptID uuid.UUID
	if key := strings.TrimSpace(in.IdempotencyKey); key != "" {
		if len(key) > 256 {
			return domain.Appointment{}, validationError("idempotency_key too long")
		}
		apptID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("agendo:book:"+in.Actor.ID+":"+key))

		// A retry must land here, before the availability check: the first
		// call's own row occupies the slot, so membership would report it
		// taken and the retry would bounce instead of replaying.
		existing, err := s.repo.GetAppointment(ctx, apptID)
		switch {
		case err == nil:
			if !idempotentReplay(existing, in, slot) {
				return domain.Appointment{}, mapBookErr(store.ErrIdempotencyConflict)
			}
			return existing, nil
		case !errors.Is(err, store.ErrNotFound):
			return domain.Appointment{}, mapReadErr(err)
		}
	}

	free, err := s.AvailableSlots(ctx, in.ProviderID, DefaultHorizonDays)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !domain.ContainsSlot(free, slot) {
		return domain.Appointment{}, fmt.Errorf("%w: %s", ErrSlotUnavailable, slot.Format(time.RFC3339))
	}

	appt := domain.Appointment{
		ID:          apptID,
		ProviderID:  in.ProviderID,
		ClientID:    in.Actor.ID,
		ScheduledTo: slot,
		Modality:    in.Modality,
		Status:      domain.AppointmentStatusPendent,
		Type:        domain.AppointmentTypeSingle,
	}

	var out domain.Appointment
	var replayed bool
	err = s.repo.InProviderTransaction(ctx, in.ProviderID, func(ctx context.Context, tx store.SchedulingTx) error {
		if appt.ID != uuid.Nil {
			// Re-check under the provider lock: a duplicate racing past the
			// unlocked read above must not mint a second Recurrence row.
			existing, err := tx.GetAppointment(ctx, appt.ID)
			switch {
			case err == nil:
				if !idempotentReplay(existing, in, slot) {
					return store.ErrIdempotencyConflict
				}
				out = existing
				replayed = true
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		if in.Recurrence != nil {
			rec, err := tx.CreateRecurrence(ctx, domain.Recurrence{
				ProviderID:      in.ProviderID,
				ClientID:        in.Actor.ID,
				Weekday:         slot.Weekday(),
				StartHour:       slot.Hour(),
				Frequency:       in.Recurrence.Frequency,
				IntervalDays:    in.Recurrence.IntervalDays,
				StartAt:         slot,
				Status:          domain.AppointmentStatusPendent,
				DefaultModality: in.Modality,
			})
			if err != nil {
				return err
			}
			appt.Type = domain.AppointmentTypeFirstInRecurrence
			appt.RecurrenceID = &rec.ID
		}

		a, err := tx.CreateAppointment(ctx, appt)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return domain.Appointment{}, mapBookErr(err)
	}

	if !replayed {
		s.notify(ctx, "booking created", s.notifier.BookingCreated, out)
	}
	return out, nil
}

func validateRecurrenceInput(in RecurrenceInput) error {
	switch in.Frequency {
	case domain.RecurrenceFrequencyWeekly, domain.RecurrenceFrequencyBiweekly, domain.RecurrenceFrequencyMonthly:
		return nil
	case domain.RecurrenceFrequencyCustom:
		if in.IntervalDays < 1 {
			return validationError("interval_days must be at least 1 for CUSTOM frequency")
		}
		return nil
	default:
		return validationError("unsupported recurrence frequency")
	}
}

// idempotentReplay reports whether an existing row is the same booking as a
// retried request. Status and type may have moved on since the first call.
func idempotentReplay(existing domain.Appointment, in BookInput, slot time.Time) bool {
	return existing.ProviderID == in.ProviderID &&
		existing.ClientID == in.Actor.ID &&
		existing.ScheduledTo.Equal(slot) &&
		existing.Modality == in.Modality
}

// UpdateStatus applies a single transition to one appointment. The provider
// accepts or rejects; cancels are provider-initiated at any time or
// client-initiated while the cancellation cutoff still allows it. Accepting
// or rejecting a recurrence seed propagates to the Recurrence row.
func (s *Service) UpdateStatus(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID, to domain.AppointmentStatus) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}

	appt, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, mapReadErr(err)
	}

	if err := s.authorizeTransition(actor, appt, to); err != nil {
		return domain.Appointment{}, err
	}
	if !domain.CanTransition(appt.Status, to) {
		return domain.Appointment{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
	}

	var out domain.Appointment
	err = s.repo.InProviderTransaction(ctx, appt.ProviderID, func(ctx context.Context, tx store.SchedulingTx) error {
		updated, err := tx.UpdateAppointmentStatus(ctx, appointmentID, appt.Status, to)
		if err != nil {
			return err
		}
		out = updated

		if updated.Type == domain.AppointmentTypeFirstInRecurrence && updated.RecurrenceID != nil {
			if err := s.propagateSeedStatus(ctx, tx, updated, to); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Appointment{}, mapWriteErr(err)
	}

	s.notify(ctx, "status change", s.notifier.StatusChanged, out)
	if to == domain.AppointmentStatusAccepted {
		s.recordPayment(ctx, out)
	}
	return out, nil
}

func (s *Service) authorizeTransition(actor domain.Actor, appt domain.Appointment, to domain.AppointmentStatus) error {
	switch to {
	case domain.AppointmentStatusAccepted, domain.AppointmentStatusRejected:
		if actor.Role != domain.RoleProvider || actor.ID != appt.ProviderID {
			return fmt.Errorf("%w: only the provider may accept or reject", ErrAuthorizationDenied)
		}
	case domain.AppointmentStatusCanceled:
		switch {
		case actor.Role == domain.RoleProvider && actor.ID == appt.ProviderID:
		case actor.Role == domain.RoleClient && actor.ID == appt.ClientID:
			if !domain.ClientMayCancel(appt.ScheduledTo, s.now().UTC()) {
				return fmt.Errorf("%w: cancellation cutoff passed", ErrAuthorizationDenied)
			}
		default:
			return fmt.Errorf("%w: actor is not a party to this appointment", ErrAuthorizationDenied)
		}
	default:
		return validationError("unsupported target status")
	}
	return nil
}

// SetWeeklyTemplate replaces the provider's availability for every weekday
// touched by the submission.
func (s *Service) SetWeeklyTemplate(ctx context.Context, actor domain.Actor, providerID string, entries []domain.TemplateEntry) error {
	if actor.Role != domain.RoleProvider || actor.ID != providerID {
		return fmt.Errorf("%w: only the provider edits their template", ErrAuthorizationDenied)
	}
	if len(entries) == 0 {
		return validationError("at least one template entry is required")
	}
	if err := domain.ValidateTemplateEntries(entries); err != nil {
		return validationError(err.Error())
	}

	err := s.repo.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.SchedulingTx) error {
		return tx.ReplaceTemplate(ctx, providerID, entries)
	})
	if err != nil {
		return mapWriteErr(err)
	}
	return nil
}

// ListAppointments returns the provider's agenda inside a window, every
// status included.
func (s *Service) ListAppointments(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	if providerID == "" {
		return nil, validationError("provider_id is required")
	}
	start := windowStart.UTC()
	end := windowEnd.UTC()
	if !end.After(start) {
		return nil, validationError("window_end must be after window_start")
	}
	return s.repo.ListAppointments(ctx, providerID, start, end)
}

// normalizeSlot enforces whole-hour granularity.
func normalizeSlot(t time.Time) (time.Time, error) {
	u := t.UTC()
	if u.IsZero() {
		return time.Time{}, fmt.Errorf("%w: scheduled_to is required", ErrInvalidTime)
	}
	if u.Minute() != 0 || u.Second() != 0 || u.Nanosecond() != 0 {
		return time.Time{}, fmt.Errorf("%w: slots are whole-hour", ErrInvalidTime)
	}
	return u, nil
}

func (s *Service) notify(ctx context.Context, what string, fn func(context.Context, domain.Appointment) error, appt domain.Appointment) {
	if err := fn(ctx, appt); err != nil {
		s.log.Warn("notification failed",
			slog.String("event", what),
			slog.Any("err", err),
			slog.String("appointment_id", appt.ID.String()),
		)
	}
}

func (s *Service) recordPayment(ctx context.Context, appt domain.Appointment) {
	if err := s.payments.RecordAcceptance(ctx, appt); err != nil {
		s.log.Warn("payment collaborator failed",
			slog.Any("err", err),
			slog.String("appointment_id", appt.ID.String()),
		)
		return
	}
	if err := s.repo.MarkPaid(ctx, appt.ID); err != nil {
		s.log.Warn("mark paid failed",
			slog.Any("err", err),
			slog.String("appointment_id", appt.ID.String()),
		)
	}
}

func mapBookErr(err error) error {
	switch {
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: slot taken at commit time", ErrSlotUnavailable)
	case errors.Is(err, store.ErrIdempotencyConflict):
		return validationError("idempotency key already used for a different booking")
	default:
		return mapWriteErr(err)
	}
}

func mapReadErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func mapWriteErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrPreconditionFailed):
		return fmt.Errorf("%w: appointment changed concurrently", ErrInvalidTransition)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: slot taken at commit time", ErrSlotUnavailable)
	default:
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
}
