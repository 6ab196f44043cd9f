package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agendo/backend/internal/domain"
	"agendo/backend/internal/store"
)

// propagateSeedStatus mirrors a seed appointment transition onto its
// Recurrence row and, on acceptance, materializes the forward window. The
// recurrence status is never written outside this propagation path.
func (s *Service) propagateSeedStatus(ctx context.Context, tx store.SchedulingTx, seed domain.Appointment, to domain.AppointmentStatus) error {
	switch to {
	case domain.AppointmentStatusAccepted, domain.AppointmentStatusRejected:
	default:
		return nil
	}

	rec, err := tx.UpdateRecurrenceStatus(ctx, *seed.RecurrenceID, domain.AppointmentStatusPendent, to)
	if err != nil {
		return err
	}

	if to == domain.AppointmentStatusAccepted {
		return s.materializeInstances(ctx, tx, rec, rec.StartAt, RecurrenceWindowSize)
	}
	return nil
}

// materializeInstances creates up to count RECURRENT instances after the
// given anchor. Occurrences whose slot is already occupied are skipped
// rather than failing the whole chain.
func (s *Service) materializeInstances(ctx context.Context, tx store.SchedulingTx, rec domain.Recurrence, after time.Time, count int) error {
	occs, err := rec.NextOccurrences(after, count)
	if err != nil {
		return validationError(err.Error())
	}
	if len(occs) == 0 {
		return nil
	}

	occupied, err := tx.ListOccupied(ctx, rec.ProviderID, s.now().UTC(), occs[len(occs)-1].Add(time.Hour))
	if err != nil {
		return err
	}
	taken := make(map[domain.SlotKey]struct{}, len(occupied))
	for _, a := range occupied {
		taken[domain.KeyFor(a.ScheduledTo)] = struct{}{}
	}

	for _, occ := range occs {
		if _, ok := taken[domain.KeyFor(occ)]; ok {
			continue
		}
		_, err := tx.CreateAppointment(ctx, domain.Appointment{
			ProviderID:   rec.ProviderID,
			ClientID:     rec.ClientID,
			ScheduledTo:  occ,
			Modality:     rec.DefaultModality,
			Status:       domain.AppointmentStatusPendent,
			Type:         domain.AppointmentTypeRecurrent,
			RecurrenceID: &rec.ID,
		})
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// CancelRecurrence terminates the series: the recurrence row and every
// future non-terminal instance move to CANCELED, past instances keep their
// status. A client-initiated cancel leaves instances inside the cancellation
// cutoff untouched.
func (s *Service) CancelRecurrence(ctx context.Context, actor domain.Actor, recurrenceID uuid.UUID) (domain.Recurrence, error) {
	if recurrenceID == uuid.Nil {
		return domain.Recurrence{}, validationError("recurrence_id is required")
	}

	rec, err := s.repo.GetRecurrence(ctx, recurrenceID)
	if err != nil {
		return domain.Recurrence{}, mapReadErr(err)
	}

	providerInitiated := actor.Role == domain.RoleProvider && actor.ID == rec.ProviderID
	clientInitiated := actor.Role == domain.RoleClient && actor.ID == rec.ClientID
	if !providerInitiated && !clientInitiated {
		return domain.Recurrence{}, fmt.Errorf("%w: actor is not a party to this recurrence", ErrAuthorizationDenied)
	}
	if rec.Status.Terminal() {
		return domain.Recurrence{}, fmt.Errorf("%w: recurrence is %s", ErrInvalidTransition, rec.Status)
	}

	now := s.now().UTC()
	var out domain.Recurrence
	var canceled []domain.Appointment
	err = s.repo.InProviderTransaction(ctx, rec.ProviderID, func(ctx context.Context, tx store.SchedulingTx) error {
		updated, err := tx.UpdateRecurrenceStatus(ctx, recurrenceID, rec.Status, domain.AppointmentStatusCanceled)
		if err != nil {
			return err
		}
		out = updated
		canceled = canceled[:0]

		instances, err := tx.ListRecurrenceInstances(ctx, recurrenceID)
		if err != nil {
			return err
		}
		for _, inst := range instances {
			if inst.Status.Terminal() || !inst.ScheduledTo.After(now) {
				continue
			}
			if clientInitiated && !domain.ClientMayCancel(inst.ScheduledTo, now) {
				continue
			}
			a, err := tx.UpdateAppointmentStatus(ctx, inst.ID, inst.Status, domain.AppointmentStatusCanceled)
			if err != nil {
				if errors.Is(err, store.ErrPreconditionFailed) {
					continue
				}
				return err
			}
			canceled = append(canceled, a)
		}
		return nil
	})
	if err != nil {
		return domain.Recurrence{}, mapWriteErr(err)
	}

	for _, appt := range canceled {
		s.notify(ctx, "status change", s.notifier.StatusChanged, appt)
	}
	return out, nil
}

// AcceptSingleSession answers a recurrence request with "one session only":
// the recurrence itself is rejected while the seed appointment is accepted
// and converted into a standalone SINGLE_REPEATED booking. The two writes
// are explicit and both guarded by status preconditions, so a racing
// accept-recurrence call loses cleanly.
func (s *Service) AcceptSingleSession(ctx context.Context, actor domain.Actor, recurrenceID uuid.UUID) (domain.Appointment, error) {
	if recurrenceID == uuid.Nil {
		return domain.Appointment{}, validationError("recurrence_id is required")
	}

	rec, err := s.repo.GetRecurrence(ctx, recurrenceID)
	if err != nil {
		return domain.Appointment{}, mapReadErr(err)
	}
	if actor.Role != domain.RoleProvider || actor.ID != rec.ProviderID {
		return domain.Appointment{}, fmt.Errorf("%w: only the provider answers a recurrence request", ErrAuthorizationDenied)
	}

	var out domain.Appointment
	err = s.repo.InProviderTransaction(ctx, rec.ProviderID, func(ctx context.Context, tx store.SchedulingTx) error {
		if _, err := tx.UpdateRecurrenceStatus(ctx, recurrenceID, domain.AppointmentStatusPendent, domain.AppointmentStatusRejected); err != nil {
			return err
		}

		instances, err := tx.ListRecurrenceInstances(ctx, recurrenceID)
		if err != nil {
			return err
		}
		var seed *domain.Appointment
		for i := range instances {
			if instances[i].Type == domain.AppointmentTypeFirstInRecurrence {
				seed = &instances[i]
				break
			}
		}
		if seed == nil {
			return store.ErrNotFound
		}

		if _, err := tx.UpdateAppointmentStatus(ctx, seed.ID, domain.AppointmentStatusPendent, domain.AppointmentStatusAccepted); err != nil {
			return err
		}
		converted, err := tx.ConvertSeedToSingle(ctx, seed.ID)
		if err != nil {
			return err
		}
		out = converted
		return nil
	})
	if err != nil {
		return domain.Appointment{}, mapWriteErr(err)
	}

	s.notify(ctx, "single session accepted", s.notifier.StatusChanged, out)
	s.recordPayment(ctx, out)
	return out, nil
}

// ExtendWindow tops the rolling window of an accepted recurrence back up to
// RecurrenceWindowSize future instances. The surrounding system calls it as
// time advances; it is idempotent.
func (s *Service) ExtendWindow(ctx context.Context, recurrenceID uuid.UUID) error {
	if recurrenceID == uuid.Nil {
		return validationError("recurrence_id is required")
	}

	rec, err := s.repo.GetRecurrence(ctx, recurrenceID)
	if err != nil {
		return mapReadErr(err)
	}
	if rec.Status != domain.AppointmentStatusAccepted {
		return fmt.Errorf("%w: recurrence is %s", ErrInvalidTransition, rec.Status)
	}

	now := s.now().UTC()
	err = s.repo.InProviderTransaction(ctx, rec.ProviderID, func(ctx context.Context, tx store.SchedulingTx) error {
		instances, err := tx.ListRecurrenceInstances(ctx, recurrenceID)
		if err != nil {
			return err
		}

		future := 0
		anchor := rec.StartAt.UTC()
		for _, inst := range instances {
			if inst.ScheduledTo.After(anchor) {
				anchor = inst.ScheduledTo.UTC()
			}
			if !inst.Status.Terminal() && inst.ScheduledTo.After(now) {
				future++
			}
		}
		if future >= RecurrenceWindowSize {
			return nil
		}
		return s.materializeInstances(ctx, tx, rec, anchor, RecurrenceWindowSize-future)
	})
	if err != nil {
		return mapWriteErr(err)
	}
	return nil
}

// GetRecurrence returns the series row with its materialized instances.
func (s *Service) GetRecurrence(ctx context.Context, recurrenceID uuid.UUID) (domain.Recurrence, []domain.Appointment, error) {
	if recurrenceID == uuid.Nil {
		return domain.Recurrence{}, nil, validationError("recurrence_id is required")
	}
	rec, err := s.repo.GetRecurrence(ctx, recurrenceID)
	if err != nil {
		return domain.Recurrence{}, nil, mapReadErr(err)
	}
	instances, err := s.repo.ListRecurrenceInstances(ctx, recurrenceID)
	if err != nil {
		return domain.Recurrence{}, nil, mapReadErr(err)
	}
	return rec, instances, nil
}
