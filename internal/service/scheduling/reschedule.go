package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"agendo/backend/internal/domain"
	"agendo/backend/internal/store"
)

// RescheduleCandidates is the negotiation offer: free hours on the original
// day ranked by proximity to the original hour, then free hours on other
// days sharing the weekday ranked by calendar proximity.
type RescheduleCandidates struct {
	SameDay   []int
	OtherDays []domain.DaySlots
}

// RequestReschedule opens a negotiation on an accepted appointment. Only the
// provider opens one; the counterpart is notified best-effort.
func (s *Service) RequestReschedule(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}

	appt, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, mapReadErr(err)
	}
	if actor.Role != domain.RoleProvider || actor.ID != appt.ProviderID {
		return domain.Appointment{}, fmt.Errorf("%w: only the provider requests a reschedule", ErrAuthorizationDenied)
	}
	if appt.Status != domain.AppointmentStatusAccepted {
		return domain.Appointment{}, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, appt.Status)
	}
	if appt.RescheduleRequested {
		return domain.Appointment{}, fmt.Errorf("%w: reschedule already pending", ErrInvalidTransition)
	}

	var out domain.Appointment
	err = s.repo.InProviderTransaction(ctx, appt.ProviderID, func(ctx context.Context, tx store.SchedulingTx) error {
		updated, err := tx.SetRescheduleRequested(ctx, appointmentID, true)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return domain.Appointment{}, mapWriteErr(err)
	}

	s.notify(ctx, "reschedule requested", s.notifier.RescheduleRequested, out)
	return out, nil
}

// Candidates computes the replacement offer for a pending reschedule.
func (s *Service) Candidates(ctx context.Context, appointmentID uuid.UUID) (RescheduleCandidates, error) {
	if appointmentID == uuid.Nil {
		return RescheduleCandidates{}, validationError("appointment_id is required")
	}

	appt, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return RescheduleCandidates{}, mapReadErr(err)
	}
	if !appt.RescheduleRequested {
		return RescheduleCandidates{}, fmt.Errorf("%w: no reschedule pending", ErrInvalidTransition)
	}

	free, err := s.AvailableSlots(ctx, appt.ProviderID, DefaultHorizonDays)
	if err != nil {
		return RescheduleCandidates{}, err
	}
	return rankCandidates(free, appt.ScheduledTo), nil
}

func rankCandidates(free []domain.DaySlots, original time.Time) RescheduleCandidates {
	origKey := domain.KeyFor(original)
	origDate := time.Date(origKey.Year, origKey.Month, origKey.Day, 0, 0, 0, 0, time.UTC)

	var out RescheduleCandidates
	for _, day := range free {
		sameDate := day.Date.Year() == origKey.Year &&
			day.Date.Month() == origKey.Month &&
			day.Date.Day() == origKey.Day

		if sameDate {
			hours := make([]int, 0, len(day.Hours))
			for _, h := range day.Hours {
				if h == origKey.Hour {
					continue
				}
				hours = append(hours, h)
			}
			sort.SliceStable(hours, func(i, j int) bool {
				di, dj := absInt(hours[i]-origKey.Hour), absInt(hours[j]-origKey.Hour)
				if di != dj {
					return di < dj
				}
				return hours[i] < hours[j]
			})
			out.SameDay = hours
			continue
		}

		if day.Date.Weekday() == original.UTC().Weekday() {
			out.OtherDays = append(out.OtherDays, day)
		}
	}

	sort.SliceStable(out.OtherDays, func(i, j int) bool {
		di := absDuration(out.OtherDays[i].Date.Sub(origDate))
		dj := absDuration(out.OtherDays[j].Date.Sub(origDate))
		if di != dj {
			return di < dj
		}
		return out.OtherDays[i].Date.Before(out.OtherDays[j].Date)
	})
	return out
}

// ResolveChoice is the client's answer: a concrete new slot, or keeping the
// current one. Either answer closes the negotiation.
type ResolveChoice struct {
	KeepCurrent bool
	NewSlot     time.Time
}

// Resolve settles a pending reschedule. Moving to a new slot re-validates
// availability inside the provider lock; keeping the current slot only
// clears the flag.
func (s *Service) Resolve(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID, choice ResolveChoice) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}

	appt, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, mapReadErr(err)
	}
	if actor.Role != domain.RoleClient || actor.ID != appt.ClientID {
		return domain.Appointment{}, fmt.Errorf("%w: only the client resolves a reschedule", ErrAuthorizationDenied)
	}
	if !appt.RescheduleRequested {
		return domain.Appointment{}, fmt.Errorf("%w: no reschedule pending", ErrInvalidTransition)
	}

	var out domain.Appointment
	if choice.KeepCurrent {
		err = s.repo.InProviderTransaction(ctx, appt.ProviderID, func(ctx context.Context, tx store.SchedulingTx) error {
			updated, err := tx.SetRescheduleRequested(ctx, appointmentID, false)
			if err != nil {
				return err
			}
			out = updated
			return nil
		})
		if err != nil {
			return domain.Appointment{}, mapWriteErr(err)
		}
		s.notify(ctx, "reschedule resolved", s.notifier.RescheduleResolved, out)
		return out, nil
	}

	slot, err := normalizeSlot(choice.NewSlot)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !slot.After(s.now().UTC()) {
		return domain.Appointment{}, fmt.Errorf("%w: %s is not in the future", ErrInvalidTime, slot.Format(time.RFC3339))
	}

	free, err := s.AvailableSlots(ctx, appt.ProviderID, DefaultHorizonDays)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !domain.ContainsSlot(free, slot) {
		return domain.Appointment{}, fmt.Errorf("%w: %s", ErrSlotUnavailable, slot.Format(time.RFC3339))
	}

	err = s.repo.InProviderTransaction(ctx, appt.ProviderID, func(ctx context.Context, tx store.SchedulingTx) error {
		moved, err := tx.MoveAppointment(ctx, appointmentID, slot)
		if err != nil {
			return err
		}
		out = moved
		return nil
	})
	if err != nil {
		return domain.Appointment{}, mapWriteErr(err)
	}

	s.notify(ctx, "reschedule resolved", s.notifier.RescheduleResolved, out)
	return out, nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
