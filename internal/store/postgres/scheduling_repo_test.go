package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"agendo/backend/internal/domain"
)

func TestIdempotentMatch(t *testing.T) {
	base := domain.Appointment{
		ID:          uuid.MustParse("00000000-0000-0000-0000-000000000801"),
		ProviderID:  "p1",
		ClientID:    "c1",
		ScheduledTo: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
		Modality:    domain.ModalityOnline,
		Status:      domain.AppointmentStatusPendent,
		Type:        domain.AppointmentTypeSingle,
	}

	t.Run("identical retry matches", func(t *testing.T) {
		if !idempotentMatch(base, base) {
			t.Fatalf("identical rows should match")
		}
	})

	t.Run("status drift still matches", func(t *testing.T) {
		// The stored row may have been accepted between retries; the
		// request is still the same booking.
		existing := base
		existing.Status = domain.AppointmentStatusAccepted
		if !idempotentMatch(existing, base) {
			t.Fatalf("status change should not break the match")
		}
	})

	t.Run("non-utc location matches", func(t *testing.T) {
		requested := base
		requested.ScheduledTo = base.ScheduledTo.In(time.FixedZone("UTC+3", 3*3600))
		if !idempotentMatch(base, requested) {
			t.Fatalf("same instant in another zone should match")
		}
	})

	t.Run("different slot conflicts", func(t *testing.T) {
		requested := base
		requested.ScheduledTo = base.ScheduledTo.Add(time.Hour)
		if idempotentMatch(base, requested) {
			t.Fatalf("different slot should conflict")
		}
	})

	t.Run("different client conflicts", func(t *testing.T) {
		requested := base
		requested.ClientID = "c2"
		if idempotentMatch(base, requested) {
			t.Fatalf("different client should conflict")
		}
	})

	t.Run("different modality conflicts", func(t *testing.T) {
		requested := base
		requested.Modality = domain.ModalityOnSite
		if idempotentMatch(base, requested) {
			t.Fatalf("different modality should conflict")
		}
	})

	t.Run("different type conflicts", func(t *testing.T) {
		requested := base
		requested.Type = domain.AppointmentTypeFirstInRecurrence
		if idempotentMatch(base, requested) {
			t.Fatalf("different type should conflict")
		}
	})
}
