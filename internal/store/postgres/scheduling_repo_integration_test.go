package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"agendo/backend/internal/domain"
	"agendo/backend/internal/store"
)

// The harness pins the pool to one connection so a session-level
// search_path confines every statement to a throwaway schema.
func openTestRepo(t *testing.T) *SchedulingRepo {
	t.Helper()

	databaseURL := strings.TrimSpace(os.Getenv("AGENDO_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("AGENDO_TEST_DATABASE_URL not set")
	}

	db, err := Open(databaseURL, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "agendo_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := db.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if _, err := db.NewRaw("SET search_path TO " + schema).Exec(ctx); err != nil {
		t.Fatalf("set search_path: %v", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	return NewSchedulingRepo(db)
}

func TestPostgresIntegration_SlotClaimAndIdempotency(t *testing.T) {
	repo := openTestRepo(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	providerID := "p1"
	slot := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	apptID := uuid.MustParse("00000000-0000-0000-0000-000000000901")

	create := func(appt domain.Appointment) (domain.Appointment, error) {
		var out domain.Appointment
		err := repo.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.SchedulingTx) error {
			created, err := tx.CreateAppointment(ctx, appt)
			if err != nil {
				return err
			}
			out = created
			return nil
		})
		return out, err
	}

	a1, err := create(domain.Appointment{
		ID:          apptID,
		ProviderID:  providerID,
		ClientID:    "c1",
		ScheduledTo: slot,
		Modality:    domain.ModalityOnline,
		Status:      domain.AppointmentStatusPendent,
		Type:        domain.AppointmentTypeSingle,
	})
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	t.Run("occupied slot conflicts", func(t *testing.T) {
		_, err := create(domain.Appointment{
			ProviderID:  providerID,
			ClientID:    "c2",
			ScheduledTo: slot,
			Modality:    domain.ModalityOnline,
			Status:      domain.AppointmentStatusPendent,
			Type:        domain.AppointmentTypeSingle,
		})
		if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("err = %v, want %v", err, store.ErrConflict)
		}
	})

	t.Run("same booking retried is returned as-is", func(t *testing.T) {
		again, err := create(domain.Appointment{
			ID:          apptID,
			ProviderID:  providerID,
			ClientID:    "c1",
			ScheduledTo: slot,
			Modality:    domain.ModalityOnline,
			Status:      domain.AppointmentStatusPendent,
			Type:        domain.AppointmentTypeSingle,
		})
		if err != nil {
			t.Fatalf("retry error: %v", err)
		}
		if again.ID != a1.ID {
			t.Fatalf("retry id = %s, want %s", again.ID, a1.ID)
		}
	})

	t.Run("reused id for another booking conflicts", func(t *testing.T) {
		_, err := create(domain.Appointment{
			ID:          apptID,
			ProviderID:  providerID,
			ClientID:    "c1",
			ScheduledTo: slot.Add(time.Hour),
			Modality:    domain.ModalityOnline,
			Status:      domain.AppointmentStatusPendent,
			Type:        domain.AppointmentTypeSingle,
		})
		if !errors.Is(err, store.ErrIdempotencyConflict) {
			t.Fatalf("err = %v, want %v", err, store.ErrIdempotencyConflict)
		}
	})

	t.Run("rejected row frees the slot index", func(t *testing.T) {
		err := repo.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.SchedulingTx) error {
			_, err := tx.UpdateAppointmentStatus(ctx, apptID, domain.AppointmentStatusPendent, domain.AppointmentStatusRejected)
			return err
		})
		if err != nil {
			t.Fatalf("reject error: %v", err)
		}

		rebooked, err := create(domain.Appointment{
			ProviderID:  providerID,
			ClientID:    "c2",
			ScheduledTo: slot,
			Modality:    domain.ModalityOnSite,
			Status:      domain.AppointmentStatusPendent,
			Type:        domain.AppointmentTypeSingle,
		})
		if err != nil {
			t.Fatalf("rebook error: %v", err)
		}
		if rebooked.ID == uuid.Nil {
			t.Fatalf("expected generated id")
		}

		occupied, err := repo.ListOccupied(ctx, providerID, slot.Add(-time.Hour), slot.Add(time.Hour))
		if err != nil {
			t.Fatalf("ListOccupied error: %v", err)
		}
		if len(occupied) != 1 || occupied[0].ID != rebooked.ID {
			t.Fatalf("occupied = %+v, want only the rebooked row", occupied)
		}
	})

	t.Run("stale status precondition fails", func(t *testing.T) {
		err := repo.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.SchedulingTx) error {
			_, err := tx.UpdateAppointmentStatus(ctx, apptID, domain.AppointmentStatusPendent, domain.AppointmentStatusAccepted)
			return err
		})
		if !errors.Is(err, store.ErrPreconditionFailed) {
			t.Fatalf("err = %v, want %v", err, store.ErrPreconditionFailed)
		}
	})
}

func TestPostgresIntegration_TemplateAndRecurrence(t *testing.T) {
	repo := openTestRepo(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	providerID := "p1"

	err := repo.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.SchedulingTx) error {
		return tx.ReplaceTemplate(ctx, providerID, []domain.TemplateEntry{
			{Weekday: time.Monday, StartHour: 9, EndHour: 12},
			{Weekday: time.Friday, StartHour: 14, EndHour: 16},
		})
	})
	if err != nil {
		t.Fatalf("ReplaceTemplate error: %v", err)
	}

	t.Run("resubmit replaces touched weekday only", func(t *testing.T) {
		err := repo.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.SchedulingTx) error {
			return tx.ReplaceTemplate(ctx, providerID, []domain.TemplateEntry{
				{Weekday: time.Monday, StartHour: 15, EndHour: 17},
			})
		})
		if err != nil {
			t.Fatalf("ReplaceTemplate error: %v", err)
		}

		entries, err := repo.ListTemplate(ctx, providerID)
		if err != nil {
			t.Fatalf("ListTemplate error: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("entries = %d, want 2", len(entries))
		}
		// Ordered by weekday; Monday carries the new block.
		if entries[0].Weekday != time.Monday || entries[0].StartHour != 15 {
			t.Fatalf("monday entry = %+v, want the 15-17 block", entries[0])
		}
		if entries[1].Weekday != time.Friday || entries[1].StartHour != 14 {
			t.Fatalf("friday entry = %+v, want untouched 14-16 block", entries[1])
		}
	})

	t.Run("recurrence status is compare-and-set", func(t *testing.T) {
		var rec domain.Recurrence
		err := repo.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.SchedulingTx) error {
			created, err := tx.CreateRecurrence(ctx, domain.Recurrence{
				ProviderID:      providerID,
				ClientID:        "c1",
				Weekday:         time.Monday,
				StartHour:       9,
				Frequency:       domain.RecurrenceFrequencyWeekly,
				StartAt:         time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
				Status:          domain.AppointmentStatusPendent,
				DefaultModality: domain.ModalityOnline,
			})
			if err != nil {
				return err
			}
			rec = created
			_, err = tx.UpdateRecurrenceStatus(ctx, created.ID, domain.AppointmentStatusPendent, domain.AppointmentStatusAccepted)
			return err
		})
		if err != nil {
			t.Fatalf("recurrence setup error: %v", err)
		}

		err = repo.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.SchedulingTx) error {
			_, err := tx.UpdateRecurrenceStatus(ctx, rec.ID, domain.AppointmentStatusPendent, domain.AppointmentStatusRejected)
			return err
		})
		if !errors.Is(err, store.ErrPreconditionFailed) {
			t.Fatalf("err = %v, want %v", err, store.ErrPreconditionFailed)
		}

		got, err := repo.GetRecurrence(ctx, rec.ID)
		if err != nil {
			t.Fatalf("GetRecurrence error: %v", err)
		}
		if got.Status != domain.AppointmentStatusAccepted {
			t.Fatalf("status = %s, want ACCEPTED", got.Status)
		}
	})
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

func applyMigrations(ctx context.Context, exec rawExecutor) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type mig struct {
		name string
		path string
	}
	migs := make([]mig, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		migs = append(migs, mig{name: e.Name(), path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].name < migs[j].name })

	for _, m := range migs {
		b, err := os.ReadFile(m.path)
		if err != nil {
			return err
		}
		upSQL, err := extractGooseUp(string(b))
		if err != nil {
			return err
		}
		for _, stmt := range splitSQLStatements(upSQL) {
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func migrationsDir() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("runtime.Caller failed")
	}
	base := filepath.Dir(file)
	return filepath.Clean(filepath.Join(base, "..", "..", "..", "migrations")), nil
}

func extractGooseUp(sql string) (string, error) {
	upMarker := "-- +goose Up"
	downMarker := "-- +goose Down"

	upIdx := strings.Index(sql, upMarker)
	if upIdx < 0 {
		return "", fmt.Errorf("missing goose up marker")
	}
	afterUp := sql[upIdx+len(upMarker):]
	afterUp = strings.TrimLeft(afterUp, "\r\n")

	downIdx := strings.Index(afterUp, downMarker)
	if downIdx < 0 {
		return strings.TrimSpace(afterUp), nil
	}
	return strings.TrimSpace(afterUp[:downIdx]), nil
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
