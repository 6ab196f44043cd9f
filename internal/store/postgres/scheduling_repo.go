package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"agendo/backend/internal/domain"
	"agendo/backend/internal/store"
)

// slotConstraint is the partial unique index enforcing that at most one
// PENDENT or ACCEPTED appointment exists per (provider_id, scheduled_to).
const slotConstraint = "uq_appointments_provider_slot"

type SchedulingRepo struct {
	db *bun.DB
}

func NewSchedulingRepo(db *bun.DB) *SchedulingRepo {
	return &SchedulingRepo{db: db}
}

type schedulingTx struct {
	tx bun.IDB
}

// InProviderTransaction serializes all slot-claiming writes for one provider
// behind a transaction-scoped advisory lock. Reads outside this lock may be
// stale; the final free-slot check always runs inside it.
func (r *SchedulingRepo) InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx store.SchedulingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProviderCalendar(ctx, tx, providerID); err != nil {
			return err
		}
		return fn(ctx, schedulingTx{tx: tx})
	})
}

func lockProviderCalendar(ctx context.Context, tx bun.Tx, providerID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", providerID).Exec(ctx)
	return err
}

func (r *SchedulingRepo) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return schedulingTx{tx: r.db}.GetAppointment(ctx, id)
}

func (r *SchedulingRepo) ListAppointments(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("scheduled_to >= ?", windowStart).
		Where("scheduled_to < ?", windowEnd).
		OrderExpr("scheduled_to ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SchedulingRepo) ListOccupied(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	return schedulingTx{tx: r.db}.ListOccupied(ctx, providerID, windowStart, windowEnd)
}

func (r *SchedulingRepo) ListTemplate(ctx context.Context, providerID string) ([]domain.TemplateEntry, error) {
	return schedulingTx{tx: r.db}.ListTemplate(ctx, providerID)
}

func (r *SchedulingRepo) GetRecurrence(ctx context.Context, id uuid.UUID) (domain.Recurrence, error) {
	return schedulingTx{tx: r.db}.GetRecurrence(ctx, id)
}

func (r *SchedulingRepo) ListRecurrenceInstances(ctx context.Context, recurrenceID uuid.UUID) ([]domain.Appointment, error) {
	return schedulingTx{tx: r.db}.ListRecurrenceInstances(ctx, recurrenceID)
}

// MarkPaid records payment metadata after acceptance. It never touches
// status; a missing row is reported but payment state cannot gate the
// scheduling state machine.
func (r *SchedulingRepo) MarkPaid(ctx context.Context, appointmentID uuid.UUID) error {
	res, err := r.db.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("is_paid = TRUE").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", appointmentID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t schedulingTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	m.ScheduledTo = appt.ScheduledTo.UTC()

	// DO NOTHING on the primary key keeps the transaction usable when a
	// retry with an idempotent id lands; a violation of the slot index is
	// a genuine double booking and fails the transaction.
	res, err := t.tx.NewInsert().
		Model(&m).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == slotConstraint {
			return domain.Appointment{}, store.ErrConflict
		}
		return domain.Appointment{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		existing, err := t.GetAppointment(ctx, m.ID)
		if err != nil {
			return domain.Appointment{}, err
		}
		if !idempotentMatch(existing, m) {
			return domain.Appointment{}, store.ErrIdempotencyConflict
		}
		return existing, nil
	}
	return m, nil
}

// idempotentMatch reports whether a primary-key collision is a retry of the
// same booking rather than a reused id.
func idempotentMatch(existing, requested domain.Appointment) bool {
	return existing.ProviderID == requested.ProviderID &&
		existing.ClientID == requested.ClientID &&
		existing.ScheduledTo.Equal(requested.ScheduledTo.UTC()) &&
		existing.Modality == requested.Modality &&
		existing.Type == requested.Type
}

func (t schedulingTx) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var out domain.Appointment
	err := t.tx.NewSelect().
		Model(&out).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Appointment{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func (t schedulingTx) ListOccupied(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := t.tx.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("status IN (?)", bun.In([]domain.AppointmentStatus{domain.AppointmentStatusPendent, domain.AppointmentStatusAccepted})).
		Where("scheduled_to >= ?", windowStart).
		Where("scheduled_to < ?", windowEnd).
		OrderExpr("scheduled_to ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (t schedulingTx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus) (domain.Appointment, error) {
	res, err := t.tx.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		// Distinguish a missing row from a row that moved on.
		if _, getErr := t.GetAppointment(ctx, id); errors.Is(getErr, store.ErrNotFound) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, store.ErrPreconditionFailed
	}
	return t.GetAppointment(ctx, id)
}

func (t schedulingTx) SetRescheduleRequested(ctx context.Context, id uuid.UUID, requested bool) (domain.Appointment, error) {
	res, err := t.tx.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("reschedule_requested = ?", requested).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("reschedule_requested = ?", !requested).
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		if _, getErr := t.GetAppointment(ctx, id); errors.Is(getErr, store.ErrNotFound) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, store.ErrPreconditionFailed
	}
	return t.GetAppointment(ctx, id)
}

// MoveAppointment relocates an accepted appointment that has a reschedule
// pending and clears the flag as part of the same write. The slot index
// rejects the move when the target hour is already taken.
func (t schedulingTx) MoveAppointment(ctx context.Context, id uuid.UUID, scheduledTo time.Time) (domain.Appointment, error) {
	res, err := t.tx.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("scheduled_to = ?", scheduledTo.UTC()).
		Set("reschedule_requested = FALSE").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", domain.AppointmentStatusAccepted).
		Where("reschedule_requested = TRUE").
		Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == slotConstraint {
			return domain.Appointment{}, store.ErrConflict
		}
		return domain.Appointment{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		if _, getErr := t.GetAppointment(ctx, id); errors.Is(getErr, store.ErrNotFound) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, store.ErrPreconditionFailed
	}
	return t.GetAppointment(ctx, id)
}

// ConvertSeedToSingle turns a recurrence seed into a standalone
// SINGLE_REPEATED appointment. The recurrence link stays for audit.
func (t schedulingTx) ConvertSeedToSingle(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	res, err := t.tx.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("type = ?", domain.AppointmentTypeSingleRepeated).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("type = ?", domain.AppointmentTypeFirstInRecurrence).
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		if _, getErr := t.GetAppointment(ctx, id); errors.Is(getErr, store.ErrNotFound) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, store.ErrPreconditionFailed
	}
	return t.GetAppointment(ctx, id)
}

// ReplaceTemplate supersedes all prior entries for the weekdays touched by
// the submission, then inserts the new entries.
func (t schedulingTx) ReplaceTemplate(ctx context.Context, providerID string, entries []domain.TemplateEntry) error {
	weekdays := domain.TemplateWeekdays(entries)
	if len(weekdays) == 0 {
		return nil
	}

	days := make([]int, 0, len(weekdays))
	for _, wd := range weekdays {
		days = append(days, int(wd))
	}

	_, err := t.tx.NewDelete().
		Model((*domain.TemplateEntry)(nil)).
		Where("provider_id = ?", providerID).
		Where("weekday IN (?)", bun.In(days)).
		Exec(ctx)
	if err != nil {
		return err
	}

	rows := make([]domain.TemplateEntry, 0, len(entries))
	for _, e := range entries {
		e.ProviderID = providerID
		rows = append(rows, e)
	}
	_, err = t.tx.NewInsert().Model(&rows).Exec(ctx)
	return err
}

func (t schedulingTx) ListTemplate(ctx context.Context, providerID string) ([]domain.TemplateEntry, error) {
	var rows []domain.TemplateEntry
	err := t.tx.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		OrderExpr("weekday ASC, start_hour ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (t schedulingTx) CreateRecurrence(ctx context.Context, rec domain.Recurrence) (domain.Recurrence, error) {
	m := rec
	m.StartAt = rec.StartAt.UTC()
	_, err := t.tx.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		return domain.Recurrence{}, err
	}
	return m, nil
}

func (t schedulingTx) GetRecurrence(ctx context.Context, id uuid.UUID) (domain.Recurrence, error) {
	var out domain.Recurrence
	err := t.tx.NewSelect().
		Model(&out).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Recurrence{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Recurrence{}, err
	}
	return out, nil
}

func (t schedulingTx) UpdateRecurrenceStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus) (domain.Recurrence, error) {
	res, err := t.tx.NewUpdate().
		Model((*domain.Recurrence)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return domain.Recurrence{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Recurrence{}, err
	}
	if affected == 0 {
		if _, getErr := t.GetRecurrence(ctx, id); errors.Is(getErr, store.ErrNotFound) {
			return domain.Recurrence{}, store.ErrNotFound
		}
		return domain.Recurrence{}, store.ErrPreconditionFailed
	}
	return t.GetRecurrence(ctx, id)
}

func (t schedulingTx) ListRecurrenceInstances(ctx context.Context, recurrenceID uuid.UUID) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := t.tx.NewSelect().
		Model(&rows).
		Where("recurrence_id = ?", recurrenceID).
		OrderExpr("scheduled_to ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
