package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RecurrenceFrequency string

const (
	RecurrenceFrequencyWeekly   RecurrenceFrequency = "WEEKLY"
	RecurrenceFrequencyBiweekly RecurrenceFrequency = "BIWEEKLY"
	RecurrenceFrequencyMonthly  RecurrenceFrequency = "MONTHLY"
	RecurrenceFrequencyCustom   RecurrenceFrequency = "CUSTOM"
)

// Recurrence is the template of a repeating booking series. Its status is a
// mirror of the seed appointment's status and is only ever written through
// propagation, never independently.
type Recurrence struct {
	bun.BaseModel `bun:"table:recurrences"`

	ID              uuid.UUID           `bun:"id,pk,type:uuid"`
	ProviderID      string              `bun:"provider_id,notnull"`
	ClientID        string              `bun:"client_id,notnull"`
	Weekday         time.Weekday        `bun:"weekday,notnull"`
	StartHour       int                 `bun:"start_hour,notnull"`
	Frequency       RecurrenceFrequency `bun:"frequency,notnull"`
	IntervalDays    int                 `bun:"interval_days,notnull"`
	StartAt         time.Time           `bun:"start_at,notnull"`
	Status          AppointmentStatus   `bun:"status,notnull"`
	DefaultModality Modality            `bun:"default_modality,notnull"`
	CreatedAt       time.Time           `bun:"created_at,notnull"`
	UpdatedAt       time.Time           `bun:"updated_at,notnull"`
}

func (r *Recurrence) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if r.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			r.ID = id
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		r.UpdatedAt = now
	}
	return nil
}

var ErrUnsupportedFrequency = errors.New("unsupported recurrence frequency")

// Step returns the calendar advance between consecutive occurrences.
func (r Recurrence) Step(from time.Time) (time.Time, error) {
	switch r.Frequency {
	case RecurrenceFrequencyWeekly:
		return from.AddDate(0, 0, 7), nil
	case RecurrenceFrequencyBiweekly:
		return from.AddDate(0, 0, 14), nil
	case RecurrenceFrequencyMonthly:
		return from.AddDate(0, 1, 0), nil
	case RecurrenceFrequencyCustom:
		if r.IntervalDays < 1 {
			return time.Time{}, ErrUnsupportedFrequency
		}
		return from.AddDate(0, 0, r.IntervalDays), nil
	default:
		return time.Time{}, ErrUnsupportedFrequency
	}
}

// NextOccurrences generates up to count occurrence times strictly after
// "after", stepping from the series start at the series cadence.
func (r Recurrence) NextOccurrences(after time.Time, count int) ([]time.Time, error) {
	if count <= 0 {
		return nil, nil
	}

	out := make([]time.Time, 0, count)
	cur := r.StartAt.UTC()
	for len(out) < count {
		next, err := r.Step(cur)
		if err != nil {
			return nil, err
		}
		// Monthly steps can drift across weekdays when months normalize
		// (e.g. Jan 31 -> Mar 3); the cadence is anchored on the previous
		// occurrence, so drift compounds predictably rather than resetting.
		cur = next
		if !cur.After(after) {
			continue
		}
		out = append(out, cur)
	}
	return out, nil
}
