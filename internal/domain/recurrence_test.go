package domain

import (
	"errors"
	"testing"
	"time"
)

func TestRecurrenceStep(t *testing.T) {
	start := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC) // Wednesday

	cases := []struct {
		name string
		rec  Recurrence
		want time.Time
	}{
		{"weekly", Recurrence{Frequency: RecurrenceFrequencyWeekly}, start.AddDate(0, 0, 7)},
		{"biweekly", Recurrence{Frequency: RecurrenceFrequencyBiweekly}, start.AddDate(0, 0, 14)},
		{"monthly", Recurrence{Frequency: RecurrenceFrequencyMonthly}, time.Date(2026, 4, 4, 14, 0, 0, 0, time.UTC)},
		{"custom 10 days", Recurrence{Frequency: RecurrenceFrequencyCustom, IntervalDays: 10}, start.AddDate(0, 0, 10)},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := c.rec.Step(start)
			if err != nil {
				t.Fatalf("Step error: %v", err)
			}
			if !got.Equal(c.want) {
				t.Fatalf("Step = %v, want %v", got, c.want)
			}
		})
	}

	t.Run("custom without interval rejected", func(t *testing.T) {
		_, err := Recurrence{Frequency: RecurrenceFrequencyCustom}.Step(start)
		if !errors.Is(err, ErrUnsupportedFrequency) {
			t.Fatalf("err = %v, want %v", err, ErrUnsupportedFrequency)
		}
	})

	t.Run("unknown frequency rejected", func(t *testing.T) {
		_, err := Recurrence{Frequency: "DAILY"}.Step(start)
		if !errors.Is(err, ErrUnsupportedFrequency) {
			t.Fatalf("err = %v, want %v", err, ErrUnsupportedFrequency)
		}
	})
}

func TestNextOccurrences(t *testing.T) {
	start := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	rec := Recurrence{
		Frequency: RecurrenceFrequencyWeekly,
		StartAt:   start,
	}

	t.Run("generates forward from start at cadence", func(t *testing.T) {
		occs, err := rec.NextOccurrences(start, 4)
		if err != nil {
			t.Fatalf("NextOccurrences error: %v", err)
		}
		if len(occs) != 4 {
			t.Fatalf("len(occs) = %d, want 4", len(occs))
		}
		for i, occ := range occs {
			want := start.AddDate(0, 0, 7*(i+1))
			if !occ.Equal(want) {
				t.Fatalf("occs[%d] = %v, want %v", i, occ, want)
			}
			if occ.Weekday() != start.Weekday() {
				t.Fatalf("occs[%d] weekday = %v, want %v", i, occ.Weekday(), start.Weekday())
			}
			if occ.Hour() != start.Hour() {
				t.Fatalf("occs[%d] hour = %d, want %d", i, occ.Hour(), start.Hour())
			}
		}
	})

	t.Run("after skips already-materialized occurrences", func(t *testing.T) {
		occs, err := rec.NextOccurrences(start.AddDate(0, 0, 14), 2)
		if err != nil {
			t.Fatalf("NextOccurrences error: %v", err)
		}
		if len(occs) != 2 {
			t.Fatalf("len(occs) = %d, want 2", len(occs))
		}
		if !occs[0].Equal(start.AddDate(0, 0, 21)) {
			t.Fatalf("occs[0] = %v, want %v", occs[0], start.AddDate(0, 0, 21))
		}
	})

	t.Run("zero count yields nothing", func(t *testing.T) {
		occs, err := rec.NextOccurrences(start, 0)
		if err != nil {
			t.Fatalf("NextOccurrences error: %v", err)
		}
		if len(occs) != 0 {
			t.Fatalf("len(occs) = %d, want 0", len(occs))
		}
	})

	t.Run("monthly cadence anchors on previous occurrence", func(t *testing.T) {
		monthly := Recurrence{
			Frequency: RecurrenceFrequencyMonthly,
			StartAt:   time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC),
		}
		occs, err := monthly.NextOccurrences(monthly.StartAt, 2)
		if err != nil {
			t.Fatalf("NextOccurrences error: %v", err)
		}
		// Jan 31 + 1 month normalizes to Mar 3; the next step anchors there.
		if !occs[0].Equal(time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)) {
			t.Fatalf("occs[0] = %v", occs[0])
		}
		if !occs[1].Equal(time.Date(2026, 4, 3, 10, 0, 0, 0, time.UTC)) {
			t.Fatalf("occs[1] = %v", occs[1])
		}
	})
}
