package domain

import (
	"errors"
	"testing"
	"time"
)

func TestValidateTemplateEntries(t *testing.T) {
	t.Run("valid disjoint entries", func(t *testing.T) {
		err := ValidateTemplateEntries([]TemplateEntry{
			{ProviderID: "p1", Weekday: time.Monday, StartHour: 9, EndHour: 12},
			{ProviderID: "p1", Weekday: time.Monday, StartHour: 14, EndHour: 18},
			{ProviderID: "p1", Weekday: time.Tuesday, StartHour: 9, EndHour: 12},
		})
		if err != nil {
			t.Fatalf("err = %v, want nil", err)
		}
	})

	t.Run("adjacent entries do not overlap", func(t *testing.T) {
		err := ValidateTemplateEntries([]TemplateEntry{
			{Weekday: time.Monday, StartHour: 9, EndHour: 12},
			{Weekday: time.Monday, StartHour: 12, EndHour: 14},
		})
		if err != nil {
			t.Fatalf("err = %v, want nil", err)
		}
	})

	t.Run("overlap on same weekday rejected", func(t *testing.T) {
		err := ValidateTemplateEntries([]TemplateEntry{
			{Weekday: time.Monday, StartHour: 9, EndHour: 12},
			{Weekday: time.Monday, StartHour: 11, EndHour: 14},
		})
		if !errors.Is(err, ErrTemplateOverlap) {
			t.Fatalf("err = %v, want %v", err, ErrTemplateOverlap)
		}
	})

	t.Run("same hours on different weekdays allowed", func(t *testing.T) {
		err := ValidateTemplateEntries([]TemplateEntry{
			{Weekday: time.Monday, StartHour: 9, EndHour: 12},
			{Weekday: time.Friday, StartHour: 9, EndHour: 12},
		})
		if err != nil {
			t.Fatalf("err = %v, want nil", err)
		}
	})

	t.Run("inverted and out-of-range hours rejected", func(t *testing.T) {
		for _, e := range []TemplateEntry{
			{Weekday: time.Monday, StartHour: 12, EndHour: 9},
			{Weekday: time.Monday, StartHour: 9, EndHour: 9},
			{Weekday: time.Monday, StartHour: -1, EndHour: 9},
			{Weekday: time.Monday, StartHour: 22, EndHour: 25},
		} {
			err := ValidateTemplateEntries([]TemplateEntry{e})
			if !errors.Is(err, ErrTemplateHourRange) {
				t.Fatalf("entry %+v: err = %v, want %v", e, err, ErrTemplateHourRange)
			}
		}
	})
}

func TestTemplateEntryHours(t *testing.T) {
	e := TemplateEntry{Weekday: time.Monday, StartHour: 9, EndHour: 12}
	hours := e.Hours()
	if len(hours) != 3 {
		t.Fatalf("len(hours) = %d, want 3", len(hours))
	}
	for i, want := range []int{9, 10, 11} {
		if hours[i] != want {
			t.Fatalf("hours[%d] = %d, want %d", i, hours[i], want)
		}
	}
}

func TestTemplateWeekdays(t *testing.T) {
	days := TemplateWeekdays([]TemplateEntry{
		{Weekday: time.Friday, StartHour: 9, EndHour: 10},
		{Weekday: time.Monday, StartHour: 9, EndHour: 10},
		{Weekday: time.Monday, StartHour: 14, EndHour: 16},
	})
	if len(days) != 2 {
		t.Fatalf("len(days) = %d, want 2", len(days))
	}
	if days[0] != time.Monday || days[1] != time.Friday {
		t.Fatalf("days = %v, want [Monday Friday]", days)
	}
}
