package domain

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TemplateEntry is one recurring availability block in a provider's weekly
// template: whole hours on one weekday, end exclusive, same-day only.
type TemplateEntry struct {
	bun.BaseModel `bun:"table:weekly_template_entries"`

	ID         uuid.UUID    `bun:"id,pk,type:uuid"`
	ProviderID string       `bun:"provider_id,notnull"`
	Weekday    time.Weekday `bun:"weekday,notnull"`
	StartHour  int          `bun:"start_hour,notnull"`
	EndHour    int          `bun:"end_hour,notnull"`
	CreatedAt  time.Time    `bun:"created_at,notnull"`
	UpdatedAt  time.Time    `bun:"updated_at,notnull"`
}

func (e *TemplateEntry) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if e.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			e.ID = id
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		e.UpdatedAt = now
	}
	return nil
}

// Hours returns every whole hour covered by the entry, start inclusive and
// end exclusive.
func (e TemplateEntry) Hours() []int {
	if e.EndHour <= e.StartHour {
		return nil
	}
	out := make([]int, 0, e.EndHour-e.StartHour)
	for h := e.StartHour; h < e.EndHour; h++ {
		out = append(out, h)
	}
	return out
}

var (
	ErrTemplateHourRange = errors.New("template entry hours must satisfy 0 <= start < end <= 24")
	ErrTemplateOverlap   = errors.New("template entries overlap on the same weekday")
)

// ValidateTemplateEntries checks hour ranges and the per-weekday no-overlap
// invariant. Entries spanning midnight are rejected by the range check since
// end must stay within the same day.
func ValidateTemplateEntries(entries []TemplateEntry) error {
	byDay := make(map[time.Weekday][]TemplateEntry, 7)
	for _, e := range entries {
		if e.StartHour < 0 || e.EndHour > 24 || e.StartHour >= e.EndHour {
			return ErrTemplateHourRange
		}
		byDay[e.Weekday] = append(byDay[e.Weekday], e)
	}
	for _, day := range byDay {
		sort.Slice(day, func(i, j int) bool { return day[i].StartHour < day[j].StartHour })
		for i := 1; i < len(day); i++ {
			if day[i].StartHour < day[i-1].EndHour {
				return ErrTemplateOverlap
			}
		}
	}
	return nil
}

// TemplateWeekdays returns the distinct weekdays touched by a submission.
// A template edit supersedes all prior entries for exactly these weekdays.
func TemplateWeekdays(entries []TemplateEntry) []time.Weekday {
	seen := make(map[time.Weekday]struct{}, 7)
	out := make([]time.Weekday, 0, 7)
	for _, e := range entries {
		if _, ok := seen[e.Weekday]; ok {
			continue
		}
		seen[e.Weekday] = struct{}{}
		out = append(out, e.Weekday)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
