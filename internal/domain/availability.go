package domain

import (
	"sort"
	"time"
)

// DaySlots carries the free whole hours of a single calendar day.
type DaySlots struct {
	Date  time.Time
	Hours []int
}

// MonthSlots groups day slots under a calendar month for display.
type MonthSlots struct {
	Year  int
	Month time.Month
	Days  []DaySlots
}

// SlotKey identifies a bookable hour. Removal of booked slots is an exact
// match on this key, not an interval intersection, since granularity is
// whole-hour.
type SlotKey struct {
	Year  int
	Month time.Month
	Day   int
	Hour  int
}

// KeyFor derives the slot key of a scheduled time in UTC.
func KeyFor(t time.Time) SlotKey {
	u := t.UTC()
	return SlotKey{Year: u.Year(), Month: u.Month(), Day: u.Day(), Hour: u.Hour()}
}

// SlotTime is the inverse of KeyFor.
func (k SlotKey) SlotTime() time.Time {
	return time.Date(k.Year, k.Month, k.Day, k.Hour, 0, 0, 0, time.UTC)
}

// ExpandTemplate materializes a weekly template over [now, now+horizonDays],
// one slot per whole hour per matching entry. Hours already past relative to
// now are excluded. Days are returned in calendar order with sorted hours.
func ExpandTemplate(entries []TemplateEntry, now time.Time, horizonDays int) []DaySlots {
	if len(entries) == 0 || horizonDays < 0 {
		return nil
	}

	byDay := make(map[time.Weekday][]TemplateEntry, 7)
	for _, e := range entries {
		byDay[e.Weekday] = append(byDay[e.Weekday], e)
	}

	nowUTC := now.UTC()
	today := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)

	out := make([]DaySlots, 0, horizonDays)
	for d := 0; d <= horizonDays; d++ {
		date := today.AddDate(0, 0, d)
		dayEntries := byDay[date.Weekday()]
		if len(dayEntries) == 0 {
			continue
		}

		var hours []int
		for _, e := range dayEntries {
			for _, h := range e.Hours() {
				if d == 0 && h <= nowUTC.Hour() {
					continue
				}
				hours = append(hours, h)
			}
		}
		if len(hours) == 0 {
			continue
		}
		sort.Ints(hours)
		out = append(out, DaySlots{Date: date, Hours: hours})
	}
	return out
}

// SubtractBooked removes every (date, hour) pair occupied by an appointment
// still holding its slot. Days left without free hours are dropped.
func SubtractBooked(days []DaySlots, booked []Appointment) []DaySlots {
	if len(booked) == 0 {
		return days
	}

	taken := make(map[SlotKey]struct{}, len(booked))
	for _, a := range booked {
		if !a.Occupies() {
			continue
		}
		taken[KeyFor(a.ScheduledTo)] = struct{}{}
	}
	if len(taken) == 0 {
		return days
	}

	out := make([]DaySlots, 0, len(days))
	for _, day := range days {
		free := make([]int, 0, len(day.Hours))
		for _, h := range day.Hours {
			key := SlotKey{Year: day.Date.Year(), Month: day.Date.Month(), Day: day.Date.Day(), Hour: h}
			if _, ok := taken[key]; ok {
				continue
			}
			free = append(free, h)
		}
		if len(free) == 0 {
			continue
		}
		out = append(out, DaySlots{Date: day.Date, Hours: free})
	}
	return out
}

// GroupByMonth folds ordered day slots into month buckets for display.
func GroupByMonth(days []DaySlots) []MonthSlots {
	out := make([]MonthSlots, 0, 4)
	for _, day := range days {
		n := len(out)
		if n == 0 || out[n-1].Year != day.Date.Year() || out[n-1].Month != day.Date.Month() {
			out = append(out, MonthSlots{Year: day.Date.Year(), Month: day.Date.Month()})
			n++
		}
		out[n-1].Days = append(out[n-1].Days, day)
	}
	return out
}

// ContainsSlot reports whether the given slot appears among free day slots.
func ContainsSlot(days []DaySlots, slot time.Time) bool {
	key := KeyFor(slot)
	for _, day := range days {
		if day.Date.Year() != key.Year || day.Date.Month() != key.Month || day.Date.Day() != key.Day {
			continue
		}
		for _, h := range day.Hours {
			if h == key.Hour {
				return true
			}
		}
	}
	return false
}
