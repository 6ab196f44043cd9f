package scheduling

import (
	"context"
	"fmt"
	"time"

	"agendo/backend/internal/domain"
	"agendo/backend/internal/store"
)

// AvailableSlots computes the provider's concrete bookable slots over the
// horizon: the weekly template expanded day by day, minus every hour held by
// a PENDENT or ACCEPTED appointment, minus hours already past. An empty
// template yields an empty list, not an error.
func (s *Service) AvailableSlots(ctx context.Context, providerID string, horizonDays int) ([]domain.DaySlots, error) {
	if providerID == "" {
		return nil, validationError("provider_id is required")
	}
	horizonDays = clampHorizon(horizonDays)

	entries, err := s.repo.ListTemplate(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	now := s.now().UTC()
	days := domain.ExpandTemplate(entries, now, horizonDays)
	if len(days) == 0 {
		return nil, nil
	}

	windowEnd := days[len(days)-1].Date.AddDate(0, 0, 1)
	occupied, err := s.repo.ListOccupied(ctx, providerID, now.Truncate(24*time.Hour), windowEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	return domain.SubtractBooked(days, occupied), nil
}

// MonthlyAvailability is the display shape: the same slots grouped under
// month labels.
func (s *Service) MonthlyAvailability(ctx context.Context, providerID string, horizonDays int) ([]domain.MonthSlots, error) {
	days, err := s.AvailableSlots(ctx, providerID, horizonDays)
	if err != nil {
		return nil, err
	}
	return domain.GroupByMonth(days), nil
}

func clampHorizon(horizonDays int) int {
	if horizonDays <= 0 {
		return DefaultHorizonDays
	}
	if horizonDays > store.MaxHorizonDays {
		return store.MaxHorizonDays
	}
	return horizonDays
}
