// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package booking

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Slot search constants: the working window in UTC, the step between
// offered starts, and the buffer kept around existing bookings for travel.
const (
	slotStepMin   = 30
	slotBufferMin = 30
)

// Slot is one offered start time for a team.
type Slot struct {
	TeamID   uuid.UUID `json:"team_id"`
	StartsAt time.Time `json:"starts_at"`
}

// FindSlots returns open starts for a visit of durationMin minutes across
// the given days. Days are searched concurrently; each day's availability
// is independent.
func (service *Service) FindSlots(ctx context.Context, orgID uuid.UUID, days []time.Time, durationMin int) ([]Slot, error) {
	teams, err := service.db.Teams().List(ctx, orgID)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	results := make([][]Slot, len(days))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for i, day := range days {
		i, day := i, day
		group.Go(func() error {
			slots, err := service.slotsForDay(groupCtx, orgID, teams, day, durationMin)
			if err != nil {
				return err
			}
			results[i] = slots
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var merged []Slot
	for _, slots := range results {
		merged = append(merged, slots...)
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].StartsAt.Equal(merged[j].StartsAt) {
			return merged[i].StartsAt.Before(merged[j].StartsAt)
		}
		return merged[i].TeamID.String() < merged[j].TeamID.String()
	})
	return merged, nil
}

func (service *Service) slotsForDay(ctx context.Context, orgID uuid.UUID, teams []Team, day time.Time, durationMin int) ([]Slot, error) {
	dayStart := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	var slots []Slot
	for i := range teams {
		team := &teams[i]
		if !team.WorksOn(dayStart) {
			continue
		}

		workStart := dayStart.Add(time.Duration(team.WorkStartHour) * time.Hour)
		workEnd := dayStart.Add(time.Duration(team.WorkEndHour) * time.Hour)

		booked, err := service.db.Bookings().ListOverlapping(ctx, orgID, team.ID, dayStart, dayStart.Add(24*time.Hour))
		if err != nil {
			return nil, Error.Wrap(err)
		}

		duration := time.Duration(durationMin) * time.Minute
		for start := workStart; !start.Add(duration).After(workEnd); start = start.Add(slotStepMin * time.Minute) {
			if start.Before(service.nowFn()) {
				continue
			}
			if slotFree(booked, start, start.Add(duration)) {
				slots = append(slots, Slot{TeamID: team.ID, StartsAt: start})
			}
		}
	}
	return slots, nil
}

// slotFree reports whether [from, to) with the travel buffer around it
// avoids every existing booking.
func slotFree(booked []Booking, from, to time.Time) bool {
	buffer := slotBufferMin * time.Minute
	for i := range booked {
		existing := &booked[i]
		if from.Before(existing.End().Add(buffer)) && existing.StartsAt.Add(-buffer).Before(to) {
			return false
		}
	}
	return true
}

// overlaps reports a plain interval intersection, used for reservation
// conflicts where the buffer does not apply.
func overlaps(booked []Booking, from, to time.Time, ignore uuid.UUID) bool {
	for i := range booked {
		existing := &booked[i]
		if existing.ID == ignore {
			continue
		}
		if from.Before(existing.End()) && existing.StartsAt.Before(to) {
			return true
		}
	}
	return false
}
