package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tenant_fleet_migrator/internal/fleet"
)

type Schedules struct {
	mu       sync.Mutex
	entries  map[uuid.UUID]fleet.ScheduledMigration
	consumed map[uuid.UUID]time.Time
}

func NewSchedules() *Schedules {
	return &Schedules{
		entries:  map[uuid.UUID]fleet.ScheduledMigration{},
		consumed: map[uuid.UUID]time.Time{},
	}
}

func (s *Schedules) Create(_ context.Context, entry fleet.ScheduledMigration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
	return nil
}

func (s *Schedules) Get(_ context.Context, id uuid.UUID) (fleet.ScheduledMigration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fleet.ScheduledMigration{}, fleet.ErrScheduleNotFound
	}
	return e, nil
}

func (s *Schedules) List(_ context.Context) ([]fleet.ScheduledMigration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fleet.ScheduledMigration, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sortByTime(out)
	return out, nil
}

func (s *Schedules) Due(_ context.Context, now time.Time) ([]fleet.ScheduledMigration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []fleet.ScheduledMigration
	for _, e := range s.entries {
		if !e.ScheduledTime.After(now) {
			out = append(out, e)
		}
	}
	sortByTime(out)
	return out, nil
}

func (s *Schedules) Consume(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false, nil
	}
	delete(s.entries, id)
	s.consumed[id] = time.Now().UTC()
	return true, nil
}

func (s *Schedules) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false, nil
	}
	delete(s.entries, id)
	return true, nil
}

func (s *Schedules) WasConsumed(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.consumed[id]
	return ok, nil
}

func sortByTime(entries []fleet.ScheduledMigration) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ScheduledTime.Equal(entries[j].ScheduledTime) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ScheduledTime.Before(entries[j].ScheduledTime)
	})
}
