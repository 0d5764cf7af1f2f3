package memory

import (
	"context"
	"sync"

	"tenant_fleet_migrator/internal/fleet"
)

type Settings struct {
	mu       sync.RWMutex
	settings fleet.MigrationSettings
}

func NewSettings(initial fleet.MigrationSettings) *Settings {
	return &Settings{settings: initial}
}

func (s *Settings) Get(_ context.Context) (fleet.MigrationSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Settings) Replace(_ context.Context, settings fleet.MigrationSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}
