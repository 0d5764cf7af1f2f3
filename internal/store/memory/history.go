// Package memory holds process-local implementations of the coordinator's
// persistence interfaces.
package memory

import (
	"context"
	"sync"

	"tenant_fleet_migrator/internal/fleet"
)

type History struct {
	mu      sync.RWMutex
	entries []fleet.HistoryEntry
}

func NewHistory() *History {
	return &History{}
}

func (h *History) Append(_ context.Context, entry fleet.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	return nil
}

// List walks the log backwards so the newest entry comes first, even when two
// entries share a timestamp.
func (h *History) List(_ context.Context, filter fleet.HistoryFilter) ([]fleet.HistoryEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := []fleet.HistoryEntry{}
	for i := len(h.entries) - 1; i >= 0; i-- {
		e := h.entries[i]
		if filter.StoreID != "" && e.StoreID != filter.StoreID {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
