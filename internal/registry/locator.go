package registry

import (
	"context"
	"errors"
	"fmt"

	"tenant_fleet_migrator/internal/db"
	"tenant_fleet_migrator/internal/fleet"
)

// Static locates a fixed set of stores, typically master and alerts from
// configuration.
type Static map[fleet.StoreID]db.Target

func (s Static) Locate(_ context.Context, id fleet.StoreID) (db.Target, error) {
	t, ok := s[id]
	if !ok || t.DSN == "" {
		return db.Target{}, fmt.Errorf("%w: %s", fleet.ErrStoreNotFound, id)
	}
	return t, nil
}

// Chain asks each locator in turn, moving on only when one does not know
// the store.
type Chain []Locator

func (c Chain) Locate(ctx context.Context, id fleet.StoreID) (db.Target, error) {
	for _, l := range c {
		t, err := l.Locate(ctx, id)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, fleet.ErrStoreNotFound) {
			return db.Target{}, err
		}
	}
	return db.Target{}, fmt.Errorf("%w: %s", fleet.ErrStoreNotFound, id)
}
