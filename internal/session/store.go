package session

import (
	"context"
	"encoding/json"
	"fmt"

	"cmip6cat/internal/catalog"
	"cmip6cat/internal/persistence"
)

// SaveCatalog stores a snapshot of cat under name, replacing any previous
// snapshot of that name.
func SaveCatalog(ctx context.Context, store persistence.Store, name string, cat catalog.Catalog) error {
	payload, err := json.Marshal(cat.Snapshot())
	if err != nil {
		return fmt.Errorf("encode catalog %s: %w", name, err)
	}
	if err := store.SaveCatalog(ctx, name, payload); err != nil {
		return fmt.Errorf("save catalog %s: %w", name, err)
	}
	return nil
}

// LoadCatalog restores the snapshot saved under name. A missing snapshot
// wraps persistence.ErrNotFound.
func LoadCatalog(ctx context.Context, store persistence.Store, name string) (catalog.Catalog, error) {
	payload, err := store.LoadCatalog(ctx, name)
	if err != nil {
		return catalog.Catalog{}, fmt.Errorf("load catalog %s: %w", name, err)
	}
	var snap catalog.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return catalog.Catalog{}, fmt.Errorf("decode catalog %s: %w", name, err)
	}
	cat, err := catalog.Restore(snap)
	if err != nil {
		return catalog.Catalog{}, fmt.Errorf("restore catalog %s: %w", name, err)
	}
	return cat, nil
}
