package store

import (
	"context"
	"fmt"
)

// Migrate copies every record from src into dst.
// This works for any pair of backends, e.g. memory -> sqlite for an upgrade
// or postgres -> memory for an offline copy.
func Migrate(ctx context.Context, src, dst Store) (*Snapshot, error) {
	snap, err := src.Dump(ctx)
	if err != nil {
		return nil, fmt.Errorf("dump source: %w", err)
	}
	if err := dst.Restore(ctx, snap); err != nil {
		return nil, fmt.Errorf("restore destination: %w", err)
	}
	return snap, nil
}
