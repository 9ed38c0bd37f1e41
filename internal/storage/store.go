// Package storage persists the device registry.
package storage

import (
	"context"

	"github.com/KevinKickass/ScaleGate/internal/types"
)

// Store loads and saves the whole device set keyed by device id.
type Store interface {
	Load(ctx context.Context) (map[string]types.DeviceConfig, error)
	Save(ctx context.Context, devices map[string]types.DeviceConfig) error
	Close() error
}
