package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/ScaleGate/internal/config"
	"github.com/KevinKickass/ScaleGate/internal/types"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore keeps one JSONB row per device.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

const createDevicesTableSQL = `
CREATE TABLE IF NOT EXISTS scale_devices (
    device_id TEXT PRIMARY KEY,
    config JSONB NOT NULL,
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_scale_devices_enabled ON scale_devices (enabled);
`

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createDevicesTableSQL); err != nil {
		return fmt.Errorf("failed to create scale_devices table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (map[string]types.DeviceConfig, error) {
	rows, err := s.pool.Query(ctx, `SELECT device_id, config FROM scale_devices`)
	if err != nil {
		return nil, types.NewError(types.KindIO, "failed to query devices", err)
	}
	defer rows.Close()

	devices := make(map[string]types.DeviceConfig)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, types.NewError(types.KindIO, "failed to scan device row", err)
		}

		var cfg types.DeviceConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, types.NewError(types.KindConfiguration, fmt.Sprintf("device %s", id), err)
		}
		cfg.ID = id
		devices[id] = cfg
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewError(types.KindIO, "failed to read devices", err)
	}
	return devices, nil
}

// Save replaces the stored set in one transaction.
func (s *PostgresStore) Save(ctx context.Context, devices map[string]types.DeviceConfig) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := make([]string, 0, len(devices))
	for id := range devices {
		ids = append(ids, id)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM scale_devices WHERE NOT (device_id = ANY($1))`, ids); err != nil {
		return fmt.Errorf("failed to delete removed devices: %w", err)
	}

	for id, cfg := range devices {
		cfg.ID = id
		configJSON, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal device %s: %w", id, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO scale_devices (device_id, config, enabled, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (device_id) DO UPDATE
			SET config = EXCLUDED.config, enabled = EXCLUDED.enabled, updated_at = now()
		`, id, configJSON, cfg.Enabled)
		if err != nil {
			return fmt.Errorf("failed to upsert device %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("Device registry saved", zap.Int("devices", len(devices)))
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
