package devices

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/KevinKickass/ScaleGate/internal/adapter"
	"github.com/KevinKickass/ScaleGate/internal/storage"
	"github.com/KevinKickass/ScaleGate/internal/transport"
	"github.com/KevinKickass/ScaleGate/internal/types"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Observer is told about readings, failed commands and registry reloads.
// Implementations must not block.
type Observer interface {
	ReadingTaken(deviceID string, reading *types.WeightReading)
	CommandFailed(deviceID, command string, err error)
	RegistryReloaded(devices []types.DeviceSummary)
}

type Option func(*Manager)

// WithLinkOptions passes transport options to every adapter the manager builds.
func WithLinkOptions(opts ...transport.Option) Option {
	return func(m *Manager) { m.linkOpts = append(m.linkOpts, opts...) }
}

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// Status is a point-in-time count of the registry.
type Status struct {
	Configured int `json:"configured"`
	Enabled    int `json:"enabled"`
	Connected  int `json:"connected"`
}

// Manager is the device registry. It owns one adapter per enabled device.
type Manager struct {
	store     storage.Store
	validator *Validator
	logger    *zap.Logger
	linkOpts  []transport.Option

	// reloadMu serializes reloads and config mutations.
	reloadMu sync.Mutex

	devMu   sync.RWMutex
	devices map[string]types.DeviceConfig

	adpMu    sync.RWMutex
	adapters map[string]*adapter.Adapter

	obsMu     sync.RWMutex
	observers []Observer
}

// NewManager loads the store and builds adapters for the enabled devices.
// It does not connect; call ConnectAll for that.
func NewManager(ctx context.Context, store storage.Store, validator *Validator, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		v, err := NewValidator()
		if err != nil {
			return nil, err
		}
		validator = v
	}

	m := &Manager{
		store:     store,
		validator: validator,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}

	devices, adapters, err := m.build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load device registry: %w", err)
	}
	m.devices = devices
	m.adapters = adapters

	m.logger.Info("Device registry loaded",
		zap.Int("devices", len(devices)),
		zap.Int("enabled", len(adapters)))

	return m, nil
}

// AddObserver registers o for all future events.
func (m *Manager) AddObserver(o Observer) {
	m.obsMu.Lock()
	m.observers = append(m.observers, o)
	m.obsMu.Unlock()
}

// build reads the store and constructs a full replacement set.
func (m *Manager) build(ctx context.Context) (map[string]types.DeviceConfig, map[string]*adapter.Adapter, error) {
	loaded, err := m.store.Load(ctx)
	if err != nil {
		return nil, nil, err
	}

	devices := make(map[string]types.DeviceConfig, len(loaded))
	adapters := make(map[string]*adapter.Adapter)

	ids := lo.Keys(loaded)
	slices.Sort(ids)
	for _, id := range ids {
		cfg := loaded[id]
		cfg.ID = id
		if err := m.validator.ValidateDevice(id, cfg); err != nil {
			return nil, nil, err
		}
		devices[id] = cfg

		if !cfg.Enabled {
			continue
		}
		a, err := adapter.New(id, cfg, m.logger, m.linkOpts...)
		if err != nil {
			return nil, nil, err
		}
		adapters[id] = a
	}
	return devices, adapters, nil
}

// ListDevices returns the enabled devices sorted by id.
func (m *Manager) ListDevices() []types.DeviceSummary {
	m.devMu.RLock()
	defer m.devMu.RUnlock()
	return summarize(m.devices)
}

func summarize(devices map[string]types.DeviceConfig) []types.DeviceSummary {
	ids := lo.Keys(devices)
	slices.Sort(ids)
	return lo.FilterMap(ids, func(id string, _ int) (types.DeviceSummary, bool) {
		cfg := devices[id]
		return types.DeviceSummary{ID: id, Name: cfg.Name, Model: cfg.Model}, cfg.Enabled
	})
}

// ListConfigs returns a copy of every configured device, enabled or not.
func (m *Manager) ListConfigs() map[string]types.DeviceConfig {
	m.devMu.RLock()
	defer m.devMu.RUnlock()
	return lo.Assign(m.devices)
}

func (m *Manager) GetConfig(id string) (types.DeviceConfig, error) {
	m.devMu.RLock()
	cfg, ok := m.devices[id]
	m.devMu.RUnlock()
	if !ok {
		return types.DeviceConfig{}, notFound(id)
	}
	return cfg, nil
}

func notFound(id string) error {
	return types.NewError(types.KindDeviceNotFound, fmt.Sprintf("device %q not found", id), nil)
}

// ExecuteCommand runs req.Command on req.DeviceID. Unknown and disabled
// devices fail before any transport is touched.
func (m *Manager) ExecuteCommand(ctx context.Context, req types.ScaleCommandRequest) (*types.WeightReading, error) {
	m.devMu.RLock()
	cfg, ok := m.devices[req.DeviceID]
	m.devMu.RUnlock()

	if !ok {
		return nil, notFound(req.DeviceID)
	}
	if !cfg.Enabled {
		return nil, types.NewError(types.KindInvalidCommand, fmt.Sprintf("device %q is disabled", req.DeviceID), nil)
	}

	m.adpMu.RLock()
	a := m.adapters[req.DeviceID]
	m.adpMu.RUnlock()

	// Removed by a concurrent reload.
	if a == nil {
		return nil, notFound(req.DeviceID)
	}

	reading, err := a.ExecuteCommand(ctx, req.Command)
	if err != nil {
		m.logger.Warn("Command failed",
			zap.String("device_id", req.DeviceID),
			zap.String("command", req.Command),
			zap.Error(err))
		m.each(func(o Observer) { o.CommandFailed(req.DeviceID, req.Command, err) })
		return nil, err
	}

	m.each(func(o Observer) { o.ReadingTaken(req.DeviceID, reading) })
	return reading, nil
}

func (m *Manager) each(fn func(Observer)) {
	m.obsMu.RLock()
	observers := slices.Clone(m.observers)
	m.obsMu.RUnlock()
	for _, o := range observers {
		fn(o)
	}
}

// SaveConfig validates and persists cfg under id, then replaces that
// device's adapter. Other devices keep their connections.
func (m *Manager) SaveConfig(ctx context.Context, id string, cfg types.DeviceConfig) error {
	id = strings.TrimSpace(id)
	cfg.ID = id
	if err := m.validator.ValidateDevice(id, cfg); err != nil {
		return err
	}

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	var next *adapter.Adapter
	if cfg.Enabled {
		a, err := adapter.New(id, cfg, m.logger, m.linkOpts...)
		if err != nil {
			return err
		}
		next = a
	}

	if err := m.commit(ctx, id, &cfg, next); err != nil {
		return err
	}

	m.logger.Info("Device config saved",
		zap.String("device_id", id),
		zap.Bool("enabled", cfg.Enabled))

	if next != nil {
		if err := next.Connect(ctx); err != nil {
			m.logger.Warn("Failed to connect device", zap.String("device_id", id), zap.Error(err))
		}
	}
	m.each(func(o Observer) { o.RegistryReloaded(m.ListDevices()) })
	return nil
}

// DeleteConfig removes id from the registry and the store.
func (m *Manager) DeleteConfig(ctx context.Context, id string) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	m.devMu.RLock()
	_, ok := m.devices[id]
	m.devMu.RUnlock()
	if !ok {
		return notFound(id)
	}

	if err := m.commit(ctx, id, nil, nil); err != nil {
		return err
	}

	m.logger.Info("Device config deleted", zap.String("device_id", id))
	m.each(func(o Observer) { o.RegistryReloaded(m.ListDevices()) })
	return nil
}

// commit persists the registry with id set to cfg (nil deletes), closes
// id's current adapter and only then installs next. Caller holds reloadMu.
func (m *Manager) commit(ctx context.Context, id string, cfg *types.DeviceConfig, next *adapter.Adapter) error {
	m.devMu.Lock()
	defer m.devMu.Unlock()

	devices := lo.Assign(m.devices)
	if cfg != nil {
		devices[id] = *cfg
	} else {
		delete(devices, id)
	}

	if err := m.store.Save(ctx, devices); err != nil {
		return types.NewError(types.KindIO, "failed to persist device registry", err)
	}

	m.adpMu.RLock()
	old := m.adapters[id]
	m.adpMu.RUnlock()
	m.retire(old)

	m.adpMu.Lock()
	if next != nil {
		m.adapters[id] = next
	} else {
		delete(m.adapters, id)
	}
	m.adpMu.Unlock()

	m.devices = devices
	return nil
}

func (m *Manager) retire(a *adapter.Adapter) {
	if a == nil {
		return
	}
	if err := a.Close(); err != nil {
		m.logger.Warn("Failed to close adapter", zap.String("device_id", a.ID()), zap.Error(err))
	}
}

// Reload rebuilds the whole registry from the store. On error the current
// registry stays in place.
func (m *Manager) Reload(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	devices, adapters, err := m.build(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload device registry: %w", err)
	}

	// Old ports are released before any new adapter is reachable. Commands
	// racing this window fail with ErrAdapterRetired.
	closeAll(m.snapshot(), m.logger)

	m.devMu.Lock()
	m.adpMu.Lock()
	m.devices = devices
	m.adapters = adapters
	m.adpMu.Unlock()
	m.devMu.Unlock()

	m.logger.Info("Device registry reloaded",
		zap.Int("devices", len(devices)),
		zap.Int("enabled", len(adapters)))

	m.ConnectAll(ctx)

	summaries := summarize(devices)
	m.each(func(o Observer) { o.RegistryReloaded(summaries) })
	return nil
}

func closeAll(adapters map[string]*adapter.Adapter, logger *zap.Logger) {
	var g errgroup.Group
	for id, a := range adapters {
		id, a := id, a
		g.Go(func() error {
			if err := a.Close(); err != nil {
				logger.Warn("Failed to close adapter", zap.String("device_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) snapshot() map[string]*adapter.Adapter {
	m.adpMu.RLock()
	defer m.adpMu.RUnlock()
	return lo.Assign(m.adapters)
}

// ConnectAll connects every enabled device concurrently. Failures are
// logged and the device is retried on its next command.
func (m *Manager) ConnectAll(ctx context.Context) {
	var g errgroup.Group
	for id, a := range m.snapshot() {
		id, a := id, a
		g.Go(func() error {
			if err := a.Connect(ctx); err != nil {
				m.logger.Warn("Failed to connect device", zap.String("device_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) DisconnectAll() {
	var g errgroup.Group
	for id, a := range m.snapshot() {
		id, a := id, a
		g.Go(func() error {
			if err := a.Disconnect(); err != nil {
				m.logger.Warn("Failed to disconnect device", zap.String("device_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	m.logger.Info("All devices disconnected")
}

// Close disconnects and retires every adapter.
func (m *Manager) Close() {
	closeAll(m.snapshot(), m.logger)
}

// TestConnection probes the configured endpoint of id with a throw-away
// connection. The live adapter is not touched.
func (m *Manager) TestConnection(ctx context.Context, id string) error {
	cfg, err := m.GetConfig(id)
	if err != nil {
		return err
	}
	return transport.Probe(ctx, cfg.Connection, m.linkOpts...)
}

func (m *Manager) Status() Status {
	m.devMu.RLock()
	s := Status{Configured: len(m.devices)}
	for _, cfg := range m.devices {
		if cfg.Enabled {
			s.Enabled++
		}
	}
	m.devMu.RUnlock()

	for _, a := range m.snapshot() {
		if a.IsConnected() {
			s.Connected++
		}
	}
	return s
}
