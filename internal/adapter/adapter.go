// Package adapter binds a device's link, framer, parser and command map.
package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/KevinKickass/ScaleGate/internal/parser"
	"github.com/KevinKickass/ScaleGate/internal/transport"
	"github.com/KevinKickass/ScaleGate/internal/types"
	"go.uber.org/zap"
)

// Profile is the per-dialect wire policy.
type Profile struct {
	Framer          transport.Framer
	FreshConnection bool
}

// ProfileFor returns the wire policy for a dialect.
func ProfileFor(d types.Dialect) (Profile, error) {
	switch d {
	case types.DialectRinstrum:
		return Profile{Framer: transport.Framer{Terminator: transport.CRLF}}, nil
	case types.DialectDiniArgeo:
		return Profile{Framer: transport.Framer{Terminator: transport.CRLF}}, nil
	default:
		return Profile{}, types.NewError(types.KindConfiguration, fmt.Sprintf("no profile for dialect %q", d), nil)
	}
}

type Adapter struct {
	id       string
	dialect  types.Dialect
	profile  Profile
	link     transport.Link
	commands map[string]string
	logger   *zap.Logger

	// mu spans connect and exchange, so Close waits for work in flight
	// and no handle outlives it.
	mu      sync.Mutex
	retired bool
}

// New builds an adapter from cfg. It performs no I/O.
func New(id string, cfg types.DeviceConfig, logger *zap.Logger, opts ...transport.Option) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dialect, err := types.ParseDialect(cfg.Protocol)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", id, err)
	}
	profile, err := ProfileFor(dialect)
	if err != nil {
		return nil, err
	}

	fresh := profile.FreshConnection
	if cfg.FreshConnection != nil {
		fresh = *cfg.FreshConnection
	}

	logger = logger.With(zap.String("device_id", id))
	linkOpts := append([]transport.Option{
		transport.WithLogger(logger),
		transport.WithFreshConnection(fresh),
	}, opts...)

	link, err := transport.New(cfg.Connection, linkOpts...)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", id, err)
	}

	return &Adapter{
		id:       id,
		dialect:  dialect,
		profile:  profile,
		link:     link,
		commands: normalizeCommands(cfg.Commands),
		logger:   logger,
	}, nil
}

func normalizeCommands(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for name, raw := range in {
		out[strings.ToLower(strings.TrimSpace(name))] = raw
	}
	return out
}

func (a *Adapter) ID() string {
	return a.id
}

func (a *Adapter) Dialect() types.Dialect {
	return a.dialect
}

func (a *Adapter) Link() transport.Link {
	return a.link
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.retired {
		return types.NewError(types.KindConnection, a.id, types.ErrAdapterRetired)
	}
	return a.link.Connect(ctx)
}

func (a *Adapter) Disconnect() error {
	return a.link.Disconnect()
}

func (a *Adapter) IsConnected() bool {
	return a.link.IsConnected()
}

// Close waits for any exchange in flight, then disconnects and retires the
// adapter. A retired adapter never reconnects.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retired = true
	return a.link.Disconnect()
}

// ExecuteCommand runs one logical command: lookup, connect if needed,
// one exchange, one parse. Nothing is retried.
func (a *Adapter) ExecuteCommand(ctx context.Context, name string) (*types.WeightReading, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	raw, ok := a.commands[key]
	if !ok {
		return nil, types.NewError(types.KindInvalidCommand, fmt.Sprintf("unknown command %q for device %s", name, a.id), nil)
	}

	frame, err := a.profile.Framer.Frame(raw)
	if err != nil {
		return nil, err
	}

	resp, err := a.exchange(ctx, frame)
	if err != nil {
		return nil, err
	}

	text := a.profile.Framer.Unframe(resp)
	reading, err := a.parse(text)
	if err != nil {
		a.logger.Debug("Response not understood",
			zap.String("command", key),
			zap.String("response", text),
			zap.Error(err))
		return nil, err
	}
	return reading, nil
}

func (a *Adapter) exchange(ctx context.Context, frame []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.retired {
		return nil, types.NewError(types.KindConnection, a.id, types.ErrAdapterRetired)
	}

	if !a.link.IsConnected() {
		a.logger.Warn("Device not connected, reconnecting", zap.String("link", a.link.String()))
		if err := a.link.Connect(ctx); err != nil {
			return nil, err
		}
	}
	return a.link.SendAndReceive(ctx, frame)
}

func (a *Adapter) parse(text string) (*types.WeightReading, error) {
	switch a.dialect {
	case types.DialectRinstrum:
		return parser.ParseRinstrum(text)
	case types.DialectDiniArgeo:
		return parser.ParseDiniArgeo(text)
	default:
		return nil, types.NewError(types.KindConfiguration, fmt.Sprintf("no parser for dialect %q", a.dialect), nil)
	}
}
