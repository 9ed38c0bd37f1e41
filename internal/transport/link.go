// Package transport owns the physical connection to a weighing indicator.
package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"

	"github.com/KevinKickass/ScaleGate/internal/types"
	"go.uber.org/zap"
)

// maxResponseSize caps a single response frame.
const maxResponseSize = 4096

// Link is one device connection. Exchanges on a Link never interleave.
type Link interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	SendAndReceive(ctx context.Context, payload []byte) ([]byte, error)
	String() string
}

type Option func(*options)

type options struct {
	logger *zap.Logger
	fresh  bool
	opener PortOpener
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithFreshConnection reconnects before every exchange, for indicators that
// close the socket after answering.
func WithFreshConnection(fresh bool) Option {
	return func(o *options) { o.fresh = fresh }
}

// WithPortOpener replaces the serial port opener.
func WithPortOpener(open PortOpener) Option {
	return func(o *options) { o.opener = open }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), opener: openSerialPort}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the link matching the descriptor.
func New(desc types.ConnectionDescriptor, opts ...Option) (Link, error) {
	desc = desc.WithDefaults()
	switch desc.Type() {
	case types.ConnectionSerial:
		return NewSerial(*desc.Serial, opts...), nil
	case types.ConnectionTCP:
		return NewTCP(*desc.TCP, opts...), nil
	default:
		return nil, types.NewError(types.KindConfiguration, "unsupported connection type", nil)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func hasTerminator(b []byte) bool {
	return bytes.IndexByte(b, '\n') >= 0
}
