package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/ScaleGate/internal/types"
	"go.uber.org/zap"
)

// TCP is a socket link to an indicator's ethernet port.
type TCP struct {
	conf    types.TCPConnection
	timeout time.Duration
	fresh   bool
	logger  *zap.Logger

	// exchangeMu serialises whole request/response cycles.
	exchangeMu sync.Mutex

	mu        sync.Mutex
	conn      net.Conn
	connected atomic.Bool
}

func NewTCP(conf types.TCPConnection, opts ...Option) *TCP {
	o := buildOptions(opts)
	desc := types.ConnectionDescriptor{TCP: &conf}
	return &TCP{
		conf:    conf,
		timeout: desc.Timeout(),
		fresh:   o.fresh,
		logger:  o.logger,
	}
}

func (t *TCP) String() string {
	return "tcp://" + t.conf.Address()
}

// Connect dials the indicator. It is a no-op when already connected.
func (t *TCP) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	addr := t.conf.Address()
	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if isTimeout(err) {
			return types.NewError(types.KindTimeout, fmt.Sprintf("connect to %s", addr), types.ErrConnectTimeout)
		}
		return types.NewError(types.KindConnection, fmt.Sprintf("connect to %s failed", addr), err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			t.logger.Warn("Failed to disable send coalescing",
				zap.String("address", addr),
				zap.Error(err))
		}
	}

	t.conn = conn
	t.connected.Store(true)

	t.logger.Info("Connected to indicator", zap.String("address", addr))
	return nil
}

// Disconnect closes the socket. Safe to call when not connected.
func (t *TCP) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}

func (t *TCP) IsConnected() bool {
	return t.connected.Load()
}

func (t *TCP) closeLocked() {
	if t.conn == nil {
		return
	}
	if err := t.conn.Close(); err != nil {
		t.logger.Debug("Socket close failed", zap.String("address", t.conf.Address()), zap.Error(err))
	}
	t.conn = nil
	t.connected.Store(false)
}

// discard drops conn if it is still the active handle.
func (t *TCP) discard(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == conn {
		t.closeLocked()
	}
}

// SendAndReceive writes payload and reads one response frame.
func (t *TCP) SendAndReceive(ctx context.Context, payload []byte) ([]byte, error) {
	t.exchangeMu.Lock()
	defer t.exchangeMu.Unlock()

	if t.fresh {
		_ = t.Disconnect()
		if err := t.Connect(ctx); err != nil {
			return nil, err
		}
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil, types.NewError(types.KindConnection, t.String(), types.ErrNotConnected)
	}

	addr := t.conf.Address()

	if err := conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		t.discard(conn)
		return nil, types.NewError(types.KindIO, fmt.Sprintf("set write deadline on %s", addr), err)
	}
	if _, err := conn.Write(payload); err != nil {
		if isTimeout(err) {
			return nil, types.NewError(types.KindTimeout, fmt.Sprintf("write to %s", addr), types.ErrWriteTimeout)
		}
		t.discard(conn)
		return nil, types.NewError(types.KindIO, fmt.Sprintf("write to %s failed", addr), err)
	}

	resp, err := t.readFrame(conn)
	if err != nil {
		return nil, err
	}

	t.logger.Debug("Exchange completed",
		zap.String("address", addr),
		zap.ByteString("tx", payload),
		zap.ByteString("rx", resp))

	return resp, nil
}

func (t *TCP) readFrame(conn net.Conn) ([]byte, error) {
	addr := t.conf.Address()

	if err := conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
		t.discard(conn)
		return nil, types.NewError(types.KindIO, fmt.Sprintf("set read deadline on %s", addr), err)
	}

	buf := make([]byte, 256)
	var resp []byte
	for len(resp) < maxResponseSize {
		n, err := conn.Read(buf)
		resp = append(resp, buf[:n]...)
		if hasTerminator(resp) {
			return resp, nil
		}
		if err == nil {
			continue
		}

		if isTimeout(err) {
			if len(resp) == 0 {
				return nil, types.NewError(types.KindTimeout, fmt.Sprintf("read from %s", addr), types.ErrReadTimeout)
			}
			t.logger.Warn("Returning unterminated response after read timeout",
				zap.String("address", addr),
				zap.Int("bytes", len(resp)))
			return resp, nil
		}

		t.discard(conn)
		if errors.Is(err, io.EOF) && len(resp) > 0 {
			return resp, nil
		}
		return nil, types.NewError(types.KindIO, fmt.Sprintf("read from %s failed", addr), err)
	}

	t.logger.Warn("Response exceeded frame limit", zap.String("address", addr), zap.Int("bytes", len(resp)))
	return resp, nil
}
