package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KevinKickass/ScaleGate/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakePort is an in-memory serial port. respond maps each write to the
// bytes the indicator would send back.
type fakePort struct {
	mu          sync.Mutex
	written     []string
	readTimeout time.Duration
	incoming    chan []byte
	respond     func(payload []byte) []byte
	readErr     error
	closed      atomic.Bool
}

func newFakePort(respond func(payload []byte) []byte) *fakePort {
	return &fakePort{incoming: make(chan []byte, 16), respond: respond, readTimeout: time.Second}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.written = append(p.written, string(b))
	p.mu.Unlock()
	if p.respond != nil {
		if out := p.respond(b); out != nil {
			p.incoming <- out
		}
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout, readErr := p.readTimeout, p.readErr
	p.mu.Unlock()

	if readErr != nil {
		return 0, readErr
	}
	select {
	case data := <-p.incoming:
		return copy(b, data), nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.readTimeout = t
	p.mu.Unlock()
	return nil
}

func (p *fakePort) ResetInputBuffer() error { return nil }

func (p *fakePort) Close() error {
	p.closed.Store(true)
	return nil
}

func serialConf(timeout time.Duration) types.SerialConnection {
	return types.SerialConnection{
		Path:      "/dev/ttyFAKE0",
		BaudRate:  9600,
		DataBits:  8,
		StopBits:  types.StopBitsOne,
		Parity:    types.ParityNone,
		TimeoutMs: uint32(timeout.Milliseconds()),
	}
}

func openerFor(port *fakePort) PortOpener {
	return func(types.SerialConnection) (SerialPort, error) { return port, nil }
}

func TestSerialExchange(t *testing.T) {
	port := newFakePort(func([]byte) []byte { return []byte("ST,GS,+00023.450kg\r\n") })
	link := NewSerial(serialConf(time.Second), WithPortOpener(openerFor(port)), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	require.NoError(t, link.Connect(ctx))
	require.NoError(t, link.Connect(ctx))
	assert.True(t, link.IsConnected())

	resp, err := link.SendAndReceive(ctx, []byte("READ\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "ST,GS,+00023.450kg\r\n", string(resp))
	assert.Equal(t, []string{"READ\r\n"}, port.written)

	require.NoError(t, link.Disconnect())
	require.NoError(t, link.Disconnect())
	assert.False(t, link.IsConnected())
	assert.True(t, port.closed.Load())
}

func TestSerialPartialResponse(t *testing.T) {
	port := newFakePort(func([]byte) []byte { return []byte("OK") })
	link := NewSerial(serialConf(100*time.Millisecond), WithPortOpener(openerFor(port)), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()
	require.NoError(t, link.Connect(ctx))
	defer link.Disconnect()

	resp, err := link.SendAndReceive(ctx, []byte("TARE\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "OK", string(resp))
}

func TestSerialReadTimeout(t *testing.T) {
	port := newFakePort(nil)
	link := NewSerial(serialConf(100*time.Millisecond), WithPortOpener(openerFor(port)), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()
	require.NoError(t, link.Connect(ctx))
	defer link.Disconnect()

	_, err := link.SendAndReceive(ctx, []byte("READ\r\n"))
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.ErrorIs(t, err, types.ErrReadTimeout)
	assert.True(t, link.IsConnected())
}

func TestSerialReadErrorClosesPort(t *testing.T) {
	port := newFakePort(nil)
	port.readErr = errors.New("device unplugged")
	link := NewSerial(serialConf(100*time.Millisecond), WithPortOpener(openerFor(port)), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()
	require.NoError(t, link.Connect(ctx))

	_, err := link.SendAndReceive(ctx, []byte("READ\r\n"))
	assert.ErrorIs(t, err, types.ErrIO)
	assert.Eventually(t, func() bool { return !link.IsConnected() && port.closed.Load() }, time.Second, 5*time.Millisecond)

	_, err = link.SendAndReceive(ctx, []byte("READ\r\n"))
	assert.ErrorIs(t, err, types.ErrNotConnected)
}

func TestSerialOpenFailure(t *testing.T) {
	opener := func(types.SerialConnection) (SerialPort, error) { return nil, errors.New("access denied") }
	link := NewSerial(serialConf(time.Second), WithPortOpener(opener), WithLogger(zaptest.NewLogger(t)))

	err := link.Connect(context.Background())
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.False(t, link.IsConnected())
}

func TestSerialOpenTimeout(t *testing.T) {
	port := newFakePort(nil)
	opener := func(types.SerialConnection) (SerialPort, error) {
		time.Sleep(200 * time.Millisecond)
		return port, nil
	}
	link := NewSerial(serialConf(50*time.Millisecond), WithPortOpener(opener), WithLogger(zaptest.NewLogger(t)))

	err := link.Connect(context.Background())
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.ErrorIs(t, err, types.ErrConnectTimeout)
	assert.False(t, link.IsConnected())
	assert.Eventually(t, port.closed.Load, time.Second, 10*time.Millisecond)
}

func TestSerialSerializesExchanges(t *testing.T) {
	port := newFakePort(func(b []byte) []byte { return append([]byte("echo "), b...) })
	link := NewSerial(serialConf(time.Second), WithPortOpener(openerFor(port)), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()
	require.NoError(t, link.Connect(ctx))
	defer link.Disconnect()

	var wg sync.WaitGroup
	for _, cmd := range []string{"A\r\n", "B\r\n", "C\r\n", "D\r\n"} {
		wg.Add(1)
		go func(cmd string) {
			defer wg.Done()
			resp, err := link.SendAndReceive(ctx, []byte(cmd))
			if assert.NoError(t, err) {
				assert.Equal(t, "echo "+cmd, string(resp))
			}
		}(cmd)
	}
	wg.Wait()
}

func TestSerialQueuedExchangeTimesOutBehindStall(t *testing.T) {
	gate := make(chan struct{})
	port := newFakePort(func([]byte) []byte {
		<-gate
		return nil
	})
	link := NewSerial(serialConf(50*time.Millisecond), WithPortOpener(openerFor(port)), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()
	require.NoError(t, link.Connect(ctx))
	defer link.Disconnect()
	defer close(gate)

	first := make(chan error, 1)
	go func() {
		_, err := link.SendAndReceive(ctx, []byte("READ\r\n"))
		first <- err
	}()
	require.Eventually(t, func() bool {
		port.mu.Lock()
		defer port.mu.Unlock()
		return len(port.written) == 1
	}, time.Second, 5*time.Millisecond)

	start := time.Now()
	_, err := link.SendAndReceive(ctx, []byte("TARE\r\n"))
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case err := <-first:
		assert.ErrorIs(t, err, types.ErrTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("stalled exchange never returned")
	}
}
