package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KevinKickass/ScaleGate/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeIndicator is a TCP server standing in for a weighing indicator.
type fakeIndicator struct {
	ln       net.Listener
	accepted atomic.Int32
	handle   func(conn net.Conn)
}

func newFakeIndicator(t *testing.T, handle func(conn net.Conn)) *fakeIndicator {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeIndicator{ln: ln, handle: handle}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			f.accepted.Add(1)
			go func() {
				defer conn.Close()
				f.handle(conn)
			}()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeIndicator) conf(timeout time.Duration) types.TCPConnection {
	addr := f.ln.Addr().(*net.TCPAddr)
	return types.TCPConnection{Host: "127.0.0.1", Port: uint16(addr.Port), TimeoutMs: uint32(timeout.Milliseconds())}
}

// replyEach answers every received line with reply(line).
func replyEach(reply func(line string) string) func(conn net.Conn) {
	return func(conn net.Conn) {
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if _, err := conn.Write([]byte(reply(strings.TrimSpace(line)))); err != nil {
				return
			}
		}
	}
}

func TestTCPExchange(t *testing.T) {
	srv := newFakeIndicator(t, replyEach(func(string) string { return "20050026+1.00kg\r\n" }))
	link := NewTCP(srv.conf(time.Second), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	assert.False(t, link.IsConnected())
	require.NoError(t, link.Connect(ctx))
	require.NoError(t, link.Connect(ctx))
	assert.True(t, link.IsConnected())

	resp, err := link.SendAndReceive(ctx, []byte("20050026\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "20050026+1.00kg\r\n", string(resp))

	resp, err = link.SendAndReceive(ctx, []byte("20050026\r\n"))
	require.NoError(t, err)
	assert.NotEmpty(t, resp)
	assert.Equal(t, int32(1), srv.accepted.Load())

	require.NoError(t, link.Disconnect())
	require.NoError(t, link.Disconnect())
	assert.False(t, link.IsConnected())
}

func TestTCPPartialResponseBeforeTimeout(t *testing.T) {
	srv := newFakeIndicator(t, replyEach(func(string) string { return "S 12.5 kg" }))
	link := NewTCP(srv.conf(150*time.Millisecond), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()
	require.NoError(t, link.Connect(ctx))

	resp, err := link.SendAndReceive(ctx, []byte("READ\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "S 12.5 kg", string(resp))
	assert.True(t, link.IsConnected())
}

func TestTCPReadTimeoutKeepsConnection(t *testing.T) {
	srv := newFakeIndicator(t, func(conn net.Conn) {
		_, _ = bufio.NewReader(conn).ReadString('\n')
		time.Sleep(time.Second)
	})
	link := NewTCP(srv.conf(100*time.Millisecond), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()
	require.NoError(t, link.Connect(ctx))

	_, err := link.SendAndReceive(ctx, []byte("READ\r\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.ErrorIs(t, err, types.ErrReadTimeout)
	assert.True(t, link.IsConnected())
}

func TestTCPPeerCloseDiscardsConnection(t *testing.T) {
	srv := newFakeIndicator(t, func(conn net.Conn) {
		_, _ = bufio.NewReader(conn).ReadString('\n')
	})
	link := NewTCP(srv.conf(time.Second), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()
	require.NoError(t, link.Connect(ctx))

	_, err := link.SendAndReceive(ctx, []byte("READ\r\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrIO)
	assert.False(t, link.IsConnected())

	require.NoError(t, link.Connect(ctx))
	assert.Eventually(t, func() bool { return srv.accepted.Load() == 2 }, time.Second, 10*time.Millisecond)
}

func TestTCPPartialResponseThenClose(t *testing.T) {
	srv := newFakeIndicator(t, func(conn net.Conn) {
		_, _ = bufio.NewReader(conn).ReadString('\n')
		_, _ = conn.Write([]byte("OK"))
	})
	link := NewTCP(srv.conf(time.Second), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()
	require.NoError(t, link.Connect(ctx))

	resp, err := link.SendAndReceive(ctx, []byte("TARE\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "OK", string(resp))
	assert.False(t, link.IsConnected())
}

func TestTCPFreshConnection(t *testing.T) {
	srv := newFakeIndicator(t, replyEach(func(string) string { return "OK\r\n" }))
	link := NewTCP(srv.conf(time.Second), WithFreshConnection(true), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := link.SendAndReceive(ctx, []byte("ZERO\r\n"))
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool { return srv.accepted.Load() == 3 }, time.Second, 10*time.Millisecond)
}

func TestTCPNotConnected(t *testing.T) {
	link := NewTCP(types.TCPConnection{Host: "127.0.0.1", Port: 1, TimeoutMs: 100})
	_, err := link.SendAndReceive(context.Background(), []byte("READ\r\n"))
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.ErrorIs(t, err, types.ErrNotConnected)
}

func TestTCPConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	link := NewTCP(types.TCPConnection{Host: "127.0.0.1", Port: uint16(port), TimeoutMs: 200})
	err = link.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.False(t, link.IsConnected())
}

func TestTCPSerializesExchanges(t *testing.T) {
	srv := newFakeIndicator(t, replyEach(func(line string) string {
		time.Sleep(5 * time.Millisecond)
		return "echo " + line + "\r\n"
	}))
	link := NewTCP(srv.conf(2*time.Second), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()
	require.NoError(t, link.Connect(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := fmt.Sprintf("CMD%d", i)
			resp, err := link.SendAndReceive(ctx, []byte(cmd+"\r\n"))
			if assert.NoError(t, err) {
				assert.Equal(t, "echo "+cmd+"\r\n", string(resp))
			}
		}(i)
	}
	wg.Wait()
}

func TestFramer(t *testing.T) {
	f := Framer{Terminator: CRLF}

	b, err := f.Frame("  20050026 ")
	require.NoError(t, err)
	assert.Equal(t, "20050026\r\n", string(b))

	b, err = f.Frame("READ\r\n")
	require.NoError(t, err)
	assert.Equal(t, "READ\r\n", string(b))

	_, err = f.Frame("  ")
	assert.ErrorIs(t, err, types.ErrInvalidCommand)

	assert.Equal(t, "S 1.0 kg", f.Unframe([]byte(" S 1.0 kg\r\n")))
	assert.Equal(t, "a\uFFFDb", f.Unframe([]byte{'a', 0xff, 'b', '\n'}))
}

func TestProbeTCP(t *testing.T) {
	srv := newFakeIndicator(t, func(net.Conn) {})
	conf := srv.conf(time.Second)
	require.NoError(t, Probe(context.Background(), types.ConnectionDescriptor{TCP: &conf}))

	require.NoError(t, srv.ln.Close())
	err := Probe(context.Background(), types.ConnectionDescriptor{TCP: &conf})
	assert.ErrorIs(t, err, types.ErrConnection)
}

func TestNewLinkFromDescriptor(t *testing.T) {
	link, err := New(types.NewTCPDescriptor("10.1.1.1", 4001, 500))
	require.NoError(t, err)
	assert.Equal(t, "tcp://10.1.1.1:4001", link.String())

	link, err = New(types.NewSerialDescriptor(types.SerialConnection{Path: "/dev/ttyS1"}))
	require.NoError(t, err)
	assert.Equal(t, "serial:///dev/ttyS1@9600", link.String())
}
