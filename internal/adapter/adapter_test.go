package adapter

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KevinKickass/ScaleGate/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// startIndicator answers each command line with responses[command].
func startIndicator(t *testing.T, responses map[string]string) (types.ConnectionDescriptor, *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var received atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					received.Add(1)
					if _, err := conn.Write([]byte(responses[strings.TrimSpace(line)] + "\r\n")); err != nil {
						return
					}
				}
			}()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	return types.NewTCPDescriptor("127.0.0.1", uint16(port), 500), &received
}

func rinstrumConfig(conn types.ConnectionDescriptor) types.DeviceConfig {
	return types.DeviceConfig{
		Name:       "Dock",
		Model:      "C320",
		Protocol:   "RINSTRUM",
		Connection: conn,
		Commands: map[string]string{
			"readGross": "20050026",
			"readnet":   "20050025",
			"tare":      "21120008:0C",
		},
		Enabled: true,
	}
}

func TestExecuteCommandCaseInsensitive(t *testing.T) {
	conn, received := startIndicator(t, map[string]string{
		"20050026": "20050026+123.45kg",
		"20050025": "20050025-23.5kg",
	})
	a, err := New("dock", rinstrumConfig(conn), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	for _, name := range []string{"readgross", "READGROSS", "ReadGross"} {
		r, err := a.ExecuteCommand(ctx, name)
		require.NoError(t, err, name)
		assert.InDelta(t, 123.45, r.GrossWeight, 1e-9)
		assert.Equal(t, 0.0, r.NetWeight)
		assert.True(t, r.IsStable)
	}

	r, err := a.ExecuteCommand(ctx, "readnet")
	require.NoError(t, err)
	assert.InDelta(t, -23.5, r.NetWeight, 1e-9)
	assert.Equal(t, int32(4), received.Load())
}

func TestExecuteCommandAutoConnects(t *testing.T) {
	conn, _ := startIndicator(t, map[string]string{"20050026": "20050026+1.00kg"})
	a, err := New("dock", rinstrumConfig(conn), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.IsConnected())
	_, err = a.ExecuteCommand(context.Background(), "readgross")
	require.NoError(t, err)
	assert.True(t, a.IsConnected())
}

func TestExecuteCommandUnknown(t *testing.T) {
	conn, received := startIndicator(t, nil)
	a, err := New("dock", rinstrumConfig(conn), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = a.ExecuteCommand(context.Background(), "calibrate")
	assert.ErrorIs(t, err, types.ErrInvalidCommand)
	assert.False(t, a.IsConnected())
	assert.Equal(t, int32(0), received.Load())
}

func TestExecuteCommandDeviceError(t *testing.T) {
	conn, _ := startIndicator(t, map[string]string{"21120008:0C": "E"})
	a, err := New("dock", rinstrumConfig(conn), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.ExecuteCommand(context.Background(), "tare")
	assert.ErrorIs(t, err, types.ErrProtocol)
	assert.ErrorIs(t, err, types.ErrDeviceReported)
}

func TestDiniArgeoAdapter(t *testing.T) {
	conn, _ := startIndicator(t, map[string]string{"READ": "ST,GS,+00023.450kg", "TARE": "OK"})
	cfg := types.DeviceConfig{
		Protocol:   "dfw",
		Connection: conn,
		Commands:   map[string]string{"readgross": "READ", "tare": "TARE"},
		Enabled:    true,
	}
	a, err := New("bench", cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, types.DialectDiniArgeo, a.Dialect())

	r, err := a.ExecuteCommand(context.Background(), "readgross")
	require.NoError(t, err)
	assert.InDelta(t, 23.45, r.GrossWeight, 1e-9)

	r, err = a.ExecuteCommand(context.Background(), "tare")
	require.NoError(t, err)
	assert.True(t, r.IsStable)
	assert.Equal(t, 0.0, r.GrossWeight)
}

func TestClosedAdapterRefusesWork(t *testing.T) {
	conn, _ := startIndicator(t, map[string]string{"20050026": "20050026+1.00kg"})
	a, err := New("dock", rinstrumConfig(conn), zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.False(t, a.IsConnected())

	_, err = a.ExecuteCommand(ctx, "readgross")
	assert.ErrorIs(t, err, types.ErrAdapterRetired)
	assert.ErrorIs(t, a.Connect(ctx), types.ErrConnection)
}

func TestCloseWaitsForExchangeInFlight(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	arrived := make(chan struct{}, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := bufio.NewReader(conn).ReadString('\n'); err != nil {
			return
		}
		arrived <- struct{}{}
		time.Sleep(200 * time.Millisecond)
		conn.Write([]byte("20050026+7.00kg\r\n"))
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	a, err := New("dock", rinstrumConfig(types.NewTCPDescriptor("127.0.0.1", uint16(port), 1000)), zaptest.NewLogger(t))
	require.NoError(t, err)

	type result struct {
		reading *types.WeightReading
		err     error
	}
	done := make(chan result, 1)
	go func() {
		r, err := a.ExecuteCommand(context.Background(), "readgross")
		done <- result{r, err}
	}()

	select {
	case <-arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached the indicator")
	}

	start := time.Now()
	require.NoError(t, a.Close())
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.False(t, a.IsConnected())

	// The exchange was not cut short by Close.
	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.InDelta(t, 7.0, res.reading.GrossWeight, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("exchange did not finish")
	}
}

func TestNewRejectsUnknownProtocol(t *testing.T) {
	cfg := rinstrumConfig(types.NewTCPDescriptor("127.0.0.1", 4001, 100))
	cfg.Protocol = "mettler_sics"

	_, err := New("x", cfg, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, types.ErrConfiguration)
}
