package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/ScaleGate/internal/types"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// stallGrace is added to the write+read budget before a caller gives up
// waiting on a serial worker that is stuck inside the driver.
const stallGrace = 250 * time.Millisecond

// SerialPort is the subset of serial.Port the link uses.
type SerialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

type PortOpener func(conf types.SerialConnection) (SerialPort, error)

func openSerialPort(conf types.SerialConnection) (SerialPort, error) {
	mode := &serial.Mode{
		BaudRate: int(conf.BaudRate),
		DataBits: int(conf.DataBits),
		Parity:   serialParity(conf.Parity),
		StopBits: serialStopBits(conf.StopBits),
	}
	if conf.FlowControl == types.FlowControlHardware {
		mode.InitialStatusBits = &serial.ModemOutputBits{RTS: true, DTR: true}
	}
	return serial.Open(conf.Path, mode)
}

func serialParity(p types.Parity) serial.Parity {
	switch p {
	case types.ParityOdd:
		return serial.OddParity
	case types.ParityEven:
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

func serialStopBits(s types.StopBits) serial.StopBits {
	if s == types.StopBitsTwo {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}

// ListSerialPorts returns the serial ports present on this host.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Serial is a link to an indicator's RS-232/485 port. The port handle lives
// on a dedicated worker goroutine; callers talk to it over channels.
type Serial struct {
	conf    types.SerialConnection
	timeout time.Duration
	fresh   bool
	open    PortOpener
	logger  *zap.Logger

	mu        sync.Mutex
	worker    *serialWorker
	connected atomic.Bool
}

type serialRequest struct {
	payload []byte
	reply   chan serialReply
}

type serialReply struct {
	data []byte
	err  error
}

type serialWorker struct {
	requests chan serialRequest
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
}

func (w *serialWorker) stop() {
	w.quitOnce.Do(func() { close(w.quit) })
}

func NewSerial(conf types.SerialConnection, opts ...Option) *Serial {
	o := buildOptions(opts)
	desc := types.ConnectionDescriptor{Serial: &conf}

	if conf.FlowControl == types.FlowControlSoftware {
		o.logger.Warn("Software flow control is not supported by the serial driver, ignoring",
			zap.String("port", conf.Path))
	}

	return &Serial{
		conf:    conf,
		timeout: desc.Timeout(),
		fresh:   o.fresh,
		open:    o.opener,
		logger:  o.logger,
	}
}

func (s *Serial) String() string {
	return fmt.Sprintf("serial://%s@%d", s.conf.Path, s.conf.BaudRate)
}

func (s *Serial) IsConnected() bool {
	return s.connected.Load()
}

// Connect opens the port on a fresh worker. It is a no-op when already open.
func (s *Serial) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker != nil {
		return nil
	}

	w := &serialWorker{
		requests: make(chan serialRequest),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	opened := make(chan error, 1)
	go s.run(w, opened)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case err := <-opened:
		if err != nil {
			return types.NewError(types.KindConnection, fmt.Sprintf("open %s failed", s.conf.Path), err)
		}
	case <-timer.C:
		// The worker closes the port if the open completes later.
		w.stop()
		return types.NewError(types.KindTimeout, fmt.Sprintf("open %s", s.conf.Path), types.ErrConnectTimeout)
	case <-ctx.Done():
		w.stop()
		return types.NewError(types.KindConnection, fmt.Sprintf("open %s cancelled", s.conf.Path), ctx.Err())
	}

	s.worker = w
	s.connected.Store(true)

	s.logger.Info("Serial port opened",
		zap.String("port", s.conf.Path),
		zap.Uint32("baud_rate", s.conf.BaudRate))
	return nil
}

// Disconnect stops the worker and waits for the port to be closed.
func (s *Serial) Disconnect() error {
	s.mu.Lock()
	w := s.worker
	s.worker = nil
	s.connected.Store(false)
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	w.stop()
	<-w.done
	return nil
}

func (s *Serial) SendAndReceive(ctx context.Context, payload []byte) ([]byte, error) {
	if s.fresh {
		_ = s.Disconnect()
		if err := s.Connect(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	w := s.worker
	s.mu.Unlock()

	if w == nil {
		return nil, types.NewError(types.KindConnection, s.String(), types.ErrNotConnected)
	}

	// One deadline covers waiting behind a stuck exchange and our own.
	timer := time.NewTimer(2*s.timeout + stallGrace)
	defer timer.Stop()

	req := serialRequest{payload: payload, reply: make(chan serialReply, 1)}
	select {
	case w.requests <- req:
	case <-w.done:
		return nil, types.NewError(types.KindConnection, s.String(), types.ErrNotConnected)
	case <-timer.C:
		return nil, types.NewError(types.KindTimeout, fmt.Sprintf("write to %s", s.conf.Path), types.ErrWriteTimeout)
	}

	select {
	case r := <-req.reply:
		return r.data, r.err
	case <-timer.C:
		return nil, types.NewError(types.KindTimeout, fmt.Sprintf("write to %s", s.conf.Path), types.ErrWriteTimeout)
	}
}

// run owns the port for its whole life.
func (s *Serial) run(w *serialWorker, opened chan<- error) {
	defer close(w.done)

	port, err := s.open(s.conf)
	if err != nil {
		opened <- err
		return
	}
	opened <- nil

	defer s.release(w, port)

	for {
		select {
		case <-w.quit:
			return
		case req := <-w.requests:
			data, err := s.exchange(port, req.payload)
			req.reply <- serialReply{data: data, err: err}
			if errors.Is(err, types.ErrIO) {
				s.logger.Warn("Serial port failed, closing", zap.String("port", s.conf.Path), zap.Error(err))
				return
			}
		}
	}
}

func (s *Serial) release(w *serialWorker, port SerialPort) {
	if err := port.Close(); err != nil {
		s.logger.Debug("Serial close failed", zap.String("port", s.conf.Path), zap.Error(err))
	}

	s.mu.Lock()
	if s.worker == w {
		s.worker = nil
		s.connected.Store(false)
	}
	s.mu.Unlock()
}

func (s *Serial) exchange(port SerialPort, payload []byte) ([]byte, error) {
	if err := port.ResetInputBuffer(); err != nil {
		s.logger.Debug("Failed to flush serial input", zap.String("port", s.conf.Path), zap.Error(err))
	}

	for rest := payload; len(rest) > 0; {
		n, err := port.Write(rest)
		if err != nil {
			return nil, types.NewError(types.KindIO, fmt.Sprintf("write to %s failed", s.conf.Path), err)
		}
		if n == 0 {
			return nil, types.NewError(types.KindIO, fmt.Sprintf("write to %s failed", s.conf.Path), io.ErrShortWrite)
		}
		rest = rest[n:]
	}

	deadline := time.Now().Add(s.timeout)
	buf := make([]byte, 256)
	var resp []byte
	for len(resp) < maxResponseSize {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := port.SetReadTimeout(remaining); err != nil {
			return nil, types.NewError(types.KindIO, fmt.Sprintf("set read timeout on %s", s.conf.Path), err)
		}

		n, err := port.Read(buf)
		if err != nil {
			return nil, types.NewError(types.KindIO, fmt.Sprintf("read from %s failed", s.conf.Path), err)
		}
		if n == 0 {
			break
		}
		resp = append(resp, buf[:n]...)
		if hasTerminator(resp) {
			s.logger.Debug("Exchange completed",
				zap.String("port", s.conf.Path),
				zap.ByteString("tx", payload),
				zap.ByteString("rx", resp))
			return resp, nil
		}
	}

	if len(resp) == 0 {
		return nil, types.NewError(types.KindTimeout, fmt.Sprintf("read from %s", s.conf.Path), types.ErrReadTimeout)
	}
	s.logger.Warn("Returning unterminated response after read timeout",
		zap.String("port", s.conf.Path),
		zap.Int("bytes", len(resp)))
	return resp, nil
}
