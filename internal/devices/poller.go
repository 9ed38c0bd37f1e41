package devices

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/ScaleGate/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Poller runs one command against every enabled device on a fixed interval.
// Results reach the manager's observers like any other command.
type Poller struct {
	manager     *Manager
	interval    time.Duration
	command     string
	concurrency int
	logger      *zap.Logger
	stopChan    chan struct{}
	wg          sync.WaitGroup
	running     bool
	mu          sync.Mutex
}

func NewPoller(manager *Manager, interval time.Duration, command string, concurrency int, logger *zap.Logger) *Poller {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Poller{
		manager:     manager,
		interval:    interval,
		command:     command,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Start begins polling. Calling it on a running poller does nothing.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.wg.Add(1)

	go p.pollLoop(p.stopChan)

	p.logger.Info("Poller started",
		zap.String("command", p.command),
		zap.Duration("interval", p.interval),
		zap.Int("concurrency", p.concurrency))

	return nil
}

// Stop ends polling and waits for the current round to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopChan)
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()

	p.logger.Info("Poller stopped")
}

func (p *Poller) pollLoop(stop <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.pollDevices()
		}
	}
}

func (p *Poller) pollDevices() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for _, d := range p.manager.ListDevices() {
		d := d
		g.Go(func() error {
			_, err := p.manager.ExecuteCommand(ctx, types.ScaleCommandRequest{DeviceID: d.ID, Command: p.command})
			if err != nil {
				p.logger.Debug("Poll failed",
					zap.String("device_id", d.ID),
					zap.String("command", p.command),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
