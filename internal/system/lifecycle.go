package system

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/ScaleGate/internal/api/rest"
	"github.com/KevinKickass/ScaleGate/internal/api/websocket"
	"github.com/KevinKickass/ScaleGate/internal/auth"
	"github.com/KevinKickass/ScaleGate/internal/config"
	"github.com/KevinKickass/ScaleGate/internal/devices"
	"github.com/KevinKickass/ScaleGate/internal/interfaces"
	"github.com/KevinKickass/ScaleGate/internal/publish"
	"github.com/KevinKickass/ScaleGate/internal/storage"
	"github.com/KevinKickass/ScaleGate/internal/transport"
	"go.uber.org/zap"
)

// OpenStore returns the registry backend named by cfg.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Registry.Backend {
	case config.BackendPostgres:
		store, err := storage.NewPostgresStore(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendFile, "":
		return storage.NewFileStore(cfg.Registry.Path, logger), nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
	}
}

type LifecycleManager struct {
	config        *config.Config
	store         storage.Store
	deviceManager *devices.Manager
	wsHub         *websocket.Hub
	poller        *devices.Poller
	publisher     *publish.Publisher
	restServer    *rest.Server
	logger        *zap.Logger

	hubCancel context.CancelFunc

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    string

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager builds every component around store. The store is
// owned by the manager from here on and closed on shutdown.
func NewLifecycleManager(ctx context.Context, cfg *config.Config, store storage.Store, logger *zap.Logger) (*LifecycleManager, error) {
	lm := &LifecycleManager{
		config:       cfg,
		store:        store,
		logger:       logger,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	lm.wsHub = websocket.NewHub(logger)
	lm.wsHub.SetStatusProvider(lm)

	opts := []devices.Option{
		devices.WithLinkOptions(transport.WithLogger(logger)),
		devices.WithObserver(lm.wsHub),
	}

	if cfg.MQTT.Enabled {
		lm.publisher = publish.New(publish.NewClient(cfg.MQTT, logger), cfg.MQTT, logger)
		if err := lm.publisher.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.MQTT.Broker, err)
		}
		opts = append(opts, devices.WithObserver(lm.publisher))
	}

	deviceManager, err := devices.NewManager(ctx, store, nil, logger, opts...)
	if err != nil {
		if lm.publisher != nil {
			lm.publisher.Close()
		}
		return nil, err
	}
	lm.deviceManager = deviceManager

	if cfg.Polling.Enabled {
		lm.poller = devices.NewPoller(deviceManager, cfg.Polling.Interval, cfg.Polling.Command, cfg.Polling.Concurrency, logger)
	}

	var jwt *auth.JWTHandler
	if cfg.Auth.Enabled {
		if !cfg.Auth.IsProductionReady() {
			logger.Warn("Auth enabled with a development JWT secret",
				zap.String("env", cfg.Auth.JWTSecretEnv))
		}
		jwt = auth.NewJWTHandler(cfg.Auth.GetJWTSecret(), cfg.Auth.Issuer)
	}
	lm.restServer = rest.NewServer(cfg, lm, lm.wsHub, jwt, logger)

	return lm, nil
}

// Start connects the devices and starts serving.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting ScaleGate")

	hubCtx, cancel := context.WithCancel(context.Background())
	lm.hubCancel = cancel
	go lm.wsHub.Run(hubCtx)

	lm.deviceManager.ConnectAll(ctx)

	if lm.poller != nil {
		if err := lm.poller.Start(); err != nil {
			lm.setError(err)
			return fmt.Errorf("failed to start poller: %w", err)
		}
	}

	if err := lm.restServer.Start(); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	if err := lm.setState(StateRunning); err != nil {
		return err
	}

	status := lm.deviceManager.Status()
	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("devices", status.Configured),
		zap.Int("connected", status.Connected),
		zap.Bool("polling", lm.poller != nil),
		zap.Bool("mqtt", lm.publisher != nil))

	return nil
}

// Shutdown stops everything once. Later calls return nil immediately.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		if err := lm.setState(StateStopping); err != nil {
			lm.logger.Warn("Unexpected state on shutdown", zap.Error(err))
		}

		shutdownErr = lm.gracefulShutdown(ctx)

		if err := lm.setState(StateStopped); err != nil {
			lm.logger.Warn("Unexpected state on shutdown", zap.Error(err))
		}

		if lm.hubCancel != nil {
			lm.hubCancel()
		}
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	// 1. Stop polling
	if lm.poller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.poller.Stop()
		}()
	}

	// 2. REST API Server graceful shutdown
	wg.Add(1)
	go func() {
		defer wg.Done()
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		errs = append(errs, errors.New("shutdown timeout exceeded"))
	}

	// 3. Devices, then the outputs they feed
	lm.deviceManager.Close()
	if lm.publisher != nil {
		lm.publisher.Close()
	}
	if err := lm.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("registry store close failed: %w", err))
	}

	close(errChan)
	for err := range errChan {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		lm.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

func (lm *LifecycleManager) setState(state SystemState) error {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.stateMu.Unlock()
		return err
	}
	lm.currentState = state
	lm.stateMu.Unlock()

	lm.broadcastStatus()
	return nil
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastError = err.Error()
	lm.stateMu.Unlock()

	lm.logger.Error("System entered error state", zap.Error(err))
	lm.broadcastStatus()
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, lm.GetCurrentStatus()))
}

// State returns the current lifecycle state.
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state, lastError := lm.currentState, lm.lastError
	lm.stateMu.RUnlock()

	counts := lm.deviceManager.Status()
	return interfaces.SystemStatus{
		State:            state.String(),
		DeviceCount:      counts.Configured,
		EnabledDevices:   counts.Enabled,
		ConnectedDevices: counts.Connected,
		LiveClients:      lm.wsHub.GetClientCount(),
		Timestamp:        time.Now().Unix(),
		Error:            lastError,
	}
}

// GetStatus feeds the system_status message sent to new websocket clients.
func (lm *LifecycleManager) GetStatus() any {
	return lm.GetCurrentStatus()
}

func (lm *LifecycleManager) Registry() interfaces.Registry {
	return lm.deviceManager
}

func (lm *LifecycleManager) DeviceManager() *devices.Manager {
	return lm.deviceManager
}

// Handler exposes the HTTP router.
func (lm *LifecycleManager) Handler() http.Handler {
	return lm.restServer.Handler()
}
