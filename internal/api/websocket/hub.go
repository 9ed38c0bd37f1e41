package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/KevinKickass/ScaleGate/internal/types"
	"go.uber.org/zap"
)

// StatusProvider supplies the system_status payload sent to new clients.
type StatusProvider interface {
	GetStatus() any
}

// envelope is a marshalled message plus the device it concerns, if any.
type envelope struct {
	data     []byte
	deviceID string
}

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu     sync.RWMutex
	logger *zap.Logger

	statusMu       sync.RWMutex
	statusProvider StatusProvider
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

func (h *Hub) SetStatusProvider(provider StatusProvider) {
	h.statusMu.Lock()
	h.statusProvider = provider
	h.statusMu.Unlock()
}

func (h *Hub) status() any {
	h.statusMu.RLock()
	defer h.statusMu.RUnlock()
	if h.statusProvider == nil {
		return nil
	}
	return h.statusProvider.GetStatus()
}

// Run is the hub's event loop. It returns when ctx is done, closing every
// client's send channel.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket Hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("remote_addr", client.remoteAddr),
				zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("remote_addr", client.remoteAddr),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case env := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(env.deviceID) {
					continue
				}
				select {
				case client.send <- env.data:
				default:
					// Slow or dead client.
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("remote_addr", client.remoteAddr))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	h.publish(msg, "")
}

// publish queues msg for clients subscribed to deviceID. An empty
// deviceID reaches everyone.
func (h *Hub) publish(msg Message, deviceID string) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- envelope{data: data, deviceID: deviceID}:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

func (h *Hub) ReadingTaken(deviceID string, reading *types.WeightReading) {
	h.publish(NewWeightReadingMessage(deviceID, reading), deviceID)
}

func (h *Hub) CommandFailed(deviceID, command string, err error) {
	h.publish(NewDeviceErrorMessage(deviceID, command, err), deviceID)
}

func (h *Hub) RegistryReloaded(devices []types.DeviceSummary) {
	h.Broadcast(NewRegistryReloadedMessage(devices))
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
