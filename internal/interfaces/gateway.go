package interfaces

import (
	"context"

	"github.com/KevinKickass/ScaleGate/internal/types"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string `json:"state"`
	DeviceCount      int    `json:"device_count"`
	EnabledDevices   int    `json:"enabled_devices"`
	ConnectedDevices int    `json:"connected_devices"`
	LiveClients      int    `json:"live_clients"`
	Timestamp        int64  `json:"timestamp"`
	Error            string `json:"error,omitempty"`
}

// Registry is the device registry as the request façade sees it.
type Registry interface {
	ListDevices() []types.DeviceSummary
	ListConfigs() map[string]types.DeviceConfig
	GetConfig(id string) (types.DeviceConfig, error)
	ExecuteCommand(ctx context.Context, req types.ScaleCommandRequest) (*types.WeightReading, error)
	SaveConfig(ctx context.Context, id string, cfg types.DeviceConfig) error
	DeleteConfig(ctx context.Context, id string) error
	Reload(ctx context.Context) error
	TestConnection(ctx context.Context, id string) error
}

// Gateway is the running process as the request façade sees it.
type Gateway interface {
	Registry() Registry
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
