package websocket

import (
	"time"

	"github.com/KevinKickass/ScaleGate/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeWeightReading    MessageType = "weight_reading"
	MessageTypeDeviceError      MessageType = "device_error"
	MessageTypeRegistryReloaded MessageType = "registry_reloaded"
	MessageTypeSystemStatus     MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type WeightReadingData struct {
	DeviceID string               `json:"device_id"`
	Reading  *types.WeightReading `json:"reading"`
}

type DeviceErrorData struct {
	DeviceID string          `json:"device_id"`
	Command  string          `json:"command"`
	Error    string          `json:"error"`
	Kind     types.ErrorKind `json:"kind,omitempty"`
}

type RegistryReloadedData struct {
	Devices []types.DeviceSummary `json:"devices"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func NewWeightReadingMessage(deviceID string, reading *types.WeightReading) Message {
	return NewMessage(MessageTypeWeightReading, WeightReadingData{DeviceID: deviceID, Reading: reading})
}

func NewDeviceErrorMessage(deviceID, command string, err error) Message {
	return NewMessage(MessageTypeDeviceError, DeviceErrorData{
		DeviceID: deviceID,
		Command:  command,
		Error:    err.Error(),
		Kind:     types.KindOf(err),
	})
}

func NewRegistryReloadedMessage(devices []types.DeviceSummary) Message {
	if devices == nil {
		devices = []types.DeviceSummary{}
	}
	return NewMessage(MessageTypeRegistryReloaded, RegistryReloadedData{Devices: devices})
}
