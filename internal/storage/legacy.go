package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/KevinKickass/ScaleGate/internal/types"
)

// Older registry files come in two shapes. The split layout keeps
// connections under "hosts" and protocol/command sets under "mierniki";
// devices point at both by id. The inline layout keeps everything on the
// device but tags the connection with "connection_type" and puts the
// timeout beside it. Both are flattened into DeviceConfig.

type legacyDocument struct {
	Hosts    map[string]legacyHost      `json:"hosts"`
	Mierniki map[string]legacyMeter     `json:"mierniki"`
	Devices  map[string]json.RawMessage `json:"devices"`
}

type legacyHost struct {
	Name       string           `json:"name"`
	Connection legacyConnection `json:"connection"`
	TimeoutMs  *uint32          `json:"timeout_ms"`
	Enabled    *bool            `json:"enabled"`
}

type legacyMeter struct {
	Name         string            `json:"name"`
	Protocol     string            `json:"protocol"`
	Manufacturer string            `json:"manufacturer"`
	Model        string            `json:"model"`
	Commands     map[string]string `json:"commands"`
	Enabled      *bool             `json:"enabled"`
}

type legacyDevice struct {
	Name         string            `json:"name"`
	Manufacturer string            `json:"manufacturer"`
	Model        string            `json:"model"`
	HostID       string            `json:"host_id"`
	MiernikID    string            `json:"miernik_id"`
	Protocol     string            `json:"protocol"`
	Connection   json.RawMessage   `json:"connection"`
	TimeoutMs    *uint32           `json:"timeout_ms"`
	Commands     map[string]string `json:"commands"`
	Enabled      *bool             `json:"enabled"`
}

// legacyConnection is tagged by connection_type. Port is a number for TCP
// and the device path for serial.
type legacyConnection struct {
	ConnectionType string          `json:"connection_type"`
	Host           string          `json:"host"`
	Port           json.RawMessage `json:"port"`
	BaudRate       uint32          `json:"baud_rate"`
	DataBits       uint8           `json:"data_bits"`
	StopBits       string          `json:"stop_bits"`
	Parity         string          `json:"parity"`
	FlowControl    string          `json:"flow_control"`
}

func (c legacyConnection) descriptor(timeoutMs *uint32) (types.ConnectionDescriptor, error) {
	timeout := uint32(types.DefaultTimeoutMillis)
	if timeoutMs != nil {
		timeout = *timeoutMs
	}

	switch strings.ToLower(c.ConnectionType) {
	case "tcp":
		var port uint16
		if len(c.Port) > 0 {
			if err := json.Unmarshal(c.Port, &port); err != nil {
				return types.ConnectionDescriptor{}, fmt.Errorf("tcp port: %w", err)
			}
		}
		return types.NewTCPDescriptor(c.Host, port, timeout).WithDefaults(), nil
	case "serial":
		var path string
		if len(c.Port) > 0 {
			if err := json.Unmarshal(c.Port, &path); err != nil {
				return types.ConnectionDescriptor{}, fmt.Errorf("serial port: %w", err)
			}
		}
		return types.NewSerialDescriptor(types.SerialConnection{
			Path:        path,
			BaudRate:    c.BaudRate,
			DataBits:    c.DataBits,
			StopBits:    types.StopBits(strings.ToLower(c.StopBits)),
			Parity:      types.Parity(strings.ToLower(c.Parity)),
			FlowControl: types.FlowControl(strings.ToLower(c.FlowControl)),
			TimeoutMs:   timeout,
		}).WithDefaults(), nil
	default:
		return types.ConnectionDescriptor{}, fmt.Errorf("unknown connection_type %q", c.ConnectionType)
	}
}

func isLegacy(doc legacyDocument) bool {
	if len(doc.Hosts) > 0 || len(doc.Mierniki) > 0 {
		return true
	}
	for _, raw := range doc.Devices {
		if bytes.Contains(raw, []byte(`"host_id"`)) || bytes.Contains(raw, []byte(`"connection_type"`)) {
			return true
		}
	}
	return false
}

func enabled(flags ...*bool) bool {
	for _, f := range flags {
		if f != nil && !*f {
			return false
		}
	}
	return true
}

// MigrateLegacy flattens a registry document in an older layout. It reports
// false, with no devices, when data is already in the current layout.
func MigrateLegacy(data []byte) (map[string]types.DeviceConfig, bool, error) {
	var doc legacyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, types.NewError(types.KindConfiguration, "invalid registry document", err)
	}
	if !isLegacy(doc) {
		return nil, false, nil
	}

	devices := make(map[string]types.DeviceConfig, len(doc.Devices))
	for id, raw := range doc.Devices {
		cfg, err := migrateDevice(doc, raw)
		if err != nil {
			return nil, true, types.NewError(types.KindConfiguration, fmt.Sprintf("device %s", id), err)
		}
		cfg.ID = id
		devices[id] = cfg
	}
	return devices, true, nil
}

func migrateDevice(doc legacyDocument, raw json.RawMessage) (types.DeviceConfig, error) {
	var d legacyDevice
	if err := json.Unmarshal(raw, &d); err != nil {
		return types.DeviceConfig{}, err
	}

	if d.HostID != "" || d.MiernikID != "" {
		host, ok := doc.Hosts[d.HostID]
		if !ok {
			return types.DeviceConfig{}, fmt.Errorf("host %q not found", d.HostID)
		}
		meter, ok := doc.Mierniki[d.MiernikID]
		if !ok {
			return types.DeviceConfig{}, fmt.Errorf("indicator %q not found", d.MiernikID)
		}
		conn, err := host.Connection.descriptor(host.TimeoutMs)
		if err != nil {
			return types.DeviceConfig{}, fmt.Errorf("host %s: %w", d.HostID, err)
		}
		return types.DeviceConfig{
			Name:         d.Name,
			Manufacturer: meter.Manufacturer,
			Model:        meter.Model,
			Protocol:     meter.Protocol,
			Connection:   conn,
			Commands:     meter.Commands,
			Enabled:      enabled(d.Enabled, host.Enabled, meter.Enabled),
		}, nil
	}

	var lc legacyConnection
	if len(d.Connection) > 0 {
		if err := json.Unmarshal(d.Connection, &lc); err != nil {
			return types.DeviceConfig{}, err
		}
	}
	if lc.ConnectionType == "" {
		// Already in the current shape.
		var cfg types.DeviceConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return types.DeviceConfig{}, err
		}
		return cfg, nil
	}

	conn, err := lc.descriptor(d.TimeoutMs)
	if err != nil {
		return types.DeviceConfig{}, err
	}
	return types.DeviceConfig{
		Name:         d.Name,
		Manufacturer: d.Manufacturer,
		Model:        d.Model,
		Protocol:     d.Protocol,
		Connection:   conn,
		Commands:     d.Commands,
		Enabled:      enabled(d.Enabled),
	}, nil
}
