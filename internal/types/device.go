package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Connection defaults used when a descriptor leaves a field empty.
const (
	DefaultTCPHost       = "192.168.1.254"
	DefaultTCPPort       = 4001
	DefaultSerialPath    = "COM1"
	DefaultBaudRate      = 9600
	DefaultDataBits      = 8
	DefaultTimeoutMillis = 1000
)

type Dialect string

const (
	DialectRinstrum  Dialect = "rinstrum"
	DialectDiniArgeo Dialect = "dini_argeo"
)

var dialectAliases = map[string]Dialect{
	"rinstrum":      DialectRinstrum,
	"rinstrum_c320": DialectRinstrum,
	"rincmd":        DialectRinstrum,
	"dini_argeo":    DialectDiniArgeo,
	"diniargeo":     DialectDiniArgeo,
	"dini_ascii":    DialectDiniArgeo,
	"dfw":           DialectDiniArgeo,
	"dinia":         DialectDiniArgeo,
	"ascii":         DialectDiniArgeo,
}

// ParseDialect resolves a protocol tag (case-insensitive, aliases allowed).
func ParseDialect(tag string) (Dialect, error) {
	d, ok := dialectAliases[strings.ToLower(strings.TrimSpace(tag))]
	if !ok {
		return "", NewError(KindConfiguration, fmt.Sprintf("unknown protocol %q", tag), nil)
	}
	return d, nil
}

type ConnectionType string

const (
	ConnectionTCP    ConnectionType = "tcp"
	ConnectionSerial ConnectionType = "serial"
)

type StopBits string

const (
	StopBitsOne StopBits = "one"
	StopBitsTwo StopBits = "two"
)

type Parity string

const (
	ParityNone Parity = "none"
	ParityOdd  Parity = "odd"
	ParityEven Parity = "even"
)

type FlowControl string

const (
	FlowControlNone     FlowControl = "none"
	FlowControlSoftware FlowControl = "software"
	FlowControlHardware FlowControl = "hardware"
)

type TCPConnection struct {
	Host      string `json:"host"`
	Port      uint16 `json:"port"`
	TimeoutMs uint32 `json:"timeout_ms"`
}

func (t TCPConnection) Address() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

type SerialConnection struct {
	Path        string      `json:"path"`
	BaudRate    uint32      `json:"baud_rate"`
	DataBits    uint8       `json:"data_bits"`
	StopBits    StopBits    `json:"stop_bits"`
	Parity      Parity      `json:"parity"`
	FlowControl FlowControl `json:"flow_control"`
	TimeoutMs   uint32      `json:"timeout_ms"`
}

// ConnectionDescriptor holds exactly one of TCP or Serial.
type ConnectionDescriptor struct {
	TCP    *TCPConnection
	Serial *SerialConnection
}

func NewTCPDescriptor(host string, port uint16, timeoutMs uint32) ConnectionDescriptor {
	return ConnectionDescriptor{TCP: &TCPConnection{Host: host, Port: port, TimeoutMs: timeoutMs}}
}

func NewSerialDescriptor(s SerialConnection) ConnectionDescriptor {
	return ConnectionDescriptor{Serial: &s}
}

func (c ConnectionDescriptor) Type() ConnectionType {
	if c.Serial != nil {
		return ConnectionSerial
	}
	return ConnectionTCP
}

// Timeout returns the per-operation budget, falling back to the default.
func (c ConnectionDescriptor) Timeout() time.Duration {
	var ms uint32
	switch {
	case c.TCP != nil:
		ms = c.TCP.TimeoutMs
	case c.Serial != nil:
		ms = c.Serial.TimeoutMs
	}
	if ms == 0 {
		ms = DefaultTimeoutMillis
	}
	return time.Duration(ms) * time.Millisecond
}

func (c ConnectionDescriptor) String() string {
	switch {
	case c.TCP != nil:
		return "tcp://" + c.TCP.Address()
	case c.Serial != nil:
		return fmt.Sprintf("serial://%s@%d", c.Serial.Path, c.Serial.BaudRate)
	default:
		return "none"
	}
}

// WithDefaults fills zero-valued fields with the connection defaults.
func (c ConnectionDescriptor) WithDefaults() ConnectionDescriptor {
	switch {
	case c.Serial != nil:
		s := *c.Serial
		if s.Path == "" {
			s.Path = DefaultSerialPath
		}
		if s.BaudRate == 0 {
			s.BaudRate = DefaultBaudRate
		}
		if s.DataBits == 0 {
			s.DataBits = DefaultDataBits
		}
		if s.StopBits == "" {
			s.StopBits = StopBitsOne
		}
		if s.Parity == "" {
			s.Parity = ParityNone
		}
		if s.FlowControl == "" {
			s.FlowControl = FlowControlNone
		}
		if s.TimeoutMs == 0 {
			s.TimeoutMs = DefaultTimeoutMillis
		}
		return ConnectionDescriptor{Serial: &s}
	default:
		t := TCPConnection{}
		if c.TCP != nil {
			t = *c.TCP
		}
		if t.Host == "" {
			t.Host = DefaultTCPHost
		}
		if t.Port == 0 {
			t.Port = DefaultTCPPort
		}
		if t.TimeoutMs == 0 {
			t.TimeoutMs = DefaultTimeoutMillis
		}
		return ConnectionDescriptor{TCP: &t}
	}
}

type tcpWire struct {
	Type ConnectionType `json:"type"`
	TCPConnection
}

type serialWire struct {
	Type ConnectionType `json:"type"`
	SerialConnection
}

func (c ConnectionDescriptor) MarshalJSON() ([]byte, error) {
	switch {
	case c.TCP != nil && c.Serial != nil:
		return nil, fmt.Errorf("connection descriptor has both tcp and serial set")
	case c.Serial != nil:
		return json.Marshal(serialWire{Type: ConnectionSerial, SerialConnection: *c.Serial})
	case c.TCP != nil:
		return json.Marshal(tcpWire{Type: ConnectionTCP, TCPConnection: *c.TCP})
	default:
		return []byte("null"), nil
	}
}

func (c *ConnectionDescriptor) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("invalid connection descriptor: %w", err)
	}

	*c = ConnectionDescriptor{}
	switch ConnectionType(strings.ToLower(head.Type)) {
	case ConnectionTCP:
		var w tcpWire
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("invalid tcp connection: %w", err)
		}
		c.TCP = &w.TCPConnection
	case ConnectionSerial:
		var w serialWire
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("invalid serial connection: %w", err)
		}
		c.Serial = &w.SerialConnection
	default:
		return fmt.Errorf("unknown connection type %q", head.Type)
	}
	return nil
}

type DeviceConfig struct {
	ID              string               `json:"id,omitempty"`
	Name            string               `json:"name"`
	Manufacturer    string               `json:"manufacturer"`
	Model           string               `json:"model"`
	Protocol        string               `json:"protocol"`
	Connection      ConnectionDescriptor `json:"connection"`
	Commands        map[string]string    `json:"commands"`
	Enabled         bool                 `json:"enabled"`
	FreshConnection *bool                `json:"fresh_connection,omitempty"`
}

// DeviceSummary is the listing view of an enabled device.
type DeviceSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

type WeightReading struct {
	GrossWeight float64   `json:"gross_weight"`
	NetWeight   float64   `json:"net_weight"`
	Unit        string    `json:"unit"`
	IsStable    bool      `json:"is_stable"`
	TareWeight  *float64  `json:"tare_weight,omitempty"`
	Status      *string   `json:"status,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type ScaleCommandRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	Command  string `json:"command" binding:"required"`
}

type ScaleCommandResponse struct {
	DeviceID string         `json:"device_id"`
	Command  string         `json:"command"`
	Result   *WeightReading `json:"result"`
}
