// Package publish mirrors readings and registry changes to an MQTT broker.
package publish

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/KevinKickass/ScaleGate/internal/config"
	"github.com/KevinKickass/ScaleGate/internal/types"
	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

// Client is the part of the paho client the publisher needs.
type Client interface {
	Connect() paho_mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho_mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// NewClient builds a paho client from cfg. It does not connect.
func NewClient(cfg config.MQTTConfig, logger *zap.Logger) paho_mqtt.Client {
	opts := paho_mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.PublishTimeout).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ paho_mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
		}).
		SetOnConnectHandler(func(paho_mqtt.Client) {
			logger.Info("MQTT connected", zap.String("broker", cfg.Broker))
		})
	return paho_mqtt.NewClient(opts)
}

type Publisher struct {
	client  Client
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *zap.Logger
}

func New(client Client, cfg config.MQTTConfig, logger *zap.Logger) *Publisher {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{
		client:  client,
		prefix:  cfg.TopicPrefix,
		qos:     cfg.QoS,
		timeout: timeout,
		logger:  logger,
	}
}

func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(p.timeout) {
		return errors.New("unable to connect in time")
	}
	return token.Error()
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func (p *Publisher) deviceTopic(deviceID, leaf string) string {
	return p.prefix + "/" + slug.Make(deviceID) + "/" + leaf
}

type readingPayload struct {
	DeviceID string `json:"device_id"`
	*types.WeightReading
}

type errorPayload struct {
	DeviceID  string          `json:"device_id"`
	Command   string          `json:"command"`
	Error     string          `json:"error"`
	Kind      types.ErrorKind `json:"kind,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (p *Publisher) ReadingTaken(deviceID string, reading *types.WeightReading) {
	p.publish(p.deviceTopic(deviceID, "reading"), false, readingPayload{DeviceID: deviceID, WeightReading: reading})
}

func (p *Publisher) CommandFailed(deviceID, command string, err error) {
	p.publish(p.deviceTopic(deviceID, "error"), false, errorPayload{
		DeviceID:  deviceID,
		Command:   command,
		Error:     err.Error(),
		Kind:      types.KindOf(err),
		Timestamp: time.Now().UTC(),
	})
}

// RegistryReloaded publishes the device list as a retained message.
func (p *Publisher) RegistryReloaded(devices []types.DeviceSummary) {
	if devices == nil {
		devices = []types.DeviceSummary{}
	}
	p.publish(p.prefix+"/devices", true, devices)
}

// publish hands the message to the client and confirms delivery in the
// background so observers never block on the broker.
func (p *Publisher) publish(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("Failed to marshal MQTT payload", zap.String("topic", topic), zap.Error(err))
		return
	}

	token := p.client.Publish(topic, p.qos, retained, payload)
	go func() {
		if !token.WaitTimeout(p.timeout) {
			p.logger.Warn("MQTT publish timed out", zap.String("topic", topic))
			return
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}
