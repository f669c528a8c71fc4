package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"
)

const (
	mqttQueueSize      = 16
	mqttPublishTimeout = time.Second
	mqttDisconnectMs   = 250
)

// MQTTConfig selects the broker and topic telemetry is published to.
type MQTTConfig struct {
	Broker   string `json:"broker"`
	Topic    string `json:"topic"`
	ClientID string `json:"client_id,omitempty"`
}

// Validate checks the MQTT configuration.
func (c MQTTConfig) Validate() error {
	if c.Broker == "" {
		return errors.New("mqtt broker is required")
	}
	if c.Topic == "" {
		return errors.New("mqtt topic is required")
	}
	return nil
}

// publisher is the part of an mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes every snapshot as one JSON object. Snapshots are queued to a
// worker; when the queue is full the snapshot is dropped.
type MQTT struct {
	topic   string
	client  publisher
	logger  logging.Logger
	queue   chan []byte
	dropped atomic.Uint64

	disconnect              func()
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewMQTT connects to the broker in the background and starts the publish
// worker. The connection is retried until Close.
func NewMQTT(cfg MQTTConfig, logger logging.Logger) (*MQTT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Infow("connected to MQTT broker", "broker", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warnw("MQTT connection lost", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	// with connect retry on, the token completes once connected
	client.Connect()

	m := newMQTT(cfg.Topic, client, logger)
	m.disconnect = func() { client.Disconnect(mqttDisconnectMs) }
	return m, nil
}

func newMQTT(topic string, client publisher, logger logging.Logger) *MQTT {
	cancelCtx, cancel := context.WithCancel(context.Background())
	m := &MQTT{
		topic:  topic,
		client: client,
		logger: logger,
		queue:  make(chan []byte, mqttQueueSize),
		cancel: cancel,
	}
	m.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		m.publishThread(cancelCtx)
	}, m.activeBackgroundWorkers.Done)
	return m
}

// Publish implements Sink.
func (m *MQTT) Publish(values map[string]interface{}) {
	payload, err := json.Marshal(values)
	if err != nil {
		m.dropped.Add(1)
		m.logger.Debugw("dropping unencodable telemetry", "error", err)
		return
	}
	select {
	case m.queue <- payload:
	default:
		m.dropped.Add(1)
	}
}

// Dropped is the number of snapshots that were not queued.
func (m *MQTT) Dropped() uint64 {
	return m.dropped.Load()
}

// Close stops the worker and disconnects.
func (m *MQTT) Close() error {
	m.cancel()
	m.activeBackgroundWorkers.Wait()
	if m.disconnect != nil {
		m.disconnect()
	}
	return nil
}

func (m *MQTT) publishThread(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-m.queue:
			token := m.client.Publish(m.topic, 0, false, payload)
			if !token.WaitTimeout(mqttPublishTimeout) {
				m.logger.Debugw("MQTT publish timed out", "topic", m.topic)
				continue
			}
			if err := token.Error(); err != nil {
				m.logger.Debugw("MQTT publish error", "topic", m.topic, "error", err)
			}
		}
	}
}
