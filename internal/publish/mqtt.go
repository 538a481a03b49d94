package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	defaultTopicPrefix = "straightup"
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttQuiesceMillis  = 250
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("publish timed out")

// MQTTPublisher publishes JSON messages on <prefix>/<kind>.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	qos    byte
	logger *logrus.Logger
}

// NewMQTTPublisher connects to the broker at cfg.URL.
func NewMQTTPublisher(cfg Config, logger *logrus.Logger) (*MQTTPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("mqtt publisher requires a broker url")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(clientName(cfg))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.WithField("broker", cfg.URL).Info("MQTT client connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect to MQTT %s: %w", cfg.URL, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to MQTT %s: %w", cfg.URL, err)
	}
	return newMQTTPublisher(client, cfg.Prefix, cfg.QoS, logger), nil
}

func newMQTTPublisher(client mqtt.Client, prefix string, qos byte, logger *logrus.Logger) *MQTTPublisher {
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return &MQTTPublisher{client: client, prefix: prefix, qos: min(qos, 2), logger: logger}
}

// Topic returns the topic a message of kind is published on.
func (p *MQTTPublisher) Topic(kind string) string {
	return p.prefix + "/" + kind
}

func (p *MQTTPublisher) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	topic := p.Topic(msg.Kind)
	token := p.client.Publish(topic, p.qos, false, data)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish to %s: %w", topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.WithField("topic", topic).Debug("Published to MQTT")
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(mqttQuiesceMillis)
	return nil
}
