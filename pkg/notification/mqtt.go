package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"vpool/internal/model"
	"vpool/pkg/config"
	"vpool/pkg/logger"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

// publisher the part of mqtt.Client the subscriber uses
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSubscriber publishes worker events to <topic prefix>/<worker id>
type MQTTSubscriber struct {
	client      publisher
	topicPrefix string
	qos         byte
	disconnect  func()
}

// NewMQTTSubscriber connects to the broker
func NewMQTTSubscriber(cfg config.MQTTConfig) (*MQTTSubscriber, error) {
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", zap.String("broker", cfg.Broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", zap.String("broker", cfg.Broker), zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	s := newMQTTSubscriber(client, cfg.TopicPrefix, cfg.QoS)
	s.disconnect = func() {
		if client.IsConnected() {
			client.Disconnect(250)
		}
	}
	return s, nil
}

func newMQTTSubscriber(client publisher, topicPrefix string, qos byte) *MQTTSubscriber {
	return &MQTTSubscriber{
		client:      client,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		qos:         qos,
	}
}

// Name implements interfaces.Subscriber
func (s *MQTTSubscriber) Name() string {
	return "mqtt"
}

// Topic returns the topic a worker's events go to
func (s *MQTTSubscriber) Topic(workerID string) string {
	return s.topicPrefix + "/" + workerID
}

// Deliver publishes the event and waits for the broker acknowledgement
func (s *MQTTSubscriber) Deliver(ctx context.Context, event *model.WorkerEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal worker event: %w", err)
	}

	wait := mqttPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}

	topic := s.Topic(event.WorkerID)
	token := s.client.Publish(topic, s.qos, false, payload)
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("mqtt publish timeout, topic: %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish failed: %w", err)
	}
	return nil
}

// Close disconnects from the broker
func (s *MQTTSubscriber) Close() {
	if s.disconnect != nil {
		s.disconnect()
	}
}
