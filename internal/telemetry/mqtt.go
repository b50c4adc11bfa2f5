package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	domain "github.com/edirooss/groundstation/internal/domain/telemetry"
	"go.uber.org/zap"
)

var errMQTTNotConnected = errors.New("mqtt not connected")

// MQTTOptions configure the relay.
type MQTTOptions struct {
	Broker      string // e.g. tcp://127.0.0.1:1883
	ClientID    string
	TopicPrefix string // events go to <prefix>/<category>
}

// MQTTRelay republishes telemetry events to a broker, one topic per category.
type MQTTRelay struct {
	log    *zap.Logger
	opts   MQTTOptions
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published map[string]uint64 // per topic
	errors    uint64
}

func NewMQTTRelay(log *zap.Logger, opts MQTTOptions) *MQTTRelay {
	opts.TopicPrefix = strings.TrimRight(opts.TopicPrefix, "/")
	return &MQTTRelay{
		log:       log.Named("mqtt_relay"),
		opts:      opts,
		published: make(map[string]uint64),
	}
}

// Connect dials the broker. The client reconnects on its own afterwards.
func (r *MQTTRelay) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(r.opts.Broker)
	opts.SetClientID(r.opts.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		r.setConnected(true)
		r.log.Info("connection established", zap.String("broker", r.opts.Broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		r.setConnected(false)
		r.log.Warn("connection lost; reconnecting", zap.String("broker", r.opts.Broker), zap.Error(err))
	}

	r.client = mqtt.NewClient(opts)
	token := r.client.Connect()

	timeout := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connect to %s: timeout", r.opts.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", r.opts.Broker, err)
	}
	r.setConnected(true)
	return nil
}

func (r *MQTTRelay) setConnected(v bool) {
	r.mu.Lock()
	r.connected = v
	r.mu.Unlock()
}

// Topic returns the topic an event of category is published on.
func (r *MQTTRelay) Topic(category string) string {
	if r.opts.TopicPrefix == "" {
		return category
	}
	return r.opts.TopicPrefix + "/" + category
}

// Write implements Writer. Events are published at QoS 0; the first failure
// aborts the batch.
func (r *MQTTRelay) Write(ctx context.Context, events []domain.Event) error {
	r.mu.RLock()
	connected := r.connected && r.client != nil
	r.mu.RUnlock()
	if !connected {
		r.countError()
		return errMQTTNotConnected
	}

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			r.countError()
			return fmt.Errorf("marshal event: %w", err)
		}
		topic := r.Topic(ev.Category)

		token := r.client.Publish(topic, 0, false, payload)
		select {
		case <-token.Done():
		case <-ctx.Done():
			r.countError()
			return fmt.Errorf("publish %s: %w", topic, ctx.Err())
		}
		if err := token.Error(); err != nil {
			r.countError()
			return fmt.Errorf("publish %s: %w", topic, err)
		}

		r.mu.Lock()
		r.published[topic]++
		r.mu.Unlock()
	}
	return nil
}

func (r *MQTTRelay) countError() {
	r.mu.Lock()
	r.errors++
	r.mu.Unlock()
}

// Close disconnects with a short grace period.
func (r *MQTTRelay) Close() {
	if r.client != nil && r.client.IsConnected() {
		r.client.Disconnect(250)
		r.log.Info("disconnected")
	}
	r.setConnected(false)
}

// MQTTStats are relay counters.
type MQTTStats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

func (r *MQTTRelay) Stats() MQTTStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	published := make(map[string]uint64, len(r.published))
	for k, v := range r.published {
		published[k] = v
	}
	return MQTTStats{Connected: r.connected, Published: published, Errors: r.errors}
}
