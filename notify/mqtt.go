// Package notify announces stored frames on an MQTT broker.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"roverscope.com/camserver/frame"
)

var ErrNotConnected = errors.New("mqtt not connected")

type Options struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	// ConnectTimeout is how long Connect waits for the first connection
	// before leaving the client to keep retrying in the background.
	ConnectTimeout time.Duration
}

// Stats counts emitter activity.
type Stats struct {
	Published uint64
	Errors    uint64
	Connected bool
}

// MQTTEmitter publishes one JSON message per stored frame.
type MQTTEmitter struct {
	opts   Options
	Client mqtt.Client

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

func NewMQTTEmitter(opts Options) *MQTTEmitter {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	return &MQTTEmitter{opts: opts}
}

// brokerURL accepts host:port or a full scheme://host:port.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect starts connecting to the broker. If the broker does not answer
// within ConnectTimeout the client keeps retrying in the background and
// frames are reported as not connected until it succeeds.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.opts.Broker))
	opts.SetClientID(e.opts.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		log.WithField("broker", e.opts.Broker).Info("MQTT connection established")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		log.WithError(err).WithField("broker", e.opts.Broker).Warn("MQTT connection lost, will auto-reconnect")
	}

	e.Client = mqtt.NewClient(opts)
	log.WithField("broker", e.opts.Broker).Info("Connecting to MQTT broker")

	err := awaitConnect(ctx, e.Client.Connect(), e.opts.ConnectTimeout)
	if errors.Is(err, errConnectPending) {
		log.WithField("broker", e.opts.Broker).Warn("MQTT broker not reachable yet, retrying in background")
		return nil
	}
	if err != nil {
		return err
	}
	e.setConnected(true)
	return nil
}

var errConnectPending = errors.New("mqtt connection pending")

func awaitConnect(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return errConnectPending
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// FrameStored publishes rec on the configured topic.
func (e *MQTTEmitter) FrameStored(ctx context.Context, rec frame.Record) error {
	e.mu.RLock()
	connected := e.connected && e.Client != nil
	e.mu.RUnlock()
	if !connected {
		e.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	token := e.Client.Publish(e.opts.Topic, e.opts.QoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		e.countError()
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()
	log.WithFields(log.Fields{"topic": e.opts.Topic, "image": rec.Name}).Debug("Frame announced")
	return nil
}

func (e *MQTTEmitter) Disconnect() {
	// also stops a connect that is still retrying
	if e.Client != nil {
		e.Client.Disconnect(250)
	}
	e.setConnected(false)
}

func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Published: e.published, Errors: e.errors, Connected: e.connected}
}
