package events

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/emstrack/mqttgate/pkg/observability"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds paho waits for in-flight messages
)

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	URL      string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// MQTTPublisher publishes payloads over an MQTT connection. It reconnects
// automatically; publishes during an outage fail and are reported to the
// caller.
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
}

// NewMQTTPublisher connects to the broker and returns a publisher.
func NewMQTTPublisher(opts MQTTOptions, log *observability.Logger) (*MQTTPublisher, error) {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.URL)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetUsername(opts.Username)
	clientOpts.SetPassword(opts.Password)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetCleanSession(true)
	clientOpts.SetConnectTimeout(connectTimeout)
	clientOpts.SetMaxReconnectInterval(time.Minute)
	clientOpts.SetKeepAlive(10 * time.Second)
	clientOpts.SetOnConnectHandler(func(mqtt.Client) {
		log.WithField("broker", opts.URL).Info("connected to broker")
	})
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).WithField("broker", opts.URL).Warn("broker connection lost")
	})

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("timed out connecting to broker %s", opts.URL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to broker %s: %w", opts.URL, err)
	}

	return &MQTTPublisher{client: client, qos: opts.QoS}, nil
}

// Publish implements Publisher.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	token := p.client.Publish(topic, p.qos, retained, payload)

	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(disconnectQuiesce)
}

// NopPublisher drops every payload. It stands in when no broker is
// configured so the dispatcher can run unconditionally.
type NopPublisher struct {
	log *observability.Logger
}

// NewNopPublisher returns a publisher that logs and drops.
func NewNopPublisher(log *observability.Logger) *NopPublisher {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &NopPublisher{log: log}
}

// Publish implements Publisher.
func (p *NopPublisher) Publish(_ context.Context, topic string, _ []byte, _ bool) error {
	p.log.WithField("topic", topic).Debug("no broker configured, dropping publish")
	return nil
}

// Close implements Publisher.
func (p *NopPublisher) Close() {}
