package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	// BufferSize is the number of messages held while disconnected.
	BufferSize int
	Logger     *zap.SugaredLogger
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are held in an outbox and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	prefix string
	logger *zap.SugaredLogger

	mu     sync.Mutex
	outbox *outbox
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.ClientID == "" {
		o.ClientID = "button-monitor"
	}
	if o.TopicPrefix == "" {
		o.TopicPrefix = DefaultTopicPrefix
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 100
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	logger := o.Logger.Named("mqtt")

	p := &RealPublisher{
		prefix: o.TopicPrefix,
		logger: logger,
		outbox: newOutbox(o.BufferSize, logger),
	}

	will, err := FormatSystemPayload(SystemEvent{Event: "OFFLINE", Reason: "connection lost"})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(SystemTopic(o.TopicPrefix), will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warnw("connection lost", "error", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// onConnect replays anything buffered while disconnected.
func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	msgs := p.outbox.flush()
	p.mu.Unlock()

	p.logger.Infow("connected", "replaying", len(msgs))
	for _, m := range msgs {
		if err := p.send(m); err != nil {
			p.logger.Warnw("replay failed", "topic", m.topic, "error", err)
		}
	}
}

func (p *RealPublisher) send(m pendingMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// publish sends m now, or holds it in the outbox while disconnected.
func (p *RealPublisher) publish(m pendingMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.outbox.add(m)
		p.mu.Unlock()
		return nil
	}
	return p.send(m)
}

// Publish sends a button event to the MQTT broker.
func (p *RealPublisher) Publish(event ButtonEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.publish(pendingMsg{topic: EventTopic(p.prefix, event.Button), payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(pendingMsg{topic: SystemTopic(p.prefix), payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the client currently has an open connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
