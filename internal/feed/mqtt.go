package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig configures the MQTT variant of the feed. Messages carry the
// same JSON envelope as the WebSocket feed.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// MQTT consumes vendor envelopes published on a broker topic.
type MQTT struct {
	base
	cfg       MQTTConfig
	newClient func(*mqtt.ClientOptions) mqtt.Client

	gate deliveryGate
}

// deliveryGate stops paho callbacks from reaching handlers once a
// connection is being torn down.
type deliveryGate struct {
	mu   sync.RWMutex
	open bool
}

func (g *deliveryGate) enter() bool {
	g.mu.RLock()
	if !g.open {
		g.mu.RUnlock()
		return false
	}
	return true
}

func (g *deliveryGate) leave() { g.mu.RUnlock() }

func (g *deliveryGate) set(open bool) {
	g.mu.Lock()
	g.open = open
	g.mu.Unlock()
}

// NewMQTT creates an MQTT feed client.
func NewMQTT(cfg MQTTConfig, logger *zap.Logger) *MQTT {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("site-tracker-%d", time.Now().UnixNano())
	}
	if cfg.Topic == "" {
		cfg.Topic = "rtls/#"
	}
	m := &MQTT{cfg: cfg, newClient: mqtt.NewClient}
	m.init(logger, "feed.mqtt")
	return m
}

// Mode returns ModeMQTT.
func (m *MQTT) Mode() string { return ModeMQTT }

// Connect connects and subscribes in the background.
func (m *MQTT) Connect(ctx context.Context) error {
	if m.cfg.Broker == "" {
		return ErrNoEndpoint
	}
	return m.start(ctx, m.run)
}

// Disconnect unsubscribes, closes the broker session and waits for "closed".
func (m *MQTT) Disconnect() error {
	m.stop()
	return nil
}

func (m *MQTT) run(ctx context.Context) {
	reason := "disconnected"
	defer func() { m.finish(reason) }()

	lost := make(chan error, 1)
	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			select {
			case lost <- err:
			default:
			}
		})
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
	}
	if m.cfg.Password != "" {
		opts.SetPassword(m.cfg.Password)
	}

	client := m.newClient(opts)
	m.log.Info("connecting to broker", zap.String("broker", m.cfg.Broker))

	token := client.Connect()
	select {
	case <-ctx.Done():
		client.Disconnect(0)
		return
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		m.log.Warn("broker connect failed", zap.Error(err))
		m.fail(fmt.Errorf("connecting to %s: %w", m.cfg.Broker, err))
		reason = "connect failed"
		return
	}

	m.gate.set(true)
	defer func() {
		m.gate.set(false)
		client.Unsubscribe(m.cfg.Topic).WaitTimeout(time.Second)
		client.Disconnect(250)
	}()

	sub := client.Subscribe(m.cfg.Topic, m.cfg.QoS, m.handleMessage)
	select {
	case <-ctx.Done():
		return
	case <-sub.Done():
	}
	if err := sub.Error(); err != nil {
		m.fail(fmt.Errorf("subscribing to %s: %w", m.cfg.Topic, err))
		reason = "subscribe failed"
		return
	}

	m.setStatus(StatusConnected)
	m.log.Info("subscribed to feed topic", zap.String("topic", m.cfg.Topic))
	m.Emit(ConnectedEvent{At: time.Now()})

	select {
	case <-ctx.Done():
	case err := <-lost:
		m.log.Warn("broker connection lost", zap.Error(err))
		m.gate.set(false)
		m.fail(fmt.Errorf("broker connection lost: %w", err))
		reason = "connection lost"
	}
}

func (m *MQTT) fail(err error) {
	m.setStatus(StatusError)
	m.Emit(ErrorEvent{Err: err})
}

// handleMessage runs on paho's delivery goroutine.
func (m *MQTT) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	if !m.gate.enter() {
		return
	}
	defer m.gate.leave()

	events, err := DecodeFrame(msg.Payload(), time.Now())
	if err != nil {
		m.log.Warn("dropping undecodable message",
			zap.String("topic", msg.Topic()),
			zap.Error(err))
		return
	}
	for _, ev := range events {
		m.Emit(ev)
	}
}
