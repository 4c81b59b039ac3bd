package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeBroker records the subscription so tests can publish into it.
type fakeBroker struct {
	mu         sync.Mutex
	connectErr error
	opts       *mqtt.ClientOptions
	handler    mqtt.MessageHandler
	topic      string
	unsubbed   bool
	disconnect int
}

func (b *fakeBroker) newClient(opts *mqtt.ClientOptions) mqtt.Client {
	b.mu.Lock()
	b.opts = opts
	b.mu.Unlock()
	return &fakeClient{b: b}
}

func (b *fakeBroker) publish(payload string) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		h(nil, fakeMessage{topic: b.topic, payload: []byte(payload)})
	}
}

func (b *fakeBroker) subscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handler != nil
}

type fakeClient struct{ b *fakeBroker }

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() mqtt.Token    { return doneToken(c.b.connectErr) }
func (c *fakeClient) Disconnect(uint) {
	c.b.mu.Lock()
	c.b.disconnect++
	c.b.mu.Unlock()
}
func (c *fakeClient) Publish(string, byte, bool, interface{}) mqtt.Token { return doneToken(nil) }
func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.b.mu.Lock()
	c.b.topic = topic
	c.b.handler = cb
	c.b.mu.Unlock()
	return doneToken(nil)
}
func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return doneToken(nil)
}
func (c *fakeClient) Unsubscribe(...string) mqtt.Token {
	c.b.mu.Lock()
	c.b.unsubbed = true
	c.b.mu.Unlock()
	return doneToken(nil)
}
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)  {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func newTestMQTT(b *fakeBroker) *MQTT {
	m := NewMQTT(MQTTConfig{Broker: "tcp://broker:1883"}, nil)
	m.newClient = b.newClient
	return m
}

func TestMQTT_DeliversAndDisconnects(t *testing.T) {
	broker := &fakeBroker{}
	m := newTestMQTT(broker)
	rec := newRecorder(m)

	require.NoError(t, m.Connect(context.Background()))
	assert.Eventually(t, func() bool { return m.Status() == StatusConnected }, time.Second, time.Millisecond)
	require.True(t, broker.subscribed())
	assert.Equal(t, "rtls/#", broker.topic)
	assert.False(t, broker.opts.AutoReconnect)

	broker.publish(positionFrame)
	broker.publish("garbage")
	positions, connected, _, _, _ := rec.snapshot()
	assert.Equal(t, 1, positions["TAG001"])
	assert.Equal(t, 1, connected)

	require.NoError(t, m.Disconnect())
	assert.True(t, broker.unsubbed)
	assert.Equal(t, 1, broker.disconnect)

	// a late paho delivery after teardown is swallowed
	broker.publish(positionFrame)
	positions, _, closed, _, _ := rec.snapshot()
	assert.Equal(t, 1, positions["TAG001"])
	assert.Equal(t, 1, closed)

	require.NoError(t, m.Disconnect())
	_, _, closed, _, _ = rec.snapshot()
	assert.Equal(t, 1, closed)
}

func TestMQTT_ConnectFailure(t *testing.T) {
	broker := &fakeBroker{connectErr: errors.New("not authorized")}
	m := newTestMQTT(broker)

	var order []EventName
	done := make(chan struct{})
	m.On(EventError, func(Event) { order = append(order, EventError) })
	m.On(EventClosed, func(Event) { order = append(order, EventClosed); close(done) })

	require.NoError(t, m.Connect(context.Background()))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("closed never fired")
	}
	assert.Equal(t, []EventName{EventError, EventClosed}, order)
	assert.Equal(t, StatusError, m.Status())
	assert.False(t, broker.subscribed())
}

func TestMQTT_ConnectionLost(t *testing.T) {
	broker := &fakeBroker{}
	m := newTestMQTT(broker)
	rec := newRecorder(m)

	require.NoError(t, m.Connect(context.Background()))
	assert.Eventually(t, func() bool { return m.Status() == StatusConnected }, time.Second, time.Millisecond)

	broker.opts.OnConnectionLost(nil, errors.New("eof"))
	assert.Eventually(t, func() bool {
		_, _, closed, _, _ := rec.snapshot()
		return closed == 1
	}, time.Second, time.Millisecond)

	_, _, _, errs, _ := rec.snapshot()
	assert.Equal(t, 1, errs)
	assert.Equal(t, StatusError, m.Status())
	require.NoError(t, m.Disconnect())
}

func TestMQTT_HandleMessageGateClosed(t *testing.T) {
	m := NewMQTT(MQTTConfig{Broker: "tcp://broker:1883"}, nil)
	count := 0
	m.On(EventTagPosition, func(Event) { count++ })

	m.handleMessage(nil, fakeMessage{payload: []byte(positionFrame)})
	assert.Zero(t, count)

	m.gate.set(true)
	m.handleMessage(nil, fakeMessage{payload: []byte(positionFrame)})
	assert.Equal(t, 2, count)
}
