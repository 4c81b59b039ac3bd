package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyConnected is returned by Connect on a running client.
	ErrAlreadyConnected = errors.New("feed: already connected")
	// ErrNoEndpoint is returned when a network client has nowhere to connect.
	ErrNoEndpoint = errors.New("feed: no endpoint configured")
)

// Status is the connection state shown on the dashboard.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Client is a source of tag events.
//
// Connect returns immediately; the outcome is reported through the
// "connected", "error" and "closed" events. Disconnect is idempotent and,
// once it returns, no handler of that connection runs again. Disconnect
// must not be called from inside a handler of the same client.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	On(name EventName, h Handler) *Subscription
	Off(sub *Subscription)
	ClearAll()
	Status() Status
	Mode() string
}

// Modes accepted by New.
const (
	ModeSimulated = "simulated"
	ModeLive      = "live"
	ModeMQTT      = "mqtt"
)

// Config selects and configures a client variant.
type Config struct {
	Mode      string
	Simulated SimulatedConfig
	Live      LiveConfig
	MQTT      MQTTConfig
}

// New creates the client selected by cfg.Mode.
func New(cfg Config, logger *zap.Logger) (Client, error) {
	switch cfg.Mode {
	case ModeSimulated, "":
		return NewSimulated(cfg.Simulated, logger), nil
	case ModeLive:
		if cfg.Live.URL == "" {
			return nil, ErrNoEndpoint
		}
		return NewLive(cfg.Live, logger), nil
	case ModeMQTT:
		if cfg.MQTT.Broker == "" {
			return nil, ErrNoEndpoint
		}
		return NewMQTT(cfg.MQTT, logger), nil
	default:
		return nil, fmt.Errorf("feed: unknown mode %q", cfg.Mode)
	}
}

// base carries the bus, status and lifecycle shared by the variants.
type base struct {
	*Bus
	log *zap.Logger

	statusMu sync.RWMutex
	status   Status

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (b *base) init(logger *zap.Logger, name string) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b.Bus = NewBus()
	b.log = logger.Named(name)
	b.status = StatusDisconnected
}

// Status returns the current connection state.
func (b *base) Status() Status {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	return b.status
}

func (b *base) setStatus(s Status) {
	b.statusMu.Lock()
	b.status = s
	b.statusMu.Unlock()
}

// start launches run on its own goroutine unless one is already running.
func (b *base) start(ctx context.Context, run func(ctx context.Context)) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.cancel != nil {
		return ErrAlreadyConnected
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.cancel = cancel
	b.done = done
	b.setStatus(StatusConnecting)

	go func() {
		defer close(done)
		defer b.release(done)
		run(runCtx)
	}()
	return nil
}

// release forgets a finished run so Connect can be called again.
func (b *base) release(done chan struct{}) {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.done == done {
		b.cancel()
		b.cancel = nil
		b.done = nil
	}
}

// stop cancels the running goroutine and waits for it to exit.
func (b *base) stop() {
	b.runMu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel = nil
	b.done = nil
	b.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// finish emits the single closed event of a connection.
func (b *base) finish(reason string) {
	if b.Status() != StatusError {
		b.setStatus(StatusDisconnected)
	}
	b.Emit(ClosedEvent{At: time.Now(), Reason: reason})
}
