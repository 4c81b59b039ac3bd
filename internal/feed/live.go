package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// LiveConfig configures the vendor WebSocket feed.
type LiveConfig struct {
	URL              string
	Username         string
	Password         string
	HandshakeTimeout time.Duration
	Header           http.Header
}

// Live consumes the vendor feed over a single WebSocket. It never
// reconnects on its own; a new Connect call opens a new socket.
type Live struct {
	base
	cfg    LiveConfig
	dialer *websocket.Dialer
}

// NewLive creates a live feed client.
func NewLive(cfg LiveConfig, logger *zap.Logger) *Live {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	l := &Live{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  16 * 1024,
		},
	}
	l.init(logger, "feed.live")
	return l
}

// Mode returns ModeLive.
func (l *Live) Mode() string { return ModeLive }

// Connect dials in the background. A failed dial is reported as an
// "error" event followed by "closed".
func (l *Live) Connect(ctx context.Context) error {
	if l.cfg.URL == "" {
		return ErrNoEndpoint
	}
	return l.start(ctx, l.run)
}

// Disconnect closes the socket and waits until the read loop has exited.
func (l *Live) Disconnect() error {
	l.stop()
	return nil
}

func (l *Live) fail(err error) {
	l.setStatus(StatusError)
	l.Emit(ErrorEvent{Err: err})
}

func (l *Live) run(ctx context.Context) {
	reason := "disconnected"
	defer func() { l.finish(reason) }()

	l.log.Info("connecting to feed", zap.String("url", l.cfg.URL))
	conn, _, err := l.dialer.DialContext(ctx, l.cfg.URL, l.cfg.Header)
	if err != nil {
		if ctx.Err() == nil {
			l.log.Warn("feed dial failed", zap.Error(err))
			l.fail(fmt.Errorf("dialing %s: %w", l.cfg.URL, err))
			reason = "dial failed"
		}
		return
	}
	defer conn.Close()

	// Unblocks ReadMessage when Disconnect cancels the context.
	stopWatch := context.AfterFunc(ctx, func() {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	})
	defer stopWatch()

	if l.cfg.Username != "" {
		msg, err := accountMessage(l.cfg.Username, l.cfg.Password)
		if err == nil {
			err = conn.WriteMessage(websocket.TextMessage, msg)
		}
		if err != nil {
			l.fail(fmt.Errorf("sending account: %w", err))
			reason = "login failed"
			return
		}
	}

	l.setStatus(StatusConnected)
	l.log.Info("feed connected", zap.String("url", l.cfg.URL))
	l.Emit(ConnectedEvent{At: time.Now()})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.log.Info("feed closed by server")
				reason = "closed by server"
				return
			}
			l.log.Warn("feed connection lost", zap.Error(err))
			l.fail(fmt.Errorf("reading feed: %w", err))
			reason = "connection lost"
			return
		}

		events, err := DecodeFrame(data, time.Now())
		if err != nil {
			l.log.Warn("dropping undecodable frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		for _, ev := range events {
			if ctx.Err() != nil {
				return
			}
			l.Emit(ev)
		}
	}
}
