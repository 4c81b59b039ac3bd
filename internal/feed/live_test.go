package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

const positionFrame = `{"type":"onRecvTagPos","payload":[{"tagId":"TAG001","x":1,"y":2},{"tagId":"TAG002","x":3,"y":4}]}`

// streamingServer sends position frames until the client goes away.
func streamingServer(t *testing.T, logins chan<- Envelope) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if logins != nil {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			_ = json.Unmarshal(data, &env)
			logins <- env
		}

		// garbage and unknown frames are skipped by the client
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"onRecvHeartbeat"}`))

		for {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(positionFrame)); err != nil {
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLive_ReceivesAndDisconnects(t *testing.T) {
	srv := streamingServer(t, nil)
	live := NewLive(LiveConfig{URL: wsURL(srv)}, nil)
	rec := newRecorder(live)

	require.NoError(t, live.Connect(context.Background()))
	assert.Eventually(t, func() bool {
		positions, _, _, _, _ := rec.snapshot()
		return positions["TAG001"] > 0 && positions["TAG002"] > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusConnected, live.Status())

	require.NoError(t, live.Disconnect())
	_, connected, closed, errs, totalAfter := rec.snapshot()
	assert.Equal(t, 1, connected)
	assert.Equal(t, 1, closed)
	assert.Zero(t, errs)
	assert.Equal(t, StatusDisconnected, live.Status())

	// the server keeps writing for a while; nothing may reach handlers
	time.Sleep(30 * time.Millisecond)
	_, _, closed, _, total := rec.snapshot()
	assert.Equal(t, totalAfter, total)
	assert.Equal(t, 1, closed)

	require.NoError(t, live.Disconnect())
	_, _, closed, _, _ = rec.snapshot()
	assert.Equal(t, 1, closed)
}

func TestLive_SendsAccount(t *testing.T) {
	logins := make(chan Envelope, 1)
	srv := streamingServer(t, logins)
	live := NewLive(LiveConfig{URL: wsURL(srv), Username: "admin", Password: "pw"}, nil)

	require.NoError(t, live.Connect(context.Background()))
	defer live.Disconnect()

	select {
	case env := <-logins:
		assert.Equal(t, WireSetAccount, env.Type)
		assert.JSONEq(t, `{"username":"admin","password":"pw"}`, string(env.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("no login frame received")
	}
}

func TestLive_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	live := NewLive(LiveConfig{URL: url, HandshakeTimeout: time.Second}, nil)
	var order []EventName
	done := make(chan struct{})
	live.On(EventError, func(Event) { order = append(order, EventError) })
	live.On(EventClosed, func(Event) {
		order = append(order, EventClosed)
		close(done)
	})

	require.NoError(t, live.Connect(context.Background()))
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("closed never fired")
	}
	assert.Equal(t, []EventName{EventError, EventClosed}, order)
	assert.Equal(t, StatusError, live.Status())
	require.NoError(t, live.Disconnect())
}

func TestLive_ServerClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(positionFrame))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		// drain until the client answers the close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	live := NewLive(LiveConfig{URL: wsURL(srv)}, nil)
	reasons := make(chan string, 2)
	live.On(EventClosed, func(ev Event) { reasons <- ev.(ClosedEvent).Reason })
	rec := newRecorder(live)

	require.NoError(t, live.Connect(context.Background()))
	select {
	case reason := <-reasons:
		assert.Equal(t, "closed by server", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("closed never fired")
	}

	positions, connected, _, errs, _ := rec.snapshot()
	assert.Equal(t, 1, connected)
	assert.Equal(t, 1, positions["TAG001"])
	assert.Zero(t, errs)
	assert.Equal(t, StatusDisconnected, live.Status())

	require.NoError(t, live.Disconnect())
	assert.Len(t, reasons, 0)
}

func TestLive_NoEndpoint(t *testing.T) {
	live := NewLive(LiveConfig{}, nil)
	assert.ErrorIs(t, live.Connect(context.Background()), ErrNoEndpoint)
}
