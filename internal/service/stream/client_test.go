package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SignalGate/internal/services/features"
	applogger "SignalGate/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedServer(t *testing.T, subs chan<- string, frames []string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subs <- sub["symbol"]
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// hold the connection until the client closes it
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestClient_EmitsSnapshotPerClosedBar(t *testing.T) {
	subs := make(chan string, 1)
	frames := []string{
		`{"type":"ping"}`,
		`not json`,
		`{"type":"trade","data":[{"s":"btcusdt","p":100,"v":1,"t":1741944600000}]}`,
		`{"type":"trade","data":[{"s":"btcusdt","p":101,"v":1,"t":1741944630000}]}`,
		`{"type":"trade","data":[{"s":"btcusdt","p":99,"v":1,"t":1741944660000}]}`,
	}
	srv := feedServer(t, subs, frames)
	defer srv.Close()

	c := New(Config{
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token:   "secret",
		Symbols: []string{"BTCUSDT"},
	}, features.NewEngine(features.Config{Interval: time.Minute}), applogger.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())
	require.NoError(t, c.Subscribe(ctx))
	assert.Equal(t, "BTCUSDT", <-subs)

	snaps, _ := c.Read(ctx)
	select {
	case snap := <-snaps:
		require.NotNil(t, snap)
		assert.Equal(t, "BTCUSDT", snap.Symbol)
		assert.Equal(t, 101.0, snap.Indicators["close"])
		assert.Equal(t, time.UnixMilli(1741944660000).UTC(), snap.Timestamp)
	case <-ctx.Done():
		t.Fatal("no snapshot received")
	}

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
}

func TestClient_ConnectRejected(t *testing.T) {
	srv := feedServer(t, make(chan string, 1), nil)
	defer srv.Close()

	c := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Token: "wrong"},
		features.NewEngine(features.Config{}), applogger.Nop())
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, c.IsConnected())
}

func TestClient_ReadWithoutConnection(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1", Symbols: []string{"ETHUSDT"}}, features.NewEngine(features.Config{}), applogger.Nop())
	snaps, errs := c.Read(context.Background())
	assert.ErrorIs(t, <-errs, errNotConnected)
	_, ok := <-snaps
	assert.False(t, ok)
	assert.ErrorIs(t, c.Subscribe(context.Background()), errNotConnected)
}
