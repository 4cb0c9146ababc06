package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"SignalGate/internal/domain/models"
	drepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/services/features"
	applogger "SignalGate/pkg/logger"

	"github.com/gorilla/websocket"
)

var errNotConnected = errors.New("stream not connected")

type Config struct {
	URL            string
	Token          string
	Symbols        []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	BufferSize     int
}

// Client is a SnapshotStream over a trade websocket. Trades are folded
// into bars by the indicator engine; a snapshot is emitted per closed bar.
type Client struct {
	cfg    Config
	engine *features.Engine
	dialer *websocket.Dialer
	l      *applogger.Logger

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
}

var _ drepo.SnapshotStream = (*Client)(nil)

func New(cfg Config, engine *features.Engine, l *applogger.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	return &Client{cfg: cfg, engine: engine, dialer: websocket.DefaultDialer, l: l}
}

func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("stream url: %w", err)
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}
	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.l.Info("stream connected", applogger.String("host", u.Host))
	return nil
}

func (c *Client) Subscribe(_ context.Context) error {
	for _, s := range c.cfg.Symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s}
		if err := c.writeJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	c.l.Info("stream subscribed", applogger.Strings("symbols", c.cfg.Symbols))
	return nil
}

type tradeFrame struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type frame struct {
	Type string       `json:"type"`
	Data []tradeFrame `json:"data"`
}

// Read streams snapshots until ctx ends or the connection fails. Both
// channels are closed when the read loop exits.
func (c *Client) Read(ctx context.Context) (<-chan *models.IndicatorSnapshot, <-chan error) {
	out := make(chan *models.IndicatorSnapshot, c.cfg.BufferSize)
	errs := make(chan error, 1)

	conn := c.current()
	if conn == nil {
		errs <- errNotConnected
		close(out)
		close(errs)
		return out, errs
	}

	rctx, cancel := context.WithCancel(ctx)
	go c.pingLoop(rctx)

	// unblock ReadMessage on cancellation
	go func() {
		<-rctx.Done()
		if ctx.Err() != nil {
			_ = conn.Close()
		}
	}()

	go func() {
		defer cancel()
		defer close(out)
		defer close(errs)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("stream read: %w", err)
				}
				return
			}
			var m frame
			if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
				continue
			}
			for _, t := range m.Data {
				symbol := strings.ToUpper(t.S)
				snap, closed := c.engine.OnTrade(symbol, t.P, t.V, time.UnixMilli(t.T).UTC())
				if !closed {
					continue
				}
				select {
				case out <- snap:
				default:
					c.l.Warn("snapshot dropped on backpressure", applogger.String("symbol", symbol))
				}
			}
		}
	}()

	return out, errs
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.l.Debug("stream ping failed", applogger.Error(err))
			}
		}
	}
}

// Reconnect closes the connection, waits ReconnectDelay, then dials and
// resubscribes.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-time.After(c.cfg.ReconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) writeJSON(v interface{}) error {
	conn := c.current()
	if conn == nil {
		return errNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) write(kind int, data []byte) error {
	conn := c.current()
	if conn == nil {
		return errNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(kind, data)
}
