package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"message-sync/internal/observability"
)

const (
	defaultPongWait = 60 * time.Second
	writeWait       = 10 * time.Second
)

// WSOptions configures a WSClient.
type WSOptions struct {
	URL    string
	Token  string
	Header http.Header
	Dialer *websocket.Dialer
	Logger *slog.Logger

	// PongWait bounds the silence tolerated from the server; pings go out
	// at nine tenths of it.
	PongWait time.Duration

	// Backoff schedules reconnects. Nil means exponential from 500ms up to 30s.
	Backoff backoff.BackOff
}

type subscribeFrame struct {
	Subscribe string `json:"subscribe"`
}

// frame is one inbound publication. The frame itself is a valid Envelope.
type frame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// WSClient reads room publications from the realtime websocket endpoint.
type WSClient struct {
	opts WSOptions
	hub  *Hub
	log  *slog.Logger

	mu      sync.Mutex
	watched map[string]struct{}
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWSClient constructs a WSClient dispatching into hub.
func NewWSClient(hub *Hub, opts WSOptions) *WSClient {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.Backoff == nil {
		opts.Backoff = newReconnectPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{opts: opts, hub: hub, log: logger, watched: make(map[string]struct{})}
}

// Watch subscribes to roomID now if connected and after every reconnect.
func (c *WSClient) Watch(roomID string) {
	c.mu.Lock()
	if _, ok := c.watched[roomID]; ok {
		c.mu.Unlock()
		return
	}
	c.watched[roomID] = struct{}{}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.subscribe(conn, roomID); err != nil {
			c.log.Warn("push subscribe failed", "room_id", roomID, "err", err)
		}
	}
}

// Run keeps a connection open until ctx ends, reconnecting with capped
// exponential backoff.
func (c *WSClient) Run(ctx context.Context) error {
	policy := backoff.WithContext(c.opts.Backoff, ctx)
	policy.Reset()
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			policy.Reset()
		}
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return nil
		}
		c.log.WarnContext(ctx, "push connection lost", "source", "ws", "err", err, "retry_in", wait.String())
		if !sleep(ctx.Done(), wait) {
			return nil
		}
	}
}

func (c *WSClient) session(ctx context.Context) (bool, error) {
	conn, info, err := c.dial(ctx)
	if err != nil {
		return false, err
	}
	c.log.InfoContext(ctx, "push connected", "source", info.Source, "conn_id", info.ConnID, "endpoint", info.Endpoint)
	observability.SetPushConnected(info.Source, true)

	pongWait := c.opts.PongWait
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.mu.Lock()
	c.conn = conn
	rooms := make([]string, 0, len(c.watched))
	for roomID := range c.watched {
		rooms = append(rooms, roomID)
	}
	c.mu.Unlock()
	sort.Strings(rooms)

	done := make(chan struct{})
	defer func() {
		close(done)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		observability.SetPushConnected(info.Source, false)
		c.log.Info("push disconnected", "source", info.Source, "conn_id", info.ConnID, "duration_ms", time.Since(info.ConnectedAt).Milliseconds())
	}()

	for _, roomID := range rooms {
		if err := c.subscribe(conn, roomID); err != nil {
			return true, fmt.Errorf("subscribe %s: %w", roomID, err)
		}
	}

	go c.keepAlive(ctx, conn, done, pongWait*9/10)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil || f.Channel == "" {
			observability.IncPushEvent("unknown", "undecodable")
			c.log.WarnContext(ctx, "dropping push frame", "conn_id", info.ConnID, "err", err)
			continue
		}
		c.hub.Dispatch(ctx, f.Channel, data)
	}
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, ConnInfo, error) {
	ctx, span := otel.Tracer("message-sync/push").Start(ctx, "ws.handshake")
	defer span.End()
	span.SetAttributes(attribute.String("push.endpoint", c.opts.URL))

	header := http.Header{}
	for key, values := range c.opts.Header {
		header[key] = append([]string(nil), values...)
	}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		span.RecordError(err)
		if resp != nil {
			return nil, ConnInfo{}, fmt.Errorf("dial %s: status %d: %w", c.opts.URL, resp.StatusCode, err)
		}
		return nil, ConnInfo{}, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	return conn, ConnInfo{
		ConnID:      newConnID(),
		Source:      "ws",
		Endpoint:    c.opts.URL,
		ConnectedAt: time.Now(),
	}, nil
}

// keepAlive pings until the session ends and closes the connection when
// ctx is cancelled so the blocked read returns.
func (c *WSClient) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *WSClient) subscribe(conn *websocket.Conn, roomID string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(subscribeFrame{Subscribe: roomID})
}
