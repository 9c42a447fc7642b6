package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Registry change events. The catalog subscribes to these to drop its
// snapshot when areas or entities are renamed, added or moved.
const (
	EventAreaRegistryUpdated   = "area_registry_updated"
	EventEntityRegistryUpdated = "entity_registry_updated"
)

// ErrNotConnected is returned by requests made before Connect succeeds.
var ErrNotConnected = errors.New("websocket not connected")

// WSClient manages a WebSocket connection to Home Assistant. It is used
// for registry reads and for registry change notifications.
type WSClient struct {
	baseURL string
	token   string
	timeout time.Duration

	conn   *websocket.Conn
	connMu sync.Mutex
	msgID  atomic.Int64

	pending   map[int64]chan wsResponse
	pendingMu sync.Mutex

	events chan Event

	subscriptions   []string
	subscriptionsMu sync.Mutex

	logger *slog.Logger
}

// Event represents a Home Assistant event received via WebSocket.
type Event struct {
	Type      string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

type wsMessage struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *Event          `json:"event,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsResponse struct {
	Success bool
	Result  json.RawMessage
	Error   *wsError
}

// NewWSClient creates a new WebSocket client for Home Assistant.
func NewWSClient(baseURL, token string, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		baseURL: baseURL,
		token:   token,
		timeout: 30 * time.Second,
		pending: make(map[int64]chan wsResponse),
		events:  make(chan Event, 32),
		logger:  logger,
	}
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/api/websocket"
	return u.String(), nil
}

// Connect dials, authenticates with the long-lived token, starts the
// read loop and restores earlier subscriptions.
func (c *WSClient) Connect(ctx context.Context) error {
	target, err := websocketURL(c.baseURL)
	if err != nil {
		return err
	}

	c.logger.Info("connecting to Home Assistant WebSocket", "url", target)

	// Entity registries on large installs run to megabytes.
	dialer := websocket.Dialer{
		ReadBufferSize:  1024 * 1024,
		WriteBufferSize: 64 * 1024,
	}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	conn.SetReadLimit(100 * 1024 * 1024)

	if err := authenticate(conn, c.token); err != nil {
		conn.Close()
		return err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.logger.Info("WebSocket authenticated")

	go c.readLoop(conn)
	c.restoreSubscriptions(ctx)
	return nil
}

func authenticate(conn *websocket.Conn, token string) error {
	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", hello.Type)
	}

	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	var reply wsMessage
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}
	switch reply.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return errors.New("authentication failed")
	default:
		return fmt.Errorf("unexpected auth response: %s", reply.Type)
	}
}

// Connected reports whether a socket is currently open.
func (c *WSClient) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Reconnect drops the current socket, if any, and connects again.
func (c *WSClient) Reconnect(ctx context.Context) error {
	c.logger.Info("reconnecting WebSocket")
	_ = c.Close()
	return c.Connect(ctx)
}

// Events returns the channel of subscribed events. Events are dropped
// when the consumer falls behind.
func (c *WSClient) Events() <-chan Event {
	return c.events
}

// Subscribe subscribes to a Home Assistant event type. The subscription
// is remembered even when the call fails and is replayed after each
// Reconnect.
func (c *WSClient) Subscribe(ctx context.Context, eventType string) error {
	c.subscriptionsMu.Lock()
	if !slices.Contains(c.subscriptions, eventType) {
		c.subscriptions = append(c.subscriptions, eventType)
	}
	c.subscriptionsMu.Unlock()

	return c.subscribe(ctx, eventType)
}

func (c *WSClient) subscribe(ctx context.Context, eventType string) error {
	if err := c.call(ctx, "subscribe_events", map[string]any{"event_type": eventType}, nil); err != nil {
		return fmt.Errorf("subscribe to %s: %w", eventType, err)
	}
	c.logger.Debug("subscribed to events", "event_type", eventType)
	return nil
}

// GetAreaRegistry retrieves the area registry.
func (c *WSClient) GetAreaRegistry(ctx context.Context) ([]Area, error) {
	var areas []Area
	if err := c.call(ctx, "config/area_registry/list", nil, &areas); err != nil {
		return nil, fmt.Errorf("get area registry: %w", err)
	}
	return areas, nil
}

// GetEntityRegistryWS retrieves the entity registry.
func (c *WSClient) GetEntityRegistryWS(ctx context.Context) ([]EntityRegistryEntry, error) {
	var entries []EntityRegistryEntry
	if err := c.call(ctx, "config/entity_registry/list", nil, &entries); err != nil {
		return nil, fmt.Errorf("get entity registry: %w", err)
	}
	return entries, nil
}

// call sends one command and decodes its result into out when non-nil.
func (c *WSClient) call(ctx context.Context, msgType string, fields map[string]any, out any) error {
	id := c.msgID.Add(1)
	msg := map[string]any{"id": id, "type": msgType}
	for k, v := range fields {
		msg[k] = v
	}

	result, err := c.sendAndWait(ctx, id, msg)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("unmarshal %s result: %w", msgType, err)
	}
	return nil
}

func (c *WSClient) sendAndWait(ctx context.Context, id int64, msg any) (json.RawMessage, error) {
	respCh := make(chan wsResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		return nil, ErrNotConnected
	}
	err := c.conn.WriteJSON(msg)
	c.connMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if !resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, errors.New("request failed")
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errors.New("timeout waiting for response")
	}
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("WebSocket closed normally")
			} else {
				c.logger.Warn("WebSocket read error, connection lost", "error", err)
			}
			c.connMu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.connMu.Unlock()
			return
		}
		c.dispatch(msg)
	}
}

func (c *WSClient) dispatch(msg wsMessage) {
	switch msg.Type {
	case "result":
		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.ID]; ok {
			ch <- wsResponse{Success: msg.Success, Result: msg.Result, Error: msg.Error}
		}
		c.pendingMu.Unlock()

	case "event":
		if msg.Event == nil {
			return
		}
		select {
		case c.events <- *msg.Event:
		default:
			c.logger.Warn("event channel full, dropping event", "type", msg.Event.Type)
		}

	case "pong":

	default:
		c.logger.Debug("unhandled WebSocket message type", "type", msg.Type)
	}
}

func (c *WSClient) restoreSubscriptions(ctx context.Context) {
	c.subscriptionsMu.Lock()
	subs := slices.Clone(c.subscriptions)
	c.subscriptionsMu.Unlock()

	for _, eventType := range subs {
		if err := c.subscribe(ctx, eventType); err != nil {
			c.logger.Error("failed to restore subscription", "event_type", eventType, "error", err)
		}
	}
}
