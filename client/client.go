package client

import (
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/parishdesk/parishdesk/model"
)

const (
	defaultHandshakeTimeout = 3 * time.Second
	defaultWriteDeadline    = 5 * time.Second

	defaultRetryBaseDelay = time.Second
	defaultRetryMaxDelay  = 30 * time.Second
	defaultMaxAttempts    = 5

	// defaultWakeDelay spreads out reconnects when many consumers
	// resume at the same moment.
	defaultWakeDelay = time.Second
)

// State of the connection as driven by Connect/Disconnect calls and
// transport close events.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnectPending
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectPending:
		return "reconnect-pending"
	default:
		return "unknown"
	}
}

type (
	// TokenProvider supplies the current auth token. The second return
	// value is false when no token is available, in which case Connect
	// is a no-op.
	TokenProvider interface {
		Token() (string, bool)
	}

	// Handlers holds the optional subscriber callbacks. Nil slots mean the
	// corresponding event is dropped for this subscriber.
	Handlers struct {
		OnCreate            func(data json.RawMessage)
		OnUpdate            func(data json.RawMessage)
		OnDelete            func(id string)
		OnMemberAdded       func(groupID string, member model.Member)
		OnMemberRemoved     func(groupID, memberID string)
		OnMemberRoleUpdated func(groupID, memberID, role string)
		OnConnectionChange  func(connected bool)
	}

	Config struct {
		Logger   *zerolog.Logger
		BaseURL  string // http(s) origin of the server, e.g. "https://parish.example.org"
		Resource string // resource type this connection is scoped to, e.g. "groups"
		Tokens   TokenProvider
		Handlers Handlers
		// Wakeups signals that the hosting environment came back to the
		// foreground. While not connected, each signal schedules one
		// reconnect after a short delay. Optional.
		Wakeups <-chan struct{}
	}

	// Client maintains one live event-stream connection for a single
	// resource type and dispatches parsed envelopes to the handlers.
	// It reconnects with exponential backoff after abnormal closes.
	Client struct {
		logger   zerolog.Logger
		baseURL  string
		resource string
		tokens   TokenProvider
		handlers Handlers

		createdType string
		updatedType string
		deletedType string

		retryBase   time.Duration
		retryMax    time.Duration
		maxAttempts int
		wakeDelay   time.Duration

		mx         sync.Mutex
		state      State
		conn       *websocket.Conn
		gen        uint64 // bumped on every transport handover, orphans stale read loops
		attempts   int
		retryTimer *time.Timer
		wakeTimer  *time.Timer
		done       chan struct{}

		writeMx sync.Mutex
	}
)

// StaticTokenProvider wraps a fixed token string. An empty string means
// no token.
type StaticTokenProvider string

func (p StaticTokenProvider) Token() (string, bool) {
	return string(p), p != ""
}

func New(cfg Config) *Client {
	c := &Client{
		logger: cfg.Logger.With().
			Str("component", "realtime-client").
			Str("resource", cfg.Resource).
			Logger(),
		baseURL:  cfg.BaseURL,
		resource: cfg.Resource,
		tokens:   cfg.Tokens,
		handlers: cfg.Handlers,

		createdType: model.EventCreated(cfg.Resource),
		updatedType: model.EventUpdated(cfg.Resource),
		deletedType: model.EventDeleted(cfg.Resource),

		retryBase:   defaultRetryBaseDelay,
		retryMax:    defaultRetryMaxDelay,
		maxAttempts: defaultMaxAttempts,
		wakeDelay:   defaultWakeDelay,

		done: make(chan struct{}),
	}
	if cfg.Wakeups != nil {
		go c.watchWakeups(cfg.Wakeups)
	}
	return c
}

// Connect opens the event-stream transport. It is a no-op when already
// connected or when no token is available. Any pending reconnect timer and
// any half-open transport are torn down first, so at most one live
// transport exists per client.
func (c *Client) Connect() {
	connected, err := c.connect()
	if err != nil {
		c.logger.Error().Err(err).Msg("connect failed")
		return
	}
	if connected {
		c.emitConnectionChange(true)
	}
}

// Reconnect is an alias for Connect, exposed for manual recovery triggers.
func (c *Client) Reconnect() {
	c.Connect()
}

// connect returns true only when a new transport was opened.
func (c *Client) connect() (bool, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.state == StateConnected && c.conn != nil {
		return false, nil
	}

	token, ok := c.tokens.Token()
	if !ok {
		c.logger.Debug().Msg("connect skipped, no token")
		return false, nil
	}

	c.stopRetryTimerLocked()
	c.dropTransportLocked()

	endpoint, err := endpointURL(c.baseURL, c.resource, token)
	if err != nil {
		c.state = StateDisconnected
		return false, err
	}

	c.state = StateConnecting
	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	conn, resp, err := dialer.Dial(endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.state = StateDisconnected
		return false, err
	}

	c.conn = conn
	c.gen++
	c.state = StateConnected
	c.attempts = 0
	c.logger.Info().Msg("connected")

	go c.readLoop(conn, c.gen)
	return true, nil
}

// Disconnect closes the transport with a normal closure code and cancels
// any pending reconnect timer. Safe to call repeatedly and from teardown
// paths; the attempt counter is left untouched.
func (c *Client) Disconnect() {
	c.mx.Lock()
	c.stopRetryTimerLocked()
	c.gen++
	conn := c.conn
	c.conn = nil
	wasConnected := c.state == StateConnected
	c.state = StateDisconnected
	c.mx.Unlock()

	if conn != nil {
		c.closeTransport(conn)
	}
	if wasConnected {
		c.emitConnectionChange(false)
	}
}

// Close is the full teardown: Disconnect plus stopping the wakeup watcher.
// The client must not be reused afterwards.
func (c *Client) Close() {
	c.Disconnect()
	c.mx.Lock()
	if c.wakeTimer != nil {
		c.wakeTimer.Stop()
		c.wakeTimer = nil
	}
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.mx.Unlock()
}

// Send serializes payload and transmits it if the transport is currently
// open. It reports success and never returns an error.
func (c *Client) Send(payload any) bool {
	c.mx.Lock()
	conn := c.conn
	open := c.state == StateConnected && conn != nil
	c.mx.Unlock()

	if !open {
		c.logger.Debug().Msg("send skipped, not connected")
		return false
	}

	b, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal outgoing message")
		return false
	}
	if err = c.write(conn, b); err != nil {
		c.logger.Error().Err(err).Msg("failed to send message")
		return false
	}
	return true
}

// IsConnected reports the live transport state at the time of the call.
func (c *Client) IsConnected() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.state == StateConnected && c.conn != nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.state
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		c.dispatch(conn, raw)
	}
}

// dispatch parses one inbound payload and routes it to the matching
// handler slot. Parse failures and unknown types are logged and dropped,
// never fatal to the connection.
func (c *Client) dispatch(conn *websocket.Conn, raw []byte) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal incoming event")
		return
	}

	h := c.handlers
	switch env.Type {
	case c.createdType:
		if h.OnCreate != nil {
			h.OnCreate(env.Data)
		}
	case c.updatedType:
		if h.OnUpdate != nil {
			h.OnUpdate(env.Data)
		}
	case c.deletedType:
		if h.OnDelete != nil {
			h.OnDelete(env.ID)
		}
	case model.EventMemberAdded:
		if h.OnMemberAdded != nil && env.Member != nil {
			h.OnMemberAdded(env.GroupID, *env.Member)
		}
	case model.EventMemberRemoved:
		if h.OnMemberRemoved != nil {
			h.OnMemberRemoved(env.GroupID, env.MemberID)
		}
	case model.EventMemberRoleUpdated:
		if h.OnMemberRoleUpdated != nil {
			h.OnMemberRoleUpdated(env.GroupID, env.MemberID, env.Role)
		}
	case model.EventPing:
		c.sendPong(conn)
	default:
		c.logger.Debug().Str("type", env.Type).Msg("unrecognized event type")
	}
}

func (c *Client) sendPong(conn *websocket.Conn) {
	b, err := json.Marshal(model.Envelope{Type: model.EventPong})
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal pong")
		return
	}
	if err = c.write(conn, b); err != nil {
		c.logger.Error().Err(err).Msg("failed to send pong")
	}
}

// handleClose runs when the read loop of generation gen terminates.
// A normal closure or an exhausted attempt budget settles the client in
// Disconnected; any other close schedules a backoff reconnect.
func (c *Client) handleClose(gen uint64, err error) {
	c.mx.Lock()
	if gen != c.gen {
		// A newer transport already took over.
		c.mx.Unlock()
		return
	}
	c.conn = nil
	wasConnected := c.state == StateConnected

	code := closeCode(err)
	switch {
	case code == websocket.CloseNormalClosure:
		c.state = StateDisconnected
		c.logger.Info().Msg("connection closed")
	case c.attempts >= c.maxAttempts:
		c.state = StateDisconnected
		c.logger.Warn().
			Int("attempts", c.attempts).
			Msg("reconnect attempts exhausted")
	default:
		delay := c.backoffDelayLocked()
		c.attempts++
		c.state = StateReconnectPending
		c.retryTimer = time.AfterFunc(delay, c.retryConnect)
		c.logger.Warn().
			Err(err).
			Int("attempt", c.attempts).
			Dur("retry_in", delay).
			Msg("connection lost, will reconnect")
	}
	c.mx.Unlock()

	if wasConnected {
		c.emitConnectionChange(false)
	}
}

// retryConnect fires from the backoff timer. A dial failure here consumes
// another attempt and schedules the next retry, until the budget runs out.
func (c *Client) retryConnect() {
	c.mx.Lock()
	if c.state != StateReconnectPending {
		c.mx.Unlock()
		return
	}
	c.retryTimer = nil
	c.state = StateDisconnected
	c.mx.Unlock()

	connected, err := c.connect()
	if connected {
		c.emitConnectionChange(true)
		return
	}
	if err == nil {
		return
	}
	c.logger.Error().Err(err).Msg("reconnect attempt failed")

	c.mx.Lock()
	if c.state == StateDisconnected && c.conn == nil && c.attempts < c.maxAttempts {
		delay := c.backoffDelayLocked()
		c.attempts++
		c.state = StateReconnectPending
		c.retryTimer = time.AfterFunc(delay, c.retryConnect)
	}
	c.mx.Unlock()
}

func (c *Client) watchWakeups(wakeups <-chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case _, ok := <-wakeups:
			if !ok {
				return
			}
			c.mx.Lock()
			open := c.state == StateConnected && c.conn != nil
			if !open && c.wakeTimer == nil {
				c.wakeTimer = time.AfterFunc(c.wakeDelay, func() {
					c.mx.Lock()
					c.wakeTimer = nil
					c.mx.Unlock()
					c.Reconnect()
				})
				c.logger.Debug().Msg("wakeup received, reconnect scheduled")
			}
			c.mx.Unlock()
		}
	}
}

func (c *Client) emitConnectionChange(connected bool) {
	if c.handlers.OnConnectionChange != nil {
		c.handlers.OnConnectionChange(connected)
	}
}

// backoffDelayLocked computes the delay before the next reconnect attempt:
// retryBase doubled per attempt, capped at retryMax.
func (c *Client) backoffDelayLocked() time.Duration {
	d := c.retryBase << uint(c.attempts)
	if d > c.retryMax || d <= 0 {
		d = c.retryMax
	}
	return d
}

func (c *Client) stopRetryTimerLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// dropTransportLocked discards a half-open transport without going through
// the close handshake. The generation bump orphans its read loop.
func (c *Client) dropTransportLocked() {
	if c.conn == nil {
		return
	}
	c.gen++
	_ = c.conn.Close()
	c.conn = nil
}

func (c *Client) write(conn *websocket.Conn, b []byte) error {
	c.writeMx.Lock()
	defer c.writeMx.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) closeTransport(conn *websocket.Conn) {
	c.writeMx.Lock()
	err := conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline))
	if err == nil {
		err = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	c.writeMx.Unlock()
	if err != nil {
		c.logger.Debug().Err(err).Msg("failed to write close frame")
	}
	if err = conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("failed to close transport")
	}
}

// endpointURL maps the server origin to the event-stream endpoint:
// scheme https→wss (anything else →ws), path /ws/{resource}/, token in query.
func endpointURL(base, resource, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws/" + resource + "/"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// closeCode extracts the close code from a read error. Errors that carry
// no close frame count as abnormal closure.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}
