// Package client is a Go consumer of the live event socket. It restores its
// subscriptions on every reconnect and retries unexpected closes with
// exponential backoff. Authentication rejections and Disconnect are terminal.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
	"github.com/muzlik-gm/Portfolio-sub000/internal/platform/retry"
	"github.com/muzlik-gm/Portfolio-sub000/internal/protocol"
)

const (
	writeTimeout     = 5 * time.Second
	welcomeTimeout   = 10 * time.Second
	closeReadTimeout = time.Second
)

var ErrAuthRejected = errors.New("server rejected credentials")

var errStopped = errors.New("client stopped")

type Config struct {
	URL            string
	Token          string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	Dialer         *websocket.Dialer
	Clock          clockwork.Clock

	OnEvent       func(domain.Envelope)
	OnPong        func(server time.Time, rtt time.Duration)
	OnStateChange func(State)
}

// State is what a UI needs: whether the socket is up, and the last error.
type State struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type Client struct {
	cfg   Config
	clock clockwork.Clock

	mu           sync.Mutex
	conn         *websocket.Conn
	state        State
	subs         map[string]domain.Subscription
	order        []string
	handlers     []func(domain.Envelope)
	pingSent     time.Time
	disconnected bool
	cancel       context.CancelFunc

	writeMu sync.Mutex
}

func New(cfg Config) *Client {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Client{
		cfg:   cfg,
		clock: cfg.Clock,
		subs:  make(map[string]domain.Subscription),
	}
}

// Run connects and keeps the connection alive until ctx is cancelled,
// Disconnect is called, the server rejects the token, or MaxAttempts
// consecutive connection attempts fail. An attempt only succeeds once the
// subscriptions are restored and the server's welcome envelope has arrived,
// so a socket the server closes right away counts as a failure. It returns
// nil after Disconnect.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()

	// Cancellation unblocks the read loop by closing the live socket.
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
	defer stop()

	reconnecting := false
	for {
		policy := retry.Policy{
			MaxAttempts:    c.cfg.MaxAttempts,
			InitialBackoff: c.cfg.InitialBackoff,
			MaxBackoff:     c.cfg.MaxBackoff,
			DelayFirst:     reconnecting,
			Clock:          c.clock,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				slog.Info("Reconnect attempt failed", "attempt", attempt, "backoff", backoff, "error", err)
				c.setState(State{Error: err.Error()})
			},
		}

		conn, err := retry.Do(ctx, policy, classifyConnectError, func() (*websocket.Conn, error) {
			return c.connect(ctx)
		})
		if err != nil {
			if c.isDisconnected() {
				return nil
			}
			if ctx.Err() != nil {
				c.setState(State{Error: ctx.Err().Error()})
				return ctx.Err()
			}
			c.setState(State{Error: err.Error()})
			if errors.Is(err, ErrAuthRejected) {
				return err
			}
			return fmt.Errorf("connect: %w", err)
		}

		err = c.readLoop(conn)
		c.detach(conn)

		if c.isDisconnected() {
			return nil
		}
		if ctx.Err() != nil {
			c.setState(State{Error: ctx.Err().Error()})
			return ctx.Err()
		}
		if err := authRejection(err); err != nil {
			c.setState(State{Error: err.Error()})
			return err
		}

		slog.Info("Connection lost, reconnecting", "error", err)
		c.setState(State{Error: err.Error()})
		reconnecting = true
	}
}

func classifyConnectError(err error) retry.Action {
	if errors.Is(err, ErrAuthRejected) || errors.Is(err, errStopped) {
		return retry.Stop
	}
	return retry.Retry
}

// authRejection turns a 4001/4003 close into ErrAuthRejected and returns nil
// for anything else.
func authRejection(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && protocol.IsAuthClose(closeErr.Code) {
		return fmt.Errorf("%w: %s", ErrAuthRejected, closeErr.Text)
	}
	return nil
}

// connect is one connection attempt: dial, restore subscriptions and wait for
// the welcome envelope.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.attach(ctx, conn); err != nil {
		if errors.Is(err, errStopped) {
			c.detach(conn)
			return nil, err
		}
		// The server may have answered with a close frame that explains why
		// the write failed.
		if rejected := pendingAuthRejection(conn); rejected != nil {
			err = rejected
		}
		c.detach(conn)
		return nil, err
	}

	if err := c.awaitWelcome(conn); err != nil {
		c.detach(conn)
		return nil, err
	}
	return conn, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.Token)

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: HTTP %d", ErrAuthRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

// attach publishes conn and re-issues every remembered subscription.
func (c *Client) attach(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	if c.disconnected || ctx.Err() != nil {
		c.mu.Unlock()
		return errStopped
	}
	c.conn = conn
	subs := make([]domain.Subscription, 0, len(c.order))
	for _, id := range c.order {
		subs = append(subs, c.subs[id])
	}
	c.mu.Unlock()

	for _, sub := range subs {
		if err := c.write(conn, protocol.TypeSubscribe, subscribePayload(sub)); err != nil {
			return fmt.Errorf("restore subscription %s: %w", sub.ID, err)
		}
	}

	slog.Debug("Subscriptions restored", "url", c.cfg.URL, "restored_subscriptions", len(subs))
	return nil
}

// pendingAuthRejection reads what is left on a socket whose write failed and
// reports a 4001/4003 close if one is there.
func pendingAuthRejection(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(closeReadTimeout))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			return authRejection(err)
		}
	}
}

// awaitWelcome reads the first server message. The server sends its welcome
// envelope as soon as the token is accepted, or closes with 4001/4003.
func (c *Client) awaitWelcome(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(welcomeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		if rejected := authRejection(err); rejected != nil {
			return rejected
		}
		return fmt.Errorf("waiting for welcome: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	slog.Debug("Connected", "url", c.cfg.URL)
	c.setState(State{Connected: true})
	c.handle(raw)
	return nil
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handle(raw)
	}
}

func (c *Client) handle(raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		slog.Warn("Ignoring undecodable server message", "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeEvent:
		var env domain.Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			slog.Warn("Ignoring undecodable event", "error", err)
			return
		}
		c.dispatch(env)
	case protocol.TypePong:
		c.handlePong(msg)
	case protocol.TypeSubscribed, protocol.TypeUnsubscribed:
		slog.Debug("Subscription acknowledged", "type", msg.Type)
	default:
		slog.Debug("Ignoring server message", "type", msg.Type)
	}
}

func (c *Client) dispatch(env domain.Envelope) {
	c.mu.Lock()
	handlers := make([]func(domain.Envelope), len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(env)
	}
	for _, h := range handlers {
		h(env)
	}
}

func (c *Client) handlePong(msg protocol.Message) {
	var p protocol.PongPayload
	if err := msg.DecodePayload(&p); err != nil {
		slog.Warn("Ignoring malformed pong", "error", err)
		return
	}

	c.mu.Lock()
	sent := c.pingSent
	c.mu.Unlock()

	if c.cfg.OnPong != nil {
		c.cfg.OnPong(p.Timestamp, c.clock.Since(sent))
	}
}

// Subscribe remembers the subscription and sends it if connected. It is
// re-sent after every reconnect until Unsubscribe.
func (c *Client) Subscribe(types []domain.EventType, filter *domain.Filter) (string, error) {
	sub := domain.Subscription{ID: uuid.NewString(), EventTypes: types}
	if filter != nil {
		sub.Filter = *filter
	}
	if err := sub.Validate(); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.subs[sub.ID] = sub
	c.order = append(c.order, sub.ID)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.write(conn, protocol.TypeSubscribe, subscribePayload(sub)); err != nil {
			// Kept; it is restored on reconnect.
			slog.Warn("Subscribe not sent", "subscription_id", sub.ID, "error", err)
		}
	}
	return sub.ID, nil
}

func (c *Client) Unsubscribe(id string) error {
	c.mu.Lock()
	if _, ok := c.subs[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown subscription %q", id)
	}
	delete(c.subs, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.write(conn, protocol.TypeUnsubscribe, protocol.UnsubscribePayload{SubscriptionID: id})
}

// Ping sends an application ping; the reply is reported through OnPong.
func (c *Client) Ping() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return errors.New("not connected")
	}
	c.pingSent = c.clock.Now()
	c.mu.Unlock()
	return c.write(conn, protocol.TypePing, nil)
}

// Disconnect closes the socket normally and stops Run without reconnecting.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	c.setState(State{})
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscriptions returns the remembered subscriptions in the order they were made.
func (c *Client) Subscriptions() []domain.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Subscription, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.subs[id])
	}
	return out
}

func (c *Client) addHandler(h func(domain.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Client) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed && c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}

func (c *Client) write(conn *websocket.Conn, msgType string, payload any) error {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func subscribePayload(sub domain.Subscription) protocol.SubscribePayload {
	p := protocol.SubscribePayload{ID: sub.ID, EventTypes: sub.EventTypes}
	if sub.Filter != (domain.Filter{}) {
		f := sub.Filter
		p.Filters = &f
	}
	return p
}
