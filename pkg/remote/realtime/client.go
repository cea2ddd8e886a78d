// Package realtime subscribes to row changes over the backend's channel
// socket and keeps subscriptions alive across reconnects.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

const (
	writeWait       = 10 * time.Second
	maxRejoinTries  = 5
	protocolVersion = "1.0.0"
)

var (
	// ErrClosed is returned once the client has been closed
	ErrClosed       = errors.New("realtime client closed")
	errNotConnected = errors.New("not connected")
	errJoinAborted  = errors.New("connection lost while joining")
	errChannelGone  = errors.New("channel unsubscribed")
)

// Config holds realtime client configuration
type Config struct {
	// URL is the socket endpoint, e.g. wss://project.example.co/realtime/v1/websocket
	URL         string
	APIKey      string
	AccessToken string

	HeartbeatInterval time.Duration
	JoinTimeout       time.Duration
	DialTimeout       time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns the production timings for url
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		HeartbeatInterval: 30 * time.Second,
		JoinTimeout:       10 * time.Second,
		DialTimeout:       15 * time.Second,
		ReconnectInitial:  2 * time.Second,
		ReconnectMax:      30 * time.Second,
	}
}

// ConnectionState represents the state of the socket
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	MessagesReceived int64
	MessagesSent     int64
	ReconnectCount   int
	LastError        string
	ConnectedAt      time.Time
	DisconnectedAt   time.Time
}

// Client multiplexes channel subscriptions over one socket
type Client struct {
	cfg    Config
	logger *zap.Logger
	state  atomic.Value // ConnectionState

	connectMu sync.Mutex
	writeMu   sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	token    string
	channels map[string]*channel
	pending  map[string]chan replyPayload

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	statsMu sync.RWMutex
	stats   ConnectionStats
}

var _ remote.Subscriber = (*Client)(nil)

// NewClient creates a client. The socket is dialed on first Connect or
// Subscribe.
func NewClient(cfg Config) *Client {
	def := DefaultConfig(cfg.URL)
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = def.JoinTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = def.ReconnectInitial
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = def.ReconnectMax
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		logger:   logger.Named("realtime"),
		token:    cfg.AccessToken,
		channels: make(map[string]*channel),
		pending:  make(map[string]chan replyPayload),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.state.Store(StateDisconnected)
	return c
}

// SetAccessToken updates the token sent on joins and pushes it to joined
// channels
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = token
	chans := c.channelList()
	c.mu.Unlock()

	payload, _ := json.Marshal(map[string]string{"access_token": token})
	for _, ch := range chans {
		if !ch.isJoined() {
			continue
		}
		if err := c.send(Message{Topic: ch.name, Event: "access_token", Payload: payload, Ref: uuid.NewString()}); err != nil {
			c.logger.Debug("Failed to push access token", zap.String("channel", ch.name), zap.Error(err))
		}
	}
}

func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Connect dials the socket if it is not already open
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if c.currentConn() != nil {
		return nil
	}

	c.setState(StateConnecting)
	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		c.recordError(err.Error())
		return fmt.Errorf("realtime connect: %w", err)
	}
	c.attach(conn)
	c.logger.Debug("Realtime connected", zap.String("url", c.cfg.URL))
	return nil
}

// IsConnected returns true if the socket is open
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// State returns the connection state
func (c *Client) State() ConnectionState {
	return c.state.Load().(ConnectionState)
}

// Subscribe joins a channel for topic. It returns once the server has
// accepted the join, or with an error if it refused or did not answer in
// time.
func (c *Client) Subscribe(ctx context.Context, topic remote.Topic, h remote.Handler) (remote.Subscription, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ch := &channel{
		client:  c,
		name:    topicPrefix + topic.Name() + ":" + id[:8],
		topic:   topic,
		handler: h,
	}
	c.mu.Lock()
	c.channels[ch.name] = ch
	c.mu.Unlock()

	if err := c.join(ctx, ch); err != nil {
		c.removeChannel(ch)
		return nil, fmt.Errorf("subscribe %s: %w", topic.Name(), err)
	}
	ch.markJoined()
	h.Notify(remote.StatusSubscribed, nil)
	return ch, nil
}

// Close leaves every channel and closes the socket
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		chans := c.channelList()
		c.channels = make(map[string]*channel)
		c.mu.Unlock()

		for _, ch := range chans {
			ch.close()
		}
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.writeMu.Unlock()
			_ = conn.Close()
		}
		c.setState(StateClosed)
		c.recordDisconnected()
		c.logger.Debug("Realtime closed")
	})
	c.wg.Wait()
	return nil
}

// GetStats returns connection statistics
func (c *Client) GetStats() ConnectionStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

// Channels returns the number of live channels
func (c *Client) Channels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime url: %w", err)
	}
	q := u.Query()
	if c.cfg.APIKey != "" {
		q.Set("apikey", c.cfg.APIKey)
	}
	q.Set("vsn", protocolVersion)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.DialTimeout,
	}
	conn, _, err := dialer.DialContext(dialCtx, u.String(), nil)
	return conn, err
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.setState(StateConnected)
	c.recordConnected()

	done := make(chan struct{})
	c.wg.Add(2)
	go c.readLoop(conn, done)
	go c.heartbeatLoop(conn, done)
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// channelList must be called with c.mu held
func (c *Client) channelList() []*channel {
	out := make([]*channel, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

func (c *Client) channelByName(name string) *channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[name]
}

func (c *Client) removeChannel(ch *channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channels[ch.name] == ch {
		delete(c.channels, ch.name)
	}
}

func (c *Client) send(msg Message) error {
	conn := c.currentConn()
	if conn == nil {
		return errNotConnected
	}
	return c.sendOn(conn, msg)
}

func (c *Client) sendOn(conn *websocket.Conn, msg Message) error {
	if msg.Payload == nil {
		msg.Payload = jsoniter.RawMessage("{}")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.recordMessageSent()
	return nil
}

// join sends phx_join for ch and waits for the reply
func (c *Client) join(ctx context.Context, ch *channel) error {
	ref := uuid.NewString()
	reply := make(chan replyPayload, 1)
	c.mu.Lock()
	c.pending[ref] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ref)
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(newJoinPayload(ch.topic, c.accessToken()))
	if err != nil {
		return err
	}
	ch.setJoinRef(ref)
	if err := c.send(Message{Topic: ch.name, Event: EventJoin, Payload: payload, Ref: ref, JoinRef: ref}); err != nil {
		return err
	}

	timer := time.NewTimer(c.cfg.JoinTimeout)
	defer timer.Stop()
	select {
	case r, ok := <-reply:
		if !ok {
			return errJoinAborted
		}
		if r.Status != "ok" {
			return fmt.Errorf("join rejected: %s", r.reason())
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("join timed out after %s", c.cfg.JoinTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()

	var err error
	for {
		var data []byte
		if _, data, err = conn.ReadMessage(); err != nil {
			break
		}
		c.recordMessageReceived()

		var msg Message
		if jerr := json.Unmarshal(data, &msg); jerr != nil {
			c.logger.Debug("Dropping malformed frame", zap.Error(jerr))
			continue
		}
		c.dispatch(msg)
	}

	close(done)
	c.handleDisconnect(conn, err)
}

func (c *Client) dispatch(msg Message) {
	switch msg.Event {
	case EventReply:
		var r replyPayload
		if err := json.Unmarshal(msg.Payload, &r); err != nil {
			c.logger.Debug("Malformed reply", zap.String("topic", msg.Topic), zap.Error(err))
			return
		}
		c.mu.Lock()
		waiter, ok := c.pending[msg.Ref]
		delete(c.pending, msg.Ref)
		c.mu.Unlock()
		if ok {
			waiter <- r
		}

	case EventPostgresChanges:
		ch := c.channelByName(msg.Topic)
		if ch == nil {
			return
		}
		var p changesPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.logger.Debug("Malformed change event", zap.String("topic", msg.Topic), zap.Error(err))
			return
		}
		ch.deliver(p.Data)

	case EventClose, EventError:
		ch := c.channelByName(msg.Topic)
		if ch == nil || (msg.JoinRef != "" && msg.JoinRef != ch.currentJoinRef()) {
			return
		}
		if ch.drop(fmt.Errorf("channel %s received %s", msg.Topic, msg.Event)) {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.rejoin(ch)
			}()
		}

	case EventSystem:
		c.logger.Debug("System message", zap.String("topic", msg.Topic), zap.ByteString("payload", msg.Payload))
	}
}

func (c *Client) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			err := c.sendOn(conn, Message{Topic: phoenixTopic, Event: EventHeartbeat, Ref: uuid.NewString()})
			if err != nil {
				c.logger.Debug("Failed to send heartbeat", zap.Error(err))
				// Unblocks the read loop so the socket gets replaced.
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	pending := c.pending
	c.pending = make(map[string]chan replyPayload)
	chans := c.channelList()
	c.mu.Unlock()

	_ = conn.Close()
	for _, waiter := range pending {
		close(waiter)
	}
	if c.ctx.Err() != nil {
		return
	}

	if cause != nil {
		c.recordError(cause.Error())
	}
	c.recordDisconnected()
	c.setState(StateReconnecting)
	c.logger.Warn("Realtime connection lost", zap.Int("channels", len(chans)), zap.Error(cause))

	for _, ch := range chans {
		ch.drop(cause)
	}
	c.reconnect()
}

// reconnect dials with exponential backoff until it succeeds or the client
// is closed, then rejoins every live channel
func (c *Client) reconnect() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectInitial
	b.MaxInterval = c.cfg.ReconnectMax

	conn, err := backoff.Retry(c.ctx, func() (*websocket.Conn, error) {
		if c.currentConn() != nil {
			// Someone else connected in the meantime.
			return nil, nil
		}
		return c.dial(c.ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Debug("Reconnecting realtime", zap.Duration("wait", wait), zap.Error(err))
		}),
	)
	if err != nil {
		if c.ctx.Err() == nil {
			c.setState(StateDisconnected)
			c.logger.Error("Realtime reconnect gave up", zap.Error(err))
		}
		return
	}

	if conn != nil {
		c.connectMu.Lock()
		switch {
		case c.ctx.Err() != nil:
			_ = conn.Close()
			c.connectMu.Unlock()
			return
		case c.currentConn() != nil:
			_ = conn.Close()
		default:
			c.attach(conn)
			c.statsMu.Lock()
			c.stats.ReconnectCount++
			c.statsMu.Unlock()
			c.logger.Info("Realtime reconnected")
		}
		c.connectMu.Unlock()
	}

	c.mu.Lock()
	chans := c.channelList()
	c.mu.Unlock()
	for _, ch := range chans {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.rejoin(ch)
		}()
	}
}

// rejoin joins ch again and reports StatusRejoined once it is back
func (c *Client) rejoin(ch *channel) {
	if !ch.beginRejoin() {
		return
	}
	defer ch.endRejoin()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectInitial
	b.MaxInterval = c.cfg.ReconnectMax

	_, err := backoff.Retry(c.ctx, func() (struct{}, error) {
		if ch.isClosed() {
			return struct{}{}, backoff.Permanent(errChannelGone)
		}
		return struct{}{}, c.join(c.ctx, ch)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxRejoinTries),
	)
	if err != nil {
		if !errors.Is(err, errChannelGone) && c.ctx.Err() == nil {
			c.logger.Warn("Channel rejoin failed", zap.String("channel", ch.name), zap.Error(err))
		}
		return
	}
	if ch.markJoined() {
		ch.handler.Notify(remote.StatusRejoined, nil)
	}
}

func (c *Client) setState(state ConnectionState) {
	c.state.Store(state)
}

func (c *Client) recordMessageReceived() {
	c.statsMu.Lock()
	c.stats.MessagesReceived++
	c.statsMu.Unlock()
}

func (c *Client) recordMessageSent() {
	c.statsMu.Lock()
	c.stats.MessagesSent++
	c.statsMu.Unlock()
}

func (c *Client) recordError(errMsg string) {
	c.statsMu.Lock()
	c.stats.LastError = errMsg
	c.statsMu.Unlock()
}

func (c *Client) recordConnected() {
	c.statsMu.Lock()
	c.stats.ConnectedAt = time.Now()
	c.statsMu.Unlock()
}

func (c *Client) recordDisconnected() {
	c.statsMu.Lock()
	c.stats.DisconnectedAt = time.Now()
	c.statsMu.Unlock()
}
