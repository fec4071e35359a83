package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/SJKodehode/tutorial-chat-app/internal/metrics"
	"github.com/SJKodehode/tutorial-chat-app/internal/models"
	"github.com/SJKodehode/tutorial-chat-app/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	sendBuffer = 256
)

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrClosed       = errors.New("realtime: client closed")
	ErrSendFull     = errors.New("realtime: send buffer full")
)

// TokenSource supplies the current user access token for channel joins.
type TokenSource interface {
	AccessToken() string
}

type Options struct {
	Endpoint  string
	Heartbeat time.Duration
	Reconnect time.Duration
	// Logger defaults to the global logger tagged "realtime".
	Logger *logger.Logger
}

// Client multiplexes change feed channels over one websocket, reconnecting
// and rejoining them when the socket drops.
type Client struct {
	endpoint  string
	tokens    TokenSource
	heartbeat time.Duration
	dialer    *websocket.Dialer
	limiter   *rate.Limiter
	log       *logger.Logger

	dialMu   sync.Mutex
	mu       sync.Mutex
	sock     *socket
	channels map[string]*Channel
	ref      uint64
	closed   bool
	done     chan struct{}
}

type socket struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func NewClient(opts Options, tokens TokenSource) *Client {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 30 * time.Second
	}
	if opts.Reconnect <= 0 {
		opts.Reconnect = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.GlobalLogger.With("realtime")
	}
	return &Client{
		endpoint:  opts.Endpoint,
		log:       opts.Logger,
		tokens:    tokens,
		heartbeat: opts.Heartbeat,
		dialer:    websocket.DefaultDialer,
		limiter:   rate.NewLimiter(rate.Every(opts.Reconnect), 1),
		channels:  make(map[string]*Channel),
		done:      make(chan struct{}),
	}
}

func (c *Client) connect(ctx context.Context) (*socket, error) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.sock != nil {
		s := c.sock
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	s := &socket{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	c.mu.Lock()
	c.sock = s
	c.mu.Unlock()

	go c.writePump(s)
	go c.readPump(s)
	c.log.Debug("Realtime socket connected")
	return s, nil
}

func (c *Client) readPump(s *socket) {
	defer func() {
		close(s.done)
		s.conn.Close()

		c.mu.Lock()
		if c.sock == s {
			c.sock = nil
		}
		rejoin := !c.closed && len(c.channels) > 0
		c.mu.Unlock()

		if rejoin {
			go c.reconnect()
		}
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("Realtime read error: %v", err)
			}
			return
		}
		// any frame proves liveness, heartbeat replies included
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("Realtime: dropping malformed frame: %v", err)
			continue
		}
		c.dispatch(&env)
	}
}

func (c *Client) writePump(s *socket) {
	ticker := time.NewTicker(c.heartbeat)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			return

		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Error("Realtime write error: %v", err)
				return
			}

		case <-ticker.C:
			hb, _ := json.Marshal(Envelope{
				Topic:   phoenixTopic,
				Event:   eventHeartbeat,
				Payload: json.RawMessage(`{}`),
				Ref:     c.nextRef(),
			})
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, hb); err != nil {
				return
			}
		}
	}
}

func (c *Client) dispatch(env *Envelope) {
	if env.Topic == phoenixTopic {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.channels[env.Topic]
	if !ok {
		return
	}

	switch env.Event {
	case eventReply:
		if env.Ref == nil || *env.Ref != ch.joinRef {
			return
		}
		var reply replyPayload
		if err := json.Unmarshal(env.Payload, &reply); err != nil {
			ch.deliverJoin(fmt.Errorf("decode join reply: %w", err))
			return
		}
		if reply.Status != "ok" {
			ch.deliverJoin(fmt.Errorf("join %s rejected: %s", ch.topic, string(reply.Response)))
			return
		}
		ch.deliverJoin(nil)

	case eventChanges:
		var p changesPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.log.Warn("Realtime: bad change payload on %s: %v", env.Topic, err)
			return
		}
		ev := p.event()
		metrics.FeedEventsTotal.WithLabelValues(ev.Table, string(ev.Type)).Inc()
		metrics.ObserveDelivery(ev.CommitTimestamp, time.Now())
		ch.deliver(ev)

	case eventError, eventClose:
		c.log.Warn("Realtime channel %s: %s", env.Topic, env.Event)

	case eventSystem:
		c.log.Debug("Realtime system message on %s: %s", env.Topic, string(env.Payload))
	}
}

// reconnect re-dials at most once per reconnect interval and rejoins every
// open channel.
func (c *Client) reconnect() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		metrics.RealtimeReconnectsTotal.Inc()
		if _, err := c.connect(ctx); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			c.log.Warn("Realtime reconnect failed: %v", err)
			continue
		}

		c.mu.Lock()
		chans := make([]*Channel, 0, len(c.channels))
		for _, ch := range c.channels {
			chans = append(chans, ch)
		}
		c.mu.Unlock()

		for _, ch := range chans {
			if err := c.join(ch); err != nil {
				c.log.Warn("Realtime rejoin %s failed: %v", ch.topic, err)
			}
		}
		c.log.Info("Realtime reconnected, rejoined %d channel(s)", len(chans))
		return
	}
}

// Subscribe opens a channel for filter and waits for the backend to accept
// the join.
func (c *Client) Subscribe(ctx context.Context, filter models.ChangeFilter) (*Channel, error) {
	if _, err := c.connect(ctx); err != nil {
		return nil, err
	}

	ch := newChannel(c, filter)
	c.mu.Lock()
	c.channels[ch.topic] = ch
	c.mu.Unlock()

	if err := c.join(ch); err != nil {
		c.remove(ch)
		return nil, err
	}

	select {
	case err := <-ch.joined:
		if err != nil {
			c.remove(ch)
			return nil, err
		}
	case <-ctx.Done():
		c.remove(ch)
		return nil, ctx.Err()
	}

	metrics.FeedSubscriptions.Inc()
	c.log.Debug("Subscribed to %s (%s)", ch.topic, filter.String())
	return ch, nil
}

func (c *Client) join(ch *Channel) error {
	token := ""
	if c.tokens != nil {
		token = c.tokens.AccessToken()
	}
	payload, err := json.Marshal(newJoinPayload(ch.filter, token))
	if err != nil {
		return err
	}
	ref := c.nextRef()
	c.mu.Lock()
	ch.joinRef = *ref
	c.mu.Unlock()
	return c.push(&Envelope{Topic: ch.topic, Event: eventJoin, Payload: payload, Ref: ref})
}

// SetAuth forwards a refreshed access token to every joined channel.
func (c *Client) SetAuth(token string) {
	payload, _ := json.Marshal(map[string]string{"access_token": token})

	c.mu.Lock()
	topics := make([]string, 0, len(c.channels))
	for topic := range c.channels {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	for _, topic := range topics {
		if err := c.push(&Envelope{Topic: topic, Event: eventAccessToken, Payload: payload, Ref: c.nextRef()}); err != nil {
			c.log.Debug("Realtime: access token not forwarded to %s: %v", topic, err)
		}
	}
}

func (c *Client) push(env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	s := c.sock
	c.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}

	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrNotConnected
	default:
		return ErrSendFull
	}
}

func (c *Client) remove(ch *Channel) {
	c.mu.Lock()
	if c.channels[ch.topic] == ch {
		delete(c.channels, ch.topic)
	}
	c.mu.Unlock()
}

func (c *Client) nextRef() *string {
	c.mu.Lock()
	c.ref++
	ref := strconv.FormatUint(c.ref, 10)
	c.mu.Unlock()
	return &ref
}

// Close leaves all channels and shuts the socket down.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	chans := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		chans = append(chans, ch)
	}
	s := c.sock
	c.mu.Unlock()

	for _, ch := range chans {
		ch.Close()
	}

	if s != nil {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.conn.Close()
	}
	return nil
}
