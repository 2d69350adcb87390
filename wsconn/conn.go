// Package wsconn is the WebSocket Connection (spec §4.2): a single
// long-lived realtime feed with its own reconnect/resubscribe state
// machine, independent of the REST broker package.
//
// Grounded on the teacher's feeds/polymarket_ws.go (connection loop,
// mutex-guarded conn handle, ping loop, subscriber fan-out via buffered
// channels) retargeted from Polymarket's JSON event stream to the spec's
// JSON system frames and pipe-delimited, optionally encrypted realtime
// frames with caret-delimited fields
// (original_source/core/kis_websocket_manager.py).
package wsconn

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kisquant/tradebot/types"
)

// State is the connection's lifecycle state per spec §4.2.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateSubscribing  State = "SUBSCRIBING"
	StateStreaming    State = "STREAMING"
	StateClosing      State = "CLOSING"
	StateFailed       State = "FAILED"
)

const (
	pingInterval   = 60 * time.Second
	maxReconnects  = 20
	dialTimeout    = 10 * time.Second
)

// Event is a decoded, application-level message delivered to subscribers:
// either a realtime payload (Tick) or a system/subscription ack.
type Event struct {
	Kind      EventKind
	TrID      string
	Channel   types.Channel
	Key       string // tr_key / symbol
	Fields    []string
	Ack       SystemFrame
	Ts        time.Time
}

// EventKind distinguishes realtime payload rows from control-plane frames.
type EventKind string

const (
	EventRealtime EventKind = "REALTIME"
	EventSystem   EventKind = "SYSTEM"
)

// Conn manages a single WebSocket connection with automatic reconnect and
// resubscribe-on-reconnect (idempotent, per Design Note §10's Open
// Question decision).
type Conn struct {
	mu    sync.RWMutex
	state State

	url         string
	approvalKey string
	dialer      *websocket.Dialer
	conn        *websocket.Conn

	keys map[types.Channel]channelKey // per-channel AES key/iv, learned from ACKs

	subs    map[string]subscription // key: channel|trKey
	pending map[string]struct{}     // awaiting ACK

	subscribers []chan Event

	stopCh   chan struct{}
	stopOnce sync.Once
	attempts int
}

type channelKey struct {
	key string
	iv  string
}

type subscription struct {
	Channel types.Channel
	TrKey   string
}

// New builds a Conn bound to the realtime endpoint url, authenticated with
// an approval key obtained separately via broker.WebsocketApprovalKey.
func New(url, approvalKey string) *Conn {
	return &Conn{
		state:       StateDisconnected,
		url:         url,
		approvalKey: approvalKey,
		dialer:      &websocket.Dialer{HandshakeTimeout: dialTimeout},
		keys:        make(map[types.Channel]channelKey),
		subs:        make(map[string]subscription),
		pending:     make(map[string]struct{}),
		stopCh:      make(chan struct{}),
	}
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Subscribe returns a channel receiving decoded Events. Caller must drain
// it; when a channel is full the new event is dropped for it (the send is
// skipped), the same way the teacher's feed broadcaster skips on a full
// buffered channel.
func (c *Conn) Subscribe() chan Event {
	ch := make(chan Event, 2000)
	c.mu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.mu.Unlock()
	return ch
}

// Run drives the connect/stream/reconnect loop until ctx is cancelled or
// Close is called. It is meant to be run in its own goroutine.
func (c *Conn) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case <-c.stopCh:
			c.shutdown()
			return
		default:
		}

		if err := c.connectAndStream(ctx); err != nil {
			log.Warn().Err(err).Msg("wsconn: session ended")
		}

		c.attempts++
		if c.attempts > maxReconnects {
			c.setState(StateFailed)
			log.Error().Int("attempts", c.attempts).Msg("wsconn: giving up after max reconnects")
			return
		}

		delay := time.Duration(2*c.attempts) * time.Second
		if delay > 10*time.Second {
			delay = 10 * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Close stops the run loop and closes the underlying socket.
func (c *Conn) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Conn) shutdown() {
	c.setState(StateClosing)
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.setState(StateDisconnected)
}

func (c *Conn) connectAndStream(ctx context.Context) error {
	c.setState(StateConnecting)
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)
	c.attempts = 0

	go c.pingLoop(ctx)

	c.setState(StateSubscribing)
	if err := c.resubscribeAll(); err != nil {
		return err
	}
	c.setState(StateStreaming)

	return c.readLoop()
}

// SubscribeChannel issues a subscribe frame for (channel, trKey) and records it
// for resubscription on reconnect.
func (c *Conn) SubscribeChannel(channel types.Channel, trKey string) error {
	key := string(channel) + "|" + trKey
	c.mu.Lock()
	c.subs[key] = subscription{Channel: channel, TrKey: trKey}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil // queued; resubscribeAll will send it once connected
	}
	return writeFrame(conn, buildSubscribeFrame(channel, trKey, c.approvalKey, true))
}

// Unsubscribe issues an unsubscribe frame and drops the channel from the
// resubscribe set.
func (c *Conn) Unsubscribe(channel types.Channel, trKey string) error {
	key := string(channel) + "|" + trKey
	c.mu.Lock()
	delete(c.subs, key)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return writeFrame(conn, buildSubscribeFrame(channel, trKey, c.approvalKey, false))
}

// resubscribeAll re-sends every active subscription after a reconnect.
// Treated idempotent per Design Note §10: the broker ACKs a duplicate
// subscribe the same as a fresh one.
func (c *Conn) resubscribeAll() error {
	c.mu.RLock()
	conn := c.conn
	subs := make([]subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.RUnlock()

	if conn == nil {
		return nil
	}
	for _, s := range subs {
		if err := writeFrame(conn, buildSubscribeFrame(s.Channel, s.TrKey, c.approvalKey, true)); err != nil {
			return err
		}
	}
	return nil
}

func writeFrame(conn *websocket.Conn, payload string) error {
	return conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

func (c *Conn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// echoPing answers a broker-initiated PINGPONG keepalive by sending the
// same frame straight back, as the reference client does.
func (c *Conn) echoPing(data []byte) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug().Err(err).Msg("wsconn: pingpong echo failed")
	}
}

func (c *Conn) readLoop() error {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return nil
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			return err
		}
		c.handleFrame(data)
	}
}

func (c *Conn) handleFrame(data []byte) {
	ev, key, err := parseFrame(data, c.keys)
	if err != nil {
		log.Debug().Err(err).Msg("wsconn: unparseable frame")
		return
	}
	if ev.Kind == EventSystem && ev.Ack.IsPing {
		c.echoPing(data)
		return
	}
	if ev.Kind == EventSystem && ev.Ack.Channel != "" && ev.Ack.EncKey != "" {
		c.mu.Lock()
		c.keys[ev.Ack.Channel] = channelKey{key: ev.Ack.EncKey, iv: ev.Ack.EncIV}
		c.mu.Unlock()
	}
	_ = key

	c.mu.RLock()
	subs := c.subscribers
	c.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
