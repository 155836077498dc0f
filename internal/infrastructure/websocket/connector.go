package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pricehub/internal/application/port"
)

var ErrMaxAttempts = errors.New("upstream: max connection attempts reached")

// Config for the single upstream connection.
type Config struct {
	URL          string
	DialTimeout  time.Duration
	IdleTimeout  time.Duration // read deadline, refreshed by any frame or pong
	PingInterval time.Duration
	WriteTimeout time.Duration
	Backoff      BackoffConfig
	MaxAttempts  int // consecutive failures before Start gives up; 0 = forever
}

func (c *Config) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// heartbeater is implemented by codecs whose venue wants an application-level ping.
type heartbeater interface {
	HeartbeatMessage() []byte
}

type command struct {
	subscribe bool
	symbols   []string
}

// ConnectorStats are cumulative counters.
type ConnectorStats struct {
	Connected    bool  `json:"connected"`
	Connects     int64 `json:"connects"`
	Disconnects  int64 `json:"disconnects"`
	DialFailures int64 `json:"dial_failures"`
	Ticks        int64 `json:"ticks"`
	Malformed    int64 `json:"malformed"`
}

// Connector owns the one upstream websocket. On every connect it subscribes the
// symbols reported by the SymbolSource; EnsureSubscribed/EnsureUnsubscribed only
// queue commands for the live session and never block.
type Connector struct {
	cfg     Config
	codec   port.FeedCodec
	handler port.TickHandler
	source  port.SymbolSource
	dialer  *websocket.Dialer

	mu      sync.Mutex
	live    bool // a session is accepting commands
	pending []command
	wake    chan struct{}

	connected    atomic.Bool
	connects     atomic.Int64
	disconnects  atomic.Int64
	dialFailures atomic.Int64
	ticks        atomic.Int64
	malformed    atomic.Int64
}

func NewConnector(cfg Config, codec port.FeedCodec, handler port.TickHandler, source port.SymbolSource) *Connector {
	cfg.applyDefaults()
	return &Connector{
		cfg:     cfg,
		codec:   codec,
		handler: handler,
		source:  source,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		wake: make(chan struct{}, 1),
	}
}

func (c *Connector) EnsureSubscribed(symbols []string)   { c.enqueue(true, symbols) }
func (c *Connector) EnsureUnsubscribed(symbols []string) { c.enqueue(false, symbols) }

func (c *Connector) enqueue(subscribe bool, symbols []string) {
	if len(symbols) == 0 {
		return
	}
	c.mu.Lock()
	if !c.live {
		// the next session subscribes from the registry snapshot
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, command{subscribe: subscribe, symbols: append([]string(nil), symbols...)})
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Connector) IsConnected() bool { return c.connected.Load() }

func (c *Connector) Stats() ConnectorStats {
	return ConnectorStats{
		Connected:    c.connected.Load(),
		Connects:     c.connects.Load(),
		Disconnects:  c.disconnects.Load(),
		DialFailures: c.dialFailures.Load(),
		Ticks:        c.ticks.Load(),
		Malformed:    c.malformed.Load(),
	}
}

// Start keeps one session running until ctx is done. It returns nil on shutdown and
// ErrMaxAttempts when MaxAttempts consecutive sessions failed.
func (c *Connector) Start(ctx context.Context) error {
	bo := NewBackoff(c.cfg.Backoff)
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			bo.Reset()
			failures = 0
		}
		failures++
		if c.cfg.MaxAttempts > 0 && failures >= c.cfg.MaxAttempts {
			return fmt.Errorf("%w (%d): %v", ErrMaxAttempts, failures, err)
		}

		delay := bo.Jittered(bo.Next())
		log.Warn().Err(err).
			Str("feed", c.codec.Name()).
			Int("attempt", bo.Attempt()).
			Int64("delay_ms", delay.Milliseconds()).
			Msg("ws disconnected, reconnecting")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// session dials, subscribes the registry snapshot and pumps frames until an error.
// connected reports whether the subscribe phase succeeded.
func (c *Connector) session(ctx context.Context) (connected bool, err error) {
	log.Info().Str("feed", c.codec.Name()).Str("url", c.cfg.URL).Msg("ws connecting")

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, _, err := c.dialer.DialContext(dctx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		c.dialFailures.Add(1)
		return false, fmt.Errorf("dial: %w", err)
	}

	c.beginSession()
	defer func() {
		c.endSession()
		_ = conn.Close()
	}()

	symbols := c.source.Symbols()
	if err := c.write(conn, true, symbols); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	c.connected.Store(true)
	c.connects.Add(1)
	defer func() {
		c.connected.Store(false)
		c.disconnects.Add(1)
	}()
	log.Info().Str("feed", c.codec.Name()).Int("symbols", len(symbols)).Msg("ws connected & subscribed")

	return true, c.pump(ctx, conn)
}

// beginSession drops commands from before this connection; the snapshot taken
// afterwards already reflects them.
func (c *Connector) beginSession() {
	c.mu.Lock()
	c.live = true
	c.pending = nil
	c.mu.Unlock()

	select {
	case <-c.wake:
	default:
	}
}

func (c *Connector) endSession() {
	c.mu.Lock()
	c.live = false
	c.pending = nil
	c.mu.Unlock()
}

func (c *Connector) pump(ctx context.Context, conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		return nil
	})

	errCh := make(chan error, 1)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
			c.handle(b)
		}
	}()
	// the reader exits once the deferred Close in session runs; wait for it so no
	// tick is delivered after Start returns
	defer func() {
		_ = conn.Close()
		<-readDone
	}()

	pingTicker := time.NewTicker(c.cfg.PingInterval)
	defer pingTicker.Stop()

	hb, appPing := c.codec.(heartbeater)

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout))
			return ctx.Err()
		case err := <-errCh:
			return fmt.Errorf("read: %w", err)
		case <-pingTicker.C:
			var err error
			if appPing {
				_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
				err = conn.WriteMessage(websocket.TextMessage, hb.HeartbeatMessage())
			} else {
				err = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.cfg.WriteTimeout))
			}
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case <-c.wake:
			if err := c.flush(conn); err != nil {
				return err
			}
		}
	}
}

func (c *Connector) flush(conn *websocket.Conn) error {
	c.mu.Lock()
	cmds := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, cmd := range cmds {
		if err := c.write(conn, cmd.subscribe, cmd.symbols); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		log.Debug().Str("feed", c.codec.Name()).Bool("subscribe", cmd.subscribe).Strs("symbols", cmd.symbols).Msg("upstream subscription changed")
	}
	return nil
}

func (c *Connector) write(conn *websocket.Conn, subscribe bool, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	var (
		msgs [][]byte
		err  error
	)
	if subscribe {
		msgs, err = c.codec.SubscribeMessages(symbols)
	} else {
		msgs, err = c.codec.UnsubscribeMessages(symbols)
	}
	if err != nil {
		return err
	}
	for _, m := range msgs {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) handle(b []byte) {
	ticks, err := c.codec.Decode(b, time.Now())
	if err != nil {
		if n := c.malformed.Add(1); n == 1 || n%100 == 0 {
			log.Warn().Err(err).Str("feed", c.codec.Name()).Int64("malformed_total", n).Msg("malformed upstream message dropped")
		}
		return
	}
	for _, t := range ticks {
		c.ticks.Add(1)
		c.handler.OnTick(t)
	}
}

var _ port.UpstreamSubscriber = (*Connector)(nil)
