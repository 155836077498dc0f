package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pricehub/internal/domain"
	"pricehub/internal/infrastructure/exchange/binance"
)

type staticSource struct {
	mu      sync.Mutex
	symbols []string
}

func (s *staticSource) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.symbols...)
}

func (s *staticSource) set(symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = symbols
}

type tickSink struct {
	ch chan domain.PriceTick
}

func (s *tickSink) OnTick(t domain.PriceTick) { s.ch <- t }

type subscribeFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// fakeVenue accepts websocket connections and exposes each one to the test.
type fakeVenue struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newFakeVenue(t *testing.T) *fakeVenue {
	t.Helper()
	v := &fakeVenue{conns: make(chan *websocket.Conn, 4)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	v.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		v.conns <- conn
	}))
	t.Cleanup(v.srv.Close)
	return v
}

func (v *fakeVenue) url() string { return "ws" + strings.TrimPrefix(v.srv.URL, "http") }

func (v *fakeVenue) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-v.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("connector did not connect")
		return nil
	}
}

func readFrame(t *testing.T, c *websocket.Conn) subscribeFrame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, b, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("venue read: %v", err)
	}
	var f subscribeFrame
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatalf("venue got %s: %v", b, err)
	}
	return f
}

func fastConfig(url string) Config {
	return Config{
		URL:          url,
		DialTimeout:  time.Second,
		IdleTimeout:  5 * time.Second,
		PingInterval: time.Second,
		Backoff:      BackoffConfig{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond, Factor: 2},
	}
}

func TestConnectorSubscribesSnapshotAndDeliversTicks(t *testing.T) {
	venue := newFakeVenue(t)
	source := &staticSource{symbols: []string{"BTCUSDT"}}
	sink := &tickSink{ch: make(chan domain.PriceTick, 8)}
	c := NewConnector(fastConfig(venue.url()), binance.NewCodec(), sink, source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	conn := venue.accept(t)
	if f := readFrame(t, conn); f.Method != "SUBSCRIBE" || len(f.Params) != 1 || f.Params[0] != "btcusdt@ticker" {
		t.Fatalf("unexpected first frame %+v", f)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"24hrTicker","E":1,"s":"BTCUSDT","c":"65000","C":1,"P":"1.5","p":"900"}`))

	select {
	case tk := <-sink.ch:
		if tk.Symbol != "BTCUSDT" || tk.Price.String() != "65000" || tk.ChangePercent == nil {
			t.Fatalf("unexpected tick %+v", tk)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no tick delivered")
	}

	if !c.IsConnected() {
		t.Fatal("expected connected")
	}
	st := c.Stats()
	if st.Connects != 1 || st.Ticks != 1 || st.Malformed != 1 {
		t.Fatalf("stats = %+v", st)
	}

	// live commands reach the venue
	c.EnsureSubscribed([]string{"ETHUSDT"})
	if f := readFrame(t, conn); f.Method != "SUBSCRIBE" || f.Params[0] != "ethusdt@ticker" {
		t.Fatalf("unexpected frame %+v", f)
	}
	c.EnsureUnsubscribed([]string{"ETHUSDT"})
	if f := readFrame(t, conn); f.Method != "UNSUBSCRIBE" || f.Params[0] != "ethusdt@ticker" {
		t.Fatalf("unexpected frame %+v", f)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v on shutdown", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return")
	}
	if c.IsConnected() {
		t.Fatal("still connected after shutdown")
	}
}

func TestConnectorResubscribesRegistrySnapshotOnReconnect(t *testing.T) {
	venue := newFakeVenue(t)
	source := &staticSource{symbols: []string{"BTCUSDT"}}
	sink := &tickSink{ch: make(chan domain.PriceTick, 8)}
	c := NewConnector(fastConfig(venue.url()), binance.NewCodec(), sink, source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)

	first := venue.accept(t)
	readFrame(t, first)

	// registry changes while the link is going down; the next session must use the new set
	source.set("ETHUSDT", "SOLUSDT")
	first.Close()

	second := venue.accept(t)
	f := readFrame(t, second)
	if f.Method != "SUBSCRIBE" || len(f.Params) != 2 || f.Params[0] != "ethusdt@ticker" || f.Params[1] != "solusdt@ticker" {
		t.Fatalf("reconnect subscribed %+v", f)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Stats().Connects < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if st := c.Stats(); st.Connects != 2 || st.Disconnects != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestConnectorDropsCommandsWhileDisconnected(t *testing.T) {
	c := NewConnector(fastConfig("ws://127.0.0.1:1"), binance.NewCodec(), &tickSink{}, &staticSource{})
	c.EnsureSubscribed([]string{"BTCUSDT"})

	c.mu.Lock()
	n := len(c.pending)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("queued %d commands without a session", n)
	}
}

func TestConnectorMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	cfg := fastConfig(url)
	cfg.MaxAttempts = 3
	c := NewConnector(cfg, binance.NewCodec(), &tickSink{}, &staticSource{})

	err := c.Start(context.Background())
	if !errors.Is(err, ErrMaxAttempts) {
		t.Fatalf("expected ErrMaxAttempts, got %v", err)
	}
	if st := c.Stats(); st.DialFailures != 3 || st.Connects != 0 {
		t.Fatalf("stats = %+v", st)
	}
}
