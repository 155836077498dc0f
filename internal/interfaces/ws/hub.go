package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pricehub/internal/application/port"
	"pricehub/internal/application/service"
	"pricehub/internal/domain"
)

// Config for downstream connections.
type Config struct {
	OutboxSize          int
	MaxMessageBytes     int64
	MaxSymbolsPerClient int
	WriteTimeout        time.Duration
	PongWait            time.Duration
	PingPeriod          time.Duration // must be < PongWait
	SnapshotOnSubscribe bool
}

func DefaultConfig() Config {
	return Config{
		OutboxSize:          256,
		MaxMessageBytes:     64 * 1024,
		MaxSymbolsPerClient: 100,
		WriteTimeout:        5 * time.Second,
		PongWait:            60 * time.Second,
		PingPeriod:          54 * time.Second,
		SnapshotOnSubscribe: true,
	}
}

// HubStats is a point-in-time view.
type HubStats struct {
	Clients   int   `json:"clients"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Rejected  int64 `json:"rejected_frames"`
}

// Hub fans ticks out to subscribed clients. A client's symbols are mirrored in the
// registry under the client id; bySymbol is the hub's own index for delivery.
type Hub struct {
	cfg      Config
	registry port.Registry
	prices   port.PriceReader
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	clients  map[string]*Client
	bySymbol map[string]map[*Client]struct{}
	closed   bool

	delivered atomic.Int64
	dropped   atomic.Int64
	rejected  atomic.Int64
}

func NewHub(cfg Config, registry port.Registry, prices port.PriceReader) *Hub {
	def := DefaultConfig()
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = def.OutboxSize
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if cfg.MaxSymbolsPerClient <= 0 {
		cfg.MaxSymbolsPerClient = def.MaxSymbolsPerClient
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	return &Hub{
		cfg:      cfg,
		registry: registry,
		prices:   prices,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// the hub is a public market-data feed
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:  make(map[string]*Client),
		bySymbol: make(map[string]map[*Client]struct{}),
	}
}

// ServeHTTP upgrades the request and starts the client's pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := h.newClient(conn, tokenFrom(r), r.RemoteAddr)
	if !h.add(c) {
		_ = conn.Close()
		return
	}
	go c.writePump(h)
	go c.readPump(h)
}

func tokenFrom(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

func (h *Hub) newClient(conn *websocket.Conn, token, remote string) *Client {
	return &Client{
		id:      uuid.NewString(),
		token:   token,
		remote:  remote,
		conn:    conn,
		out:     NewOutbox(h.cfg.OutboxSize),
		symbols: make(map[string]struct{}),
	}
}

// add registers c and queues the connected frame.
func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()

	c.send(encodeControl(ControlFrame{Type: TypeConnected, ID: c.id}))
	log.Info().Str("client_id", c.id).Str("remote", c.remote).Bool("token", c.token != "").Int("clients", n).Msg("client connected")
	return true
}

// remove tears a client down exactly once and always releases its registry holdings.
func (h *Hub) remove(c *Client, reason string) {
	h.mu.Lock()
	if c.removed {
		h.mu.Unlock()
		return
	}
	c.removed = true
	for sym := range c.symbols {
		h.unindexLocked(c, sym)
	}
	delete(h.clients, c.id)
	released := h.registry.ReleaseAll(c.id)
	h.mu.Unlock()

	c.out.Close()
	log.Info().
		Str("client_id", c.id).
		Str("reason", reason).
		Int("symbols", len(c.symbols)).
		Strs("unsubscribed_upstream", released).
		Int64("dropped", c.Dropped()).
		Msg("client disconnected")
}

func (h *Hub) unindexLocked(c *Client, sym string) {
	set := h.bySymbol[sym]
	delete(set, c)
	if len(set) == 0 {
		delete(h.bySymbol, sym)
	}
}

func (h *Hub) handleMessage(c *Client, b []byte) {
	var req Request
	if err := json.Unmarshal(b, &req); err != nil {
		h.rejected.Add(1)
		c.sendError("invalid JSON: " + err.Error())
		return
	}

	switch req.Action {
	case ActionSubscribe:
		h.subscribe(c, req.Symbols)
	case ActionUnsubscribe:
		h.unsubscribe(c, req.Symbols)
	default:
		h.rejected.Add(1)
		c.sendError(fmt.Sprintf("unknown action %q", req.Action))
	}
}

// parseSymbols canonicalizes and splits into valid and invalid, de-duplicated.
func parseSymbols(in []string) (valid, invalid []string) {
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		sym := domain.CanonicalSymbol(s)
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		if domain.ValidSymbol(sym) {
			valid = append(valid, sym)
		} else {
			invalid = append(invalid, s)
		}
	}
	return valid, invalid
}

func (h *Hub) subscribe(c *Client, symbols []string) {
	valid, invalid := parseSymbols(symbols)
	if len(invalid) > 0 {
		h.rejected.Add(1)
		c.sendError(fmt.Sprintf("invalid symbols: %s", strings.Join(invalid, ",")))
	}
	if len(valid) == 0 {
		if len(invalid) == 0 {
			h.rejected.Add(1)
			c.sendError("subscribe requires at least one symbol")
		}
		return
	}

	h.mu.Lock()
	if c.removed {
		h.mu.Unlock()
		return
	}
	var added []string
	for _, sym := range valid {
		if _, ok := c.symbols[sym]; !ok {
			added = append(added, sym)
		}
	}
	if len(c.symbols)+len(added) > h.cfg.MaxSymbolsPerClient {
		held := len(c.symbols)
		h.mu.Unlock()
		h.rejected.Add(1)
		c.sendError(fmt.Sprintf("symbol limit %d exceeded (holding %d, requested %d new)", h.cfg.MaxSymbolsPerClient, held, len(added)))
		return
	}

	h.registry.Acquire(c.id, added)
	for _, sym := range added {
		c.symbols[sym] = struct{}{}
		set := h.bySymbol[sym]
		if set == nil {
			set = make(map[*Client]struct{})
			h.bySymbol[sym] = set
		}
		set[c] = struct{}{}
	}
	h.mu.Unlock()

	c.send(encodeControl(ControlFrame{Type: TypeSubscribed, Symbols: valid}))

	if h.cfg.SnapshotOnSubscribe && h.prices != nil {
		for _, sym := range added {
			t, ok := h.prices.Get(sym)
			if !ok {
				continue
			}
			if f, err := encodePrice(t); err == nil {
				c.send(f)
			}
		}
	}
	log.Debug().Str("client_id", c.id).Strs("symbols", added).Msg("client subscribed")
}

func (h *Hub) unsubscribe(c *Client, symbols []string) {
	valid, invalid := parseSymbols(symbols)
	if len(invalid) > 0 {
		h.rejected.Add(1)
		c.sendError(fmt.Sprintf("invalid symbols: %s", strings.Join(invalid, ",")))
	}
	if len(valid) == 0 {
		if len(invalid) == 0 {
			h.rejected.Add(1)
			c.sendError("unsubscribe requires at least one symbol")
		}
		return
	}

	h.mu.Lock()
	if c.removed {
		h.mu.Unlock()
		return
	}
	var removed []string
	for _, sym := range valid {
		if _, ok := c.symbols[sym]; !ok {
			continue
		}
		delete(c.symbols, sym)
		h.unindexLocked(c, sym)
		removed = append(removed, sym)
	}
	h.registry.Release(c.id, removed)
	h.mu.Unlock()

	log.Debug().Str("client_id", c.id).Strs("symbols", removed).Msg("client unsubscribed")

	c.send(encodeControl(ControlFrame{Type: TypeUnsubscribed, Symbols: valid}))
}

// Broadcast enqueues t for every client subscribed to its symbol and returns how
// many clients it reached.
func (h *Hub) Broadcast(t domain.PriceTick) int {
	h.mu.RLock()
	set := h.bySymbol[t.Symbol]
	if len(set) == 0 {
		h.mu.RUnlock()
		return 0
	}
	targets := make([]*Client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	f, err := encodePrice(t)
	if err != nil {
		log.Error().Err(err).Str("symbol", t.Symbol).Msg("encode price frame failed")
		return 0
	}
	for _, c := range targets {
		before := c.out.Dropped()
		if c.out.Push(f) {
			h.delivered.Add(1)
		}
		if c.out.Dropped() > before {
			h.dropped.Add(1)
		}
	}
	return len(targets)
}

// Run fans ticks from q out to clients until ctx is done or q is closed, then closes
// every client.
func (h *Hub) Run(ctx context.Context, q *service.TickQueue) error {
	stop := context.AfterFunc(ctx, q.Close)
	defer stop()

	log.Info().Msg("hub fan-out started")
	for {
		t, ok := q.Receive()
		if !ok || ctx.Err() != nil {
			break
		}
		h.Broadcast(t)
	}
	h.Close()
	log.Info().Msg("hub fan-out stopped")
	return nil
}

// Close stops accepting clients and tears down the connected ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c, "hub closed")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscribedSymbols lists the symbols at least one client holds, sorted.
func (h *Hub) SubscribedSymbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.bySymbol))
	for sym := range h.bySymbol {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) Stats() HubStats {
	return HubStats{
		Clients:   h.ClientCount(),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
		Rejected:  h.rejected.Load(),
	}
}
