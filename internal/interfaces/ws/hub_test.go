package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pricehub/internal/domain"
)

// recordingRegistry is a minimal port.Registry keeping holder sets.
type recordingRegistry struct {
	mu   sync.Mutex
	held map[string]map[string]struct{}
}

func newRecordingRegistry() *recordingRegistry {
	return &recordingRegistry{held: map[string]map[string]struct{}{}}
}

func (r *recordingRegistry) Acquire(holder string, symbols []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held[holder] == nil {
		r.held[holder] = map[string]struct{}{}
	}
	for _, s := range symbols {
		r.held[holder][s] = struct{}{}
	}
	return symbols
}

func (r *recordingRegistry) Release(holder string, symbols []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range symbols {
		delete(r.held[holder], s)
	}
	return symbols
}

func (r *recordingRegistry) ReleaseAll(holder string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for s := range r.held[holder] {
		out = append(out, s)
	}
	delete(r.held, holder)
	return out
}

func (r *recordingRegistry) heldBy(holder string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for s := range r.held[holder] {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

type staticPrices map[string]domain.PriceTick

func (p staticPrices) Get(sym string) (domain.PriceTick, bool) {
	t, ok := p[sym]
	return t, ok
}

func (p staticPrices) GetAll() map[string]domain.PriceTick { return p }

func (p staticPrices) Len() int { return len(p) }

func tick(sym, price string) domain.PriceTick {
	return domain.PriceTick{Symbol: sym, Price: decimal.RequireFromString(price), ReceivedAt: time.Now(), Source: "test"}
}

// connect registers a client without a network connection.
func connect(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := h.newClient(nil, "", "test")
	if !h.add(c) {
		t.Fatal("add failed")
	}
	if f := next(t, c); f["type"] != TypeConnected || f["id"] != c.id {
		t.Fatalf("first frame %v", f)
	}
	return c
}

func next(t *testing.T, c *Client) map[string]any {
	t.Helper()
	f, ok := c.out.Pop()
	if !ok {
		t.Fatal("no frame queued")
	}
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(f.data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		t.Fatalf("bad frame %s: %v", f.data, err)
	}
	return m
}

func send(h *Hub, c *Client, v any) {
	b, _ := json.Marshal(v)
	h.handleMessage(c, b)
}

func TestSubscribeAcquiresAndAcks(t *testing.T) {
	reg := newRecordingRegistry()
	h := NewHub(DefaultConfig(), reg, staticPrices{})
	c := connect(t, h)

	send(h, c, Request{Action: ActionSubscribe, Symbols: []string{"btcusdt", "ETHUSDT", "btcusdt"}})
	f := next(t, c)
	if f["type"] != TypeSubscribed || !reflect.DeepEqual(f["symbols"], []any{"BTCUSDT", "ETHUSDT"}) {
		t.Fatalf("ack = %v", f)
	}
	if got := reg.heldBy(c.id); !reflect.DeepEqual(got, []string{"BTCUSDT", "ETHUSDT"}) {
		t.Fatalf("registry holds %v", got)
	}
	if got := h.SubscribedSymbols(); !reflect.DeepEqual(got, []string{"BTCUSDT", "ETHUSDT"}) {
		t.Fatalf("hub index %v", got)
	}

	send(h, c, Request{Action: ActionUnsubscribe, Symbols: []string{"ethusdt"}})
	if f := next(t, c); f["type"] != TypeUnsubscribed {
		t.Fatalf("ack = %v", f)
	}
	if got := reg.heldBy(c.id); !reflect.DeepEqual(got, []string{"BTCUSDT"}) {
		t.Fatalf("registry holds %v", got)
	}
}

func TestMalformedFramesGetErrorAndKeepConnection(t *testing.T) {
	h := NewHub(DefaultConfig(), newRecordingRegistry(), nil)
	c := connect(t, h)

	for _, raw := range []string{
		`{not json`,
		`{"action":"dance","symbols":["BTCUSDT"]}`,
		`{"action":"subscribe","symbols":[]}`,
		`{"action":"subscribe","symbols":["bad-symbol!"]}`,
	} {
		h.handleMessage(c, []byte(raw))
		if f := next(t, c); f["type"] != TypeError || f["message"] == "" {
			t.Fatalf("%s -> %v", raw, f)
		}
	}
	if h.ClientCount() != 1 || c.removed {
		t.Fatal("client was dropped for a protocol error")
	}
	if h.Stats().Rejected != 4 {
		t.Fatalf("stats = %+v", h.Stats())
	}
}

func TestSymbolLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSymbolsPerClient = 2
	reg := newRecordingRegistry()
	h := NewHub(cfg, reg, nil)
	c := connect(t, h)

	send(h, c, Request{Action: ActionSubscribe, Symbols: []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}})
	if f := next(t, c); f["type"] != TypeError {
		t.Fatalf("expected limit error, got %v", f)
	}
	if got := reg.heldBy(c.id); len(got) != 0 {
		t.Fatalf("partial subscribe leaked %v", got)
	}
}

func TestSnapshotOnSubscribe(t *testing.T) {
	prices := staticPrices{"BTCUSDT": tick("BTCUSDT", "65000")}
	h := NewHub(DefaultConfig(), newRecordingRegistry(), prices)
	c := connect(t, h)

	send(h, c, Request{Action: ActionSubscribe, Symbols: []string{"BTCUSDT", "ETHUSDT"}})
	next(t, c) // subscribed
	f := next(t, c)
	if f["type"] != TypePrice || f["symbol"] != "BTCUSDT" || f["price"] != json.Number("65000") {
		t.Fatalf("snapshot = %v", f)
	}
	if _, ok := c.out.Pop(); ok {
		t.Fatal("no snapshot expected for uncached symbol")
	}
}

func TestBroadcastOnlyToSubscribers(t *testing.T) {
	h := NewHub(DefaultConfig(), newRecordingRegistry(), nil)
	a := connect(t, h)
	b := connect(t, h)
	send(h, a, Request{Action: ActionSubscribe, Symbols: []string{"BTCUSDT"}})
	next(t, a)

	if n := h.Broadcast(tick("BTCUSDT", "1.5")); n != 1 {
		t.Fatalf("reached %d clients", n)
	}
	f := next(t, a)
	if f["price"] != json.Number("1.5") || f["changePercent"] != nil {
		t.Fatalf("frame = %v", f)
	}
	if _, err := time.Parse(time.RFC3339Nano, f["time"].(string)); err != nil {
		t.Fatalf("time not RFC3339Nano: %v", f["time"])
	}
	if b.out.Len() != 0 {
		t.Fatal("unsubscribed client received a price")
	}
}

func TestRemoveReleasesEverything(t *testing.T) {
	reg := newRecordingRegistry()
	h := NewHub(DefaultConfig(), reg, nil)
	c := connect(t, h)
	send(h, c, Request{Action: ActionSubscribe, Symbols: []string{"BTCUSDT", "ETHUSDT"}})

	h.remove(c, "test")
	h.remove(c, "again")

	if got := reg.heldBy(c.id); len(got) != 0 {
		t.Fatalf("leaked %v", got)
	}
	if len(h.SubscribedSymbols()) != 0 || h.ClientCount() != 0 {
		t.Fatal("hub still indexes the client")
	}

	// late messages from a torn-down reader must not re-acquire
	send(h, c, Request{Action: ActionSubscribe, Symbols: []string{"SOLUSDT"}})
	if got := reg.heldBy(c.id); len(got) != 0 {
		t.Fatalf("acquired after removal: %v", got)
	}
}

func TestSlowClientDoesNotBlockOthers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutboxSize = 4
	h := NewHub(cfg, newRecordingRegistry(), nil)
	slow := connect(t, h)
	fast := connect(t, h)
	for _, c := range []*Client{slow, fast} {
		send(h, c, Request{Action: ActionSubscribe, Symbols: []string{"BTCUSDT"}})
		next(t, c)
	}

	const n = 500
	for i := 0; i < n; i++ {
		h.Broadcast(tick("BTCUSDT", fmt.Sprintf("%d", 60000+i)))
		f := next(t, fast)
		if f["price"] != json.Number(fmt.Sprintf("%d", 60000+i)) {
			t.Fatalf("fast client got %v at %d", f["price"], i)
		}
	}

	if slow.out.Len() != cfg.OutboxSize {
		t.Fatalf("slow outbox len %d", slow.out.Len())
	}
	if slow.Dropped() != n-int64(cfg.OutboxSize) {
		t.Fatalf("slow dropped %d", slow.Dropped())
	}
	if fast.Dropped() != 0 {
		t.Fatalf("fast dropped %d", fast.Dropped())
	}
	// the slow client keeps the newest prices
	var last map[string]any
	for slow.out.Len() > 0 {
		last = next(t, slow)
	}
	if last["price"] != json.Number(fmt.Sprintf("%d", 60000+n-1)) {
		t.Fatalf("slow client's newest frame %v", last)
	}
}

func TestCloseTearsDownAllClients(t *testing.T) {
	reg := newRecordingRegistry()
	h := NewHub(DefaultConfig(), reg, nil)
	a := connect(t, h)
	send(h, a, Request{Action: ActionSubscribe, Symbols: []string{"BTCUSDT"}})

	h.Close()
	if h.ClientCount() != 0 || len(reg.heldBy(a.id)) != 0 {
		t.Fatal("close left clients behind")
	}
	if h.add(h.newClient(nil, "", "late")) {
		t.Fatal("closed hub accepted a client")
	}
}
