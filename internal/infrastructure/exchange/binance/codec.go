package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"pricehub/internal/domain"
)

const Name = "binance"

// maxParamsPerRequest keeps SUBSCRIBE requests well under the venue's message size limit.
const maxParamsPerRequest = 100

// Codec speaks the Binance spot stream protocol on a raw /ws endpoint:
// {"method":"SUBSCRIBE","params":["btcusdt@ticker"],"id":1} and 24hrTicker events.
type Codec struct {
	nextID atomic.Int64
}

func NewCodec() *Codec { return &Codec{} }

func (c *Codec) Name() string { return Name }

type streamRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (c *Codec) SubscribeMessages(symbols []string) ([][]byte, error) {
	return c.requests("SUBSCRIBE", symbols)
}

func (c *Codec) UnsubscribeMessages(symbols []string) ([][]byte, error) {
	return c.requests("UNSUBSCRIBE", symbols)
}

func (c *Codec) requests(method string, symbols []string) ([][]byte, error) {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		streams = append(streams, s+"@ticker")
	}

	var out [][]byte
	for len(streams) > 0 {
		n := min(len(streams), maxParamsPerRequest)
		b, err := json.Marshal(streamRequest{Method: method, Params: streams[:n], ID: c.nextID.Add(1)})
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		streams = streams[n:]
	}
	return out, nil
}

// tickerEvent lists the upper-case siblings (E, C, p) of the fields we read so that
// encoding/json's case-insensitive matching cannot put them in the wrong field.
type tickerEvent struct {
	Event       string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	Close       string `json:"c"`
	CloseTime   int64  `json:"C"`
	PriceChange string `json:"p"`
	ChangePct   string `json:"P"`

	// control frames
	Result json.RawMessage `json:"result"`
	ID     *int64          `json:"id"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

// combined stream wrapper, used when the URL points at /stream
type combinedEvent struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

var errNotTicker = errors.New("binance: not a ticker event")

func (c *Codec) Decode(msg []byte, receivedAt time.Time) ([]domain.PriceTick, error) {
	var wrap combinedEvent
	if err := json.Unmarshal(msg, &wrap); err != nil {
		return nil, fmt.Errorf("binance: %w", err)
	}
	if wrap.Stream != "" && len(wrap.Data) > 0 {
		msg = wrap.Data
	}

	var ev tickerEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return nil, fmt.Errorf("binance: %w", err)
	}

	if ev.Error != nil {
		return nil, fmt.Errorf("binance: request %d rejected: %d %s", idOf(ev.ID), ev.Error.Code, ev.Error.Msg)
	}
	if ev.ID != nil {
		// {"result":null,"id":n} ack
		return nil, nil
	}
	if ev.Event != "24hrTicker" {
		if ev.Event == "" {
			return nil, errNotTicker
		}
		return nil, nil
	}

	return decodeTicker(ev, receivedAt)
}

func decodeTicker(ev tickerEvent, receivedAt time.Time) ([]domain.PriceTick, error) {
	sym := domain.CanonicalSymbol(ev.Symbol)
	if sym == "" {
		return nil, errors.New("binance: ticker without symbol")
	}
	px, err := decimal.NewFromString(strings.TrimSpace(ev.Close))
	if err != nil {
		return nil, fmt.Errorf("binance: %s price %q: %w", sym, ev.Close, err)
	}
	if !px.IsPositive() {
		return nil, fmt.Errorf("binance: %s non-positive price %s", sym, px)
	}

	var pct *decimal.Decimal
	if s := strings.TrimSpace(ev.ChangePct); s != "" {
		if d, err := decimal.NewFromString(s); err == nil {
			pct = &d
		}
	}

	return []domain.PriceTick{{
		Symbol:        sym,
		Price:         px,
		ChangePercent: pct,
		ReceivedAt:    receivedAt,
		Source:        Name,
	}}, nil
}

func idOf(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
