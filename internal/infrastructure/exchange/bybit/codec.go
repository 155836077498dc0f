package bybit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricehub/internal/domain"
)

const Name = "bybit"

// spot public streams accept at most 10 args per request
const maxArgsPerRequest = 10

var hundred = decimal.NewFromInt(100)

// Codec speaks Bybit v5 public tickers: {"op":"subscribe","args":["tickers.BTCUSDT"]}.
type Codec struct{}

func NewCodec() *Codec { return &Codec{} }

func (c *Codec) Name() string { return Name }

type opRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

func (c *Codec) SubscribeMessages(symbols []string) ([][]byte, error) {
	return requests("subscribe", symbols)
}

func (c *Codec) UnsubscribeMessages(symbols []string) ([][]byte, error) {
	return requests("unsubscribe", symbols)
}

// HeartbeatMessage is sent instead of a websocket ping; Bybit expects an application-level ping.
func (c *Codec) HeartbeatMessage() []byte {
	return []byte(`{"op":"ping"}`)
}

func requests(op string, symbols []string) ([][]byte, error) {
	topics := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = domain.CanonicalSymbol(s)
		if s == "" {
			continue
		}
		topics = append(topics, "tickers."+s)
	}

	var out [][]byte
	for len(topics) > 0 {
		n := min(len(topics), maxArgsPerRequest)
		b, err := json.Marshal(opRequest{Op: op, Args: topics[:n]})
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		topics = topics[n:]
	}
	return out, nil
}

type tickerItem struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Price24hPcnt string `json:"price24hPcnt"`
}

// data can be object OR array
type dataList []tickerItem

func (d *dataList) UnmarshalJSON(b []byte) error {
	b = trimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*d = nil
		return nil
	}
	switch b[0] {
	case '[':
		var arr []tickerItem
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		*d = arr
		return nil
	case '{':
		var one tickerItem
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*d = dataList{one}
		return nil
	default:
		return fmt.Errorf("unexpected data json: %s", string(b))
	}
}

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)-1
	for i <= j && (b[i] == ' ' || b[i] == '\n' || b[i] == '\r' || b[i] == '\t') {
		i++
	}
	for j >= i && (b[j] == ' ' || b[j] == '\n' || b[j] == '\r' || b[j] == '\t') {
		j--
	}
	if i > j {
		return []byte{}
	}
	return b[i : j+1]
}

type tickerMsg struct {
	Topic string   `json:"topic"`
	Type  string   `json:"type"`
	Ts    int64    `json:"ts"`
	Data  dataList `json:"data"`

	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
	Op      string `json:"op,omitempty"`
}

func (c *Codec) Decode(msg []byte, receivedAt time.Time) ([]domain.PriceTick, error) {
	var m tickerMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, fmt.Errorf("bybit: %w", err)
	}

	// ack / pong
	if m.Success != nil || m.Op != "" {
		if m.Success != nil && !*m.Success {
			return nil, fmt.Errorf("bybit: %s rejected: %s", m.Op, m.RetMsg)
		}
		return nil, nil
	}
	if !strings.HasPrefix(m.Topic, "tickers.") {
		return nil, fmt.Errorf("bybit: unexpected topic %q", m.Topic)
	}

	out := make([]domain.PriceTick, 0, len(m.Data))
	for _, d := range m.Data {
		sym := domain.CanonicalSymbol(d.Symbol)
		pxs := strings.TrimSpace(d.LastPrice)
		if sym == "" || pxs == "" {
			// linear deltas omit unchanged fields
			continue
		}
		px, err := decimal.NewFromString(pxs)
		if err != nil {
			return nil, fmt.Errorf("bybit: %s price %q: %w", sym, pxs, err)
		}
		if !px.IsPositive() {
			return nil, fmt.Errorf("bybit: %s non-positive price %s", sym, px)
		}

		var pct *decimal.Decimal
		if s := strings.TrimSpace(d.Price24hPcnt); s != "" {
			if frac, err := decimal.NewFromString(s); err == nil {
				v := frac.Mul(hundred)
				pct = &v
			}
		}

		out = append(out, domain.PriceTick{
			Symbol:        sym,
			Price:         px,
			ChangePercent: pct,
			ReceivedAt:    receivedAt,
			Source:        Name,
		})
	}
	return out, nil
}
