package okx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricehub/internal/domain"
	"pricehub/internal/infrastructure/exchange"
)

const Name = "okx"

// OKX rejects subscribe requests larger than 4096 bytes; 50 args stays well under
const maxArgsPerRequest = 50

var hundred = decimal.NewFromInt(100)

// Codec speaks OKX v5 public tickers:
// {"op":"subscribe","args":[{"channel":"tickers","instId":"BTC-USDT"}]}.
type Codec struct {
	converter exchange.SymbolConverter
}

// NewCodec 现货: BTCUSDT <-> BTC-USDT
func NewCodec() *Codec {
	return &Codec{converter: exchange.NewDashedConverter("")}
}

func (c *Codec) Name() string { return Name }

type subArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type subReq struct {
	Op   string   `json:"op"`
	Args []subArg `json:"args"`
}

func (c *Codec) SubscribeMessages(symbols []string) ([][]byte, error) {
	return c.requests("subscribe", symbols)
}

func (c *Codec) UnsubscribeMessages(symbols []string) ([][]byte, error) {
	return c.requests("unsubscribe", symbols)
}

// HeartbeatMessage: OKX closes idle connections after 30s and wants a literal "ping".
func (c *Codec) HeartbeatMessage() []byte { return []byte("ping") }

func (c *Codec) requests(op string, symbols []string) ([][]byte, error) {
	args := make([]subArg, 0, len(symbols))
	for _, s := range symbols {
		s = domain.CanonicalSymbol(s)
		if s == "" {
			continue
		}
		args = append(args, subArg{Channel: "tickers", InstID: c.converter.ToVenue(s)})
	}

	var out [][]byte
	for len(args) > 0 {
		n := min(len(args), maxArgsPerRequest)
		b, err := json.Marshal(subReq{Op: op, Args: args[:n]})
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		args = args[n:]
	}
	return out, nil
}

type tickerData struct {
	InstID  string `json:"instId"`
	Last    string `json:"last"`
	Open24h string `json:"open24h"`
	Ts      string `json:"ts"`
}

type tickerMsg struct {
	Event string       `json:"event"`
	Code  string       `json:"code"`
	Msg   string       `json:"msg"`
	Arg   subArg       `json:"arg"`
	Data  []tickerData `json:"data"`
}

func (c *Codec) Decode(msg []byte, receivedAt time.Time) ([]domain.PriceTick, error) {
	if bytes.Equal(bytes.TrimSpace(msg), []byte("pong")) {
		return nil, nil
	}

	var m tickerMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, fmt.Errorf("okx: %w", err)
	}

	switch m.Event {
	case "":
	case "error":
		return nil, fmt.Errorf("okx: error %s: %s", m.Code, m.Msg)
	default:
		// subscribe / unsubscribe / channel-conn-count acks
		return nil, nil
	}
	if m.Arg.Channel != "tickers" {
		return nil, fmt.Errorf("okx: unexpected channel %q", m.Arg.Channel)
	}

	out := make([]domain.PriceTick, 0, len(m.Data))
	for _, d := range m.Data {
		sym := c.converter.FromVenue(d.InstID)
		pxs := strings.TrimSpace(d.Last)
		if sym == "" || pxs == "" {
			continue
		}
		px, err := decimal.NewFromString(pxs)
		if err != nil {
			return nil, fmt.Errorf("okx: %s price %q: %w", sym, pxs, err)
		}
		if !px.IsPositive() {
			return nil, fmt.Errorf("okx: %s non-positive price %s", sym, px)
		}

		// OKX sends no percent field; derive it from the 24h open
		var pct *decimal.Decimal
		if open, err := decimal.NewFromString(strings.TrimSpace(d.Open24h)); err == nil && open.IsPositive() {
			v := px.Sub(open).Div(open).Mul(hundred)
			pct = &v
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
