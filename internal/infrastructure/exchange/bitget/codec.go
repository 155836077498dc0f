package bitget

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

const Name = "bitget"

const maxArgsPerRequest = 50

var hundred = decimal.NewFromInt(100)

// Codec speaks Bitget v2 public spot tickers:
// {"op":"subscribe","args":[{"instType":"SPOT","channel":"ticker","instId":"BTCUSDT"}]}.
type Codec struct {
	instType  string
	converter exchange.SymbolConverter
}

func NewCodec() *Codec {
	return &Codec{instType: "SPOT", converter: exchange.PlainConverter{}}
}

func (c *Codec) Name() string { return Name }

type subArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
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

// HeartbeatMessage: Bitget expects a literal "ping" every 30s.
func (c *Codec) HeartbeatMessage() []byte { return []byte("ping") }

func (c *Codec) requests(op string, symbols []string) ([][]byte, error) {
	args := make([]subArg, 0, len(symbols))
	for _, s := range symbols {
		s = domain.CanonicalSymbol(s)
		if s == "" {
			continue
		}
		args = append(args, subArg{InstType: c.instType, Channel: "ticker", InstID: c.converter.ToVenue(s)})
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
	InstID    string `json:"instId"`
	LastPr    string `json:"lastPr"`
	Change24h string `json:"change24h"` // fraction, 0.0123 = 1.23%
	Ts        string `json:"ts"`
}

type tickerMsg struct {
	Event  string          `json:"event"`
	Code   json.RawMessage `json:"code"`
	Msg    string          `json:"msg"`
	Action string          `json:"action"`
	Arg    subArg          `json:"arg"`
	Data   []tickerData    `json:"data"`
}

func (c *Codec) Decode(msg []byte, receivedAt time.Time) ([]domain.PriceTick, error) {
	if bytes.Equal(bytes.TrimSpace(msg), []byte("pong")) {
		return nil, nil
	}

	var m tickerMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, fmt.Errorf("bitget: %w", err)
	}

	switch m.Event {
	case "":
	case "error":
		return nil, fmt.Errorf("bitget: error %s: %s", string(m.Code), m.Msg)
	default:
		return nil, nil
	}
	if m.Arg.Channel != "ticker" {
		return nil, fmt.Errorf("bitget: unexpected channel %q", m.Arg.Channel)
	}

	out := make([]domain.PriceTick, 0, len(m.Data))
	for _, d := range m.Data {
		sym := c.converter.FromVenue(d.InstID)
		pxs := strings.TrimSpace(d.LastPr)
		if sym == "" || pxs == "" {
			continue
		}
		px, err := decimal.NewFromString(pxs)
		if err != nil {
			return nil, fmt.Errorf("bitget: %s price %q: %w", sym, pxs, err)
		}
		if !px.IsPositive() {
			return nil, fmt.Errorf("bitget: %s non-positive price %s", sym, px)
		}

		var pct *decimal.Decimal
		if s := strings.TrimSpace(d.Change24h); s != "" {
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
