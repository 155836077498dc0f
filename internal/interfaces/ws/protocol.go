package ws

import (
	"encoding/json"
	"time"

	"pricehub/internal/domain"
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

const (
	TypePrice        = "price"
	TypeConnected    = "connected"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"
)

// Request is the only client->server frame.
type Request struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// PriceFrame carries price and changePercent as JSON numbers so no float rounding
// happens between the venue and the client.
type PriceFrame struct {
	Type          string       `json:"type"`
	Symbol        string       `json:"symbol"`
	Price         json.Number  `json:"price"`
	ChangePercent *json.Number `json:"changePercent"`
	Time          string       `json:"time"`
}

// ControlFrame covers connected/subscribed/unsubscribed/error.
type ControlFrame struct {
	Type    string   `json:"type"`
	ID      string   `json:"id,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
	Message string   `json:"message,omitempty"`
}

func NewPriceFrame(t domain.PriceTick) PriceFrame {
	f := PriceFrame{
		Type:   TypePrice,
		Symbol: t.Symbol,
		Price:  json.Number(t.Price.String()),
		Time:   t.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.ChangePercent != nil {
		n := json.Number(t.ChangePercent.String())
		f.ChangePercent = &n
	}
	return f
}

func encodePrice(t domain.PriceTick) (frame, error) {
	b, err := json.Marshal(NewPriceFrame(t))
	if err != nil {
		return frame{}, err
	}
	return frame{price: true, symbol: t.Symbol, data: b}, nil
}

func encodeControl(f ControlFrame) frame {
	b, err := json.Marshal(f)
	if err != nil {
		// ControlFrame has only strings; this cannot fail
		b = []byte(`{"type":"error","message":"internal encoding error"}`)
	}
	return frame{data: b}
}

func errorFrame(msg string) frame {
	return encodeControl(ControlFrame{Type: TypeError, Message: msg})
}
