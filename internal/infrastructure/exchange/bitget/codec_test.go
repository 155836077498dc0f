package bitget

import (
	"testing"
	"time"
)

func TestSubscribeMessages(t *testing.T) {
	msgs, err := NewCodec().SubscribeMessages([]string{" btcusdt ", ""})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"op":"subscribe","args":[{"instType":"SPOT","channel":"ticker","instId":"BTCUSDT"}]}`
	if len(msgs) != 1 || string(msgs[0]) != want {
		t.Fatalf("unexpected request %s", msgs)
	}
}

func TestDecodeSnapshot(t *testing.T) {
	raw := `{"action":"snapshot","arg":{"instType":"SPOT","channel":"ticker","instId":"BTCUSDT"},"data":[{"instId":"BTCUSDT","lastPr":"65000.10","open24h":"64000","change24h":"-0.0042","ts":"1700000000000"}],"ts":1700000000001}`
	ticks, err := NewCodec().Decode([]byte(raw), time.Now())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(ticks) != 1 || ticks[0].Symbol != "BTCUSDT" || ticks[0].Price.String() != "65000.1" || ticks[0].Source != Name {
		t.Fatalf("unexpected ticks %+v", ticks)
	}
	if ticks[0].ChangePercent == nil || ticks[0].ChangePercent.String() != "-0.42" {
		t.Fatalf("change percent = %v", ticks[0].ChangePercent)
	}
}

func TestDecodeControlAndErrors(t *testing.T) {
	c := NewCodec()
	for _, raw := range []string{`pong`, `{"event":"subscribe","arg":{"instType":"SPOT","channel":"ticker","instId":"BTCUSDT"}}`} {
		if ticks, err := c.Decode([]byte(raw), time.Now()); err != nil || len(ticks) != 0 {
			t.Fatalf("%s: %v %v", raw, ticks, err)
		}
	}
	for _, raw := range []string{
		`{"event":"error","code":30001,"msg":"instType:SPOT,channel:ticker,instId:FOO doesn't exist"}`,
		`{"action":"snapshot","arg":{"channel":"candle1m","instId":"BTCUSDT"},"data":[]}`,
		`{"action":"snapshot","arg":{"channel":"ticker","instId":"BTCUSDT"},"data":[{"instId":"BTCUSDT","lastPr":"abc"}]}`,
	} {
		if _, err := c.Decode([]byte(raw), time.Now()); err == nil {
			t.Fatalf("%s: expected error", raw)
		}
	}
}
