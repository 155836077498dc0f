package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pricehub/internal/application/service"
	"pricehub/internal/domain"
	"pricehub/internal/interfaces/ws"
)

type connectedFlag bool

func (c connectedFlag) IsConnected() bool { return bool(c) }

func newTestServer(t *testing.T, connected bool) (*httptest.Server, *service.PriceCache) {
	t.Helper()
	cache := service.NewPriceCache()
	cp := decimal.RequireFromString("-1.5")
	cache.Update(domain.PriceTick{Symbol: "ETHUSDT", Price: decimal.RequireFromString("3500.25"), ChangePercent: &cp, ReceivedAt: time.Unix(1700000000, 0)})
	cache.Update(domain.PriceTick{Symbol: "BTCUSDT", Price: decimal.RequireFromString("65000"), ReceivedAt: time.Unix(1700000000, 0)})

	reg := service.NewSubscriptionRegistry()
	reg.Acquire("c1", []string{"BTCUSDT"})

	status := service.NewStatusService(connectedFlag(connected), reg, cache)
	srv := NewServer(Deps{Status: status, Prices: cache})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, cache
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode
}

func TestStatusEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, true)

	var st service.Status
	if code := getJSON(t, ts.URL+"/status", &st); code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if !st.UpstreamConnected || st.CachedPrices != 2 {
		t.Fatalf("unexpected status %+v", st)
	}
	if len(st.SubscribedSymbols) != 1 || st.SubscribedSymbols[0] != "BTCUSDT" {
		t.Fatalf("unexpected symbols %v", st.SubscribedSymbols)
	}
}

func TestHealthDegradedWhenUpstreamDown(t *testing.T) {
	ts, _ := newTestServer(t, false)

	var h struct{ Status, Upstream string }
	if code := getJSON(t, ts.URL+"/healthz", &h); code != http.StatusOK {
		t.Fatalf("health code %d", code)
	}
	if h.Status != "degraded" || h.Upstream != "disconnected" {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestPricesEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, true)

	var all []ws.PriceFrame
	getJSON(t, ts.URL+"/prices", &all)
	if len(all) != 2 || all[0].Symbol != "BTCUSDT" || all[1].Symbol != "ETHUSDT" {
		t.Fatalf("unexpected prices %+v", all)
	}
	if all[0].ChangePercent != nil {
		t.Fatalf("expected null changePercent for BTCUSDT")
	}
	if all[1].Price.String() != "3500.25" || all[1].ChangePercent == nil || all[1].ChangePercent.String() != "-1.5" {
		t.Fatalf("unexpected ETHUSDT frame %+v", all[1])
	}

	var some []ws.PriceFrame
	getJSON(t, ts.URL+"/prices?symbols=ethusdt,DOGEUSDT", &some)
	if len(some) != 1 || some[0].Symbol != "ETHUSDT" {
		t.Fatalf("unexpected filtered prices %+v", some)
	}
}
