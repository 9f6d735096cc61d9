package bybit

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/jsyzc2019/hftbacktest/internal/schema"
)

var testAssets = schema.NewAssetMap([]schema.Asset{
	{Symbol: "BTCUSDT", AssetNo: 3},
	{Symbol: "ETHUSDT", AssetNo: 7},
})

func fixedClock(ns int64) func() time.Time {
	return func() time.Time { return time.Unix(0, ns) }
}

func mustEnvelope(t *testing.T, raw string) *envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return &env
}

func TestParseOrderBook(t *testing.T) {
	p := NewParser(testAssets, fixedClock(42))
	env := mustEnvelope(t, `{
		"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1700000000123,"cts":1700000000100,
		"data":{"s":"BTCUSDT","b":[["100.5","2.0"]],"a":[["100.6","1.0"]],"u":9,"seq":12}
	}`)
	ev, err := p.parseOrderBook(env)
	if err != nil {
		t.Fatalf("parseOrderBook: %v", err)
	}
	if ev.Type != schema.EventTypeDepth {
		t.Fatalf("unexpected event type %s", ev.Type)
	}
	depth, ok := ev.Payload.(schema.DepthPayload)
	if !ok {
		t.Fatalf("expected DepthPayload, got %T", ev.Payload)
	}
	if depth.AssetNo != 3 {
		t.Fatalf("expected asset 3, got %d", depth.AssetNo)
	}
	if depth.ExchTS != 1700000000100*1_000_000 {
		t.Fatalf("expected engine timestamp in nanos, got %d", depth.ExchTS)
	}
	if depth.LocalTS != 42 {
		t.Fatalf("expected local timestamp 42, got %d", depth.LocalTS)
	}
	if len(depth.Bids) != 1 || depth.Bids[0] != (schema.PriceLevel{Price: 100.5, Qty: 2.0}) {
		t.Fatalf("unexpected bids %+v", depth.Bids)
	}
	if len(depth.Asks) != 1 || depth.Asks[0] != (schema.PriceLevel{Price: 100.6, Qty: 1.0}) {
		t.Fatalf("unexpected asks %+v", depth.Asks)
	}
}

func TestParseOrderBookRequiresEngineTimestamp(t *testing.T) {
	p := NewParser(testAssets, fixedClock(42))
	env := mustEnvelope(t, `{
		"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1700000000123,
		"data":{"s":"BTCUSDT","b":[],"a":[]}
	}`)
	if _, err := p.parseOrderBook(env); err == nil {
		t.Fatal("expected error for push without cts")
	}
}

func TestParseOrderBookUnknownSymbol(t *testing.T) {
	p := NewParser(testAssets, fixedClock(42))
	env := mustEnvelope(t, `{
		"topic":"orderbook.50.DOGEUSDT","ts":1,"cts":1,
		"data":{"s":"DOGEUSDT","b":[],"a":[]}
	}`)
	if _, err := p.parseOrderBook(env); err == nil {
		t.Fatal("expected error for untracked symbol")
	}
}

func TestParsePublicTradesSkipsMalformedItems(t *testing.T) {
	p := NewParser(testAssets, fixedClock(99))
	env := mustEnvelope(t, `{
		"topic":"publicTrade.BTCUSDT","ts":1700000000500,
		"data":[
			{"T":1700000000400,"s":"BTCUSDT","S":"Sell","v":"0.25","p":"100.4","i":"t1"},
			{"T":1700000000401,"s":"BTCUSDT","S":"Buy","v":"bogus","p":"100.5","i":"t2"},
			{"T":1700000000402,"s":"DOGEUSDT","S":"Buy","v":"1","p":"1","i":"t3"}
		]
	}`)
	events, err := p.parsePublicTrades(env)
	if err != nil {
		t.Fatalf("parsePublicTrades: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	trade, ok := events[0].Payload.(schema.TradePayload)
	if !ok {
		t.Fatalf("expected TradePayload, got %T", events[0].Payload)
	}
	if trade.Side != schema.SideSell {
		t.Fatalf("expected sell side, got %s", trade.Side)
	}
	if trade.Price != 100.4 || trade.Qty != 0.25 {
		t.Fatalf("unexpected trade %+v", trade)
	}
	if trade.ExchTS != 1700000000400*1_000_000 {
		t.Fatalf("unexpected exchange timestamp %d", trade.ExchTS)
	}
}

func TestParsePositions(t *testing.T) {
	p := NewParser(testAssets, fixedClock(0))
	env := mustEnvelope(t, `{
		"topic":"position","ts":1,
		"data":[{"symbol":"ETHUSDT","side":"Buy","size":"2","positionValue":"1.5"}]
	}`)
	events, err := p.parsePositions(env)
	if err != nil {
		t.Fatalf("parsePositions: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	pos, ok := events[0].Payload.(schema.PositionPayload)
	if !ok {
		t.Fatalf("expected PositionPayload, got %T", events[0].Payload)
	}
	if pos.AssetNo != 7 || pos.Symbol != "ETHUSDT" || pos.Qty != 1.5 {
		t.Fatalf("unexpected position %+v", pos)
	}
}

func TestStatusFromVenue(t *testing.T) {
	cases := map[string]schema.OrderStatus{
		"New":                     schema.OrderStatusSubmitted,
		"Untriggered":             schema.OrderStatusSubmitted,
		"Triggered":               schema.OrderStatusSubmitted,
		"PartiallyFilled":         schema.OrderStatusPartiallyFilled,
		"Filled":                  schema.OrderStatusFilled,
		"Cancelled":               schema.OrderStatusCanceled,
		"PartiallyFilledCanceled": schema.OrderStatusCanceled,
		"Deactivated":             schema.OrderStatusCanceled,
		"Rejected":                schema.OrderStatusSubmitRejected,
	}
	for venueStatus, want := range cases {
		got, err := statusFromVenue(venueStatus)
		if err != nil {
			t.Fatalf("statusFromVenue(%s): %v", venueStatus, err)
		}
		if got != want {
			t.Fatalf("statusFromVenue(%s) = %s, want %s", venueStatus, got, want)
		}
	}
	if _, err := statusFromVenue("Mystery"); err == nil {
		t.Fatal("expected error for unknown venue status")
	}
}

func TestFillFromExecution(t *testing.T) {
	fill, err := fillFromExecution(executionItem{
		Symbol:      "BTCUSDT",
		OrderID:     "ex-1",
		OrderLinkID: "cl-1",
		Side:        "Buy",
		ExecQty:     "0.5",
		ExecPrice:   "100.25",
	})
	if err != nil {
		t.Fatalf("fillFromExecution: %v", err)
	}
	if fill.ClientOrderID != "cl-1" || fill.ExchangeOrderID != "ex-1" {
		t.Fatalf("unexpected identifiers %+v", fill)
	}
	if !fill.Qty.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("expected qty 0.5, got %s", fill.Qty)
	}
	if !fill.Price.Equal(decimal.RequireFromString("100.25")) {
		t.Fatalf("expected price 100.25, got %s", fill.Price)
	}

	if _, err := fillFromExecution(executionItem{ExecQty: "junk", ExecPrice: "1"}); err == nil {
		t.Fatal("expected error for malformed execQty")
	}
}

func TestPushFromOrder(t *testing.T) {
	push, err := pushFromOrder(orderItem{
		OrderID:     "ex-2",
		OrderLinkID: "cl-2",
		OrderStatus: "PartiallyFilled",
		CumExecQty:  "0.75",
	})
	if err != nil {
		t.Fatalf("pushFromOrder: %v", err)
	}
	if push.Status != schema.OrderStatusPartiallyFilled {
		t.Fatalf("unexpected status %s", push.Status)
	}
	if !push.CumFilledQty.Equal(decimal.RequireFromString("0.75")) {
		t.Fatalf("expected cum qty 0.75, got %s", push.CumFilledQty)
	}
}

func TestTopicPrefix(t *testing.T) {
	if got := topicPrefix("orderbook.50.BTCUSDT"); got != "orderbook" {
		t.Fatalf("unexpected prefix %s", got)
	}
	if got := topicPrefix("position"); got != "position" {
		t.Fatalf("unexpected prefix %s", got)
	}
}
