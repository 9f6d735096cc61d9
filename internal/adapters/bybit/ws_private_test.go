package bybit

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/jsyzc2019/hftbacktest/errs"
	"github.com/jsyzc2019/hftbacktest/internal/orderstore"
	"github.com/jsyzc2019/hftbacktest/internal/schema"
)

func newTestPrivateStream(t *testing.T) (*PrivateStream, *orderstore.Ledger, chan schema.LiveEvent) {
	t.Helper()
	ledger := orderstore.NewLedger(Venue)
	events := make(chan schema.LiveEvent, 8)
	stream := NewPrivateStream(PrivateStreamOptions{
		Assets: testAssets,
		Ledger: ledger,
		Events: events,
	})
	return stream, ledger, events
}

func TestPrivateOrderPushBindsExchangeID(t *testing.T) {
	stream, ledger, events := newTestPrivateStream(t)
	registerSubmitted(t, ledger, "cl-10")

	frame := []byte(`{
		"topic":"order","ts":1700000001000,
		"data":[{"symbol":"BTCUSDT","orderId":"ex-10","orderLinkId":"cl-10",
			"orderStatus":"PartiallyFilled","side":"Buy","qty":"1","price":"100.5","cumExecQty":"0.4"}]
	}`)
	if err := stream.handleFrame(context.Background(), nil, frame); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}

	ev := <-events
	if ev.Type != schema.EventTypeOrderUpdate {
		t.Fatalf("unexpected event type %s", ev.Type)
	}
	update, ok := ev.Payload.(schema.OrderUpdatePayload)
	if !ok {
		t.Fatalf("expected OrderUpdatePayload, got %T", ev.Payload)
	}
	if update.Order.Status != schema.OrderStatusPartiallyFilled {
		t.Fatalf("unexpected status %s", update.Order.Status)
	}
	if !update.Order.FilledQty.Equal(decimal.RequireFromString("0.4")) {
		t.Fatalf("unexpected filled qty %s", update.Order.FilledQty)
	}

	order, ok := ledger.Lookup("ex-10")
	if !ok {
		t.Fatal("order should be reachable by exchange order id")
	}
	if order.ClientOrderID != "cl-10" {
		t.Fatalf("client id binding lost, got %s", order.ClientOrderID)
	}
}

func TestPrivateExecutionAccumulatesToFilled(t *testing.T) {
	stream, ledger, events := newTestPrivateStream(t)
	registerSubmitted(t, ledger, "cl-11")

	first := []byte(`{
		"topic":"execution.fast","ts":1,
		"data":[{"symbol":"BTCUSDT","orderId":"ex-11","orderLinkId":"cl-11",
			"side":"Buy","execQty":"0.4","execPrice":"100.5","execTime":"1700000001000"}]
	}`)
	if err := stream.handleFrame(context.Background(), nil, first); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}
	ev := <-events
	update := ev.Payload.(schema.OrderUpdatePayload)
	if update.Order.Status != schema.OrderStatusPartiallyFilled {
		t.Fatalf("expected PartiallyFilled, got %s", update.Order.Status)
	}

	second := []byte(`{
		"topic":"execution.fast","ts":2,
		"data":[{"symbol":"BTCUSDT","orderId":"ex-11","orderLinkId":"cl-11",
			"side":"Buy","execQty":"0.6","execPrice":"100.5","execTime":"1700000002000"}]
	}`)
	if err := stream.handleFrame(context.Background(), nil, second); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}
	ev = <-events
	update = ev.Payload.(schema.OrderUpdatePayload)
	if update.Order.Status != schema.OrderStatusFilled {
		t.Fatalf("expected Filled, got %s", update.Order.Status)
	}
	if !update.Order.FilledQty.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("unexpected filled qty %s", update.Order.FilledQty)
	}

	order, _ := ledger.Lookup("cl-11")
	if order.Status != schema.OrderStatusFilled {
		t.Fatalf("ledger entry not terminal, got %s", order.Status)
	}
}

func TestPrivateExecutionForUnknownOrderTolerated(t *testing.T) {
	stream, _, events := newTestPrivateStream(t)

	frame := []byte(`{
		"topic":"execution.fast","ts":1,
		"data":[{"symbol":"BTCUSDT","orderId":"ex-ghost","orderLinkId":"",
			"side":"Sell","execQty":"1","execPrice":"99","execTime":"1700000001000"}]
	}`)
	if err := stream.handleFrame(context.Background(), nil, frame); err != nil {
		t.Fatalf("handleFrame should tolerate unknown orders: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestPrivateAuthRejectionSkipsSubscribe(t *testing.T) {
	stream, _, events := newTestPrivateStream(t)

	// A nil connection would panic on any write; the rejection path must not
	// reach the subscribe request.
	frame := []byte(`{"op":"auth","success":false,"ret_msg":"api key invalid"}`)
	err := stream.handleFrame(context.Background(), nil, frame)
	if err == nil {
		t.Fatal("expected auth rejection to terminate the session")
	}
	ev := <-events
	if ev.Type != schema.EventTypeError {
		t.Fatalf("expected error event, got %s", ev.Type)
	}
}

func TestPrivatePositionPushEmits(t *testing.T) {
	stream, _, events := newTestPrivateStream(t)

	frame := []byte(`{
		"topic":"position","ts":1,
		"data":[{"symbol":"ETHUSDT","side":"Buy","size":"2","positionValue":"3.5"}]
	}`)
	if err := stream.handleFrame(context.Background(), nil, frame); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}
	ev := <-events
	pos, ok := ev.Payload.(schema.PositionPayload)
	if !ok {
		t.Fatalf("expected PositionPayload, got %T", ev.Payload)
	}
	if pos.AssetNo != 7 || pos.Qty != 3.5 {
		t.Fatalf("unexpected position %+v", pos)
	}
}

func TestPrivateRunRejectsMissingCredentials(t *testing.T) {
	stream, _, _ := newTestPrivateStream(t)

	err := stream.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error without credentials")
	}
	var venueErr *errs.E
	if !errors.As(err, &venueErr) || venueErr.Kind != errs.KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if !venueErr.IsFatal() {
		t.Fatal("missing credentials must not trigger a reconnect")
	}
}
