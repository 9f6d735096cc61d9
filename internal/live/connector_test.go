package live

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jsyzc2019/hftbacktest/config"
	"github.com/jsyzc2019/hftbacktest/errs"
	"github.com/jsyzc2019/hftbacktest/internal/adapters/bybit"
	"github.com/jsyzc2019/hftbacktest/internal/schema"
)

func testConnector() *Connector {
	return NewConnector(config.VenueSettings{
		Category: "linear",
		Symbols: []config.SymbolMapping{
			{Symbol: "BTCUSDT", AssetNo: 3},
			{Symbol: "ETHUSDT", AssetNo: 7},
		},
	})
}

func TestSubmitOrderRegistersAndEnqueues(t *testing.T) {
	c := testConnector()

	id, err := c.SubmitOrder(context.Background(), schema.Order{
		Symbol: "BTCUSDT",
		Side:   schema.SideBuy,
		Price:  decimal.RequireFromString("100.5"),
		Qty:    decimal.RequireFromString("1"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	order, ok := c.Lookup(id)
	require.True(t, ok)
	require.Equal(t, schema.OrderStatusNew, order.Status)
	require.Equal(t, 3, order.AssetNo)

	req := <-c.requests
	require.Equal(t, bybit.OpOrderCreate, req.Op)
	require.Equal(t, "linear", req.Order.Category)
	require.Equal(t, "Limit", req.Order.OrderType)
	require.Equal(t, "100.5", req.Order.Price)
	require.Equal(t, "GTC", req.Order.TimeInForce)
	require.Equal(t, id, req.Order.OrderLinkID)
}

func TestSubmitOrderMarketWhenPriceless(t *testing.T) {
	c := testConnector()

	_, err := c.SubmitOrder(context.Background(), schema.Order{
		Symbol: "ETHUSDT",
		Side:   schema.SideSell,
		Qty:    decimal.RequireFromString("2"),
	})
	require.NoError(t, err)

	req := <-c.requests
	require.Equal(t, "Market", req.Order.OrderType)
	require.Empty(t, req.Order.Price)
	require.Empty(t, req.Order.TimeInForce)
}

func TestSubmitOrderUnknownSymbol(t *testing.T) {
	c := testConnector()

	_, err := c.SubmitOrder(context.Background(), schema.Order{
		Symbol: "DOGEUSDT",
		Qty:    decimal.RequireFromString("1"),
	})
	require.Error(t, err)
}

func TestSubmitOrderDuplicateClientID(t *testing.T) {
	c := testConnector()

	order := schema.Order{
		ClientOrderID: "dup-1",
		Symbol:        "BTCUSDT",
		Side:          schema.SideBuy,
		Price:         decimal.RequireFromString("1"),
		Qty:           decimal.RequireFromString("1"),
	}
	_, err := c.SubmitOrder(context.Background(), order)
	require.NoError(t, err)
	<-c.requests

	_, err = c.SubmitOrder(context.Background(), order)
	require.Error(t, err)
}

func TestCancelOrder(t *testing.T) {
	c := testConnector()

	id, err := c.SubmitOrder(context.Background(), schema.Order{
		Symbol: "BTCUSDT",
		Side:   schema.SideBuy,
		Price:  decimal.RequireFromString("100"),
		Qty:    decimal.RequireFromString("1"),
	})
	require.NoError(t, err)
	<-c.requests

	require.NoError(t, c.CancelOrder(context.Background(), id))
	req := <-c.requests
	require.Equal(t, bybit.OpOrderCancel, req.Op)
	require.Equal(t, id, req.Order.OrderLinkID)

	require.Error(t, c.CancelOrder(context.Background(), "no-such-order"))
}

func TestCloseRejectsFurtherOrders(t *testing.T) {
	c := testConnector()
	c.Close()
	c.Close()

	_, err := c.SubmitOrder(context.Background(), schema.Order{
		Symbol: "BTCUSDT",
		Qty:    decimal.RequireFromString("1"),
	})
	require.Error(t, err)
}

func TestSuperviseStopsOnAuthRejection(t *testing.T) {
	c := testConnector()

	calls := 0
	run := func(ctx context.Context) error {
		calls++
		return errs.New(bybit.Venue, errs.KindCriticalConnection, errs.WithMessage("auth rejected"))
	}

	done := make(chan struct{})
	go func() {
		c.supervise(context.Background(), "trade", run)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervise should stop after an auth rejection")
	}
	require.Equal(t, 1, calls)
}

func TestSuperviseReturnsOnContextCancel(t *testing.T) {
	c := testConnector()
	ctx, cancel := context.WithCancel(context.Background())

	run := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	done := make(chan struct{})
	go func() {
		c.supervise(ctx, "public", run)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervise should return once the context is canceled")
	}
}

func TestSuperviseRestartsAfterTransportError(t *testing.T) {
	c := testConnector()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 4)
	run := func(ctx context.Context) error {
		calls <- struct{}{}
		return errs.New(bybit.Venue, errs.KindTransport, errs.WithMessage("socket reset"))
	}

	done := make(chan struct{})
	go func() {
		c.supervise(ctx, "public", run)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatalf("expected a restart after a transport error, got %d sessions", i)
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervise should stop once the context is canceled")
	}
}
