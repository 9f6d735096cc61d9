// Package live supervises the three venue stream sessions and exposes the
// order-entry surface used by the trading engine.
package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/jsyzc2019/hftbacktest/config"
	"github.com/jsyzc2019/hftbacktest/errs"
	"github.com/jsyzc2019/hftbacktest/internal/adapters/bybit"
	"github.com/jsyzc2019/hftbacktest/internal/observability"
	"github.com/jsyzc2019/hftbacktest/internal/orderstore"
	"github.com/jsyzc2019/hftbacktest/internal/schema"
)

const (
	eventBufferSize   = 1024
	requestBufferSize = 256
	// sessionStableAfter is how long a session must survive before the next
	// failure restarts the reconnect backoff from its initial interval.
	sessionStableAfter = 30 * time.Second
)

// Connector owns the public, private, and trade sessions against one venue.
// Each session reconnects independently with exponential backoff; the ledger
// and the event channel are shared across reconnects, so order state survives
// transport failures.
type Connector struct {
	cfg    config.VenueSettings
	assets schema.AssetMap
	ledger *orderstore.Ledger

	events   chan schema.LiveEvent
	requests chan *bybit.OrderRequest

	// closeMu orders enqueue sends against Close so a request is never sent
	// on the closed intake channel.
	closeMu   sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewConnector builds a connector from validated venue settings.
func NewConnector(cfg config.VenueSettings) *Connector {
	assets := make([]schema.Asset, 0, len(cfg.Symbols))
	for _, m := range cfg.Symbols {
		assets = append(assets, schema.Asset{Symbol: m.Symbol, AssetNo: m.AssetNo})
	}
	return &Connector{
		cfg:      cfg,
		assets:   schema.NewAssetMap(assets),
		ledger:   orderstore.NewLedger(bybit.Venue),
		events:   make(chan schema.LiveEvent, eventBufferSize),
		requests: make(chan *bybit.OrderRequest, requestBufferSize),
	}
}

// Events is the unified output stream consumed by the trading engine.
func (c *Connector) Events() <-chan schema.LiveEvent {
	return c.events
}

// Lookup resolves an order by client or exchange order id.
func (c *Connector) Lookup(id string) (schema.Order, bool) {
	return c.ledger.Lookup(id)
}

// Run starts and supervises all three sessions until the context is canceled.
func (c *Connector) Run(ctx context.Context) error {
	public := bybit.NewPublicStream(bybit.PublicStreamOptions{
		URL:              c.cfg.PublicURL,
		Topics:           c.cfg.Topics,
		Assets:           c.assets,
		Events:           c.events,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	})
	private := bybit.NewPrivateStream(bybit.PrivateStreamOptions{
		URL:              c.cfg.PrivateURL,
		APIKey:           c.cfg.Credentials.APIKey,
		APISecret:        c.cfg.Credentials.APISecret,
		Assets:           c.assets,
		Ledger:           c.ledger,
		Events:           c.events,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	})
	trade := bybit.NewTradeStream(bybit.TradeStreamOptions{
		URL:              c.cfg.TradeURL,
		APIKey:           c.cfg.Credentials.APIKey,
		APISecret:        c.cfg.Credentials.APISecret,
		Ledger:           c.ledger,
		Events:           c.events,
		Requests:         c.requests,
		RecvWindow:       c.cfg.RecvWindow,
		OrderRatePerSec:  c.cfg.OrderRatePerSec,
		OrderBurst:       c.cfg.OrderBurst,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	})

	var sessions conc.WaitGroup
	sessions.Go(func() { c.supervise(ctx, "public", public.Run) })
	sessions.Go(func() { c.supervise(ctx, "private", private.Run) })
	sessions.Go(func() { c.supervise(ctx, "trade", trade.Run) })
	sessions.Wait()
	return ctx.Err()
}

// supervise restarts one session until the context ends. Auth rejections are
// not retried: the credentials will not improve on reconnect, and the stream
// has already emitted the critical error.
func (c *Connector) supervise(ctx context.Context, name string, run func(context.Context) error) {
	policy := backoff.NewExponentialBackOff()

	for {
		if ctx.Err() != nil || c.closed.Load() {
			return
		}

		started := time.Now()
		err := run(ctx)
		if ctx.Err() != nil || c.closed.Load() {
			return
		}
		if err != nil {
			var venueErr *errs.E
			if errors.As(err, &venueErr) && venueErr.IsFatal() {
				observability.Log().Error("session not restarted after fatal rejection",
					observability.F("session", name))
				return
			}
			observability.Log().Warn("session ended",
				observability.F("session", name), observability.F("error", err))
		}

		if time.Since(started) >= sessionStableAfter {
			policy.Reset()
		}
		observability.Telemetry().IncCounter(observability.MetricReconnects, 1,
			map[string]string{"venue": bybit.Venue, "session": name})

		select {
		case <-ctx.Done():
			return
		case <-time.After(policy.NextBackOff()):
		}
	}
}

// NewClientOrderID returns a fresh caller-side order identifier.
func NewClientOrderID() string {
	return uuid.NewString()
}

// SubmitOrder registers the order in the ledger and enqueues its placement on
// the trade session. A missing client order id is assigned; the id in use is
// returned. The venue acknowledgement arrives asynchronously as events.
func (c *Connector) SubmitOrder(ctx context.Context, order schema.Order) (string, error) {
	if order.ClientOrderID == "" {
		order.ClientOrderID = NewClientOrderID()
	}
	asset, ok := c.assets.Lookup(order.Symbol)
	if !ok {
		return "", errs.New(bybit.Venue, errs.KindLookup,
			errs.WithMessage("symbol not tracked: "+order.Symbol))
	}
	order.AssetNo = asset.AssetNo
	order.Status = schema.OrderStatusNew

	if err := c.ledger.Register(order); err != nil {
		return "", err
	}

	payload := bybit.OrderPayload{
		Category:    c.cfg.Category,
		Symbol:      order.Symbol,
		Side:        order.Side.String(),
		Qty:         order.Qty.String(),
		OrderLinkID: order.ClientOrderID,
	}
	if order.Price.IsZero() {
		payload.OrderType = "Market"
	} else {
		payload.OrderType = "Limit"
		payload.Price = order.Price.String()
		payload.TimeInForce = "GTC"
	}

	if err := c.enqueue(ctx, &bybit.OrderRequest{Op: bybit.OpOrderCreate, Order: payload}); err != nil {
		return "", err
	}
	return order.ClientOrderID, nil
}

// CancelOrder enqueues a cancellation for a live order identified by client or
// exchange order id.
func (c *Connector) CancelOrder(ctx context.Context, id string) error {
	order, ok := c.ledger.Lookup(id)
	if !ok {
		return errs.New(bybit.Venue, errs.KindLookup,
			errs.WithMessage("unknown order "+id))
	}
	if !order.Live() {
		return errs.New(bybit.Venue, errs.KindOrder,
			errs.WithMessage("order "+order.ClientOrderID+" is not live"))
	}

	payload := bybit.OrderPayload{
		Category:    c.cfg.Category,
		Symbol:      order.Symbol,
		OrderLinkID: order.ClientOrderID,
		OrderID:     order.ExchangeOrderID,
	}
	return c.enqueue(ctx, &bybit.OrderRequest{Op: bybit.OpOrderCancel, Order: payload})
}

func (c *Connector) enqueue(ctx context.Context, req *bybit.OrderRequest) error {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed.Load() {
		return errs.New(bybit.Venue, errs.KindOrder, errs.WithMessage("connector closed"))
	}
	select {
	case c.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting order requests and lets the trade session drain and
// terminate. Safe to call more than once.
func (c *Connector) Close() {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		defer c.closeMu.Unlock()
		c.closed.Store(true)
		close(c.requests)
	})
}
