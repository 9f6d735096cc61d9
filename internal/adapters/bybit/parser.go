package bybit

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/jsyzc2019/hftbacktest/errs"
	"github.com/jsyzc2019/hftbacktest/internal/numeric"
	"github.com/jsyzc2019/hftbacktest/internal/observability"
	"github.com/jsyzc2019/hftbacktest/internal/orderstore"
	"github.com/jsyzc2019/hftbacktest/internal/schema"
)

// Topic prefixes multiplexed over the public and private streams.
const (
	topicOrderBook   = "orderbook"
	topicPublicTrade = "publicTrade"
	topicPosition    = "position"
	topicExecution   = "execution"
	topicOrder       = "order"
)

// Parser normalizes decoded topic bodies into live events. A malformed item
// drops only itself; sibling items in the same payload still produce events.
type Parser struct {
	assets schema.AssetMap
	clock  func() time.Time
}

// NewParser creates a parser over the session's immutable asset mapping.
func NewParser(assets schema.AssetMap, clock func() time.Time) *Parser {
	if clock == nil {
		clock = time.Now
	}
	return &Parser{assets: assets, clock: clock}
}

// parseOrderBook converts one orderbook topic push into a Depth event.
// The venue engine timestamp (cts) is required; its absence fails this one
// message, never the session.
func (p *Parser) parseOrderBook(env *envelope) (schema.LiveEvent, error) {
	var data orderBookData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return schema.LiveEvent{}, errs.New(Venue, errs.KindDecode,
			errs.WithMessage("decode orderbook body"), errs.WithCause(err))
	}
	asset, ok := p.assets.Lookup(data.Symbol)
	if !ok {
		return schema.LiveEvent{}, p.unknownSymbol(data.Symbol)
	}
	if env.CTS == nil {
		return schema.LiveEvent{}, errs.New(Venue, errs.KindDecode,
			errs.WithMessage("orderbook push without engine timestamp"))
	}
	bids, err := numeric.ParseLevels(data.Bids)
	if err != nil {
		return schema.LiveEvent{}, err
	}
	asks, err := numeric.ParseLevels(data.Asks)
	if err != nil {
		return schema.LiveEvent{}, err
	}
	return schema.NewDepthEvent(schema.DepthPayload{
		AssetNo: asset.AssetNo,
		ExchTS:  numeric.MillisToNanos(*env.CTS),
		LocalTS: p.clock().UnixNano(),
		Bids:    bids,
		Asks:    asks,
	}), nil
}

// parsePublicTrades converts a publicTrade topic push into one Trade event per
// well-formed list element.
func (p *Parser) parsePublicTrades(env *envelope) ([]schema.LiveEvent, error) {
	var items []tradeItem
	if err := json.Unmarshal(env.Data, &items); err != nil {
		return nil, errs.New(Venue, errs.KindDecode,
			errs.WithMessage("decode publicTrade body"), errs.WithCause(err))
	}
	events := make([]schema.LiveEvent, 0, len(items))
	for _, item := range items {
		asset, ok := p.assets.Lookup(item.Symbol)
		if !ok {
			p.diag(p.unknownSymbol(item.Symbol))
			continue
		}
		price, err := numeric.ParsePrice(item.Price)
		if err != nil {
			p.diag(err)
			continue
		}
		qty, err := numeric.ParsePrice(item.Size)
		if err != nil {
			p.diag(err)
			continue
		}
		events = append(events, schema.NewTradeEvent(schema.TradePayload{
			AssetNo: asset.AssetNo,
			ExchTS:  numeric.MillisToNanos(item.Time),
			LocalTS: p.clock().UnixNano(),
			Side:    sideFromVenue(item.Side),
			Price:   price,
			Qty:     qty,
		}))
	}
	return events, nil
}

// parsePositions converts a position topic push into replace-on-update
// Position events.
func (p *Parser) parsePositions(env *envelope) ([]schema.LiveEvent, error) {
	var items []positionItem
	if err := json.Unmarshal(env.Data, &items); err != nil {
		return nil, errs.New(Venue, errs.KindDecode,
			errs.WithMessage("decode position body"), errs.WithCause(err))
	}
	events := make([]schema.LiveEvent, 0, len(items))
	for _, item := range items {
		asset, ok := p.assets.Lookup(item.Symbol)
		if !ok {
			p.diag(p.unknownSymbol(item.Symbol))
			continue
		}
		qty, err := decimal.NewFromString(item.PositionValue)
		if err != nil {
			p.diag(errs.New(Venue, errs.KindDecode,
				errs.WithMessage("malformed position value for "+item.Symbol), errs.WithCause(err)))
			continue
		}
		events = append(events, schema.NewPositionEvent(schema.PositionPayload{
			AssetNo: asset.AssetNo,
			Symbol:  item.Symbol,
			Qty:     qty.InexactFloat64(),
		}))
	}
	return events, nil
}

// fillFromExecution converts one execution item into a ledger fill.
func fillFromExecution(item executionItem) (orderstore.Fill, error) {
	qty, err := decimal.NewFromString(item.ExecQty)
	if err != nil {
		return orderstore.Fill{}, errs.New(Venue, errs.KindDecode,
			errs.WithMessage("malformed execQty for order "+item.OrderID), errs.WithCause(err))
	}
	price, err := decimal.NewFromString(item.ExecPrice)
	if err != nil {
		return orderstore.Fill{}, errs.New(Venue, errs.KindDecode,
			errs.WithMessage("malformed execPrice for order "+item.OrderID), errs.WithCause(err))
	}
	return orderstore.Fill{
		ClientOrderID:   item.OrderLinkID,
		ExchangeOrderID: item.OrderID,
		Qty:             qty,
		Price:           price,
	}, nil
}

// pushFromOrder converts one order item into a ledger order push.
func pushFromOrder(item orderItem) (orderstore.OrderPush, error) {
	status, err := statusFromVenue(item.OrderStatus)
	if err != nil {
		return orderstore.OrderPush{}, err
	}
	push := orderstore.OrderPush{
		ClientOrderID:   item.OrderLinkID,
		ExchangeOrderID: item.OrderID,
		Status:          status,
	}
	if item.CumExecQty != "" {
		cum, err := decimal.NewFromString(item.CumExecQty)
		if err != nil {
			return orderstore.OrderPush{}, errs.New(Venue, errs.KindDecode,
				errs.WithMessage("malformed cumExecQty for order "+item.OrderID), errs.WithCause(err))
		}
		push.CumFilledQty = cum
	}
	return push, nil
}

// sideFromVenue maps the venue side string onto the two-valued enumeration
// exactly once, at the boundary. Anything other than "Sell" is treated as a
// buy, matching the venue's own default.
func sideFromVenue(side string) schema.Side {
	if side == "Sell" {
		return schema.SideSell
	}
	return schema.SideBuy
}

// statusFromVenue maps venue order states onto the ledger state machine.
func statusFromVenue(status string) (schema.OrderStatus, error) {
	switch status {
	case "New", "Untriggered", "Triggered":
		return schema.OrderStatusSubmitted, nil
	case "PartiallyFilled":
		return schema.OrderStatusPartiallyFilled, nil
	case "Filled":
		return schema.OrderStatusFilled, nil
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return schema.OrderStatusCanceled, nil
	case "Rejected":
		return schema.OrderStatusSubmitRejected, nil
	default:
		return "", errs.New(Venue, errs.KindDecode,
			errs.WithMessage("unknown venue order status "+status))
	}
}

// topicPrefix returns the segment of a topic name before the first dot.
func topicPrefix(topic string) string {
	if idx := strings.IndexByte(topic, '.'); idx >= 0 {
		return topic[:idx]
	}
	return topic
}

func (p *Parser) unknownSymbol(symbol string) error {
	return errs.New(Venue, errs.KindLookup, errs.WithMessage("symbol not tracked: "+symbol))
}

func (p *Parser) diag(err error) {
	observability.Log().Warn("dropping item", observability.F("error", err))
	observability.Telemetry().IncCounter(observability.MetricDecodeFailures, 1,
		map[string]string{"venue": Venue})
}
