// Package schema defines the normalized live-event model emitted by venue adapters.
package schema

import "github.com/jsyzc2019/hftbacktest/errs"

// EventType enumerates live event categories.
type EventType string

const (
	// EventTypeDepth identifies order-book depth updates.
	EventTypeDepth EventType = "Depth"
	// EventTypeTrade identifies public trade prints.
	EventTypeTrade EventType = "Trade"
	// EventTypePosition identifies position snapshot updates.
	EventTypePosition EventType = "Position"
	// EventTypeOrderUpdate identifies order lifecycle updates.
	EventTypeOrderUpdate EventType = "OrderUpdate"
	// EventTypeError identifies structured error notifications.
	EventTypeError EventType = "Error"
)

// LiveEvent is the single normalized output consumed by the trading engine.
// All adapter sessions funnel their results through this one type; there is no
// handler-specific output surface downstream.
type LiveEvent struct {
	Type    EventType
	Payload any
}

// Side captures the direction of a trade or order.
type Side int8

const (
	// SideBuy indicates buy side.
	SideBuy Side = 1
	// SideSell indicates sell side.
	SideSell Side = -1
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "Buy"
	case SideSell:
		return "Sell"
	default:
		return "Unknown"
	}
}

// PriceLevel describes one order-book level after numeric normalization.
type PriceLevel struct {
	Price float32
	Qty   float32
}

// DepthPayload conveys one verbatim order-book update for a tracked asset.
// Levels are forwarded as received; book maintenance is the consumer's concern.
type DepthPayload struct {
	AssetNo int
	// ExchTS is the venue-supplied timestamp scaled to nanoseconds.
	ExchTS int64
	// LocalTS is the local clock at the moment the frame was decoded.
	LocalTS int64
	Bids    []PriceLevel
	Asks    []PriceLevel
}

// TradePayload represents one public trade print.
type TradePayload struct {
	AssetNo int
	ExchTS  int64
	LocalTS int64
	Side    Side
	Price   float32
	Qty     float32
}

// PositionPayload is a replace-on-update position snapshot for one symbol.
type PositionPayload struct {
	AssetNo int
	Symbol  string
	Qty     float64
}

// OrderUpdatePayload carries the ledger's view of an order after reconciliation.
type OrderUpdatePayload struct {
	AssetNo int
	Order   Order
}

// NewDepthEvent wraps a depth payload as a live event.
func NewDepthEvent(p DepthPayload) LiveEvent {
	return LiveEvent{Type: EventTypeDepth, Payload: p}
}

// NewTradeEvent wraps a trade payload as a live event.
func NewTradeEvent(p TradePayload) LiveEvent {
	return LiveEvent{Type: EventTypeTrade, Payload: p}
}

// NewPositionEvent wraps a position payload as a live event.
func NewPositionEvent(p PositionPayload) LiveEvent {
	return LiveEvent{Type: EventTypePosition, Payload: p}
}

// NewOrderUpdateEvent wraps an order update as a live event.
func NewOrderUpdateEvent(assetNo int, order Order) LiveEvent {
	return LiveEvent{Type: EventTypeOrderUpdate, Payload: OrderUpdatePayload{AssetNo: assetNo, Order: order}}
}

// NewErrorEvent wraps a structured error as a live event.
func NewErrorEvent(err *errs.E) LiveEvent {
	return LiveEvent{Type: EventTypeError, Payload: err}
}
