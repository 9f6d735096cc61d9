package schema

import "github.com/shopspring/decimal"

// OrderStatus enumerates the ledger-owned order lifecycle states.
type OrderStatus string

const (
	// OrderStatusNew marks an order registered locally but not yet sent.
	OrderStatusNew OrderStatus = "New"
	// OrderStatusSubmitted marks an order accepted by the venue.
	OrderStatusSubmitted OrderStatus = "Submitted"
	// OrderStatusPartiallyFilled marks an order with a partial fill.
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	// OrderStatusFilled marks a completely filled order.
	OrderStatusFilled OrderStatus = "Filled"
	// OrderStatusCanceled marks a canceled order.
	OrderStatusCanceled OrderStatus = "Canceled"
	// OrderStatusSubmitRejected marks an order whose placement the venue rejected.
	OrderStatusSubmitRejected OrderStatus = "SubmitRejected"
	// OrderStatusCancelRejected marks an order whose cancellation the venue rejected.
	// The stored ledger entry stays in its pre-cancel live state; this status
	// only appears on emitted order updates.
	OrderStatusCancelRejected OrderStatus = "CancelRejected"
)

// Terminal reports whether the status permits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusSubmitRejected:
		return true
	default:
		return false
	}
}

// Order is the ledger's view of one in-flight or recently completed order.
// ClientOrderID is assigned by the caller before submission; ExchangeOrderID is
// known only after the venue acknowledges the order.
type Order struct {
	AssetNo         int
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            Side
	Price           decimal.Decimal
	Qty             decimal.Decimal
	FilledQty       decimal.Decimal
	Status          OrderStatus
}

// Live reports whether the order can still trade.
func (o Order) Live() bool {
	return !o.Status.Terminal() && o.Status != OrderStatusCancelRejected
}
