// Package orderstore holds the in-memory authoritative ledger of order state,
// reconciled concurrently by the private and trade stream handlers.
package orderstore

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/jsyzc2019/hftbacktest/errs"
	"github.com/jsyzc2019/hftbacktest/internal/schema"
)

// OrderPush is a normalized venue order-state notification.
type OrderPush struct {
	ClientOrderID   string
	ExchangeOrderID string
	Status          schema.OrderStatus
	// CumFilledQty is the venue-reported cumulative filled quantity; a zero
	// value leaves the ledger's accumulation untouched.
	CumFilledQty decimal.Decimal
}

// Fill is a normalized execution report.
type Fill struct {
	ClientOrderID   string
	ExchangeOrderID string
	Qty             decimal.Decimal
	Price           decimal.Decimal
}

type entry struct {
	order         schema.Order
	cancelPending bool
}

// Ledger is the single source of truth for in-flight and recent orders.
// Entries are reachable by the caller-assigned client order id from the moment
// of registration, and additionally by the venue-assigned exchange order id
// once an acknowledgement binds it; the client-id binding is never lost.
//
// All mutations run under one coarse lock, held only for the state transition
// and result extraction, never across channel sends or socket I/O.
type Ledger struct {
	venue string

	mu       sync.Mutex
	byClient map[string]*entry
	// byExchange maps venue order ids back to client order ids.
	byExchange map[string]string
}

// NewLedger creates an empty ledger tagged with the venue name used in errors.
func NewLedger(venue string) *Ledger {
	return &Ledger{
		venue:      venue,
		byClient:   make(map[string]*entry),
		byExchange: make(map[string]string),
	}
}

// Register adds a new order in its initial state. Registering over a live
// entry with the same client order id is an error; a terminal entry is
// replaced.
func (l *Ledger) Register(order schema.Order) error {
	if order.ClientOrderID == "" {
		return errs.New(l.venue, errs.KindCorrelation, errs.WithMessage("order without client order id"))
	}
	if order.Status == "" {
		order.Status = schema.OrderStatusNew
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.byClient[order.ClientOrderID]; ok && existing.order.Live() {
		return errs.New(l.venue, errs.KindOrder,
			errs.WithMessage("duplicate live order "+order.ClientOrderID))
	}
	l.byClient[order.ClientOrderID] = &entry{order: order}
	if order.ExchangeOrderID != "" {
		l.byExchange[order.ExchangeOrderID] = order.ClientOrderID
	}
	return nil
}

// MarkSubmitted transitions a New order to Submitted after its entry frame has
// been written to the venue.
func (l *Ledger) MarkSubmitted(clientOrderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byClient[clientOrderID]
	if !ok {
		return l.unknownOrder(clientOrderID)
	}
	if e.order.Status == schema.OrderStatusNew {
		e.order.Status = schema.OrderStatusSubmitted
	}
	return nil
}

// MarkCancelPending records that a cancellation request is in flight, so a
// later cancel rejection can restore the pre-cancel live state.
func (l *Ledger) MarkCancelPending(clientOrderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byClient[clientOrderID]
	if !ok {
		return l.unknownOrder(clientOrderID)
	}
	if e.order.Status.Terminal() {
		return l.terminalOrder(clientOrderID)
	}
	e.cancelPending = true
	return nil
}

// UpdateOrder applies a venue order-state push to the matched entry and
// returns the resulting (asset index, order) pair for event emission.
func (l *Ledger) UpdateOrder(p OrderPush) (int, schema.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.resolve(p.ClientOrderID, p.ExchangeOrderID)
	if err != nil {
		return 0, schema.Order{}, err
	}
	if e.order.Status.Terminal() {
		return 0, schema.Order{}, l.terminalOrder(e.order.ClientOrderID)
	}

	l.bind(e, p.ExchangeOrderID)
	if !p.CumFilledQty.IsZero() {
		e.order.FilledQty = p.CumFilledQty
	}
	e.order.Status = p.Status
	if p.Status.Terminal() || p.Status == schema.OrderStatusCanceled {
		e.cancelPending = false
	}
	return e.order.AssetNo, e.order, nil
}

// UpdateExecution accumulates a fill on the matched entry, transitioning to
// PartiallyFilled or Filled, and returns the result for event emission.
func (l *Ledger) UpdateExecution(f Fill) (int, schema.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.resolve(f.ClientOrderID, f.ExchangeOrderID)
	if err != nil {
		return 0, schema.Order{}, err
	}
	if e.order.Status.Terminal() {
		return 0, schema.Order{}, l.terminalOrder(e.order.ClientOrderID)
	}
	if f.Qty.Sign() <= 0 {
		return 0, schema.Order{}, errs.New(l.venue, errs.KindDecode,
			errs.WithMessage("non-positive execution quantity for "+e.order.ClientOrderID))
	}

	l.bind(e, f.ExchangeOrderID)
	e.order.FilledQty = e.order.FilledQty.Add(f.Qty)
	if e.order.FilledQty.GreaterThanOrEqual(e.order.Qty) {
		e.order.Status = schema.OrderStatusFilled
	} else {
		e.order.Status = schema.OrderStatusPartiallyFilled
	}
	return e.order.AssetNo, e.order, nil
}

// UpdateSubmitFail marks a rejected placement. It is only legal while the
// entry is New or Submitted; the ledger is left unchanged on error.
func (l *Ledger) UpdateSubmitFail(clientOrderID string) (int, schema.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byClient[clientOrderID]
	if !ok {
		return 0, schema.Order{}, l.unknownOrder(clientOrderID)
	}
	switch e.order.Status {
	case schema.OrderStatusNew, schema.OrderStatusSubmitted:
		e.order.Status = schema.OrderStatusSubmitRejected
		return e.order.AssetNo, e.order, nil
	default:
		return 0, schema.Order{}, errs.New(l.venue, errs.KindOrder,
			errs.WithMessage("submit fail on order "+clientOrderID+" in state "+string(e.order.Status)))
	}
}

// UpdateCancelFail restores a cancel-pending entry to its pre-cancel live
// state. The returned order carries CancelRejected so the engine sees why the
// cancellation vanished; the stored entry keeps its live status.
func (l *Ledger) UpdateCancelFail(clientOrderID string) (int, schema.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byClient[clientOrderID]
	if !ok {
		return 0, schema.Order{}, l.unknownOrder(clientOrderID)
	}
	if e.order.Status.Terminal() {
		return 0, schema.Order{}, l.terminalOrder(clientOrderID)
	}
	e.cancelPending = false

	reported := e.order
	reported.Status = schema.OrderStatusCancelRejected
	return e.order.AssetNo, reported, nil
}

// Lookup resolves an order by client or exchange order id.
func (l *Ledger) Lookup(id string) (schema.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.byClient[id]; ok {
		return e.order, true
	}
	if clientID, ok := l.byExchange[id]; ok {
		if e, ok := l.byClient[clientID]; ok {
			return e.order, true
		}
	}
	return schema.Order{}, false
}

// Len returns the number of tracked orders.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byClient)
}

// resolve finds an entry by client id first, then by exchange id. Caller must
// hold the lock.
func (l *Ledger) resolve(clientID, exchangeID string) (*entry, error) {
	if clientID != "" {
		if e, ok := l.byClient[clientID]; ok {
			return e, nil
		}
	}
	if exchangeID != "" {
		if mapped, ok := l.byExchange[exchangeID]; ok {
			if e, ok := l.byClient[mapped]; ok {
				return e, nil
			}
		}
	}
	id := clientID
	if id == "" {
		id = exchangeID
	}
	return nil, l.unknownOrder(id)
}

// bind indexes the exchange order id without disturbing the client-id binding.
// Caller must hold the lock.
func (l *Ledger) bind(e *entry, exchangeID string) {
	if exchangeID == "" {
		return
	}
	if e.order.ExchangeOrderID == "" {
		e.order.ExchangeOrderID = exchangeID
	}
	l.byExchange[exchangeID] = e.order.ClientOrderID
}

func (l *Ledger) unknownOrder(id string) error {
	return errs.New(l.venue, errs.KindLookup, errs.WithMessage("unknown order "+id))
}

func (l *Ledger) terminalOrder(id string) error {
	return errs.New(l.venue, errs.KindOrder, errs.WithMessage("order "+id+" already terminal"))
}
