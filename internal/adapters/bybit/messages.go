// Package bybit adapts the Bybit v5 websocket protocol into the normalized
// live-event model.
package bybit

import (
	json "github.com/goccy/go-json"
)

// Venue is the provider name carried on errors and diagnostics.
const Venue = "bybit"

// Control operation identifiers shared by all three streams.
const (
	opPing      = "ping"
	opPong      = "pong"
	opAuth      = "auth"
	opSubscribe = "subscribe"
)

// Order-entry operations accepted by the trade stream.
const (
	// OpOrderCreate places a new order.
	OpOrderCreate = "order.create"
	// OpOrderCancel cancels an existing order.
	OpOrderCancel = "order.cancel"
)

// request is the outbound control envelope used on the public and private
// streams.
type request struct {
	ReqID string   `json:"req_id,omitempty"`
	Op    string   `json:"op"`
	Args  []string `json:"args,omitempty"`
}

// tradeHeader carries the per-request metadata required on the trade stream.
const (
	headerTimestamp  = "X-BAPI-TIMESTAMP"
	headerRecvWindow = "X-BAPI-RECV-WINDOW"
)

// tradeRequest is the outbound order-entry envelope. Args holds either
// credentials (auth) or one order payload.
type tradeRequest struct {
	ReqID  string            `json:"reqId"`
	Header map[string]string `json:"header"`
	Op     string            `json:"op"`
	Args   []any             `json:"args"`
}

// OrderPayload is the venue order argument carried by order.create and
// order.cancel frames. All quantities are decimal strings per the venue wire
// format.
type OrderPayload struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side,omitempty"`
	OrderType   string `json:"orderType,omitempty"`
	Qty         string `json:"qty,omitempty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	OrderLinkID string `json:"orderLinkId"`
	OrderID     string `json:"orderId,omitempty"`
}

// envelope is the first decode phase for public/private frames. Topic pushes
// carry Topic and an undecoded Data body; operation acknowledgements carry Op.
// The inner payload is decoded only after the topic prefix is matched, so no
// payload schema is committed to before the topic is known.
type envelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	TS    int64           `json:"ts"`
	CTS   *int64          `json:"cts"`
	Data  json.RawMessage `json:"data"`

	Op      string `json:"op"`
	ReqID   string `json:"req_id"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
	ConnID  string `json:"conn_id"`
}

// isTopic reports whether the frame is a topic push rather than an
// acknowledgement.
func (e *envelope) isTopic() bool {
	return e.Topic != ""
}

// tradeAck is the acknowledgement shape used on the order-entry stream.
type tradeAck struct {
	ReqID   string          `json:"reqId"`
	RetCode int64           `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Op      string          `json:"op"`
	ConnID  string          `json:"connId"`
	Data    json.RawMessage `json:"data"`
}

// orderBookData is the orderbook topic body. Levels are [price, quantity]
// decimal-string pairs.
type orderBookData struct {
	Symbol   string      `json:"s"`
	Bids     [][2]string `json:"b"`
	Asks     [][2]string `json:"a"`
	UpdateID int64       `json:"u"`
	Seq      int64       `json:"seq"`
}

// tradeItem is one element of the publicTrade topic body.
type tradeItem struct {
	Time    int64  `json:"T"`
	Symbol  string `json:"s"`
	Side    string `json:"S"`
	Size    string `json:"v"`
	Price   string `json:"p"`
	TradeID string `json:"i"`
}

// positionItem is one element of the position topic body.
type positionItem struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	PositionValue string `json:"positionValue"`
}

// executionItem is one element of the execution topic body.
type executionItem struct {
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Side        string `json:"side"`
	ExecQty     string `json:"execQty"`
	ExecPrice   string `json:"execPrice"`
	ExecTime    string `json:"execTime"`
}

// orderItem is one element of the order topic body.
type orderItem struct {
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	OrderStatus string `json:"orderStatus"`
	Side        string `json:"side"`
	Qty         string `json:"qty"`
	Price       string `json:"price"`
	CumExecQty  string `json:"cumExecQty"`
}
