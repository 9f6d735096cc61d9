package bybit

import (
	"context"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/jsyzc2019/hftbacktest/errs"
	"github.com/jsyzc2019/hftbacktest/internal/observability"
	"github.com/jsyzc2019/hftbacktest/internal/orderstore"
	"github.com/jsyzc2019/hftbacktest/internal/schema"
)

const tradePingInterval = 60 * time.Second

// OrderRequest is one outbound order-entry instruction. Done, when non-nil,
// receives the socket write result and is closed afterwards; venue-level
// rejection arrives later as an OrderUpdate event, not on Done.
type OrderRequest struct {
	Op    string
	Order OrderPayload
	Done  chan error
}

// TradeStreamOptions configures one order-entry session.
type TradeStreamOptions struct {
	URL              string
	APIKey           string
	APISecret        string
	Ledger           *orderstore.Ledger
	Events           chan<- schema.LiveEvent
	Requests         <-chan *OrderRequest
	RecvWindow       time.Duration
	OrderRatePerSec  float64
	OrderBurst       int
	HandshakeTimeout time.Duration
	Clock            func() time.Time
}

// TradeStream carries order.create and order.cancel traffic and correlates
// venue rejections back onto the ledger through the request identifier.
// Success acknowledgements deliberately leave the ledger untouched; the
// authoritative state transition arrives on the private stream.
type TradeStream struct {
	opts    TradeStreamOptions
	limiter *rate.Limiter
	clock   func() time.Time
}

// NewTradeStream builds an order-entry stream handler.
func NewTradeStream(opts TradeStreamOptions) *TradeStream {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	limit := rate.Inf
	if opts.OrderRatePerSec > 0 {
		limit = rate.Limit(opts.OrderRatePerSec)
	}
	burst := opts.OrderBurst
	if burst <= 0 {
		burst = 1
	}
	return &TradeStream{
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		clock:   clock,
	}
}

// Run establishes the session, authenticates, and services both directions
// until the intake channel closes or a terminal condition occurs.
func (s *TradeStream) Run(ctx context.Context) error {
	if s.opts.APIKey == "" || s.opts.APISecret == "" {
		return errs.New(Venue, errs.KindAuth, errs.WithMessage("trade stream requires API credentials"))
	}
	conn, err := dialWS(ctx, s.opts.URL, s.opts.HandshakeTimeout)
	if err != nil {
		return err
	}
	defer conn.close()

	auth := request{ReqID: opAuth, Op: opAuth, Args: authArgs(s.opts.APIKey, s.opts.APISecret, s.clock())}
	if err := conn.writeJSON(ctx, auth); err != nil {
		return err
	}

	return conn.runLoop(ctx, loopConfig{
		pingInterval: tradePingInterval,
		onFrame: func(ctx context.Context, frame []byte) error {
			return s.handleFrame(ctx, conn, frame)
		},
		orders: s.opts.Requests,
		onOrder: func(ctx context.Context, req *OrderRequest) error {
			return s.sendOrder(ctx, conn, req)
		},
	})
}

// sendOrder paces, stamps, and writes one order-entry frame. The client order
// id doubles as the request id so rejections can be correlated back to the
// ledger. A write failure is fatal to the session; the venue may or may not
// have received the frame and a reconnect must resynchronize from the private
// stream.
func (s *TradeStream) sendOrder(ctx context.Context, conn *wsConn, req *OrderRequest) error {
	if err := s.limiter.Wait(ctx); err != nil {
		finishRequest(req, err)
		return err
	}

	reqID := req.Order.OrderLinkID
	frame := tradeRequest{
		ReqID: reqID,
		Header: map[string]string{
			headerTimestamp:  strconv.FormatInt(s.clock().UnixMilli(), 10),
			headerRecvWindow: strconv.FormatInt(s.opts.RecvWindow.Milliseconds(), 10),
		},
		Op:   req.Op,
		Args: []any{req.Order},
	}
	if err := conn.writeJSON(ctx, frame); err != nil {
		finishRequest(req, err)
		return err
	}

	switch req.Op {
	case OpOrderCreate:
		if err := s.opts.Ledger.MarkSubmitted(reqID); err != nil {
			observability.Log().Warn("submitted order unknown to ledger",
				observability.F("client_order_id", reqID), observability.F("error", err))
		}
	case OpOrderCancel:
		if err := s.opts.Ledger.MarkCancelPending(reqID); err != nil {
			observability.Log().Warn("cancel target unknown to ledger",
				observability.F("client_order_id", reqID), observability.F("error", err))
		}
	}
	observability.Telemetry().IncCounter(observability.MetricOrdersSent, 1,
		map[string]string{"venue": Venue, "op": req.Op})
	finishRequest(req, nil)
	return nil
}

func finishRequest(req *OrderRequest, err error) {
	if req.Done == nil {
		return
	}
	req.Done <- err
	close(req.Done)
}

func (s *TradeStream) handleFrame(ctx context.Context, conn *wsConn, frame []byte) error {
	var ack tradeAck
	if err := json.Unmarshal(frame, &ack); err != nil {
		s.diag("undecodable trade frame", err)
		return nil
	}

	switch ack.Op {
	case opAuth:
		if ack.RetCode != 0 {
			authErr := errs.New(Venue, errs.KindCriticalConnection,
				errs.WithMessage("trade stream auth rejected"),
				errs.WithVenueCode(ack.RetCode), errs.WithVenueMessage(ack.RetMsg))
			if err := emitEvent(ctx, s.opts.Events, schema.NewErrorEvent(authErr)); err != nil {
				return err
			}
			return authErr
		}
		observability.Log().Info("trade stream authenticated", observability.F("conn_id", ack.ConnID))
		return nil
	case OpOrderCreate:
		return s.handleOrderAck(ctx, &ack, s.opts.Ledger.UpdateSubmitFail)
	case OpOrderCancel:
		return s.handleOrderAck(ctx, &ack, s.opts.Ledger.UpdateCancelFail)
	case opPing:
		return conn.writeJSON(ctx, request{Op: opPong})
	case opPong:
		return nil
	default:
		observability.Log().Info("trade op ack",
			observability.F("op", ack.Op), observability.F("ret_code", ack.RetCode))
		return nil
	}
}

// handleOrderAck reconciles one order-entry acknowledgement. Only rejections
// mutate the ledger; the failure transition and the venue's own code both
// surface to the consumer.
func (s *TradeStream) handleOrderAck(ctx context.Context, ack *tradeAck,
	fail func(string) (int, schema.Order, error)) error {
	if ack.RetCode == 0 {
		return nil
	}
	if ack.ReqID == "" {
		corrErr := errs.New(Venue, errs.KindCorrelation,
			errs.WithMessage("rejected "+ack.Op+" without request id"),
			errs.WithVenueCode(ack.RetCode), errs.WithVenueMessage(ack.RetMsg))
		s.diag("uncorrelatable rejection", corrErr)
		return emitEvent(ctx, s.opts.Events, schema.NewErrorEvent(corrErr))
	}

	assetNo, order, err := fail(ack.ReqID)
	if err != nil {
		observability.Log().Warn("rejection not reconciled",
			observability.F("client_order_id", ack.ReqID), observability.F("error", err))
	} else {
		if err := emitEvent(ctx, s.opts.Events, schema.NewOrderUpdateEvent(assetNo, order)); err != nil {
			return err
		}
	}

	venueErr := errs.New(Venue, errs.KindOrder,
		errs.WithMessage(ack.Op+" rejected"),
		errs.WithVenueCode(ack.RetCode), errs.WithVenueMessage(ack.RetMsg))
	return emitEvent(ctx, s.opts.Events, schema.NewErrorEvent(venueErr))
}

func (s *TradeStream) diag(msg string, err error) {
	observability.Log().Error(msg, observability.F("error", err))
	observability.Telemetry().IncCounter(observability.MetricDecodeFailures, 1,
		map[string]string{"venue": Venue, "stream": "trade"})
}
