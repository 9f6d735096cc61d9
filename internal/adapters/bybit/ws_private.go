package bybit

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/jsyzc2019/hftbacktest/errs"
	"github.com/jsyzc2019/hftbacktest/internal/observability"
	"github.com/jsyzc2019/hftbacktest/internal/orderstore"
	"github.com/jsyzc2019/hftbacktest/internal/schema"
)

const privatePingInterval = 10 * time.Second

// privateTopics are subscribed after a successful auth acknowledgement.
var privateTopics = []string{"position", "execution.fast", "order"}

// PrivateStreamOptions configures one private account session.
type PrivateStreamOptions struct {
	URL              string
	APIKey           string
	APISecret        string
	Assets           schema.AssetMap
	Ledger           *orderstore.Ledger
	Events           chan<- schema.LiveEvent
	HandshakeTimeout time.Duration
	Clock            func() time.Time
}

// PrivateStream consumes position, execution, and order topics, reconciles
// them against the ledger, and emits Position and OrderUpdate events.
// Subscription is deferred until the venue acknowledges authentication.
type PrivateStream struct {
	opts   PrivateStreamOptions
	parser *Parser
	clock  func() time.Time
}

// NewPrivateStream builds a private stream handler.
func NewPrivateStream(opts PrivateStreamOptions) *PrivateStream {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &PrivateStream{
		opts:   opts,
		parser: NewParser(opts.Assets, clock),
		clock:  clock,
	}
}

// Run establishes the session, authenticates, and services the event loop.
// Authentication rejection is a critical failure: it is surfaced as an Error
// event and terminates the session.
func (s *PrivateStream) Run(ctx context.Context) error {
	if s.opts.APIKey == "" || s.opts.APISecret == "" {
		return errs.New(Venue, errs.KindAuth, errs.WithMessage("private stream requires API credentials"))
	}
	conn, err := dialWS(ctx, s.opts.URL, s.opts.HandshakeTimeout)
	if err != nil {
		return err
	}
	defer conn.close()

	auth := request{Op: opAuth, Args: authArgs(s.opts.APIKey, s.opts.APISecret, s.clock())}
	if err := conn.writeJSON(ctx, auth); err != nil {
		return err
	}

	return conn.runLoop(ctx, loopConfig{
		pingInterval: privatePingInterval,
		onFrame: func(ctx context.Context, frame []byte) error {
			return s.handleFrame(ctx, conn, frame)
		},
	})
}

func (s *PrivateStream) handleFrame(ctx context.Context, conn *wsConn, frame []byte) error {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		s.diag("undecodable private frame", err)
		return nil
	}

	if !env.isTopic() {
		return s.handleAck(ctx, conn, &env)
	}

	switch topicPrefix(env.Topic) {
	case topicPosition:
		events, err := s.parser.parsePositions(&env)
		if err != nil {
			s.diag("position push dropped", err)
			return nil
		}
		for _, ev := range events {
			if err := emitEvent(ctx, s.opts.Events, ev); err != nil {
				return err
			}
		}
		return nil
	case topicExecution:
		return s.handleExecutions(ctx, &env)
	case topicOrder:
		return s.handleOrders(ctx, &env)
	default:
		s.diag("unrecognized private topic", s.parser.unknownSymbol(env.Topic))
		return nil
	}
}

// handleAck routes operation acknowledgements. A rejected auth terminates the
// session; every other ack is informational.
func (s *PrivateStream) handleAck(ctx context.Context, conn *wsConn, env *envelope) error {
	switch env.Op {
	case opAuth:
		if env.Success == nil || !*env.Success {
			authErr := errs.New(Venue, errs.KindCriticalConnection,
				errs.WithMessage("private stream auth rejected"),
				errs.WithVenueMessage(env.RetMsg))
			if err := emitEvent(ctx, s.opts.Events, schema.NewErrorEvent(authErr)); err != nil {
				return err
			}
			return authErr
		}
		args := make([]string, len(privateTopics))
		copy(args, privateTopics)
		return conn.writeJSON(ctx, request{ReqID: opSubscribe, Op: opSubscribe, Args: args})
	case opSubscribe:
		if env.Success != nil && !*env.Success {
			observability.Log().Error("private subscribe rejected",
				observability.F("ret_msg", env.RetMsg))
			return nil
		}
		observability.Log().Info("private topics subscribed", observability.F("conn_id", env.ConnID))
		return nil
	case opPing:
		return conn.writeJSON(ctx, request{Op: opPong})
	case opPong:
		return nil
	default:
		observability.Log().Info("private op ack",
			observability.F("op", env.Op), observability.F("ret_msg", env.RetMsg))
		return nil
	}
}

// handleExecutions applies each fill to the ledger and emits the resulting
// order snapshot. Fills for orders the ledger does not know, for example
// orders placed by another process on the same account, drop only themselves.
func (s *PrivateStream) handleExecutions(ctx context.Context, env *envelope) error {
	var items []executionItem
	if err := json.Unmarshal(env.Data, &items); err != nil {
		s.diag("execution push dropped", errs.New(Venue, errs.KindDecode,
			errs.WithMessage("decode execution body"), errs.WithCause(err)))
		return nil
	}
	for _, item := range items {
		fill, err := fillFromExecution(item)
		if err != nil {
			s.diag("execution item dropped", err)
			continue
		}
		assetNo, order, err := s.opts.Ledger.UpdateExecution(fill)
		if err != nil {
			observability.Log().Warn("execution not reconciled",
				observability.F("order_id", item.OrderID), observability.F("error", err))
			continue
		}
		if err := emitEvent(ctx, s.opts.Events, schema.NewOrderUpdateEvent(assetNo, order)); err != nil {
			return err
		}
	}
	return nil
}

// handleOrders applies each order state push to the ledger and emits the
// resulting snapshot.
func (s *PrivateStream) handleOrders(ctx context.Context, env *envelope) error {
	var items []orderItem
	if err := json.Unmarshal(env.Data, &items); err != nil {
		s.diag("order push dropped", errs.New(Venue, errs.KindDecode,
			errs.WithMessage("decode order body"), errs.WithCause(err)))
		return nil
	}
	for _, item := range items {
		push, err := pushFromOrder(item)
		if err != nil {
			s.diag("order item dropped", err)
			continue
		}
		assetNo, order, err := s.opts.Ledger.UpdateOrder(push)
		if err != nil {
			observability.Log().Warn("order push not reconciled",
				observability.F("order_id", item.OrderID), observability.F("error", err))
			continue
		}
		if err := emitEvent(ctx, s.opts.Events, schema.NewOrderUpdateEvent(assetNo, order)); err != nil {
			return err
		}
	}
	return nil
}

func (s *PrivateStream) diag(msg string, err error) {
	observability.Log().Error(msg, observability.F("error", err))
	observability.Telemetry().IncCounter(observability.MetricDecodeFailures, 1,
		map[string]string{"venue": Venue, "stream": "private"})
}
