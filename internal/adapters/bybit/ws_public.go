package bybit

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/jsyzc2019/hftbacktest/internal/observability"
	"github.com/jsyzc2019/hftbacktest/internal/schema"
)

const publicPingInterval = 15 * time.Second

// PublicStreamOptions configures one public market-data session.
type PublicStreamOptions struct {
	URL string
	// Topics are the topic name prefixes subscribed per tracked symbol, e.g.
	// orderbook.50 and publicTrade.
	Topics           []string
	Assets           schema.AssetMap
	Events           chan<- schema.LiveEvent
	HandshakeTimeout time.Duration
	Clock            func() time.Time
}

// PublicStream consumes order-book and trade topics and emits normalized
// Depth and Trade events. It performs no authentication and no order
// correlation.
type PublicStream struct {
	opts   PublicStreamOptions
	parser *Parser
}

// NewPublicStream builds a public stream handler.
func NewPublicStream(opts PublicStreamOptions) *PublicStream {
	return &PublicStream{
		opts:   opts,
		parser: NewParser(opts.Assets, opts.Clock),
	}
}

// Run establishes the session, subscribes every {topic}.{symbol} pair once,
// and services the event loop until the peer closes the session or a
// transport error occurs. The subscription is never retried within a session.
func (s *PublicStream) Run(ctx context.Context) error {
	conn, err := dialWS(ctx, s.opts.URL, s.opts.HandshakeTimeout)
	if err != nil {
		return err
	}
	defer conn.close()

	args := make([]string, 0, len(s.opts.Topics)*len(s.opts.Assets))
	for _, topic := range s.opts.Topics {
		for _, symbol := range s.opts.Assets.Symbols() {
			args = append(args, topic+"."+symbol)
		}
	}
	if err := conn.writeJSON(ctx, request{ReqID: opSubscribe, Op: opSubscribe, Args: args}); err != nil {
		return err
	}

	return conn.runLoop(ctx, loopConfig{
		pingInterval: publicPingInterval,
		onFrame: func(ctx context.Context, frame []byte) error {
			return s.handleFrame(ctx, conn, frame)
		},
	})
}

// handleFrame decodes and routes one inbound text frame. Decode failures are
// logged and skipped; they are never fatal to the session.
func (s *PublicStream) handleFrame(ctx context.Context, conn *wsConn, frame []byte) error {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		s.diag("undecodable public frame", err)
		return nil
	}

	if !env.isTopic() {
		if env.Op == opPing {
			return conn.writeJSON(ctx, request{Op: opPong})
		}
		observability.Log().Info("public op ack",
			observability.F("op", env.Op), observability.F("ret_msg", env.RetMsg))
		return nil
	}

	switch topicPrefix(env.Topic) {
	case topicOrderBook:
		ev, err := s.parser.parseOrderBook(&env)
		if err != nil {
			s.diag("orderbook push dropped", err)
			return nil
		}
		return emitEvent(ctx, s.opts.Events, ev)
	case topicPublicTrade:
		events, err := s.parser.parsePublicTrades(&env)
		if err != nil {
			s.diag("publicTrade push dropped", err)
			return nil
		}
		for _, ev := range events {
			if err := emitEvent(ctx, s.opts.Events, ev); err != nil {
				return err
			}
		}
		return nil
	default:
		s.diag("unrecognized public topic", s.parser.unknownSymbol(env.Topic))
		return nil
	}
}

func (s *PublicStream) diag(msg string, err error) {
	observability.Log().Error(msg, observability.F("error", err))
	observability.Telemetry().IncCounter(observability.MetricDecodeFailures, 1,
		map[string]string{"venue": Venue, "stream": "public"})
}
