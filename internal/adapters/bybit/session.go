package bybit

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/jsyzc2019/hftbacktest/errs"
	"github.com/jsyzc2019/hftbacktest/internal/observability"
	"github.com/jsyzc2019/hftbacktest/internal/schema"
)

const (
	writeTimeout = 10 * time.Second
	// maxFrameSize accommodates deep order-book snapshots.
	maxFrameSize = 1 << 21
)

// wsConn wraps one venue websocket session. All writes happen from the
// session's single loop goroutine, so no write lock is needed.
type wsConn struct {
	ws *websocket.Conn
}

// dialWS establishes a websocket session against the venue URL.
func dialWS(ctx context.Context, url string, handshakeTimeout time.Duration) (*wsConn, error) {
	if handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, handshakeTimeout)
		defer cancel()
	}
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errs.New(Venue, errs.KindTransport,
			errs.WithMessage("dial "+url), errs.WithCause(err))
	}
	ws.SetReadLimit(maxFrameSize)
	return &wsConn{ws: ws}, nil
}

func (c *wsConn) close() {
	_ = c.ws.Close(websocket.StatusNormalClosure, "")
}

// writeJSON marshals v and writes it as one text frame.
func (c *wsConn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errs.New(Venue, errs.KindDecode,
			errs.WithMessage("marshal outbound frame"), errs.WithCause(err))
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.ws.Write(wctx, websocket.MessageText, data); err != nil {
		return errs.New(Venue, errs.KindTransport,
			errs.WithMessage("write frame"), errs.WithCause(err))
	}
	return nil
}

// writePing sends the protocol-level JSON keepalive frame.
func (c *wsConn) writePing(ctx context.Context) error {
	return c.writeJSON(ctx, request{ReqID: opPing, Op: opPing})
}

// readPump feeds inbound text frames to the session loop. It exits on the
// first read error; transport-level ping frames are answered by the websocket
// library during the read.
func (c *wsConn) readPump(ctx context.Context, frames chan<- []byte, readErrs chan<- error) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			select {
			case readErrs <- err:
			case <-ctx.Done():
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		select {
		case frames <- data:
		case <-ctx.Done():
			return
		}
	}
}

// loopConfig parameterizes the shared session loop: a keepalive tick, an
// inbound frame handler, and an optional outbound order intake. A nil orders
// channel never fires, which is how the public and private sessions opt out.
type loopConfig struct {
	pingInterval time.Duration
	onFrame      func(ctx context.Context, frame []byte) error
	orders       <-chan *OrderRequest
	onOrder      func(ctx context.Context, req *OrderRequest) error
}

// runLoop multiplexes timer, inbound frames, and outbound requests in one
// select loop until a terminal condition. Peer close and intake-queue closure
// terminate normally; transport errors and fatal handler errors surface to the
// caller. Restart policy belongs to the caller, not this loop.
func (c *wsConn) runLoop(ctx context.Context, cfg loopConfig) error {
	// The pump holds its pending frame in a channel send, which a socket
	// close cannot interrupt. A loop-scoped context releases it on every
	// exit path, not only caller cancellation.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan []byte)
	readErrs := make(chan error, 1)
	go c.readPump(ctx, frames, readErrs)

	ticker := time.NewTicker(cfg.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.writePing(ctx); err != nil {
				return err
			}
		case req, ok := <-cfg.orders:
			if !ok {
				return nil
			}
			if err := cfg.onOrder(ctx, req); err != nil {
				return err
			}
		case frame := <-frames:
			if err := cfg.onFrame(ctx, frame); err != nil {
				return err
			}
		case err := <-readErrs:
			if isNormalClosure(err) {
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return errs.New(Venue, errs.KindTransport,
				errs.WithMessage("read frame"), errs.WithCause(err))
		}
	}
}

// emitEvent delivers one normalized event to the consumer. Delivery blocks;
// the only failure mode is session cancellation.
func emitEvent(ctx context.Context, events chan<- schema.LiveEvent, ev schema.LiveEvent) error {
	select {
	case events <- ev:
		observability.Telemetry().IncCounter(observability.MetricEventsEmitted, 1,
			map[string]string{"venue": Venue, "type": string(ev.Type)})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isNormalClosure reports whether the read error is an orderly peer shutdown.
func isNormalClosure(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, io.EOF)
}
