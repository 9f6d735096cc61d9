// Package errs provides structured error envelopes for venue connectivity failures.
package errs

import (
	"strconv"
	"strings"
)

// Kind identifies a connectivity error category.
type Kind string

const (
	// KindDecode indicates a malformed or unparseable venue frame.
	KindDecode Kind = "decode"
	// KindLookup indicates a symbol or order id missing from a trusted mapping.
	KindLookup Kind = "lookup"
	// KindCorrelation indicates an acknowledgement that cannot be matched to its request.
	KindCorrelation Kind = "correlation"
	// KindAuth indicates an authentication or authorization failure.
	KindAuth Kind = "auth"
	// KindOrder indicates a venue-reported order placement or cancellation failure.
	KindOrder Kind = "order"
	// KindCriticalConnection indicates a failure fatal to the session.
	KindCriticalConnection Kind = "critical_connection"
	// KindTransport indicates a socket-level I/O failure.
	KindTransport Kind = "transport"
)

// E captures structured error information produced by the connectivity layer.
// VenueCode and VenueMsg carry the venue's own result code and message when the
// error originates from an exchange response rather than a local fault.
type E struct {
	Venue     string
	Kind      Kind
	VenueCode int64
	VenueMsg  string
	Message   string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the venue and error kind.
func New(venue string, kind Kind, opts ...Option) *E {
	e := &E{
		Venue: strings.TrimSpace(venue),
		Kind:  kind,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithVenueCode records the venue-reported numeric result code.
func WithVenueCode(code int64) Option {
	return func(e *E) {
		e.VenueCode = code
	}
}

// WithVenueMessage captures the raw venue error message.
func WithVenueMessage(msg string) Option {
	return func(e *E) {
		e.VenueMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	venue := strings.TrimSpace(e.Venue)
	if venue == "" {
		venue = "unknown"
	}
	parts = append(parts, "venue="+venue)

	kind := strings.TrimSpace(string(e.Kind))
	if kind == "" {
		kind = "unknown"
	}
	parts = append(parts, "kind="+kind)

	if e.VenueCode != 0 {
		parts = append(parts, "venue_code="+strconv.FormatInt(e.VenueCode, 10))
	}
	if e.VenueMsg != "" {
		parts = append(parts, "venue_msg="+strconv.Quote(e.VenueMsg))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// IsFatal reports whether reconnecting the session cannot recover from the
// error. Transport failures are not fatal in this sense.
func (e *E) IsFatal() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindAuth, KindCriticalConnection:
		return true
	default:
		return false
	}
}
