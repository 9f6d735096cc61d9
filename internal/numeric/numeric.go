// Package numeric converts venue string-encoded quantities and millisecond
// timestamps into the engine's numeric model.
package numeric

import (
	"strconv"
	"strings"

	"github.com/jsyzc2019/hftbacktest/errs"
	"github.com/jsyzc2019/hftbacktest/internal/schema"
)

const nanosPerMilli = 1_000_000

// MillisToNanos scales a venue millisecond timestamp to the engine's nanosecond
// time base.
func MillisToNanos(ms int64) int64 {
	return ms * nanosPerMilli
}

// ParsePrice converts one decimal string into a float32.
func ParsePrice(s string) (float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errs.New("numeric", errs.KindDecode, errs.WithMessage("empty decimal string"))
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, errs.New("numeric", errs.KindDecode,
			errs.WithMessage("malformed decimal string "+strconv.Quote(s)), errs.WithCause(err))
	}
	return float32(v), nil
}

// ParseLevel converts one (price, quantity) string pair into a depth level.
func ParseLevel(px, qty string) (schema.PriceLevel, error) {
	p, err := ParsePrice(px)
	if err != nil {
		return schema.PriceLevel{}, err
	}
	q, err := ParsePrice(qty)
	if err != nil {
		return schema.PriceLevel{}, err
	}
	return schema.PriceLevel{Price: p, Qty: q}, nil
}

// ParseLevels converts a venue level list ([["px","qty"], ...]) into depth
// levels. Any malformed pair aborts the whole list so a partially decoded side
// is never emitted.
func ParseLevels(raw [][2]string) ([]schema.PriceLevel, error) {
	out := make([]schema.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		level, err := ParseLevel(pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		out = append(out, level)
	}
	return out, nil
}
