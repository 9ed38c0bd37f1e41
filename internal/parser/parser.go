// Package parser decodes weighing-indicator responses into weight readings.
// Every parser is a pure function over the trimmed response text.
package parser

import (
	"strconv"
	"strings"
	"time"

	"github.com/KevinKickass/ScaleGate/internal/types"
)

const defaultUnit = "kg"

// Func is the shape shared by all dialect parsers.
type Func func(raw string) (*types.WeightReading, error)

var dashReplacer = strings.NewReplacer(
	"\u2212", "-", // minus sign
	"\u2013", "-", // en dash
	"\u2014", "-",
	"\u2015", "-",
	"\u2011", "-", // non-breaking hyphen
	"\uff0d", "-", // fullwidth
)

func normalizeDashes(s string) string {
	return dashReplacer.Replace(s)
}

// scrub turns control characters and NBSP into spaces and trims.
func scrub(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '\u00a0' {
			return ' '
		}
		return r
	}, s))
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, types.NewProtocolError("invalid number", s, err)
	}
	return v, nil
}

func normalizeUnit(u string) string {
	if u == "" {
		return defaultUnit
	}
	return strings.ToLower(u)
}

func reading(gross, net float64, unit string, stable bool) *types.WeightReading {
	return &types.WeightReading{
		GrossWeight: gross,
		NetWeight:   net,
		Unit:        normalizeUnit(unit),
		IsStable:    stable,
		Timestamp:   time.Now().UTC(),
	}
}

func strPtr(s string) *string {
	return &s
}
