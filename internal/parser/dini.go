package parser

import (
	"regexp"
	"strings"

	"github.com/KevinKickass/ScaleGate/internal/types"
)

var (
	diniStrictPattern = regexp.MustCompile(`^([+-]?\d+\.\d+)\s*([A-Za-z]+)$`)
	diniNumber        = regexp.MustCompile(`[+-]?\d+(?:\.\d+)?`)
	diniLeadingUnit   = regexp.MustCompile(`^\s*([A-Za-z]+)`)
	diniInteger       = regexp.MustCompile(`^[+-]?\d+$`)
	diniFraction      = regexp.MustCompile(`^\d+\s*[A-Za-z]*$`)
	diniFlag          = regexp.MustCompile(`^[A-Za-z]+$`)
)

// ParseDiniArgeo decodes a Dini-Argeo ASCII response such as
// "ST,GS,+00023.450kg", a bare "+12.5kg" or an "OK" acknowledgement.
func ParseDiniArgeo(raw string) (*types.WeightReading, error) {
	text := strings.TrimSpace(normalizeDashes(raw))
	if text == "" {
		return nil, types.NewProtocolError("empty response", raw, nil)
	}

	if strings.EqualFold(text, "OK") {
		r := reading(0, 0, "", true)
		r.Status = strPtr("OK")
		return r, nil
	}

	if m := diniStrictPattern.FindStringSubmatch(text); m != nil {
		v, err := parseNumber(m[1])
		if err != nil {
			return nil, err
		}
		return reading(v, 0, m[2], true), nil
	}

	fields := strings.Split(text, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	fields = joinDecimalComma(fields)

	stable := strings.HasPrefix(strings.ToUpper(fields[0]), "S")
	last := fields[len(fields)-1]
	flags := fields[:len(fields)-1]

	loc := diniNumber.FindStringIndex(last)
	if loc == nil {
		return nil, types.NewProtocolError("no weight value in response", text, nil)
	}
	v, err := parseNumber(last[loc[0]:loc[1]])
	if err != nil {
		return nil, err
	}

	unit := ""
	if m := diniLeadingUnit.FindStringSubmatch(last[loc[1]:]); m != nil {
		unit = m[1]
	}

	// The frame carries one weight. GS/NT only says which one, and stays
	// visible in Status.
	r := reading(v, v, unit, stable)
	if len(flags) > 0 {
		r.Status = strPtr(strings.Join(flags, ","))
	}
	return r, nil
}

// joinDecimalComma rejoins "+12","5kg" into "+12.5kg". Only the two
// trailing fields are considered, and only when everything before them is
// a status flag.
func joinDecimalComma(fields []string) []string {
	n := len(fields)
	if n < 2 {
		return fields
	}
	for _, f := range fields[:n-2] {
		if !diniFlag.MatchString(f) {
			return fields
		}
	}
	if diniInteger.MatchString(fields[n-2]) && diniFraction.MatchString(fields[n-1]) {
		joined := fields[n-2] + "." + fields[n-1]
		return append(fields[:n-2:n-2], joined)
	}
	return fields
}
