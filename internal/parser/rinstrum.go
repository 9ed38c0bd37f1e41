package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/KevinKickass/ScaleGate/internal/types"
)

var (
	// 8-digit command echo, sign, decimal, unit: "20050026+123.45kg"
	rinEchoPattern = regexp.MustCompile(`(\d{8})([+-])(\d+\.\d+)([kK][gG]|[lL][bB])`)
	// ":" then sign, number, unit and G/N/T/Z status letter: "81050026:-   23 kg G"
	rinFlaggedPattern = regexp.MustCompile(`:\s*([+-]?)\s*(\d+(?:\.\d*)?)\s*([kK][gG]|[lL][bB]|[gG])\s*([GNTZ])`)
	rinLeadingHex     = regexp.MustCompile(`^[0-9A-Fa-f]{2,8}`)
	rinSignedNumber   = regexp.MustCompile(`[+-]?\s*\d+(?:\.\d+)?`)
	rinUnitToken      = regexp.MustCompile(`[A-Za-z%]+`)
	rinLeadingUnit    = regexp.MustCompile(`^\s*([A-Za-z%]+)`)
)

var (
	rinGrossCodes = map[string]bool{"20050026": true, "81050026": true}
	rinNetCodes   = map[string]bool{"20050025": true, "81050025": true}
)

// ParseRinstrum decodes a RINCMD-style response. Patterns are tried in
// order: command echo, colon-flagged reading, free-form scan.
func ParseRinstrum(raw string) (*types.WeightReading, error) {
	text := normalizeDashes(raw)
	if strings.TrimSpace(text) == "" {
		return nil, types.NewProtocolError("empty response", raw, nil)
	}

	if r, ok, err := rinstrumEcho(text); ok || err != nil {
		return r, err
	}
	if r, ok, err := rinstrumFlagged(text); ok || err != nil {
		return r, err
	}
	return rinstrumScan(text)
}

func rinstrumEcho(text string) (*types.WeightReading, bool, error) {
	m := rinEchoPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false, nil
	}

	v, err := parseNumber(m[2] + m[3])
	if err != nil {
		return nil, true, err
	}

	var r *types.WeightReading
	switch code := m[1]; {
	case rinGrossCodes[code]:
		r = reading(v, 0, m[4], true)
	case rinNetCodes[code]:
		r = reading(0, v, m[4], true)
	default:
		r = reading(v, v, m[4], true)
	}
	r.Status = strPtr(m[1])
	return r, true, nil
}

func rinstrumFlagged(text string) (*types.WeightReading, bool, error) {
	m := rinFlaggedPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false, nil
	}

	v, err := parseNumber(m[1] + m[2])
	if err != nil {
		return nil, true, err
	}

	unstable := false
	if fields := strings.Fields(scrub(text)); len(fields) > 0 && fields[0] == "U" {
		unstable = true
	}

	var r *types.WeightReading
	switch m[4] {
	case "G":
		r = reading(v, 0, m[3], !unstable)
	case "N":
		r = reading(0, v, m[3], !unstable)
	case "T":
		r = reading(v, v, m[3], true)
		tare := v
		r.TareWeight = &tare
	default: // Z
		r = reading(v, v, m[3], true)
	}
	r.Status = strPtr(m[4])
	return r, true, nil
}

func rinstrumScan(text string) (*types.WeightReading, error) {
	cleaned := scrub(text)
	if cleaned == "" {
		return nil, types.NewProtocolError("empty response", text, nil)
	}
	if cleaned == "E" {
		return nil, &types.Error{
			Kind:    types.KindProtocol,
			Message: "indicator returned error token",
			Input:   cleaned,
			Err:     types.ErrDeviceReported,
		}
	}

	fields := strings.Fields(cleaned)
	flag := fields[0]
	stable := flag == "S"

	search := cleaned
	if i := strings.LastIndex(cleaned, ":"); i >= 0 {
		search = strings.TrimSpace(cleaned[i+1:])
	} else if flag == "S" || flag == "U" {
		search = strings.TrimSpace(strings.TrimPrefix(cleaned, flag))
	}

	value, unit, ok, err := rinstrumRegisterValue(search)
	if err != nil {
		return nil, err
	}
	if !ok {
		value, unit, err = rinstrumDecimalValue(search, cleaned)
		if err != nil {
			return nil, err
		}
	}

	// Tare and zero acknowledgements report 0 and are not measurements.
	if value == 0 {
		stable = true
	}

	r := reading(value, value, unit, stable)
	if flag == "S" || flag == "U" {
		r.Status = strPtr(flag)
	}
	return r, nil
}

// rinstrumRegisterValue decodes a leading register dump: hex when it holds
// an A-F digit (32-bit two's complement), plain decimal otherwise.
func rinstrumRegisterValue(search string) (float64, string, bool, error) {
	run := rinLeadingHex.FindString(search)
	if run == "" {
		return 0, "", false, nil
	}

	rest := search[len(run):]
	if rest != "" && strings.ContainsAny(rest[:1], ".,0123456789abcdefABCDEF") {
		return 0, "", false, nil
	}

	var value float64
	if strings.ContainsAny(run, "abcdefABCDEF") {
		// Hex must stand alone; "ACK" or "deg" are words, not registers.
		if rest != "" && rest[0] != ' ' {
			return 0, "", false, nil
		}
		u, err := strconv.ParseUint(run, 16, 32)
		if err != nil {
			return 0, "", false, types.NewProtocolError("invalid hex value", run, err)
		}
		value = float64(int32(uint32(u)))
	} else {
		n, err := strconv.ParseInt(run, 10, 64)
		if err != nil {
			return 0, "", false, types.NewProtocolError("invalid decimal value", run, err)
		}
		value = float64(n)
	}

	unit := ""
	if m := rinLeadingUnit.FindStringSubmatch(rest); m != nil {
		unit = m[1]
	}
	return value, unit, true, nil
}

func rinstrumDecimalValue(search, cleaned string) (float64, string, error) {
	loc := rinSignedNumber.FindStringIndex(search)
	if loc == nil {
		return 0, "", types.NewProtocolError("unexpected response format", cleaned, nil)
	}

	number := strings.Join(strings.Fields(search[loc[0]:loc[1]]), "")
	v, err := parseNumber(number)
	if err != nil {
		return 0, "", err
	}
	return v, rinUnitToken.FindString(search[loc[1]:]), nil
}
