package parser

import (
	"testing"

	"github.com/KevinKickass/ScaleGate/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type parseCase struct {
	name   string
	input  string
	gross  float64
	net    float64
	unit   string
	stable bool
}

func runParseCases(t *testing.T, parse Func, cases []parseCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := parse(tc.input)
			require.NoError(t, err)
			assert.InDelta(t, tc.gross, r.GrossWeight, 1e-9, "gross")
			assert.InDelta(t, tc.net, r.NetWeight, 1e-9, "net")
			assert.Equal(t, tc.unit, r.Unit)
			assert.Equal(t, tc.stable, r.IsStable)
			assert.False(t, r.Timestamp.IsZero())
		})
	}
}

func TestParseRinstrum(t *testing.T) {
	runParseCases(t, ParseRinstrum, []parseCase{
		{"gross echo", "20050026+123.45kg", 123.45, 0, "kg", true},
		{"net echo", "20050025-23.5kg", 0, -23.5, "kg", true},
		{"alternate gross code", "81050026+1.50lb", 1.5, 0, "lb", true},
		{"unknown code fills both", "20050099+7.25kg", 7.25, 7.25, "kg", true},
		{"flagged gross", "81050026:-     23 kg G", -23, 0, "kg", true},
		{"flagged net", "81050025: 12.5 kg N", 0, 12.5, "kg", true},
		{"flagged gross unstable", "U 81050026: 4 kg G", 4, 0, "kg", false},
		{"flagged zero ack", "81050026: 0 kg Z", 0, 0, "kg", true},
		{"stable signed", "S -32.000 kg", -32, -32, "kg", true},
		{"stable padded no space", "S -00032.000kg", -32, -32, "kg", true},
		{"unstable padded", "U 00032.000 kg", 32, 32, "kg", false},
		{"unicode minus", "S −12.5 kg", -12.5, -12.5, "kg", true},
		{"hex two's complement", "S FFFFFFE9 kg", -23, -23, "kg", true},
		{"decimal register", "U 00032 kg", 32, 32, "kg", false},
		{"value after last colon", "81050026:0000:  45.5 lb", 45.5, 45.5, "lb", false},
		{"space between sign and digits", "U - 12.0 kg", -12, -12, "kg", false},
		{"zero forces stable", "U 0.000 kg", 0, 0, "kg", true},
		{"default unit", "S 15.5", 15.5, 15.5, "kg", true},
		{"control characters", "S\t  8.25 kg\r", 8.25, 8.25, "kg", true},
	})
}

func TestParseRinstrumFlaggedTare(t *testing.T) {
	r, err := ParseRinstrum("81050026: 3.2 kg T")
	require.NoError(t, err)
	require.NotNil(t, r.TareWeight)
	assert.InDelta(t, 3.2, *r.TareWeight, 1e-9)
	require.NotNil(t, r.Status)
	assert.Equal(t, "T", *r.Status)
	assert.True(t, r.IsStable)
}

func TestParseRinstrumErrors(t *testing.T) {
	_, err := ParseRinstrum("E")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProtocol)
	assert.ErrorIs(t, err, types.ErrDeviceReported)

	_, err = ParseRinstrum(" \r\n")
	assert.ErrorIs(t, err, types.ErrProtocol)
	assert.NotErrorIs(t, err, types.ErrDeviceReported)

	_, err = ParseRinstrum("S no weight here")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProtocol)

	var perr *types.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "S no weight here", perr.Input)
}

func TestParseDiniArgeo(t *testing.T) {
	runParseCases(t, ParseDiniArgeo, []parseCase{
		{"stable gross", "ST,GS,+00023.450kg", 23.45, 23.45, "kg", true},
		{"unstable net", "US,NT,-12.5kg", -12.5, -12.5, "kg", false},
		{"ack", "OK", 0, 0, "kg", true},
		{"ack lowercase", " ok\r\n", 0, 0, "kg", true},
		{"strict", "+00012.500kg", 12.5, 0, "kg", true},
		{"strict spaced upper unit", "-3.25 LB", -3.25, 0, "lb", true},
		{"no channel field", "ST,+5.000kg", 5, 5, "kg", true},
		{"decimal comma", "ST,GS,+12,5kg", 12.5, 12.5, "kg", true},
		{"decimal comma unsigned", "ST,GS,12,5kg", 12.5, 12.5, "kg", true},
		{"decimal comma padded", "ST,GS, 0012,500 kg", 12.5, 12.5, "kg", true},
		{"decimal comma bare", "12,5kg", 12.5, 12.5, "kg", false},
		{"numeric field kept apart", "ST,01,12kg", 12, 12, "kg", true},
		{"default unit", "ST,GS,+7", 7, 7, "kg", true},
		{"trailing spaces", "ST , NT , +1.5 g ", 1.5, 1.5, "g", true},
	})
}

func TestParseDiniArgeoErrors(t *testing.T) {
	for _, input := range []string{"", "   ", "ST,GS,kg", "ERR"} {
		_, err := ParseDiniArgeo(input)
		assert.ErrorIs(t, err, types.ErrProtocol, "input %q", input)
	}
}

func TestParseDiniArgeoStatus(t *testing.T) {
	r, err := ParseDiniArgeo("ST,GS,+00023.450kg")
	require.NoError(t, err)
	require.NotNil(t, r.Status)
	assert.Equal(t, "ST,GS", *r.Status)

	r, err = ParseDiniArgeo("ST,NT,+00004.000kg")
	require.NoError(t, err)
	require.NotNil(t, r.Status)
	assert.Equal(t, "ST,NT", *r.Status)
	assert.Equal(t, r.GrossWeight, r.NetWeight)
}
