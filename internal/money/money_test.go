package money

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := map[string]int64{
		"0":        0,
		"1":        100,
		"1000.5":   100050,
		"1000.50":  100050,
		"-12.34":   -1234,
		" 63.00 ":  6300,
		"0.01":     1,
		"100000.0": 10000000,
	}
	for in, want := range cases {
		got, err := Parse(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := Parse("1.001")
	require.ErrorIs(t, err, ErrTooPrecise)
	_, err = Parse("abc")
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = Parse("")
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = Parse("99999999999999999999")
	require.ErrorIs(t, err, ErrOutOfRange)

	got, err := Parse("12.3000")
	require.NoError(t, err)
	require.Equal(t, int64(1230), got)
}

func TestParseRejectsExponentsQuickly(t *testing.T) {
	inputs := []string{
		"1e-20000000",
		"1e-2000000000",
		"1e20000000",
		"1e30",
		"1E5",
		"-2.5e3",
		"0x10",
		"+5",
		".5",
		"5.",
		strings.Repeat("9", 41),
		"0." + strings.Repeat("0", 45) + "1",
	}
	for _, in := range inputs {
		start := time.Now()
		_, err := Parse(in)
		require.ErrorIs(t, err, ErrInvalidAmount, in)
		require.Less(t, time.Since(start), 50*time.Millisecond, in)
	}
}

func TestFromDecimalBoundsExponent(t *testing.T) {
	start := time.Now()
	_, err := FromDecimal(decimal.New(1, -20000000))
	require.ErrorIs(t, err, ErrTooPrecise)
	_, err = FromDecimal(decimal.New(1, 20000000))
	require.ErrorIs(t, err, ErrOutOfRange)
	require.Less(t, time.Since(start), 50*time.Millisecond)

	cents, err := FromDecimal(decimal.New(0, 90000))
	require.NoError(t, err)
	require.Zero(t, cents)
	cents, err = FromDecimal(decimal.New(315, 2))
	require.NoError(t, err)
	require.Equal(t, int64(3150000), cents)
}

func TestFormat(t *testing.T) {
	require.Equal(t, "0.00", Format(0))
	require.Equal(t, "1000.50", Format(100050))
	require.Equal(t, "-0.05", Format(-5))
	require.True(t, ToDecimal(31500).Equal(decimal.RequireFromString("315")))
}

func TestAmountJSON(t *testing.T) {
	var payload struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"100.25","b":42}`), &payload))
	require.Equal(t, int64(10025), payload.A.Cents())
	require.Equal(t, int64(4200), payload.B.Cents())

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":"100.25","b":"42.00"}`, string(out))

	require.Error(t, json.Unmarshal([]byte(`{"a":"1.234"}`), &payload))
}
