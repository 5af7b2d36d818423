package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRound(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "1.005", want: "1.01"},
		{in: "1.004", want: "1"},
		{in: "590", want: "590"},
		{in: "0.125", want: "0.13"},
		{in: "-0.125", want: "-0.13"},
		{in: "11800.00", want: "11800"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Round(decimal.RequireFromString(tt.in))
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "Round(%s) = %s, want %s", tt.in, got, tt.want)
		})
	}
}

func TestRoundIdempotent(t *testing.T) {
	for _, s := range []string{"0.333333", "12.345", "99.995", "1800", "0.005"} {
		once := Round(decimal.RequireFromString(s))
		assert.True(t, Round(once).Equal(once), "round not idempotent for %s", s)
		assert.True(t, IsCents(once))
	}
}

func TestCents(t *testing.T) {
	assert.Equal(t, int64(1180000), ToCents(decimal.NewFromInt(11800)))
	assert.Equal(t, int64(59001), ToCents(decimal.RequireFromString("590.005")))
	assert.True(t, FromCents(59000).Equal(decimal.NewFromInt(590)))
	assert.True(t, FromCents(ToCents(decimal.RequireFromString("12.34"))).Equal(decimal.RequireFromString("12.34")))
}

func TestIsCents(t *testing.T) {
	assert.True(t, IsCents(decimal.RequireFromString("10.10")))
	assert.False(t, IsCents(decimal.RequireFromString("10.101")))
}

func TestMinMax(t *testing.T) {
	a := decimal.NewFromInt(1)
	b := decimal.NewFromInt(2)
	assert.True(t, Max(a, b).Equal(b))
	assert.True(t, Min(a, b).Equal(a))
}
