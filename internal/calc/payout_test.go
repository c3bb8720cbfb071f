package calc

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayout(t *testing.T) {
	tests := []struct {
		name     string
		b        string
		w        string
		l        string
		decimals int32
		expected string
	}{
		{
			name: "winner takes stake plus proportional share",
			b:    "100", w: "300", l: "600",
			decimals: 9,
			expected: "300", // 100 + floor(100*600/300)
		},
		{
			name: "two winners split the losing pool",
			b:    "50", w: "150", l: "300",
			decimals: 9,
			expected: "150",
		},
		{
			name: "sole winner collapses to the whole pool",
			b:    "40", w: "40", l: "260",
			decimals: 9,
			expected: "300",
		},
		{
			name: "no losing stake returns the bare stake",
			b:    "100", w: "100", l: "0",
			decimals: 9,
			expected: "100",
		},
		{
			name: "no winning stake yields zero",
			b:    "0", w: "0", l: "500",
			decimals: 9,
			expected: "0",
		},
		{
			name: "share floors at asset precision",
			b:    "1", w: "3", l: "1",
			decimals: 9,
			expected: "1.333333333", // 1 + floor(1/3) at 9 decimals
		},
		{
			name: "zero decimals floors to whole units",
			b:    "1", w: "3", l: "1",
			decimals: 0,
			expected: "1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := decimal.RequireFromString(tt.b)
			w := decimal.RequireFromString(tt.w)
			l := decimal.RequireFromString(tt.l)
			expected := decimal.RequireFromString(tt.expected)

			result := Payout(b, w, l, tt.decimals)
			assert.True(t, expected.Equal(result), "expected %s, got %s", expected, result)
		})
	}
}

// The sum of every winner's payout must never exceed stake + losing pool,
// whatever the split. Exercises an awkward three-way division.
func TestPayoutSumNeverExceedsPool(t *testing.T) {
	const decimals = int32(9)
	stakes := []string{"1", "1", "1"}
	w := decimal.RequireFromString("3")
	l := decimal.RequireFromString("100.000000001")

	total := decimal.Zero
	for _, s := range stakes {
		total = total.Add(Payout(decimal.RequireFromString(s), w, l, decimals))
	}
	pool := w.Add(l)
	require.True(t, total.LessThanOrEqual(pool), "payouts %s exceed pool %s", total, pool)

	// Dust below one base unit per winner stays in escrow.
	dust := pool.Sub(total)
	assert.True(t, dust.LessThan(decimal.New(3, -decimals)), "dust %s too large", dust)
}

func TestLosingShare(t *testing.T) {
	w := decimal.RequireFromString("3")
	l := decimal.RequireFromString("1")

	share := LosingShare(decimal.RequireFromString("1"), w, l, 9)
	assert.Equal(t, "0.333333333", share.String())

	// Exact division has no remainder to floor away.
	share = LosingShare(decimal.RequireFromString("1"), decimal.RequireFromString("2"), decimal.RequireFromString("4"), 9)
	assert.Equal(t, "2", share.String())

	assert.True(t, LosingShare(decimal.Zero, w, l, 9).IsZero())
	assert.True(t, LosingShare(decimal.RequireFromString("1"), decimal.Zero, l, 9).IsZero())
	assert.True(t, LosingShare(decimal.RequireFromString("1"), w, decimal.Zero, 9).IsZero())
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int32
		valid    bool
	}{
		{"whole amount", "10", 9, true},
		{"at precision limit", "0.000000001", 9, true},
		{"below precision limit", "0.0000000001", 9, false},
		{"zero", "0", 9, false},
		{"negative", "-1", 9, false},
		{"fractional at zero decimals", "1.5", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount := decimal.RequireFromString(tt.amount)
			assert.Equal(t, tt.valid, ValidAmount(amount, tt.decimals))
		})
	}
}
