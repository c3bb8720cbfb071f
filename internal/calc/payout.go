package calc

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Payout returns the amount claimable by a bettor who staked b on the winning
// option, where w is the total stake on the winning option and l the combined
// stake on all losing options:
//
//	payout = b + floor(b * l / w)
//
// The pro-rata share is floored at the asset's decimal precision so that the
// sum of payouts across all winners never exceeds the total pool. A zero
// winning pool yields zero (nothing staked the winner, nothing to distribute).
func Payout(b, w, l decimal.Decimal, decimals int32) decimal.Decimal {
	if b.Sign() <= 0 || w.Sign() <= 0 {
		return decimal.Zero
	}
	return b.Add(LosingShare(b, w, l, decimals))
}

// LosingShare returns floor(b * l / w) computed exactly in integer base units
// of the asset (10^-decimals). Doing the division on scaled integers avoids
// the rounding drift a fixed-precision decimal division could introduce right
// at a unit boundary.
func LosingShare(b, w, l decimal.Decimal, decimals int32) decimal.Decimal {
	if b.Sign() <= 0 || w.Sign() <= 0 || l.Sign() <= 0 {
		return decimal.Zero
	}
	bu := b.Shift(decimals).BigInt()
	wu := w.Shift(decimals).BigInt()
	lu := l.Shift(decimals).BigInt()

	share := new(big.Int).Mul(bu, lu)
	share.Quo(share, wu)
	return decimal.NewFromBigInt(share, -decimals)
}

// ValidAmount reports whether amount is positive and representable at the
// asset's decimal precision. Stakes with sub-unit dust are rejected up front
// so every pool total stays exact in base units.
func ValidAmount(amount decimal.Decimal, decimals int32) bool {
	return amount.Sign() > 0 && amount.Equal(amount.Truncate(decimals))
}
