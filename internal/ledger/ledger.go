package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Errors surfaced verbatim to callers of the settlement engine.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrUnknownAsset          = errors.New("unknown asset")
)

// Ledger is the fungible-balance store that stakes are denominated in.
// Accounts are opaque addresses; the settlement engine uses one synthetic
// escrow account per market. Implementations must be safe for concurrent use.
type Ledger interface {
	// BalanceOf returns the current balance of account for asset.
	BalanceOf(ctx context.Context, asset, account string) (decimal.Decimal, error)

	// Allowance returns the amount spender may pull from owner via TransferFrom.
	Allowance(ctx context.Context, asset, owner, spender string) (decimal.Decimal, error)

	// TransferFrom moves amount from `from` to `to` on behalf of spender,
	// consuming spender's allowance. Used to pull stake into market escrow.
	TransferFrom(ctx context.Context, asset, spender, from, to string, amount decimal.Decimal) error

	// Transfer moves amount from `from` to `to`. Used to pay out claims
	// and refunds from market escrow.
	Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal) error
}
