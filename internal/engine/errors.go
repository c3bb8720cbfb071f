package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uvote/uvote-backend/internal/ledger"
)

// Caller errors. All of these are expected, recoverable outcomes of normal
// API traffic and are returned typed rather than logged-and-swallowed.
var (
	ErrMarketNotFound    = errors.New("market not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrOptionOutOfRange  = errors.New("option index out of range")
	ErrMarketClosed      = errors.New("market closed for betting")
	ErrMarketInactive    = errors.New("market inactive")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrNothingToClaim    = errors.New("nothing to claim")
	ErrAlreadyClaimed    = errors.New("winnings already claimed")
	ErrWindowClosed      = errors.New("report window closed")
	ErrAlreadyReported   = errors.New("already reported")
	ErrValidation        = errors.New("invalid market parameters")
)

// Funding errors are the ledger's sentinels, re-exported so callers of the
// engine match against one package.
var (
	ErrInsufficientBalance   = ledger.ErrInsufficientBalance
	ErrInsufficientAllowance = ledger.ErrInsufficientAllowance
)

// ErrPoolMismatch signals a broken accounting invariant. Unlike the caller
// errors above it indicates a programming defect, never bad input.
var ErrPoolMismatch = errors.New("pool accounting mismatch")

func poolMismatch(marketID int64, what string, pool, got decimal.Decimal) error {
	return fmt.Errorf("%w: market %d %s: pool %s, summed %s", ErrPoolMismatch, marketID, what, pool, got)
}

// Store errors.
var (
	// ErrVersionConflict means an optimistic market update lost a race and
	// should be retried against a fresh read.
	ErrVersionConflict = errors.New("market version conflict")
)
