package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/uvote/uvote-backend/internal/ledger"
)

// Ledger is an in-memory fungible-balance store used by unit tests and the
// dev-mode server. It keeps per-asset balances and ERC20-style allowances.
type Ledger struct {
	mu         sync.Mutex
	balances   map[string]map[string]decimal.Decimal // asset -> account -> balance
	allowances map[string]map[string]decimal.Decimal // asset -> owner|spender -> allowance
}

func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[string]map[string]decimal.Decimal),
		allowances: make(map[string]map[string]decimal.Decimal),
	}
}

// Mint credits account with amount out of thin air. Test/dev helper.
func (l *Ledger) Mint(asset, account string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(asset, account, amount)
}

// Approve sets (not adds) the allowance spender may pull from owner.
func (l *Ledger) Approve(asset, owner, spender string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[asset] == nil {
		l.allowances[asset] = make(map[string]decimal.Decimal)
	}
	l.allowances[asset][allowanceKey(owner, spender)] = amount
}

func (l *Ledger) BalanceOf(_ context.Context, asset, account string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[asset][account], nil
}

func (l *Ledger) Allowance(_ context.Context, asset, owner, spender string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[asset][allowanceKey(owner, spender)], nil
}

func (l *Ledger) TransferFrom(_ context.Context, asset, spender, from, to string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %s", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey(from, spender)
	allowed := l.allowances[asset][key]
	if allowed.LessThan(amount) {
		return ledger.ErrInsufficientAllowance
	}
	if err := l.debit(asset, from, amount); err != nil {
		return err
	}
	l.allowances[asset][key] = allowed.Sub(amount)
	l.credit(asset, to, amount)
	return nil
}

func (l *Ledger) Transfer(_ context.Context, asset, from, to string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %s", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.debit(asset, from, amount); err != nil {
		return err
	}
	l.credit(asset, to, amount)
	return nil
}

// debit and credit require l.mu held.
func (l *Ledger) debit(asset, account string, amount decimal.Decimal) error {
	bal := l.balances[asset][account]
	if bal.LessThan(amount) {
		return ledger.ErrInsufficientBalance
	}
	l.balances[asset][account] = bal.Sub(amount)
	return nil
}

func (l *Ledger) credit(asset, account string, amount decimal.Decimal) {
	if l.balances[asset] == nil {
		l.balances[asset] = make(map[string]decimal.Decimal)
	}
	l.balances[asset][account] = l.balances[asset][account].Add(amount)
}

func allowanceKey(owner, spender string) string {
	return owner + "|" + spender
}
