package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uvote/uvote-backend/internal/ledger"
)

// Ledger is the durable token ledger. Balances and allowances are plain rows;
// transfers lock the debited rows (SELECT ... FOR UPDATE) so concurrent spends
// of the same account serialize inside Postgres.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) BalanceOf(ctx context.Context, asset, account string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := l.db.QueryRowContext(ctx,
		`SELECT balance FROM ledger_accounts WHERE asset = $1 AND account = $2`,
		asset, account,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (l *Ledger) Allowance(ctx context.Context, asset, owner, spender string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := l.db.QueryRowContext(ctx,
		`SELECT amount FROM ledger_allowances WHERE asset = $1 AND owner = $2 AND spender = $3`,
		asset, owner, spender,
	).Scan(&amount)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get allowance: %w", err)
	}
	return amount, nil
}

func (l *Ledger) TransferFrom(ctx context.Context, asset, spender, from, to string, amount decimal.Decimal) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var allowance decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT amount FROM ledger_allowances WHERE asset = $1 AND owner = $2 AND spender = $3 FOR UPDATE`,
		asset, from, spender,
	).Scan(&allowance)
	if err == sql.ErrNoRows || (err == nil && allowance.LessThan(amount)) {
		return fmt.Errorf("%w: spender %s, owner %s", ledger.ErrInsufficientAllowance, spender, from)
	}
	if err != nil {
		return fmt.Errorf("failed to lock allowance: %w", err)
	}

	if err := move(ctx, tx, asset, from, to, amount); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE ledger_allowances SET amount = amount - $4 WHERE asset = $1 AND owner = $2 AND spender = $3`,
		asset, from, spender, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to consume allowance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}
	return nil
}

func (l *Ledger) Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := move(ctx, tx, asset, from, to, amount); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}
	return nil
}

// Mint credits account out of thin air. Operator tooling and tests only.
func (l *Ledger) Mint(ctx context.Context, asset, account string, amount decimal.Decimal) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ledger_accounts (asset, account, balance) VALUES ($1, $2, $3)
		ON CONFLICT (asset, account) DO UPDATE SET balance = ledger_accounts.balance + EXCLUDED.balance
	`, asset, account, amount)
	if err != nil {
		return fmt.Errorf("failed to mint: %w", err)
	}
	return nil
}

// Approve sets (not adds to) spender's allowance over owner's funds.
func (l *Ledger) Approve(ctx context.Context, asset, owner, spender string, amount decimal.Decimal) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ledger_allowances (asset, owner, spender, amount) VALUES ($1, $2, $3, $4)
		ON CONFLICT (asset, owner, spender) DO UPDATE SET amount = EXCLUDED.amount
	`, asset, owner, spender, amount)
	if err != nil {
		return fmt.Errorf("failed to approve: %w", err)
	}
	return nil
}

// move debits from and credits to inside tx. The debit row is locked first so
// two spends of one account cannot both pass the balance check.
func move(ctx context.Context, tx *sql.Tx, asset, from, to string, amount decimal.Decimal) error {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx,
		`SELECT balance FROM ledger_accounts WHERE asset = $1 AND account = $2 FOR UPDATE`,
		asset, from,
	).Scan(&balance)
	if err == sql.ErrNoRows || (err == nil && balance.LessThan(amount)) {
		return fmt.Errorf("%w: account %s, asset %s", ledger.ErrInsufficientBalance, from, asset)
	}
	if err != nil {
		return fmt.Errorf("failed to lock balance: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE ledger_accounts SET balance = balance - $3 WHERE asset = $1 AND account = $2`,
		asset, from, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to debit: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_accounts (asset, account, balance) VALUES ($1, $2, $3)
		ON CONFLICT (asset, account) DO UPDATE SET balance = ledger_accounts.balance + EXCLUDED.balance
	`, asset, to, amount)
	if err != nil {
		return fmt.Errorf("failed to credit: %w", err)
	}
	return nil
}
