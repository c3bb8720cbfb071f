package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/uvote/uvote-backend/internal/engine"
)

// Postgres is the durable engine.Store. Markets are one row each with the
// option array and reporter set embedded as JSONB; bets are keyed by
// (market_id, bettor, option_idx). Lifecycle writes are guarded by the
// version column so concurrent writers outside the process lock surface as
// ErrVersionConflict instead of lost updates.
type Postgres struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func NewPostgres(db *sql.DB, logger *zap.SugaredLogger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

func (r *Postgres) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Postgres) CreateMarket(ctx context.Context, m *engine.Market) error {
	options, reporters, err := marshalMarketJSON(m)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO markets (creator, stake_asset, title, description, options, status,
			winning_option, created_at, closes_at, cooldown_ends_at, resolved_at,
			report_count, reporters, total_pool, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)
		RETURNING id
	`

	err = r.db.QueryRowContext(ctx, query,
		m.Creator, m.StakeAsset, m.Title, m.Description, options, m.Status,
		m.WinningOption, m.CreatedAt, m.ClosesAt, m.CooldownEndsAt, m.ResolvedAt,
		m.ReportCount, reporters, m.TotalPool,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("failed to insert market: %w", err)
	}
	m.Version = 1
	return nil
}

const marketColumns = `id, creator, stake_asset, title, description, options, status,
	winning_option, created_at, closes_at, cooldown_ends_at, resolved_at,
	report_count, reporters, total_pool, version`

func (r *Postgres) GetMarket(ctx context.Context, id int64) (*engine.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE id = $1`

	m, err := scanMarket(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: id %d", engine.ErrMarketNotFound, id)
		}
		return nil, fmt.Errorf("failed to get market: %w", err)
	}
	return m, nil
}

func (r *Postgres) ListMarkets(ctx context.Context, f engine.MarketFilter) ([]*engine.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE ($1 = '' OR status = $1) AND ($2 = '' OR creator = $2)
		ORDER BY id DESC LIMIT $3 OFFSET $4`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, query, string(f.Status), f.Creator, limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list markets: %w", err)
	}
	defer rows.Close()

	var out []*engine.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func (r *Postgres) UpdateMarket(ctx context.Context, m *engine.Market) error {
	return r.updateMarket(ctx, r.db, m)
}

func (r *Postgres) PlaceBet(ctx context.Context, m *engine.Market, b *engine.Bet) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.updateMarket(ctx, tx, m); err != nil {
		return err
	}

	query := `
		INSERT INTO bets (market_id, bettor, option_idx, amount, claimed, placed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (market_id, bettor, option_idx) DO UPDATE SET
			amount = EXCLUDED.amount,
			updated_at = EXCLUDED.updated_at
	`
	_, err = tx.ExecContext(ctx, query,
		b.MarketID, b.Bettor, b.OptionIdx, b.Amount, b.Claimed, b.PlacedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert bet: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bet: %w", err)
	}
	return nil
}

// execer covers *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *Postgres) updateMarket(ctx context.Context, db execer, m *engine.Market) error {
	options, reporters, err := marshalMarketJSON(m)
	if err != nil {
		return err
	}

	query := `
		UPDATE markets SET
			options = $3, status = $4, winning_option = $5, cooldown_ends_at = $6,
			resolved_at = $7, report_count = $8, reporters = $9, total_pool = $10,
			version = version + 1
		WHERE id = $1 AND version = $2
	`
	res, err := db.ExecContext(ctx, query,
		m.ID, m.Version, options, m.Status, m.WinningOption, m.CooldownEndsAt,
		m.ResolvedAt, m.ReportCount, reporters, m.TotalPool,
	)
	if err != nil {
		return fmt.Errorf("failed to update market: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM markets WHERE id = $1)`, m.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check market existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: id %d", engine.ErrMarketNotFound, m.ID)
		}
		return fmt.Errorf("%w: market %d, caller at version %d", engine.ErrVersionConflict, m.ID, m.Version)
	}
	m.Version++
	return nil
}

func (r *Postgres) GetBet(ctx context.Context, marketID int64, bettor string, optionIdx int) (*engine.Bet, error) {
	query := `
		SELECT market_id, bettor, option_idx, amount, claimed, placed_at, updated_at
		FROM bets WHERE market_id = $1 AND bettor = $2 AND option_idx = $3
	`
	b := &engine.Bet{}
	err := r.db.QueryRowContext(ctx, query, marketID, bettor, optionIdx).Scan(
		&b.MarketID, &b.Bettor, &b.OptionIdx, &b.Amount, &b.Claimed, &b.PlacedAt, &b.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get bet: %w", err)
	}
	return b, nil
}

func (r *Postgres) UserBets(ctx context.Context, marketID int64, bettor string) ([]*engine.Bet, error) {
	query := `
		SELECT market_id, bettor, option_idx, amount, claimed, placed_at, updated_at
		FROM bets WHERE market_id = $1 AND bettor = $2
		ORDER BY option_idx
	`
	return r.queryBets(ctx, query, marketID, bettor)
}

func (r *Postgres) MarketBets(ctx context.Context, marketID int64) ([]*engine.Bet, error) {
	query := `
		SELECT market_id, bettor, option_idx, amount, claimed, placed_at, updated_at
		FROM bets WHERE market_id = $1
		ORDER BY bettor, option_idx
	`
	return r.queryBets(ctx, query, marketID)
}

func (r *Postgres) queryBets(ctx context.Context, query string, args ...any) ([]*engine.Bet, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bets: %w", err)
	}
	defer rows.Close()

	var out []*engine.Bet
	for rows.Next() {
		b := &engine.Bet{}
		if err := rows.Scan(&b.MarketID, &b.Bettor, &b.OptionIdx, &b.Amount, &b.Claimed, &b.PlacedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bet: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func (r *Postgres) SetClaimed(ctx context.Context, marketID int64, bettor string, optionIdxs []int, claimed bool) error {
	if len(optionIdxs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE bets SET claimed = $4, updated_at = NOW() WHERE market_id = $1 AND bettor = $2 AND option_idx = $3`
	for _, idx := range optionIdxs {
		res, err := tx.ExecContext(ctx, query, marketID, bettor, idx, claimed)
		if err != nil {
			return fmt.Errorf("failed to set claimed: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read claim result: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("no bet for market %d bettor %s option %d", marketID, bettor, idx)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit claim: %w", err)
	}
	return nil
}

// marshalMarketJSON prepares the embedded JSONB columns.
func marshalMarketJSON(m *engine.Market) (options, reporters []byte, err error) {
	options, err = json.Marshal(m.Options)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal options: %w", err)
	}
	rep := m.Reporters
	if rep == nil {
		rep = map[string]bool{}
	}
	reporters, err = json.Marshal(rep)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal reporters: %w", err)
	}
	return options, reporters, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row rowScanner) (*engine.Market, error) {
	m := &engine.Market{}
	var options, reporters []byte
	err := row.Scan(
		&m.ID, &m.Creator, &m.StakeAsset, &m.Title, &m.Description, &options, &m.Status,
		&m.WinningOption, &m.CreatedAt, &m.ClosesAt, &m.CooldownEndsAt, &m.ResolvedAt,
		&m.ReportCount, &reporters, &m.TotalPool, &m.Version,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(options, &m.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	if err := json.Unmarshal(reporters, &m.Reporters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reporters: %w", err)
	}
	if len(m.Reporters) == 0 {
		m.Reporters = nil
	}
	return m, nil
}
