package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/quantgate/quantgate/internal/domain"
)

// TradeRecord is the archived form of a closed trade
type TradeRecord struct {
	ID         string    `db:"id" json:"id"`
	Symbol     string    `db:"symbol" json:"symbol"`
	EntryPrice float64   `db:"entry_price" json:"entry_price"`
	ExitPrice  float64   `db:"exit_price" json:"exit_price"`
	Quantity   float64   `db:"quantity" json:"quantity"`
	PnLPercent float64   `db:"pnl_percent" json:"pnl_percent"`
	OpenedAt   time.Time `db:"opened_at" json:"opened_at"`
	ClosedAt   time.Time `db:"closed_at" json:"closed_at"`
	Context    []byte    `db:"context" json:"context"` // DecisionContext JSONB
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// TradesRepo archives closed trades for offline analysis. The learner
// never reads from here; in-memory state stays authoritative.
type TradesRepo interface {
	// InsertClosed archives a closed trade. Open trades are rejected.
	InsertClosed(ctx context.Context, trade domain.Trade) error

	// ListBySymbol retrieves archived trades for a symbol, newest first
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]TradeRecord, error)

	// Count returns the number of archived trades
	Count(ctx context.Context) (int64, error)
}

// tradesRepo implements TradesRepo for PostgreSQL
type tradesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTradesRepo creates a PostgreSQL trades repository
func NewTradesRepo(db *sqlx.DB, timeout time.Duration) TradesRepo {
	return &tradesRepo{db: db, timeout: timeout}
}

// InsertClosed archives a closed trade with its decision context
func (r *tradesRepo) InsertClosed(ctx context.Context, trade domain.Trade) error {
	if trade.IsOpen {
		return fmt.Errorf("refusing to archive open trade %s", trade.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	contextJSON, err := json.Marshal(trade.DecisionContext)
	if err != nil {
		return fmt.Errorf("failed to marshal decision context: %w", err)
	}

	query := `
		INSERT INTO closed_trades (id, symbol, entry_price, exit_price, quantity, pnl_percent, opened_at, closed_at, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.ExecContext(ctx, query,
		trade.ID, trade.Symbol, trade.EntryPrice, trade.ExitPrice,
		trade.Quantity, trade.PnLPercent(), trade.OpenedAt, trade.ClosedAt, contextJSON)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate trade %s: %w", trade.ID, err)
		}
		return fmt.Errorf("failed to insert closed trade: %w", err)
	}

	return nil
}

// ListBySymbol retrieves archived trades for a symbol, newest first
func (r *tradesRepo) ListBySymbol(ctx context.Context, symbol string, limit int) ([]TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, symbol, entry_price, exit_price, quantity, pnl_percent, opened_at, closed_at, context, created_at
		FROM closed_trades
		WHERE symbol = $1
		ORDER BY closed_at DESC
		LIMIT $2`

	var records []TradeRecord
	if err := r.db.SelectContext(ctx, &records, query, symbol, limit); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list trades for %s: %w", symbol, err)
	}
	return records, nil
}

// Count returns the number of archived trades
func (r *tradesRepo) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM closed_trades`); err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}
