package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tokenbar/internal/application/port"
	"tokenbar/internal/domain"
)

// DefaultMaxStatusEvents 每个 symbol 保留的状态事件条数
const DefaultMaxStatusEvents = 100

type Repo struct {
	db        *sql.DB
	maxEvents int
}

func New(dsn string, maxEvents int) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if maxEvents <= 0 {
		maxEvents = DefaultMaxStatusEvents
	}
	r := &Repo{db: db, maxEvents: maxEvents}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS latest_prices (
  symbol TEXT PRIMARY KEY,
  price NUMERIC NOT NULL,
  display_price TEXT NOT NULL,
  quote_mode TEXT NOT NULL,
  change_24h NUMERIC,
  direction SMALLINT NOT NULL,
  status TEXT NOT NULL,
  ts_ms BIGINT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS price_status_events (
  id BIGSERIAL PRIMARY KEY,
  symbol TEXT NOT NULL,
  status TEXT NOT NULL,
  ts_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_status_events_symbol ON price_status_events(symbol);
`)
	return err
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, p domain.AggregatedPrice) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO latest_prices(symbol, price, display_price, quote_mode, change_24h, direction, status, ts_ms, updated_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT(symbol) DO UPDATE SET
		price=EXCLUDED.price, display_price=EXCLUDED.display_price, quote_mode=EXCLUDED.quote_mode,
		change_24h=EXCLUDED.change_24h, direction=EXCLUDED.direction, status=EXCLUDED.status,
		ts_ms=EXCLUDED.ts_ms, updated_at=now()
	`, p.Symbol, p.Price, p.DisplayPrice, string(p.QuoteMode), p.PriceChange24h,
		int(p.Direction), string(p.Status), p.LastUpdate.UnixMilli())
	return err
}

func (r *Repo) PublishStatus(ctx context.Context, symbol string, status domain.PriceStatus, ts time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO price_status_events(symbol, status, ts_ms) VALUES($1, $2, $3)`,
		symbol, string(status), ts.UnixMilli()); err != nil {
		return err
	}
	// 只保留最近 maxEvents 条，不做历史存储
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM price_status_events
		WHERE symbol=$1 AND id NOT IN (
			SELECT id FROM price_status_events WHERE symbol=$1 ORDER BY id DESC LIMIT $2
		)`, symbol, r.maxEvents); err != nil {
		return err
	}
	return tx.Commit()
}

// StatusEvents 按写入顺序返回该 symbol 保留的状态事件
func (r *Repo) StatusEvents(ctx context.Context, symbol string) ([]domain.PriceStatus, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status FROM price_status_events WHERE symbol=$1 ORDER BY id`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PriceStatus
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, domain.PriceStatus(s))
	}
	return out, rows.Err()
}

// LatestPrice 只读价格与状态，测试和排障用
func (r *Repo) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, domain.PriceStatus, error) {
	var (
		price  decimal.Decimal
		status string
	)
	err := r.db.QueryRowContext(ctx, `SELECT price, status FROM latest_prices WHERE symbol=$1`, symbol).
		Scan(&price, &status)
	return price, domain.PriceStatus(status), err
}

var _ port.PriceRepository = (*Repo)(nil)
