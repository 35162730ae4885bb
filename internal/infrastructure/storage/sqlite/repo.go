package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"tokenbar/internal/application/port"
	"tokenbar/internal/domain"
)

// DefaultMaxStatusEvents 每个 symbol 保留的状态事件条数
const DefaultMaxStatusEvents = 100

type Repo struct {
	db        *sql.DB
	maxEvents int
}

// New maxEvents <= 0 时使用 DefaultMaxStatusEvents
func New(path string, maxEvents int) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

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
  price TEXT NOT NULL,
  display_price TEXT NOT NULL,
  quote_mode TEXT NOT NULL,
  change_24h TEXT,
  direction INTEGER NOT NULL,
  status TEXT NOT NULL,
  ts_ms INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_latest_prices_ts ON latest_prices(ts_ms);

CREATE TABLE IF NOT EXISTS price_status_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT NOT NULL,
  status TEXT NOT NULL,
  ts_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_status_events_symbol ON price_status_events(symbol);
`)
	return err
}

// price/change 按字符串存，保留 decimal 精度
func (r *Repo) UpsertLatestPrice(ctx context.Context, p domain.AggregatedPrice) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO latest_prices(symbol, price, display_price, quote_mode, change_24h, direction, status, ts_ms, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
		price=excluded.price, display_price=excluded.display_price, quote_mode=excluded.quote_mode,
		change_24h=excluded.change_24h, direction=excluded.direction, status=excluded.status,
		ts_ms=excluded.ts_ms, updated_at=excluded.updated_at
	`, p.Symbol, p.Price.String(), p.DisplayPrice, string(p.QuoteMode), nullString(p.PriceChange24h),
		int(p.Direction), string(p.Status), p.LastUpdate.UnixMilli(), time.Now().UnixMilli())
	return err
}

// PublishStatus 追加一条事件，并把该 symbol 裁剪到最近 maxEvents 条
func (r *Repo) PublishStatus(ctx context.Context, symbol string, status domain.PriceStatus, ts time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO price_status_events(symbol, status, ts_ms) VALUES(?, ?, ?)`,
		symbol, string(status), ts.UnixMilli()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM price_status_events
		WHERE symbol=? AND id NOT IN (
			SELECT id FROM price_status_events WHERE symbol=? ORDER BY id DESC LIMIT ?
		)`, symbol, symbol, r.maxEvents); err != nil {
		return err
	}
	return tx.Commit()
}

// LatestPrice ok=false 表示没有记录
func (r *Repo) LatestPrice(ctx context.Context, symbol string) (domain.AggregatedPrice, bool, error) {
	var (
		p                   domain.AggregatedPrice
		price, mode, status string
		change              sql.NullString
		dir                 int
		ts                  int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT symbol, price, display_price, quote_mode, change_24h, direction, status, ts_ms
		FROM latest_prices WHERE symbol=?`, symbol).
		Scan(&p.Symbol, &price, &p.DisplayPrice, &mode, &change, &dir, &status, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AggregatedPrice{}, false, nil
	}
	if err != nil {
		return domain.AggregatedPrice{}, false, err
	}

	if p.Price, err = decimal.NewFromString(price); err != nil {
		return domain.AggregatedPrice{}, false, err
	}
	if change.Valid {
		d, err := decimal.NewFromString(change.String)
		if err != nil {
			return domain.AggregatedPrice{}, false, err
		}
		p.PriceChange24h = decimal.NewNullDecimal(d)
	}
	p.QuoteMode = domain.QuoteMode(mode)
	p.Direction = domain.Direction(dir)
	p.Status = domain.PriceStatus(status)
	p.LastUpdate = time.UnixMilli(ts)
	return p, true, nil
}

func (r *Repo) StatusEvents(ctx context.Context, symbol string) ([]domain.PriceStatus, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status FROM price_status_events WHERE symbol=? ORDER BY id`, symbol)
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

func nullString(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

var _ port.PriceRepository = (*Repo)(nil)
