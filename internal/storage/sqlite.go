package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/price-tracker/internal/catalog"
	"github.com/user/price-tracker/internal/domain"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS products (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	site_name     TEXT NOT NULL,
	external_id   TEXT NOT NULL,
	title         TEXT NOT NULL,
	link          TEXT NOT NULL,
	image_link    TEXT NOT NULL,
	currency      TEXT,
	rating        REAL,
	ratings_count INTEGER,
	last_price    INTEGER,
	first_seen_at TEXT NOT NULL,
	last_seen_at  TEXT NOT NULL,
	watch         INTEGER NOT NULL DEFAULT 0,
	watch_max_price INTEGER,
	UNIQUE (site_name, external_id)
);
CREATE INDEX IF NOT EXISTS idx_products_site_link ON products (site_name, link);

CREATE TABLE IF NOT EXISTS price_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id  INTEGER NOT NULL REFERENCES products (id) ON DELETE CASCADE,
	price_minor INTEGER,
	captured_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_history_product_time ON price_history (product_id, captured_at);
`

// SQLiteStore keeps the catalog in an SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path. ":memory:" gives
// a private in-memory catalog.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx implements catalog.Store.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx catalog.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", catalog.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", catalog.ErrStoreUnavailable, err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) InsertProductIfAbsent(ctx context.Context, obs catalog.Observation, now time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO products (site_name, external_id, title, link, image_link, currency, rating, ratings_count, first_seen_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (site_name, external_id) DO NOTHING`,
		obs.SiteName, obs.ExternalID, obs.Title, obs.Link, obs.ImageLink,
		nullString(obs.Currency), nullFloat(obs.Rating), nullInt(obs.RatingsCount),
		formatTime(now), formatTime(now),
	)
	return err
}

func (t *sqliteTx) ProductID(ctx context.Context, siteName, externalID string) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT id FROM products WHERE site_name = ? AND external_id = ?`,
		siteName, externalID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, catalog.ErrNotFound
	}
	return id, err
}

func (t *sqliteTx) LockProduct(ctx context.Context, productID int64) error {
	return nil
}

func (t *sqliteTx) RefreshProduct(ctx context.Context, productID int64, obs catalog.Observation, now time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE products SET
		   title = ?,
		   link = ?,
		   currency = COALESCE(?, currency),
		   rating = COALESCE(?, rating),
		   ratings_count = COALESCE(?, ratings_count),
		   last_seen_at = ?
		 WHERE id = ?`,
		obs.Title, obs.Link, nullString(obs.Currency), nullFloat(obs.Rating), nullInt(obs.RatingsCount),
		formatTime(now), productID,
	)
	return err
}

func (t *sqliteTx) LatestHistory(ctx context.Context, productID int64) (*domain.PriceHistory, error) {
	var (
		h          domain.PriceHistory
		price      sql.NullInt64
		capturedAt string
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, product_id, price_minor, captured_at FROM price_history
		 WHERE product_id = ? ORDER BY captured_at DESC, id DESC LIMIT 1`,
		productID,
	).Scan(&h.ID, &h.ProductID, &price, &capturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if h.CapturedAt, err = parseTime(capturedAt); err != nil {
		return nil, err
	}
	h.PriceMinor = int64Ptr(price)
	return &h, nil
}

func (t *sqliteTx) LastPrice(ctx context.Context, productID int64) (*int64, error) {
	var price sql.NullInt64
	err := t.tx.QueryRowContext(ctx, `SELECT last_price FROM products WHERE id = ?`, productID).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return int64Ptr(price), nil
}

func (t *sqliteTx) InsertHistory(ctx context.Context, productID int64, priceMinor *int64, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO price_history (product_id, price_minor, captured_at) VALUES (?, ?, ?)`,
		productID, nullInt64(priceMinor), formatTime(at),
	)
	return err
}

func (t *sqliteTx) TouchHistory(ctx context.Context, historyID int64, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE price_history SET captured_at = ? WHERE id = ?`, formatTime(at), historyID)
	return err
}

func (t *sqliteTx) SetLastPrice(ctx context.Context, productID int64, priceMinor *int64, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE products SET last_price = ?, last_seen_at = ? WHERE id = ?`,
		nullInt64(priceMinor), formatTime(at), productID,
	)
	return err
}

func (t *sqliteTx) TouchProduct(ctx context.Context, productID int64, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE products SET last_seen_at = ? WHERE id = ?`, formatTime(at), productID)
	return err
}

const sqliteProductColumns = `id, site_name, external_id, title, link, image_link, currency, rating, ratings_count,
	last_price, first_seen_at, last_seen_at, watch, watch_max_price`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProduct(row rowScanner) (*domain.Product, error) {
	var (
		p                   domain.Product
		currency            sql.NullString
		rating              sql.NullFloat64
		ratingsCount        sql.NullInt64
		lastPrice, watchMax sql.NullInt64
		firstSeen, lastSeen string
	)
	if err := row.Scan(&p.ID, &p.SiteName, &p.ExternalID, &p.Title, &p.Link, &p.ImageLink, &currency,
		&rating, &ratingsCount, &lastPrice, &firstSeen, &lastSeen, &p.Watch, &watchMax); err != nil {
		return nil, err
	}
	var err error
	if p.FirstSeenAt, err = parseTime(firstSeen); err != nil {
		return nil, err
	}
	if p.LastSeenAt, err = parseTime(lastSeen); err != nil {
		return nil, err
	}
	p.Currency = currency.String
	p.Rating = floatPtr(rating)
	p.RatingsCount = intPtr(ratingsCount)
	p.LastPrice = int64Ptr(lastPrice)
	p.WatchMaxPrice = int64Ptr(watchMax)
	return &p, nil
}

// ListProducts implements catalog.Reader.
func (s *SQLiteStore) ListProducts(ctx context.Context, q domain.ProductQuery) (*domain.ProductPage, error) {
	q, order := normalizeProductQuery(q)

	var (
		where []string
		args  []any
	)
	if q.Text != "" {
		where = append(where, "title LIKE '%' || ? || '%'")
		args = append(args, q.Text)
	}
	if q.Site != "" {
		where = append(where, "site_name LIKE ? || '%'")
		args = append(args, q.Site)
	}
	if q.MinPrice != nil {
		where = append(where, "last_price >= ?")
		args = append(args, *q.MinPrice)
	}
	if q.MaxPrice != nil {
		where = append(where, "last_price <= ?")
		args = append(args, *q.MaxPrice)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := &domain.ProductPage{Page: q.Page, PerPage: q.PerPage, Items: []domain.Product{}}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products"+clause, args...).Scan(&page.Total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sqliteProductColumns+" FROM products"+clause+" ORDER BY "+order+" LIMIT ? OFFSET ?",
		append(args, q.PerPage, (q.Page-1)*q.PerPage)...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanSQLiteProduct(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *p)
	}
	return page, rows.Err()
}

// GetProduct implements catalog.Reader.
func (s *SQLiteStore) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanSQLiteProduct(s.db.QueryRowContext(ctx,
		"SELECT "+sqliteProductColumns+" FROM products WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	return p, err
}

// History implements catalog.Reader. Rows are returned oldest first.
func (s *SQLiteStore) History(ctx context.Context, productID int64, limit int) ([]domain.PriceHistory, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, price_minor, captured_at FROM (
		   SELECT id, product_id, price_minor, captured_at FROM price_history
		   WHERE product_id = ? ORDER BY captured_at DESC, id DESC LIMIT ?
		 ) ORDER BY captured_at ASC, id ASC`,
		productID, historyLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []domain.PriceHistory{}
	for rows.Next() {
		var (
			h          domain.PriceHistory
			price      sql.NullInt64
			capturedAt string
		)
		if err := rows.Scan(&h.ID, &h.ProductID, &price, &capturedAt); err != nil {
			return nil, err
		}
		if h.CapturedAt, err = parseTime(capturedAt); err != nil {
			return nil, err
		}
		h.PriceMinor = int64Ptr(price)
		history = append(history, h)
	}
	return history, rows.Err()
}

// SetWatch implements catalog.Reader.
func (s *SQLiteStore) SetWatch(ctx context.Context, productID int64, watch bool, maxPrice *int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET watch = ?, watch_max_price = ? WHERE id = ?`,
		watch, nullInt64(maxPrice), productID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// WatchedBelowMax implements catalog.Reader.
func (s *SQLiteStore) WatchedBelowMax(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sqliteProductColumns+` FROM products
		 WHERE watch = 1 AND last_price IS NOT NULL AND watch_max_price IS NOT NULL AND last_price < watch_max_price
		 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanSQLiteProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}
