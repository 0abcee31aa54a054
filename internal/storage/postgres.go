package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/price-tracker/internal/catalog"
	"github.com/user/price-tracker/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS products (
	id              BIGSERIAL PRIMARY KEY,
	site_name       TEXT NOT NULL,
	external_id     TEXT NOT NULL,
	title           TEXT NOT NULL,
	link            TEXT NOT NULL,
	image_link      TEXT NOT NULL,
	currency        TEXT,
	rating          DOUBLE PRECISION,
	ratings_count   INTEGER,
	last_price      BIGINT,
	first_seen_at   TIMESTAMPTZ NOT NULL,
	last_seen_at    TIMESTAMPTZ NOT NULL,
	watch           BOOLEAN NOT NULL DEFAULT FALSE,
	watch_max_price BIGINT,
	UNIQUE (site_name, external_id)
);
CREATE INDEX IF NOT EXISTS idx_products_site_link ON products (site_name, link);

CREATE TABLE IF NOT EXISTS price_history (
	id          BIGSERIAL PRIMARY KEY,
	product_id  BIGINT NOT NULL REFERENCES products (id) ON DELETE CASCADE,
	price_minor BIGINT,
	captured_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_history_product_time ON price_history (product_id, captured_at);
`

// PostgresStore handles interactions with the PostgreSQL database.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// InTx implements catalog.Store.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx catalog.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", catalog.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", catalog.ErrStoreUnavailable, err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (t *postgresTx) InsertProductIfAbsent(ctx context.Context, obs catalog.Observation, now time.Time) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO products (site_name, external_id, title, link, image_link, currency, rating, ratings_count, first_seen_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 ON CONFLICT (site_name, external_id) DO NOTHING`,
		obs.SiteName, obs.ExternalID, obs.Title, obs.Link, obs.ImageLink,
		nilIfEmpty(obs.Currency), obs.Rating, obs.RatingsCount, now,
	)
	return err
}

func (t *postgresTx) ProductID(ctx context.Context, siteName, externalID string) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT id FROM products WHERE site_name = $1 AND external_id = $2`,
		siteName, externalID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, catalog.ErrNotFound
	}
	return id, err
}

func (t *postgresTx) LockProduct(ctx context.Context, productID int64) error {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.ErrNotFound
	}
	return err
}

func (t *postgresTx) RefreshProduct(ctx context.Context, productID int64, obs catalog.Observation, now time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE products SET
		   title = $1,
		   link = $2,
		   currency = COALESCE($3, currency),
		   rating = COALESCE($4, rating),
		   ratings_count = COALESCE($5, ratings_count),
		   last_seen_at = $6
		 WHERE id = $7`,
		obs.Title, obs.Link, nilIfEmpty(obs.Currency), obs.Rating, obs.RatingsCount, now, productID,
	)
	return err
}

func (t *postgresTx) LatestHistory(ctx context.Context, productID int64) (*domain.PriceHistory, error) {
	var h domain.PriceHistory
	err := t.tx.QueryRow(ctx,
		`SELECT id, product_id, price_minor, captured_at FROM price_history
		 WHERE product_id = $1 ORDER BY captured_at DESC, id DESC LIMIT 1`,
		productID,
	).Scan(&h.ID, &h.ProductID, &h.PriceMinor, &h.CapturedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (t *postgresTx) LastPrice(ctx context.Context, productID int64) (*int64, error) {
	var price *int64
	err := t.tx.QueryRow(ctx, `SELECT last_price FROM products WHERE id = $1`, productID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	return price, err
}

func (t *postgresTx) InsertHistory(ctx context.Context, productID int64, priceMinor *int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO price_history (product_id, price_minor, captured_at) VALUES ($1, $2, $3)`,
		productID, priceMinor, at,
	)
	return err
}

func (t *postgresTx) TouchHistory(ctx context.Context, historyID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE price_history SET captured_at = $1 WHERE id = $2`, at, historyID)
	return err
}

func (t *postgresTx) SetLastPrice(ctx context.Context, productID int64, priceMinor *int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE products SET last_price = $1, last_seen_at = $2 WHERE id = $3`,
		priceMinor, at, productID,
	)
	return err
}

func (t *postgresTx) TouchProduct(ctx context.Context, productID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE products SET last_seen_at = $1 WHERE id = $2`, at, productID)
	return err
}

const postgresProductColumns = `id, site_name, external_id, title, link, image_link, COALESCE(currency, ''), rating,
	ratings_count, last_price, first_seen_at, last_seen_at, watch, watch_max_price`

func scanPostgresProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SiteName, &p.ExternalID, &p.Title, &p.Link, &p.ImageLink, &p.Currency,
		&p.Rating, &p.RatingsCount, &p.LastPrice, &p.FirstSeenAt, &p.LastSeenAt, &p.Watch, &p.WatchMaxPrice)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProducts implements catalog.Reader.
func (s *PostgresStore) ListProducts(ctx context.Context, q domain.ProductQuery) (*domain.ProductPage, error) {
	q, order := normalizeProductQuery(q)

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.Text != "" {
		where = append(where, "title ILIKE '%' || "+arg(q.Text)+"::text || '%'")
	}
	if q.Site != "" {
		where = append(where, "site_name LIKE "+arg(q.Site)+"::text || '%'")
	}
	if q.MinPrice != nil {
		where = append(where, "last_price >= "+arg(*q.MinPrice))
	}
	if q.MaxPrice != nil {
		where = append(where, "last_price <= "+arg(*q.MaxPrice))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := &domain.ProductPage{Page: q.Page, PerPage: q.PerPage, Items: []domain.Product{}}
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM products"+clause, args...).Scan(&page.Total); err != nil {
		return nil, err
	}

	limit := arg(q.PerPage)
	offset := arg((q.Page - 1) * q.PerPage)
	rows, err := s.db.Query(ctx,
		"SELECT "+postgresProductColumns+" FROM products"+clause+" ORDER BY "+order+" LIMIT "+limit+" OFFSET "+offset,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPostgresProduct(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *p)
	}
	return page, rows.Err()
}

// GetProduct implements catalog.Reader.
func (s *PostgresStore) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanPostgresProduct(s.db.QueryRow(ctx,
		"SELECT "+postgresProductColumns+" FROM products WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	return p, err
}

// History implements catalog.Reader. Rows are returned oldest first.
func (s *PostgresStore) History(ctx context.Context, productID int64, limit int) ([]domain.PriceHistory, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, product_id, price_minor, captured_at FROM (
		   SELECT id, product_id, price_minor, captured_at FROM price_history
		   WHERE product_id = $1 ORDER BY captured_at DESC, id DESC LIMIT $2
		 ) recent ORDER BY captured_at ASC, id ASC`,
		productID, historyLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []domain.PriceHistory{}
	for rows.Next() {
		var h domain.PriceHistory
		if err := rows.Scan(&h.ID, &h.ProductID, &h.PriceMinor, &h.CapturedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// SetWatch implements catalog.Reader.
func (s *PostgresStore) SetWatch(ctx context.Context, productID int64, watch bool, maxPrice *int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE products SET watch = $1, watch_max_price = $2 WHERE id = $3`,
		watch, maxPrice, productID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// WatchedBelowMax implements catalog.Reader.
func (s *PostgresStore) WatchedBelowMax(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+postgresProductColumns+` FROM products
		 WHERE watch AND last_price IS NOT NULL AND watch_max_price IS NOT NULL AND last_price < watch_max_price
		 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanPostgresProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}
