// Package catalog holds the reconciliation policy that decides how scraped
// observations change the persisted product catalog and its price history.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/user/price-tracker/internal/domain"
)

var (
	// ErrNotFound is returned when a product does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrStoreUnavailable wraps failures of the underlying database.
	ErrStoreUnavailable = errors.New("catalog: store unavailable")
)

// Observation is a listing that passed matching and filtering, ready to be
// written to the catalog.
type Observation struct {
	SiteName     string
	ExternalID   string
	Title        string
	Link         string
	ImageLink    string
	Currency     string
	Rating       *float64
	RatingsCount *int
}

// Store runs fn inside a single transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of primitive catalog statements the reconciler is built on.
type Tx interface {
	// InsertProductIfAbsent inserts obs unless (site, external id) exists.
	InsertProductIfAbsent(ctx context.Context, obs Observation, now time.Time) error
	ProductID(ctx context.Context, siteName, externalID string) (int64, error)
	// LockProduct serializes concurrent history writes for one product.
	LockProduct(ctx context.Context, productID int64) error
	// RefreshProduct overwrites title and link, keeps the stored currency and
	// rating fields when obs has none, and sets last_seen_at.
	RefreshProduct(ctx context.Context, productID int64, obs Observation, now time.Time) error
	// LatestHistory returns the newest history row, or nil when none exists.
	LatestHistory(ctx context.Context, productID int64) (*domain.PriceHistory, error)
	LastPrice(ctx context.Context, productID int64) (*int64, error)
	InsertHistory(ctx context.Context, productID int64, priceMinor *int64, at time.Time) error
	TouchHistory(ctx context.Context, historyID int64, at time.Time) error
	// SetLastPrice updates last_price and last_seen_at.
	SetLastPrice(ctx context.Context, productID int64, priceMinor *int64, at time.Time) error
	TouchProduct(ctx context.Context, productID int64, at time.Time) error
}

// Reader is the read side of the catalog used by the HTTP API and alerts.
type Reader interface {
	Ping(ctx context.Context) error
	ListProducts(ctx context.Context, q domain.ProductQuery) (*domain.ProductPage, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	History(ctx context.Context, productID int64, limit int) ([]domain.PriceHistory, error)
	SetWatch(ctx context.Context, productID int64, watch bool, maxPrice *int64) error
	// WatchedBelowMax lists watched products whose last price is strictly
	// below their watch maximum.
	WatchedBelowMax(ctx context.Context) ([]domain.Product, error)
}
