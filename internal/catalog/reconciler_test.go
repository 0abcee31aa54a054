package catalog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/catalog"
	"github.com/user/price-tracker/internal/domain"
	"github.com/user/price-tracker/internal/storage"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestReconciler(t *testing.T) (*catalog.Reconciler, *storage.SQLiteStore, *clock) {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	return catalog.NewReconciler(store, zap.NewNop(), catalog.WithClock(c.now)), store, c
}

func price(v int64) *int64 { return &v }

func observation() catalog.Observation {
	rating := 4.5
	count := 120
	return catalog.Observation{
		SiteName:     "shop",
		ExternalID:   "A55-128",
		Title:        "Telefon Samsung Galaxy A55 8/128",
		Link:         "https://shop.example/p/a55",
		ImageLink:    "https://shop.example/i/a55.jpg",
		Currency:     "RON",
		Rating:       &rating,
		RatingsCount: &count,
	}
}

func history(t *testing.T, store *storage.SQLiteStore, id int64) []domain.PriceHistory {
	t.Helper()
	h, err := store.History(context.Background(), id, 0)
	require.NoError(t, err)
	return h
}

func TestUpsertProductInsertsOnce(t *testing.T) {
	r, store, _ := newTestReconciler(t)
	ctx := context.Background()

	id1, err := r.UpsertProduct(ctx, observation(), time.Hour)
	require.NoError(t, err)
	id2, err := r.UpsertProduct(ctx, observation(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	page, err := store.ListProducts(ctx, domain.ProductQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Nil(t, page.Items[0].LastPrice)
}

func TestFirstObservationAlwaysInserts(t *testing.T) {
	r, store, _ := newTestReconciler(t)
	ctx := context.Background()

	id, err := r.UpsertProduct(ctx, observation(), 24*time.Hour)
	require.NoError(t, err)

	outcome, err := r.UpsertPriceHistory(ctx, id, price(199900), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, catalog.FirstPrice, outcome)

	h := history(t, store, id)
	require.Len(t, h, 1)
	assert.Equal(t, int64(199900), *h[0].PriceMinor)

	p, err := store.GetProduct(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p.LastPrice)
	assert.Equal(t, int64(199900), *p.LastPrice)
}

func TestSamePriceZeroCoolDownRestampsRow(t *testing.T) {
	r, store, c := newTestReconciler(t)
	ctx := context.Background()

	id, err := r.UpsertProduct(ctx, observation(), 0)
	require.NoError(t, err)
	_, err = r.UpsertPriceHistory(ctx, id, price(50000), 0)
	require.NoError(t, err)

	c.advance(time.Minute)
	outcome, err := r.UpsertPriceHistory(ctx, id, price(50000), 0)
	require.NoError(t, err)
	assert.Equal(t, catalog.Unchanged, outcome)

	h := history(t, store, id)
	require.Len(t, h, 1)
	assert.True(t, h[0].CapturedAt.Equal(c.now()), "latest row carries the second timestamp")

	p, err := store.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.True(t, p.LastSeenAt.Equal(c.now()))
}

func TestChangedPriceWithinCoolDownSuppressed(t *testing.T) {
	r, store, c := newTestReconciler(t)
	ctx := context.Background()

	id, err := r.UpsertProduct(ctx, observation(), 24*time.Hour)
	require.NoError(t, err)
	_, err = r.UpsertPriceHistory(ctx, id, price(100000), 24*time.Hour)
	require.NoError(t, err)

	c.advance(time.Hour)
	outcome, err := r.UpsertPriceHistory(ctx, id, price(90000), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, catalog.Suppressed, outcome)

	h := history(t, store, id)
	require.Len(t, h, 1)
	assert.Equal(t, int64(100000), *h[0].PriceMinor)

	p, err := store.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), *p.LastPrice)
}

func TestChangedPriceAfterCoolDownAppends(t *testing.T) {
	r, store, c := newTestReconciler(t)
	ctx := context.Background()

	id, err := r.UpsertProduct(ctx, observation(), time.Hour)
	require.NoError(t, err)
	_, err = r.UpsertPriceHistory(ctx, id, price(100000), time.Hour)
	require.NoError(t, err)

	c.advance(2 * time.Hour)
	outcome, err := r.UpsertPriceHistory(ctx, id, price(95000), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, catalog.Changed, outcome)

	h := history(t, store, id)
	require.Len(t, h, 2)
	assert.Equal(t, int64(100000), *h[0].PriceMinor)
	assert.Equal(t, int64(95000), *h[1].PriceMinor)
	assert.False(t, h[1].CapturedAt.Before(h[0].CapturedAt))

	p, err := store.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(95000), *p.LastPrice, "last price mirrors the newest row")
}

func TestMissingPriceRecordsNullRow(t *testing.T) {
	r, store, c := newTestReconciler(t)
	ctx := context.Background()

	id, err := r.UpsertProduct(ctx, observation(), time.Hour)
	require.NoError(t, err)
	_, err = r.UpsertPriceHistory(ctx, id, price(100000), time.Hour)
	require.NoError(t, err)

	c.advance(2 * time.Hour)
	outcome, err := r.UpsertPriceHistory(ctx, id, nil, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, catalog.Changed, outcome)

	h := history(t, store, id)
	require.Len(t, h, 2)
	assert.Nil(t, h[1].PriceMinor)

	p, err := store.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, p.LastPrice)
}

func TestUpsertProductRefreshesWithinCoolDown(t *testing.T) {
	r, store, c := newTestReconciler(t)
	ctx := context.Background()

	id, err := r.UpsertProduct(ctx, observation(), 24*time.Hour)
	require.NoError(t, err)
	_, err = r.UpsertPriceHistory(ctx, id, price(100000), 24*time.Hour)
	require.NoError(t, err)

	c.advance(time.Hour)
	obs := observation()
	obs.Title = "Telefon Samsung Galaxy A55 5G 8/128"
	obs.Link = "https://shop.example/p/a55-5g"
	obs.Currency = ""
	obs.Rating = nil
	count := 130
	obs.RatingsCount = &count

	_, err = r.UpsertProduct(ctx, obs, 24*time.Hour)
	require.NoError(t, err)

	p, err := store.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, obs.Title, p.Title)
	assert.Equal(t, obs.Link, p.Link)
	assert.Equal(t, "RON", p.Currency, "absent currency keeps the stored one")
	require.NotNil(t, p.Rating)
	assert.InDelta(t, 4.5, *p.Rating, 1e-9)
	assert.Equal(t, 130, *p.RatingsCount)
	assert.True(t, p.LastSeenAt.Equal(c.now()))
	assert.Len(t, history(t, store, id), 1, "descriptive refresh leaves history alone")
}

func TestUpsertProductOutsideCoolDownKeepsDescription(t *testing.T) {
	r, store, c := newTestReconciler(t)
	ctx := context.Background()

	id, err := r.UpsertProduct(ctx, observation(), time.Hour)
	require.NoError(t, err)
	_, err = r.UpsertPriceHistory(ctx, id, price(100000), time.Hour)
	require.NoError(t, err)

	c.advance(3 * time.Hour)
	obs := observation()
	obs.Title = "renamed"
	_, err = r.UpsertProduct(ctx, obs, time.Hour)
	require.NoError(t, err)

	p, err := store.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, observation().Title, p.Title)
}

type failingStore struct{}

func (failingStore) InTx(ctx context.Context, fn func(tx catalog.Tx) error) error {
	return catalog.ErrStoreUnavailable
}

var _ catalog.Store = failingStore{}

func TestStoreFailureSurfaces(t *testing.T) {
	r := catalog.NewReconciler(failingStore{}, zap.NewNop())

	_, err := r.UpsertProduct(context.Background(), observation(), time.Hour)
	assert.True(t, errors.Is(err, catalog.ErrStoreUnavailable))

	_, err = r.UpsertPriceHistory(context.Background(), 1, price(1), time.Hour)
	assert.True(t, errors.Is(err, catalog.ErrStoreUnavailable))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "suppressed", catalog.Suppressed.String())
	assert.Equal(t, "first", catalog.FirstPrice.String())
	assert.Equal(t, "unchanged", catalog.Unchanged.String())
	assert.Equal(t, "changed", catalog.Changed.String())
}
