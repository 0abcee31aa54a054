package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/price-tracker/internal/catalog"
	"github.com/user/price-tracker/internal/domain"
)

var _ catalog.Store = (*SQLiteStore)(nil)
var _ catalog.Reader = (*SQLiteStore)(nil)
var _ catalog.Store = (*PostgresStore)(nil)
var _ catalog.Reader = (*PostgresStore)(nil)

func newMemoryStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *SQLiteStore, site, id, title string, price *int64, at time.Time) int64 {
	t.Helper()
	var pid int64
	err := s.InTx(context.Background(), func(tx catalog.Tx) error {
		ctx := context.Background()
		obs := catalog.Observation{SiteName: site, ExternalID: id, Title: title, Link: "https://" + site + "/" + id, ImageLink: domain.NotAvailable}
		if err := tx.InsertProductIfAbsent(ctx, obs, at); err != nil {
			return err
		}
		var err error
		if pid, err = tx.ProductID(ctx, site, id); err != nil {
			return err
		}
		if price == nil {
			return nil
		}
		if err := tx.InsertHistory(ctx, pid, price, at); err != nil {
			return err
		}
		return tx.SetLastPrice(ctx, pid, price, at)
	})
	require.NoError(t, err)
	return pid
}

func minor(v int64) *int64 { return &v }

func TestSQLiteListProducts(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	seed(t, s, "emag", "1", "Telefon Samsung A55", minor(180000), at)
	seed(t, s, "emag", "2", "Telefon Samsung A35", minor(120000), at)
	seed(t, s, "altex", "3", "Telefon Samsung A55 5G", minor(190000), at)
	seed(t, s, "altex", "4", "Husa A55", nil, at)

	page, err := s.ListProducts(ctx, domain.ProductQuery{})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 25, page.PerPage)
	assert.Equal(t, 1, page.Page)

	page, err = s.ListProducts(ctx, domain.ProductQuery{Text: "a55"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total, "title search is case-insensitive")

	page, err = s.ListProducts(ctx, domain.ProductQuery{Site: "alt", MinPrice: minor(100000)})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "3", page.Items[0].ExternalID)

	page, err = s.ListProducts(ctx, domain.ProductQuery{MaxPrice: minor(185000), OrderBy: "last_price", Desc: true})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(180000), *page.Items[0].LastPrice)
	assert.Equal(t, int64(120000), *page.Items[1].LastPrice)

	page, err = s.ListProducts(ctx, domain.ProductQuery{PerPage: 10, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Empty(t, page.Items)

	page, err = s.ListProducts(ctx, domain.ProductQuery{OrderBy: "title; DROP TABLE products"})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total, "unknown order columns fall back to id")
}

func TestSQLiteGetProductNotFound(t *testing.T) {
	s := newMemoryStore(t)

	_, err := s.GetProduct(context.Background(), 42)
	assert.True(t, errors.Is(err, catalog.ErrNotFound))

	_, err = s.History(context.Background(), 42, 10)
	assert.True(t, errors.Is(err, catalog.ErrNotFound))
}

func TestSQLiteHistoryLimitKeepsNewest(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	id := seed(t, s, "emag", "1", "Telefon", minor(100), at)

	for i := 1; i <= 4; i++ {
		err := s.InTx(ctx, func(tx catalog.Tx) error {
			return tx.InsertHistory(ctx, id, minor(int64(100+i)), at.Add(time.Duration(i)*time.Hour))
		})
		require.NoError(t, err)
	}

	h, err := s.History(ctx, id, 2)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, int64(103), *h[0].PriceMinor)
	assert.Equal(t, int64(104), *h[1].PriceMinor)

	h, err = s.History(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, h, 5)
}

func TestSQLiteWatch(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cheap := seed(t, s, "emag", "1", "Telefon", minor(90000), at)
	pricey := seed(t, s, "emag", "2", "Tableta", minor(200000), at)
	seed(t, s, "emag", "3", "Laptop", minor(10), at)

	require.NoError(t, s.SetWatch(ctx, cheap, true, minor(100000)))
	require.NoError(t, s.SetWatch(ctx, pricey, true, minor(150000)))

	alerts, err := s.WatchedBelowMax(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, cheap, alerts[0].ID)
	assert.True(t, alerts[0].Watch)

	require.NoError(t, s.SetWatch(ctx, cheap, false, nil))
	alerts, err = s.WatchedBelowMax(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	assert.True(t, errors.Is(s.SetWatch(ctx, 999, true, nil), catalog.ErrNotFound))
}

func TestSQLiteTxRollsBack(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx catalog.Tx) error {
		obs := catalog.Observation{SiteName: "emag", ExternalID: "1", Title: "t", Link: "l", ImageLink: "i"}
		if err := tx.InsertProductIfAbsent(ctx, obs, time.Now()); err != nil {
			return err
		}
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	page, err := s.ListProducts(ctx, domain.ProductQuery{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2026, 5, 6, 7, 8, 9, 123456789, time.FixedZone("EET", 2*3600))
	parsed, err := parseTime(formatTime(at))
	require.NoError(t, err)
	assert.True(t, at.Equal(parsed))
	assert.Less(t, formatTime(at), formatTime(at.Add(time.Nanosecond)))
}
