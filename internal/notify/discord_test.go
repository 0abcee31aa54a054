package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/domain"
)

type fakeSource struct {
	products []domain.Product
	err      error
}

func (f fakeSource) WatchedBelowMax(ctx context.Context) ([]domain.Product, error) {
	return f.products, f.err
}

type fakeSender struct {
	to       []string
	messages []string
	err      error
}

func (f *fakeSender) SendDirect(userID, message string) error {
	if f.err != nil {
		return f.err
	}
	f.to = append(f.to, userID)
	f.messages = append(f.messages, message)
	return nil
}

var (
	_ WatchSource = fakeSource{}
	_ Sender      = (*fakeSender)(nil)
	_ Sender      = (*DiscordSender)(nil)
)

func minor(v int64) *int64 { return &v }

func watched(title string) domain.Product {
	return domain.Product{
		Title:         title,
		Link:          "https://shop.example/p/1",
		Currency:      "Lei",
		LastPrice:     minor(179999),
		WatchMaxPrice: minor(200000),
		Watch:         true,
	}
}

func TestAlertSendsMessage(t *testing.T) {
	sender := &fakeSender{}
	a := NewWatchAlerter(fakeSource{products: []domain.Product{watched("Samsung A55")}}, sender, zap.NewNop())

	n, err := a.Alert(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sender.messages, 1)
	assert.Equal(t, []string{"42"}, sender.to)
	assert.Contains(t, sender.messages[0], "- Samsung A55: 1799.99 Lei (max 2000.00) https://shop.example/p/1")
}

func TestAlertNothingToSend(t *testing.T) {
	sender := &fakeSender{}
	a := NewWatchAlerter(fakeSource{}, sender, zap.NewNop())

	n, err := a.Alert(context.Background(), "42")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, sender.messages)
}

func TestAlertErrors(t *testing.T) {
	boom := errors.New("boom")

	_, err := NewWatchAlerter(fakeSource{err: boom}, &fakeSender{}, zap.NewNop()).Alert(context.Background(), "1")
	assert.True(t, errors.Is(err, boom))

	_, err = NewWatchAlerter(fakeSource{products: []domain.Product{watched("x")}}, &fakeSender{err: boom}, zap.NewNop()).
		Alert(context.Background(), "1")
	assert.True(t, errors.Is(err, boom))
}

func TestFormatAlertsSplitsLongLists(t *testing.T) {
	var products []domain.Product
	for i := 0; i < 40; i++ {
		products = append(products, watched(strings.Repeat("Telefon ", 5)))
	}

	msgs := FormatAlerts(products, 500)
	require.Greater(t, len(msgs), 1)
	total := 0
	for _, m := range msgs {
		assert.LessOrEqual(t, len(m), 500)
		assert.True(t, strings.HasPrefix(m, "Watched products"))
		total += strings.Count(m, "\n- ")
	}
	assert.Equal(t, 40, total)
}

func TestFormatMinor(t *testing.T) {
	assert.Equal(t, "1799.99", FormatMinor(minor(179999)))
	assert.Equal(t, "0.05", FormatMinor(minor(5)))
	assert.Equal(t, domain.NotAvailable, FormatMinor(nil))
}
