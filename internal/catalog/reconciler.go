package catalog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Outcome is what UpsertPriceHistory did.
type Outcome int

const (
	// Suppressed means the latest row is younger than the cool-down.
	Suppressed Outcome = iota
	// FirstPrice means the product had no last price and a row was added.
	FirstPrice
	// Unchanged means the price matched and the latest row was re-stamped.
	Unchanged
	// Changed means a new row was added for a different price.
	Changed
)

func (o Outcome) String() string {
	switch o {
	case Suppressed:
		return "suppressed"
	case FirstPrice:
		return "first"
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	}
	return "unknown"
}

// Reconciler applies observations to the catalog.
type Reconciler struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func NewReconciler(store Store, logger *zap.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  store,
		now:    time.Now,
		logger: logger.Named("reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UpsertProduct makes sure the product exists and returns its id. When the
// product's latest history row is younger than coolDown its descriptive
// fields are refreshed from obs.
func (r *Reconciler) UpsertProduct(ctx context.Context, obs Observation, coolDown time.Duration) (int64, error) {
	var id int64
	err := r.store.InTx(ctx, func(tx Tx) error {
		now := r.now().UTC()

		if err := tx.InsertProductIfAbsent(ctx, obs, now); err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
		var err error
		id, err = tx.ProductID(ctx, obs.SiteName, obs.ExternalID)
		if err != nil {
			return fmt.Errorf("lookup product: %w", err)
		}

		last, err := tx.LatestHistory(ctx, id)
		if err != nil {
			return fmt.Errorf("latest history: %w", err)
		}
		if last != nil && withinCoolDown(now, last.CapturedAt, coolDown) {
			if err := tx.RefreshProduct(ctx, id, obs, now); err != nil {
				return fmt.Errorf("refresh product: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertPriceHistory records priceMinor for the product unless the latest
// row is younger than coolDown. A repeated price re-stamps the latest row
// instead of adding one.
func (r *Reconciler) UpsertPriceHistory(ctx context.Context, productID int64, priceMinor *int64, coolDown time.Duration) (Outcome, error) {
	outcome := Suppressed
	err := r.store.InTx(ctx, func(tx Tx) error {
		if err := tx.LockProduct(ctx, productID); err != nil {
			return fmt.Errorf("lock product: %w", err)
		}

		now := r.now().UTC()
		last, err := tx.LatestHistory(ctx, productID)
		if err != nil {
			return fmt.Errorf("latest history: %w", err)
		}
		if last != nil {
			if withinCoolDown(now, last.CapturedAt, coolDown) {
				outcome = Suppressed
				return nil
			}
			if now.Before(last.CapturedAt) {
				now = last.CapturedAt
			}
		}

		lastPrice, err := tx.LastPrice(ctx, productID)
		if err != nil {
			return fmt.Errorf("last price: %w", err)
		}

		switch {
		case lastPrice == nil:
			outcome = FirstPrice
		case priceMinor != nil && *priceMinor == *lastPrice:
			outcome = Unchanged
			if last == nil {
				if err := tx.InsertHistory(ctx, productID, priceMinor, now); err != nil {
					return fmt.Errorf("insert history: %w", err)
				}
			} else if err := tx.TouchHistory(ctx, last.ID, now); err != nil {
				return fmt.Errorf("touch history: %w", err)
			}
			if err := tx.TouchProduct(ctx, productID, now); err != nil {
				return fmt.Errorf("touch product: %w", err)
			}
			return nil
		default:
			outcome = Changed
		}

		if err := tx.InsertHistory(ctx, productID, priceMinor, now); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		if err := tx.SetLastPrice(ctx, productID, priceMinor, now); err != nil {
			return fmt.Errorf("set last price: %w", err)
		}
		return nil
	})
	if err != nil {
		return Suppressed, err
	}

	r.logger.Debug("price history reconciled",
		zap.Int64("product_id", productID),
		zap.String("outcome", outcome.String()),
	)
	return outcome, nil
}

func withinCoolDown(now, capturedAt time.Time, coolDown time.Duration) bool {
	return now.Sub(capturedAt) < coolDown
}
