package negotiation

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/barterline/swapd/internal/domain"
)

// DefaultFairnessThreshold is the maximum allowed point imbalance between
// the two offered bundles.
const DefaultFairnessThreshold = 200

// placeholderName marks a product whose listing could not be resolved; it
// counts as zero points so the negotiation stays viewable.
const placeholderName = "unavailable item"

// fetchConcurrency bounds parallel product lookups per review.
const fetchConcurrency = 4

// Review is the gate's verdict on an offer: the fully resolved product lists,
// the point totals, and whether confirmation is allowed.
type Review struct {
	TraderProducts    []domain.Product `json:"traderProducts"`
	NonTraderProducts []domain.Product `json:"nonTraderProducts"`
	TraderPoints      int              `json:"traderPoints"`
	NonTraderPoints   int              `json:"nonTraderPoints"`

	// Delta is trader points minus non-trader points.
	Delta int `json:"delta"`

	CanConfirm bool   `json:"canConfirm"`
	Reason     string `json:"reason,omitempty"`
}

// Gate resolves every product referenced by a trade offer and applies the
// point-fairness check before the trader is allowed to confirm.
type Gate struct {
	lookup    domain.ProductLookup
	cache     domain.ProductCache
	threshold int
	logger    *slog.Logger
}

// NewGate creates a Gate. cache may be nil to skip caching; threshold <= 0
// falls back to DefaultFairnessThreshold.
func NewGate(lookup domain.ProductLookup, cache domain.ProductCache, threshold int, logger *slog.Logger) *Gate {
	if threshold <= 0 {
		threshold = DefaultFairnessThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		lookup:    lookup,
		cache:     cache,
		threshold: threshold,
		logger:    logger.With(slog.String("component", "confirmation_gate")),
	}
}

// Threshold returns the configured fairness threshold.
func (g *Gate) Threshold() int {
	return g.threshold
}

// Review resolves both product lists of the offer, computes the fairness
// delta, and decides whether confirm may proceed. A lookup failure for a
// single product substitutes a zero-point placeholder rather than failing
// the whole review; a listing disappearing mid-negotiation must not make
// the negotiation unviewable.
func (g *Gate) Review(ctx context.Context, offer domain.TradeOffer) (Review, error) {
	rev := Review{}

	var err error
	rev.TraderProducts, err = g.resolveAll(ctx, offer.TraderProducts, offer.TraderUserID)
	if err != nil {
		return Review{}, err
	}
	rev.NonTraderProducts, err = g.resolveAll(ctx, offer.NonTraderProducts, offer.NonTraderUserID)
	if err != nil {
		return Review{}, err
	}

	for _, p := range rev.TraderProducts {
		rev.TraderPoints += p.Points
	}
	for _, p := range rev.NonTraderProducts {
		rev.NonTraderPoints += p.Points
	}
	rev.Delta = rev.TraderPoints - rev.NonTraderPoints

	imbalance := rev.Delta
	if imbalance < 0 {
		imbalance = -imbalance
	}
	if imbalance > g.threshold {
		rev.CanConfirm = false
		rev.Reason = "point imbalance exceeds the fairness threshold"
		return rev, nil
	}

	rev.CanConfirm = true
	return rev, nil
}

// resolveAll fetches every product in ids, preserving order. Lookups run
// concurrently and join before results are applied.
func (g *Gate) resolveAll(ctx context.Context, ids []string, profileID string) ([]domain.Product, error) {
	products := make([]domain.Product, len(ids))

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(fetchConcurrency)

	for i, id := range ids {
		eg.Go(func() error {
			p := g.resolve(egCtx, id, profileID)
			mu.Lock()
			products[i] = p
			mu.Unlock()
			return nil
		})
	}

	// Workers never return errors (failures degrade to placeholders), but a
	// cancelled context still aborts the join.
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

// resolve fetches one product, trying the cache first and degrading to a
// placeholder on failure.
func (g *Gate) resolve(ctx context.Context, productID, profileID string) domain.Product {
	if g.cache != nil {
		if p, err := g.cache.Get(ctx, productID, profileID); err == nil {
			return p
		}
	}

	p, err := g.lookup.GetProduct(ctx, productID, profileID)
	if err != nil {
		g.logger.Warn("product lookup failed, substituting placeholder",
			slog.String("product_id", productID),
			slog.String("profile_id", profileID),
			slog.String("error", err.Error()),
		)
		return domain.Product{
			ID:        productID,
			Name:      placeholderName,
			Points:    0,
			ProfileID: profileID,
		}
	}

	if g.cache != nil {
		if err := g.cache.Set(ctx, profileID, p); err != nil {
			g.logger.Warn("product cache set failed",
				slog.String("product_id", productID),
				slog.String("error", err.Error()),
			)
		}
	}
	return p
}
