package negotiation

import (
	"context"
	"testing"
	"time"

	"github.com/barterline/swapd/internal/domain"
)

// stubLookup serves products from a fixed map; anything else fails with
// domain.ErrNotFound.
type stubLookup struct {
	products map[string]domain.Product
}

func (s *stubLookup) GetProduct(_ context.Context, productID, _ string) (domain.Product, error) {
	p, ok := s.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

func gateOffer(trader, nonTrader []string) domain.TradeOffer {
	return domain.NewTradeOffer("chat-1", "anchor-1", domain.SelectionSet{
		TraderProducts:    trader,
		NonTraderProducts: nonTrader,
		TraderUserID:      "user-trader",
		NonTraderUserID:   "user-other",
	}, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func TestFairnessGateBlocksImbalance(t *testing.T) {
	lookup := &stubLookup{products: map[string]domain.Product{
		"p1": {ID: "p1", Points: 500},
		"p2": {ID: "p2", Points: 250},
	}}
	g := NewGate(lookup, nil, 200, nil)

	// 500 vs 250: the 250-point gap exceeds the 200 threshold.
	rev, err := g.Review(context.Background(), gateOffer([]string{"p1"}, []string{"p2"}))
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if rev.CanConfirm {
		t.Fatal("expected confirm to be blocked at delta 250")
	}
	if rev.Reason == "" {
		t.Fatal("blocked review must carry an explanatory reason")
	}
	if rev.Delta != 250 {
		t.Fatalf("expected delta 250, got %d", rev.Delta)
	}
}

func TestFairnessGateAllowsWithinThreshold(t *testing.T) {
	lookup := &stubLookup{products: map[string]domain.Product{
		"p1": {ID: "p1", Points: 500},
		"p2": {ID: "p2", Points: 350},
	}}
	g := NewGate(lookup, nil, 200, nil)

	rev, err := g.Review(context.Background(), gateOffer([]string{"p1"}, []string{"p2"}))
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !rev.CanConfirm {
		t.Fatalf("expected confirm allowed at delta 150, reason: %s", rev.Reason)
	}
}

func TestFairnessGateSymmetric(t *testing.T) {
	// The imbalance check uses the magnitude; a non-trader surplus blocks
	// just the same.
	lookup := &stubLookup{products: map[string]domain.Product{
		"p1": {ID: "p1", Points: 100},
		"p2": {ID: "p2", Points: 400},
	}}
	g := NewGate(lookup, nil, 200, nil)

	rev, err := g.Review(context.Background(), gateOffer([]string{"p1"}, []string{"p2"}))
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if rev.CanConfirm {
		t.Fatalf("expected confirm blocked at delta %d", rev.Delta)
	}
	if rev.Delta != -300 {
		t.Fatalf("expected signed delta -300, got %d", rev.Delta)
	}
}

func TestPlaceholderSubstitution(t *testing.T) {
	lookup := &stubLookup{products: map[string]domain.Product{
		"p1": {ID: "p1", Name: "bicycle", Points: 300},
		// p-missing is gone from the backend.
		"p3": {ID: "p3", Points: 280},
	}}
	g := NewGate(lookup, nil, 200, nil)

	rev, err := g.Review(context.Background(), gateOffer([]string{"p1", "p-missing"}, []string{"p3"}))
	if err != nil {
		t.Fatalf("Review: %v", err)
	}

	if len(rev.TraderProducts) != 2 {
		t.Fatalf("expected 2 trader entries, got %d", len(rev.TraderProducts))
	}
	if rev.TraderProducts[0].Name != "bicycle" {
		t.Fatalf("order not preserved: %+v", rev.TraderProducts)
	}
	ph := rev.TraderProducts[1]
	if ph.Name != placeholderName || ph.Points != 0 || ph.ID != "p-missing" {
		t.Fatalf("unexpected placeholder: %+v", ph)
	}

	// Fairness uses zero for the placeholder: 300 vs 280.
	if rev.TraderPoints != 300 || rev.NonTraderPoints != 280 {
		t.Fatalf("unexpected totals: %d vs %d", rev.TraderPoints, rev.NonTraderPoints)
	}
	if !rev.CanConfirm {
		t.Fatalf("expected confirm allowed, reason: %s", rev.Reason)
	}
}

func TestGateDefaultThreshold(t *testing.T) {
	g := NewGate(&stubLookup{}, nil, 0, nil)
	if g.Threshold() != DefaultFairnessThreshold {
		t.Fatalf("expected default threshold %d, got %d", DefaultFairnessThreshold, g.Threshold())
	}
}
