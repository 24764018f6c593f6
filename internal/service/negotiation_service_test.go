package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/barterline/swapd/internal/domain"
	"github.com/barterline/swapd/internal/negotiation"
)

// memBus is an in-process MessageBus. Publish fans out synchronously so tests
// can assert on state right after a call returns.
type memBus struct {
	mu      sync.Mutex
	subs    map[string][]chan domain.BusMessage
	streams map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{
		subs:    make(map[string][]chan domain.BusMessage),
		streams: make(map[string][][]byte),
	}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	targets := append([]chan domain.BusMessage(nil), b.subs[channel]...)
	b.mu.Unlock()
	for _, ch := range targets {
		ch <- domain.BusMessage{Channel: channel, Payload: payload}
	}
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, channel string) (<-chan domain.BusMessage, error) {
	ch := make(chan domain.BusMessage, 16)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[channel]
		for i, c := range chans {
			if c == ch {
				b.subs[channel] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
	}()
	return ch, nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *memBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for i, p := range b.streams[stream] {
		if len(out) >= count {
			break
		}
		out = append(out, domain.StreamMessage{ID: strconv.Itoa(i + 1), Payload: p})
	}
	return out, nil
}

type memSubmitter struct {
	mu   sync.Mutex
	subs []domain.TradeSubmission
}

func (m *memSubmitter) SubmitTrade(_ context.Context, sub domain.TradeSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, sub)
	return nil
}

type memLookup struct {
	points map[string]int
}

func (m *memLookup) GetProduct(_ context.Context, productID, _ string) (domain.Product, error) {
	pts, ok := m.points[productID]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return domain.Product{ID: productID, Name: "item " + productID, Points: pts}, nil
}

type memOffers struct {
	mu     sync.Mutex
	offers []domain.TradeOffer
}

func (m *memOffers) Insert(_ context.Context, o domain.TradeOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers = append(m.offers, o)
	return nil
}

func (m *memOffers) GetByID(context.Context, string) (domain.TradeOffer, error) {
	return domain.TradeOffer{}, domain.ErrNotFound
}

func (m *memOffers) ListByChat(context.Context, string, domain.ListOpts) ([]domain.TradeOffer, error) {
	return nil, nil
}

func (m *memOffers) ListRecent(context.Context, domain.ListOpts) ([]domain.TradeOffer, error) {
	return nil, nil
}

func (m *memOffers) ListBefore(context.Context, time.Time) ([]domain.TradeOffer, error) {
	return nil, nil
}

func (m *memOffers) Count(context.Context) (int64, error) { return 0, nil }

func (m *memOffers) stored() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.offers)
}

func newTestService(t *testing.T, bus *memBus, submitter *memSubmitter, lookup *memLookup, offers domain.OfferStore) *NegotiationService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := negotiation.NewGate(lookup, nil, 200, logger)
	svc, err := NewNegotiationService(Config{
		Bus:       bus,
		Submitter: submitter,
		Gate:      gate,
		Offers:    offers,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewNegotiationService: %v", err)
	}
	return svc
}

// waitFor polls until the condition holds or the deadline passes. Selection
// messages cross the bus on a separate goroutine, so state changes are
// eventually visible rather than immediate.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestTwoSessionsReachBothReady(t *testing.T) {
	bus := newMemBus()
	submitter := &memSubmitter{}
	lookup := &memLookup{points: map[string]int{"p1": 100, "p2": 120, "anchor": 90}}

	traderSvc := newTestService(t, bus, submitter, lookup, nil)
	otherSvc := newTestService(t, bus, submitter, lookup, nil)

	ctx := context.Background()
	if _, err := traderSvc.StartSession(ctx, domain.SessionContext{
		UserID: "u-trader", Role: domain.RoleTrader, ChatID: "c1", AnchorProductID: "anchor",
	}); err != nil {
		t.Fatalf("start trader session: %v", err)
	}
	if _, err := otherSvc.StartSession(ctx, domain.SessionContext{
		UserID: "u-other", Role: domain.RoleNonTrader, ChatID: "c1", AnchorProductID: "anchor",
	}); err != nil {
		t.Fatalf("start non-trader session: %v", err)
	}

	if _, err := traderSvc.SelectProducts(ctx, "c1", []string{"p1"}); err != nil {
		t.Fatalf("trader select: %v", err)
	}
	if _, err := otherSvc.SelectProducts(ctx, "c1", []string{"p2"}); err != nil {
		t.Fatalf("non-trader select: %v", err)
	}

	// Both gateways must converge on the same offer.
	waitFor(t, func() bool {
		a, errA := traderSvc.Snapshot("c1")
		b, errB := otherSvc.Snapshot("c1")
		return errA == nil && errB == nil && a.Offer != nil && b.Offer != nil
	})

	a, _ := traderSvc.Snapshot("c1")
	b, _ := otherSvc.Snapshot("c1")
	if a.Offer.ID != b.Offer.ID {
		t.Fatalf("offer ids diverged: %q vs %q", a.Offer.ID, b.Offer.ID)
	}
	if a.Offer.Status != domain.OfferBothReady {
		t.Fatalf("offer status = %q, want %q", a.Offer.Status, domain.OfferBothReady)
	}
}

func TestConfirmPersistsAndAnnounces(t *testing.T) {
	bus := newMemBus()
	submitter := &memSubmitter{}
	lookup := &memLookup{points: map[string]int{"p1": 100, "p2": 120, "anchor": 90}}
	offers := &memOffers{}

	traderSvc := newTestService(t, bus, submitter, lookup, offers)
	otherSvc := newTestService(t, bus, submitter, lookup, nil)

	ctx := context.Background()

	events, err := bus.Subscribe(ctx, domain.TradeEventsChannel)
	if err != nil {
		t.Fatalf("subscribe events: %v", err)
	}

	traderSvc.StartSession(ctx, domain.SessionContext{
		UserID: "u-trader", Role: domain.RoleTrader, ChatID: "c1", AnchorProductID: "anchor",
	})
	otherSvc.StartSession(ctx, domain.SessionContext{
		UserID: "u-other", Role: domain.RoleNonTrader, ChatID: "c1", AnchorProductID: "anchor",
	})

	traderSvc.SelectProducts(ctx, "c1", []string{"p1"})
	otherSvc.SelectProducts(ctx, "c1", []string{"p2"})

	waitFor(t, func() bool {
		snap, err := traderSvc.Snapshot("c1")
		return err == nil && snap.Offer != nil
	})

	if _, err := traderSvc.Confirm(ctx, "c1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if len(submitter.subs) != 1 {
		t.Fatalf("submitted %d trades, want 1", len(submitter.subs))
	}
	waitFor(t, func() bool { return offers.stored() == 1 })

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatalf("no trade event published after confirm")
	}
}

func TestConfirmBlockedByFairnessGate(t *testing.T) {
	bus := newMemBus()
	submitter := &memSubmitter{}
	// 500 vs 100 points: delta 400 exceeds the 200-point threshold.
	lookup := &memLookup{points: map[string]int{"rich": 500, "poor": 100, "anchor": 10}}

	traderSvc := newTestService(t, bus, submitter, lookup, nil)
	otherSvc := newTestService(t, bus, submitter, lookup, nil)

	ctx := context.Background()
	traderSvc.StartSession(ctx, domain.SessionContext{
		UserID: "u-trader", Role: domain.RoleTrader, ChatID: "c1", AnchorProductID: "anchor",
	})
	otherSvc.StartSession(ctx, domain.SessionContext{
		UserID: "u-other", Role: domain.RoleNonTrader, ChatID: "c1", AnchorProductID: "anchor",
	})

	traderSvc.SelectProducts(ctx, "c1", []string{"rich"})
	otherSvc.SelectProducts(ctx, "c1", []string{"poor"})

	waitFor(t, func() bool {
		snap, err := traderSvc.Snapshot("c1")
		return err == nil && snap.Offer != nil
	})

	_, err := traderSvc.Confirm(ctx, "c1")
	if err == nil {
		t.Fatalf("expected confirm to be blocked")
	}
	if !errors.Is(err, domain.ErrUnfairTrade) {
		t.Fatalf("confirm error = %v, want ErrUnfairTrade", err)
	}
	if len(submitter.subs) != 0 {
		t.Fatalf("trade was submitted despite failing the fairness gate")
	}
}

func TestPlainTextDoesNotDisturbNegotiation(t *testing.T) {
	bus := newMemBus()
	submitter := &memSubmitter{}
	lookup := &memLookup{points: map[string]int{"p1": 100, "anchor": 90}}

	traderSvc := newTestService(t, bus, submitter, lookup, nil)

	ctx := context.Background()
	traderSvc.StartSession(ctx, domain.SessionContext{
		UserID: "u-trader", Role: domain.RoleTrader, ChatID: "c1", AnchorProductID: "anchor",
	})

	traderSvc.SelectProducts(ctx, "c1", []string{"p1"})
	if err := traderSvc.SendMessage(ctx, "c1", "how about a sweetener?"); err != nil {
		t.Fatalf("send message: %v", err)
	}

	// Give the pump a moment to process the text.
	time.Sleep(20 * time.Millisecond)

	snap, err := traderSvc.Snapshot("c1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if got := snap.Selection.TraderProducts; len(got) != 1 || got[0] != "p1" {
		t.Fatalf("trader selection = %v, want [p1]", got)
	}

	history, err := traderSvc.History(ctx, "c1", "", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("transcript has %d entries, want selection plus text", len(history))
	}
}

func TestEndSessionStopsPump(t *testing.T) {
	bus := newMemBus()
	submitter := &memSubmitter{}
	lookup := &memLookup{points: map[string]int{"anchor": 1}}

	svc := newTestService(t, bus, submitter, lookup, nil)

	ctx := context.Background()
	svc.StartSession(ctx, domain.SessionContext{
		UserID: "u-trader", Role: domain.RoleTrader, ChatID: "c1", AnchorProductID: "anchor",
	})

	svc.EndSession("c1")

	if _, err := svc.Snapshot("c1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("snapshot after end = %v, want ErrNotFound", err)
	}

	waitFor(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.subs[domain.ChatChannel("c1")]) == 0
	})
}

// heldLocks simulates a confirm lock already held by another gateway replica.
type heldLocks struct{}

func (heldLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestConfirmRejectedWhileLockHeld(t *testing.T) {
	bus := newMemBus()
	submitter := &memSubmitter{}
	lookup := &memLookup{points: map[string]int{"p1": 100, "anchor": 90}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := negotiation.NewGate(lookup, nil, 200, logger)
	svc, err := NewNegotiationService(Config{
		Bus:       bus,
		Submitter: submitter,
		Gate:      gate,
		Locks:     heldLocks{},
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewNegotiationService: %v", err)
	}

	ctx := context.Background()
	svc.StartSession(ctx, domain.SessionContext{
		UserID: "u-trader", Role: domain.RoleTrader, ChatID: "c1", AnchorProductID: "anchor",
	})

	if _, err := svc.Confirm(ctx, "c1"); !errors.Is(err, domain.ErrConfirmInFlight) {
		t.Fatalf("confirm error = %v, want ErrConfirmInFlight", err)
	}
	if len(submitter.subs) != 0 {
		t.Fatalf("trade was submitted while the confirm lock was held elsewhere")
	}
}

func TestStartSessionRejectsDifferentIdentity(t *testing.T) {
	bus := newMemBus()
	submitter := &memSubmitter{}
	lookup := &memLookup{points: map[string]int{"anchor": 90}}

	svc := newTestService(t, bus, submitter, lookup, nil)

	ctx := context.Background()
	trader := domain.SessionContext{
		UserID: "u-trader", Role: domain.RoleTrader, ChatID: "c1", AnchorProductID: "anchor",
	}
	if _, err := svc.StartSession(ctx, trader); err != nil {
		t.Fatalf("start trader session: %v", err)
	}

	// Another user must not be able to adopt the registered session.
	intruder := domain.SessionContext{
		UserID: "u-intruder", Role: domain.RoleNonTrader, ChatID: "c1", AnchorProductID: "anchor",
	}
	if _, err := svc.StartSession(ctx, intruder); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("start under a different identity: err = %v, want ErrForbidden", err)
	}

	// The original identity still restarts idempotently.
	if _, err := svc.StartSession(ctx, trader); err != nil {
		t.Fatalf("restart trader session: %v", err)
	}
}
