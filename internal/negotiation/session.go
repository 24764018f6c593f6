package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/barterline/swapd/internal/domain"
)

// Snapshot is an immutable view of a session's negotiation state, handed to
// observers and API handlers. Offer is nil until both sides have selected.
type Snapshot struct {
	Selection       domain.SelectionSet `json:"selection"`
	Offer           *domain.TradeOffer  `json:"offer,omitempty"`
	Status          domain.OfferStatus  `json:"status"`
	ShowConfirmView bool                `json:"showConfirmView"`
	ConfirmInFlight bool                `json:"confirmInFlight"`
}

// Config holds everything a Session needs at construction time. Context and
// Submitter are required; the rest have sensible defaults.
type Config struct {
	Context   domain.SessionContext
	Submitter domain.TradeSubmitter
	Logger    *slog.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time

	// OnChange is invoked after every state transition with a fresh snapshot.
	OnChange func(Snapshot)

	// OnConfirmed is invoked once with the confirmed offer after a successful
	// submission.
	OnConfirmed func(domain.TradeOffer)
}

// Session is the reconciliation state machine for one chat. It merges the
// local user's selections with selection messages received from the remote
// peer, holds at most one live trade offer, and drives confirmation.
//
// All methods are safe for concurrent use: HTTP handlers and the transport
// pump goroutine may touch the same session.
type Session struct {
	sctx        domain.SessionContext
	submitter   domain.TradeSubmitter
	logger      *slog.Logger
	now         func() time.Time
	onChange    func(Snapshot)
	onConfirmed func(domain.TradeOffer)

	mu          sync.Mutex
	sel         domain.SelectionSet
	offer       *domain.TradeOffer
	showConfirm bool
	confirming  bool
}

// NewSession validates the session context and builds a Session.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Context.Validate(); err != nil {
		return nil, fmt.Errorf("negotiation: %w", err)
	}
	if cfg.Submitter == nil {
		return nil, fmt.Errorf("negotiation: submitter is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Session{
		sctx:        cfg.Context,
		submitter:   cfg.Submitter,
		logger:      logger.With(slog.String("component", "negotiation"), slog.String("chat_id", cfg.Context.ChatID)),
		now:         now,
		onChange:    cfg.OnChange,
		onConfirmed: cfg.OnConfirmed,
	}, nil
}

// Context returns the immutable session context.
func (s *Session) Context() domain.SessionContext {
	return s.sctx
}

// SelectProducts records the local user's product selection in the slot for
// their role and returns the selection message to publish on the chat
// channel. Transmission is the caller's responsibility.
//
// The both-ready check runs here as well as on receive, so a local selection
// made after the remote side already selected is reconciled immediately.
func (s *Session) SelectProducts(products []domain.Product) domain.TradeSelectionMessage {
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}

	s.mu.Lock()
	s.sel.Put(s.sctx.Role, s.sctx.UserID, ids)
	s.reconcileLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap)

	return domain.TradeSelectionMessage{
		Tag:             domain.SelectionMessageTag,
		Role:            s.sctx.Role,
		ProductIDs:      ids,
		SenderUserID:    s.sctx.UserID,
		ChatID:          s.sctx.ChatID,
		AnchorProductID: s.sctx.AnchorProductID,
	}
}

// HandleMessage ingests a raw message body from the transport. It returns
// true when the body was recognized as a trade selection message (including
// suppressed self-echoes), so the caller can skip rendering it as a plain
// chat bubble. Plain text and malformed payloads return false untouched.
func (s *Session) HandleMessage(body []byte) bool {
	in := DecodeInbound(body)
	if in.Kind != KindSelection {
		return false
	}
	msg := in.Selection

	// The transport is scoped per chat room; a mismatched chat id means a
	// misrouted message and is dropped.
	if msg.ChatID != s.sctx.ChatID {
		s.logger.Warn("selection message for foreign chat dropped",
			slog.String("message_chat_id", msg.ChatID),
		)
		return true
	}

	// Echo suppression: our own published selection comes back on the same
	// subscription.
	if msg.SenderUserID == s.sctx.UserID {
		return true
	}

	s.mu.Lock()
	s.sel.Put(msg.Role, msg.SenderUserID, msg.ProductIDs)
	s.reconcileLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap)
	return true
}

// reconcileLocked runs the both-ready check and materializes or refreshes
// the trade offer. Callers must hold s.mu.
func (s *Session) reconcileLocked() {
	if !s.sel.BothReady() {
		return
	}

	if s.offer == nil {
		offer := domain.NewTradeOffer(s.sctx.ChatID, s.sctx.AnchorProductID, s.sel, s.now())
		s.offer = &offer
		// Only the trader gets the confirmation view auto-presented; the
		// non-trader waits.
		s.showConfirm = s.sctx.Role == domain.RoleTrader
		s.logger.Info("trade offer reconciled",
			slog.String("offer_id", offer.ID),
			slog.Int("trader_products", len(offer.TraderProducts)),
			slog.Int("non_trader_products", len(offer.NonTraderProducts)),
		)
		return
	}

	if s.offer.Status != domain.OfferBothReady {
		return
	}

	// A re-selection (or duplicate delivery) while the offer is still
	// unconfirmed refreshes the snapshots in place; it never spawns a
	// second offer.
	s.offer.TraderProducts = s.sel.TraderProducts
	s.offer.NonTraderProducts = s.sel.NonTraderProducts
	s.offer.TraderUserID = s.sel.TraderUserID
	s.offer.NonTraderUserID = s.sel.NonTraderUserID
	s.offer.UpdatedAt = s.now()
}

// Confirm submits the current offer to the backend of record. Only the
// trader may confirm, and only while a both-ready offer is held. On success
// the offer is marked confirmed and the selection set is cleared; on failure
// nothing is mutated and the classified error is returned for the UI to act
// on (re-login, revise, retry).
func (s *Session) Confirm(ctx context.Context) error {
	s.mu.Lock()
	if s.offer == nil || s.offer.Status != domain.OfferBothReady {
		s.mu.Unlock()
		s.logger.Warn("confirm attempted without a both-ready offer")
		return domain.ErrNoOffer
	}
	if s.sctx.Role != domain.RoleTrader {
		s.mu.Unlock()
		s.logger.Warn("confirm attempted by non-trader",
			slog.String("user_id", s.sctx.UserID),
		)
		return domain.ErrNotTrader
	}
	if s.confirming {
		s.mu.Unlock()
		return domain.ErrConfirmInFlight
	}
	s.confirming = true

	sub := domain.TradeSubmission{
		TraderProductIDs:    s.offer.TraderProducts,
		TraderUserID:        s.offer.TraderUserID,
		AnchorProductID:     s.sctx.AnchorProductID,
		NonTraderProductIDs: s.offer.NonTraderProducts,
		NonTraderUserID:     s.offer.NonTraderUserID,
	}
	s.mu.Unlock()

	// State is only mutated after the remote call succeeds; a failure leaves
	// the offer and selection set exactly as they were.
	err := s.submitter.SubmitTrade(ctx, sub)

	s.mu.Lock()
	s.confirming = false
	if err != nil {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.emit(snap)
		return fmt.Errorf("negotiation: submit trade: %w", err)
	}

	s.offer.TraderAccepted = true
	s.offer.Completed = true
	s.offer.Status = domain.OfferConfirmed
	s.offer.UpdatedAt = s.now()
	s.sel.Reset()
	s.showConfirm = false

	confirmed := *s.offer
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("trade confirmed", slog.String("offer_id", confirmed.ID))

	if s.onConfirmed != nil {
		s.onConfirmed(confirmed)
	}
	s.emit(snap)
	return nil
}

// Cancel discards the offer and clears both selection slots. It is always
// available, from any state.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.offer = nil
	s.sel.Reset()
	s.showConfirm = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("negotiation cancelled")
	s.emit(snap)
}

// CloseConfirmView hides the confirmation view without touching the offer,
// so it can be reopened later.
func (s *Session) CloseConfirmView() {
	s.mu.Lock()
	s.showConfirm = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap)
}

// Snapshot returns a copy of the current negotiation state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Status reports where the negotiation stands, including the single-side
// intermediate statuses before an offer exists.
func (s *Session) Status() domain.OfferStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() domain.OfferStatus {
	if s.offer != nil {
		return s.offer.Status
	}
	switch {
	case len(s.sel.TraderProducts) > 0:
		return domain.OfferTraderReady
	case len(s.sel.NonTraderProducts) > 0:
		return domain.OfferNonTraderReady
	default:
		return domain.OfferPending
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Selection:       s.sel,
		Status:          s.statusLocked(),
		ShowConfirmView: s.showConfirm,
		ConfirmInFlight: s.confirming,
	}
	if s.offer != nil {
		offer := *s.offer
		snap.Offer = &offer
	}
	return snap
}

// emit delivers a snapshot to the change observer outside the lock.
func (s *Session) emit(snap Snapshot) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}
