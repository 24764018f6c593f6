// Package service hosts the application services that sit between the HTTP
// gateway and the negotiation core.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/barterline/swapd/internal/domain"
	"github.com/barterline/swapd/internal/negotiation"
	"github.com/barterline/swapd/internal/notify"
)

// confirmLockTTL bounds how long a confirm lock can be held if a gateway
// replica dies mid-submission.
const confirmLockTTL = 30 * time.Second

// Config bundles the dependencies of a NegotiationService. Bus, Submitter,
// and Gate are required; Offers, Locks, and Notifier are optional and
// disable their feature when nil.
type Config struct {
	Bus       domain.MessageBus
	Submitter domain.TradeSubmitter
	Gate      *negotiation.Gate
	Offers    domain.OfferStore
	Locks     domain.LockManager
	Notifier  *notify.Notifier
	Logger    *slog.Logger
}

// NegotiationService owns the per-chat negotiation sessions: it wires each
// session to the message bus, routes inbound chat traffic into the state
// machine, and handles persistence and notification once a trade confirms.
type NegotiationService struct {
	bus       domain.MessageBus
	submitter domain.TradeSubmitter
	gate      *negotiation.Gate
	offers    domain.OfferStore
	locks     domain.LockManager
	notifier  *notify.Notifier
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*activeSession
}

type activeSession struct {
	session *negotiation.Session
	cancel  context.CancelFunc
}

// NewNegotiationService creates a NegotiationService from cfg.
func NewNegotiationService(cfg Config) (*NegotiationService, error) {
	if cfg.Bus == nil || cfg.Submitter == nil || cfg.Gate == nil {
		return nil, fmt.Errorf("service: bus, submitter, and gate are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &NegotiationService{
		bus:       cfg.Bus,
		submitter: cfg.Submitter,
		gate:      cfg.Gate,
		offers:    cfg.Offers,
		locks:     cfg.Locks,
		notifier:  cfg.Notifier,
		logger:    logger.With(slog.String("component", "negotiation_service")),
		sessions:  make(map[string]*activeSession),
	}, nil
}

// StartSession creates the negotiation session for a chat and subscribes it
// to the chat's message channel. Restarting a chat with the same identity is
// idempotent and returns the existing session's snapshot; a start under a
// different identity is rejected so one party cannot take over the session
// another one registered.
func (s *NegotiationService) StartSession(ctx context.Context, sctx domain.SessionContext) (negotiation.Snapshot, error) {
	if err := sctx.Validate(); err != nil {
		return negotiation.Snapshot{}, err
	}

	s.mu.Lock()
	if active, ok := s.sessions[sctx.ChatID]; ok {
		s.mu.Unlock()
		if active.session.Context() != sctx {
			return negotiation.Snapshot{}, fmt.Errorf("service: chat %s already has a session under another identity: %w", sctx.ChatID, domain.ErrForbidden)
		}
		return active.session.Snapshot(), nil
	}
	s.mu.Unlock()

	sess, err := negotiation.NewSession(negotiation.Config{
		Context:     sctx,
		Submitter:   s.submitter,
		Logger:      s.logger,
		OnConfirmed: s.handleConfirmed,
	})
	if err != nil {
		return negotiation.Snapshot{}, err
	}

	// The pump outlives the start request; it stops when the session ends.
	pumpCtx, cancel := context.WithCancel(context.Background())
	msgs, err := s.bus.Subscribe(pumpCtx, domain.ChatChannel(sctx.ChatID))
	if err != nil {
		cancel()
		return negotiation.Snapshot{}, fmt.Errorf("service: subscribe chat %s: %w", sctx.ChatID, err)
	}

	s.mu.Lock()
	if active, ok := s.sessions[sctx.ChatID]; ok {
		// Lost the race with a concurrent start.
		s.mu.Unlock()
		cancel()
		if active.session.Context() != sctx {
			return negotiation.Snapshot{}, fmt.Errorf("service: chat %s already has a session under another identity: %w", sctx.ChatID, domain.ErrForbidden)
		}
		return active.session.Snapshot(), nil
	}
	s.sessions[sctx.ChatID] = &activeSession{session: sess, cancel: cancel}
	s.mu.Unlock()

	go s.pump(pumpCtx, sess, msgs)

	s.logger.InfoContext(ctx, "session started",
		slog.String("chat_id", sctx.ChatID),
		slog.String("role", string(sctx.Role)),
	)
	return sess.Snapshot(), nil
}

// pump feeds transport messages into the session. Bodies the state machine
// does not recognize are ordinary chat text and need no action here; the
// WebSocket hub fans them out to clients independently.
func (s *NegotiationService) pump(ctx context.Context, sess *negotiation.Session, msgs <-chan domain.BusMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			sess.HandleMessage(msg.Payload)
		}
	}
}

// EndSession stops a chat's pump and discards its session state. In-flight
// product fetches are abandoned via context cancellation.
func (s *NegotiationService) EndSession(chatID string) {
	s.mu.Lock()
	active, ok := s.sessions[chatID]
	if ok {
		delete(s.sessions, chatID)
	}
	s.mu.Unlock()

	if ok {
		active.cancel()
		s.logger.Info("session ended", slog.String("chat_id", chatID))
	}
}

func (s *NegotiationService) session(chatID string) (*negotiation.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active, ok := s.sessions[chatID]
	if !ok {
		return nil, fmt.Errorf("service: chat %s: %w", chatID, domain.ErrNotFound)
	}
	return active.session, nil
}

// Snapshot returns the current negotiation state for a chat.
func (s *NegotiationService) Snapshot(chatID string) (negotiation.Snapshot, error) {
	sess, err := s.session(chatID)
	if err != nil {
		return negotiation.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// SelectProducts records the local user's selection and publishes the
// selection message on the chat channel and into the transcript stream.
func (s *NegotiationService) SelectProducts(ctx context.Context, chatID string, productIDs []string) (negotiation.Snapshot, error) {
	sess, err := s.session(chatID)
	if err != nil {
		return negotiation.Snapshot{}, err
	}

	products := make([]domain.Product, 0, len(productIDs))
	for _, id := range productIDs {
		products = append(products, domain.Product{ID: id})
	}

	msg := sess.SelectProducts(products)
	body, err := negotiation.EncodeSelection(msg)
	if err != nil {
		return negotiation.Snapshot{}, fmt.Errorf("service: encode selection: %w", err)
	}

	if err := s.bus.Publish(ctx, domain.ChatChannel(chatID), body); err != nil {
		return negotiation.Snapshot{}, fmt.Errorf("service: publish selection: %w", err)
	}
	if err := s.bus.StreamAppend(ctx, domain.TranscriptStream(chatID), body); err != nil {
		s.logger.WarnContext(ctx, "transcript append failed",
			slog.String("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}

	return sess.Snapshot(), nil
}

// SendMessage publishes plain chat text on the chat channel. The negotiation
// state machines on both ends will pass it through untouched.
func (s *NegotiationService) SendMessage(ctx context.Context, chatID, text string) error {
	if _, err := s.session(chatID); err != nil {
		return err
	}

	payload := []byte(text)
	if err := s.bus.Publish(ctx, domain.ChatChannel(chatID), payload); err != nil {
		return fmt.Errorf("service: publish message: %w", err)
	}
	if err := s.bus.StreamAppend(ctx, domain.TranscriptStream(chatID), payload); err != nil {
		s.logger.WarnContext(ctx, "transcript append failed",
			slog.String("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Review runs the confirmation gate over the chat's current offer.
func (s *NegotiationService) Review(ctx context.Context, chatID string) (negotiation.Review, error) {
	sess, err := s.session(chatID)
	if err != nil {
		return negotiation.Review{}, err
	}

	snap := sess.Snapshot()
	if snap.Offer == nil {
		return negotiation.Review{}, domain.ErrNoOffer
	}
	return s.gate.Review(ctx, *snap.Offer)
}

// Confirm runs the fairness gate and submits the offer. The distributed
// confirm lock keeps two replicas (or a double-clicking user) from
// submitting the same trade twice.
func (s *NegotiationService) Confirm(ctx context.Context, chatID string) (negotiation.Snapshot, error) {
	sess, err := s.session(chatID)
	if err != nil {
		return negotiation.Snapshot{}, err
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "confirm:"+chatID, confirmLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return negotiation.Snapshot{}, domain.ErrConfirmInFlight
			}
			return negotiation.Snapshot{}, fmt.Errorf("service: confirm lock: %w", err)
		}
		defer unlock()
	}

	snap := sess.Snapshot()
	if snap.Offer == nil {
		return negotiation.Snapshot{}, domain.ErrNoOffer
	}
	rev, err := s.gate.Review(ctx, *snap.Offer)
	if err != nil {
		return negotiation.Snapshot{}, err
	}
	if !rev.CanConfirm {
		return negotiation.Snapshot{}, fmt.Errorf("service: %w: delta %d over threshold %d",
			domain.ErrUnfairTrade, rev.Delta, s.gate.Threshold())
	}

	if err := sess.Confirm(ctx); err != nil {
		return negotiation.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// Cancel resets the chat's negotiation and announces the cancellation on the
// trade events channel.
func (s *NegotiationService) Cancel(ctx context.Context, chatID string) error {
	sess, err := s.session(chatID)
	if err != nil {
		return err
	}

	snap := sess.Snapshot()
	sess.Cancel()

	evt := domain.ChatEvent{
		Event:  domain.EventTradeCancelled,
		ChatID: chatID,
		UserID: sess.Context().UserID,
	}
	if snap.Offer != nil {
		evt.OfferID = snap.Offer.ID
	}
	s.publishEvent(ctx, evt)
	return nil
}

// CloseConfirmView hides the confirmation view for a chat.
func (s *NegotiationService) CloseConfirmView(chatID string) error {
	sess, err := s.session(chatID)
	if err != nil {
		return err
	}
	sess.CloseConfirmView()
	return nil
}

// History reads a page of the chat transcript stream.
func (s *NegotiationService) History(ctx context.Context, chatID, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "" {
		lastID = "0"
	}
	if count <= 0 {
		count = 50
	}
	msgs, err := s.bus.StreamRead(ctx, domain.TranscriptStream(chatID), lastID, count)
	if err != nil {
		return nil, fmt.Errorf("service: history %s: %w", chatID, err)
	}
	return msgs, nil
}

// handleConfirmed is the session completion callback: persist the confirmed
// offer, announce it, and notify operators. Failures here are logged, not
// surfaced; the trade itself already committed on the backend of record.
func (s *NegotiationService) handleConfirmed(offer domain.TradeOffer) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.offers != nil {
		if err := s.offers.Insert(ctx, offer); err != nil {
			s.logger.Error("persist confirmed offer failed",
				slog.String("offer_id", offer.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.publishEvent(ctx, domain.ChatEvent{
		Event:   domain.EventTradeConfirmed,
		ChatID:  offer.ChatID,
		OfferID: offer.ID,
		UserID:  offer.TraderUserID,
	})

	if s.notifier != nil {
		msg := fmt.Sprintf("chat %s: %d for %d products, offer %s",
			offer.ChatID, len(offer.TraderProducts), len(offer.NonTraderProducts), offer.ID)
		if err := s.notifier.Notify(ctx, domain.EventTradeConfirmed, "Trade confirmed", msg); err != nil {
			s.logger.Warn("notify failed", slog.String("error", err.Error()))
		}
	}
}

func (s *NegotiationService) publishEvent(ctx context.Context, evt domain.ChatEvent) {
	payload, _ := json.Marshal(evt)
	if err := s.bus.Publish(ctx, domain.TradeEventsChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish trade event failed",
			slog.String("event", evt.Event),
			slog.String("error", err.Error()),
		)
	}
}
