package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/barterline/swapd/internal/domain"
	"github.com/barterline/swapd/internal/negotiation"
)

// NegotiationService defines the methods the negotiation handler requires
// from the service layer. It is declared locally so the handler package does
// not depend on the concrete service implementation.
type NegotiationService interface {
	StartSession(ctx context.Context, sctx domain.SessionContext) (negotiation.Snapshot, error)
	EndSession(chatID string)
	Snapshot(chatID string) (negotiation.Snapshot, error)
	SelectProducts(ctx context.Context, chatID string, productIDs []string) (negotiation.Snapshot, error)
	SendMessage(ctx context.Context, chatID, text string) error
	Review(ctx context.Context, chatID string) (negotiation.Review, error)
	Confirm(ctx context.Context, chatID string) (negotiation.Snapshot, error)
	Cancel(ctx context.Context, chatID string) error
	CloseConfirmView(chatID string) error
	History(ctx context.Context, chatID, lastID string, count int) ([]domain.StreamMessage, error)
}

// NegotiationHandler serves the trade-negotiation HTTP endpoints.
type NegotiationHandler struct {
	sessions NegotiationService
	logger   *slog.Logger
}

// NewNegotiationHandler creates a NegotiationHandler with the given service
// and logger.
func NewNegotiationHandler(sessions NegotiationService, logger *slog.Logger) *NegotiationHandler {
	return &NegotiationHandler{
		sessions: sessions,
		logger:   logHandler(logger, "negotiation"),
	}
}

// startSessionRequest is the body of POST /api/sessions.
type startSessionRequest struct {
	UserID          string `json:"userId"`
	Role            string `json:"role"`
	ChatID          string `json:"chatId"`
	AnchorProductID string `json:"anchorProductId"`
}

// StartSession opens a negotiation session for a chat.
// POST /api/sessions
func (h *NegotiationHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := h.sessions.StartSession(r.Context(), domain.SessionContext{
		UserID:          req.UserID,
		Role:            domain.Role(req.Role),
		ChatID:          req.ChatID,
		AnchorProductID: req.AnchorProductID,
	})
	if err != nil {
		h.writeNegotiationError(w, r, "start session", err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// GetSession returns the current negotiation state for a chat.
// GET /api/sessions/{chatID}
func (h *NegotiationHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	chatID := pathParam(r, "chatID")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "missing chat id")
		return
	}

	snap, err := h.sessions.Snapshot(chatID)
	if err != nil {
		h.writeNegotiationError(w, r, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// EndSession discards a chat's negotiation session.
// DELETE /api/sessions/{chatID}
func (h *NegotiationHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	chatID := pathParam(r, "chatID")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "missing chat id")
		return
	}

	h.sessions.EndSession(chatID)
	w.WriteHeader(http.StatusNoContent)
}

// selectProductsRequest is the body of POST /api/sessions/{chatID}/selection.
type selectProductsRequest struct {
	ProductIDs []string `json:"productIds"`
}

// SelectProducts records the local user's product selection for a chat.
// POST /api/sessions/{chatID}/selection
func (h *NegotiationHandler) SelectProducts(w http.ResponseWriter, r *http.Request) {
	chatID := pathParam(r, "chatID")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "missing chat id")
		return
	}

	var req selectProductsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := h.sessions.SelectProducts(r.Context(), chatID, req.ProductIDs)
	if err != nil {
		h.writeNegotiationError(w, r, "select products", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// sendMessageRequest is the body of POST /api/sessions/{chatID}/messages.
type sendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessage publishes plain chat text into a chat's channel.
// POST /api/sessions/{chatID}/messages
func (h *NegotiationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := pathParam(r, "chatID")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "missing chat id")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "missing message text")
		return
	}

	if err := h.sessions.SendMessage(r.Context(), chatID, req.Text); err != nil {
		h.writeNegotiationError(w, r, "send message", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Review runs the confirmation gate over the chat's current offer and returns
// the resolved products, point totals, and verdict.
// GET /api/sessions/{chatID}/review
func (h *NegotiationHandler) Review(w http.ResponseWriter, r *http.Request) {
	chatID := pathParam(r, "chatID")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "missing chat id")
		return
	}

	rev, err := h.sessions.Review(r.Context(), chatID)
	if err != nil {
		h.writeNegotiationError(w, r, "review", err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// Confirm accepts the chat's current offer and submits the trade.
// POST /api/sessions/{chatID}/confirm
func (h *NegotiationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	chatID := pathParam(r, "chatID")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "missing chat id")
		return
	}

	snap, err := h.sessions.Confirm(r.Context(), chatID)
	if err != nil {
		h.writeNegotiationError(w, r, "confirm", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Cancel resets the chat's negotiation state.
// POST /api/sessions/{chatID}/cancel
func (h *NegotiationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	chatID := pathParam(r, "chatID")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "missing chat id")
		return
	}

	if err := h.sessions.Cancel(r.Context(), chatID); err != nil {
		h.writeNegotiationError(w, r, "cancel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseConfirmView dismisses the confirmation view without touching the offer.
// POST /api/sessions/{chatID}/view/close
func (h *NegotiationHandler) CloseConfirmView(w http.ResponseWriter, r *http.Request) {
	chatID := pathParam(r, "chatID")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "missing chat id")
		return
	}

	if err := h.sessions.CloseConfirmView(chatID); err != nil {
		h.writeNegotiationError(w, r, "close confirm view", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// historyResponse wraps transcript entries with the cursor for the next page.
type historyResponse struct {
	Messages []historyEntry `json:"messages"`
	LastID   string         `json:"lastId,omitempty"`
}

type historyEntry struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// History returns a page of the chat transcript.
// GET /api/chats/{chatID}/history?after=<id>&limit=50
func (h *NegotiationHandler) History(w http.ResponseWriter, r *http.Request) {
	chatID := pathParam(r, "chatID")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "missing chat id")
		return
	}

	opts := parseListOpts(r)
	msgs, err := h.sessions.History(r.Context(), chatID, r.URL.Query().Get("after"), opts.Limit)
	if err != nil {
		h.writeNegotiationError(w, r, "history", err)
		return
	}

	resp := historyResponse{Messages: make([]historyEntry, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, historyEntry{ID: m.ID, Body: string(m.Payload)})
	}
	if len(msgs) > 0 {
		resp.LastID = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeNegotiationError maps domain sentinel errors onto HTTP statuses and
// logs everything else as a server error.
func (h *NegotiationHandler) writeNegotiationError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, domain.ErrNoOffer):
		writeError(w, http.StatusConflict, "no offer to act on")
	case errors.Is(err, domain.ErrNotTrader):
		writeError(w, http.StatusForbidden, "only the item owner may confirm")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrConfirmInFlight):
		writeError(w, http.StatusConflict, "confirmation already in progress")
	case errors.Is(err, domain.ErrUnfairTrade):
		writeError(w, http.StatusUnprocessableEntity, "trade imbalance exceeds the allowed threshold")
	case errors.Is(err, domain.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, "session expired")
	case errors.Is(err, domain.ErrInvalidTrade):
		writeError(w, http.StatusBadRequest, "invalid trade")
	default:
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}
