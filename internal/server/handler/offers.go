package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/barterline/swapd/internal/domain"
)

// OffersHandler serves the confirmed-offer history endpoints backed by the
// offer store.
type OffersHandler struct {
	offers domain.OfferStore
	logger *slog.Logger
}

// NewOffersHandler creates an OffersHandler with the given store and logger.
func NewOffersHandler(offers domain.OfferStore, logger *slog.Logger) *OffersHandler {
	return &OffersHandler{
		offers: offers,
		logger: logHandler(logger, "offers"),
	}
}

// listOffersResponse wraps the list endpoint output with metadata.
type listOffersResponse struct {
	Offers []domain.TradeOffer `json:"offers"`
	Total  int64               `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// ListOffers returns recently confirmed offers with pagination. When chat_id
// is present, only that chat's offers are returned.
// GET /api/offers?chat_id=&limit=50&offset=0
func (h *OffersHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		offers []domain.TradeOffer
		err    error
	)
	if chatID := r.URL.Query().Get("chat_id"); chatID != "" {
		offers, err = h.offers.ListByChat(r.Context(), chatID, opts)
	} else {
		offers, err = h.offers.ListRecent(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list offers failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list offers")
		return
	}

	total, err := h.offers.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count offers failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count offers")
		return
	}

	writeJSON(w, http.StatusOK, listOffersResponse{
		Offers: offers,
		Total:  total,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// GetOffer returns a single confirmed offer by its ID.
// GET /api/offers/{id}
func (h *OffersHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing offer id")
		return
	}

	offer, err := h.offers.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "offer not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get offer failed",
			slog.String("offer_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get offer")
		return
	}

	writeJSON(w, http.StatusOK, offer)
}
