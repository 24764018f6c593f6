package domain

import (
	"fmt"
	"time"
)

// Role identifies which side of a swap chat a user is on. The trader owns the
// product the chat was opened around; the non-trader is the counterparty.
type Role string

const (
	RoleTrader    Role = "trader"
	RoleNonTrader Role = "non_trader"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleTrader || r == RoleNonTrader
}

// OfferStatus tracks a negotiation through its lifecycle.
type OfferStatus string

const (
	OfferPending        OfferStatus = "pending"
	OfferTraderReady    OfferStatus = "trader_ready"
	OfferNonTraderReady OfferStatus = "non_trader_ready"
	OfferBothReady      OfferStatus = "both_ready"
	OfferConfirmed      OfferStatus = "confirmed"
	OfferCancelled      OfferStatus = "cancelled"
)

// SelectionSet is the transient per-chat record of each party's chosen
// product identifiers. A later selection from the same role overwrites the
// prior one; selections never accumulate.
type SelectionSet struct {
	TraderProducts    []string `json:"traderProducts"`
	NonTraderProducts []string `json:"nonTraderProducts"`
	TraderUserID      string   `json:"traderUserId"`
	NonTraderUserID   string   `json:"nonTraderUserId"`
}

// Put records a selection for the given role, replacing any previous
// selection for that role.
func (s *SelectionSet) Put(role Role, userID string, productIDs []string) {
	ids := make([]string, len(productIDs))
	copy(ids, productIDs)

	if role == RoleTrader {
		s.TraderProducts = ids
		s.TraderUserID = userID
		return
	}
	s.NonTraderProducts = ids
	s.NonTraderUserID = userID
}

// BothReady reports whether both roles have supplied a non-empty selection.
func (s *SelectionSet) BothReady() bool {
	return len(s.TraderProducts) > 0 && len(s.NonTraderProducts) > 0
}

// Reset clears both selections and owner ids.
func (s *SelectionSet) Reset() {
	*s = SelectionSet{}
}

// TradeOffer is the reconciled two-party proposal produced the moment both
// selection slots become populated. It is held only by the local session;
// the transport layer never mutates it.
type TradeOffer struct {
	ID                string      `json:"id"`
	ChatID            string      `json:"chatId"`
	AnchorProductID   string      `json:"anchorProductId"`
	TraderProducts    []string    `json:"traderProducts"`
	NonTraderProducts []string    `json:"nonTraderProducts"`
	TraderUserID      string      `json:"traderUserId"`
	NonTraderUserID   string      `json:"nonTraderUserId"`
	TraderAccepted    bool        `json:"traderAccepted"`
	NonTraderAccepted bool        `json:"nonTraderAccepted"`
	Completed         bool        `json:"completed"`
	Status            OfferStatus `json:"status"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// NewTradeOffer builds an offer from a reconciled selection set. The id is
// synthetic: chat id plus creation timestamp.
func NewTradeOffer(chatID, anchorProductID string, sel SelectionSet, now time.Time) TradeOffer {
	return TradeOffer{
		ID:                fmt.Sprintf("%s-%d", chatID, now.UnixMilli()),
		ChatID:            chatID,
		AnchorProductID:   anchorProductID,
		TraderProducts:    sel.TraderProducts,
		NonTraderProducts: sel.NonTraderProducts,
		TraderUserID:      sel.TraderUserID,
		NonTraderUserID:   sel.NonTraderUserID,
		Status:            OfferBothReady,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// TradeSubmission is the payload handed to the platform backend when the
// trader commits an offer.
type TradeSubmission struct {
	TraderProductIDs    []string `json:"traderProductIds"`
	TraderUserID        string   `json:"traderUserId"`
	AnchorProductID     string   `json:"anchorProductId"`
	NonTraderProductIDs []string `json:"nonTraderProductIds"`
	NonTraderUserID     string   `json:"nonTraderUserId"`
}

// SessionContext carries the immutable identity facts a negotiation session
// is created with: who the local user is, which side of the chat they are on,
// and which chat/anchor product the session belongs to.
type SessionContext struct {
	UserID          string
	Role            Role
	ChatID          string
	AnchorProductID string
}

// Validate checks that all required session context fields are present.
func (c SessionContext) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("session context: missing user id: %w", ErrInvalidTrade)
	}
	if !c.Role.Valid() {
		return fmt.Errorf("session context: invalid role %q: %w", c.Role, ErrInvalidTrade)
	}
	if c.ChatID == "" {
		return fmt.Errorf("session context: missing chat id: %w", ErrInvalidTrade)
	}
	if c.AnchorProductID == "" {
		return fmt.Errorf("session context: missing anchor product id: %w", ErrInvalidTrade)
	}
	return nil
}
