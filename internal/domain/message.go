package domain

// SelectionMessageTag is the discriminant that marks a chat message body as a
// trade selection message rather than plain chat text.
const SelectionMessageTag = "trade_products_selected"

// TradeSelectionMessage is the wire payload exchanged over the chat channel
// when one party picks the products they are offering. It is serialized as
// the message body; anything that fails to decode into this shape is treated
// as ordinary chat text.
type TradeSelectionMessage struct {
	Tag             string   `json:"tag"`
	Role            Role     `json:"role"`
	ProductIDs      []string `json:"productIds"`
	SenderUserID    string   `json:"senderUserId"`
	ChatID          string   `json:"chatId"`
	AnchorProductID string   `json:"productDelChat"`
}

// ChatEvent is the envelope published on the trade events channel when a
// negotiation reaches a terminal state, consumed by the WebSocket gateway
// and notification workers.
type ChatEvent struct {
	Event   string `json:"event"`
	ChatID  string `json:"chatId"`
	OfferID string `json:"offerId,omitempty"`
	UserID  string `json:"userId,omitempty"`
}

const (
	EventTradeConfirmed = "trade_confirmed"
	EventTradeCancelled = "trade_cancelled"
)

// TradeEventsChannel carries negotiation lifecycle events for the WebSocket
// gateway and notification consumers.
const TradeEventsChannel = "trade:events"

// ChatChannel is the live Pub/Sub channel name for one chat room.
func ChatChannel(chatID string) string {
	return "chat:" + chatID
}

// TranscriptStream is the durable stream name holding one chat's history.
func TranscriptStream(chatID string) string {
	return "chatlog:" + chatID
}
