// Package negotiation implements the client-side trade reconciliation state
// machine for swap chats: it merges the two participants' product selections
// into a single trade offer, gates it behind a point-fairness check, and
// commits it to the platform backend.
package negotiation

import (
	"encoding/json"

	"github.com/barterline/swapd/internal/domain"
)

// InboundKind classifies a raw chat message body.
type InboundKind int

const (
	// KindPlainText covers everything that is not a selection message:
	// ordinary chat text, malformed JSON, and JSON with the wrong tag.
	KindPlainText InboundKind = iota

	// KindSelection is a structurally valid trade selection message.
	KindSelection
)

// Inbound is the decoded form of a raw message body.
type Inbound struct {
	Kind      InboundKind
	Selection domain.TradeSelectionMessage
	Text      string
}

// DecodeInbound attempts a strict decode of body into a trade selection
// message. Any decode failure or tag mismatch uniformly yields plain text;
// the trade logic never errors on foreign payloads.
func DecodeInbound(body []byte) Inbound {
	var msg domain.TradeSelectionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return Inbound{Kind: KindPlainText, Text: string(body)}
	}
	if msg.Tag != domain.SelectionMessageTag || !msg.Role.Valid() || msg.SenderUserID == "" {
		return Inbound{Kind: KindPlainText, Text: string(body)}
	}
	return Inbound{Kind: KindSelection, Selection: msg}
}

// EncodeSelection serializes a selection message for publication on the chat
// channel.
func EncodeSelection(msg domain.TradeSelectionMessage) ([]byte, error) {
	return json.Marshal(msg)
}
