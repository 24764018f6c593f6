package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// StreamMessage is a single entry read back from a chat transcript stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// BusMessage is one delivery from a bus subscription. Channel is the
// concrete channel the message was published on, also under pattern
// subscriptions such as "chat:*".
type BusMessage struct {
	Channel string
	Payload []byte
}

// MessageBus is the per-chat publish/subscribe transport plus a durable
// transcript stream. Delivery is at-least-once and FIFO per subscription;
// consumers must tolerate duplicates.
type MessageBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan BusMessage, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// ProductLookup fetches full product details from the platform backend.
// Lookups are scoped by (productID, ownerProfileID).
type ProductLookup interface {
	GetProduct(ctx context.Context, productID, profileID string) (Product, error)
}

// TradeSubmitter commits a both-ready offer to the backend of record.
type TradeSubmitter interface {
	SubmitTrade(ctx context.Context, sub TradeSubmission) error
}

// OfferStore persists confirmed trade offers.
type OfferStore interface {
	Insert(ctx context.Context, offer TradeOffer) error
	GetByID(ctx context.Context, id string) (TradeOffer, error)
	ListByChat(ctx context.Context, chatID string, opts ListOpts) ([]TradeOffer, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]TradeOffer, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeOffer, error)
	Count(ctx context.Context) (int64, error)
}

// ProductCache provides fast product lookups in front of ProductLookup.
type ProductCache interface {
	Set(ctx context.Context, profileID string, product Product) error
	Get(ctx context.Context, productID, profileID string) (Product, error)
	Invalidate(ctx context.Context, productID, profileID string) error
}

// RateLimiter provides distributed request rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking, used to guard confirmation
// against duplicate submission across gateway replicas.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// OfferArchiver copies aged confirmed offers out of the primary store into
// long-term blob storage.
type OfferArchiver interface {
	ArchiveOffers(ctx context.Context, before time.Time) (int64, error)
}
