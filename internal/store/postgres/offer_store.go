package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barterline/swapd/internal/domain"
)

// OfferStore implements domain.OfferStore using PostgreSQL.
type OfferStore struct {
	pool *pgxpool.Pool
}

// NewOfferStore creates an OfferStore backed by the given connection pool.
func NewOfferStore(pool *pgxpool.Pool) *OfferStore {
	return &OfferStore{pool: pool}
}

const offerSelectCols = `id, chat_id, anchor_product_id, trader_products,
	non_trader_products, trader_user_id, non_trader_user_id,
	trader_accepted, non_trader_accepted, completed, status,
	created_at, updated_at`

func scanOffer(row pgx.Row) (domain.TradeOffer, error) {
	var o domain.TradeOffer
	err := row.Scan(
		&o.ID, &o.ChatID, &o.AnchorProductID, &o.TraderProducts,
		&o.NonTraderProducts, &o.TraderUserID, &o.NonTraderUserID,
		&o.TraderAccepted, &o.NonTraderAccepted, &o.Completed, &o.Status,
		&o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

func scanOfferRows(rows pgx.Rows) ([]domain.TradeOffer, error) {
	var offers []domain.TradeOffer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// Insert persists a confirmed offer. Re-inserting the same offer id is a
// silent no-op via ON CONFLICT DO NOTHING, which keeps retries idempotent.
func (s *OfferStore) Insert(ctx context.Context, offer domain.TradeOffer) error {
	const query = `
		INSERT INTO offers (
			id, chat_id, anchor_product_id, trader_products,
			non_trader_products, trader_user_id, non_trader_user_id,
			trader_accepted, non_trader_accepted, completed, status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11,
			$12, $13
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		offer.ID, offer.ChatID, offer.AnchorProductID, offer.TraderProducts,
		offer.NonTraderProducts, offer.TraderUserID, offer.NonTraderUserID,
		offer.TraderAccepted, offer.NonTraderAccepted, offer.Completed, offer.Status,
		offer.CreatedAt, offer.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert offer %s: %w", offer.ID, err)
	}
	return nil
}

// GetByID returns one offer or domain.ErrNotFound.
func (s *OfferStore) GetByID(ctx context.Context, id string) (domain.TradeOffer, error) {
	query := fmt.Sprintf("SELECT %s FROM offers WHERE id = $1", offerSelectCols)

	o, err := scanOffer(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeOffer{}, domain.ErrNotFound
		}
		return domain.TradeOffer{}, fmt.Errorf("postgres: get offer %s: %w", id, err)
	}
	return o, nil
}

// ListByChat returns a chat's confirmed offers, most recent first.
func (s *OfferStore) ListByChat(ctx context.Context, chatID string, opts domain.ListOpts) ([]domain.TradeOffer, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM offers WHERE chat_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		offerSelectCols,
	)

	rows, err := s.pool.Query(ctx, query, chatID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list offers for chat %s: %w", chatID, err)
	}
	defer rows.Close()

	offers, err := scanOfferRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan offers for chat %s: %w", chatID, err)
	}
	return offers, nil
}

// ListRecent returns the most recently confirmed offers across all chats.
func (s *OfferStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeOffer, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM offers ORDER BY created_at DESC LIMIT $1 OFFSET $2",
		offerSelectCols,
	)

	rows, err := s.pool.Query(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent offers: %w", err)
	}
	defer rows.Close()

	offers, err := scanOfferRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent offers: %w", err)
	}
	return offers, nil
}

// ListBefore returns all offers created strictly before the cutoff, oldest
// first. Used by the archiver.
func (s *OfferStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeOffer, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM offers WHERE created_at < $1 ORDER BY created_at ASC",
		offerSelectCols,
	)

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list offers before %s: %w", before, err)
	}
	defer rows.Close()

	offers, err := scanOfferRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan offers before %s: %w", before, err)
	}
	return offers, nil
}

// Count returns the total number of stored offers.
func (s *OfferStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM offers").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count offers: %w", err)
	}
	return count, nil
}

var _ domain.OfferStore = (*OfferStore)(nil)
