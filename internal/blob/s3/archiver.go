package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/barterline/swapd/internal/domain"
)

// OfferArchiveStore is the narrow read surface the archiver needs from the
// offer store.
type OfferArchiveStore interface {
	// ListBefore returns all offers created strictly before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeOffer, error)
}

// OfferArchiver implements domain.OfferArchiver: it reads aged confirmed
// offers from the primary store, serializes them to JSONL, and uploads the
// document to blob storage under archive/offers/YYYY-MM.jsonl.
//
// Deleting the archived rows from the primary store is deliberately a
// separate, explicit step to be taken after the archive is verified.
type OfferArchiver struct {
	writer domain.BlobWriter
	offers OfferArchiveStore
	logger *slog.Logger
}

// NewOfferArchiver creates an OfferArchiver.
func NewOfferArchiver(writer domain.BlobWriter, offers OfferArchiveStore, logger *slog.Logger) *OfferArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &OfferArchiver{
		writer: writer,
		offers: offers,
		logger: logger.With(slog.String("component", "offer_archiver")),
	}
}

// ArchiveOffers uploads every offer created before the cutoff and returns
// the number of archived records. A zero count with nil error means there
// was nothing to archive.
func (a *OfferArchiver) ArchiveOffers(ctx context.Context, before time.Time) (int64, error) {
	offers, err := a.offers.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive offers query: %w", err)
	}
	if len(offers) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(offers)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive offers marshal: %w", err)
	}

	path := archivePath("offers", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive offers upload: %w", err)
	}

	count := int64(len(offers))
	a.logger.InfoContext(ctx, "offers archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.String("before", before.Format(time.RFC3339)),
	)
	return count, nil
}

// marshalJSONL serializes a slice of offers as newline-delimited JSON.
func marshalJSONL(offers []domain.TradeOffer) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range offers {
		if err := enc.Encode(offers[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// archivePath builds the blob key for an archive document, bucketed by the
// cutoff month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

var _ domain.OfferArchiver = (*OfferArchiver)(nil)
