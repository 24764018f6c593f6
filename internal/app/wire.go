package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/barterline/swapd/internal/blob/s3"
	"github.com/barterline/swapd/internal/cache/redis"
	"github.com/barterline/swapd/internal/config"
	"github.com/barterline/swapd/internal/domain"
	"github.com/barterline/swapd/internal/notify"
	"github.com/barterline/swapd/internal/platform/swapapi"
	"github.com/barterline/swapd/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Messaging and caching
	Bus          domain.MessageBus
	ProductCache domain.ProductCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager

	// Swap platform API
	Lookup    domain.ProductLookup
	Submitter domain.TradeSubmitter

	// Persistence
	OfferStore domain.OfferStore

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.OfferArchiver

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(cfg *config.Config) bool {
	if !cfg.Postgres.Enabled {
		return false
	}
	switch strings.ToLower(cfg.Mode) {
	case "archiver", "full":
		return true
	case "gateway":
		// The gateway persists confirmed offers when the store is available.
		return true
	default:
		return false
	}
}

// needsS3 returns true for modes that require object storage.
func needsS3(cfg *config.Config) bool {
	if !cfg.S3.Enabled {
		return false
	}
	switch strings.ToLower(cfg.Mode) {
	case "archiver":
		return true
	case "full":
		return cfg.Archive.Enabled
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Swap platform API ---
	apiClient := swapapi.NewClient(cfg.SwapAPI.BaseURL, cfg.SwapAPI.Token)
	deps.Lookup = apiClient
	deps.Submitter = apiClient

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(cfg) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.OfferStore = postgres.NewOfferStore(pgClient.Pool())
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Bus = redis.NewChatBus(redisClient)
	deps.ProductCache = redis.NewProductCache(redisClient, cfg.Negotiation.ProductCacheTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- S3 blob storage (only for modes that need object storage) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		if deps.OfferStore != nil {
			deps.Archiver = s3blob.NewOfferArchiver(deps.BlobWriter, deps.OfferStore, logger)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
