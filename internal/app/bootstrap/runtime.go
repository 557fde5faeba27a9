package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/retail-chat-bot/internal/catalog"
	appconfig "github.com/wolfman30/retail-chat-bot/internal/config"
	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildStore connects to Postgres when DATABASE_URL is set. Without it the
// in-memory store is used and nothing survives a restart. The returned pool
// is nil in memory mode.
func BuildStore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (conversation.AdminStore, *pgxpool.Pool, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("DATABASE_URL not set; using in-memory conversation store")
		return conversation.NewMemoryStore(), nil, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("conversation store ready", "backend", "postgres")
	return conversation.NewPostgresStore(pool), pool, nil
}

// BuildCatalog picks the S3 export when a bucket is configured and the local
// file otherwise, then loads the first snapshot.
func BuildCatalog(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*catalog.Catalog, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	var source catalog.Source
	if bucket := strings.TrimSpace(cfg.CatalogS3Bucket); bucket != "" {
		source = catalog.NewS3Source(s3.NewFromConfig(awsCfg), bucket, cfg.CatalogS3Key)
		logger.Info("catalog source", "type", "s3", "bucket", bucket, "key", cfg.CatalogS3Key)
	} else {
		source = catalog.FileSource{Path: cfg.CatalogPath}
		logger.Info("catalog source", "type", "file", "path", cfg.CatalogPath)
	}

	c := catalog.New(source, logger)
	if err := c.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: load catalog: %w", err)
	}
	logger.Info("catalog loaded", "items", c.Len())
	return c, nil
}
