package followup

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

// DueKey is the sorted set holding pending jobs scored by due time in unix
// milliseconds.
const DueKey = "followups:due"

// RedisScheduler keeps follow-ups in a Redis sorted set. Several pollers may
// share it: a job belongs to whichever one removes it first.
type RedisScheduler struct {
	redis  *redis.Client
	key    string
	tracer trace.Tracer
	logger *logging.Logger
	now    func() time.Time
}

func NewRedisScheduler(client *redis.Client, logger *logging.Logger) *RedisScheduler {
	if client == nil {
		panic("followup: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisScheduler{
		redis:  client,
		key:    DueKey,
		tracer: otel.Tracer("retailbot.internal.followup"),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *RedisScheduler) WithClock(now func() time.Time) *RedisScheduler {
	if now != nil {
		s.now = now
	}
	return s
}

// Schedule queues kind for conversationID after delay.
func (s *RedisScheduler) Schedule(ctx context.Context, conversationID string, kind Kind, delay time.Duration) error {
	job := Job{ID: uuid.NewString(), ConversationID: conversationID, Kind: kind}
	return s.enqueue(ctx, job, s.now().Add(delay))
}

// Retry puts job back with its attempt counter bumped.
func (s *RedisScheduler) Retry(ctx context.Context, job Job, delay time.Duration) error {
	job.Attempt++
	return s.enqueue(ctx, job, s.now().Add(delay))
}

func (s *RedisScheduler) enqueue(ctx context.Context, job Job, due time.Time) error {
	ctx, span := s.tracer.Start(ctx, "followup.schedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("retailbot.followup.kind", string(job.Kind)),
		attribute.Int("retailbot.followup.attempt", job.Attempt),
	)

	data, err := json.Marshal(job)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("followup: marshal job: %w", err)
	}
	if err := s.redis.ZAdd(ctx, s.key, redis.Z{Score: float64(due.UnixMilli()), Member: string(data)}).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("followup: schedule: %w", err)
	}
	return nil
}

// Claim removes and returns up to limit jobs that are due. Members another
// poller removed first are skipped.
func (s *RedisScheduler) Claim(ctx context.Context, limit int) ([]Job, error) {
	ctx, span := s.tracer.Start(ctx, "followup.claim")
	defer span.End()

	members, err := s.redis.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(s.now().UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("followup: list due: %w", err)
	}

	jobs := make([]Job, 0, len(members))
	for _, member := range members {
		removed, err := s.redis.ZRem(ctx, s.key, member).Result()
		if err != nil {
			span.RecordError(err)
			return jobs, fmt.Errorf("followup: claim: %w", err)
		}
		if removed == 0 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			s.logger.Warn("dropping malformed follow-up job", "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	span.SetAttributes(attribute.Int("retailbot.followup.claimed", len(jobs)))
	return jobs, nil
}

// Pending returns the number of queued jobs.
func (s *RedisScheduler) Pending(ctx context.Context) (int64, error) {
	n, err := s.redis.ZCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("followup: pending: %w", err)
	}
	return n, nil
}
