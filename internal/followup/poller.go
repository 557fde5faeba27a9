package followup

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/retail-chat-bot/internal/observability/metrics"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

type jobQueue interface {
	Claim(ctx context.Context, limit int) ([]Job, error)
	Retry(ctx context.Context, job Job, delay time.Duration) error
}

// Handler delivers one follow-up.
type Handler interface {
	Dispatch(ctx context.Context, job Job) error
}

// Poller drains due follow-ups and retries failed ones with exponential
// backoff.
type Poller struct {
	queue       jobQueue
	handler     Handler
	metrics     *metrics.JobMetrics
	logger      *logging.Logger
	interval    time.Duration
	batch       int
	backoff     time.Duration
	maxAttempts int
}

func NewPoller(queue jobQueue, handler Handler, logger *logging.Logger) *Poller {
	if queue == nil {
		panic("followup: queue cannot be nil")
	}
	if handler == nil {
		panic("followup: handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Poller{
		queue:       queue,
		handler:     handler,
		logger:      logger,
		interval:    5 * time.Second,
		batch:       50,
		backoff:     30 * time.Second,
		maxAttempts: 5,
	}
}

func (p *Poller) WithInterval(d time.Duration) *Poller {
	if d > 0 {
		p.interval = d
	}
	return p
}

func (p *Poller) WithBatchSize(n int) *Poller {
	if n > 0 {
		p.batch = n
	}
	return p
}

func (p *Poller) WithMetrics(m *metrics.JobMetrics) *Poller {
	p.metrics = m
	return p
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Poller) drain(ctx context.Context) {
	jobs, err := p.queue.Claim(ctx, p.batch)
	if err != nil {
		p.logger.Error("follow-up claim failed", "error", err)
	}
	for _, job := range jobs {
		p.handle(ctx, job)
	}
}

func (p *Poller) handle(ctx context.Context, job Job) {
	err := p.handler.Dispatch(ctx, job)
	switch {
	case err == nil:
		p.metrics.ObserveFollowup(string(job.Kind), "sent")
		return
	case errors.Is(err, ErrSkipped):
		p.logger.Info("follow-up skipped", "conversation_id", job.ConversationID, "kind", job.Kind, "reason", err)
		p.metrics.ObserveFollowup(string(job.Kind), "skipped")
		return
	}

	if job.Attempt+1 >= p.maxAttempts {
		p.logger.Error("follow-up dropped after retries", "conversation_id", job.ConversationID, "kind", job.Kind, "attempts", job.Attempt+1, "error", err)
		p.metrics.ObserveFollowup(string(job.Kind), "dropped")
		return
	}
	delay := p.backoff << job.Attempt
	if rerr := p.queue.Retry(ctx, job, delay); rerr != nil {
		p.logger.Error("follow-up retry failed", "conversation_id", job.ConversationID, "kind", job.Kind, "error", rerr)
		p.metrics.ObserveFollowup(string(job.Kind), "dropped")
		return
	}
	p.logger.Warn("follow-up failed, retrying", "conversation_id", job.ConversationID, "kind", job.Kind, "delay", delay.String(), "error", err)
	p.metrics.ObserveFollowup(string(job.Kind), "retried")
}
