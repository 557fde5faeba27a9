// Package scheduler runs the periodic liveness sweeps over conversations left
// in HUMAN_TAKEOVER.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/retail-chat-bot/internal/config"
	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/internal/followup"
	"github.com/wolfman30/retail-chat-bot/internal/observability/metrics"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

// JobLockKey scopes the try-lock shared by every instance running the sweeps.
const JobLockKey = "reconcile:periodic-jobs"

var tracer = otel.Tracer("retailbot.internal.scheduler")

// FollowupScheduler queues delayed messages. followup.RedisScheduler
// implements it.
type FollowupScheduler interface {
	Schedule(ctx context.Context, conversationID string, kind followup.Kind, delay time.Duration) error
}

// TickResult reports what one tick did.
type TickResult struct {
	Acquired  bool
	Returned  []string
	Reclaimed []string
}

// Reconciler returns idle takeovers to the bot and reclaims escalations no
// seller ever answered.
type Reconciler struct {
	store     conversation.Store
	recorder  *conversation.EventRecorder
	followups FollowupScheduler
	metrics   *metrics.JobMetrics
	logger    *logging.Logger
	cfg       config.EngineConfig
	now       func() time.Time
}

func NewReconciler(store conversation.Store, cfg config.EngineConfig, logger *logging.Logger) *Reconciler {
	if store == nil {
		panic("scheduler: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == (config.EngineConfig{}) {
		cfg = config.DefaultEngineConfig()
	}
	return &Reconciler{
		store:    store,
		recorder: conversation.NewEventRecorder(store, logger),
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithFollowups enables the reminder sent to reclaimed leads.
func (r *Reconciler) WithFollowups(s FollowupScheduler) *Reconciler {
	r.followups = s
	return r
}

func (r *Reconciler) WithMetrics(m *metrics.JobMetrics) *Reconciler {
	r.metrics = m
	return r
}

func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	if now != nil {
		r.now = now
	}
	return r
}

// Run ticks once immediately and then every JobTickInterval until ctx is
// done. Missed ticks are not queued.
func (r *Reconciler) Run(ctx context.Context) {
	interval := r.cfg.JobTickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	res, err := r.Tick(ctx)
	if err != nil {
		r.logger.Error("reconcile tick failed", "error", err)
		return
	}
	if len(res.Returned)+len(res.Reclaimed) > 0 {
		r.logger.Info("reconcile tick", "returned", len(res.Returned), "reclaimed", len(res.Reclaimed))
	}
}

// Tick runs both sweeps under the job lock. When another instance holds the
// lock the tick is skipped and Acquired is false.
func (r *Reconciler) Tick(ctx context.Context) (TickResult, error) {
	ctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	var res TickResult
	acquired, err := r.store.WithJobLock(ctx, JobLockKey, func(ctx context.Context, tx conversation.Store) error {
		res = TickResult{}
		return r.sweep(ctx, tx, &res)
	})
	res.Acquired = acquired
	span.SetAttributes(
		attribute.Bool("retailbot.jobs.acquired", acquired),
		attribute.Int("retailbot.jobs.returned", len(res.Returned)),
		attribute.Int("retailbot.jobs.reclaimed", len(res.Reclaimed)),
	)
	if err != nil {
		span.RecordError(err)
		r.metrics.ObserveTick("error")
		return TickResult{Acquired: acquired}, fmt.Errorf("scheduler: tick: %w", err)
	}
	if !acquired {
		r.metrics.ObserveTick("skipped")
		return res, nil
	}
	r.metrics.ObserveTick("acquired")
	r.metrics.ObserveSwept("human_inactivity", len(res.Returned))
	r.metrics.ObserveSwept("unclaimed_hot_lead", len(res.Reclaimed))

	// Follow-ups go out only after the transitions committed.
	r.scheduleFollowups(ctx, res.Reclaimed)
	return res, nil
}

func (r *Reconciler) sweep(ctx context.Context, tx conversation.Store, res *TickResult) error {
	takeovers, err := tx.ListTakeovers(ctx)
	if err != nil {
		return err
	}
	recorder := r.recorder.WithStore(tx)
	now := r.now()

	for _, conv := range takeovers {
		if conv.LastHumanMessageAt != nil {
			idle := now.Sub(*conv.LastHumanMessageAt)
			if idle < r.cfg.HumanInactivity {
				continue
			}
			ok, err := tx.ReturnToBot(ctx, conv.ID, nil)
			if err != nil {
				return fmt.Errorf("return %s to bot: %w", conv.ID, err)
			}
			if !ok {
				continue
			}
			res.Returned = append(res.Returned, conv.ID)
			if err := recorder.Record(ctx, conv.ID, conversation.EventAutoReturnInactivity, map[string]any{
				"minutesSinceHuman": math.Floor(idle.Minutes()),
			}); err != nil {
				return err
			}
			continue
		}

		if conv.LastCustomerMessageAt == nil {
			continue
		}
		idle := now.Sub(*conv.LastCustomerMessageAt)
		if idle < r.cfg.UnclaimedHotLead {
			continue
		}
		lead := reclaimedLeadStatus(conv.LeadStatus)
		ok, err := tx.ReturnToBot(ctx, conv.ID, &lead)
		if err != nil {
			return fmt.Errorf("reclaim %s: %w", conv.ID, err)
		}
		if !ok {
			continue
		}
		res.Reclaimed = append(res.Reclaimed, conv.ID)
		if err := recorder.Record(ctx, conv.ID, conversation.EventAutoRetakeUnclaimed, map[string]any{
			"minutesSinceCustomer": math.Floor(idle.Minutes()),
			"leadStatus":           string(lead),
		}); err != nil {
			return err
		}
	}
	return nil
}

// reclaimedLeadStatus marks an unanswered escalation as lost. Sticky statuses
// (HUMAN and closed deals) only change through an agent.
func reclaimedLeadStatus(current conversation.LeadStatus) conversation.LeadStatus {
	if current.Sticky() {
		return current
	}
	return conversation.LeadHotLost
}

func (r *Reconciler) scheduleFollowups(ctx context.Context, ids []string) {
	if r.followups == nil || len(ids) == 0 {
		return
	}
	delay := r.cfg.HotLostReminderDelay
	if delay <= 0 {
		delay = 2 * time.Hour
	}
	for _, id := range ids {
		err := r.followups.Schedule(ctx, id, followup.KindHotLostReminder, delay)
		status := "scheduled"
		if err != nil {
			status = "error"
			r.logger.Warn("failed to schedule follow-up", "conversation_id", id, "error", err)
		}
		r.metrics.ObserveFollowup(string(followup.KindHotLostReminder), status)
	}
}
