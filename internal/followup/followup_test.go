package followup

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

var t0 = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

func quiet() *logging.Logger {
	return logging.NewWithWriter("error", io.Discard)
}

func newTestScheduler(t *testing.T, now *time.Time) (*RedisScheduler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisScheduler(client, quiet()).WithClock(func() time.Time { return *now }), mr
}

func TestRedisSchedulerClaimsOnlyDueJobs(t *testing.T) {
	now := t0
	s, _ := newTestScheduler(t, &now)
	ctx := context.Background()

	if err := s.Schedule(ctx, "conv-1", KindHotLostReminder, time.Hour); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Schedule(ctx, "conv-2", KindAfterHours, 2*time.Hour); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	jobs, err := s.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected nothing due yet, got %+v", jobs)
	}

	now = t0.Add(61 * time.Minute)
	jobs, err = s.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ConversationID != "conv-1" || jobs[0].Kind != KindHotLostReminder {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	if jobs[0].ID == "" {
		t.Fatalf("expected job id")
	}

	// Claimed jobs are gone.
	if again, _ := s.Claim(ctx, 10); len(again) != 0 {
		t.Fatalf("expected claim to remove the job, got %+v", again)
	}
	if n, _ := s.Pending(ctx); n != 1 {
		t.Fatalf("expected one pending job, got %d", n)
	}
}

func TestRedisSchedulerRetryBumpsAttempt(t *testing.T) {
	now := t0
	s, _ := newTestScheduler(t, &now)
	ctx := context.Background()

	job := Job{ID: "job-1", ConversationID: "conv-1", Kind: KindHotLostReminder}
	if err := s.Retry(ctx, job, 30*time.Second); err != nil {
		t.Fatalf("retry: %v", err)
	}
	now = t0.Add(31 * time.Second)
	jobs, err := s.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Attempt != 1 || jobs[0].ID != "job-1" {
		t.Fatalf("unexpected retried job %+v", jobs)
	}
}

func TestRedisSchedulerDropsMalformedMembers(t *testing.T) {
	now := t0
	s, mr := newTestScheduler(t, &now)
	if _, err := mr.ZAdd(DueKey, float64(t0.Add(-time.Minute).UnixMilli()), "not-json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	jobs, err := s.Claim(context.Background(), 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected malformed member dropped, got %+v", jobs)
	}
	if mr.Exists(DueKey) {
		t.Fatalf("expected malformed member removed from the set")
	}
}

type fakeQueue struct {
	jobs    []Job
	retried []Job
	delays  []time.Duration
}

func (q *fakeQueue) Claim(context.Context, int) ([]Job, error) {
	jobs := q.jobs
	q.jobs = nil
	return jobs, nil
}

func (q *fakeQueue) Retry(_ context.Context, job Job, delay time.Duration) error {
	job.Attempt++
	q.retried = append(q.retried, job)
	q.delays = append(q.delays, delay)
	return nil
}

type handlerFunc func(ctx context.Context, job Job) error

func (f handlerFunc) Dispatch(ctx context.Context, job Job) error { return f(ctx, job) }

func TestPollerRetriesWithBackoff(t *testing.T) {
	q := &fakeQueue{jobs: []Job{
		{ID: "ok", Kind: KindHotLostReminder},
		{ID: "skip", Kind: KindHotLostReminder},
		{ID: "fail", Kind: KindHotLostReminder, Attempt: 2},
		{ID: "last", Kind: KindHotLostReminder, Attempt: 4},
	}}
	handler := handlerFunc(func(_ context.Context, job Job) error {
		switch job.ID {
		case "ok":
			return nil
		case "skip":
			return ErrSkipped
		default:
			return errors.New("send failed")
		}
	})

	NewPoller(q, handler, quiet()).drain(context.Background())

	if len(q.retried) != 1 || q.retried[0].ID != "fail" || q.retried[0].Attempt != 3 {
		t.Fatalf("expected only the failed job retried, got %+v", q.retried)
	}
	if q.delays[0] != 2*time.Minute {
		t.Fatalf("expected 30s<<2 backoff, got %s", q.delays[0])
	}
}

func TestPollerRunStops(t *testing.T) {
	q := &fakeQueue{}
	p := NewPoller(q, handlerFunc(func(context.Context, Job) error { return nil }), quiet()).
		WithInterval(5 * time.Millisecond).
		WithBatchSize(5)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done
}

type recordedSend struct {
	conversationID string
	text           string
}

type fakeSender struct {
	sent []recordedSend
	err  error
}

func (s *fakeSender) SendText(_ context.Context, conv *conversation.Conversation, _ conversation.Sender, text string, _ bool) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, recordedSend{conv.ID, text})
	return nil
}

func TestDispatcherSendsReminder(t *testing.T) {
	ctx := context.Background()
	store := conversation.NewMemoryStore()
	conv, _ := store.UpsertByIdentity(ctx, "5491100000001")
	sender := &fakeSender{}
	d := NewDispatcher(store, sender, quiet()).WithClock(func() time.Time { return t0 })

	if err := d.Dispatch(ctx, Job{ID: "j1", ConversationID: conv.ID, Kind: KindHotLostReminder}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].text != HotLostReminder() {
		t.Fatalf("unexpected sends %+v", sender.sent)
	}
	events := store.Events(conv.ID)
	if len(events) != 1 || events[0].Kind != conversation.EventFollowupHotLostSent {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestDispatcherSkipsSellerOwnedAndPaused(t *testing.T) {
	ctx := context.Background()
	store := conversation.NewMemoryStore()
	sender := &fakeSender{}
	d := NewDispatcher(store, sender, quiet()).WithClock(func() time.Time { return t0 })

	taken, _ := store.UpsertByIdentity(ctx, "5491100000002")
	state := conversation.StateHumanTakeover
	_ = store.Update(ctx, taken.ID, conversation.Patch{State: &state})

	paused, _ := store.UpsertByIdentity(ctx, "5491100000003")
	until := t0.Add(time.Hour)
	_ = store.Update(ctx, paused.ID, conversation.Patch{BotPausedUntil: &until})

	for _, id := range []string{taken.ID, paused.ID, "missing"} {
		err := d.Dispatch(ctx, Job{ConversationID: id, Kind: KindHotLostReminder})
		if !errors.Is(err, ErrSkipped) {
			t.Fatalf("expected skip for %s, got %v", id, err)
		}
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected nothing sent, got %+v", sender.sent)
	}
}

func TestDispatcherAfterHoursWaitsForSellers(t *testing.T) {
	ctx := context.Background()
	store := conversation.NewMemoryStore()
	conv, _ := store.UpsertByIdentity(ctx, "5491100000004")
	sender := &fakeSender{}
	d := NewDispatcher(store, sender, quiet())
	job := Job{ID: "j2", ConversationID: conv.ID, Kind: KindAfterHours}

	if err := d.Dispatch(ctx, job); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected not ready without sellers, got %v", err)
	}

	_ = store.UpsertAgent(ctx, &conversation.Agent{ID: "s1", Name: "Ana", Role: conversation.RoleSeller, Active: true, Online: true})
	if err := d.Dispatch(ctx, job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].text != AfterHoursMessage() {
		t.Fatalf("unexpected sends %+v", sender.sent)
	}
}
