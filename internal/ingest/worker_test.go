package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type recordingHandler struct {
	mu       sync.Mutex
	messages []Inbound
	statuses []Status
	err      error
}

func (h *recordingHandler) Ingest(_ context.Context, in Inbound) (Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, in)
	return Outcome{ConversationID: "conv-" + in.From}, h.err
}

func (h *recordingHandler) IngestStatus(_ context.Context, st Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, st)
	return h.err
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages), len(h.statuses)
}

// countingQueue wraps MemoryQueue to count deletes.
type countingQueue struct {
	*MemoryQueue
	mu      sync.Mutex
	deleted int
}

func (q *countingQueue) Delete(_ context.Context, _ string) error {
	q.mu.Lock()
	q.deleted++
	q.mu.Unlock()
	return nil
}

func (q *countingQueue) deletes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deleted
}

func waitFor(cond func() bool, timeout time.Duration, t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorkerProcessesPublishedJobs(t *testing.T) {
	queue := &countingQueue{MemoryQueue: NewMemoryQueue(8)}
	handler := &recordingHandler{}
	pub := NewPublisher(queue, quiet())
	worker := NewWorker(handler, queue, quiet(), WithWorkerCount(1), WithReceiveBatchSize(2), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	if err := pub.PublishMessage(ctx, Inbound{From: "5491100000001", ExternalID: "wamid.1", Text: "hola", Kind: KindText}); err != nil {
		t.Fatalf("publish message: %v", err)
	}
	if err := pub.PublishStatus(ctx, Status{ExternalID: "wamid.out", Status: "delivered", RecipientID: "5491100000001"}); err != nil {
		t.Fatalf("publish status: %v", err)
	}

	waitFor(func() bool {
		m, s := handler.counts()
		return m == 1 && s == 1
	}, time.Second, t)
	waitFor(func() bool { return queue.deletes() == 2 }, time.Second, t)

	cancel()
	worker.Wait()

	if handler.messages[0].Text != "hola" || handler.statuses[0].Status != "delivered" {
		t.Fatalf("unexpected jobs %+v %+v", handler.messages, handler.statuses)
	}
}

func TestWorkerKeepsFailedJobsForRedelivery(t *testing.T) {
	queue := &countingQueue{MemoryQueue: NewMemoryQueue(8)}
	handler := &recordingHandler{err: errors.New("db down")}
	worker := NewWorker(handler, queue, quiet(), WithWorkerCount(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	_ = NewPublisher(queue, quiet()).PublishMessage(ctx, Inbound{From: "5491100000002", ExternalID: "wamid.2", Kind: KindText})
	waitFor(func() bool {
		m, _ := handler.counts()
		return m == 1
	}, time.Second, t)

	cancel()
	worker.Wait()

	if queue.deletes() != 0 {
		t.Fatalf("failed job should not be deleted, got %d deletes", queue.deletes())
	}
}

func TestWorkerDropsMalformedPayload(t *testing.T) {
	queue := &countingQueue{MemoryQueue: NewMemoryQueue(8)}
	handler := &recordingHandler{}
	worker := NewWorker(handler, queue, quiet(), WithWorkerCount(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	if err := queue.Send(ctx, outgoing{Body: "{not json"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(func() bool { return queue.deletes() == 1 }, time.Second, t)

	cancel()
	worker.Wait()

	if m, s := handler.counts(); m != 0 || s != 0 {
		t.Fatalf("malformed job must not reach the handler")
	}
}

func TestWorkerConfigOptions(t *testing.T) {
	w := NewWorker(&recordingHandler{}, NewMemoryQueue(1), nil,
		WithWorkerCount(3), WithReceiveWaitSeconds(60), WithReceiveBatchSize(50))
	if w.cfg.workers != 3 || w.cfg.receiveWaitSecs != maxWaitSeconds || w.cfg.receiveBatchSize != maxReceiveBatchSize {
		t.Fatalf("unexpected config %+v", w.cfg)
	}
}

type fakeSQS struct {
	sent []*sqs.SendMessageInput
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{Messages: []types.Message{{
		MessageId:     aws.String("m-1"),
		Body:          aws.String(`{"id":"j"}`),
		ReceiptHandle: aws.String("rh-1"),
	}}}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, _ *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueueGroupsByCustomerOnFIFO(t *testing.T) {
	ctx := context.Background()
	api := &fakeSQS{}
	pub := NewPublisher(NewSQSQueue(api, "https://sqs.local/ingest.fifo", true), quiet())

	if err := pub.PublishMessage(ctx, Inbound{From: "5491100000009", ExternalID: "wamid.9", Kind: KindText}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	in := api.sent[0]
	if aws.ToString(in.MessageGroupId) != "5491100000009" || aws.ToString(in.MessageDeduplicationId) != "wamid.9" {
		t.Fatalf("unexpected FIFO keys group=%q dedupe=%q", aws.ToString(in.MessageGroupId), aws.ToString(in.MessageDeduplicationId))
	}

	plain := &fakeSQS{}
	_ = NewPublisher(NewSQSQueue(plain, "https://sqs.local/ingest", false), quiet()).
		PublishMessage(ctx, Inbound{From: "5491100000009", ExternalID: "wamid.10", Kind: KindText})
	if plain.sent[0].MessageGroupId != nil || plain.sent[0].MessageDeduplicationId != nil {
		t.Fatalf("standard queues must not carry FIFO keys")
	}

	msgs, err := NewSQSQueue(api, "https://sqs.local/ingest.fifo", true).Receive(ctx, 1, 0)
	if err != nil || len(msgs) != 1 || msgs[0].ReceiptHandle != "rh-1" {
		t.Fatalf("unexpected receive %+v err=%v", msgs, err)
	}
}
