package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wolfman30/retail-chat-bot/internal/bot"
	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/internal/realtime"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

var t0 = time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)

func quiet() *logging.Logger {
	return logging.NewWithWriter("error", io.Discard)
}

// timeline records emits and turns in call order.
type timeline struct {
	mu      sync.Mutex
	entries []string
}

func (tl *timeline) add(s string) {
	tl.mu.Lock()
	tl.entries = append(tl.entries, s)
	tl.mu.Unlock()
}

func (tl *timeline) all() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]string(nil), tl.entries...)
}

type recordingEmitter struct{ tl *timeline }

func (e recordingEmitter) Emit(_ context.Context, event string, _ any) { e.tl.add(event) }

type turnCall struct {
	conv     conversation.Conversation
	text     string
	actionID string
}

type fakeEngine struct {
	tl    *timeline
	mu    sync.Mutex
	calls []turnCall
	err   error
	hold  time.Duration

	active    int32
	maxActive int32
}

func (e *fakeEngine) HandleIncoming(_ context.Context, conv *conversation.Conversation, text, actionID string) (bot.Result, error) {
	n := atomic.AddInt32(&e.active, 1)
	for {
		cur := atomic.LoadInt32(&e.maxActive)
		if n <= cur || atomic.CompareAndSwapInt32(&e.maxActive, cur, n) {
			break
		}
	}
	if e.hold > 0 {
		time.Sleep(e.hold)
	}
	atomic.AddInt32(&e.active, -1)

	if e.tl != nil {
		e.tl.add("turn")
	}
	e.mu.Lock()
	e.calls = append(e.calls, turnCall{conv: *conv, text: text, actionID: actionID})
	e.mu.Unlock()
	if e.err != nil {
		return bot.Result{}, e.err
	}
	return bot.Result{Replied: true, Stage: bot.StageSearch, Intent: bot.IntentSearch}, nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func newTestIngestor(engine *fakeEngine, tl *timeline) (*Ingestor, *conversation.MemoryStore) {
	store := conversation.NewMemoryStore().WithClock(func() time.Time { return t0 })
	ing := NewIngestor(store, engine, quiet()).
		WithClock(func() time.Time { return t0 }).
		WithEmitter(recordingEmitter{tl: tl})
	return ing, store
}

func TestIngestPersistsBeforeTheTurn(t *testing.T) {
	tl := &timeline{}
	engine := &fakeEngine{tl: tl}
	ing, store := newTestIngestor(engine, tl)
	ctx := context.Background()

	out, err := ing.Ingest(ctx, Inbound{From: "5491100000001", ExternalID: "wamid.1", Text: "busco zapatillas", Kind: KindText})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if out.Duplicate || out.ConversationID == "" || out.Turn.Stage != bot.StageSearch {
		t.Fatalf("unexpected outcome %+v", out)
	}

	msgs, err := store.ListMessages(ctx, out.ConversationID, 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one stored message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Direction != conversation.DirectionIn || m.Sender != conversation.SenderCustomer || m.Type != conversation.MessageText {
		t.Fatalf("unexpected message %+v", m)
	}
	if m.Text == nil || *m.Text != "busco zapatillas" || m.ExternalID == nil || *m.ExternalID != "wamid.1" {
		t.Fatalf("unexpected message body %+v", m)
	}

	if engine.callCount() != 1 {
		t.Fatalf("expected one turn, got %d", engine.callCount())
	}
	seen := engine.calls[0].conv
	if seen.LastCustomerMessageAt == nil || !seen.LastCustomerMessageAt.Equal(t0) {
		t.Fatalf("engine should see the stamped row, got %+v", seen.LastCustomerMessageAt)
	}
	if seen.State != conversation.StateBotOn {
		t.Fatalf("expected new conversation in BOT_ON, got %s", seen.State)
	}

	got := tl.all()
	want := []string{realtime.EventMessageNew, "turn", realtime.EventConversationUpdated}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	ing, store := newTestIngestor(engine, &timeline{})
	ctx := context.Background()
	in := Inbound{From: "5491100000002", ExternalID: "wamid.dup", Text: "hola", Kind: KindText}

	first, err := ing.Ingest(ctx, in)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := ing.Ingest(ctx, in)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if first.Duplicate || !second.Duplicate {
		t.Fatalf("expected only the redelivery flagged, got %+v / %+v", first, second)
	}
	if engine.callCount() != 1 {
		t.Fatalf("expected one turn, got %d", engine.callCount())
	}
	msgs, _ := store.ListMessages(ctx, first.ConversationID, 10)
	if len(msgs) != 1 {
		t.Fatalf("expected one stored message, got %d", len(msgs))
	}
}

func TestIngestInteractiveAndMedia(t *testing.T) {
	engine := &fakeEngine{}
	ing, store := newTestIngestor(engine, &timeline{})
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, Inbound{From: "5491100000003", ExternalID: "wamid.b", Text: "Ver cuotas", ActionID: "INSTALLMENTS", Kind: KindInteractive}); err != nil {
		t.Fatalf("ingest button: %v", err)
	}
	out, err := ing.Ingest(ctx, Inbound{From: "5491100000003", ExternalID: "wamid.img", Kind: KindImage, RawType: "image"})
	if err != nil {
		t.Fatalf("ingest image: %v", err)
	}

	if engine.calls[0].actionID != "INSTALLMENTS" || engine.calls[0].text != "Ver cuotas" {
		t.Fatalf("unexpected button turn %+v", engine.calls[0])
	}
	if engine.calls[1].text != "" {
		t.Fatalf("media should reach the engine without text, got %q", engine.calls[1].text)
	}

	msgs, _ := store.ListMessages(ctx, out.ConversationID, 10)
	var image *conversation.Message
	for _, m := range msgs {
		if m.ExternalID != nil && *m.ExternalID == "wamid.img" {
			image = m
		}
	}
	if image == nil || image.Type != conversation.MessageImage || *image.Text != "[image]" {
		t.Fatalf("unexpected media message %+v", image)
	}
}

func TestIngestSwallowsTurnFailure(t *testing.T) {
	tl := &timeline{}
	engine := &fakeEngine{tl: tl, err: errors.New("catalog down")}
	ing, _ := newTestIngestor(engine, tl)

	out, err := ing.Ingest(context.Background(), Inbound{From: "5491100000004", ExternalID: "wamid.x", Text: "hola", Kind: KindText})
	if err != nil {
		t.Fatalf("expected turn failure to be logged only, got %v", err)
	}
	if out.ConversationID == "" {
		t.Fatalf("expected conversation id on failed turn")
	}
	if got := tl.all(); got[len(got)-1] != realtime.EventConversationUpdated {
		t.Fatalf("expected update notification after failed turn, got %v", got)
	}
}

func TestIngestSerializesPerCustomer(t *testing.T) {
	engine := &fakeEngine{hold: 5 * time.Millisecond}
	ing, _ := newTestIngestor(engine, &timeline{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := Inbound{From: "5491100000005", ExternalID: "wamid.c" + string(rune('a'+i)), Text: "hola", Kind: KindText}
			if _, err := ing.Ingest(context.Background(), in); err != nil {
				t.Errorf("ingest: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if engine.callCount() != 8 {
		t.Fatalf("expected 8 turns, got %d", engine.callCount())
	}
	if peak := atomic.LoadInt32(&engine.maxActive); peak != 1 {
		t.Fatalf("expected turns for one customer to run one at a time, saw %d", peak)
	}
	if ing.locks.size() != 0 {
		t.Fatalf("expected lock entries released, got %d", ing.locks.size())
	}
}

func TestIngestRequiresSender(t *testing.T) {
	ing, _ := newTestIngestor(&fakeEngine{}, &timeline{})
	if _, err := ing.Ingest(context.Background(), Inbound{Text: "hola"}); err == nil {
		t.Fatalf("expected error without sender")
	}
}

func TestIngestStatus(t *testing.T) {
	ing, store := newTestIngestor(&fakeEngine{}, &timeline{})
	ctx := context.Background()
	conv, _ := store.UpsertByIdentity(ctx, "5491100000006")

	if err := ing.IngestStatus(ctx, Status{ExternalID: "wamid.out", Status: "read", RecipientID: "5491100000006", Timestamp: t0}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := ing.IngestStatus(ctx, Status{ExternalID: "wamid.other", Status: "sent", RecipientID: "5491199999999"}); err != nil {
		t.Fatalf("status for unknown recipient: %v", err)
	}

	events := store.Events(conv.ID)
	if len(events) != 1 || events[0].Kind != conversation.EventChannelStatus {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[0].Payload["status"] != "read" || events[0].Payload["externalId"] != "wamid.out" {
		t.Fatalf("unexpected payload %+v", events[0].Payload)
	}
}

func TestNewIngestorPanicsWithoutEngine(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewIngestor(conversation.NewMemoryStore(), nil, nil)
}
