package conversation

import (
	"strings"
	"testing"
	"time"
)

func TestDecodeContextDefaults(t *testing.T) {
	for _, raw := range []string{"", "null", "not json", "[1,2]", `"text"`} {
		c := DecodeContext([]byte(raw))
		if c.Version != ContextVersion {
			t.Fatalf("%q: expected version %d, got %d", raw, ContextVersion, c.Version)
		}
		if !c.IsFirstTouch() {
			t.Fatalf("%q: expected first touch on empty context", raw)
		}
		if len(c.ResultIDs()) != 0 || c.QueryForMore() != "" {
			t.Fatalf("%q: expected empty memory, got %+v", raw, c)
		}
	}
}

func TestDecodeContextKeepsValidFieldsOfPartialDocument(t *testing.T) {
	raw := `{
		"welcomedAt": "2025-03-01T10:00:00Z",
		"lastResults": ["a", 3, "b"],
		"lastQuery": 42,
		"bot": {
			"short": {"lastQuery": "silla gamer", "clarifyLoops": 99, "moreCount": "x", "wantsInstallments": true},
			"long": "broken",
			"frustration": {"score": 42, "lastTag": "CAPS"},
			"handoffAckTs": 1740823200000
		}
	}`
	c := DecodeContext([]byte(raw))
	if c.WelcomedAt == nil || c.WelcomedAt.Year() != 2025 {
		t.Fatalf("expected welcomedAt to survive, got %v", c.WelcomedAt)
	}
	if got := strings.Join(c.LastResults, ","); got != "a,b" {
		t.Fatalf("expected non-string ids dropped, got %q", got)
	}
	if c.LastQuery != "" {
		t.Fatalf("expected mistyped lastQuery dropped, got %q", c.LastQuery)
	}
	if c.Bot.Short.LastQuery != "silla gamer" {
		t.Fatalf("expected short query kept, got %q", c.Bot.Short.LastQuery)
	}
	if c.Bot.Short.ClarifyLoops != MaxClarifyLoops {
		t.Fatalf("expected clarify loops clamped, got %d", c.Bot.Short.ClarifyLoops)
	}
	if c.Bot.Frustration.Score != MaxFrustration {
		t.Fatalf("expected frustration clamped, got %v", c.Bot.Frustration.Score)
	}
	if c.Bot.HandoffAckAt == nil || c.Bot.HandoffAckAt.UnixMilli() != 1740823200000 {
		t.Fatalf("expected millisecond handoff ack, got %v", c.Bot.HandoffAckAt)
	}
	if !c.WantsInstallments() {
		t.Fatalf("expected installments interest")
	}
}

func TestContextEncodeRoundTrip(t *testing.T) {
	now := time.Date(2025, 5, 2, 15, 4, 5, 0, time.UTC)
	c := NewContext()
	c.WelcomedAt = &now
	c.RecordResults("ps5", []string{"p1", "p2"}, now)
	c.RememberQuery("ps5")
	c.Bot.Long.Merge(LongMemory{Name: "Juan", BudgetARS: 500000})
	c.Bot.HandoffAckAt = &now

	raw, err := c.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got := DecodeContext(raw)
	if got.QueryForMore() != "ps5" || len(got.ResultIDs()) != 2 {
		t.Fatalf("unexpected decoded memory %+v", got)
	}
	if got.Bot.Long.Name != "Juan" || got.Bot.Long.BudgetARS != 500000 {
		t.Fatalf("unexpected long memory %+v", got.Bot.Long)
	}
	if got.Bot.HandoffAckAt == nil || !got.Bot.HandoffAckAt.Equal(now) {
		t.Fatalf("expected handoff ack %v, got %v", now, got.Bot.HandoffAckAt)
	}
}

func TestPushRecentKeepsTenTruncated(t *testing.T) {
	c := NewContext()
	now := time.Now()
	for i := 0; i < 15; i++ {
		c.PushRecent(strings.Repeat("ñ", 300), now)
	}
	if len(c.Bot.Short.Recent) != 10 {
		t.Fatalf("expected 10 recent messages, got %d", len(c.Bot.Short.Recent))
	}
	if n := len([]rune(c.Bot.Short.Recent[0].Text)); n != 280 {
		t.Fatalf("expected 280 runes, got %d", n)
	}
	if got := c.RecentTexts(6); len(got) != 6 {
		t.Fatalf("expected 6 recent texts, got %d", len(got))
	}
}

func TestQueryForMorePrecedence(t *testing.T) {
	c := NewContext()
	c.LastResultsQuery = "notebook"
	if c.QueryForMore() != "notebook" {
		t.Fatalf("expected results query fallback")
	}
	c.LastQuery = "monitor"
	if c.QueryForMore() != "monitor" {
		t.Fatalf("expected durable last query")
	}
	c.Bot.Short.LastQuery = "mouse"
	if c.QueryForMore() != "mouse" {
		t.Fatalf("expected short term query first")
	}
}

func TestResultIDsFallsBackToShortMemory(t *testing.T) {
	c := NewContext()
	c.Bot.Short.LastResults = []string{"x"}
	if ids := c.ResultIDs(); len(ids) != 1 || ids[0] != "x" {
		t.Fatalf("expected short memory ids, got %v", ids)
	}
}

func TestIncrementClarifyIsBounded(t *testing.T) {
	c := NewContext()
	for i := 0; i < 50; i++ {
		c.IncrementClarify()
	}
	if c.Bot.Short.ClarifyLoops != MaxClarifyLoops {
		t.Fatalf("expected clamp at %d, got %d", MaxClarifyLoops, c.Bot.Short.ClarifyLoops)
	}
	c.ResetClarify()
	if c.Bot.Short.ClarifyLoops != 0 {
		t.Fatalf("expected reset")
	}
}

func TestLongMemoryMergeKeepsExisting(t *testing.T) {
	m := LongMemory{Name: "Ana", Zone: "Palermo"}
	m.Merge(LongMemory{Zone: "Caballito", FinancingHint: "Cuotas"})
	if m.Name != "Ana" || m.Zone != "Caballito" || m.FinancingHint != "Cuotas" {
		t.Fatalf("unexpected merge result %+v", m)
	}
}
