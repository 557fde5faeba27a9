package conversation

import (
	"encoding/json"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// ContextVersion is written into every encoded context document.
const ContextVersion = 1

const (
	maxRecentMessages = 10
	maxRecentRunes    = 280
	// MaxClarifyLoops bounds the clarify counter under message floods.
	MaxClarifyLoops = 10
	// MaxFrustration is the ceiling of the persisted frustration score.
	MaxFrustration = 10.0
)

// Context is the per-conversation memory document. It is owned by the
// conversation row and rewritten whole on every turn.
type Context struct {
	Version          int        `json:"version"`
	WelcomedAt       *time.Time `json:"welcomedAt,omitempty"`
	LastQuery        string     `json:"lastQuery,omitempty"`
	LastResults      []string   `json:"lastResults,omitempty"`
	LastResultsQuery string     `json:"lastResultsQuery,omitempty"`
	LastResultsAt    *time.Time `json:"lastResultsAt,omitempty"`
	Bot              BotMemory  `json:"bot"`
}

// BotMemory groups the bot's short and long term memory plus its anti-spam
// guards.
type BotMemory struct {
	Short              ShortMemory `json:"short"`
	Long               LongMemory  `json:"long"`
	Frustration        Frustration `json:"frustration"`
	HandoffAckAt       *time.Time  `json:"handoffAckTs,omitempty"`
	HandoffRequestedAt *time.Time  `json:"handoffRequestedAt,omitempty"`
	LastResumePromptAt *time.Time  `json:"lastResumePromptAt,omitempty"`
}

type ShortMemory struct {
	LastQuery         string          `json:"lastQuery,omitempty"`
	LastIntent        string          `json:"lastIntent,omitempty"`
	LastResults       []string        `json:"lastResults,omitempty"`
	LastResultsQuery  string          `json:"lastResultsQuery,omitempty"`
	LastResultsAt     *time.Time      `json:"lastResultsAt,omitempty"`
	Recent            []RecentMessage `json:"recentCustomer,omitempty"`
	ClarifyLoops      int             `json:"clarifyLoops,omitempty"`
	MoreCount         int             `json:"moreCount,omitempty"`
	WantsInstallments bool            `json:"wantsInstallments,omitempty"`
	LastSoftCloseAt   *time.Time      `json:"lastSoftCloseAt,omitempty"`
}

// RecentMessage is one entry of the rolling customer message buffer.
type RecentMessage struct {
	Text string    `json:"t"`
	At   time.Time `json:"ts"`
}

// LongMemory holds profile hints. Fields are merged, never cleared.
type LongMemory struct {
	Name            string `json:"name,omitempty"`
	Zone            string `json:"zone,omitempty"`
	BudgetARS       int64  `json:"budgetArs,omitempty"`
	ProductInterest string `json:"productInterest,omitempty"`
	FinancingHint   string `json:"financingHint,omitempty"`
}

type Frustration struct {
	Score   float64    `json:"score"`
	LastAt  *time.Time `json:"lastAt,omitempty"`
	LastTag string     `json:"lastTag,omitempty"`
}

// NewContext returns an empty document at the current version.
func NewContext() Context {
	return Context{Version: ContextVersion}
}

// DecodeContext reads a stored context document. It never fails: empty or
// malformed input yields an empty document, and fields with an unexpected
// shape are dropped individually while the rest is kept.
func DecodeContext(raw []byte) Context {
	c := NewContext()
	if len(raw) == 0 {
		return c
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return c
	}
	r := docReader(doc)
	c.WelcomedAt = r.time("welcomedAt")
	c.LastQuery = r.str("lastQuery")
	c.LastResults = r.strings("lastResults")
	c.LastResultsQuery = r.str("lastResultsQuery")
	c.LastResultsAt = r.time("lastResultsAt")

	bot := r.obj("bot")
	short := bot.obj("short")
	c.Bot.Short = ShortMemory{
		LastQuery:         short.str("lastQuery"),
		LastIntent:        short.str("lastIntent"),
		LastResults:       short.strings("lastResults"),
		LastResultsQuery:  short.str("lastResultsQuery"),
		LastResultsAt:     short.time("lastResultsAt"),
		Recent:            short.recent("recentCustomer"),
		ClarifyLoops:      clampInt(int(short.num("clarifyLoops")), 0, MaxClarifyLoops),
		MoreCount:         max(0, int(short.num("moreCount"))),
		WantsInstallments: short.boolean("wantsInstallments"),
		LastSoftCloseAt:   short.time("lastSoftCloseAt"),
	}
	long := bot.obj("long")
	c.Bot.Long = LongMemory{
		Name:            long.str("name"),
		Zone:            long.str("zone"),
		BudgetARS:       int64(math.Max(0, long.num("budgetArs"))),
		ProductInterest: long.str("productInterest"),
		FinancingHint:   long.str("financingHint"),
	}
	fr := bot.obj("frustration")
	c.Bot.Frustration = Frustration{
		Score:   math.Min(MaxFrustration, math.Max(0, fr.num("score"))),
		LastAt:  fr.time("lastAt"),
		LastTag: fr.str("lastTag"),
	}
	c.Bot.HandoffAckAt = bot.time("handoffAckTs")
	c.Bot.HandoffRequestedAt = bot.time("handoffRequestedAt")
	c.Bot.LastResumePromptAt = bot.time("lastResumePromptAt")
	return c
}

// Encode serializes the document for storage.
func (c Context) Encode() ([]byte, error) {
	c.Version = ContextVersion
	return json.Marshal(c)
}

// IsFirstTouch reports whether the customer has not been welcomed yet.
func (c *Context) IsFirstTouch() bool {
	return c.WelcomedAt == nil
}

// PushRecent appends a customer message to the rolling buffer.
func (c *Context) PushRecent(text string, now time.Time) {
	c.Bot.Short.Recent = append(c.Bot.Short.Recent, RecentMessage{Text: truncateRunes(text, maxRecentRunes), At: now.UTC()})
	if n := len(c.Bot.Short.Recent); n > maxRecentMessages {
		c.Bot.Short.Recent = append([]RecentMessage(nil), c.Bot.Short.Recent[n-maxRecentMessages:]...)
	}
}

// RecentTexts returns up to n of the most recent customer messages.
func (c *Context) RecentTexts(n int) []string {
	recent := c.Bot.Short.Recent
	if n > 0 && len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	out := make([]string, 0, len(recent))
	for _, m := range recent {
		out = append(out, m.Text)
	}
	return out
}

// WantsInstallments reports an expressed interest in paying in installments.
func (c *Context) WantsInstallments() bool {
	return c.Bot.Short.WantsInstallments || c.Bot.Long.FinancingHint != ""
}

// ResultIDs returns the item ids of the last result list shown.
func (c *Context) ResultIDs() []string {
	if len(c.LastResults) > 0 {
		return c.LastResults
	}
	return c.Bot.Short.LastResults
}

// QueryForMore returns the query a "more" request should paginate.
func (c *Context) QueryForMore() string {
	for _, q := range []string{c.Bot.Short.LastQuery, c.LastQuery, c.Bot.Short.LastResultsQuery, c.LastResultsQuery} {
		if strings.TrimSpace(q) != "" {
			return q
		}
	}
	return ""
}

// RecordResults stores a result list in both the durable and the short term
// memory.
func (c *Context) RecordResults(query string, ids []string, now time.Time) {
	at := now.UTC()
	c.LastResults = append([]string{}, ids...)
	c.LastResultsQuery = query
	c.LastResultsAt = &at
	c.Bot.Short.LastResults = append([]string{}, ids...)
	c.Bot.Short.LastResultsQuery = query
	c.Bot.Short.LastResultsAt = &at
}

// RememberQuery stores the last explicit query.
func (c *Context) RememberQuery(query string) {
	c.LastQuery = query
	c.Bot.Short.LastQuery = query
}

// IncrementClarify bumps the clarify counter and returns the new value.
func (c *Context) IncrementClarify() int {
	c.Bot.Short.ClarifyLoops = clampInt(c.Bot.Short.ClarifyLoops+1, 0, MaxClarifyLoops)
	return c.Bot.Short.ClarifyLoops
}

// ResetClarify clears the clarify counter after a productive turn.
func (c *Context) ResetClarify() {
	c.Bot.Short.ClarifyLoops = 0
}

// Merge copies the non-empty fields of hints over m.
func (m *LongMemory) Merge(hints LongMemory) {
	if hints.Name != "" {
		m.Name = hints.Name
	}
	if hints.Zone != "" {
		m.Zone = hints.Zone
	}
	if hints.BudgetARS > 0 {
		m.BudgetARS = hints.BudgetARS
	}
	if hints.ProductInterest != "" {
		m.ProductInterest = hints.ProductInterest
	}
	if hints.FinancingHint != "" {
		m.FinancingHint = hints.FinancingHint
	}
}

// docReader reads loosely typed JSON values, returning zero values for
// missing or mistyped keys.
type docReader map[string]any

func (r docReader) obj(key string) docReader {
	if v, ok := r[key].(map[string]any); ok {
		return docReader(v)
	}
	return docReader{}
}

func (r docReader) str(key string) string {
	if v, ok := r[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func (r docReader) num(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return v
	case string:
		var f float64
		if err := json.Unmarshal([]byte(v), &f); err == nil {
			return f
		}
	}
	return 0
}

func (r docReader) boolean(key string) bool {
	v, _ := r[key].(bool)
	return v
}

func (r docReader) strings(key string) []string {
	items, ok := r[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// time accepts RFC 3339 strings and unix milliseconds.
func (r docReader) time(key string) *time.Time {
	switch v := r[key].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v)); err == nil {
			return timePtr(t.UTC())
		}
	case float64:
		if v > 0 && !math.IsInf(v, 0) {
			return timePtr(time.UnixMilli(int64(v)).UTC())
		}
	}
	return nil
}

func (r docReader) recent(key string) []RecentMessage {
	items, ok := r[key].([]any)
	if !ok {
		return nil
	}
	out := make([]RecentMessage, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		er := docReader(entry)
		msg := RecentMessage{Text: er.str("t")}
		if at := er.time("ts"); at != nil {
			msg.At = *at
		}
		out = append(out, msg)
	}
	if len(out) > maxRecentMessages {
		out = out[len(out)-maxRecentMessages:]
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
