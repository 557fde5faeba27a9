package conversation

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a conversation, agent or message does not exist.
	ErrNotFound = errors.New("conversation: not found")
	// ErrDuplicateMessage is returned when a message with the same external id
	// was already stored.
	ErrDuplicateMessage = errors.New("conversation: duplicate external message id")
)

// Patch describes a partial update of a conversation row. Nil fields are left
// untouched.
type Patch struct {
	State                 *State
	LeadStatus            *LeadStatus
	IntentScore           *int
	AssignedAgentID       *string
	ClearAssignment       bool
	BotPausedUntil        *time.Time
	ClearPause            bool
	LastCustomerMessageAt *time.Time
	LastHumanMessageAt    *time.Time
	LastBotMessageAt      *time.Time
	Context               *Context
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.State == nil && p.LeadStatus == nil && p.IntentScore == nil &&
		p.AssignedAgentID == nil && !p.ClearAssignment &&
		p.BotPausedUntil == nil && !p.ClearPause &&
		p.LastCustomerMessageAt == nil && p.LastHumanMessageAt == nil && p.LastBotMessageAt == nil &&
		p.Context == nil
}

func (p Patch) apply(c *Conversation) {
	if p.State != nil {
		c.State = *p.State
	}
	if p.LeadStatus != nil {
		c.LeadStatus = *p.LeadStatus
	}
	if p.IntentScore != nil {
		c.IntentScore = max(0, *p.IntentScore)
	}
	if p.ClearAssignment {
		c.AssignedAgentID = nil
	}
	if p.AssignedAgentID != nil {
		c.AssignedAgentID = stringPtr(*p.AssignedAgentID)
	}
	if p.ClearPause {
		c.BotPausedUntil = nil
	}
	if p.BotPausedUntil != nil {
		c.BotPausedUntil = timePtr(*p.BotPausedUntil)
	}
	if p.LastCustomerMessageAt != nil {
		c.LastCustomerMessageAt = timePtr(*p.LastCustomerMessageAt)
	}
	if p.LastHumanMessageAt != nil {
		c.LastHumanMessageAt = timePtr(*p.LastHumanMessageAt)
	}
	if p.LastBotMessageAt != nil {
		c.LastBotMessageAt = timePtr(*p.LastBotMessageAt)
	}
	if p.Context != nil {
		c.Context = *p.Context
	}
}

// ListFilter narrows the admin conversation listing.
type ListFilter struct {
	Query      string
	State      State
	LeadStatus LeadStatus
	AssignedTo string
	Limit      int
}

// Summary aggregates conversation metrics over a time window.
type Summary struct {
	Since                   time.Time          `json:"since"`
	TotalConversations      int                `json:"total_conversations"`
	OpenTakeovers           int                `json:"open_takeovers"`
	ByLeadStatus            map[LeadStatus]int `json:"by_lead_status"`
	ByState                 map[State]int      `json:"by_state"`
	AvgFirstResponseSeconds float64            `json:"avg_first_response_sec"`
}

// JobFunc runs while a job lock is held. The store it receives is bound to the
// lock's transaction.
type JobFunc func(ctx context.Context, tx Store) error

// Store is the persistence surface the engine, handoff policy, reconciler and
// ingestion path depend on.
type Store interface {
	// UpsertByIdentity returns the conversation for identity, creating it in
	// BOT_ON when absent.
	UpsertByIdentity(ctx context.Context, identity string) (*Conversation, error)
	Get(ctx context.Context, id string) (*Conversation, error)
	FindByIdentity(ctx context.Context, identity string) (*Conversation, error)
	Update(ctx context.Context, id string, patch Patch) error

	// InsertMessage appends a message. ErrDuplicateMessage signals an
	// external id that was already stored.
	InsertMessage(ctx context.Context, msg *Message) error
	MessageExists(ctx context.Context, externalID string) (bool, error)
	AppendEvent(ctx context.Context, conversationID, kind string, payload map[string]any) error

	ListSellersOnline(ctx context.Context) ([]*Agent, error)
	// CountTakeovers counts conversations assigned to agentID that are in
	// HUMAN_TAKEOVER.
	CountTakeovers(ctx context.Context, agentID string) (int, error)
	// Assign sets the assignee only when the conversation is unassigned. The
	// lead status is applied unless the current one is sticky.
	Assign(ctx context.Context, conversationID, agentID string, lead LeadStatus) (bool, error)

	ListTakeovers(ctx context.Context) ([]*Conversation, error)
	// ReturnToBot moves a HUMAN_TAKEOVER conversation back to BOT_ON and
	// clears its assignee. Conversations already in BOT_ON are left alone.
	ReturnToBot(ctx context.Context, conversationID string, lead *LeadStatus) (bool, error)
	// WithJobLock runs fn only if the named lock is free. The lock lives for
	// one transaction and is released when fn returns.
	WithJobLock(ctx context.Context, key string, fn JobFunc) (bool, error)
}

// AdminStore adds the operations used by the agent panel.
type AdminStore interface {
	Store
	List(ctx context.Context, filter ListFilter) ([]*Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	AddNote(ctx context.Context, note *Note) error
	ListNotes(ctx context.Context, conversationID string, limit int) ([]*Note, error)
	UpsertAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	SetAgentOnline(ctx context.Context, id string, online bool) error
	Summary(ctx context.Context, since time.Time) (*Summary, error)
}
