package conversation

import "time"

// State says who is responsible for replying to the customer.
type State string

const (
	StateBotOn         State = "BOT_ON"
	StateHumanTakeover State = "HUMAN_TAKEOVER"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s == StateBotOn || s == StateHumanTakeover
}

// LeadStatus is the sales-funnel temperature of a conversation.
type LeadStatus string

const (
	LeadNew        LeadStatus = "NEW"
	LeadCold       LeadStatus = "COLD"
	LeadWarm       LeadStatus = "WARM"
	LeadHotWaiting LeadStatus = "HOT_WAITING"
	LeadHot        LeadStatus = "HOT"
	LeadHuman      LeadStatus = "HUMAN"
	LeadHotLost    LeadStatus = "HOT_LOST"
	LeadClosedWon  LeadStatus = "CLOSED_WON"
	LeadClosedLost LeadStatus = "CLOSED_LOST"
)

// AllLeadStatuses lists every lead status in funnel order.
var AllLeadStatuses = []LeadStatus{
	LeadNew, LeadCold, LeadWarm, LeadHotWaiting, LeadHot, LeadHuman, LeadHotLost, LeadClosedWon, LeadClosedLost,
}

// Sticky reports whether ordinary scoring updates must leave the status alone.
func (s LeadStatus) Sticky() bool {
	return s == LeadClosedWon || s == LeadClosedLost || s == LeadHuman
}

// Valid reports whether s is a known lead status.
func (s LeadStatus) Valid() bool {
	for _, known := range AllLeadStatuses {
		if s == known {
			return true
		}
	}
	return false
}

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

type Sender string

const (
	SenderCustomer Sender = "CUSTOMER"
	SenderBot      Sender = "BOT"
	SenderHuman    Sender = "HUMAN"
	SenderSystem   Sender = "SYSTEM"
)

type MessageType string

const (
	MessageText   MessageType = "TEXT"
	MessageImage  MessageType = "IMAGE"
	MessageAudio  MessageType = "AUDIO"
	MessageSystem MessageType = "SYSTEM"
)

// AgentRole distinguishes panel administrators from sellers who take chats.
type AgentRole string

const (
	RoleAdmin  AgentRole = "ADMIN"
	RoleSeller AgentRole = "SELLER"
)

// Conversation is the per-customer record. One row per channel identity.
type Conversation struct {
	ID                    string     `json:"id"`
	Identity              string     `json:"identity"`
	State                 State      `json:"state"`
	LeadStatus            LeadStatus `json:"lead_status"`
	IntentScore           int        `json:"intent_score"`
	AssignedAgentID       *string    `json:"assigned_agent_id,omitempty"`
	BotPausedUntil        *time.Time `json:"bot_paused_until,omitempty"`
	LastCustomerMessageAt *time.Time `json:"last_customer_message_at,omitempty"`
	LastHumanMessageAt    *time.Time `json:"last_human_message_at,omitempty"`
	LastBotMessageAt      *time.Time `json:"last_bot_message_at,omitempty"`
	Context               Context    `json:"context"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Paused reports whether the bot must stay silent at now.
func (c *Conversation) Paused(now time.Time) bool {
	return c != nil && c.BotPausedUntil != nil && c.BotPausedUntil.After(now)
}

// Message is an immutable inbound or outbound unit.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Direction      Direction   `json:"direction"`
	Sender         Sender      `json:"sender"`
	Type           MessageType `json:"type"`
	Text           *string     `json:"text,omitempty"`
	ExternalID     *string     `json:"external_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Event is an append-only audit record of a decision taken on a conversation.
type Event struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Kind           string         `json:"kind"`
	Payload        map[string]any `json:"payload,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Agent is a panel user. Sellers receive handoffs.
type Agent struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Email  string    `json:"email"`
	Role   AgentRole `json:"role"`
	Active bool      `json:"active"`
	Online bool      `json:"online"`
}

// Note is an internal remark left by an agent on a conversation.
type Note struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	AgentID        string    `json:"agent_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// Button is a quick-reply option attached to an interactive message.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Event kinds written by the engine, the handoff policy, the reconciler and
// the admin surface.
const (
	EventBotResumed             = "BOT_RESUMED"
	EventBotResumePrompt        = "BOT_RESUME_PROMPT"
	EventBotOptOut              = "BOT_OPT_OUT"
	EventHandoffRequested       = "HANDOFF_REQUESTED"
	EventClarifyEscalate        = "CLARIFY_ESCALATE"
	EventAssignedSeller         = "ASSIGNED_SELLER"
	EventNoSellersOnline        = "NO_SELLERS_ONLINE"
	EventAutoReturnInactivity   = "AUTO_RETURN_TO_BOT_INACTIVITY"
	EventAutoRetakeUnclaimed    = "AUTO_RETAKE_UNCLAIMED_HOT_LEAD"
	EventManualTakeover         = "MANUAL_TAKEOVER"
	EventManualReturnToBot      = "MANUAL_RETURN_TO_BOT"
	EventManualPause            = "MANUAL_BOT_PAUSE"
	EventManualUnpause          = "MANUAL_BOT_UNPAUSE"
	EventHumanSentMessage       = "HUMAN_SENT_MESSAGE"
	EventChannelStatus          = "WA_STATUS"
	EventFollowupHotLostSent    = "JOB_SENT_HOT_LOST_REMINDER"
	EventFollowupAfterHoursSent = "JOB_SENT_AFTER_HOURS"
)

func stringPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
