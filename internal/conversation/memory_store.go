package conversation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process AdminStore used for local development and
// tests. Returned values are copies; mutating them does not affect the store.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	byIdentity    map[string]string
	messages      []*Message
	externalIDs   map[string]struct{}
	events        []*Event
	agents        []*Agent
	notes         []*Note
	locks         map[string]bool
	now           func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		byIdentity:    make(map[string]string),
		externalIDs:   make(map[string]struct{}),
		locks:         make(map[string]bool),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used to stamp rows.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

var _ AdminStore = (*MemoryStore)(nil)

func (s *MemoryStore) UpsertByIdentity(_ context.Context, identity string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byIdentity[identity]; ok {
		return cloneConversation(s.conversations[id]), nil
	}
	now := s.now()
	c := &Conversation{
		ID:         uuid.NewString(),
		Identity:   identity,
		State:      StateBotOn,
		LeadStatus: LeadNew,
		Context:    NewContext(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.conversations[c.ID] = c
	s.byIdentity[identity] = c.ID
	return cloneConversation(c), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *MemoryStore) FindByIdentity(_ context.Context, identity string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIdentity[identity]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(s.conversations[id]), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if patch.Context != nil {
		cloned := cloneContext(*patch.Context)
		patch.Context = &cloned
	}
	patch.apply(c)
	c.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return ErrNotFound
	}
	if msg.ExternalID != nil && *msg.ExternalID != "" {
		if _, dup := s.externalIDs[*msg.ExternalID]; dup {
			return ErrDuplicateMessage
		}
		s.externalIDs[*msg.ExternalID] = struct{}{}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	stored := *msg
	s.messages = append(s.messages, &stored)
	return nil
}

func (s *MemoryStore) MessageExists(_ context.Context, externalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.externalIDs[externalID]
	return ok, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, conversationID, kind string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, &Event{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Kind:           kind,
		Payload:        payload,
		CreatedAt:      s.now(),
	})
	return nil
}

// Events returns the events recorded for a conversation in insertion order.
func (s *MemoryStore) Events(conversationID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.ConversationID == conversationID {
			out = append(out, *e)
		}
	}
	return out
}

func (s *MemoryStore) ListSellersOnline(_ context.Context) ([]*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Agent
	for _, a := range s.agents {
		if a.Role == RoleSeller && a.Active && a.Online {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) CountTakeovers(_ context.Context, agentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.conversations {
		if c.State == StateHumanTakeover && c.AssignedAgentID != nil && *c.AssignedAgentID == agentID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Assign(_ context.Context, conversationID, agentID string, lead LeadStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return false, ErrNotFound
	}
	if c.AssignedAgentID != nil {
		return false, nil
	}
	c.AssignedAgentID = stringPtr(agentID)
	if !c.LeadStatus.Sticky() {
		c.LeadStatus = lead
	}
	c.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) ListTakeovers(_ context.Context) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Conversation
	for _, c := range s.conversations {
		if c.State == StateHumanTakeover {
			out = append(out, cloneConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ReturnToBot(_ context.Context, conversationID string, lead *LeadStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return false, ErrNotFound
	}
	if c.State != StateHumanTakeover {
		return false, nil
	}
	c.State = StateBotOn
	c.AssignedAgentID = nil
	if lead != nil {
		c.LeadStatus = *lead
	}
	c.UpdatedAt = s.now()
	return true, nil
}

// WithJobLock emulates the advisory lock with a process-local flag.
func (s *MemoryStore) WithJobLock(ctx context.Context, key string, fn JobFunc) (bool, error) {
	s.mu.Lock()
	if s.locks[key] {
		s.mu.Unlock()
		return false, nil
	}
	s.locks[key] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.locks, key)
		s.mu.Unlock()
	}()
	return true, fn(ctx, s)
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(filter.Query))
	var out []*Conversation
	for _, c := range s.conversations {
		if filter.State != "" && c.State != filter.State {
			continue
		}
		if filter.LeadStatus != "" && c.LeadStatus != filter.LeadStatus {
			continue
		}
		if filter.AssignedTo != "" && (c.AssignedAgentID == nil || *c.AssignedAgentID != filter.AssignedTo) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(c.Identity), q) {
			continue
		}
		out = append(out, cloneConversation(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit := listLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			cp := *m
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AddNote(_ context.Context, note *Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[note.ConversationID]; !ok {
		return ErrNotFound
	}
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	note.CreatedAt = s.now()
	cp := *note
	s.notes = append(s.notes, &cp)
	return nil
}

func (s *MemoryStore) ListNotes(_ context.Context, conversationID string, limit int) ([]*Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Note
	for i := len(s.notes) - 1; i >= 0; i-- {
		if s.notes[i].ConversationID == conversationID {
			cp := *s.notes[i]
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpsertAgent inserts or replaces an agent, keeping registration order.
func (s *MemoryStore) UpsertAgent(_ context.Context, agent *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	cp := *agent
	for i, a := range s.agents {
		if a.ID == agent.ID {
			s.agents[i] = &cp
			return nil
		}
	}
	s.agents = append(s.agents, &cp)
	return nil
}

func (s *MemoryStore) GetAgent(_ context.Context, id string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.agents {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListAgents(_ context.Context) ([]*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SetAgentOnline(_ context.Context, id string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.ID == id {
			a.Online = online
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) Summary(_ context.Context, since time.Time) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := &Summary{
		Since:        since,
		ByLeadStatus: make(map[LeadStatus]int),
		ByState:      make(map[State]int),
	}
	firstIn := make(map[string]time.Time)
	firstOut := make(map[string]time.Time)
	for _, m := range s.messages {
		if m.CreatedAt.Before(since) {
			continue
		}
		target := firstIn
		if m.Direction == DirectionOut {
			target = firstOut
		}
		if at, ok := target[m.ConversationID]; !ok || m.CreatedAt.Before(at) {
			target[m.ConversationID] = m.CreatedAt
		}
	}
	for _, c := range s.conversations {
		if c.State == StateHumanTakeover {
			sum.OpenTakeovers++
		}
		if c.CreatedAt.Before(since) {
			continue
		}
		sum.TotalConversations++
		sum.ByLeadStatus[c.LeadStatus]++
		sum.ByState[c.State]++
	}
	var total float64
	var n int
	for id, in := range firstIn {
		out, ok := firstOut[id]
		if !ok || out.Before(in) {
			continue
		}
		if d := out.Sub(in); d <= 24*time.Hour {
			total += d.Seconds()
			n++
		}
	}
	if n > 0 {
		sum.AvgFirstResponseSeconds = total / float64(n)
	}
	return sum, nil
}

func listLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 200
	}
	return limit
}

func cloneConversation(c *Conversation) *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	if c.AssignedAgentID != nil {
		cp.AssignedAgentID = stringPtr(*c.AssignedAgentID)
	}
	cp.Context = cloneContext(c.Context)
	return &cp
}

func cloneContext(c Context) Context {
	raw, err := c.Encode()
	if err != nil {
		return c
	}
	return DecodeContext(raw)
}
