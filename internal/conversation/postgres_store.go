package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var storeTracer = otel.Tracer("retailbot.internal.conversation")

// Querier is the query surface shared by a pool and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is satisfied by *pgxpool.Pool and by pgxmock pools.
type PgxPool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore persists conversations, messages, events, agents and notes in
// PostgreSQL.
type PostgresStore struct {
	pool PgxPool
	q    Querier
	inTx bool
}

// NewPostgresStore builds a Postgres-backed store.
func NewPostgresStore(pool PgxPool) *PostgresStore {
	if pool == nil {
		panic("conversation: pgx pool cannot be nil")
	}
	return &PostgresStore{pool: pool, q: pool}
}

var _ AdminStore = (*PostgresStore)(nil)

const conversationColumns = `id, identity, state, lead_status, intent_score, assigned_agent_id,
	bot_paused_until, last_customer_message_at, last_human_message_at, last_bot_message_at,
	context, created_at, updated_at`

func (s *PostgresStore) UpsertByIdentity(ctx context.Context, identity string) (*Conversation, error) {
	ctx, span := storeTracer.Start(ctx, "conversation.upsert_by_identity")
	defer span.End()

	row := s.q.QueryRow(ctx, `
		INSERT INTO conversations (id, identity, state, lead_status, intent_score, context)
		VALUES ($1, $2, $3, $4, 0, $5)
		ON CONFLICT (identity) DO UPDATE SET identity = EXCLUDED.identity
		RETURNING `+conversationColumns,
		uuid.NewString(), identity, string(StateBotOn), string(LeadNew), []byte(`{"version":1}`))
	c, err := scanConversation(row)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: upsert: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Conversation, error) {
	row := s.q.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) FindByIdentity(ctx context.Context, identity string) (*Conversation, error) {
	row := s.q.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE identity = $1`, identity)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: find by identity: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, patch Patch) error {
	if patch.Empty() {
		return nil
	}
	ctx, span := storeTracer.Start(ctx, "conversation.update", trace.WithAttributes(attribute.String("conversation.id", id)))
	defer span.End()

	args := []any{id}
	var sets []string
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.State != nil {
		set("state", string(*patch.State))
	}
	if patch.LeadStatus != nil {
		set("lead_status", string(*patch.LeadStatus))
	}
	if patch.IntentScore != nil {
		set("intent_score", max(0, *patch.IntentScore))
	}
	switch {
	case patch.AssignedAgentID != nil:
		set("assigned_agent_id", *patch.AssignedAgentID)
	case patch.ClearAssignment:
		sets = append(sets, "assigned_agent_id = NULL")
	}
	switch {
	case patch.BotPausedUntil != nil:
		set("bot_paused_until", *patch.BotPausedUntil)
	case patch.ClearPause:
		sets = append(sets, "bot_paused_until = NULL")
	}
	if patch.LastCustomerMessageAt != nil {
		set("last_customer_message_at", *patch.LastCustomerMessageAt)
	}
	if patch.LastHumanMessageAt != nil {
		set("last_human_message_at", *patch.LastHumanMessageAt)
	}
	if patch.LastBotMessageAt != nil {
		set("last_bot_message_at", *patch.LastBotMessageAt)
	}
	if patch.Context != nil {
		raw, err := patch.Context.Encode()
		if err != nil {
			return fmt.Errorf("conversation: encode context: %w", err)
		}
		set("context", raw)
	}
	sets = append(sets, "updated_at = now()")

	ct, err := s.q.Exec(ctx, `UPDATE conversations SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: update: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	ct, err := s.q.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, direction, sender, type, text, external_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (external_id) DO NOTHING
	`, msg.ID, msg.ConversationID, string(msg.Direction), string(msg.Sender), string(msg.Type), msg.Text, msg.ExternalID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("conversation: insert message: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrDuplicateMessage
	}
	return nil
}

func (s *PostgresStore) MessageExists(ctx context.Context, externalID string) (bool, error) {
	var exists int
	err := s.q.QueryRow(ctx, `SELECT 1 FROM messages WHERE external_id = $1`, externalID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("conversation: check message: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, conversationID, kind string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	if _, err := s.q.Exec(ctx, `
		INSERT INTO conversation_events (id, conversation_id, kind, payload)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), conversationID, kind, payload); err != nil {
		return fmt.Errorf("conversation: append event: %w", err)
	}
	return nil
}

const agentColumns = `id, name, email, role, active, online`

func (s *PostgresStore) ListSellersOnline(ctx context.Context) ([]*Agent, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE role = $1 AND active AND online
		ORDER BY created_at ASC, id ASC
	`, string(RoleSeller))
	if err != nil {
		return nil, fmt.Errorf("conversation: list sellers: %w", err)
	}
	return collectAgents(rows)
}

func (s *PostgresStore) CountTakeovers(ctx context.Context, agentID string) (int, error) {
	var n int
	if err := s.q.QueryRow(ctx, `
		SELECT count(*) FROM conversations WHERE assigned_agent_id = $1 AND state = $2
	`, agentID, string(StateHumanTakeover)).Scan(&n); err != nil {
		return 0, fmt.Errorf("conversation: count takeovers: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Assign(ctx context.Context, conversationID, agentID string, lead LeadStatus) (bool, error) {
	ct, err := s.q.Exec(ctx, `
		UPDATE conversations
		SET assigned_agent_id = $2,
		    lead_status = CASE WHEN lead_status IN ('CLOSED_WON', 'CLOSED_LOST', 'HUMAN') THEN lead_status ELSE $3 END,
		    updated_at = now()
		WHERE id = $1 AND assigned_agent_id IS NULL
	`, conversationID, agentID, string(lead))
	if err != nil {
		return false, fmt.Errorf("conversation: assign: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListTakeovers(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE state = $1
		ORDER BY created_at ASC
	`, string(StateHumanTakeover))
	if err != nil {
		return nil, fmt.Errorf("conversation: list takeovers: %w", err)
	}
	return collectConversations(rows)
}

func (s *PostgresStore) ReturnToBot(ctx context.Context, conversationID string, lead *LeadStatus) (bool, error) {
	var leadArg any
	if lead != nil {
		leadArg = string(*lead)
	}
	ct, err := s.q.Exec(ctx, `
		UPDATE conversations
		SET state = $2,
		    assigned_agent_id = NULL,
		    lead_status = COALESCE($3, lead_status),
		    updated_at = now()
		WHERE id = $1 AND state = $4
	`, conversationID, string(StateBotOn), leadArg, string(StateHumanTakeover))
	if err != nil {
		return false, fmt.Errorf("conversation: return to bot: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// WithJobLock takes a transaction-scoped advisory lock on key. When another
// instance holds it the call returns false without running fn.
func (s *PostgresStore) WithJobLock(ctx context.Context, key string, fn JobFunc) (bool, error) {
	ctx, span := storeTracer.Start(ctx, "conversation.job_lock", trace.WithAttributes(attribute.String("lock.key", key)))
	defer span.End()

	if s.inTx {
		acquired, err := tryAdvisoryLock(ctx, s.q, key)
		if err != nil || !acquired {
			return false, err
		}
		return true, fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("conversation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	acquired, err := tryAdvisoryLock(ctx, tx, key)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if !acquired {
		return false, nil
	}
	if err := fn(ctx, &PostgresStore{pool: s.pool, q: tx, inTx: true}); err != nil {
		span.RecordError(err)
		return true, err
	}
	if err := tx.Commit(ctx); err != nil {
		return true, fmt.Errorf("conversation: commit tx: %w", err)
	}
	return true, nil
}

func tryAdvisoryLock(ctx context.Context, q Querier, key string) (bool, error) {
	var acquired bool
	if err := q.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock(hashtext($1))`, key).Scan(&acquired); err != nil {
		return false, fmt.Errorf("conversation: try lock %s: %w", key, err)
	}
	return acquired, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Conversation, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		add("identity ILIKE $%d", "%"+q+"%")
	}
	if filter.State != "" {
		add("state = $%d", string(filter.State))
	}
	if filter.LeadStatus != "" {
		add("lead_status = $%d", string(filter.LeadStatus))
	}
	if filter.AssignedTo != "" {
		add("assigned_agent_id = $%d", filter.AssignedTo)
	}
	sql := `SELECT ` + conversationColumns + ` FROM conversations`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, listLimit(filter.Limit))
	sql += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d`, len(args))

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("conversation: list: %w", err)
	}
	return collectConversations(rows)
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := s.q.Query(ctx, `
		SELECT id, conversation_id, direction, sender, type, text, external_id, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var (
			m                          Message
			direction, sender, msgType string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &direction, &sender, &msgType, &m.Text, &m.ExternalID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		m.Direction, m.Sender, m.Type = Direction(direction), Sender(sender), MessageType(msgType)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddNote(ctx context.Context, note *Note) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	note.CreatedAt = time.Now().UTC()
	if _, err := s.q.Exec(ctx, `
		INSERT INTO notes (id, conversation_id, agent_id, text, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, note.ID, note.ConversationID, note.AgentID, note.Text, note.CreatedAt); err != nil {
		return fmt.Errorf("conversation: add note: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotes(ctx context.Context, conversationID string, limit int) ([]*Note, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	rows, err := s.q.Query(ctx, `
		SELECT id, conversation_id, agent_id, text, created_at
		FROM notes WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: list notes: %w", err)
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.ConversationID, &n.AgentID, &n.Text, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan note: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if _, err := s.q.Exec(ctx, `
		INSERT INTO agents (id, name, email, role, active, online)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email, role = EXCLUDED.role, active = EXCLUDED.active
	`, agent.ID, agent.Name, agent.Email, string(agent.Role), agent.Active, agent.Online); err != nil {
		return fmt.Errorf("conversation: upsert agent: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var (
		a    Agent
		role string
	)
	err := s.q.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Email, &role, &a.Active, &a.Online)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get agent: %w", err)
	}
	a.Role = AgentRole(role)
	return &a, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.q.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("conversation: list agents: %w", err)
	}
	return collectAgents(rows)
}

func (s *PostgresStore) SetAgentOnline(ctx context.Context, id string, online bool) error {
	ct, err := s.q.Exec(ctx, `UPDATE agents SET online = $2 WHERE id = $1`, id, online)
	if err != nil {
		return fmt.Errorf("conversation: set agent online: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Summary(ctx context.Context, since time.Time) (*Summary, error) {
	sum := &Summary{
		Since:        since,
		ByLeadStatus: make(map[LeadStatus]int),
		ByState:      make(map[State]int),
	}
	rows, err := s.q.Query(ctx, `
		SELECT lead_status, state, count(*)
		FROM conversations WHERE created_at >= $1
		GROUP BY lead_status, state
	`, since)
	if err != nil {
		return nil, fmt.Errorf("conversation: summary counts: %w", err)
	}
	for rows.Next() {
		var (
			lead, state string
			n           int
		)
		if err := rows.Scan(&lead, &state, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("conversation: scan summary: %w", err)
		}
		sum.ByLeadStatus[LeadStatus(lead)] += n
		sum.ByState[State(state)] += n
		sum.TotalConversations += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: summary counts: %w", err)
	}

	if err := s.q.QueryRow(ctx, `SELECT count(*) FROM conversations WHERE state = $1`, string(StateHumanTakeover)).
		Scan(&sum.OpenTakeovers); err != nil {
		return nil, fmt.Errorf("conversation: summary takeovers: %w", err)
	}

	if err := s.q.QueryRow(ctx, `
		WITH firsts AS (
			SELECT conversation_id,
			       min(created_at) FILTER (WHERE direction = 'IN')  AS first_in,
			       min(created_at) FILTER (WHERE direction = 'OUT') AS first_out
			FROM messages WHERE created_at >= $1
			GROUP BY conversation_id
		)
		SELECT COALESCE(avg(EXTRACT(EPOCH FROM first_out - first_in)), 0)::float8
		FROM firsts
		WHERE first_out >= first_in AND first_out - first_in <= interval '24 hours'
	`, since).Scan(&sum.AvgFirstResponseSeconds); err != nil {
		return nil, fmt.Errorf("conversation: summary response time: %w", err)
	}
	return sum, nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var (
		c           Conversation
		state, lead string
		rawContext  []byte
	)
	if err := row.Scan(
		&c.ID, &c.Identity, &state, &lead, &c.IntentScore, &c.AssignedAgentID,
		&c.BotPausedUntil, &c.LastCustomerMessageAt, &c.LastHumanMessageAt, &c.LastBotMessageAt,
		&rawContext, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.State = State(state)
	c.LeadStatus = LeadStatus(lead)
	c.Context = DecodeContext(rawContext)
	return &c, nil
}

func collectConversations(rows pgx.Rows) ([]*Conversation, error) {
	defer rows.Close()
	var out []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("conversation: scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func collectAgents(rows pgx.Rows) ([]*Agent, error) {
	defer rows.Close()
	var out []*Agent
	for rows.Next() {
		var (
			a    Agent
			role string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &role, &a.Active, &a.Online); err != nil {
			return nil, fmt.Errorf("conversation: scan agent: %w", err)
		}
		a.Role = AgentRole(role)
		out = append(out, &a)
	}
	return out, rows.Err()
}
