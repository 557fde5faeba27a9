package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/retail-chat-bot/internal/catalog"
	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/internal/http/middleware"
	"github.com/wolfman30/retail-chat-bot/internal/realtime"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

const (
	maxHumanText        = 2000
	maxNoteText         = 2000
	conversationsLimit  = 200
	messagesLimit       = 500
	notesLimit          = 50
	defaultSummaryDays  = 7
	maxSummaryDays      = 90
	defaultCatalogLimit = 8
	defaultPauseMinutes = 60
	maxPauseMinutes     = 24 * 60
)

// ReturnToBotText is sent to the customer when an agent hands the chat back
// to the bot without the silent flag.
const ReturnToBotText = "Listo, sigo por acá 🙌 ¿En qué te puedo ayudar?"

// ProductFilter is the catalog listing used by the panel's product picker.
type ProductFilter interface {
	Filter(query, category string, limit int) []catalog.Item
}

// AdminConfig wires the agent panel handler.
type AdminConfig struct {
	Store     conversation.AdminStore
	Messenger *conversation.Messenger
	Recorder  *conversation.EventRecorder
	Emitter   realtime.Emitter
	Products  ProductFilter
	Logger    *logging.Logger
	Now       func() time.Time
}

// AdminHandler serves the agent panel API: conversation listing, takeover,
// human replies, notes, agent presence and the metrics summary.
type AdminHandler struct {
	store     conversation.AdminStore
	messenger *conversation.Messenger
	recorder  *conversation.EventRecorder
	emitter   realtime.Emitter
	products  ProductFilter
	logger    *logging.Logger
	now       func() time.Time
}

// NewAdminHandler creates the panel handler. Store and Messenger are required.
func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	if cfg.Store == nil {
		panic("handlers: admin store cannot be nil")
	}
	if cfg.Messenger == nil {
		panic("handlers: messenger cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = conversation.NewEventRecorder(cfg.Store, cfg.Logger)
	}
	if cfg.Emitter == nil {
		cfg.Emitter = realtime.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &AdminHandler{
		store:     cfg.Store,
		messenger: cfg.Messenger,
		recorder:  cfg.Recorder,
		emitter:   cfg.Emitter,
		products:  cfg.Products,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// Routes registers the panel endpoints on r. Callers mount r behind
// middleware.AdminJWT.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Get("/conversations", h.ListConversations)
	r.Get("/conversations/{id}", h.GetConversation)
	r.Get("/conversations/{id}/messages", h.ListMessages)
	r.Post("/conversations/{id}/takeover", h.Takeover)
	r.Post("/conversations/{id}/return-to-bot", h.ReturnToBot)
	r.Post("/conversations/{id}/pause", h.Pause)
	r.Delete("/conversations/{id}/pause", h.Unpause)
	r.Post("/conversations/{id}/send", h.Send)
	r.Get("/conversations/{id}/notes", h.ListNotes)
	r.Post("/conversations/{id}/notes", h.AddNote)
	r.Get("/users", h.ListAgents)
	r.Post("/users/{id}/online", h.SetOnline)
	r.Get("/metrics/summary", h.Summary)
	r.Get("/products", h.SearchProducts)
}

// ListConversations handles GET /conversations?q=&state=&lead=&assigned=me.
func (h *AdminHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := conversation.ListFilter{
		Query:      strings.TrimSpace(q.Get("q")),
		State:      conversation.State(strings.ToUpper(strings.TrimSpace(q.Get("state")))),
		LeadStatus: conversation.LeadStatus(strings.ToUpper(strings.TrimSpace(q.Get("lead")))),
		Limit:      conversationsLimit,
	}
	if filter.State != "" && !filter.State.Valid() {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	switch assigned := strings.TrimSpace(q.Get("assigned")); assigned {
	case "":
	case "me":
		filter.AssignedTo = middleware.AgentIDFromContext(r.Context())
	default:
		filter.AssignedTo = assigned
	}

	convs, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list conversations", "error", err)
		http.Error(w, "failed to list conversations", http.StatusInternalServerError)
		return
	}
	if convs == nil {
		convs = []*conversation.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// GetConversation handles GET /conversations/{id}.
func (h *AdminHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadConversation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// ListMessages handles GET /conversations/{id}/messages, oldest first.
func (h *AdminHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadConversation(w, r)
	if !ok {
		return
	}
	msgs, err := h.store.ListMessages(r.Context(), conv.ID, messagesLimit)
	if err != nil {
		h.logger.Error("failed to list messages", "error", err, "conversation_id", conv.ID)
		http.Error(w, "failed to list messages", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []*conversation.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type takeoverRequest struct {
	UserID string `json:"userId"`
	Note   string `json:"note"`
}

// Takeover handles POST /conversations/{id}/takeover. The conversation moves
// to HUMAN_TAKEOVER and is assigned to userId or, when absent, to the caller.
func (h *AdminHandler) Takeover(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req takeoverRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	conv, ok := h.loadConversation(w, r)
	if !ok {
		return
	}
	assignee := strings.TrimSpace(req.UserID)
	if assignee == "" {
		assignee = actor
	} else if _, err := h.store.GetAgent(r.Context(), assignee); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			http.Error(w, "unknown userId", http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to load agent", "error", err, "agent_id", assignee)
		http.Error(w, "takeover failed", http.StatusInternalServerError)
		return
	}

	state := conversation.StateHumanTakeover
	if err := h.store.Update(r.Context(), conv.ID, conversation.Patch{State: &state, AssignedAgentID: &assignee}); err != nil {
		h.logger.Error("takeover failed", "error", err, "conversation_id", conv.ID)
		http.Error(w, "takeover failed", http.StatusInternalServerError)
		return
	}
	h.record(r.Context(), conv.ID, conversation.EventManualTakeover, map[string]any{"by": actor, "assignedTo": assignee})

	if note := strings.TrimSpace(req.Note); note != "" {
		if err := h.store.AddNote(r.Context(), &conversation.Note{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			AgentID:        actor,
			Text:           clipRunes(note, maxNoteText),
			CreatedAt:      h.now(),
		}); err != nil {
			h.logger.Warn("takeover note not saved", "error", err, "conversation_id", conv.ID)
		}
	}

	h.respondUpdated(w, r, conv.ID)
}

type returnToBotRequest struct {
	Silent *bool `json:"silent"`
}

// ReturnToBot handles POST /conversations/{id}/return-to-bot. Unless silent
// is false the customer is not told about the switch.
func (h *AdminHandler) ReturnToBot(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req returnToBotRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	conv, ok := h.loadConversation(w, r)
	if !ok {
		return
	}

	state := conversation.StateBotOn
	if err := h.store.Update(r.Context(), conv.ID, conversation.Patch{State: &state, ClearAssignment: true}); err != nil {
		h.logger.Error("return to bot failed", "error", err, "conversation_id", conv.ID)
		http.Error(w, "return to bot failed", http.StatusInternalServerError)
		return
	}
	h.record(r.Context(), conv.ID, conversation.EventManualReturnToBot, map[string]any{"by": actor})

	if req.Silent != nil && !*req.Silent {
		if err := h.messenger.SendText(r.Context(), conv, conversation.SenderBot, ReturnToBotText, false); err != nil {
			h.logger.Warn("return to bot message not sent", "error", err, "conversation_id", conv.ID)
		}
	}

	h.respondUpdated(w, r, conv.ID)
}

type pauseRequest struct {
	Minutes *int `json:"minutes"`
}

// Pause handles POST /conversations/{id}/pause. The bot stays silent for the
// given minutes whatever the conversation state.
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req pauseRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	minutes := defaultPauseMinutes
	if req.Minutes != nil {
		minutes = *req.Minutes
	}
	if minutes < 1 || minutes > maxPauseMinutes {
		http.Error(w, "minutes must be between 1 and 1440", http.StatusBadRequest)
		return
	}
	conv, ok := h.loadConversation(w, r)
	if !ok {
		return
	}

	until := h.now().Add(time.Duration(minutes) * time.Minute)
	if err := h.store.Update(r.Context(), conv.ID, conversation.Patch{BotPausedUntil: &until}); err != nil {
		h.logger.Error("pause failed", "error", err, "conversation_id", conv.ID)
		http.Error(w, "pause failed", http.StatusInternalServerError)
		return
	}
	h.record(r.Context(), conv.ID, conversation.EventManualPause, map[string]any{"by": actor, "minutes": minutes})
	h.respondUpdated(w, r, conv.ID)
}

// Unpause handles DELETE /conversations/{id}/pause.
func (h *AdminHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	conv, ok := h.loadConversation(w, r)
	if !ok {
		return
	}
	if err := h.store.Update(r.Context(), conv.ID, conversation.Patch{ClearPause: true}); err != nil {
		h.logger.Error("unpause failed", "error", err, "conversation_id", conv.ID)
		http.Error(w, "unpause failed", http.StatusInternalServerError)
		return
	}
	h.record(r.Context(), conv.ID, conversation.EventManualUnpause, map[string]any{"by": actor})
	h.respondUpdated(w, r, conv.ID)
}

type sendRequest struct {
	Text string `json:"text"`
}

// Send handles POST /conversations/{id}/send: an agent reply. Sending puts
// the conversation in HUMAN_TAKEOVER and claims it when unassigned.
func (h *AdminHandler) Send(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" || utf8.RuneCountInString(text) > maxHumanText {
		http.Error(w, "text must be between 1 and 2000 characters", http.StatusBadRequest)
		return
	}
	conv, ok := h.loadConversation(w, r)
	if !ok {
		return
	}

	now := h.now()
	state := conversation.StateHumanTakeover
	patch := conversation.Patch{State: &state, LastHumanMessageAt: &now}
	if conv.AssignedAgentID == nil || *conv.AssignedAgentID == "" {
		patch.AssignedAgentID = &actor
	}
	if err := h.store.Update(r.Context(), conv.ID, patch); err != nil {
		h.logger.Error("send failed", "error", err, "conversation_id", conv.ID)
		http.Error(w, "send failed", http.StatusInternalServerError)
		return
	}

	if err := h.messenger.SendText(r.Context(), conv, conversation.SenderHuman, text, true); err != nil {
		h.logger.Error("human message not delivered", "error", err, "conversation_id", conv.ID)
		http.Error(w, "message not delivered", http.StatusBadGateway)
		return
	}
	h.record(r.Context(), conv.ID, conversation.EventHumanSentMessage, map[string]any{"by": actor})

	h.respondUpdated(w, r, conv.ID)
}

type noteRequest struct {
	Text string `json:"text"`
}

// AddNote handles POST /conversations/{id}/notes.
func (h *AdminHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" || utf8.RuneCountInString(text) > maxNoteText {
		http.Error(w, "text must be between 1 and 2000 characters", http.StatusBadRequest)
		return
	}
	conv, ok := h.loadConversation(w, r)
	if !ok {
		return
	}
	note := &conversation.Note{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		AgentID:        actor,
		Text:           text,
		CreatedAt:      h.now(),
	}
	if err := h.store.AddNote(r.Context(), note); err != nil {
		h.logger.Error("failed to add note", "error", err, "conversation_id", conv.ID)
		http.Error(w, "failed to add note", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// ListNotes handles GET /conversations/{id}/notes, newest first.
func (h *AdminHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.loadConversation(w, r)
	if !ok {
		return
	}
	notes, err := h.store.ListNotes(r.Context(), conv.ID, notesLimit)
	if err != nil {
		h.logger.Error("failed to list notes", "error", err, "conversation_id", conv.ID)
		http.Error(w, "failed to list notes", http.StatusInternalServerError)
		return
	}
	if notes == nil {
		notes = []*conversation.Note{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

// ListAgents handles GET /users and returns active agents only.
func (h *AdminHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.store.ListAgents(r.Context())
	if err != nil {
		h.logger.Error("failed to list agents", "error", err)
		http.Error(w, "failed to list users", http.StatusInternalServerError)
		return
	}
	active := make([]*conversation.Agent, 0, len(agents))
	for _, a := range agents {
		if a.Active {
			active = append(active, a)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": active})
}

type onlineRequest struct {
	IsOnline *bool `json:"isOnline"`
}

// SetOnline handles POST /users/{id}/online. Agents toggle their own
// presence; admins can toggle anyone's.
func (h *AdminHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		http.Error(w, "missing user id", http.StatusBadRequest)
		return
	}
	if claims, _ := middleware.AdminClaimsFromContext(r.Context()); claims.Subject != id && !strings.EqualFold(claims.Role, string(conversation.RoleAdmin)) {
		http.Error(w, "only admins can change another user's presence", http.StatusForbidden)
		return
	}
	var req onlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsOnline == nil {
		http.Error(w, "isOnline is required", http.StatusBadRequest)
		return
	}
	if err := h.store.SetAgentOnline(r.Context(), id, *req.IsOnline); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to set presence", "error", err, "agent_id", id)
		http.Error(w, "failed to update user", http.StatusInternalServerError)
		return
	}
	agent, err := h.store.GetAgent(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to reload agent", "error", err, "agent_id", id)
		http.Error(w, "failed to update user", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

type summaryResponse struct {
	WindowDays int `json:"windowDays"`
	*conversation.Summary
}

// Summary handles GET /metrics/summary?days=N with N in 1..90.
func (h *AdminHandler) Summary(w http.ResponseWriter, r *http.Request) {
	days := defaultSummaryDays
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSummaryDays {
			http.Error(w, "days must be between 1 and 90", http.StatusBadRequest)
			return
		}
		days = n
	}
	since := h.now().Add(-time.Duration(days) * 24 * time.Hour)
	sum, err := h.store.Summary(r.Context(), since)
	if err != nil {
		h.logger.Error("failed to build summary", "error", err)
		http.Error(w, "failed to build summary", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{WindowDays: days, Summary: sum})
}

// SearchProducts handles GET /products?q=&category=&limit=.
func (h *AdminHandler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	if h.products == nil {
		http.Error(w, "catalog not configured", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	limit := defaultCatalogLimit
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	items := h.products.Filter(q.Get("q"), q.Get("category"), limit)
	if items == nil {
		items = []catalog.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *AdminHandler) loadConversation(w http.ResponseWriter, r *http.Request) (*conversation.Conversation, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return nil, false
	}
	conv, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return nil, false
		}
		h.logger.Error("failed to load conversation", "error", err, "conversation_id", id)
		http.Error(w, "failed to load conversation", http.StatusInternalServerError)
		return nil, false
	}
	return conv, true
}

// respondUpdated reloads the conversation, broadcasts it to the panel and
// writes it as the response.
func (h *AdminHandler) respondUpdated(w http.ResponseWriter, r *http.Request, id string) {
	conv, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to reload conversation", "error", err, "conversation_id", id)
		http.Error(w, "failed to load conversation", http.StatusInternalServerError)
		return
	}
	h.emitter.Emit(r.Context(), realtime.EventConversationUpdated, map[string]any{"conversationId": id})
	writeJSON(w, http.StatusOK, conv)
}

func (h *AdminHandler) record(ctx context.Context, conversationID, kind string, data map[string]any) {
	if err := h.recorder.Record(ctx, conversationID, kind, data); err != nil {
		h.logger.Warn("event not persisted", "error", err, "event", kind, "conversation_id", conversationID)
	}
}

func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := middleware.AgentIDFromContext(r.Context())
	if actor == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return actor, true
}

// decodeOptionalBody accepts an empty body as the zero request.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
