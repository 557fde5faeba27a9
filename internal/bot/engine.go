// Package bot decides, for every inbound customer message, whether the bot
// answers, what it says and when a seller should take over.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/retail-chat-bot/internal/catalog"
	"github.com/wolfman30/retail-chat-bot/internal/config"
	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/internal/followup"
	"github.com/wolfman30/retail-chat-bot/internal/handoff"
	"github.com/wolfman30/retail-chat-bot/internal/observability/metrics"
	"github.com/wolfman30/retail-chat-bot/internal/textnorm"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

var botTracer = otel.Tracer("retailbot.internal.bot")

// Stage names the branch of the turn that produced the outcome.
type Stage string

const (
	StagePaused          Stage = "paused"
	StageResumed         Stage = "takeover_resume"
	StageWaitHuman       Stage = "takeover_wait"
	StageResumePrompt    Stage = "takeover_prompt"
	StageTakeoverSilent  Stage = "takeover_silent"
	StageOptOut          Stage = "opt_out"
	StageThanks          Stage = "thanks"
	StageGreeting        Stage = "greeting"
	StageNegative        Stage = "negative"
	StageSelection       Stage = "selection"
	StageHandoff         Stage = "handoff"
	StageMore            Stage = "more"
	StageInstallments    Stage = "installments"
	StagePrice           Stage = "price"
	StageSearch          Stage = "search"
	StageClarify         Stage = "clarify"
	StageClarifyEscalate Stage = "clarify_escalate"
)

// Page sizes of the search branches.
const (
	searchLimit    = 3
	firstMoreLimit = 6
	nextMoreLimit  = 9
	optOutExcerpt  = 200
)

var (
	selectionPattern = regexp.MustCompile(`^[1-9]\d*$`)
	barePricePattern = regexp.MustCompile(`\b(precio|cuanto\s+sale|cuanto\s+esta|valor|vale)\b`)
)

// Result reports what a turn did. Replied is false when the bot stayed silent.
type Result struct {
	Replied bool
	Stage   Stage
	Intent  IntentKind
}

// Sender delivers bot messages and records them. conversation.Messenger
// implements it.
type Sender interface {
	SendText(ctx context.Context, conv *conversation.Conversation, sender conversation.Sender, text string, preview bool) error
	SendButtons(ctx context.Context, conv *conversation.Conversation, body string, buttons []conversation.Button) error
}

// ProductSearcher is the catalog surface the engine needs.
type ProductSearcher interface {
	Search(query string, limit int, opts catalog.Options) []catalog.Item
	Get(id string) (catalog.Item, error)
}

// SellerAssigner routes an escalated conversation to a seller.
type SellerAssigner interface {
	TryAssignSeller(ctx context.Context, conversationID string) (handoff.Assignment, error)
}

// DecisionMaker is the optional language model classifier.
type DecisionMaker interface {
	Decide(ctx context.Context, in ReasoningInput) Decision
}

// Engine runs the conversation state machine.
type Engine struct {
	store     conversation.Store
	sender    Sender
	products  ProductSearcher
	assigner  SellerAssigner
	reasoner  DecisionMaker
	followups followup.Scheduler
	recorder  *conversation.EventRecorder
	metrics   *metrics.EngineMetrics
	cfg       config.EngineConfig
	logger    *logging.Logger
	now       func() time.Time
}

// NewEngine wires the engine. A zero cfg uses config.DefaultEngineConfig.
func NewEngine(store conversation.Store, sender Sender, products ProductSearcher, assigner SellerAssigner, cfg config.EngineConfig, logger *logging.Logger) *Engine {
	if store == nil {
		panic("bot: store cannot be nil")
	}
	if sender == nil {
		panic("bot: sender cannot be nil")
	}
	if products == nil {
		panic("bot: product searcher cannot be nil")
	}
	if assigner == nil {
		panic("bot: seller assigner cannot be nil")
	}
	if cfg == (config.EngineConfig{}) {
		cfg = config.DefaultEngineConfig()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:    store,
		sender:   sender,
		products: products,
		assigner: assigner,
		recorder: conversation.NewEventRecorder(store, logger),
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithReasoner enables language model classification for ambiguous messages.
func (e *Engine) WithReasoner(r DecisionMaker) *Engine {
	e.reasoner = r
	return e
}

// WithFollowups lets a handoff without sellers online queue an after-hours
// follow-up.
func (e *Engine) WithFollowups(s followup.Scheduler) *Engine {
	e.followups = s
	return e
}

// WithRecorder replaces the default event recorder.
func (e *Engine) WithRecorder(r *conversation.EventRecorder) *Engine {
	if r != nil {
		e.recorder = r
	}
	return e
}

func (e *Engine) WithMetrics(m *metrics.EngineMetrics) *Engine {
	e.metrics = m
	return e
}

// WithClock overrides the engine clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// turn carries the working copy of one inbound message.
type turn struct {
	conv     *conversation.Conversation
	mem      conversation.Context
	text     string
	actionID string
	now      time.Time
}

// HandleIncoming processes one inbound customer message. Every branch writes
// its state changes before the reply that depends on them is sent.
func (e *Engine) HandleIncoming(ctx context.Context, conv *conversation.Conversation, text, actionID string) (res Result, err error) {
	if conv == nil {
		return Result{}, errors.New("bot: conversation is nil")
	}
	ctx, span := botTracer.Start(ctx, "bot.handle_incoming")
	defer span.End()
	started := time.Now()
	defer func() {
		span.SetAttributes(
			attribute.String("retailbot.conversation_id", conv.ID),
			attribute.String("retailbot.stage", string(res.Stage)),
			attribute.String("retailbot.intent", string(res.Intent)),
			attribute.Bool("retailbot.replied", res.Replied),
		)
		if err != nil {
			span.RecordError(err)
		}
		e.metrics.ObserveTurn(string(res.Stage), string(res.Intent), res.Replied, time.Since(started).Seconds())
	}()

	t := &turn{
		conv:     conv,
		mem:      conv.Context,
		text:     strings.TrimSpace(text),
		actionID: strings.TrimSpace(actionID),
		now:      e.now(),
	}
	t.mem.PushRecent(t.text, t.now)
	t.mem.Bot.Long.Merge(ExtractProfileHints(t.text))

	if conv.Paused(t.now) {
		if err := e.persist(ctx, t, conversation.Patch{LastCustomerMessageAt: &t.now}); err != nil {
			return Result{Stage: StagePaused}, err
		}
		return Result{Stage: StagePaused}, nil
	}

	meta := DetectMetaIntent(t.text, t.actionID)

	if conv.State == conversation.StateHumanTakeover {
		return e.handleTakeover(ctx, t, meta)
	}

	switch meta {
	case MetaResumeBot:
		// Stale resume button on a conversation the bot already owns.
		if err := e.persist(ctx, t, conversation.Patch{}); err != nil {
			return Result{Stage: StageResumed}, err
		}
		last := t.mem.Bot.Short.LastQuery
		return e.replyButtons(ctx, t, StageResumed, "", ResumeAck(last), ResumeButtons(last))
	case MetaWaitHuman:
		// Waiting for a seller that was never assigned is a request for one.
		t.actionID = ActionHuman
	case MetaStop:
		return e.handleOptOut(ctx, t)
	case MetaThanks:
		if err := e.persist(ctx, t, conversation.Patch{}); err != nil {
			return Result{Stage: StageThanks}, err
		}
		return e.replyText(ctx, t, StageThanks, "", ThanksReply(t.mem.Bot.Short.LastQuery, t.mem.WantsInstallments()), false)
	case MetaGreeting:
		firstTouch := t.mem.IsFirstTouch()
		if firstTouch {
			t.mem.WelcomedAt = &t.now
		}
		if err := e.persist(ctx, t, conversation.Patch{}); err != nil {
			return Result{Stage: StageGreeting}, err
		}
		msg := GreetingAgain()
		if firstTouch {
			msg = Welcome(e.cfg.BusinessName)
		}
		return e.replyButtons(ctx, t, StageGreeting, "", msg, QuickPickButtons())
	case MetaNegative:
		score := max(0, conv.IntentScore-1)
		patch := conversation.Patch{IntentScore: &score}
		if !conv.LeadStatus.Sticky() {
			cold := conversation.LeadCold
			patch.LeadStatus = &cold
		}
		if err := e.persist(ctx, t, patch); err != nil {
			return Result{Stage: StageNegative}, err
		}
		return e.replyText(ctx, t, StageNegative, "", NegativeReply(), false)
	}

	if t.actionID == "" && selectionPattern.MatchString(t.text) {
		if res, handled, err := e.handleSelection(ctx, t); handled || err != nil {
			return res, err
		}
	}

	ApplyFrustration(&t.mem.Bot.Frustration, ScoreFrustration(t.text), t.now)

	intent, maxPrice := e.classify(ctx, t, meta)
	t.mem.Bot.Short.LastIntent = string(intent.Kind)
	if intent.Kind == IntentSearch && intent.Query != "" {
		t.mem.Bot.Short.LastQuery = intent.Query
		t.mem.Bot.Long.ProductInterest = intent.Query
	}

	newScore := max(0, conv.IntentScore+intent.ScoreDelta)
	lead := conversation.ComputeLeadStatus(newScore, conv.LeadStatus)
	firstTouch := t.mem.IsFirstTouch()
	if firstTouch {
		t.mem.WelcomedAt = &t.now
	}
	if err := e.persist(ctx, t, conversation.Patch{IntentScore: &newScore, LeadStatus: &lead}); err != nil {
		return Result{Intent: intent.Kind}, err
	}

	if reason := e.escalationReason(intent.Kind, newScore, t.mem.Bot.Frustration.Score); reason != "" {
		return e.handleHandoff(ctx, t, intent, reason, newScore)
	}

	switch intent.Kind {
	case IntentMore:
		return e.handleMore(ctx, t, maxPrice)
	case IntentInstallments:
		return e.handleInstallments(ctx, t)
	case IntentPrice:
		return e.handlePrice(ctx, t, intent.Query, firstTouch, maxPrice)
	case IntentSearch:
		query := intent.Query
		if query == "" {
			query = t.text
		}
		return e.handleSearch(ctx, t, StageSearch, IntentSearch, query, firstTouch, maxPrice)
	default:
		return e.handleUnknown(ctx, t, firstTouch)
	}
}

func (e *Engine) handleTakeover(ctx context.Context, t *turn, meta MetaIntent) (Result, error) {
	if meta == MetaResumeBot || WantsResume(t.text) {
		botOn := conversation.StateBotOn
		patch := conversation.Patch{State: &botOn, LastCustomerMessageAt: &t.now}
		if !t.conv.LeadStatus.Sticky() {
			warm := conversation.LeadWarm
			patch.LeadStatus = &warm
		}
		if err := e.persist(ctx, t, patch); err != nil {
			return Result{Stage: StageResumed}, err
		}
		by := "text"
		if meta == MetaResumeBot {
			by = string(MetaResumeBot)
		}
		e.record(ctx, t.conv.ID, conversation.EventBotResumed, map[string]any{"by": by})
		last := t.mem.Bot.Short.LastQuery
		return e.replyButtons(ctx, t, StageResumed, "", ResumeAck(last), ResumeButtons(last))
	}

	if meta == MetaWaitHuman {
		if err := e.persist(ctx, t, conversation.Patch{LastCustomerMessageAt: &t.now}); err != nil {
			return Result{Stage: StageWaitHuman}, err
		}
		return e.replyText(ctx, t, StageWaitHuman, "", WaitHumanAck(), false)
	}

	minsSinceHuman := 999.0
	if last := t.conv.LastHumanMessageAt; last != nil {
		minsSinceHuman = math.Max(0, t.now.Sub(*last).Minutes())
	}
	prompt := minsSinceHuman >= e.cfg.ResumePromptAfterHuman.Minutes()
	if last := t.mem.Bot.LastResumePromptAt; prompt && last != nil && t.now.Sub(*last) < e.cfg.ResumePromptCooldown {
		prompt = false
	}
	if !prompt {
		if err := e.persist(ctx, t, conversation.Patch{LastCustomerMessageAt: &t.now}); err != nil {
			return Result{Stage: StageTakeoverSilent}, err
		}
		return Result{Stage: StageTakeoverSilent}, nil
	}

	t.mem.Bot.LastResumePromptAt = &t.now
	if err := e.persist(ctx, t, conversation.Patch{LastCustomerMessageAt: &t.now}); err != nil {
		return Result{Stage: StageResumePrompt}, err
	}
	res, err := e.replyButtons(ctx, t, StageResumePrompt, "", TakeoverPrompt(), TakeoverButtons())
	if err != nil {
		return res, err
	}
	e.record(ctx, t.conv.ID, conversation.EventBotResumePrompt, map[string]any{"minsSinceHuman": math.Round(minsSinceHuman)})
	return res, nil
}

func (e *Engine) handleOptOut(ctx context.Context, t *turn) (Result, error) {
	zero := 0
	patch := conversation.Patch{IntentScore: &zero}
	if !t.conv.LeadStatus.Sticky() {
		cold := conversation.LeadCold
		patch.LeadStatus = &cold
	}
	if err := e.persist(ctx, t, patch); err != nil {
		return Result{Stage: StageOptOut}, err
	}
	e.record(ctx, t.conv.ID, conversation.EventBotOptOut, map[string]any{"text": truncate(t.text, optOutExcerpt)})
	return e.replyText(ctx, t, StageOptOut, "", OptOutReply(), false)
}

// handleSelection answers "2" with the second item of the last list. handled
// is false when the id no longer exists in the catalog, so the message goes
// on through the normal classification.
func (e *Engine) handleSelection(ctx context.Context, t *turn) (Result, bool, error) {
	ids := t.mem.ResultIDs()
	if len(ids) == 0 {
		if err := e.persist(ctx, t, conversation.Patch{}); err != nil {
			return Result{Stage: StageSelection}, true, err
		}
		res, err := e.replyText(ctx, t, StageSelection, "", SelectionWithoutResults(), false)
		return res, true, err
	}

	n, err := strconv.Atoi(t.text)
	if err != nil || n < 1 || n > len(ids) {
		if err := e.persist(ctx, t, conversation.Patch{}); err != nil {
			return Result{Stage: StageSelection}, true, err
		}
		res, err := e.replyText(ctx, t, StageSelection, "", SelectionOutOfRange(len(ids)), false)
		return res, true, err
	}

	item, err := e.products.Get(ids[n-1])
	if err != nil {
		e.logger.Warn("selected item missing from catalog", "conversation_id", t.conv.ID, "item_id", ids[n-1], "error", err)
		return Result{}, false, nil
	}
	t.mem.ResetClarify()
	if err := e.persist(ctx, t, conversation.Patch{}); err != nil {
		return Result{Stage: StageSelection}, true, err
	}
	res, err := e.replyText(ctx, t, StageSelection, "", ItemDetail(item, t.mem.WantsInstallments()), true)
	return res, true, err
}

// classify runs the keyword classifier and, when the gate allows it, lets the
// reasoner replace the kind and query. The score delta always comes from the
// fixed table.
func (e *Engine) classify(ctx context.Context, t *turn, meta MetaIntent) (Intent, float64) {
	intent := Classify(t.text, t.actionID)
	if e.reasoner == nil {
		return intent, 0
	}
	gate := Gate{
		Enabled:    true,
		ActionID:   t.actionID,
		Meta:       meta,
		FirstTouch: t.mem.IsFirstTouch(),
		BaseKind:   intent.Kind,
		Text:       t.text,
	}
	if !ShouldUseReasoning(gate) {
		return intent, 0
	}

	d := e.reasoner.Decide(ctx, ReasoningInput{
		Text:              t.text,
		LastQuery:         t.mem.Bot.Short.LastQuery,
		LastResultsQuery:  t.mem.Bot.Short.LastResultsQuery,
		WantsInstallments: t.mem.WantsInstallments(),
		Recent:            t.mem.RecentTexts(reasoningRecentMessages),
	})
	if !d.OK {
		e.metrics.ObserveReasoning("fallback")
		return intent, 0
	}
	e.metrics.ObserveReasoning("ok")
	if d.WantsInstallments {
		t.mem.Bot.Short.WantsInstallments = true
	}
	return Intent{Kind: d.Kind, Query: d.Query, ScoreDelta: ScoreDelta(d.Kind)}, d.MaxPriceARS
}

func (e *Engine) escalationReason(kind IntentKind, score int, frustration float64) string {
	switch {
	case kind == IntentHuman || kind == IntentBuySignal:
		return string(kind)
	case score >= e.cfg.EscalationScore:
		return "SCORE"
	case frustration >= e.cfg.FrustrationEscalation:
		return "FRUSTRATION"
	}
	return ""
}

// handleHandoff asks for a seller and tells the customer. The state stays
// BOT_ON; only a seller's message moves the conversation to HUMAN_TAKEOVER.
// With nobody online the announcement becomes the after-hours capture.
func (e *Engine) handleHandoff(ctx context.Context, t *turn, intent Intent, reason string, score int) (Result, error) {
	assignment, err := e.assigner.TryAssignSeller(ctx, t.conv.ID)
	if err != nil {
		e.logger.Error("seller assignment failed", "conversation_id", t.conv.ID, "error", err)
	}
	ackBefore := t.mem.Bot.HandoffAckAt
	msg := HandoffMessage(&t.mem, t.now, e.cfg.HandoffAckTTL)
	announced := t.mem.Bot.HandoffAckAt != ackBefore
	afterHours := announced && err == nil && assignment.NoSellers
	if afterHours {
		msg = AfterHoursCapture()
	}
	if err := e.persist(ctx, t, conversation.Patch{}); err != nil {
		return Result{Stage: StageHandoff, Intent: intent.Kind}, err
	}
	res, err := e.replyText(ctx, t, StageHandoff, intent.Kind, msg, false)
	if err != nil {
		return res, err
	}
	e.record(ctx, t.conv.ID, conversation.EventHandoffRequested, map[string]any{
		"reason":      reason,
		"intent":      string(intent.Kind),
		"score":       score,
		"frustration": t.mem.Bot.Frustration.Score,
	})
	e.metrics.ObserveHandoff(reason)
	if afterHours && e.followups != nil {
		if err := e.followups.Schedule(ctx, t.conv.ID, followup.KindAfterHours, e.cfg.AfterHoursFollowup); err != nil {
			e.logger.Warn("failed to schedule after-hours follow-up", "conversation_id", t.conv.ID, "error", err)
		}
	}
	return res, nil
}

func (e *Engine) handleMore(ctx context.Context, t *turn, maxPrice float64) (Result, error) {
	query := t.mem.QueryForMore()
	if query == "" {
		t.mem.IncrementClarify()
		if err := e.persist(ctx, t, conversation.Patch{}); err != nil {
			return Result{Stage: StageMore, Intent: IntentMore}, err
		}
		return e.replyButtons(ctx, t, StageMore, IntentMore, MoreWithoutQuery(), QuickPickButtons())
	}

	t.mem.Bot.Short.MoreCount++
	limit := nextMoreLimit
	if t.mem.Bot.Short.MoreCount == 1 {
		limit = firstMoreLimit
	}
	items := e.products.Search(query, limit, catalog.Options{MaxPrice: maxPrice})
	t.mem.RecordResults(query, itemIDs(items), t.now)
	if len(items) > 0 {
		t.mem.ResetClarify()
	}
	if err := e.persist(ctx, t, conversation.Patch{}); err != nil {
		return Result{Stage: StageMore, Intent: IntentMore}, err
	}

	msg := AskClarify()
	if len(items) > 0 {
		msg = SearchReply(items, query) + MoreTail(t.mem.WantsInstallments())
	}
	return e.replyText(ctx, t, StageMore, IntentMore, msg, true)
}

func (e *Engine) handleInstallments(ctx context.Context, t *turn) (Result, error) {
	t.mem.Bot.Short.WantsInstallments = true
	t.mem.Bot.Long.FinancingHint = "Cuotas"
	if err := e.persist(ctx, t, conversation.Patch{}); err != nil {
		return Result{Stage: StageInstallments, Intent: IntentInstallments}, err
	}
	msg := InstallmentsReply()
	if q := t.mem.QueryForMore(); q != "" {
		msg += InstallmentsMoreHint(q)
	}
	return e.replyText(ctx, t, StageInstallments, IntentInstallments, msg, false)
}

func (e *Engine) handlePrice(ctx context.Context, t *turn, query string, firstTouch bool, maxPrice float64) (Result, error) {
	if query == "" {
		query = t.mem.QueryForMore()
	}
	folded := textnorm.Fold(t.text)
	bare := barePricePattern.MatchString(folded) && textnorm.WordCount(folded) <= 3 && !containsAny(folded, productNouns)
	if query == "" && bare {
		t.mem.IncrementClarify()
		if err := e.persist(ctx, t, conversation.Patch{}); err != nil {
			return Result{Stage: StagePrice, Intent: IntentPrice}, err
		}
		return e.replyButtons(ctx, t, StagePrice, IntentPrice, BarePriceQuestion(), PriceButtons())
	}
	if query == "" {
		query = t.text
	}
	return e.handleSearch(ctx, t, StagePrice, IntentPrice, query, firstTouch, maxPrice)
}

// handleSearch runs a catalog search for the SEARCH and PRICE branches. The
// soft close is appended at most once per cooldown window.
func (e *Engine) handleSearch(ctx context.Context, t *turn, stage Stage, kind IntentKind, query string, firstTouch bool, maxPrice float64) (Result, error) {
	items := e.products.Search(query, searchLimit, catalog.Options{MaxPrice: maxPrice})
	t.mem.RecordResults(query, itemIDs(items), t.now)
	t.mem.RememberQuery(query)
	if kind == IntentSearch {
		t.mem.Bot.Long.ProductInterest = query
	}

	var tail string
	if len(items) > 0 {
		t.mem.ResetClarify()
		if e.shouldSoftClose(&t.mem, t.now) {
			tail = SoftCloseTail(t.mem.WantsInstallments())
			t.mem.Bot.Short.LastSoftCloseAt = &t.now
		}
	}
	if err := e.persist(ctx, t, conversation.Patch{}); err != nil {
		return Result{Stage: stage, Intent: kind}, err
	}

	var msg string
	switch {
	case len(items) > 0:
		msg = SearchReply(items, query) + tail
	case firstTouch:
		msg = Welcome(e.cfg.BusinessName)
	case kind == IntentSearch && absentCategory.MatchString(textnorm.Fold(query)):
		msg = SearchReply(nil, query)
	default:
		msg = AskClarify()
	}
	return e.replyText(ctx, t, stage, kind, msg, true)
}

func (e *Engine) shouldSoftClose(mem *conversation.Context, now time.Time) bool {
	last := mem.Bot.Short.LastSoftCloseAt
	return last == nil || now.Sub(*last) >= e.cfg.SoftCloseCooldown
}

func (e *Engine) handleUnknown(ctx context.Context, t *turn, firstTouch bool) (Result, error) {
	loops := t.mem.IncrementClarify()
	if err := e.persist(ctx, t, conversation.Patch{}); err != nil {
		return Result{Stage: StageClarify, Intent: IntentUnknown}, err
	}

	if loops >= e.cfg.ClarifyEscalateLoops {
		if _, err := e.assigner.TryAssignSeller(ctx, t.conv.ID); err != nil {
			e.logger.Error("seller assignment failed", "conversation_id", t.conv.ID, "error", err)
		}
		res, err := e.replyButtons(ctx, t, StageClarifyEscalate, IntentUnknown, ClarifyEscalation(), ClarifyEscalationButtons())
		if err != nil {
			return res, err
		}
		e.record(ctx, t.conv.ID, conversation.EventClarifyEscalate, map[string]any{"loops": loops})
		e.metrics.ObserveHandoff("CLARIFY_LOOPS")
		return res, nil
	}

	msg := AskClarify()
	if firstTouch {
		msg = Welcome(e.cfg.BusinessName)
	}
	if firstTouch || loops >= 2 {
		return e.replyButtons(ctx, t, StageClarify, IntentUnknown, msg, QuickPickButtons())
	}
	return e.replyText(ctx, t, StageClarify, IntentUnknown, msg, false)
}

// persist writes the turn's context together with patch and mirrors the
// result on t.conv.
func (e *Engine) persist(ctx context.Context, t *turn, patch conversation.Patch) error {
	mem := t.mem
	patch.Context = &mem
	if patch.LastCustomerMessageAt == nil {
		patch.LastCustomerMessageAt = &t.now
	}
	if err := e.store.Update(ctx, t.conv.ID, patch); err != nil {
		return fmt.Errorf("bot: persist turn: %w", err)
	}
	if patch.State != nil {
		t.conv.State = *patch.State
	}
	if patch.LeadStatus != nil {
		t.conv.LeadStatus = *patch.LeadStatus
	}
	if patch.IntentScore != nil {
		t.conv.IntentScore = *patch.IntentScore
	}
	t.conv.Context = mem
	return nil
}

func (e *Engine) replyText(ctx context.Context, t *turn, stage Stage, kind IntentKind, text string, preview bool) (Result, error) {
	if err := e.sender.SendText(ctx, t.conv, conversation.SenderBot, text, preview); err != nil {
		return Result{Stage: stage, Intent: kind}, fmt.Errorf("bot: reply: %w", err)
	}
	return Result{Replied: true, Stage: stage, Intent: kind}, nil
}

func (e *Engine) replyButtons(ctx context.Context, t *turn, stage Stage, kind IntentKind, body string, buttons []conversation.Button) (Result, error) {
	if err := e.sender.SendButtons(ctx, t.conv, body, buttons); err != nil {
		return Result{Stage: stage, Intent: kind}, fmt.Errorf("bot: reply buttons: %w", err)
	}
	return Result{Replied: true, Stage: stage, Intent: kind}, nil
}

// record writes an audit event. Failures are logged; the turn goes on.
func (e *Engine) record(ctx context.Context, conversationID, kind string, data map[string]any) {
	if err := e.recorder.Record(ctx, conversationID, kind, data); err != nil {
		e.logger.Warn("failed to record conversation event", "conversation_id", conversationID, "event", kind, "error", err)
	}
}

func itemIDs(items []catalog.Item) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return ids
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
