package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/retail-chat-bot/internal/llm"
	"github.com/wolfman30/retail-chat-bot/internal/textnorm"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

const (
	defaultReasoningTimeout = 8 * time.Second
	reasoningMaxTokens      = 220
	reasoningTemperature    = 0.1
	reasoningRecentMessages = 6
)

const reasoningSystemPrompt = "Sos un asistente de ventas para un local de tecnología (WhatsApp). " +
	"Tu tarea es SOLO clasificar intención y extraer una consulta de búsqueda corta (2-6 palabras) cuando aplique. " +
	"Respondé ÚNICAMENTE con un JSON válido."

// decisionPayload is the JSON object the model must return. Its schema is
// embedded in the prompt.
type decisionPayload struct {
	Kind              string   `json:"kind" jsonschema:"enum=SEARCH,enum=PRICE,enum=INSTALLMENTS,enum=HUMAN,enum=MORE,enum=UNKNOWN,enum=BUY_SIGNAL"`
	Query             *string  `json:"query,omitempty" jsonschema:"description=consulta corta de 2 a 6 palabras"`
	MaxPriceArs       *float64 `json:"maxPriceArs,omitempty" jsonschema:"minimum=1"`
	WantsInstallments *bool    `json:"wantsInstallments,omitempty"`
	Confidence        *float64 `json:"confidence,omitempty" jsonschema:"minimum=0,maximum=1"`
}

// Decision is the reasoner's verdict. OK is false when the model was called
// but its answer was unusable or the call failed; Kind is then UNKNOWN.
type Decision struct {
	Kind              IntentKind
	Query             string
	MaxPriceARS       float64
	WantsInstallments bool
	Confidence        float64
	UsedReasoning     bool
	OK                bool
}

// ReasoningInput carries the message and the memory the prompt may use.
type ReasoningInput struct {
	Text              string
	LastQuery         string
	LastResultsQuery  string
	WantsInstallments bool
	Recent            []string
}

// Gate collects the facts that decide whether the model is worth calling.
type Gate struct {
	Enabled     bool
	AlreadyUsed bool
	ActionID    string
	Meta        MetaIntent
	FirstTouch  bool
	BaseKind    IntentKind
	Text        string
}

var typoPattern = regexp.MustCompile(`(aurical|auricul|auri|headset|casco)`)

// ShouldUseReasoning keeps model calls to messages the keyword classifier is
// likely to get wrong: first contact, unknown intent, long sentences and
// known misspellings.
func ShouldUseReasoning(g Gate) bool {
	if !g.Enabled || g.AlreadyUsed || g.ActionID != "" {
		return false
	}
	if g.Meta != "" && g.Meta != MetaNone {
		return false
	}
	t := strings.TrimSpace(g.Text)
	if len([]rune(t)) < 3 {
		return false
	}
	if g.FirstTouch || g.BaseKind == IntentUnknown {
		return true
	}
	if textnorm.WordCount(t) >= 6 {
		return true
	}
	return typoPattern.MatchString(textnorm.Fold(t))
}

// Reasoner asks a language model to classify a message. It never returns an
// error: any failure yields a Decision with OK=false.
type Reasoner struct {
	client  llm.Client
	model   string
	timeout time.Duration
	logger  *logging.Logger
	schema  string
}

// NewReasoner wraps client. A zero timeout uses eight seconds.
func NewReasoner(client llm.Client, model string, timeout time.Duration, logger *logging.Logger) *Reasoner {
	if client == nil {
		panic("bot: llm client cannot be nil")
	}
	if timeout <= 0 {
		timeout = defaultReasoningTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reasoner{
		client:  client,
		model:   model,
		timeout: timeout,
		logger:  logger,
		schema:  decisionSchema(),
	}
}

func decisionSchema() string {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	b, err := json.Marshal(r.Reflect(&decisionPayload{}))
	if err != nil {
		return ""
	}
	return string(b)
}

// Decide classifies in.Text within the reasoner's timeout.
func (r *Reasoner) Decide(ctx context.Context, in ReasoningInput) Decision {
	ctx, span := botTracer.Start(ctx, "bot.reasoning")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.Complete(callCtx, llm.Request{
		Model:       r.model,
		System:      []string{reasoningSystemPrompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: r.prompt(in)}},
		MaxTokens:   reasoningMaxTokens,
		Temperature: reasoningTemperature,
	})
	if err != nil {
		span.RecordError(err)
		r.logger.Warn("reasoning call failed, using keyword classifier", "error", err)
		return Decision{Kind: IntentUnknown, UsedReasoning: true}
	}

	d := ParseDecision(resp.Text)
	span.SetAttributes(
		attribute.String("retailbot.reasoning.kind", string(d.Kind)),
		attribute.Bool("retailbot.reasoning.ok", d.OK),
	)
	return d
}

func (r *Reasoner) prompt(in ReasoningInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mensaje del cliente: %q\n\n", in.Text)
	b.WriteString("Contexto (si existe):\n")
	fmt.Fprintf(&b, "- lastQuery: %s\n", in.LastQuery)
	fmt.Fprintf(&b, "- lastResultsQuery: %s\n", in.LastResultsQuery)
	fmt.Fprintf(&b, "- wantsInstallments: %t\n", in.WantsInstallments)
	recent := in.Recent
	if len(recent) > reasoningRecentMessages {
		recent = recent[len(recent)-reasoningRecentMessages:]
	}
	if len(recent) > 0 {
		b.WriteString("- Mensajes recientes del cliente:\n")
		for _, m := range recent {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	b.WriteString("\nReglas:\n")
	b.WriteString("- kind: SEARCH si pide un producto o categoría. query: resumí lo que busca (ej: \"ps5\", \"silla gamer\", \"notebook gamer\").\n")
	b.WriteString("- kind: MORE si pide más opciones de lo último.\n")
	b.WriteString("- kind: PRICE si pide precio (si no especifica, usar lastQuery/lastResultsQuery como query).\n")
	b.WriteString("- kind: INSTALLMENTS si habla de cuotas/financiación.\n")
	b.WriteString("- kind: HUMAN si pide asesor/humano.\n")
	b.WriteString("- kind: BUY_SIGNAL si quiere señar/reservar/comprar/coordinar.\n")
	b.WriteString("- kind: UNKNOWN si no se entiende.\n")
	b.WriteString("- Si menciona presupuesto o \"barato\", podés setear maxPriceArs aproximado si hay un número en ARS.\n")
	if r.schema != "" {
		b.WriteString("\nJSON Schema de la respuesta:\n")
		b.WriteString(r.schema)
		b.WriteString("\n")
	}
	b.WriteString("\nFormato JSON:\n")
	b.WriteString(`{"kind":"SEARCH|PRICE|INSTALLMENTS|HUMAN|MORE|UNKNOWN|BUY_SIGNAL","query":"...", "maxPriceArs":123456, "wantsInstallments":false, "confidence":0.0}`)
	return b.String()
}

var jsonBlock = regexp.MustCompile(`(?s)\{.*\}`)

// ParseDecision reads a model answer: a direct JSON parse first, then the
// first brace-delimited block. Anything that does not validate becomes
// UNKNOWN with OK=false.
func ParseDecision(text string) Decision {
	failed := Decision{Kind: IntentUnknown, UsedReasoning: true}

	t := strings.TrimSpace(text)
	var p decisionPayload
	if err := json.Unmarshal([]byte(t), &p); err != nil {
		block := jsonBlock.FindString(t)
		if block == "" {
			return failed
		}
		p = decisionPayload{}
		if err := json.Unmarshal([]byte(block), &p); err != nil {
			return failed
		}
	}

	kind := IntentKind(p.Kind)
	if !kind.Valid() {
		return failed
	}
	d := Decision{Kind: kind, UsedReasoning: true, OK: true}
	if p.Query != nil {
		d.Query = strings.TrimSpace(*p.Query)
	}
	if p.MaxPriceArs != nil {
		v := *p.MaxPriceArs
		if v <= 0 || v != math.Trunc(v) {
			return failed
		}
		d.MaxPriceARS = v
	}
	if p.WantsInstallments != nil {
		d.WantsInstallments = *p.WantsInstallments
	}
	if p.Confidence != nil {
		c := *p.Confidence
		if c < 0 || c > 1 {
			return failed
		}
		d.Confidence = c
	}
	return d
}
