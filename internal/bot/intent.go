package bot

import (
	"strings"

	"github.com/wolfman30/retail-chat-bot/internal/textnorm"
)

// IntentKind is the main classification of a customer message.
type IntentKind string

const (
	IntentSearch       IntentKind = "SEARCH"
	IntentPrice        IntentKind = "PRICE"
	IntentInstallments IntentKind = "INSTALLMENTS"
	IntentHuman        IntentKind = "HUMAN"
	IntentMore         IntentKind = "MORE"
	IntentBuySignal    IntentKind = "BUY_SIGNAL"
	IntentUnknown      IntentKind = "UNKNOWN"
)

// IntentKinds lists every kind, used to constrain model output.
var IntentKinds = []IntentKind{
	IntentSearch, IntentPrice, IntentInstallments, IntentHuman, IntentMore, IntentUnknown, IntentBuySignal,
}

// Valid reports whether k is a known intent kind.
func (k IntentKind) Valid() bool {
	for _, known := range IntentKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Intent is the classifier output.
type Intent struct {
	Kind       IntentKind `json:"kind"`
	Query      string     `json:"query,omitempty"`
	ScoreDelta int        `json:"score_delta"`
}

// scoreDeltas is the fixed score table for text classifications. Button
// actions carry their own deltas.
var scoreDeltas = map[IntentKind]int{
	IntentBuySignal:    6,
	IntentHuman:        4,
	IntentInstallments: 2,
	IntentPrice:        2,
	IntentMore:         1,
	IntentSearch:       1,
	IntentUnknown:      0,
}

// ScoreDelta returns the fixed score contribution of kind.
func ScoreDelta(kind IntentKind) int {
	return scoreDeltas[kind]
}

var (
	buyKeywords = []string{
		"lo llevo", "llevo", "comprar", "compro", "reservo", "reserva", "sena", "paso",
		"transferencia", "retiro", "cuando puedo pasar", "me lo guardas",
	}
	humanKeywords = []string{
		"hablar con alguien", "asesor", "vendedor", "humano", "atencion", "me atendes", "me atiendes",
	}
	installmentKeywords = []string{"pago en cuotas", "cuota*", "financi*", "tarjeta*", "plan"}
	priceKeywords       = []string{"precio", "cuanto sale", "cuanto esta", "vale", "valor"}
	moreKeywords        = []string{
		"mas opciones", "otra opcion", "ver opciones", "opciones", "mas", "otras", "otra",
		"dale", "de una", "mandame", "manda", "mostrame", "seguimos",
	}
	productNouns = []string{
		"silla*", "gamer", "ps5", "play*", "joystick*", "mouse", "teclado*", "monitor*",
		"auricular*", "parlante*", "notebook*", "pc*",
	}
)

// Classify maps a message to an intent. Button ids resolve through a fixed
// table. Text goes through the keyword sets in priority order, then the
// short-utterance fallback. Keywords ending in "*" are stems.
func Classify(text, actionID string) Intent {
	if actionID != "" {
		if intent, ok := classifyAction(actionID); ok {
			return intent
		}
	}

	raw := strings.TrimSpace(text)
	t := textnorm.Fold(raw)

	switch {
	case containsAny(t, buyKeywords):
		return Intent{Kind: IntentBuySignal, ScoreDelta: ScoreDelta(IntentBuySignal)}
	case containsAny(t, humanKeywords):
		return Intent{Kind: IntentHuman, ScoreDelta: ScoreDelta(IntentHuman)}
	case containsAny(t, installmentKeywords):
		return Intent{Kind: IntentInstallments, ScoreDelta: ScoreDelta(IntentInstallments)}
	case containsAny(t, priceKeywords):
		return Intent{Kind: IntentPrice, ScoreDelta: ScoreDelta(IntentPrice)}
	case containsAny(t, moreKeywords):
		return Intent{Kind: IntentMore, ScoreDelta: ScoreDelta(IntentMore)}
	case containsAny(t, productNouns):
		return Intent{Kind: IntentSearch, Query: raw, ScoreDelta: ScoreDelta(IntentSearch)}
	}

	if textnorm.WordCount(t) <= 4 && len([]rune(raw)) >= 2 {
		return Intent{Kind: IntentSearch, Query: raw, ScoreDelta: ScoreDelta(IntentSearch)}
	}
	return Intent{Kind: IntentUnknown}
}

func classifyAction(actionID string) (Intent, bool) {
	switch {
	case actionID == ActionHuman:
		return Intent{Kind: IntentHuman, ScoreDelta: 5}, true
	case actionID == ActionInstallments:
		return Intent{Kind: IntentInstallments, ScoreDelta: 2}, true
	case actionID == ActionMore:
		return Intent{Kind: IntentMore, ScoreDelta: 1}, true
	case actionID == ActionBuy:
		return Intent{Kind: IntentBuySignal, ScoreDelta: 6}, true
	case strings.HasPrefix(actionID, ActionPickPrefix):
		query := strings.TrimSpace(strings.TrimPrefix(actionID, ActionPickPrefix))
		if query == "" {
			return Intent{}, false
		}
		return Intent{Kind: IntentSearch, Query: query, ScoreDelta: 2}, true
	}
	return Intent{}, false
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if textnorm.ContainsKeyword(text, kw) {
			return true
		}
	}
	return false
}

// hasIntentKeyword reports whether folded text hits any keyword set.
func hasIntentKeyword(text string) bool {
	for _, set := range [][]string{buyKeywords, humanKeywords, installmentKeywords, priceKeywords, moreKeywords, productNouns} {
		if containsAny(text, set) {
			return true
		}
	}
	return false
}

// PickAction builds the button id that searches for query.
func PickAction(query string) string {
	return ActionPickPrefix + query
}
