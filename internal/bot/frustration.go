package bot

import (
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/internal/textnorm"
)

// FrustrationDecay is subtracted from the persisted score on neutral messages.
const FrustrationDecay = 0.25

// Frustration is the incremental signal extracted from one message.
type Frustration struct {
	Delta float64
	Tag   string
}

type frustrationRule struct {
	pattern *regexp.Regexp
	tag     string
	delta   float64
}

// Rules are checked in order against folded text; the first hit wins.
var frustrationRules = []frustrationRule{
	{regexp.MustCompile(`\b(no\s+entiendo|explica|explicame|no\s+me\s+queda\s+claro)\b`), "CONFUSED", 2},
	{regexp.MustCompile(`\b(una\s+locura|carisimo|carisima|re\s+caro|me\s+estas\s+cargando)\b`), "PRICE_SHOCK", 2},
	{regexp.MustCompile(`\b(ya\s+te\s+dije|te\s+dije|otra\s+vez|de\s+nuevo)\b`), "REPEAT", 1},
	{regexp.MustCompile(`\b(malo|pesimo|horrible|estafa)\b`), "NEG_REVIEW", 2},
}

var (
	shoutPattern = regexp.MustCompile(`[A-ZÁÉÍÓÚÑ]{6,}`)
	punctPattern = regexp.MustCompile(`(!{3,}|\?{3,})`)
)

// ScoreFrustration looks for frustration markers in text. A zero delta means
// the message is neutral.
func ScoreFrustration(text string) Frustration {
	t := textnorm.Fold(text)
	if strings.TrimSpace(t) == "" {
		return Frustration{}
	}
	for _, rule := range frustrationRules {
		if rule.pattern.MatchString(t) {
			return Frustration{Delta: rule.delta, Tag: rule.tag}
		}
	}
	if utf8.RuneCountInString(text) >= 10 && shoutPattern.MatchString(text) {
		return Frustration{Delta: 1, Tag: "CAPS"}
	}
	if punctPattern.MatchString(text) {
		return Frustration{Delta: 1, Tag: "PUNCT"}
	}
	return Frustration{}
}

// ApplyFrustration folds a message signal into the persisted score: a hit
// raises it (capped at 10) and stamps the tag, a neutral message decays it.
func ApplyFrustration(state *conversation.Frustration, signal Frustration, now time.Time) {
	if signal.Delta > 0 {
		at := now.UTC()
		state.Score = math.Min(conversation.MaxFrustration, state.Score+signal.Delta)
		state.LastAt = &at
		state.LastTag = signal.Tag
		return
	}
	state.Score = math.Max(0, state.Score-FrustrationDecay)
}
