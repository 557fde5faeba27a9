package bot

import (
	"regexp"
	"strings"

	"github.com/wolfman30/retail-chat-bot/internal/textnorm"
)

// MetaIntent is a conversation-control utterance that short-circuits the
// normal intent pipeline.
type MetaIntent string

const (
	MetaNone      MetaIntent = "NONE"
	MetaResumeBot MetaIntent = "RESUME_BOT"
	MetaWaitHuman MetaIntent = "WAIT_HUMAN"
	MetaStop      MetaIntent = "STOP"
	MetaThanks    MetaIntent = "THANKS"
	MetaGreeting  MetaIntent = "GREETING"
	MetaNegative  MetaIntent = "NEGATIVE"
)

// Button ids understood by the detectors.
const (
	ActionResumeBot    = "BOT"
	ActionWaitHuman    = "WAIT_HUMAN"
	ActionHuman        = "HUMAN"
	ActionInstallments = "INSTALLMENTS"
	ActionMore         = "MORE"
	ActionBuy          = "BUY"
	ActionPickPrefix   = "PICK:"
)

var (
	stopPattern     = regexp.MustCompile(`\b(stop|baja|cancelar|no me escribas|no\s+molestes|no\s+quiero)\b`)
	thanksPattern   = regexp.MustCompile(`\b(gracias|genial|joya|perfecto|okey|ok)\b`)
	greetingPattern = regexp.MustCompile(`\b(hola|buenas\s+tardes|buenas\s+noches|buenas|buen\s+dia)\b`)
	negativePattern = regexp.MustCompile(`\b(no\s+gracias|no\s+quiero|no\s+me\s+sirve|ni\s+ahi)\b`)
	resumePattern   = regexp.MustCompile(`\b(volver\s+con\s+bot|bot\s+on|seguimos\s+con\s+bot)\b`)
)

// DetectMetaIntent recognizes control utterances. A button id wins over the
// text. GREETING only matches when at most one word is left once greeting
// words are removed and that word is not a product or intent keyword, so
// "hola ps5" still reaches search while "hola gente" is a greeting.
func DetectMetaIntent(text, actionID string) MetaIntent {
	switch actionID {
	case ActionResumeBot:
		return MetaResumeBot
	case ActionWaitHuman:
		return MetaWaitHuman
	}

	t := textnorm.Fold(text)
	if strings.TrimSpace(t) == "" {
		return MetaNone
	}
	if stopPattern.MatchString(t) {
		return MetaStop
	}
	// "no gracias" is a refusal, not a thank-you.
	if negativePattern.MatchString(t) {
		return MetaNegative
	}
	if thanksPattern.MatchString(t) {
		return MetaThanks
	}
	if greetingPattern.MatchString(t) {
		rest := strings.TrimSpace(greetingPattern.ReplaceAllString(t, ""))
		switch n := textnorm.WordCount(rest); {
		case n == 0:
			return MetaGreeting
		case n == 1 && !hasIntentKeyword(rest):
			return MetaGreeting
		}
	}
	return MetaNone
}

// WantsResume reports whether text asks to go back to the bot in words
// rather than with the resume button.
func WantsResume(text string) bool {
	return resumePattern.MatchString(textnorm.Fold(text))
}
