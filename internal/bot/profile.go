package bot

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/internal/textnorm"
)

const letters = `[A-Za-zÁÉÍÓÚÑÜáéíóúñü]{2,}`

var (
	namePattern      = regexp.MustCompile(`(?i)(?:^|\s)(?:me llamo|mi nombre es|soy)\s+(` + letters + `(?:\s+` + letters + `)?)`)
	zonePattern      = regexp.MustCompile(`(?i)(?:^|\s)(?:soy de|zona|vivo en)\s+(` + letters + `(?:\s+` + letters + `)?)`)
	budgetPattern    = regexp.MustCompile(`\$\s?([0-9]{1,3}(?:\.[0-9]{3})+|[0-9]{4,})`)
	financingPattern = regexp.MustCompile(`\b(cuotas|financi\w*|tarjeta)\b`)
)

// ExtractProfileHints pulls durable profile facts out of a message. Only the
// fields it finds are set; the caller merges them into long-term memory.
func ExtractProfileHints(text string) conversation.LongMemory {
	raw := strings.TrimSpace(text)
	var out conversation.LongMemory

	if m := namePattern.FindStringSubmatch(raw); m != nil {
		name := strings.TrimSpace(m[1])
		// "soy de Palermo" names a place, not a person.
		if first := strings.ToLower(strings.Fields(name)[0]); first != "de" {
			out.Name = name
		}
	}
	if m := zonePattern.FindStringSubmatch(raw); m != nil {
		out.Zone = strings.TrimSpace(m[1])
	}
	if m := budgetPattern.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.ParseInt(strings.ReplaceAll(m[1], ".", ""), 10, 64); err == nil && n > 0 {
			out.BudgetARS = n
		}
	}
	if financingPattern.MatchString(textnorm.Fold(raw)) {
		out.FinancingHint = "Cuotas"
	}
	return out
}
