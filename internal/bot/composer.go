package bot

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/wolfman30/retail-chat-bot/internal/catalog"
	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/internal/textnorm"
)

// Reply templates. Everything here is a pure function of its arguments; the
// handoff guard only touches the context it is given.

var arsPrinter = message.NewPrinter(language.MustParse("es-AR"))

// absentCategory matches categories the store does not carry, so the
// not-found reply can say so instead of suggesting a rephrase.
var absentCategory = regexp.MustCompile(`(auric|auricular|auriculares|headset|cascos)`)

const installmentsLine = "💳 Cuotas: *Visa/Mastercard 3 o 6 sin interés* (según promo)."

// FormatARS renders an amount the way es-AR shoppers read prices.
func FormatARS(amount float64) string {
	return arsPrinter.Sprint(number.Decimal(amount, number.MaxFractionDigits(2)))
}

func priceLabel(item catalog.Item) string {
	if item.Price != nil {
		return "$" + FormatARS(*item.Price)
	}
	return strings.TrimSpace(item.PriceRaw)
}

// SearchReply lists items numbered from 1 with a call to answer by number.
func SearchReply(items []catalog.Item, query string) string {
	if len(items) == 0 {
		if absentCategory.MatchString(textnorm.Fold(query)) {
			return strings.Join([]string{
				"No me figura *auriculares* en el catálogo que tengo cargado ahora.",
				"Si querés, decime otra cosa para buscar (ej: *PS5*, *Nintendo Switch*, *silla gamer*, *cables HDMI*, *juegos*).",
			}, "\n")
		}
		return fmt.Sprintf("No encontré algo exacto para “%s”.\nDecime *qué categoría* o un *modelo/marca* y te paso opciones.", query)
	}

	lines := make([]string, 0, len(items))
	for i, item := range items {
		name := item.Name
		if name == "" {
			name = "Producto"
		}
		line := fmt.Sprintf("%d) %s", i+1, name)
		if price := priceLabel(item); price != "" {
			line += " — " + price
		}
		lines = append(lines, line)
	}
	return fmt.Sprintf("Te paso opciones de *%s*:\n\n%s\n\nRespondé con el *número* y te paso el link + foto.", query, strings.Join(lines, "\n"))
}

// ItemDetail describes a single picked item.
func ItemDetail(item catalog.Item, wantsInstallments bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ *%s*\n", item.Name)
	if price := priceLabel(item); price != "" {
		fmt.Fprintf(&b, "💲 %s\n", price)
	}
	if item.URL != "" {
		fmt.Fprintf(&b, "🔗 %s\n", item.URL)
	}
	if wantsInstallments {
		b.WriteString("\n" + installmentsLine + "\nDecime si preferís *3* o *6*.")
	}
	b.WriteString("\n\n¿Querés ver más opciones parecidas? (decime *más*)")
	return b.String()
}

func InstallmentsReply() string {
	return strings.Join([]string{
		"Sí, trabajamos con *tarjetas Visa y Mastercard*.",
		"Tenemos *3 y 6 cuotas sin interés* (según banco/promos vigentes).",
		"Pasame qué producto te interesa y si preferís *3* o *6* y te guío.",
	}, " ")
}

// InstallmentsMoreHint invites paging the last query after the financing terms.
func InstallmentsMoreHint(query string) string {
	return fmt.Sprintf("\n\nSi querés, decime *más* y te muestro más opciones de *%s* para elegir por número.", query)
}

func AskClarify() string {
	return "¿Qué estás buscando? Si me decís *modelo / marca* o para qué lo necesitás, te paso opciones y precios."
}

// Welcome is the first-touch greeting.
func Welcome(business string) string {
	return strings.Join([]string{
		fmt.Sprintf("¡Hola! Soy el asistente de %s 👋", business),
		"Decime qué querés ver y te paso opciones al toque.",
		"",
		"Ejemplos: *PS5*, *Nintendo Switch*, *silla gamer*, *cable HDMI*, *juegos*.",
	}, "\n")
}

func SoftClose() string {
	return "Si querés, te lo armo *contado* o *en cuotas* (3/6 sin interés con Visa/Mastercard)."
}

// SoftCloseTail is appended to a result list. Customers who already asked
// about installments get the terms instead of the generic nudge.
func SoftCloseTail(wantsInstallments bool) string {
	if wantsInstallments {
		return "\n\n" + installmentsLine
	}
	return "\n\n" + SoftClose()
}

// MoreTail closes a paginated result list.
func MoreTail(wantsInstallments bool) string {
	if wantsInstallments {
		return "\n\n" + installmentsLine
	}
	return "\n\nSi querés cuotas, decime *cuotas*. Si querés más opciones, decime *más*."
}

// HandoffMessage announces the handoff once per ttl window. Inside the window
// it returns the clarify prompt so the customer is not told the same thing on
// every message. The acknowledgement is stamped on ctx.
func HandoffMessage(ctx *conversation.Context, now time.Time, ttl time.Duration) string {
	if last := ctx.Bot.HandoffAckAt; last != nil && now.Sub(*last) < ttl {
		return AskClarify()
	}
	at := now.UTC()
	ctx.Bot.HandoffAckAt = &at
	if ctx.Bot.HandoffRequestedAt == nil {
		ctx.Bot.HandoffRequestedAt = &at
	}
	return strings.Join([]string{
		"Perfecto 🙌 te paso con un asesor para cerrarlo rápido.",
		"Mientras tanto, decime tu *nombre* y *zona* y qué producto querés.",
	}, " ")
}

func AfterHoursCapture() string {
	return strings.Join([]string{
		"Estoy fuera de horario de asesores, pero te ayudo igual.",
		"Dejame tu *nombre* y *zona* y qué producto querés, y mañana te escriben con todo listo.",
	}, "\n")
}

// ResumeAck confirms the bot is back after a takeover.
func ResumeAck(lastQuery string) string {
	if lastQuery != "" {
		return fmt.Sprintf("Listo ✅ sigo yo. ¿Querés ver más opciones de *%s* o buscás otra cosa?", lastQuery)
	}
	return "Listo ✅ sigo yo. ¿Qué estás buscando?"
}

func WaitHumanAck() string {
	return "Dale 👍 en breve te escribe un asesor."
}

func TakeoverPrompt() string {
	return "Estoy con un asesor en el chat. Si querés, puedo ayudarte mientras te atienden. ¿Cómo preferís seguir?"
}

func OptOutReply() string {
	return "Perfecto. No te molesto más. Si más adelante querés algo, escribime cuando quieras."
}

// ThanksReply answers a thank-you, offering to page the last query.
func ThanksReply(lastQuery string, wantsInstallments bool) string {
	msg := "De una 🙌 Decime qué estás buscando y te paso opciones."
	if lastQuery != "" {
		msg = fmt.Sprintf("De una 🙌 Si querés ver *más opciones* de *%s*, decime *más*. Si buscás otra cosa, decime qué.", lastQuery)
	}
	if wantsInstallments {
		msg += "\n\nSi lo querés en cuotas: *Visa/Mastercard 3 o 6 sin interés* (según promo)."
	}
	return msg
}

func GreetingAgain() string {
	return "¡Hola! ¿Qué estás buscando?"
}

func NegativeReply() string {
	return "Ok 👍 Si querés, te paso alternativas más económicas o similares. Decime: ¿qué presupuesto tenés aprox y qué estabas buscando?"
}

// SelectionOutOfRange asks for a number inside the shown list.
func SelectionOutOfRange(n int) string {
	return fmt.Sprintf("Respondé con un número del *1* al *%d* 🙂\nSi querés volver a ver opciones, decime *más*.", n)
}

func SelectionWithoutResults() string {
	return "Decime qué estás buscando (ej: “silla gamer”, “mouse”, “teclado”) y te paso opciones para elegir por número."
}

func MoreWithoutQuery() string {
	return "¿Qué querés ver exactamente? (ej: *PS5*, *silla gamer*, *notebook*, *monitor*)"
}

func BarePriceQuestion() string {
	return "¿De qué producto querés el precio? Elegí una opción o decime cuál buscás."
}

func ClarifyEscalation() string {
	return "Te entiendo. Para no hacerte perder tiempo, ¿querés que te atienda un asesor humano?"
}

// Button sets.

func QuickPickButtons() []conversation.Button {
	return []conversation.Button{
		{ID: PickAction("ps5"), Title: "PS5"},
		{ID: PickAction("silla gamer"), Title: "Silla gamer"},
		{ID: ActionHuman, Title: "Asesor"},
	}
}

func PriceButtons() []conversation.Button {
	return []conversation.Button{
		{ID: PickAction("ps5"), Title: "PS5"},
		{ID: PickAction("silla gamer"), Title: "Silla gamer"},
		{ID: PickAction("notebook"), Title: "Notebook"},
	}
}

// ResumeButtons follow the resume acknowledgement; the first one pages the
// last query when there is one.
func ResumeButtons(lastQuery string) []conversation.Button {
	first := conversation.Button{ID: PickAction("ps5"), Title: "PS5"}
	if lastQuery != "" {
		first = conversation.Button{ID: ActionMore, Title: "Más opciones"}
	}
	return []conversation.Button{
		first,
		{ID: PickAction("silla gamer"), Title: "Silla gamer"},
		{ID: ActionInstallments, Title: "Cuotas"},
	}
}

func TakeoverButtons() []conversation.Button {
	return []conversation.Button{
		{ID: ActionResumeBot, Title: "Seguir con bot"},
		{ID: ActionWaitHuman, Title: "Esperar asesor"},
		{ID: ActionInstallments, Title: "Cuotas"},
	}
}

func ClarifyEscalationButtons() []conversation.Button {
	return []conversation.Button{
		{ID: ActionHuman, Title: "Sí, asesor"},
		{ID: PickAction("ps5"), Title: "PS5"},
		{ID: PickAction("notebook"), Title: "Notebook"},
	}
}
