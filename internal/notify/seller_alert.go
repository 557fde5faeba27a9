package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

// SellerAlerter e-mails a seller when a conversation is assigned to them.
// It implements handoff.Notifier.
type SellerAlerter struct {
	sender       EmailSender
	panelBaseURL string
	businessName string
	logger       *logging.Logger
}

func NewSellerAlerter(sender EmailSender, panelBaseURL, businessName string, logger *logging.Logger) *SellerAlerter {
	if sender == nil {
		panic("notify: email sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if businessName == "" {
		businessName = DefaultFromName
	}
	return &SellerAlerter{
		sender:       sender,
		panelBaseURL: strings.TrimRight(panelBaseURL, "/"),
		businessName: businessName,
		logger:       logger,
	}
}

// SellerAssigned sends the alert. Sellers without an e-mail are skipped.
func (a *SellerAlerter) SellerAssigned(ctx context.Context, conv *conversation.Conversation, seller *conversation.Agent) error {
	if conv == nil || seller == nil {
		return nil
	}
	to := strings.TrimSpace(seller.Email)
	if to == "" {
		a.logger.Debug("seller alert skipped: no e-mail", "seller_id", seller.ID)
		return nil
	}

	msg := EmailMessage{
		To:       Address{Name: seller.Name, Email: to},
		Subject:  fmt.Sprintf("[%s] Nuevo cliente esperando: %s", a.businessName, conv.Identity),
		Text:     a.body(conv, seller),
		Category: CategorySellerAlert,
	}
	if err := a.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: seller alert: %w", err)
	}
	return nil
}

func (a *SellerAlerter) body(conv *conversation.Conversation, seller *conversation.Agent) string {
	var b strings.Builder
	name := seller.Name
	if name == "" {
		name = "equipo"
	}
	fmt.Fprintf(&b, "Hola %s,\n\n", name)
	fmt.Fprintf(&b, "Te asignamos una conversación de WhatsApp con %s.\n", conv.Identity)
	fmt.Fprintf(&b, "Estado del lead: %s (score %d).\n", conv.LeadStatus, conv.IntentScore)
	if profile := conv.Context.Bot.Long; profile.Name != "" {
		fmt.Fprintf(&b, "Nombre del cliente: %s.\n", profile.Name)
	}
	if q := conv.Context.LastQuery; q != "" {
		fmt.Fprintf(&b, "Última búsqueda: %q.\n", q)
	}
	if a.panelBaseURL != "" {
		fmt.Fprintf(&b, "\nAbrir en el panel: %s/conversations/%s\n", a.panelBaseURL, conv.ID)
	}
	return b.String()
}
