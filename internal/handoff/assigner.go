// Package handoff routes escalated conversations to a human seller.
package handoff

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

var tracer = otel.Tracer("retailbot.internal.handoff")

// Notifier is told about a new assignment, e.g. to e-mail the seller.
type Notifier interface {
	SellerAssigned(ctx context.Context, conv *conversation.Conversation, seller *conversation.Agent) error
}

// Assignment is the outcome of TryAssignSeller.
type Assignment struct {
	// Seller is nil when nobody was assigned by this call.
	Seller *conversation.Agent
	// AlreadyAssigned is true when the conversation had an assignee before.
	AlreadyAssigned bool
	// NoSellers is true when no seller was online.
	NoSellers bool
}

// Assigner implements the least-loaded seller policy.
type Assigner struct {
	store    conversation.Store
	recorder *conversation.EventRecorder
	notifier Notifier
	logger   *logging.Logger
}

// NewAssigner creates an assigner writing events through recorder.
func NewAssigner(store conversation.Store, recorder *conversation.EventRecorder, logger *logging.Logger) *Assigner {
	if store == nil {
		panic("handoff: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if recorder == nil {
		recorder = conversation.NewEventRecorder(store, logger)
	}
	return &Assigner{store: store, recorder: recorder, logger: logger}
}

// WithNotifier sets a best-effort notifier called after each assignment.
func (a *Assigner) WithNotifier(n Notifier) *Assigner {
	a.notifier = n
	return a
}

// TryAssignSeller assigns the conversation to the online seller with the
// fewest open takeovers. It is a no-op when the conversation already has an
// assignee, so calling it on every escalation is safe. Ties go to the seller
// listed first. Counts are read live; two concurrent escalations can pick the
// same seller.
func (a *Assigner) TryAssignSeller(ctx context.Context, conversationID string) (Assignment, error) {
	ctx, span := tracer.Start(ctx, "handoff.try_assign")
	defer span.End()
	span.SetAttributes(attribute.String("retailbot.conversation_id", conversationID))

	conv, err := a.store.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return Assignment{}, nil
		}
		span.RecordError(err)
		return Assignment{}, fmt.Errorf("handoff: load conversation: %w", err)
	}
	if conv.AssignedAgentID != nil {
		return Assignment{AlreadyAssigned: true}, nil
	}

	sellers, err := a.store.ListSellersOnline(ctx)
	if err != nil {
		span.RecordError(err)
		return Assignment{}, fmt.Errorf("handoff: list sellers: %w", err)
	}
	if len(sellers) == 0 {
		if err := a.recorder.Record(ctx, conversationID, conversation.EventNoSellersOnline, map[string]any{}); err != nil {
			return Assignment{}, fmt.Errorf("handoff: record no sellers: %w", err)
		}
		return Assignment{NoSellers: true}, nil
	}

	chosen := sellers[0]
	best := -1
	for _, s := range sellers {
		n, err := a.store.CountTakeovers(ctx, s.ID)
		if err != nil {
			span.RecordError(err)
			return Assignment{}, fmt.Errorf("handoff: count takeovers for %s: %w", s.ID, err)
		}
		if best < 0 || n < best {
			best = n
			chosen = s
		}
	}

	assigned, err := a.store.Assign(ctx, conversationID, chosen.ID, conversation.LeadHot)
	if err != nil {
		span.RecordError(err)
		return Assignment{}, fmt.Errorf("handoff: assign: %w", err)
	}
	if !assigned {
		// Someone else assigned it between the read and the write.
		return Assignment{AlreadyAssigned: true}, nil
	}

	if err := a.recorder.Record(ctx, conversationID, conversation.EventAssignedSeller, map[string]any{
		"sellerId":   chosen.ID,
		"sellerName": chosen.Name,
	}); err != nil {
		return Assignment{}, fmt.Errorf("handoff: record assignment: %w", err)
	}
	a.logger.Info("seller assigned", "conversation_id", conversationID, "seller_id", chosen.ID, "open_takeovers", best)

	if a.notifier != nil {
		if err := a.notifier.SellerAssigned(ctx, conv, chosen); err != nil {
			a.logger.Warn("seller notification failed", "conversation_id", conversationID, "seller_id", chosen.ID, "error", err)
		}
	}
	return Assignment{Seller: chosen}, nil
}
