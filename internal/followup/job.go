// Package followup schedules and delivers delayed messages to customers.
package followup

import (
	"context"
	"errors"
	"time"
)

// Kind names a follow-up message.
type Kind string

const (
	// KindHotLostReminder nudges a lead the bot reclaimed from an idle seller.
	KindHotLostReminder Kind = "HOT_LOST_REMINDER"
	// KindAfterHours reaches out once sellers are back online.
	KindAfterHours Kind = "AFTER_HOURS_FOLLOWUP"
)

var (
	// ErrSkipped means the follow-up no longer applies and must not be retried.
	ErrSkipped = errors.New("followup: skipped")
	// ErrNotReady means the follow-up should be tried again later.
	ErrNotReady = errors.New("followup: not ready")
)

// Job is one scheduled follow-up. It is stored as the ZSET member, so every
// job carries a unique id.
type Job struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Kind           Kind   `json:"kind"`
	Attempt        int    `json:"attempt"`
}

// Scheduler queues a follow-up for later delivery.
type Scheduler interface {
	Schedule(ctx context.Context, conversationID string, kind Kind, delay time.Duration) error
}

// HotLostReminder is the text sent to a reclaimed lead.
func HotLostReminder() string {
	return "Te escribo por si quedó pendiente 🙌 ¿Querés que te pase stock/precio actualizado o cuotas?"
}

// AfterHoursMessage is sent once a seller is online again.
func AfterHoursMessage() string {
	return "Ya estamos en horario 👋 ¿Querés que un asesor te ayude a cerrar la compra?"
}
