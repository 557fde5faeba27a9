package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/retail-chat-bot/internal/conversation"
)

func TestScoreFrustration(t *testing.T) {
	tests := []struct {
		text  string
		tag   string
		delta float64
	}{
		{"no entiendo nada", "CONFUSED", 2},
		{"es carísimo eso", "PRICE_SHOCK", 2},
		{"ya te dije que no", "REPEAT", 1},
		{"pésimo servicio", "NEG_REVIEW", 2},
		{"QUIERO LA PLAY YA", "CAPS", 1},
		{"PLAYSTATION", "CAPS", 1},
		{"hola???", "PUNCT", 1},
		{"dale!!!", "PUNCT", 1},
		{"CORTO", "", 0},
		{"silla gamer", "", 0},
		{"", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := ScoreFrustration(tt.text)
			assert.Equal(t, tt.tag, got.Tag)
			assert.Equal(t, tt.delta, got.Delta)
		})
	}
}

func TestApplyFrustration(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var state conversation.Frustration

	ApplyFrustration(&state, Frustration{Delta: 2, Tag: "CONFUSED"}, now)
	assert.Equal(t, 2.0, state.Score)
	assert.Equal(t, "CONFUSED", state.LastTag)
	if assert.NotNil(t, state.LastAt) {
		assert.True(t, state.LastAt.Equal(now))
	}

	ApplyFrustration(&state, Frustration{}, now.Add(time.Minute))
	assert.Equal(t, 1.75, state.Score)
	assert.True(t, state.LastAt.Equal(now), "decay must not move lastAt")

	for i := 0; i < 20; i++ {
		ApplyFrustration(&state, Frustration{}, now)
	}
	assert.Equal(t, 0.0, state.Score)

	for i := 0; i < 10; i++ {
		ApplyFrustration(&state, Frustration{Delta: 2, Tag: "NEG_REVIEW"}, now)
	}
	assert.Equal(t, conversation.MaxFrustration, state.Score)
}
