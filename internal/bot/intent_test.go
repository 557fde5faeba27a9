package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Text(t *testing.T) {
	tests := []struct {
		text      string
		wantKind  IntentKind
		wantQuery string
		wantDelta int
	}{
		{"quiero comprar la ps5", IntentBuySignal, "", 6},
		{"lo llevo!", IntentBuySignal, "", 6},
		{"te reservo la silla", IntentBuySignal, "", 6},
		{"quiero hablar con un asesor", IntentHuman, "", 4},
		{"me atendés?", IntentHuman, "", 4},
		{"se puede pagar en cuotas?", IntentInstallments, "", 2},
		{"aceptan tarjetas", IntentInstallments, "", 2},
		{"cuánto sale?", IntentPrice, "", 2},
		{"precio", IntentPrice, "", 2},
		{"más opciones", IntentMore, "", 1},
		{"mas", IntentMore, "", 1},
		{"silla gamer", IntentSearch, "silla gamer", 1},
		{"tenes algun joystick para la play que sea inalambrico", IntentSearch, "tenes algun joystick para la play que sea inalambrico", 1},
		{"mascota", IntentSearch, "mascota", 1},
		{"me podrias decir si tienen envios a domicilio hoy", IntentUnknown, "", 0},
		{"x", IntentUnknown, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := Classify(tt.text, "")
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantQuery, got.Query)
			assert.Equal(t, tt.wantDelta, got.ScoreDelta)
		})
	}
}

func TestClassify_WholeWordKeywords(t *testing.T) {
	// "demasiado" contains "mas" but is not a request for more options.
	assert.NotEqual(t, IntentMore, Classify("demasiado caro", "").Kind)
	// "pasado" is not "paso".
	assert.NotEqual(t, IntentBuySignal, Classify("el año pasado", "").Kind)
}

func TestClassify_Actions(t *testing.T) {
	tests := []struct {
		actionID  string
		text      string
		wantKind  IntentKind
		wantQuery string
		wantDelta int
	}{
		{ActionHuman, "Asesor", IntentHuman, "", 5},
		{ActionInstallments, "Cuotas", IntentInstallments, "", 2},
		{ActionMore, "Más opciones", IntentMore, "", 1},
		{ActionBuy, "Comprar", IntentBuySignal, "", 6},
		{PickAction("silla gamer"), "Silla gamer", IntentSearch, "silla gamer", 2},
		{"UNKNOWN_BUTTON", "ps5", IntentSearch, "ps5", 1},
		{ActionPickPrefix, "ps5", IntentSearch, "ps5", 1},
	}

	for _, tt := range tests {
		t.Run(tt.actionID, func(t *testing.T) {
			got := Classify(tt.text, tt.actionID)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantQuery, got.Query)
			assert.Equal(t, tt.wantDelta, got.ScoreDelta)
		})
	}
}

func TestScoreDeltaTable(t *testing.T) {
	assert.Equal(t, 6, ScoreDelta(IntentBuySignal))
	assert.Equal(t, 0, ScoreDelta(IntentUnknown))
	assert.Equal(t, 0, ScoreDelta(IntentKind("NOPE")))
	for _, k := range IntentKinds {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, IntentKind("search").Valid())
}
