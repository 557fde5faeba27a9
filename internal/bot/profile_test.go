package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractProfileHints(t *testing.T) {
	got := ExtractProfileHints("Hola, me llamo Juan Pérez y vivo en Palermo, tengo $250.000 para gastar")
	assert.Equal(t, "Juan Pérez", got.Name)
	assert.Equal(t, "Palermo", got.Zone)
	assert.Equal(t, int64(250000), got.BudgetARS)
	assert.Empty(t, got.FinancingHint)
}

func TestExtractProfileHints_SoyDeIsAZone(t *testing.T) {
	got := ExtractProfileHints("soy de Quilmes")
	assert.Empty(t, got.Name)
	assert.Equal(t, "Quilmes", got.Zone)
}

func TestExtractProfileHints_FinancingAndPlainBudget(t *testing.T) {
	got := ExtractProfileHints("lo pago con tarjeta, hasta $90000")
	assert.Equal(t, "Cuotas", got.FinancingHint)
	assert.Equal(t, int64(90000), got.BudgetARS)
}

func TestExtractProfileHints_Nothing(t *testing.T) {
	got := ExtractProfileHints("silla gamer")
	assert.Empty(t, got.Name)
	assert.Empty(t, got.Zone)
	assert.Zero(t, got.BudgetARS)
	assert.Empty(t, got.FinancingHint)
}
