package cli

import (
	"testing"

	"github.com/m-mizutani/gt"
)

func TestParseResult(t *testing.T) {
	t.Run("valid result", func(t *testing.T) {
		result := gt.R1(parseResult([]byte(`{
			"is_liquid_formed": true,
			"solubility": 32.5,
			"solubility_unit": "g/L",
			"notes": "clear at 25C"
		}`))).NoError(t)
		gt.True(t, result.IsLiquidFormed)
		gt.Equal(t, *result.Solubility, 32.5)
		gt.Equal(t, result.SolubilityUnit, "g/L")
	})

	t.Run("missing required field", func(t *testing.T) {
		_, err := parseResult([]byte(`{"solubility": 10}`))
		gt.Error(t, err)
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := parseResult([]byte(`{"is_liquid_formed": true, "solubility": "a lot"}`))
		gt.Error(t, err)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := parseResult([]byte(`liquid formed`))
		gt.Error(t, err)
	})
}
