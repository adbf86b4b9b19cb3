package feedback

import (
	"context"

	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/desbank/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// solubilityWarnThreshold flags measurements far outside the usual g/L range
// reported for deep eutectic solvents; they are accepted but logged.
const solubilityWarnThreshold = 1000.0

// validateResult normalizes and checks an experiment result in place.
// A formed liquid must carry a non-negative solubility. A failed synthesis
// with a positive solubility is contradictory; the solubility is dropped with
// a warning rather than rejecting plausible lab data over a form mistake.
func validateResult(ctx context.Context, result *model.ExperimentResult) error {
	if result == nil {
		return goerr.Wrap(model.ErrInvalidExperiment, "experiment result is required")
	}

	if result.IsLiquidFormed {
		if result.Solubility == nil {
			return goerr.Wrap(model.ErrInvalidExperiment,
				"solubility is required when a liquid phase formed")
		}
		if *result.Solubility < 0 {
			return goerr.Wrap(model.ErrInvalidExperiment, "solubility must be non-negative",
				goerr.V("solubility", *result.Solubility))
		}
		if *result.Solubility > solubilityWarnThreshold {
			logging.From(ctx).Warn("solubility is unusually high, accepting as-is",
				"solubility", *result.Solubility, "unit", result.SolubilityUnit)
		}
		return nil
	}

	if result.Solubility != nil && *result.Solubility > 0 {
		logging.From(ctx).Warn("dropping solubility reported without a liquid phase",
			"solubility", *result.Solubility)
		result.Solubility = nil
	}

	return nil
}
