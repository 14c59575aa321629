package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"fuel-pricing/core/types"
	"fuel-pricing/core/units"
	perrors "fuel-pricing/internal/errors"
)

// prepare fills defaults and rejects malformed input
func (e *Engine) prepare(in *types.ScenarioInput) error {
	if in.OutputUnit.IsZero() {
		in.OutputUnit = e.outputUnit
	}
	in.UpliftAt = in.UpliftAt.UTC()

	if err := e.validate.Struct(in); err != nil {
		return perrors.Wrap(perrors.TypeInput, describe(err), err)
	}

	var problems []string
	if !in.Uplift.Amount.IsPositive() {
		problems = append(problems, "uplift amount must be positive")
	}
	if !in.Uplift.Unit.IsFluid() {
		problems = append(problems, fmt.Sprintf("uplift unit %q must be a mass or volume unit", in.Uplift.Unit.Code))
	}
	if !in.OutputUnit.UOM.IsFluid() {
		problems = append(problems, fmt.Sprintf("output unit %s must be priced per mass or volume", in.OutputUnit))
	}
	if in.Fuel.SpecificGravity.IsNegative() {
		problems = append(problems, "fuel specific gravity must not be negative")
	}
	if w := in.AircraftWeight; w != nil {
		if !w.Amount.IsPositive() || w.Unit.Kind != units.KindMass {
			problems = append(problems, "aircraft weight must be a positive mass")
		}
	}
	if len(problems) > 0 {
		return perrors.Input(strings.Join(problems, "; "))
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid scenario input"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return "invalid scenario input: " + strings.Join(parts, ", ")
}
