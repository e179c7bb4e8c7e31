// package validation provides helper functions for request data validation.
// It uses the go-playground/validator library and includes custom validation rules.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/avoronov/gitpulse/internal/domain"
)

var validate = validator.New()

// init registers custom validation rules with the validator instance.
func init() {
	// "metric_period" restricts a field to the known rollup bucket sizes.
	err := validate.RegisterValidation("metric_period", func(fl validator.FieldLevel) bool {
		switch domain.MetricPeriod(fl.Field().String()) {
		case "", domain.PeriodHourly, domain.PeriodDaily, domain.PeriodWeekly,
			domain.PeriodMonthly, domain.PeriodQuarterly, domain.PeriodYearly:
			// Empty is handled by the 'required' tag where needed.
			return true
		default:
			return false
		}
	})
	if err != nil {
		panic(fmt.Sprintf("failed to register custom validation: %v", err))
	}

	// "metric_scope" restricts a field to the known sample scopes.
	err = validate.RegisterValidation("metric_scope", func(fl validator.FieldLevel) bool {
		switch domain.MetricScope(fl.Field().String()) {
		case "", domain.ScopeActor, domain.ScopeRepository, domain.ScopeTeam:
			return true
		default:
			return false
		}
	})
	if err != nil {
		panic(fmt.Sprintf("failed to register custom validation: %v", err))
	}
}

// ValidationError is a custom error type that holds a slice of validation error messages.
type ValidationError struct {
	Errors []string
}

// Error returns a single string concatenating all validation error messages.
func (v *ValidationError) Error() string {
	return strings.Join(v.Errors, ", ")
}

// ValidateStruct performs validation on a given struct based on its validation tags.
// If validation fails, it returns a *ValidationError with user-friendly messages.
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors []string

		for _, err := range err.(validator.ValidationErrors) {
			var message string

			switch err.Tag() {
			case "metric_period":
				message = fmt.Sprintf(
					"field '%s' must be one of: hourly, daily, weekly, monthly, quarterly, yearly",
					err.Field(),
				)
			case "metric_scope":
				message = fmt.Sprintf(
					"field '%s' must be one of: actor, repository, team",
					err.Field(),
				)
			default:
				message = fmt.Sprintf(
					"field '%s' failed on the '%s' tag",
					err.Field(),
					err.Tag(),
				)
			}
			validationErrors = append(validationErrors, message)
		}

		return &ValidationError{Errors: validationErrors}
	}

	return nil
}
