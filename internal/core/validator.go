package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"chronos/internal/types"
)

// Validator wraps go-playground/validator to register domain-specific rules
// and translate rule failures into the service error envelope. Field names in
// results use the json tag so clients see the wire name, not the Go name.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// FieldError describes a single failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationResult collects the failures from one ValidateStruct call.
type ValidationResult struct {
	Errors []FieldError
}

// IsValid reports whether the validated value passed every rule.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AppError converts the result into a wire error: nil when valid, otherwise
// a 400 validation error coded after the first failed rule with every field
// failure listed in the details.
func (r ValidationResult) AppError() *types.AppError {
	if r.IsValid() {
		return nil
	}

	first := r.Errors[0]
	fields := make([]map[string]any, 0, len(r.Errors))
	for _, fe := range r.Errors {
		fields = append(fields, map[string]any{
			"field":   fe.Field,
			"rule":    fe.Rule,
			"message": fe.Message,
		})
	}

	return types.NewAppErrorWithDetails(
		codeForRule(first.Rule),
		fmt.Sprintf("field %q %s", first.Field, first.Message),
		nil,
		map[string]any{"fields": fields},
	)
}

// NewValidator creates a new Validator and registers custom validation tags.
func NewValidator(logger *slog.Logger) *Validator {
	validate := validator.New()

	// Report wire names in validation errors.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	// longitude: geographic east longitude in degrees, [-180, 180].
	_ = validate.RegisterValidation("longitude", func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() != reflect.Float32 && field.Kind() != reflect.Float64 {
			return false
		}
		lon := field.Float()
		return !math.IsNaN(lon) && lon >= -180 && lon <= 180
	})

	return &Validator{
		validate: validate,
		logger:   logger,
	}
}

// ValidateStruct runs every registered rule against the struct's tagged
// fields and collects the failures.
func (v *Validator) ValidateStruct(s any) ValidationResult {
	err := v.validate.Struct(s)
	if err == nil {
		return ValidationResult{}
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// Programming error: ValidateStruct called on a non-struct.
		v.logger.Error("validator invoked on non-struct value", "error", err.Error())
		return ValidationResult{Errors: []FieldError{{
			Field:   "",
			Rule:    "struct",
			Message: "could not be validated",
		}}}
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("validator returned unexpected error type", "error", err.Error())
		return ValidationResult{Errors: []FieldError{{
			Field:   "",
			Rule:    "unknown",
			Message: "could not be validated",
		}}}
	}

	result := ValidationResult{Errors: make([]FieldError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		result.Errors = append(result.Errors, FieldError{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: messageForRule(fe.Tag(), fe.Param()),
		})
	}
	return result
}

// codeForRule maps a failed rule to the error code clients branch on.
func codeForRule(rule string) types.ErrorCode {
	switch rule {
	case "required":
		return types.ErrCodeValidationMissingField
	case "longitude":
		return types.ErrCodeValidationInvalidLon
	default:
		return types.ErrCodeValidationInvalidOption
	}
}

// messageForRule produces the client-facing description of a failed rule.
func messageForRule(rule, param string) string {
	switch rule {
	case "required":
		return "is required"
	case "longitude":
		return "must be a longitude between -180 and 180 degrees"
	case "oneof":
		return "must be one of: " + param
	case "min":
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	case "gte":
		return "must be greater than or equal to " + param
	case "lte":
		return "must be less than or equal to " + param
	default:
		return "is invalid"
	}
}
