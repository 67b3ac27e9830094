package utils

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct validates a struct based on its validation tags
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError formats validation errors into readable messages
func formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var errors []string
		for _, e := range validationErrors {
			errors = append(errors, formatFieldError(e))
		}
		return fmt.Errorf(strings.Join(errors, "; "))
	}
	return err
}

// formatFieldError formats a single field validation error
func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "dive":
		return fmt.Sprintf("%s contains invalid values", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// ValidateStringLength validates string length with UTF-8 awareness
func ValidateStringLength(s string, minLength, maxLength int) error {
	length := utf8.RuneCountInString(s)
	if length < minLength {
		return fmt.Errorf("string too short: minimum %d characters required, got %d", minLength, length)
	}
	if maxLength > 0 && length > maxLength {
		return fmt.Errorf("string too long: maximum %d characters allowed, got %d", maxLength, length)
	}
	return nil
}

// ValidateRequired checks if a value is not empty
func ValidateRequired(value interface{}, fieldName string) error {
	if value == nil {
		return fmt.Errorf("%s is required", fieldName)
	}

	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s cannot be empty", fieldName)
		}
	case []interface{}:
		if len(v) == 0 {
			return fmt.Errorf("%s cannot be empty", fieldName)
		}
	case map[string]interface{}:
		if len(v) == 0 {
			return fmt.Errorf("%s cannot be empty", fieldName)
		}
	}

	return nil
}

// ValidationRule represents a reusable validation rule
type ValidationRule func(value interface{}) error

// StandardHeadValidation provides standard validation for schema head names.
func StandardHeadValidation() ValidationRule {
	return func(value interface{}) error {
		head, ok := value.(string)
		if !ok {
			return fmt.Errorf("head must be a string")
		}
		if err := ValidateRequired(head, "head"); err != nil {
			return err
		}
		return ValidateStringLength(head, 1, 200)
	}
}
