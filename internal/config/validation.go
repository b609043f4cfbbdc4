// Package config provides configuration management for the Apex Timing engine.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps the validator with custom validation rules
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new validator with custom validation functions
func NewValidator() *CustomValidator {
	v := validator.New()

	// Registration errors only occur for malformed tags; panic is fine here.
	if err := v.RegisterValidation("environment", validateEnvironment); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("loglevel", validateLogLevel); err != nil {
		panic(err)
	}

	return &CustomValidator{validator: v}
}

// Validate validates the entire configuration
func Validate(cfg *Config) error {
	cv := NewValidator()
	return cv.Validate(cfg)
}

// Validate validates the configuration using registered validation rules
func (cv *CustomValidator) Validate(cfg *Config) error {
	err := cv.validator.Struct(cfg)
	if err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return formatValidationErrors(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	return validateCrossField(cfg)
}

// validateCrossField checks constraints spanning multiple fields.
func validateCrossField(cfg *Config) error {
	if cfg.Ingestion.PersistTimeout < cfg.Ingestion.ToleranceWindow {
		return fmt.Errorf("ingestion.persist_timeout must not be shorter than the tolerance window")
	}
	if cfg.Notify.Enabled && cfg.Notify.WebhookURL == "" {
		return fmt.Errorf("notify.webhook_url is required when notifications are enabled")
	}
	return nil
}

// validateEnvironment validates the environment field
func validateEnvironment(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "development", "staging", "production":
		return true
	default:
		return false
	}
}

// validateLogLevel validates the log level field
func validateLogLevel(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// formatValidationErrors flattens validator errors into one readable error.
func formatValidationErrors(errs validator.ValidationErrors) error {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:")
	for _, fieldErr := range errs {
		sb.WriteString(fmt.Sprintf(" %s (%s);", fieldErr.Namespace(), fieldErr.Tag()))
	}
	return fmt.Errorf("%s", sb.String())
}
