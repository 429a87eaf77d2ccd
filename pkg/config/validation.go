package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// The scheme must be registered and its options must decode
	f, err := lookup(cfg.Operator.Scheme)
	if err != nil {
		return fmt.Errorf("operator.scheme: %w", err)
	}
	if err := f.Check(cfg.Operator.Options); err != nil {
		return fmt.Errorf("operator.options: %w", err)
	}

	if cfg.Layers.Throttle.Enabled {
		if _, err := buildLimiter(cfg.Layers.Throttle); err != nil {
			return err
		}
	}
	if cfg.Layers.Retry.Enabled && cfg.Layers.Retry.MaxAttempts < 1 {
		return fmt.Errorf("layers.retry: max_attempts must be at least 1 when enabled")
	}
	if cfg.Layers.Concurrency.Enabled && cfg.Layers.Concurrency.Permits < 1 {
		return fmt.Errorf("layers.concurrency: permits must be at least 1 when enabled")
	}
	if cfg.Layers.Metrics && !cfg.Metrics.Enabled {
		return fmt.Errorf("layers.metrics requires metrics.enabled")
	}
	if cfg.Layers.Tracing && !cfg.Tracing.Enabled {
		return fmt.Errorf("layers.tracing requires tracing.enabled")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
