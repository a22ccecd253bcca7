package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var sqlIdentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// validate is the global validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	_ = validate.RegisterValidation("env", validateEnvironment)
	_ = validate.RegisterValidation("sqlident", validateSQLIdent)
	validate.RegisterStructValidation(validateCrossSection, Config{})
}

// ConfigError represents a validation error for a specific field.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of config errors.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// ValidateWithDetails performs validation and returns detailed errors.
func ValidateWithDetails(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var details ValidationErrors
			for _, fe := range validationErrors {
				details = append(details, ConfigError{
					Field:   fe.Namespace(),
					Message: formatValidationError(fe),
					Value:   fe.Value(),
				})
			}
			return details
		}
		return err
	}
	return nil
}

// formatValidationError converts validator.FieldError to a human-readable message.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "required_if":
		return fmt.Sprintf("this field is required when %s", fe.Param())
	case "required_for":
		return fmt.Sprintf("this field is required when %s", fe.Param())
	case "env":
		return "must be one of [development staging production]"
	case "sqlident":
		return "must be a plain SQL identifier"
	case "probability_sum":
		return "playful and follow-up probabilities must sum to at most 1"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// validateEnvironment is a custom validator for environment values.
func validateEnvironment(fl validator.FieldLevel) bool {
	env := fl.Field().String()
	validEnvs := []string{"development", "staging", "production"}
	for _, valid := range validEnvs {
		if env == valid {
			return true
		}
	}
	return false
}

// validateSQLIdent accepts identifiers that are safe to interpolate into DDL.
func validateSQLIdent(fl validator.FieldLevel) bool {
	return sqlIdentPattern.MatchString(fl.Field().String())
}

// validateCrossSection checks rules that span more than one section.
func validateCrossSection(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)

	switch cfg.Storage.Type {
	case "badger":
		if cfg.Storage.Badger.Path == "" {
			sl.ReportError(cfg.Storage.Badger.Path, "Storage.Badger.Path", "Path", "required_for", "storage.type=badger")
		}
	case "sqlite":
		if cfg.Storage.SQLite.Path == "" {
			sl.ReportError(cfg.Storage.SQLite.Path, "Storage.SQLite.Path", "Path", "required_for", "storage.type=sqlite")
		}
	case "postgres":
		if cfg.Storage.Postgres.DSN == "" {
			sl.ReportError(cfg.Storage.Postgres.DSN, "Storage.Postgres.DSN", "DSN", "required_for", "storage.type=postgres")
		}
	}

	if cfg.Facts.Store == "redis" && cfg.Facts.Redis.Address == "" {
		sl.ReportError(cfg.Facts.Redis.Address, "Facts.Redis.Address", "Address", "required_for", "facts.store=redis")
	}

	if sum := cfg.Composer.PlayfulProbability + cfg.Composer.FollowUpProbability; sum > 1 {
		sl.ReportError(sum, "Composer.FollowUpProbability", "FollowUpProbability", "probability_sum", "")
	}
}
