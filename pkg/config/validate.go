package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration against the struct validation tags plus
// the cross-field constraints the tags cannot express.
func Validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.Validation.MinWidth > cfg.Validation.MaxWidth {
		return fmt.Errorf("validation.min_width (%d) exceeds validation.max_width (%d)",
			cfg.Validation.MinWidth, cfg.Validation.MaxWidth)
	}
	if cfg.Validation.MinHeight > cfg.Validation.MaxHeight {
		return fmt.Errorf("validation.min_height (%d) exceeds validation.max_height (%d)",
			cfg.Validation.MinHeight, cfg.Validation.MaxHeight)
	}

	if cfg.RateLimit.Enabled && cfg.Redis.Addr == "" {
		return errors.New("rate_limit.enabled requires redis.addr")
	}

	return nil
}

// describeFieldError renders one validation failure as a readable message.
func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
