package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks cfg against its struct tags (required fields,
// oneof enums, numeric ranges). Called by Load after defaults are
// applied, so a field left at its zero value only fails validation
// when the tag requires a value ApplyDefaults didn't already supply.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w", err)
	}
	return nil
}
