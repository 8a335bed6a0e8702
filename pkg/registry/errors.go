package registry

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a broken registry or variant configuration. It is always
// fatal and raised before any build action starts.
type ConfigurationError struct {
	Variant string
	Key     string
	Msg     string
}

var _ error = (*ConfigurationError)(nil)

func (e *ConfigurationError) Error() string {
	if e.Variant != "" {
		return fmt.Sprintf("configuration error in variant %s: %s", e.Variant, e.Msg)
	}

	return "configuration error: " + e.Msg
}

// MissingKeyError is returned when a required configuration key is absent or empty.
func MissingKeyError(variant, key string) *ConfigurationError {
	return &ConfigurationError{
		Variant: variant,
		Key:     key,
		Msg:     fmt.Sprintf("missing required property %s", key),
	}
}

// UnknownVariantError is returned when a requested variant isn't registered.
type UnknownVariantError struct {
	Name      string
	Supported []string
}

var _ error = (*UnknownVariantError)(nil)

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("unknown variant %q, supported variants: %s", e.Name, strings.Join(e.Supported, ", "))
}
