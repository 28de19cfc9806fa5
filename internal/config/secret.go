package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const redacted = "**********"

// Secret holds a credential. Every formatting path prints a redacted
// placeholder; the value itself is only available through Reveal.
type Secret struct {
	value string
}

// NewSecret wraps a raw credential.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// Reveal returns the raw credential.
func (s Secret) Reveal() string {
	return s.value
}

// IsEmpty reports whether the credential is blank.
func (s Secret) IsEmpty() bool {
	return strings.TrimSpace(s.value) == ""
}

func (s Secret) String() string {
	if s.value == "" {
		return ""
	}
	return redacted
}

// GoString keeps %#v from printing the value.
func (s Secret) GoString() string {
	return fmt.Sprintf("config.Secret(%q)", s.String())
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Secret) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		s.value = ""
	case string:
		s.value = v
	default:
		return errors.New("token must be a string")
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler and never emits the credential.
func (s Secret) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// ResolveSecret turns a reference of the form "env:NAME" into the value of
// the environment variable NAME. Any other value is returned as is,
// surrounding whitespace included.
func ResolveSecret(ref string) (string, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return "", errors.New("empty secret")
	}
	if strings.HasPrefix(trimmed, "env:") {
		key := strings.TrimPrefix(trimmed, "env:")
		if key == "" {
			return "", errors.New("env reference without variable name")
		}
		v := os.Getenv(key)
		if v == "" {
			return "", fmt.Errorf("env %s is empty", key)
		}
		return v, nil
	}
	return ref, nil
}
