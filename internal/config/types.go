package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Duration is a time.Duration read from text. Both Go duration strings
// ("250ms", "1m30s") and bare integers, taken as seconds, are accepted.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	v, err := time.ParseDuration(s)
	if err != nil {
		secs, convErr := strconv.Atoi(s)
		if convErr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		v = time.Duration(secs) * time.Second
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", s)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.Duration().String()), nil }

// Duration converts d back to a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Secret is a credential. Printing or JSON-encoding it never shows the value.
type Secret string

const redactedSecret = "[REDACTED]"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redactedSecret
}

func (s Secret) GoString() string { return "config.Secret(" + redactedSecret + ")" }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// Value returns the raw credential.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a credential was configured.
func (s Secret) IsSet() bool { return s != "" }
