package config

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration read from text such as "10s" or "1h".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: negative", text)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// ByteSize is a size limit such as server.max_frame_bytes. It accepts a
// plain byte count or a count with a B, KiB, MiB, KB or MB suffix.
type ByteSize int

var byteUnits = []struct {
	suffix string
	scale  int
}{
	// longest suffixes first so "KiB" is not read as "B"
	{"KiB", 1 << 10},
	{"MiB", 1 << 20},
	{"KB", 1000},
	{"MB", 1000 * 1000},
	{"B", 1},
}

func (b *ByteSize) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	scale := 1
	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			scale = u.scale
			break
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid size %q", text)
	}
	if n < 0 {
		return fmt.Errorf("invalid size %q: negative", text)
	}
	*b = ByteSize(n * scale)
	return nil
}

// MarshalText writes the largest binary unit that divides b exactly.
func (b ByteSize) MarshalText() ([]byte, error) {
	switch {
	case b != 0 && b%(1<<20) == 0:
		return []byte(fmt.Sprintf("%dMiB", b/(1<<20))), nil
	case b != 0 && b%(1<<10) == 0:
		return []byte(fmt.Sprintf("%dKiB", b/(1<<10))), nil
	default:
		return []byte(strconv.Itoa(int(b))), nil
	}
}

// Int returns b as a byte count.
func (b ByteSize) Int() int { return int(b) }

// Secret is a pre-shared token. It prints and serializes as [REDACTED].
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string { return "config.Secret(" + redacted + ")" }

// Value returns the secret in clear.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether the secret is non-empty.
func (s Secret) IsSet() bool { return s != "" }

// Equal compares candidate with s in constant time. An unset secret
// matches nothing.
func (s Secret) Equal(candidate string) bool {
	if s == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s), []byte(candidate)) == 1
}

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(strings.TrimSpace(string(text)))
	return nil
}
