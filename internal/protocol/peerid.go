// Package protocol defines the wire types shared between the Host, Viewer,
// and signaling broker: peer identifiers, session enums, video/input packet
// structures, and the compact binary codec that serializes them.
package protocol

import (
	"strings"

	"github.com/google/uuid"
)

// PeerId is a 128-bit peer identifier with a canonical hex-grouped textual
// form. Equality is bitwise (uuid.UUID is a [16]byte array).
type PeerId uuid.UUID

// NewPeerId generates a random peer identifier.
func NewPeerId() PeerId {
	return PeerId(uuid.New())
}

// String returns the uppercase canonical display form.
func (p PeerId) String() string {
	return strings.ToUpper(uuid.UUID(p).String())
}

// ParsePeerId parses the strict, grouped canonical form only.
func ParsePeerId(s string) (PeerId, bool) {
	s = strings.TrimSpace(s)
	// uuid.Parse also takes braced, urn: and ungrouped forms; only the
	// 36-character grouped form is accepted here.
	if len(s) != 36 {
		return PeerId{}, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return PeerId{}, false
	}
	return PeerId(id), true
}

// ParsePeerIdLenient strips non-alphanumeric characters before parsing,
// tolerating separators inserted into an otherwise-valid id.
func ParsePeerIdLenient(s string) (PeerId, bool) {
	trimmed := strings.TrimSpace(s)
	if id, ok := ParsePeerId(trimmed); ok {
		return id, true
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if len(cleaned) != 32 {
		return PeerId{}, false
	}
	id, err := uuid.Parse(strings.ToLower(cleaned))
	if err != nil {
		return PeerId{}, false
	}
	return PeerId(id), true
}

// IsZero reports whether p is the zero-value identifier.
func (p PeerId) IsZero() bool {
	return p == PeerId{}
}

// MarshalText implements encoding.TextMarshaler so PeerId round-trips
// through JSON as its canonical display string.
func (p PeerId) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, accepting the strict
// canonical form.
func (p *PeerId) UnmarshalText(text []byte) error {
	id, ok := ParsePeerId(string(text))
	if !ok {
		return &parseError{s: string(text)}
	}
	*p = id
	return nil
}

type parseError struct{ s string }

func (e *parseError) Error() string { return "protocol: invalid PeerId " + e.s }
