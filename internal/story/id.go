package story

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// pendingPrefix marks locally-assigned identifiers in serialized form.
// It never appears in payloads sent to the authority.
const pendingPrefix = "pending:"

// ID identifies an event or action in exactly one of two states:
// pending (assigned locally, not yet confirmed) or committed (assigned
// by the authority). The zero value is invalid.
type ID struct {
	value   string
	pending bool
}

// NewPending returns a fresh locally-unique pending ID.
func NewPending() ID {
	return ID{value: uuid.NewString(), pending: true}
}

// Committed wraps an authority-assigned identifier.
func Committed(serverID string) ID {
	return ID{value: serverID}
}

// ParseID reconstructs an ID from its serialized form.
func ParseID(s string) ID {
	if rest, ok := strings.CutPrefix(s, pendingPrefix); ok {
		return ID{value: rest, pending: true}
	}
	return ID{value: s}
}

// IsPending reports whether the ID has not yet been confirmed by the authority.
func (id ID) IsPending() bool { return id.pending }

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool { return id.value == "" }

// Value returns the raw identifier without state markers.
func (id ID) Value() string { return id.value }

func (id ID) String() string {
	if id.pending {
		return pendingPrefix + id.value
	}
	return id.value
}

// MarshalJSON serializes the ID as a JSON string.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", id.String())), nil
}

// UnmarshalJSON parses the ID from a JSON string.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	*id = ParseID(s)
	return nil
}
