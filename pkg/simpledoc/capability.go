package simpledoc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Capability is one discrete action a principal may perform on a document.
type Capability string

// Capability constants.
const (
	CapabilityRead              Capability = "read"
	CapabilityWrite             Capability = "write"
	CapabilityDelete            Capability = "delete"
	CapabilityManagePermissions Capability = "manage_permissions"
	CapabilityDownload          Capability = "download"
)

// allCapabilities lists capabilities in bit order.
var allCapabilities = []Capability{
	CapabilityRead,
	CapabilityWrite,
	CapabilityDelete,
	CapabilityManagePermissions,
	CapabilityDownload,
}

func (c Capability) bit() CapabilitySet {
	for i, known := range allCapabilities {
		if known == c {
			return 1 << uint(i)
		}
	}
	return 0
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	return c.bit() != 0
}

// CapabilitySet is an immutable set of capabilities.
type CapabilitySet uint8

// FullCapabilities is the set held implicitly by a document owner.
var FullCapabilities = NewCapabilitySet(allCapabilities...)

// NewCapabilitySet builds a set from the given capabilities. Unknown values
// are ignored.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= c.bit()
	}
	return s
}

// ParseCapabilities converts names into a set, failing on unknown names.
func ParseCapabilities(names []string) (CapabilitySet, error) {
	var s CapabilitySet
	for _, name := range names {
		c := Capability(strings.ToLower(strings.TrimSpace(name)))
		if !c.Valid() {
			return 0, fmt.Errorf("%w: unknown capability %q", ErrInvalidRequest, name)
		}
		s |= c.bit()
	}
	return s, nil
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	b := c.bit()
	return b != 0 && s&b == b
}

// Contains reports whether every capability of other is in s.
func (s CapabilitySet) Contains(other CapabilitySet) bool {
	return s&other == other
}

// Union returns the capabilities present in either set.
func (s CapabilitySet) Union(other CapabilitySet) CapabilitySet {
	return s | other
}

// Without returns s minus the capabilities in other.
func (s CapabilitySet) Without(other CapabilitySet) CapabilitySet {
	return s &^ other
}

// IsEmpty reports whether the set holds no capability.
func (s CapabilitySet) IsEmpty() bool {
	return s&FullCapabilities == 0
}

// List returns the capabilities in a stable order.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(allCapabilities))
	for _, c := range allCapabilities {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Strings returns the capability names in a stable order.
func (s CapabilitySet) Strings() []string {
	caps := s.List()
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}

func (s CapabilitySet) String() string {
	return strings.Join(s.Strings(), ",")
}

// MarshalJSON encodes the set as a list of names.
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes a list of names.
func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := ParseCapabilities(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
