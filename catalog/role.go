package catalog

import (
	"fmt"
	"strings"
)

// Role is the coherence-fabric role of a node or a controller.
type Role int

// Roles of the fabric.
const (
	RequestCache Role = iota
	HomeDirectory
	MemoryFront
	HomeAgent
	DieBridge
	Misc
)

// Roles lists every role in catalog order.
var Roles = []Role{
	RequestCache, HomeDirectory, HomeAgent, MemoryFront, Misc, DieBridge,
}

var roleShortNames = map[Role]string{
	RequestCache:  "RNF",
	HomeDirectory: "HNF",
	MemoryFront:   "SNF",
	HomeAgent:     "HA",
	DieBridge:     "D2D",
	Misc:          "MN",
}

var roleNames = map[Role]string{
	RequestCache:  "RequestCache",
	HomeDirectory: "HomeDirectory",
	MemoryFront:   "MemoryFront",
	HomeAgent:     "HomeAgent",
	DieBridge:     "DieBridge",
	Misc:          "Misc",
}

func (r Role) String() string {
	if s, ok := roleNames[r]; ok {
		return s
	}

	return fmt.Sprintf("Role(%d)", int(r))
}

// Short returns the CHI abbreviation of the role.
func (r Role) Short() string {
	if s, ok := roleShortNames[r]; ok {
		return s
	}

	return r.String()
}

// IssuesRequests tells if controllers of the role send requests downstream.
// Only memory fronts terminate the request path.
func (r Role) IssuesRequests() bool {
	return r != MemoryFront
}

// ParseRole accepts both the long and the abbreviated role names.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if strings.EqualFold(name, s) || strings.EqualFold(roleShortNames[r], s) {
			return r, nil
		}
	}

	return 0, fmt.Errorf("unknown role %q", s)
}

// MarshalText encodes the role by its long name.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a long or abbreviated role name.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}

	*r = role

	return nil
}
