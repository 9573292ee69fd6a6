package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Role represents the RBAC role assigned to an actor.
type Role string

const (
	RoleCEO        Role = "ceo"
	RoleGM         Role = "gm"
	RoleFC         Role = "fc"
	RoleCompliance Role = "compliance"
	RoleOps        Role = "ops"
)

// ApproverRoles is the set of roles that may sit on an escalation quorum.
var ApproverRoles = []Role{RoleFC, RoleGM, RoleCEO}

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	switch r {
	case RoleCEO, RoleGM, RoleFC, RoleCompliance, RoleOps:
		return true
	}
	return false
}

// RoleSet is an unordered set of roles with value-based equality.
// Used for an escalation's required approvers and for quorum checks.
type RoleSet map[Role]struct{}

// NewRoleSet builds a RoleSet from the given roles.
func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// RoleSetFromStrings builds a RoleSet from raw strings, rejecting unknown roles.
func RoleSetFromStrings(raw []string) (RoleSet, error) {
	s := make(RoleSet, len(raw))
	for _, v := range raw {
		r := Role(v)
		if !ValidRole(r) {
			return nil, fmt.Errorf("model: unknown role %q", v)
		}
		s[r] = struct{}{}
	}
	return s, nil
}

// Contains reports whether r is a member of the set.
func (s RoleSet) Contains(r Role) bool {
	_, ok := s[r]
	return ok
}

// Equal reports whether both sets hold exactly the same roles.
func (s RoleSet) Equal(other RoleSet) bool {
	if len(s) != len(other) {
		return false
	}
	for r := range s {
		if !other.Contains(r) {
			return false
		}
	}
	return true
}

// Subset reports whether every role in s is also in other.
func (s RoleSet) Subset(other RoleSet) bool {
	for r := range s {
		if !other.Contains(r) {
			return false
		}
	}
	return true
}

// Missing returns the roles in s that are absent from other, sorted.
func (s RoleSet) Missing(other RoleSet) []Role {
	var out []Role
	for r := range s {
		if !other.Contains(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Roles returns the members as a sorted slice.
func (s RoleSet) Roles() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the members as a sorted string slice (for DB text[] columns).
func (s RoleSet) Strings() []string {
	roles := s.Roles()
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes a JSON array of role strings, rejecting unknown roles.
func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	set, err := RoleSetFromStrings(raw)
	if err != nil {
		return err
	}
	*s = set
	return nil
}
