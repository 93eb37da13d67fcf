package recruit

import (
	"fmt"
	"strings"
)

// Role indexes the fixed role catalog. Catalog order is display order.
type Role int

const (
	RoleTemplar Role = iota
	RoleGladiator
	RoleAssassin
	RoleRanger
	RoleSorcerer
	RoleSpiritmaster
	RoleCleric
	RoleChanter

	RoleCount = 8
	// NoRole marks a participant without a slot.
	NoRole Role = -1
)

var catalog = [RoleCount]struct{ label, icon string }{
	{"수호성", "🛡️"},
	{"검성", "🗡️"},
	{"살성", "⚔️"},
	{"궁성", "🏹"},
	{"마도성", "🔥"},
	{"정령성", "✨"},
	{"치유성", "❤️"},
	{"호법성", "🪄"},
}

func (r Role) Valid() bool { return r >= 0 && r < RoleCount }

func (r Role) Label() string {
	if !r.Valid() {
		return ""
	}
	return catalog[r].label
}

func (r Role) Icon() string {
	if !r.Valid() {
		return ""
	}
	return catalog[r].icon
}

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Role(%d)", int(r))
	}
	return catalog[r].label
}

// Roles returns the catalog in display order.
func Roles() []Role {
	out := make([]Role, RoleCount)
	for i := range out {
		out[i] = Role(i)
	}
	return out
}

// RoleByLabel resolves a catalog label, ignoring surrounding space.
func RoleByLabel(label string) (Role, error) {
	label = strings.TrimSpace(label)
	for i, c := range catalog {
		if c.label == label {
			return Role(i), nil
		}
	}
	return NoRole, fmt.Errorf("%w: %q", ErrUnknownRole, label)
}
