// Package lifecycle holds the booking and emergency state machines.
// Both are plain transition tables evaluated by the same Machine; nothing here touches storage.
package lifecycle

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotAuthorized     = errors.New("actor is not allowed to perform this action")
)

type Action string

const (
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

// Role names who may fire a transition.
type Role int

const (
	// RoleClient is the client who owns the record.
	RoleClient Role = iota + 1
	// RoleProvider is the provider the record is assigned to.
	RoleProvider
	// RoleAnyProvider is any provider while the record is still unassigned (emergency claim).
	RoleAnyProvider
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleProvider:
		return "provider"
	case RoleAnyProvider:
		return "any_provider"
	default:
		return "unknown"
	}
}

// Transition is a single legal edge.
type Transition[S ~string] struct {
	From   S
	Action Action
	To     S
	Role   Role
}

// Owners identifies the parties of a record. ProviderID is 0 while unassigned.
type Owners struct {
	ClientID   int64
	ProviderID int64
}

type Machine[S ~string] struct {
	name  string
	table []Transition[S]
}

func NewMachine[S ~string](name string, table []Transition[S]) *Machine[S] {
	return &Machine[S]{name: name, table: table}
}

func (m *Machine[S]) Name() string {
	return m.name
}

// Lookup returns the edge for (from, action).
func (m *Machine[S]) Lookup(from S, action Action) (Transition[S], bool) {
	for _, tr := range m.table {
		if tr.From == from && tr.Action == action {
			return tr, true
		}
	}
	return Transition[S]{}, false
}

// Decide evaluates action on a record in state from. Ownership is checked before status,
// so a stranger gets ErrNotAuthorized regardless of the record's state.
func (m *Machine[S]) Decide(from S, action Action, actorID int64, owners Owners) (S, error) {
	tr, found := m.Lookup(from, action)

	role, known := m.roleFor(action)
	if found {
		role, known = tr.Role, true
	}
	if !known {
		return from, fmt.Errorf("%s: unknown action %q: %w", m.name, action, ErrInvalidTransition)
	}

	if !authorized(role, actorID, owners) {
		return from, fmt.Errorf("%s %s: actor %d is not the %s: %w", m.name, action, actorID, role, ErrNotAuthorized)
	}
	if !found {
		return from, fmt.Errorf("%s %s from %q: %w", m.name, action, from, ErrInvalidTransition)
	}
	return tr.To, nil
}

// IsTerminal reports whether no edge leaves the state.
func (m *Machine[S]) IsTerminal(s S) bool {
	for _, tr := range m.table {
		if tr.From == s {
			return false
		}
	}
	return true
}

// Actions lists the actions available from a state.
func (m *Machine[S]) Actions(from S) []Action {
	var out []Action
	for _, tr := range m.table {
		if tr.From == from {
			out = append(out, tr.Action)
		}
	}
	return out
}

// Allowed lists the actions actorID may fire on a record in state from.
func (m *Machine[S]) Allowed(from S, actorID int64, owners Owners) []Action {
	out := []Action{}
	for _, action := range m.Actions(from) {
		if _, err := m.Decide(from, action, actorID, owners); err == nil {
			out = append(out, action)
		}
	}
	return out
}

func (m *Machine[S]) roleFor(action Action) (Role, bool) {
	for _, tr := range m.table {
		if tr.Action == action {
			return tr.Role, true
		}
	}
	return 0, false
}

func authorized(role Role, actorID int64, owners Owners) bool {
	if actorID <= 0 {
		return false
	}
	switch role {
	case RoleClient:
		return actorID == owners.ClientID
	case RoleProvider:
		return owners.ProviderID != 0 && actorID == owners.ProviderID
	case RoleAnyProvider:
		// a client cannot claim its own request
		return actorID != owners.ClientID
	default:
		return false
	}
}
