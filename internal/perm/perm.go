package perm

import (
	"fmt"

	"tabular/internal/schema"
)

// Resolver maps a logical action name to a permission string. Pure lookup
// with a generated fallback; whether the string grants access is decided
// entirely by the Authorizer collaborator.
type Resolver struct {
	Namespace string
}

func NewResolver(namespace string) *Resolver {
	if namespace == "" {
		namespace = "api"
	}
	return &Resolver{Namespace: namespace}
}

// Resolve returns the permission string for the action: a custom action's own
// declared permission first, then the schema permissions map, then the
// deterministic fallback <namespace>.<entity>.<action>. It always returns a
// string and never errors.
func (r *Resolver) Resolve(s *schema.Schema, action string) string {
	if s != nil {
		if a := s.GetAction(action); a != nil && a.Permission != "" {
			return a.Permission
		}
		if p, ok := s.Permissions[action]; ok && p != "" {
			return p
		}
		return fmt.Sprintf("%s.%s.%s", r.Namespace, s.Name, action)
	}
	return fmt.Sprintf("%s.%s", r.Namespace, action)
}

// Authorizer is the external authorization collaborator: it receives the
// resolved permission string and the current principal and decides. The
// engine never decides authorization itself.
type Authorizer interface {
	Authorize(principal Principal, permission string) bool
}

// Principal is the authenticated caller as far as the engine cares.
type Principal struct {
	ID          string
	Roles       []string
	Permissions []string
}

// HasRole reports whether the principal carries the role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
