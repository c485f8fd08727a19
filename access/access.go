package access

import (
	"strconv"
	"strings"
)

// Role is the closed set of privilege classes. Authorization rules are pure
// functions over this variant instead of numeric role-code comparisons.
type Role int

const (
	// RoleMember is scoped to explicit per-connection and per-knowledge-base grants.
	RoleMember Role = iota
	// RoleTenantAdmin is scoped to every resource of their own tenant.
	RoleTenantAdmin
	// RoleAdmin is unrestricted.
	RoleAdmin
)

// String returns the wire-level role code.
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleTenantAdmin:
		return "tenant_admin"
	default:
		return "member"
	}
}

// ParseRole maps a set of role codes (as carried in JWT claims) to the highest
// privilege present. Unknown codes are ignored.
func ParseRole(codes []string) Role {
	role := RoleMember
	for _, code := range codes {
		switch strings.ToLower(strings.TrimSpace(code)) {
		case "admin":
			return RoleAdmin
		case "tenant_admin", "tenantadmin":
			if role < RoleTenantAdmin {
				role = RoleTenantAdmin
			}
		}
	}
	return role
}

// Actor is the authenticated caller as seen by the access rules.
type Actor struct {
	UserID     uint64
	Role       Role
	CompanyKey string
}

// SameTenant compares two tenant keys numerically, tolerating string/int
// representation drift ("7" vs " 7 "). Non-numeric input never matches and
// never panics.
func SameTenant(a, b string) bool {
	left, err := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	if err != nil {
		return false
	}
	right, err := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	if err != nil {
		return false
	}
	return left == right
}

// CanUseConnection reports whether the actor may reach an external connection.
// hasGrant is whether a UserConnectionGrant exists for this actor + connection.
func (a Actor) CanUseConnection(connectionCompany string, hasGrant bool) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleTenantAdmin:
		return SameTenant(connectionCompany, a.CompanyKey)
	default:
		return hasGrant
	}
}

// CanManageCategory gates category administration. Members are always denied;
// creation-time elevation goes through CanCreateKnowledgeBase instead.
func (a Actor) CanManageCategory(categoryCompany string) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleTenantAdmin:
		return SameTenant(categoryCompany, a.CompanyKey)
	default:
		return false
	}
}

// CanCreateKnowledgeBase gates knowledge-base creation against a category and
// its connection. A member may create even against a category outside their
// tenant, provided they hold a grant on the connection.
func (a Actor) CanCreateKnowledgeBase(categoryCompany, connectionCompany string, hasConnectionGrant bool) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleTenantAdmin:
		return SameTenant(categoryCompany, a.CompanyKey) && SameTenant(connectionCompany, a.CompanyKey)
	default:
		return hasConnectionGrant
	}
}

// CanAdministerKnowledgeBase gates knowledge-base mutation and deletion.
func (a Actor) CanAdministerKnowledgeBase(kbCompany string) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleTenantAdmin:
		return SameTenant(kbCompany, a.CompanyKey)
	default:
		return false
	}
}

// CanChat gates conversational querying through a knowledge base.
// hasActiveGrant is whether an active KnowledgeBaseAccess record exists for
// this actor + knowledge base.
func (a Actor) CanChat(kbCompany string, hasActiveGrant bool) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleTenantAdmin:
		return SameTenant(kbCompany, a.CompanyKey)
	default:
		return hasActiveGrant
	}
}
