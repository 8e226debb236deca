// Package rbac maps organization roles to the actions they may perform
// inside their tenant.
package rbac

type Role string
type Action string

const (
	RoleMember  Role = "member"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead           Action = "read"
	ActionWriteOrders    Action = "write_orders"
	ActionManageCatalog  Action = "manage_catalog"
	ActionInvite         Action = "invite"
	ActionDecideRequests Action = "decide_requests"
)

var rank = map[Role]int{
	RoleMember:  1,
	RoleManager: 2,
	RoleAdmin:   3,
}

var minimum = map[Action]Role{
	ActionRead:           RoleMember,
	ActionWriteOrders:    RoleMember,
	ActionManageCatalog:  RoleManager,
	ActionInvite:         RoleManager,
	ActionDecideRequests: RoleAdmin,
}

func Can(role Role, action Action) bool {
	need, ok := minimum[action]
	if !ok {
		return false
	}
	return rank[role] >= rank[need]
}

// CanAssign reports whether inviter may hand out role target. Nobody grants
// a role above their own.
func CanAssign(inviter, target Role) bool {
	if !Can(inviter, ActionInvite) || !Valid(string(target)) {
		return false
	}
	return rank[target] <= rank[inviter]
}

func Valid(role string) bool {
	_, ok := rank[Role(role)]
	return ok
}

// Normalize returns role, or member for anything unknown.
func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return RoleMember
}
