package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "member read", role: RoleMember, action: ActionRead, allow: true},
		{name: "member orders", role: RoleMember, action: ActionWriteOrders, allow: true},
		{name: "member catalog", role: RoleMember, action: ActionManageCatalog, allow: false},
		{name: "member invite", role: RoleMember, action: ActionInvite, allow: false},
		{name: "manager catalog", role: RoleManager, action: ActionManageCatalog, allow: true},
		{name: "manager invite", role: RoleManager, action: ActionInvite, allow: true},
		{name: "manager decide", role: RoleManager, action: ActionDecideRequests, allow: false},
		{name: "admin decide", role: RoleAdmin, action: ActionDecideRequests, allow: true},
		{name: "unknown role", role: Role("owner"), action: ActionRead, allow: false},
		{name: "unknown action", role: RoleAdmin, action: Action("delete_everything"), allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestCanAssign(t *testing.T) {
	if !CanAssign(RoleAdmin, RoleAdmin) {
		t.Fatal("admin may invite admins")
	}
	if !CanAssign(RoleManager, RoleMember) || !CanAssign(RoleManager, RoleManager) {
		t.Fatal("manager may invite members and managers")
	}
	if CanAssign(RoleManager, RoleAdmin) {
		t.Fatal("manager must not grant admin")
	}
	if CanAssign(RoleMember, RoleMember) {
		t.Fatal("member cannot invite")
	}
	if CanAssign(RoleAdmin, Role("owner")) {
		t.Fatal("unknown roles cannot be assigned")
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("manager") != RoleManager {
		t.Fatal("expected manager")
	}
	if Normalize("viewer") != RoleMember {
		t.Fatal("unknown roles normalize to member")
	}
}
