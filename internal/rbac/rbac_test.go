package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer vote", role: RoleViewer, action: ActionVote, allow: false},
		{name: "viewer transition", role: RoleViewer, action: ActionTransition, allow: false},
		{name: "stakeholder vote", role: RoleStakeholder, action: ActionVote, allow: true},
		{name: "stakeholder commit", role: RoleStakeholder, action: ActionCommit, allow: true},
		{name: "stakeholder transition", role: RoleStakeholder, action: ActionTransition, allow: false},
		{name: "deputy transition", role: RoleDeputy, action: ActionTransition, allow: true},
		{name: "deputy manage", role: RoleDeputy, action: ActionManage, allow: false},
		{name: "owner manage", role: RoleOwner, action: ActionManage, allow: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestPlanningRole(t *testing.T) {
	cases := []struct {
		name        string
		ownerID     string
		deputyID    string
		userID      string
		stakeholder bool
		want        Role
	}{
		{name: "owner", ownerID: "usr_a", userID: "usr_a", want: RoleOwner},
		{name: "deputy", ownerID: "usr_a", deputyID: "usr_b", userID: "usr_b", want: RoleDeputy},
		{name: "stakeholder", ownerID: "usr_a", userID: "usr_c", stakeholder: true, want: RoleStakeholder},
		{name: "outsider", ownerID: "usr_a", userID: "usr_d", want: RoleViewer},
		{name: "empty deputy does not match empty user", ownerID: "usr_a", userID: "", want: RoleViewer},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PlanningRole(tc.ownerID, tc.deputyID, tc.userID, tc.stakeholder); got != tc.want {
				t.Fatalf("PlanningRole = %q, want %q", got, tc.want)
			}
		})
	}
}
