package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "student read", role: RoleStudent, action: ActionRead, allow: true},
		{name: "student post", role: RoleStudent, action: ActionPost, allow: true},
		{name: "student vote", role: RoleStudent, action: ActionVote, allow: true},
		{name: "student moderate", role: RoleStudent, action: ActionModerate, allow: false},
		{name: "faculty reply", role: RoleFaculty, action: ActionReply, allow: true},
		{name: "faculty moderate", role: RoleFaculty, action: ActionModerate, allow: false},
		{name: "admin moderate", role: RoleAdmin, action: ActionModerate, allow: true},
		{name: "unknown role", role: Role("guest"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]Role{
		"student":  RoleStudent,
		"Faculty":  RoleFaculty,
		" admin ":  RoleAdmin,
		"":         RoleStudent,
		"sysadmin": RoleStudent,
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
