package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "client ask", role: RoleClient, action: ActionAsk, allow: true},
		{name: "client read notes", role: RoleClient, action: ActionReadWedding, allow: false},
		{name: "client answer", role: RoleClient, action: ActionAnswerQuestion, allow: false},
		{name: "coordinator review", role: RoleCoordinator, action: ActionReviewNotes, allow: true},
		{name: "coordinator answer", role: RoleCoordinator, action: ActionAnswerQuestion, allow: true},
		{name: "coordinator sync", role: RoleCoordinator, action: ActionSync, allow: false},
		{name: "coordinator delete question", role: RoleCoordinator, action: ActionDeleteQuestion, allow: false},
		{name: "staff sync", role: RoleStaff, action: ActionSync, allow: true},
		{name: "staff manage", role: RoleStaff, action: ActionManageWedding, allow: true},
		{name: "unknown role", role: Role("guest"), action: ActionAsk, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestCanAccessWedding(t *testing.T) {
	cases := []struct {
		name    string
		role    Role
		token   string
		wedding string
		allow   bool
	}{
		{name: "client own wedding", role: RoleClient, token: "wed_1", wedding: "wed_1", allow: true},
		{name: "client other wedding", role: RoleClient, token: "wed_1", wedding: "wed_2", allow: false},
		{name: "client without wedding", role: RoleClient, token: "", wedding: "", allow: false},
		{name: "staff any wedding", role: RoleStaff, wedding: "wed_2", allow: true},
		{name: "coordinator any wedding", role: RoleCoordinator, wedding: "wed_2", allow: true},
		{name: "unknown role", role: Role("guest"), wedding: "wed_2", allow: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanAccessWedding(tc.role, tc.token, tc.wedding); got != tc.allow {
				t.Fatalf("CanAccessWedding() = %v, want %v", got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("staff") != RoleStaff || Normalize("coordinator") != RoleCoordinator {
		t.Fatal("known roles must round trip")
	}
	if Normalize("admin") != RoleClient {
		t.Fatal("unknown roles must fall back to client")
	}
}
