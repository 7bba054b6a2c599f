package router

import "testing"

type fakeState struct {
	token, table bool
}

func (f fakeState) HasToken() bool { return f.token }
func (f fakeState) HasTable() bool { return f.table }

func TestResolve(t *testing.T) {
	r := New()

	tests := []struct {
		name  string
		path  string
		state StateProvider
		want  Decision
	}{
		{"login is public", "/login", fakeState{}, Decision{Allow: true}},
		{"login with nil state", "/login", nil, Decision{Allow: true}},
		{"select without token", "/select", fakeState{}, Decision{Redirect: Login}},
		{"select with token", "/select", fakeState{token: true}, Decision{Allow: true}},
		{"table without token", "/table", fakeState{}, Decision{Redirect: Login}},
		{"table without token but stale table", "/table", fakeState{table: true}, Decision{Redirect: Login}},
		{"table without snapshot", "/table", fakeState{token: true}, Decision{Redirect: Select}},
		{"table ready", "/table", fakeState{token: true, table: true}, Decision{Allow: true}},
		{"row form inherits table rule", "/table/rows/5/edit", fakeState{token: true}, Decision{Redirect: Select}},
		{"row form ready", "/table/rows/new", fakeState{token: true, table: true}, Decision{Allow: true}},
		{"status without token", "/status", fakeState{}, Decision{Redirect: Login}},
		{"status with token", "/status", fakeState{token: true}, Decision{Allow: true}},
		{"unknown path", "/admin", fakeState{token: true, table: true}, Decision{Redirect: Login}},
		{"root", "/", fakeState{token: true}, Decision{Redirect: Login}},
		{"prefix lookalike", "/tables", fakeState{token: true, table: true}, Decision{Redirect: Login}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(tt.path, tt.state)
			if got != tt.want {
				t.Errorf("Resolve(%q) = %+v, want %+v", tt.path, got, tt.want)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	r := New()
	r.Register("/table/export", NeedsToken)

	req, err := r.Requirement("/table/export")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req != NeedsToken {
		t.Errorf("expected longest prefix to win, got %v", req)
	}

	req, _ = r.Requirement("/table/rows/new")
	if req != NeedsTable {
		t.Errorf("expected table requirement, got %v", req)
	}

	if _, err := r.Requirement("/nowhere"); err == nil {
		t.Error("expected error for unknown path")
	}
}
