package auth

import (
	"testing"
	"time"
)

func TestIssueAndParseRoundTrip(t *testing.T) {
	pair, err := Issue("user-1", RoleTeacher, "schoolhub", "secret", time.Hour, 24*time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}

	claims, err := Parse(pair.AccessToken, "secret", "schoolhub")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("subject: got %q", claims.Subject)
	}
	if claims.Role != "TEACHER" {
		t.Errorf("role: got %q", claims.Role)
	}
}

func TestParseRejectsWrongKey(t *testing.T) {
	pair, err := Issue("user-1", RoleStudent, "schoolhub", "secret", time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, "other-secret", "schoolhub"); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestParseRejectsIssuerMismatch(t *testing.T) {
	pair, err := Issue("user-1", RoleStudent, "some-other-app", "secret", time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, "secret", "schoolhub"); err == nil {
		t.Fatal("expected issuer mismatch error")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	pair, err := Issue("user-1", RoleStudent, "schoolhub", "secret", -time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, "secret", "schoolhub"); err == nil {
		t.Fatal("expected expiry error")
	}
}

func TestParseRole(t *testing.T) {
	cases := []struct {
		in   string
		want Role
	}{
		{"ADMIN", RoleAdmin},
		{"HR", RoleHR},
		{"TEACHER", RoleTeacher},
		{"FACULTY", RoleFaculty},
		{"STUDENT", RoleStudent},
		{"", RoleOther},
		{"admin", RoleOther},
		{"JANITOR", RoleOther},
	}
	for _, tc := range cases {
		if got := ParseRole(tc.in); got != tc.want {
			t.Errorf("ParseRole(%q) = %v, want %v", tc.in, got, tc.want)
		}
		if tc.want != RoleOther {
			if back := ParseRole(tc.want.String()); back != tc.want {
				t.Errorf("String/ParseRole round trip broke for %v", tc.want)
			}
		}
	}
}

func TestRolePredicates(t *testing.T) {
	for _, r := range []Role{RoleAdmin, RoleHR} {
		if !r.Unrestricted() || r.CourseScoped() {
			t.Errorf("%v must be unrestricted only", r)
		}
	}
	for _, r := range []Role{RoleTeacher, RoleFaculty} {
		if r.Unrestricted() || !r.CourseScoped() {
			t.Errorf("%v must be course-scoped only", r)
		}
	}
	for _, r := range []Role{RoleStudent, RoleOther} {
		if r.Unrestricted() || r.CourseScoped() {
			t.Errorf("%v must be neither unrestricted nor course-scoped", r)
		}
	}
}
