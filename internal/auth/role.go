package auth

// Role is the closed set of caller roles known to the attendance engine.
// Anything not recognized maps to RoleOther and gets student-like scoping.
type Role int

const (
	RoleOther Role = iota
	RoleAdmin
	RoleHR
	RoleTeacher
	RoleFaculty
	RoleStudent
)

// ParseRole maps a role claim string to a Role.
func ParseRole(s string) Role {
	switch s {
	case "ADMIN":
		return RoleAdmin
	case "HR":
		return RoleHR
	case "TEACHER":
		return RoleTeacher
	case "FACULTY":
		return RoleFaculty
	case "STUDENT":
		return RoleStudent
	default:
		return RoleOther
	}
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "ADMIN"
	case RoleHR:
		return "HR"
	case RoleTeacher:
		return "TEACHER"
	case RoleFaculty:
		return "FACULTY"
	case RoleStudent:
		return "STUDENT"
	default:
		return "OTHER"
	}
}

// Unrestricted reports whether the role bypasses record-level scoping.
func (r Role) Unrestricted() bool {
	return r == RoleAdmin || r == RoleHR
}

// CourseScoped reports whether the role is limited to its owned courses.
func (r Role) CourseScoped() bool {
	return r == RoleTeacher || r == RoleFaculty
}

// Identity is a verified caller: the resolved user id plus role claim.
type Identity struct {
	UserID string
	Role   Role
}
