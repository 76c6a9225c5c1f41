package attendance

import (
	"schoolhub/internal/auth"
)

// courseSet is the caller's owned-course id set, nil for roles that are
// not course-scoped.
type courseSet map[string]struct{}

func newCourseSet(ids []string) courseSet {
	set := make(courseSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s courseSet) contains(id string) bool {
	_, ok := s[id]
	return ok
}

func (s courseSet) slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// listFilter maps (role, requested filters) to a safe repository filter
// for list reads. Lookups by id are scoped via canViewRecord instead,
// because the decision needs the stored record.
func listFilter(ident auth.Identity, owned courseSet, q ReadQuery) (Filter, error) {
	switch {
	case ident.Role.Unrestricted():
		return Filter{CourseID: q.CourseID, Date: q.Date}, nil

	case ident.Role.CourseScoped():
		if q.CourseID != "" {
			if !owned.contains(q.CourseID) {
				return Filter{}, ErrForbidden
			}
			return Filter{CourseID: q.CourseID, Date: q.Date}, nil
		}
		return Filter{CourseIDs: owned.slice(), Date: q.Date}, nil

	default:
		// Students and unrecognized roles only ever see their own rows.
		return Filter{UserID: ident.UserID, CourseID: q.CourseID, Date: q.Date}, nil
	}
}

// canViewRecord decides whether the caller may read a specific record.
func canViewRecord(ident auth.Identity, owned courseSet, rec Record) bool {
	switch {
	case ident.Role.Unrestricted():
		return true
	case ident.Role.CourseScoped():
		return rec.CourseID != nil && owned.contains(*rec.CourseID)
	default:
		return rec.UserID == ident.UserID
	}
}

// canCreate decides whether the caller may create a record with the
// given course binding.
func canCreate(ident auth.Identity, owned courseSet, courseID *string) bool {
	if !ident.Role.CourseScoped() {
		return true
	}
	if courseID == nil {
		return true
	}
	return owned.contains(*courseID)
}

// canMutate decides whether the caller may update or delete an existing
// record. Admin and HR bypass; course-scoped roles need the record bound
// to an owned course; everyone else must own the record.
func canMutate(ident auth.Identity, owned courseSet, rec Record) bool {
	switch {
	case ident.Role.Unrestricted():
		return true
	case ident.Role.CourseScoped():
		return rec.CourseID != nil && owned.contains(*rec.CourseID)
	default:
		return rec.UserID == ident.UserID
	}
}
