package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"schoolhub/internal/auth"
	"schoolhub/internal/queue"
)

var (
	teacherIdent = auth.Identity{UserID: "t1", Role: auth.RoleTeacher}
	adminIdent   = auth.Identity{UserID: "a1", Role: auth.RoleAdmin}
	s1Ident      = auth.Identity{UserID: "s1", Role: auth.RoleStudent}
	s2Ident      = auth.Identity{UserID: "s2", Role: auth.RoleStudent}
)

// seedStore builds a store with course bio101 led by t1, students s1 and
// s2 enrolled through a group, and the Absent/Present statuses.
func seedStore(t *testing.T) *MemStore {
	t.Helper()
	st := NewMemStore()
	st.AddUser(UserInfo{ID: "t1", FirstName: "Tara", LastName: "Lee", Email: "tara@example.com", Role: "TEACHER"})
	st.AddUser(UserInfo{ID: "a1", FirstName: "Ada", LastName: "Boss", Email: "ada@example.com", Role: "ADMIN"})
	st.AddUser(UserInfo{ID: "s1", FirstName: "Sam", LastName: "One", Email: "s1@example.com", Role: "STUDENT"})
	st.AddUser(UserInfo{ID: "s2", FirstName: "Sue", LastName: "Two", Email: "s2@example.com", Role: "STUDENT"})
	st.AddCourse("bio101", "Biology 101", "t1")
	st.AddCourse("math401", "Math 401", "t2")
	st.AddGroup("bio101", "g1", "s1", "s2")
	st.AddStatus("Absent")
	st.AddStatus("Present")
	return st
}

func countByStatus(t *testing.T, recs []Record, statusName string) int {
	t.Helper()
	n := 0
	for _, r := range recs {
		if r.Status != nil && r.Status.Name == statusName {
			n++
		}
	}
	return n
}

func TestListMaterializesAbsencesForRoster(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	recs, err := svc.List(context.Background(), teacherIdent, ReadQuery{CourseID: "bio101", Date: &date})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 materialized records, got %d", len(recs))
	}
	if got := countByStatus(t, recs, "Absent"); got != 2 {
		t.Fatalf("expected 2 Absent records, got %d", got)
	}
}

func TestMaterializationIsIdempotent(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	q := ReadQuery{CourseID: "bio101", Date: &date}

	first, err := svc.List(context.Background(), teacherIdent, q)
	if err != nil {
		t.Fatalf("first list: %v", err)
	}
	second, err := svc.List(context.Background(), teacherIdent, q)
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("repeated read changed row count: %d then %d", len(first), len(second))
	}
}

func TestMaterializationSkipsExistingRecords(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	present, err := st.StatusByName(context.Background(), "Present")
	if err != nil {
		t.Fatalf("status lookup: %v", err)
	}
	courseID := "bio101"
	checkIn := date.Add(9 * time.Hour)
	if _, err := st.InsertRecord(context.Background(), Record{
		UserID:   "s1",
		CourseID: &courseID,
		StatusID: present.ID,
		Date:     date,
		CheckIn:  &checkIn,
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	recs, err := svc.List(context.Background(), teacherIdent, ReadQuery{CourseID: "bio101", Date: &date})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if got := countByStatus(t, recs, "Present"); got != 1 {
		t.Fatalf("expected the existing Present row to survive, got %d Present", got)
	}
	if got := countByStatus(t, recs, "Absent"); got != 1 {
		t.Fatalf("expected 1 new Absent row, got %d", got)
	}
}

func TestMaterializationDegradesWhenAbsentStatusMissing(t *testing.T) {
	st := NewMemStore()
	st.AddUser(UserInfo{ID: "s1", Role: "STUDENT"})
	st.AddCourse("bio101", "Biology 101", "t1")
	st.AddGroup("bio101", "g1", "s1")
	svc := NewService(st, nil)
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	recs, err := svc.List(context.Background(), teacherIdent, ReadQuery{CourseID: "bio101", Date: &date})
	if err != nil {
		t.Fatalf("read must not fail when the Absent status is missing: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no rows without an Absent status, got %d", len(recs))
	}
}

func TestMaterializationPublishesAbsentEvents(t *testing.T) {
	st := seedStore(t)
	events := queue.NewInMemory(16)
	svc := NewService(st, nil, WithEvents(events))
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	if _, err := svc.List(context.Background(), teacherIdent, ReadQuery{CourseID: "bio101", Date: &date}); err != nil {
		t.Fatalf("list: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := events.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-msgs:
			if msg.Type != EventAbsentMarked {
				t.Fatalf("expected %s event, got %s", EventAbsentMarked, msg.Type)
			}
			var evt Event
			if err := json.Unmarshal(msg.Body, &evt); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if evt.CourseID != "bio101" || evt.Date != "2024-03-04" {
				t.Fatalf("unexpected event payload: %+v", evt)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for absent events")
		}
	}
}

func TestListForeignCourseForbidden(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	_, err := svc.List(context.Background(), teacherIdent, ReadQuery{CourseID: "math401", Date: &date})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestListByIDScopesToViewer(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)
	rec := mustCreate(t, svc, adminIdent, "s1", "bio101")

	if _, err := svc.List(context.Background(), s1Ident, ReadQuery{ID: rec.ID}); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := svc.List(context.Background(), s2Ident, ReadQuery{ID: rec.ID}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for foreign student, got %v", err)
	}
	if _, err := svc.List(context.Background(), s1Ident, ReadQuery{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStudentListOnlySeesOwnRows(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)
	mustCreate(t, svc, adminIdent, "s1", "bio101")
	mustCreate(t, svc, adminIdent, "s2", "bio101")

	recs, err := svc.List(context.Background(), s1Ident, ReadQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].UserID != "s1" {
		t.Fatalf("expected only s1 rows, got %+v", recs)
	}
}

func mustCreate(t *testing.T, svc *Service, ident auth.Identity, userID, courseID string) Record {
	t.Helper()
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	in := CreateInput{
		UserID:  userID,
		Date:    date,
		CheckIn: date.Add(8 * time.Hour),
	}
	if courseID != "" {
		in.CourseID = &courseID
	}
	st, err := svc.store.StatusByName(context.Background(), "Present")
	if err != nil {
		t.Fatalf("status lookup: %v", err)
	}
	in.StatusID = st.ID
	rec, err := svc.Create(context.Background(), ident, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return rec
}

func TestCreateValidation(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	valid := CreateInput{UserID: "s1", StatusID: "st", Date: date, CheckIn: date.Add(8 * time.Hour)}

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"missing userId", func(in *CreateInput) { in.UserID = "" }},
		{"missing statusId", func(in *CreateInput) { in.StatusID = "" }},
		{"missing date", func(in *CreateInput) { in.Date = time.Time{} }},
		{"missing checkIn", func(in *CreateInput) { in.CheckIn = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			tc.mutate(&in)
			if _, err := svc.Create(context.Background(), adminIdent, in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestCreateScopesTeacherToOwnedCourses(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	foreign := "math401"

	_, err := svc.Create(context.Background(), teacherIdent, CreateInput{
		UserID:   "s1",
		CourseID: &foreign,
		StatusID: "st",
		Date:     date,
		CheckIn:  date.Add(8 * time.Hour),
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	mustCreate(t, svc, teacherIdent, "s1", "bio101")
}

func TestCreateDuplicateConflicts(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)
	rec := mustCreate(t, svc, adminIdent, "s1", "bio101")

	courseID := "bio101"
	_, err := svc.Create(context.Background(), adminIdent, CreateInput{
		UserID:   "s1",
		CourseID: &courseID,
		StatusID: rec.StatusID,
		Date:     rec.Date,
		CheckIn:  rec.Date.Add(9 * time.Hour),
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUpdateScoping(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)
	rec := mustCreate(t, svc, adminIdent, "s1", "bio101")
	checkOut := rec.Date.Add(17 * time.Hour)

	if _, err := svc.Update(context.Background(), s2Ident, rec.ID, UpdateInput{CheckOut: &checkOut}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for foreign student, got %v", err)
	}
	upd, err := svc.Update(context.Background(), teacherIdent, rec.ID, UpdateInput{CheckOut: &checkOut})
	if err != nil {
		t.Fatalf("teacher update: %v", err)
	}
	if upd.CheckOut == nil || !upd.CheckOut.Equal(checkOut) {
		t.Fatalf("checkOut not applied: %+v", upd)
	}
	if _, err := svc.Update(context.Background(), adminIdent, "missing", UpdateInput{CheckOut: &checkOut}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteAppliesMutationScope(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)
	rec := mustCreate(t, svc, adminIdent, "s1", "bio101")

	if err := svc.Delete(context.Background(), s2Ident, rec.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for foreign student, got %v", err)
	}
	if err := svc.Delete(context.Background(), s1Ident, rec.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if err := svc.Delete(context.Background(), adminIdent, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestStatusMutationsRequireElevatedRole(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)
	ctx := context.Background()

	if _, err := svc.CreateStatus(ctx, teacherIdent, "Late"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("teacher create status: expected forbidden, got %v", err)
	}
	created, err := svc.CreateStatus(ctx, adminIdent, "Late")
	if err != nil {
		t.Fatalf("admin create status: %v", err)
	}
	if _, err := svc.RenameStatus(ctx, s1Ident, created.ID, "Tardy"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("student rename status: expected forbidden, got %v", err)
	}
	renamed, err := svc.RenameStatus(ctx, adminIdent, created.ID, "Tardy")
	if err != nil {
		t.Fatalf("admin rename status: %v", err)
	}
	if renamed.Name != "Tardy" {
		t.Fatalf("rename not applied: %+v", renamed)
	}
	if err := svc.DeleteStatus(ctx, teacherIdent, created.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("teacher delete status: expected forbidden, got %v", err)
	}
	if err := svc.DeleteStatus(ctx, adminIdent, created.ID); err != nil {
		t.Fatalf("admin delete status: %v", err)
	}
}

func TestStaffCheckInFlow(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)
	ctx := context.Background()

	if _, err := svc.CreateStaffSession(ctx, teacherIdent); !errors.Is(err, ErrForbidden) {
		t.Fatalf("teacher session create: expected forbidden, got %v", err)
	}
	sess, err := svc.CreateStaffSession(ctx, adminIdent)
	if err != nil {
		t.Fatalf("session create: %v", err)
	}

	if _, err := svc.StaffCheckIn(ctx, s1Ident, sess.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("student check-in: expected forbidden, got %v", err)
	}

	rec, err := svc.StaffCheckIn(ctx, teacherIdent, sess.ID)
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if rec.CourseID != nil || rec.StaffSessionID == nil || *rec.StaffSessionID != sess.ID {
		t.Fatalf("unexpected check-in record: %+v", rec)
	}
	if rec.Status == nil || rec.Status.Name != "Present" {
		t.Fatalf("expected Present status, got %+v", rec.Status)
	}

	if _, err := svc.StaffCheckIn(ctx, teacherIdent, sess.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second check-in: expected conflict, got %v", err)
	}
	if _, err := svc.StaffCheckIn(ctx, teacherIdent, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown session: expected not found, got %v", err)
	}
}

func TestStaffCheckInExpiredSession(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)
	ctx := context.Background()

	sess, err := st.InsertSession(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if _, err := svc.StaffCheckIn(ctx, teacherIdent, sess.ID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for expired session, got %v", err)
	}
}
