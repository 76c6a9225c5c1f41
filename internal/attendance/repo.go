package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists attendance data in Postgres. It implements Store.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `
	a.id, a.user_id, a.course_id, a.status_id, a.date, a.check_in, a.check_out,
	a.staff_attendance_session_id, a.created_at, a.updated_at,
	u.first_name, u.last_name, u.email, u.role,
	c.name, c.led_by,
	s.name`

const recordJoins = `
	FROM attendances a
	JOIN users u ON u.id = a.user_id
	LEFT JOIN courses c ON c.id = a.course_id
	JOIN attendance_statuses s ON s.id = a.status_id`

// GetRecord returns one record with its joined projections.
func (r *Repository) GetRecord(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+recordColumns+recordJoins+` WHERE a.id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: attendance %s", ErrNotFound, id)
		}
		return Record{}, err
	}
	return rec, nil
}

// ListRecords returns records matching the filter, joined with user,
// course and status. An empty non-nil CourseIDs set matches nothing.
func (r *Repository) ListRecords(ctx context.Context, f Filter) ([]Record, error) {
	if f.CourseIDs != nil && len(f.CourseIDs) == 0 {
		return nil, nil
	}

	query := `SELECT` + recordColumns + recordJoins
	args := []any{}
	clauses := []string{}
	if f.ID != "" {
		clauses = append(clauses, "a.id = $"+itoa(len(args)+1))
		args = append(args, f.ID)
	}
	if f.UserID != "" {
		clauses = append(clauses, "a.user_id = $"+itoa(len(args)+1))
		args = append(args, f.UserID)
	}
	if f.CourseID != "" {
		clauses = append(clauses, "a.course_id = $"+itoa(len(args)+1))
		args = append(args, f.CourseID)
	}
	if len(f.CourseIDs) > 0 {
		in := ""
		for i, id := range f.CourseIDs {
			if i > 0 {
				in += ", "
			}
			in += "$" + itoa(len(args)+1)
			args = append(args, id)
		}
		clauses = append(clauses, "a.course_id IN ("+in+")")
	}
	if f.Date != nil {
		clauses = append(clauses, "a.date = $"+itoa(len(args)+1))
		args = append(args, Day(*f.Date))
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += " ORDER BY a.date DESC, a.check_in DESC NULLS LAST"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// InsertRecord writes a new record and returns it with projections.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendances (id, user_id, course_id, status_id, date, check_in, check_out, staff_attendance_session_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rec.ID, rec.UserID, rec.CourseID, rec.StatusID, Day(rec.Date), rec.CheckIn, rec.CheckOut, rec.StaffSessionID)
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, fmt.Errorf("%w: attendance already recorded for this date", ErrConflict)
		}
		return Record{}, err
	}
	return r.GetRecord(ctx, rec.ID)
}

// UpdateRecord applies a partial update and returns the updated record.
func (r *Repository) UpdateRecord(ctx context.Context, id string, upd UpdateInput) (Record, error) {
	sets := []string{}
	args := []any{}
	if upd.StatusID != nil {
		sets = append(sets, "status_id = $"+itoa(len(args)+1))
		args = append(args, *upd.StatusID)
	}
	if upd.Date != nil {
		sets = append(sets, "date = $"+itoa(len(args)+1))
		args = append(args, Day(*upd.Date))
	}
	if upd.CheckIn != nil {
		sets = append(sets, "check_in = $"+itoa(len(args)+1))
		args = append(args, *upd.CheckIn)
	}
	if upd.CheckOut != nil {
		sets = append(sets, "check_out = $"+itoa(len(args)+1))
		args = append(args, *upd.CheckOut)
	}
	if len(sets) == 0 {
		return r.GetRecord(ctx, id)
	}
	sets = append(sets, "updated_at = NOW()")

	query := "UPDATE attendances SET " + joinClauses(sets, ", ") + " WHERE id = $" + itoa(len(args)+1)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, fmt.Errorf("%w: attendance already recorded for this date", ErrConflict)
		}
		return Record{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Record{}, fmt.Errorf("%w: attendance %s", ErrNotFound, id)
	}
	return r.GetRecord(ctx, id)
}

// DeleteRecord removes a record by id.
func (r *Repository) DeleteRecord(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attendances WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: attendance %s", ErrNotFound, id)
	}
	return nil
}

// UpsertAbsence creates a record for (user, course, date) unless one
// already exists. The partial unique index is the concurrency guard;
// the update clause is deliberately empty so the first creator wins.
// Returns true when a row was inserted.
func (r *Repository) UpsertAbsence(ctx context.Context, userID, courseID, statusID string, date time.Time) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendances (id, user_id, course_id, status_id, date)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id, course_id, date) WHERE course_id IS NOT NULL DO NOTHING
		RETURNING id
	`, uuid.NewString(), userID, courseID, statusID, Day(date))
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// OwnedCourseIDs returns the course ids the user leads, plus the courses
// reachable through group membership when includeGroupCourses is set.
func (r *Repository) OwnedCourseIDs(ctx context.Context, userID string, includeGroupCourses bool) ([]string, error) {
	query := `SELECT id FROM courses WHERE led_by = $1`
	if includeGroupCourses {
		query += `
		UNION
		SELECT cg.course_id
		FROM course_groups cg
		JOIN group_members gm ON gm.group_id = cg.id
		WHERE gm.user_id = $1`
	}
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CourseRoster returns the distinct student ids enrolled across all of
// the course's groups. A missing course yields ErrNotFound.
func (r *Repository) CourseRoster(ctx context.Context, courseID string) ([]string, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)`, courseID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: course %s", ErrNotFound, courseID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT gm.user_id
		FROM group_members gm
		JOIN course_groups cg ON cg.id = gm.group_id
		JOIN users u ON u.id = gm.user_id
		WHERE cg.course_id = $1 AND u.role = 'STUDENT'
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StatusByName looks up a status by its unique name.
func (r *Repository) StatusByName(ctx context.Context, name string) (StatusInfo, error) {
	var st StatusInfo
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM attendance_statuses WHERE name = $1`, name).Scan(&st.ID, &st.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusInfo{}, fmt.Errorf("%w: status %q", ErrNotFound, name)
	}
	return st, err
}

// ListStatuses returns the full status reference set.
func (r *Repository) ListStatuses(ctx context.Context) ([]StatusInfo, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM attendance_statuses ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StatusInfo
	for rows.Next() {
		var st StatusInfo
		if err := rows.Scan(&st.ID, &st.Name); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// InsertStatus adds a status value.
func (r *Repository) InsertStatus(ctx context.Context, name string) (StatusInfo, error) {
	st := StatusInfo{ID: uuid.NewString(), Name: name}
	_, err := r.db.ExecContext(ctx, `INSERT INTO attendance_statuses (id, name) VALUES ($1, $2)`, st.ID, st.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return StatusInfo{}, fmt.Errorf("%w: status %q", ErrConflict, name)
		}
		return StatusInfo{}, err
	}
	return st, nil
}

// UpdateStatus renames a status value.
func (r *Repository) UpdateStatus(ctx context.Context, id, name string) (StatusInfo, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE attendance_statuses SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		if isUniqueViolation(err) {
			return StatusInfo{}, fmt.Errorf("%w: status %q", ErrConflict, name)
		}
		return StatusInfo{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return StatusInfo{}, fmt.Errorf("%w: status %s", ErrNotFound, id)
	}
	return StatusInfo{ID: id, Name: name}, nil
}

// DeleteStatus removes a status value.
func (r *Repository) DeleteStatus(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attendance_statuses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: status %s", ErrNotFound, id)
	}
	return nil
}

// GetSession returns a staff attendance session by id.
func (r *Repository) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := r.db.QueryRowContext(ctx, `
		SELECT id, expires_at, created_at FROM staff_attendance_sessions WHERE id = $1
	`, id).Scan(&sess.ID, &sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return sess, err
}

// InsertSession opens a new staff attendance session.
func (r *Repository) InsertSession(ctx context.Context, expiresAt time.Time) (Session, error) {
	sess := Session{ID: uuid.NewString(), ExpiresAt: expiresAt}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO staff_attendance_sessions (id, expires_at) VALUES ($1, $2)
		RETURNING created_at
	`, sess.ID, sess.ExpiresAt).Scan(&sess.CreatedAt)
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec        Record
		courseID   sql.NullString
		checkIn    sql.NullTime
		checkOut   sql.NullTime
		sessionID  sql.NullString
		user       UserInfo
		courseName sql.NullString
		courseLed  sql.NullString
		statusName string
	)
	if err := row.Scan(
		&rec.ID, &rec.UserID, &courseID, &rec.StatusID, &rec.Date, &checkIn, &checkOut,
		&sessionID, &rec.CreatedAt, &rec.UpdatedAt,
		&user.FirstName, &user.LastName, &user.Email, &user.Role,
		&courseName, &courseLed,
		&statusName,
	); err != nil {
		return Record{}, err
	}
	if courseID.Valid {
		rec.CourseID = &courseID.String
	}
	if checkIn.Valid {
		rec.CheckIn = &checkIn.Time
	}
	if checkOut.Valid {
		rec.CheckOut = &checkOut.Time
	}
	if sessionID.Valid {
		rec.StaffSessionID = &sessionID.String
	}
	user.ID = rec.UserID
	rec.User = &user
	if rec.CourseID != nil {
		rec.Course = &CourseInfo{ID: *rec.CourseID, Name: courseName.String, LedBy: courseLed.String}
	}
	rec.Status = &StatusInfo{ID: rec.StatusID, Name: statusName}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}
