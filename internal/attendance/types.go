package attendance

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors mapped to HTTP statuses at the handler layer.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("already exists")
)

// Record is one attendance row, optionally carrying joined projections
// of the owning user, course and status on reads.
type Record struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	CourseID       *string    `json:"courseId"`
	StatusID       string     `json:"statusId"`
	Date           time.Time  `json:"date"`
	CheckIn        *time.Time `json:"checkIn"`
	CheckOut       *time.Time `json:"checkOut"`
	StaffSessionID *string    `json:"staffAttendanceSessionId"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`

	User   *UserInfo   `json:"user,omitempty"`
	Course *CourseInfo `json:"course,omitempty"`
	Status *StatusInfo `json:"status,omitempty"`
}

// UserInfo is the joined user projection.
type UserInfo struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

// CourseInfo is the joined course projection.
type CourseInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	LedBy string `json:"ledBy"`
}

// StatusInfo is one attendance status reference row.
type StatusInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is a staff attendance check-in window.
type Session struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Filter narrows a repository read. Zero values mean "not filtered".
// A non-nil CourseIDs restricts to that set; an empty non-nil set
// matches nothing.
type Filter struct {
	ID        string
	UserID    string
	CourseID  string
	CourseIDs []string
	Date      *time.Time
}

// ReadQuery carries the caller-supplied read filters before scoping.
type ReadQuery struct {
	ID       string
	CourseID string
	Date     *time.Time
}

// CreateInput is a new record as supplied by the caller.
type CreateInput struct {
	UserID         string
	CourseID       *string
	StatusID       string
	Date           time.Time
	CheckIn        time.Time
	CheckOut       *time.Time
	StaffSessionID *string
}

// UpdateInput is a partial update; nil fields are left untouched.
type UpdateInput struct {
	StatusID *string
	Date     *time.Time
	CheckIn  *time.Time
	CheckOut *time.Time
}

// Store is the repository surface the service depends on. The SQL
// implementation lives in Repository; tests use an in-memory fake.
type Store interface {
	GetRecord(ctx context.Context, id string) (Record, error)
	ListRecords(ctx context.Context, f Filter) ([]Record, error)
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	UpdateRecord(ctx context.Context, id string, upd UpdateInput) (Record, error)
	DeleteRecord(ctx context.Context, id string) error
	UpsertAbsence(ctx context.Context, userID, courseID, statusID string, date time.Time) (bool, error)

	OwnedCourseIDs(ctx context.Context, userID string, includeGroupCourses bool) ([]string, error)
	CourseRoster(ctx context.Context, courseID string) ([]string, error)

	StatusByName(ctx context.Context, name string) (StatusInfo, error)
	ListStatuses(ctx context.Context) ([]StatusInfo, error)
	InsertStatus(ctx context.Context, name string) (StatusInfo, error)
	UpdateStatus(ctx context.Context, id, name string) (StatusInfo, error)
	DeleteStatus(ctx context.Context, id string) error

	GetSession(ctx context.Context, id string) (Session, error)
	InsertSession(ctx context.Context, expiresAt time.Time) (Session, error)
}

// Event is published to the queue whenever a record is created.
type Event struct {
	RecordID string `json:"record_id"`
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id,omitempty"`
	StatusID string `json:"status_id"`
	Date     string `json:"date"`
}

// Queue message types consumed by the notification worker.
const (
	EventRecorded     = "attendance.recorded"
	EventAbsentMarked = "attendance.absent_marked"
)

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
