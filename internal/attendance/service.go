package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"schoolhub/internal/auth"
	"schoolhub/internal/queue"
)

// Cache is an optional key/value store for short-lived scope lookups.
// A miss returns ("", nil); errors fail open.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Service coordinates scoping, default-absence materialization and the
// attendance CRUD operations.
type Service struct {
	store         Store
	events        queue.Queue
	cache         Cache
	log           *zap.Logger
	absentStatus  string
	presentStatus string
	scopeCacheTTL time.Duration
}

// Option tweaks optional service collaborators.
type Option func(*Service)

// WithEvents publishes a queue event for every created record.
func WithEvents(q queue.Queue) Option {
	return func(s *Service) { s.events = q }
}

// WithScopeCache caches owned-course sets for the given TTL.
func WithScopeCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.scopeCacheTTL = ttl
	}
}

// WithStatusNames overrides the status names used for materialized
// absences and staff check-ins.
func WithStatusNames(absent, present string) Option {
	return func(s *Service) {
		if absent != "" {
			s.absentStatus = absent
		}
		if present != "" {
			s.presentStatus = present
		}
	}
}

// NewService creates a service backed by a store.
func NewService(store Store, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:         store,
		log:           log,
		absentStatus:  "Absent",
		presentStatus: "Present",
		scopeCacheTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the records the caller may see, narrowed by the query.
// A read by a course-leading caller with both course and date triggers
// default-absence materialization first, so the result reflects the
// full roster.
func (s *Service) List(ctx context.Context, ident auth.Identity, q ReadQuery) ([]Record, error) {
	owned, err := s.ownedCourses(ctx, ident)
	if err != nil {
		return nil, err
	}

	if q.ID != "" {
		rec, err := s.store.GetRecord(ctx, q.ID)
		if err != nil {
			return nil, err
		}
		if !canViewRecord(ident, owned, rec) {
			return nil, ErrForbidden
		}
		return []Record{rec}, nil
	}

	f, err := listFilter(ident, owned, q)
	if err != nil {
		return nil, err
	}

	if ident.Role.CourseScoped() && q.CourseID != "" && q.Date != nil {
		s.materializeAbsences(ctx, q.CourseID, Day(*q.Date))
	}

	return s.store.ListRecords(ctx, f)
}

// Create validates and inserts one record.
func (s *Service) Create(ctx context.Context, ident auth.Identity, in CreateInput) (Record, error) {
	switch {
	case in.UserID == "":
		return Record{}, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	case in.StatusID == "":
		return Record{}, fmt.Errorf("%w: statusId is required", ErrInvalidInput)
	case in.Date.IsZero():
		return Record{}, fmt.Errorf("%w: date is required", ErrInvalidInput)
	case in.CheckIn.IsZero():
		return Record{}, fmt.Errorf("%w: checkIn is required", ErrInvalidInput)
	}

	owned, err := s.ownedCourses(ctx, ident)
	if err != nil {
		return Record{}, err
	}
	if !canCreate(ident, owned, in.CourseID) {
		return Record{}, ErrForbidden
	}

	checkIn := in.CheckIn
	rec, err := s.store.InsertRecord(ctx, Record{
		UserID:         in.UserID,
		CourseID:       in.CourseID,
		StatusID:       in.StatusID,
		Date:           Day(in.Date),
		CheckIn:        &checkIn,
		CheckOut:       in.CheckOut,
		StaffSessionID: in.StaffSessionID,
	})
	if err != nil {
		return Record{}, err
	}

	s.publish(ctx, EventRecorded, rec)
	return rec, nil
}

// Update applies a partial update to an existing record after checking
// the caller may mutate it.
func (s *Service) Update(ctx context.Context, ident auth.Identity, id string, in UpdateInput) (Record, error) {
	if id == "" {
		return Record{}, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	existing, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return Record{}, err
	}

	owned, err := s.ownedCourses(ctx, ident)
	if err != nil {
		return Record{}, err
	}
	if !canMutate(ident, owned, existing) {
		return Record{}, ErrForbidden
	}

	if in.Date != nil {
		day := Day(*in.Date)
		in.Date = &day
	}
	return s.store.UpdateRecord(ctx, id, in)
}

// Delete removes a record by id, applying the same ownership scope as
// Update. The upstream behavior deleted unconditionally; that was a
// privilege hole, not a contract.
func (s *Service) Delete(ctx context.Context, ident auth.Identity, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	existing, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return err
	}

	owned, err := s.ownedCourses(ctx, ident)
	if err != nil {
		return err
	}
	if !canMutate(ident, owned, existing) {
		return ErrForbidden
	}
	return s.store.DeleteRecord(ctx, id)
}

// materializeAbsences guarantees an attendance record for every student
// on the course roster for the given date, creating Absent rows where
// missing. Failures degrade: the read proceeds with whatever exists.
func (s *Service) materializeAbsences(ctx context.Context, courseID string, date time.Time) {
	roster, err := s.store.CourseRoster(ctx, courseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return
		}
		s.log.Error("roster lookup failed", zap.String("course_id", courseID), zap.Error(err))
		return
	}

	absent, err := s.store.StatusByName(ctx, s.absentStatus)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Likely a renamed or missing seed row. Degrade to an empty
			// materialization, but loudly.
			s.log.Warn("absent status missing, skipping materialization",
				zap.String("status_name", s.absentStatus),
				zap.String("course_id", courseID))
			materializeSkipped.WithLabelValues("status_missing").Inc()
			return
		}
		s.log.Error("status lookup failed", zap.Error(err))
		materializeSkipped.WithLabelValues("status_lookup_failed").Inc()
		return
	}

	for _, studentID := range roster {
		created, err := s.store.UpsertAbsence(ctx, studentID, courseID, absent.ID, date)
		if err != nil {
			s.log.Error("absence upsert failed",
				zap.String("user_id", studentID),
				zap.String("course_id", courseID),
				zap.Error(err))
			materializeErrors.Inc()
			continue
		}
		if created {
			absencesMaterialized.Inc()
			s.publish(ctx, EventAbsentMarked, Record{
				UserID:   studentID,
				CourseID: &courseID,
				StatusID: absent.ID,
				Date:     date,
			})
		}
	}
}

// ownedCourses resolves the caller's owned-course set, consulting the
// scope cache when configured. Roles without course scoping skip the
// lookup entirely.
func (s *Service) ownedCourses(ctx context.Context, ident auth.Identity) (courseSet, error) {
	if !ident.Role.CourseScoped() {
		return nil, nil
	}

	key := "scope:owned:" + ident.UserID
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil && raw != "" {
			var ids []string
			if err := json.Unmarshal([]byte(raw), &ids); err == nil {
				return newCourseSet(ids), nil
			}
		}
	}

	includeGroups := ident.Role == auth.RoleFaculty
	ids, err := s.store.OwnedCourseIDs(ctx, ident.UserID, includeGroups)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(ids); err == nil {
			if err := s.cache.Set(ctx, key, string(raw), s.scopeCacheTTL); err != nil {
				s.log.Debug("scope cache write failed", zap.Error(err))
			}
		}
	}
	return newCourseSet(ids), nil
}

func (s *Service) publish(ctx context.Context, typ string, rec Record) {
	if s.events == nil {
		return
	}
	evt := Event{
		RecordID: rec.ID,
		UserID:   rec.UserID,
		StatusID: rec.StatusID,
		Date:     rec.Date.Format("2006-01-02"),
	}
	if rec.CourseID != nil {
		evt.CourseID = *rec.CourseID
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := s.events.Publish(ctx, queue.Message{Type: typ, Body: body}); err != nil {
		s.log.Error("event publish failed", zap.String("type", typ), zap.Error(err))
	}
}
