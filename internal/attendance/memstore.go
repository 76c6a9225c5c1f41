package attendance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is a map-backed Store for dev and tests, mirroring the
// uniqueness rules the SQL schema enforces.
type MemStore struct {
	mu       sync.Mutex
	records  map[string]Record
	statuses map[string]StatusInfo
	sessions map[string]Session
	users    map[string]UserInfo
	courses  map[string]memCourse
}

type memCourse struct {
	info   CourseInfo
	groups map[string][]string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		records:  make(map[string]Record),
		statuses: make(map[string]StatusInfo),
		sessions: make(map[string]Session),
		users:    make(map[string]UserInfo),
		courses:  make(map[string]memCourse),
	}
}

// AddUser seeds a user.
func (m *MemStore) AddUser(u UserInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// AddCourse seeds a course.
func (m *MemStore) AddCourse(id, name, ledBy string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses[id] = memCourse{
		info:   CourseInfo{ID: id, Name: name, LedBy: ledBy},
		groups: make(map[string][]string),
	}
}

// AddGroup seeds a group with its members.
func (m *MemStore) AddGroup(courseID, groupID string, memberIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	course, ok := m.courses[courseID]
	if !ok {
		return
	}
	course.groups[groupID] = append(course.groups[groupID], memberIDs...)
	m.courses[courseID] = course
}

// AddStatus seeds a status value and returns it.
func (m *MemStore) AddStatus(name string) StatusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := StatusInfo{ID: uuid.NewString(), Name: name}
	m.statuses[st.ID] = st
	return st
}

func (m *MemStore) GetRecord(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: attendance %s", ErrNotFound, id)
	}
	return m.project(rec), nil
}

func (m *MemStore) ListRecords(_ context.Context, f Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.CourseIDs != nil && len(f.CourseIDs) == 0 {
		return nil, nil
	}
	allowed := map[string]struct{}{}
	for _, id := range f.CourseIDs {
		allowed[id] = struct{}{}
	}
	var res []Record
	for _, rec := range m.records {
		if f.ID != "" && rec.ID != f.ID {
			continue
		}
		if f.UserID != "" && rec.UserID != f.UserID {
			continue
		}
		if f.CourseID != "" && (rec.CourseID == nil || *rec.CourseID != f.CourseID) {
			continue
		}
		if len(allowed) > 0 {
			if rec.CourseID == nil {
				continue
			}
			if _, ok := allowed[*rec.CourseID]; !ok {
				continue
			}
		}
		if f.Date != nil && !rec.Date.Equal(Day(*f.Date)) {
			continue
		}
		res = append(res, m.project(rec))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *MemStore) InsertRecord(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Date = Day(rec.Date)
	if m.hasDuplicate(rec.UserID, rec.CourseID, rec.Date, "") {
		return Record{}, fmt.Errorf("%w: attendance already recorded for this date", ErrConflict)
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.records[rec.ID] = rec
	return m.project(rec), nil
}

func (m *MemStore) UpdateRecord(_ context.Context, id string, upd UpdateInput) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: attendance %s", ErrNotFound, id)
	}
	if upd.StatusID != nil {
		rec.StatusID = *upd.StatusID
	}
	if upd.Date != nil {
		rec.Date = Day(*upd.Date)
	}
	if upd.CheckIn != nil {
		rec.CheckIn = upd.CheckIn
	}
	if upd.CheckOut != nil {
		rec.CheckOut = upd.CheckOut
	}
	if m.hasDuplicate(rec.UserID, rec.CourseID, rec.Date, rec.ID) {
		return Record{}, fmt.Errorf("%w: attendance already recorded for this date", ErrConflict)
	}
	rec.UpdatedAt = time.Now().UTC()
	m.records[id] = rec
	return m.project(rec), nil
}

func (m *MemStore) DeleteRecord(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("%w: attendance %s", ErrNotFound, id)
	}
	delete(m.records, id)
	return nil
}

func (m *MemStore) UpsertAbsence(_ context.Context, userID, courseID, statusID string, date time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day := Day(date)
	if m.hasDuplicate(userID, &courseID, day, "") {
		return false, nil
	}
	now := time.Now().UTC()
	rec := Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		CourseID:  &courseID,
		StatusID:  statusID,
		Date:      day,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.records[rec.ID] = rec
	return true, nil
}

func (m *MemStore) OwnedCourseIDs(_ context.Context, userID string, includeGroupCourses bool) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	var ids []string
	for id, course := range m.courses {
		if course.info.LedBy == userID {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
			continue
		}
		if !includeGroupCourses {
			continue
		}
		for _, members := range course.groups {
			for _, member := range members {
				if member == userID {
					if _, ok := seen[id]; !ok {
						seen[id] = struct{}{}
						ids = append(ids, id)
					}
				}
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemStore) CourseRoster(_ context.Context, courseID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	course, ok := m.courses[courseID]
	if !ok {
		return nil, fmt.Errorf("%w: course %s", ErrNotFound, courseID)
	}
	seen := map[string]struct{}{}
	var ids []string
	for _, members := range course.groups {
		for _, member := range members {
			if user, ok := m.users[member]; !ok || user.Role != "STUDENT" {
				continue
			}
			if _, ok := seen[member]; !ok {
				seen[member] = struct{}{}
				ids = append(ids, member)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemStore) StatusByName(_ context.Context, name string) (StatusInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.statuses {
		if st.Name == name {
			return st, nil
		}
	}
	return StatusInfo{}, fmt.Errorf("%w: status %q", ErrNotFound, name)
}

func (m *MemStore) ListStatuses(_ context.Context) ([]StatusInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []StatusInfo
	for _, st := range m.statuses {
		res = append(res, st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (m *MemStore) InsertStatus(_ context.Context, name string) (StatusInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.statuses {
		if st.Name == name {
			return StatusInfo{}, fmt.Errorf("%w: status %q", ErrConflict, name)
		}
	}
	st := StatusInfo{ID: uuid.NewString(), Name: name}
	m.statuses[st.ID] = st
	return st, nil
}

func (m *MemStore) UpdateStatus(_ context.Context, id, name string) (StatusInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[id]
	if !ok {
		return StatusInfo{}, fmt.Errorf("%w: status %s", ErrNotFound, id)
	}
	st.Name = name
	m.statuses[id] = st
	return st, nil
}

func (m *MemStore) DeleteStatus(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.statuses[id]; !ok {
		return fmt.Errorf("%w: status %s", ErrNotFound, id)
	}
	delete(m.statuses, id)
	return nil
}

func (m *MemStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return sess, nil
}

func (m *MemStore) InsertSession(_ context.Context, expiresAt time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := Session{ID: uuid.NewString(), ExpiresAt: expiresAt, CreatedAt: time.Now().UTC()}
	m.sessions[sess.ID] = sess
	return sess, nil
}

// hasDuplicate mirrors the two partial unique indexes: course records
// collide on (user, course, date), staff records on (user, date).
func (m *MemStore) hasDuplicate(userID string, courseID *string, date time.Time, exceptID string) bool {
	for _, other := range m.records {
		if other.ID == exceptID || other.UserID != userID || !other.Date.Equal(date) {
			continue
		}
		if courseID == nil && other.CourseID == nil {
			return true
		}
		if courseID != nil && other.CourseID != nil && *courseID == *other.CourseID {
			return true
		}
	}
	return false
}

func (m *MemStore) project(rec Record) Record {
	if user, ok := m.users[rec.UserID]; ok {
		u := user
		rec.User = &u
	}
	if rec.CourseID != nil {
		if course, ok := m.courses[*rec.CourseID]; ok {
			info := course.info
			rec.Course = &info
		}
	}
	if st, ok := m.statuses[rec.StatusID]; ok {
		s := st
		rec.Status = &s
	}
	return rec
}
