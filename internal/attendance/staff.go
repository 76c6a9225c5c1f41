package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schoolhub/internal/auth"
)

// Statuses lists the attendance status reference set.
func (s *Service) Statuses(ctx context.Context) ([]StatusInfo, error) {
	return s.store.ListStatuses(ctx)
}

// CreateStatus adds a status value. Admin and HR only.
func (s *Service) CreateStatus(ctx context.Context, ident auth.Identity, name string) (StatusInfo, error) {
	if !ident.Role.Unrestricted() {
		return StatusInfo{}, ErrForbidden
	}
	if name == "" {
		return StatusInfo{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return s.store.InsertStatus(ctx, name)
}

// RenameStatus changes a status name. Admin and HR only.
func (s *Service) RenameStatus(ctx context.Context, ident auth.Identity, id, name string) (StatusInfo, error) {
	if !ident.Role.Unrestricted() {
		return StatusInfo{}, ErrForbidden
	}
	if id == "" {
		return StatusInfo{}, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if name == "" {
		return StatusInfo{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return s.store.UpdateStatus(ctx, id, name)
}

// DeleteStatus removes a status value. Admin and HR only.
func (s *Service) DeleteStatus(ctx context.Context, ident auth.Identity, id string) error {
	if !ident.Role.Unrestricted() {
		return ErrForbidden
	}
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	return s.store.DeleteStatus(ctx, id)
}

// CreateStaffSession opens a staff check-in window lasting until the end
// of the current day. Admin and HR only.
func (s *Service) CreateStaffSession(ctx context.Context, ident auth.Identity) (Session, error) {
	if !ident.Role.Unrestricted() {
		return Session{}, ErrForbidden
	}
	now := time.Now().UTC()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, time.UTC)
	return s.store.InsertSession(ctx, endOfDay)
}

// StaffCheckIn records a Present check-in for the caller against an open
// session. Students are excluded from staff attendance.
func (s *Service) StaffCheckIn(ctx context.Context, ident auth.Identity, sessionID string) (Record, error) {
	if ident.Role == auth.RoleStudent {
		return Record{}, ErrForbidden
	}
	if sessionID == "" {
		return Record{}, fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Record{}, err
	}
	now := time.Now().UTC()
	if now.After(sess.ExpiresAt) {
		return Record{}, fmt.Errorf("%w: session has expired", ErrInvalidInput)
	}

	present, err := s.store.StatusByName(ctx, s.presentStatus)
	if err != nil {
		// A missing Present row is a configuration fault, not a caller
		// error; surface it as a server failure.
		if errors.Is(err, ErrNotFound) {
			return Record{}, fmt.Errorf("%q status not configured", s.presentStatus)
		}
		return Record{}, err
	}

	rec, err := s.store.InsertRecord(ctx, Record{
		UserID:         ident.UserID,
		StatusID:       present.ID,
		Date:           Day(now),
		CheckIn:        &now,
		StaffSessionID: &sessionID,
	})
	if err != nil {
		return Record{}, err
	}

	s.publish(ctx, EventRecorded, rec)
	return rec, nil
}
