package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"schoolhub/internal/attendance"
	"schoolhub/internal/auth"
)

// Server exposes the attendance endpoint family over gin.
type Server struct {
	svc *attendance.Service
	log *zap.Logger
}

// NewServer wires handlers around the attendance service.
func NewServer(svc *attendance.Service, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, log: log}
}

// Register mounts the endpoint family on an authenticated route group.
func (s *Server) Register(r gin.IRouter) {
	r.GET("/attendances", s.getAttendances)
	r.POST("/attendances", s.postAttendance)
	r.PUT("/attendances", s.putAttendance)
	r.DELETE("/attendances", s.deleteAttendance)

	r.GET("/attendance-statuses", s.getStatuses)
	r.POST("/attendance-statuses", s.postStatus)
	r.PUT("/attendance-statuses", s.putStatus)
	r.DELETE("/attendance-statuses", s.deleteStatus)

	r.POST("/staff-attendance-sessions", s.postStaffSession)
	r.POST("/staff-attendances", s.postStaffCheckIn)
}

func (s *Server) getAttendances(c *gin.Context) {
	ident, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	q := attendance.ReadQuery{
		ID:       c.Query("id"),
		CourseID: c.Query("courseId"),
	}
	if raw := c.Query("date"); raw != "" {
		date, err := parseDate(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
			return
		}
		q.Date = &date
	}

	records, err := s.svc.List(c.Request.Context(), ident, q)
	if err != nil {
		s.respondError(c, err)
		return
	}

	// Lookups by id return the single record, matching the upstream
	// contract; list reads return the full matching set.
	if q.ID != "" {
		c.JSON(http.StatusOK, records[0])
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, records)
}

type createAttendanceRequest struct {
	UserID         string  `json:"userId"`
	CourseID       *string `json:"courseId"`
	StatusID       string  `json:"statusId"`
	Date           string  `json:"date"`
	CheckIn        string  `json:"checkIn"`
	CheckOut       *string `json:"checkOut"`
	StaffSessionID *string `json:"staffAttendanceSessionId"`
}

func (s *Server) postAttendance(c *gin.Context) {
	ident, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	var req createAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.UserID == "" || req.StatusID == "" || req.Date == "" || req.CheckIn == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId, statusId, date, and checkIn are required"})
		return
	}

	in := attendance.CreateInput{
		UserID:         req.UserID,
		CourseID:       req.CourseID,
		StatusID:       req.StatusID,
		StaffSessionID: req.StaffSessionID,
	}
	var err error
	if in.Date, err = parseDate(req.Date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date"})
		return
	}
	if in.CheckIn, err = parseTimestamp(req.CheckIn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid checkIn"})
		return
	}
	if req.CheckOut != nil {
		out, err := parseTimestamp(*req.CheckOut)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid checkOut"})
			return
		}
		in.CheckOut = &out
	}

	rec, err := s.svc.Create(c.Request.Context(), ident, in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

type updateAttendanceRequest struct {
	ID       string  `json:"id"`
	StatusID *string `json:"statusId"`
	Date     *string `json:"date"`
	CheckIn  *string `json:"checkIn"`
	CheckOut *string `json:"checkOut"`
}

func (s *Server) putAttendance(c *gin.Context) {
	ident, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	var req updateAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "attendance id is required"})
		return
	}

	in := attendance.UpdateInput{StatusID: req.StatusID}
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date"})
			return
		}
		in.Date = &date
	}
	if req.CheckIn != nil {
		t, err := parseTimestamp(*req.CheckIn)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid checkIn"})
			return
		}
		in.CheckIn = &t
	}
	if req.CheckOut != nil {
		t, err := parseTimestamp(*req.CheckOut)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid checkOut"})
			return
		}
		in.CheckOut = &t
	}

	rec, err := s.svc.Update(c.Request.Context(), ident, req.ID, in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) deleteAttendance(c *gin.Context) {
	ident, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "attendance id is required"})
		return
	}
	if err := s.svc.Delete(c.Request.Context(), ident, id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getStatuses(c *gin.Context) {
	statuses, err := s.svc.Statuses(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if statuses == nil {
		statuses = []attendance.StatusInfo{}
	}
	c.JSON(http.StatusOK, statuses)
}

type statusRequest struct {
	Name string `json:"name"`
}

func (s *Server) postStatus(c *gin.Context) {
	ident, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	st, err := s.svc.CreateStatus(c.Request.Context(), ident, strings.TrimSpace(req.Name))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (s *Server) putStatus(c *gin.Context) {
	ident, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	st, err := s.svc.RenameStatus(c.Request.Context(), ident, c.Query("id"), strings.TrimSpace(req.Name))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) deleteStatus(c *gin.Context) {
	ident, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	if err := s.svc.DeleteStatus(c.Request.Context(), ident, c.Query("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) postStaffSession(c *gin.Context) {
	ident, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	sess, err := s.svc.CreateStaffSession(c.Request.Context(), ident)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

type staffCheckInRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) postStaffCheckIn(c *gin.Context) {
	ident, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	var req staffCheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	rec, err := s.svc.StaffCheckIn(c.Request.Context(), ident, req.SessionID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// respondError maps service errors onto the error body contract.
func (s *Server) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attendance.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return attendance.Day(t), nil
}

func parseTimestamp(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339, raw)
}
