// Package httpapi exposes the engine over gin routes. Handlers translate the
// apperr taxonomy into HTTP statuses; the one deliberate twist is that a
// duplicate scan submission answers 200 with the stored event, so flaky
// scanner retries look like success to the device.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"schoolops/internal/apperr"
	"schoolops/internal/attendance"
	"schoolops/internal/auth"
	"schoolops/internal/config"
	"schoolops/internal/httpmiddleware"
	"schoolops/internal/pickup"
	"schoolops/internal/scan"
	"schoolops/internal/schedule"
	"schoolops/internal/store"
)

// Deps bundles everything the server routes need.
type Deps struct {
	Config        config.App
	Logger        *zap.Logger
	Scans         *scan.Service
	Attendance    *attendance.Aggregator
	Schedule      *schedule.Resolver
	ScheduleStore schedule.Store
	Pickups       *pickup.Workflow
	Refresh       auth.RefreshStore

	// DB and Redis are only checked by the health endpoint; either may be nil
	// when the corresponding backend is not in use.
	DB    *store.DB
	Redis *store.Redis
}

// Server owns the route tree.
type Server struct {
	deps Deps
	loc  *time.Location
}

// New creates a server. The configured timezone decides how day query
// parameters default and parse.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Refresh == nil {
		deps.Refresh = auth.NewMemoryRefreshStore()
	}
	return &Server{deps: deps, loc: deps.Config.Location()}
}

// Router builds the gin engine with all middleware and routes attached.
func (s *Server) Router() *gin.Engine {
	cfg := s.deps.Config

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin).Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.health)

	r.POST("/v1/devices/register", s.registerDevice)
	r.POST("/v1/auth/refresh", s.refreshToken)

	key, issuer := cfg.JWTSigningKey, cfg.JWTIssuer
	v1 := r.Group("/v1")

	device := v1.Group("", auth.Require(key, issuer, auth.RoleDevice, auth.RoleStaff))
	device.POST("/scans", s.recordScan)
	device.POST("/attendance/marks", s.recordMark)
	device.POST("/pickups/:id/confirm", s.confirmPickup)
	device.POST("/pickups/:id/complete", s.completePickup)

	staff := v1.Group("", auth.Require(key, issuer, auth.RoleStaff))
	staff.POST("/students", s.upsertStudent)
	staff.POST("/schedule/entries", s.insertEntry)
	staff.POST("/schedule/substitutions", s.insertSubstitution)
	staff.PUT("/schedule/periods", s.upsertPeriod)

	parent := v1.Group("", auth.Require(key, issuer, auth.RoleParent, auth.RoleStaff))
	parent.POST("/pickups", s.requestPickup)
	parent.POST("/pickups/:id/cancel", s.cancelPickup)

	authed := v1.Group("", auth.Require(key, issuer))
	authed.GET("/buses/:bus_id/roster", s.busRoster)
	authed.GET("/buses/:bus_id/counts", s.busCounts)
	authed.GET("/students/:student_id/attendance", s.attendanceHistory)
	authed.GET("/students/:student_id/attendance/statistics", s.attendanceStatistics)
	authed.GET("/students/:student_id/pickup-quota", s.pickupQuota)
	authed.GET("/attendance/summary", s.attendanceSummary)
	authed.GET("/schedule/teachers/:teacher_id", s.teacherSchedule)
	authed.GET("/schedule/teachers/:teacher_id/integrity", s.scheduleIntegrity)
	authed.GET("/schedule/classes/:class_name", s.classSchedule)
	authed.GET("/pickups/changes", s.pickupChanges)
	authed.GET("/pickups/:id", s.getPickup)

	return r
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	resp := gin.H{"status": "ok"}
	if s.deps.DB != nil {
		healthy := s.deps.DB.Client.PingContext(c.Request.Context()) == nil
		resp["db"] = healthy
		if !healthy {
			status = http.StatusServiceUnavailable
		}
	}
	if s.deps.Redis != nil {
		healthy := s.deps.Redis.Healthy(c.Request.Context())
		resp["redis"] = healthy
		if !healthy {
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, resp)
}

func (s *Server) registerDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg := s.deps.Config
	tokens, err := auth.Issue(req.DeviceID, auth.RoleDevice, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if err := s.deps.Refresh.Save(c.Request.Context(), req.DeviceID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		s.deps.Logger.Warn("refresh token save failed", zap.Error(err))
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (s *Server) refreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg := s.deps.Config
	claims, err := auth.Parse(req.RefreshToken, cfg.JWTSigningKey, cfg.JWTIssuer)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	// Only the most recently issued refresh token for a subject is honored.
	if err := s.deps.Refresh.Validate(c.Request.Context(), claims.Subject, req.RefreshToken); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token not recognized"})
		return
	}
	tokens, err := auth.Issue(claims.Subject, claims.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if err := s.deps.Refresh.Save(c.Request.Context(), claims.Subject, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		s.deps.Logger.Warn("refresh token save failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (s *Server) recordScan(c *gin.Context) {
	var evt scan.Event
	if err := c.ShouldBindJSON(&evt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stored, err := s.deps.Scans.RecordScan(c.Request.Context(), evt)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindDuplicate {
			c.JSON(http.StatusOK, gin.H{"event": stored, "duplicate": true})
			return
		}
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": stored})
}

func (s *Server) busRoster(c *gin.Context) {
	day, err := s.dayParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	roster, err := s.deps.Scans.CurrentRoster(c.Request.Context(), c.Param("bus_id"), day)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if roster == nil {
		roster = []scan.RosterEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"roster": roster, "count": len(roster)})
}

func (s *Server) busCounts(c *gin.Context) {
	day, err := s.dayParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	counts, err := s.deps.Scans.DayCounts(c.Request.Context(), c.Param("bus_id"), day)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (s *Server) upsertStudent(c *gin.Context) {
	var st scan.Student
	if err := c.ShouldBindJSON(&st); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if st.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	if err := s.deps.Scans.RegisterStudent(c.Request.Context(), st); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student": st})
}

func (s *Server) recordMark(c *gin.Context) {
	var mark attendance.Mark
	if err := c.ShouldBindJSON(&mark); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Attendance.RecordMark(c.Request.Context(), mark); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"mark": mark})
}

func (s *Server) attendanceStatistics(c *gin.Context) {
	stats, err := s.deps.Attendance.Statistics(c.Request.Context(), c.Param("student_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) attendanceHistory(c *gin.Context) {
	history, err := s.deps.Attendance.History(c.Request.Context(), c.Param("student_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if history == nil {
		history = []attendance.DayGroup{}
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (s *Server) attendanceSummary(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		date = time.Now().In(s.loc).Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		s.writeError(c, apperr.Validation("malformed date %q", date))
		return
	}
	summary, err := s.deps.Attendance.SummaryByClass(c.Request.Context(), date)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if summary == nil {
		summary = []attendance.ClassSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "classes": summary})
}

func (s *Server) insertEntry(c *gin.Context) {
	var req struct {
		schedule.Entry
		TeacherID string `json:"teacher_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry := req.Entry
	entry.TeacherID = req.TeacherID
	if err := entry.Validate(); err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.deps.ScheduleStore.InsertEntry(c.Request.Context(), entry); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

func (s *Server) insertSubstitution(c *gin.Context) {
	var sub schedule.Substitution
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := sub.Validate(); err != nil {
		s.writeError(c, err)
		return
	}
	stored, err := s.deps.ScheduleStore.InsertSubstitution(c.Request.Context(), sub)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"substitution": stored})
}

func (s *Server) upsertPeriod(c *gin.Context) {
	var p schedule.Period
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if p.Number <= 0 {
		s.writeError(c, apperr.Validation("number must be positive"))
		return
	}
	if err := s.deps.ScheduleStore.UpsertPeriod(c.Request.Context(), p); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": p})
}

func (s *Server) teacherSchedule(c *gin.Context) {
	anchor, err := s.anchorParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	week, err := s.deps.Schedule.ForTeacher(c.Request.Context(), c.Param("teacher_id"), anchor)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, week)
}

func (s *Server) classSchedule(c *gin.Context) {
	anchor, err := s.anchorParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	week, err := s.deps.Schedule.ForClass(c.Request.Context(), c.Param("class_name"), anchor)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, week)
}

func (s *Server) scheduleIntegrity(c *gin.Context) {
	anchor, err := s.anchorParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.deps.Schedule.CheckIntegrity(c.Request.Context(), c.Param("teacher_id"), anchor); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requestPickup(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.deps.Pickups.Request(c.Request.Context(), req.StudentID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request": created})
}

func (s *Server) confirmPickup(c *gin.Context) {
	req, err := s.deps.Pickups.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

func (s *Server) completePickup(c *gin.Context) {
	req, err := s.deps.Pickups.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

func (s *Server) cancelPickup(c *gin.Context) {
	req, err := s.deps.Pickups.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

func (s *Server) getPickup(c *gin.Context) {
	req, err := s.deps.Pickups.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

func (s *Server) pickupQuota(c *gin.Context) {
	quota, err := s.deps.Pickups.QuotaToday(c.Request.Context(), c.Param("student_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quota)
}

func (s *Server) pickupChanges(c *gin.Context) {
	var since uint64
	if v := c.Query("since"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(c, apperr.Validation("malformed since %q", v))
			return
		}
		since = parsed
	}
	snap, err := s.deps.Pickups.Snapshot(c.Request.Context(), since)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if snap.Requests == nil {
		snap.Requests = []pickup.Request{}
	}
	c.JSON(http.StatusOK, snap)
}

// dayParam reads the day query parameter, defaulting to today in the
// configured location.
func (s *Server) dayParam(c *gin.Context) (time.Time, error) {
	v := c.Query("day")
	if v == "" {
		return time.Now().In(s.loc), nil
	}
	day, err := time.ParseInLocation("2006-01-02", v, s.loc)
	if err != nil {
		return time.Time{}, apperr.Validation("malformed day %q", v)
	}
	return day, nil
}

// anchorParam reads the optional anchor query parameter. Absent means resolve
// without dates.
func (s *Server) anchorParam(c *gin.Context) (*time.Time, error) {
	v := c.Query("anchor")
	if v == "" {
		return nil, nil
	}
	anchor, err := time.ParseInLocation("2006-01-02", v, s.loc)
	if err != nil {
		return nil, apperr.Validation("malformed anchor %q", v)
	}
	return &anchor, nil
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindDuplicate, apperr.KindConflict, apperr.KindInvalidState:
		status = http.StatusConflict
	case apperr.KindQuotaExceeded:
		status = http.StatusTooManyRequests
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindDataIntegrity:
		status = http.StatusInternalServerError
	default:
		s.deps.Logger.Error("request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
