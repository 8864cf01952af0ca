package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/huddlekit/huddle/internal/coordinator"
	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
)

type MeetingController struct {
	Coord *coordinator.Coordinator
}

// statusFor maps stable error codes onto HTTP statuses.
func statusFor(code core.Code) int {
	switch code {
	case core.CodeInvalidInput, core.CodeInvalidScheduleTime:
		return http.StatusBadRequest
	case core.CodePasswordRequired, core.CodeInvalidPassword:
		return http.StatusUnauthorized
	case core.CodeNotAuthorized:
		return http.StatusForbidden
	case core.CodeMeetingNotFound, core.CodeNotHostOrNotFound:
		return http.StatusNotFound
	case core.CodeAlreadyInMeeting, core.CodeDeviceAlreadyInUse, core.CodeMeetingFull:
		return http.StatusConflict
	case core.CodeMeetingLocked:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	appErr, ok := core.AsError(err)
	if !ok {
		appErr = core.E(core.CodeInternal, "internal error")
	}
	c.JSON(statusFor(appErr.Code), gin.H{
		"success": false,
		"code":    appErr.Code,
		"message": appErr.Message,
		"details": appErr.Details,
	})
}

// identity reads the caller identity from the bearer token. Guests carry no
// token and get an empty identity.
func identity(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	return strings.TrimSpace(token)
}

type createMeetingRequest struct {
	Title       string     `json:"title"`
	Capacity    int        `json:"capacity"`
	Password    string     `json:"password"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	Locked      bool       `json:"locked"`
}

func (ctl *MeetingController) Create(c *gin.Context) {
	var req createMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, core.E(core.CodeInvalidInput, "malformed request body"))
		return
	}

	cfg := coordinator.MeetingConfig{
		Title:       req.Title,
		Capacity:    req.Capacity,
		ScheduledAt: req.ScheduledAt,
		Locked:      req.Locked,
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			abortWithError(c, core.E(core.CodeInternal, "password hashing failed").WithCause(err))
			return
		}
		cfg.PasswordHash = string(hash)
	}

	m, err := ctl.Coord.CreateMeeting(c.Request.Context(), identity(c), cfg)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "meeting": m})
}

func (ctl *MeetingController) Get(c *gin.Context) {
	m, err := ctl.Coord.Meeting(c.Request.Context(), domain.MeetingID(c.Param("id")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "meeting": m})
}

func (ctl *MeetingController) Join(c *gin.Context) {
	var req coordinator.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, core.E(core.CodeInvalidInput, "malformed request body"))
		return
	}
	req.Device.IPAddress = c.ClientIP()
	req.Device.UserAgent = c.Request.UserAgent()
	if req.Device.DeviceID == "" {
		req.Device.DeviceID = c.GetString("client_token")
	}

	res, err := ctl.Coord.Join(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"meeting":           res.Meeting,
		"session":           res.Session,
		"roster":            res.Roster,
		"replaced_existing": res.ReplacedExisting,
	})
}

func (ctl *MeetingController) Leave(c *gin.Context) {
	sid := domain.SessionID(c.Param("id"))
	if err := ctl.Coord.Leave(c.Request.Context(), sid, domain.EndReasonLeft); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (ctl *MeetingController) End(c *gin.Context) {
	id := domain.MeetingID(c.Param("id"))
	if err := ctl.Coord.EndMeeting(c.Request.Context(), id, identity(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type lockRequest struct {
	Locked bool `json:"locked"`
}

func (ctl *MeetingController) Lock(c *gin.Context) {
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, core.E(core.CodeInvalidInput, "malformed request body"))
		return
	}
	id := domain.MeetingID(c.Param("id"))
	if err := ctl.Coord.SetLock(c.Request.Context(), id, identity(c), req.Locked); err != nil {
		abortWithError(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("meeting", string(id)).Bool("locked", req.Locked).Msg("lock toggled")
	c.JSON(http.StatusOK, gin.H{"success": true})
}
