package http

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoLaunch/internal/adapters/bridge"
	"github.com/dkeye/VideoLaunch/internal/app"
	"github.com/dkeye/VideoLaunch/internal/app/lifecycle"
	"github.com/dkeye/VideoLaunch/internal/app/schedule"
	"github.com/dkeye/VideoLaunch/internal/config"
	"github.com/dkeye/VideoLaunch/internal/domain"
	"github.com/dkeye/VideoLaunch/internal/launch"
	"github.com/dkeye/VideoLaunch/internal/signer"
)

const (
	tabParam  = "tab"
	maxTabLen = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type handlers struct {
	cfg  *config.Config
	deps Deps
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "launchers": h.deps.Registry.Len()})
}

type credentialRequest struct {
	SessionName string `json:"sessionName" binding:"required"`
	Role        *int   `json:"role" binding:"required"`
}

// signCredential is the endpoint launchers call. Failures never carry a
// signature field.
func (h *handlers) signCredential(c *gin.Context) {
	if h.deps.Signer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "credential signing not configured"})
		return
	}
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid sessionName/role"})
		return
	}
	sig, err := h.deps.Signer.Sign(domain.SessionName(req.SessionName), domain.SessionRole(*req.Role))
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("session", req.SessionName).Msg("sign credential")
		status := http.StatusInternalServerError
		if errors.Is(err, signer.ErrInvalidRole) || errors.Is(err, signer.ErrEmptySession) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signature": sig})
}

func (h *handlers) verifyCredential(c *gin.Context) {
	if h.deps.Signer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "credential signing not configured"})
		return
	}
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	claims, err := h.deps.Signer.Verify(req.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, claims)
}

// sessionPage validates a join link and serves the launch page.
func (h *handlers) sessionPage(c *gin.Context) {
	id, err := launch.Decode(c.Request.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if status, err := h.validate(c.Request.Context(), id); err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.File(filepath.Join(h.cfg.StaticPath, "session.html"))
}

func (h *handlers) validate(ctx context.Context, id domain.LaunchIdentity) (int, error) {
	if h.deps.Schedule == nil {
		return http.StatusOK, nil
	}
	err := h.deps.Schedule.Validate(ctx, id)
	switch {
	case err == nil:
		return http.StatusOK, nil
	case errors.Is(err, schedule.ErrNoSession):
		return http.StatusNotFound, err
	case errors.Is(err, schedule.ErrForbidden):
		return http.StatusForbidden, err
	case errors.Is(err, schedule.ErrNotStarted):
		return http.StatusTooEarly, err
	case errors.Is(err, schedule.ErrEnded):
		return http.StatusGone, err
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("validate session")
		return http.StatusInternalServerError, errors.New("internal error")
	}
}

type scheduleRequest struct {
	AttendeeEmail string    `json:"attendeeEmail" binding:"required"`
	SessionDate   time.Time `json:"sessionDate" binding:"required"`
}

func (h *handlers) scheduleSession(c *gin.Context) {
	if h.deps.Schedule == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduling not configured"})
		return
	}
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid attendeeEmail/sessionDate"})
		return
	}
	res, err := h.deps.Schedule.Schedule(c.Request.Context(), schedule.Request{
		AttendeeEmail: req.AttendeeEmail,
		Start:         req.SessionDate,
	})
	switch {
	case errors.Is(err, schedule.ErrInvalidEmail), errors.Is(err, schedule.ErrInvalidStart):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		log.Error().Err(err).Str("module", "adapters.http").Msg("schedule session")
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not schedule session"})
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *handlers) listLaunchers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"launchers": h.deps.Registry.Snapshot()})
}

// launcherID keys a launcher by browser and tab. The page keeps its tab id
// in sessionStorage, so a reload replaces its own launcher and leaves other
// tabs alone. Without a usable tab id every socket gets its own key.
func launcherID(c *gin.Context) app.SessionID {
	tab := c.Query(tabParam)
	if !validTab(tab) {
		tab = uuid.NewString()
	}
	return app.SessionID(c.GetString(clientTokenKey) + "/" + tab)
}

func validTab(tab string) bool {
	if tab == "" || len(tab) > maxTabLen {
		return false
	}
	for _, r := range tab {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// launchWS runs one launcher for the lifetime of the page's websocket.
func (h *handlers) launchWS(ctx context.Context, c *gin.Context) {
	sid := launcherID(c)
	id, err := launch.Decode(c.Request.URL)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("sid", string(sid)).Msg("malformed launch url")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if status, err := h.validate(c.Request.Context(), id); err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	conn := bridge.NewConn(ws, bridge.Options{
		ReadLimit:  h.cfg.ReadLimit,
		PingPeriod: h.cfg.PingPeriod,
		AckTimeout: h.cfg.AckTimeout,
	})

	cc := h.cfg.Credential
	ctrl := lifecycle.New(lifecycle.Config{
		Identity:          id,
		Role:              domain.SessionRole(cc.Role),
		DisplayName:       cc.DisplayName,
		Features:          domain.NewFeatures(cc.Features...),
		Container:         cc.Container,
		CredentialTimeout: cc.Timeout,
	}, h.deps.Credentials, conn, conn, lifecycle.WithObserver(conn.SendState))

	connCtx, cancel := context.WithCancel(ctx)
	h.deps.Registry.Bind(sid, id, ctrl, cancel)
	log.Info().Str("module", "adapters.http").Str("sid", string(sid)).Str("session", string(id.SessionName)).Msg("launcher connected")

	go conn.WritePump(connCtx)
	go func() {
		conn.ReadPump(connCtx, ctrl)
		cancel()
	}()
	go func() {
		_ = ctrl.Run(connCtx)
		h.deps.Registry.Unbind(sid, ctrl)
		conn.Close()
	}()
}
