package http

import (
	"context"
	"path/filepath"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoLaunch/internal/app"
	"github.com/dkeye/VideoLaunch/internal/app/schedule"
	"github.com/dkeye/VideoLaunch/internal/config"
	"github.com/dkeye/VideoLaunch/internal/core"
	"github.com/dkeye/VideoLaunch/internal/signer"
)

const (
	sessionCookie  = "VideoLaunchSessions"
	clientTokenKey = "client_token"
)

// Deps are the services behind the routes. Signer and Schedule may be nil;
// their routes then answer 503.
type Deps struct {
	Registry    *app.Registry
	Credentials core.CredentialSource
	Signer      *signer.Signer
	Schedule    *schedule.Service
	Limiter     *RateLimiter
}

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every browser a stable id kept in the session cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get("ct").(string)
		if token == "" {
			token = genClientToken()
			session.Set("ct", token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client token")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	secret := cfg.Secret
	if secret == "" {
		secret = uuid.NewString() + uuid.NewString()
		log.Warn().Str("module", "adapters.http").Msg("no cookie secret configured, client tokens will not survive restarts")
	}
	store := cookie.NewStore([]byte(secret))
	r.Use(sessions.Sessions(sessionCookie, store))
	r.Use(ClientTokenMiddleware())

	if deps.Limiter == nil {
		deps.Limiter = NewRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Interval)
	}
	h := &handlers{cfg: cfg, deps: deps}

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(filepath.Join(cfg.StaticPath, "index.html"))
	})
	r.GET("/healthz", h.healthz)

	r.POST("/jwt", deps.Limiter.Middleware(), h.signCredential)
	r.GET("/session", h.sessionPage)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	api.POST("/sessions", deps.Limiter.Middleware(), h.scheduleSession)
	api.GET("/launchers", h.listLaunchers)
	api.GET("/ws/launch", func(c *gin.Context) {
		h.launchWS(ctx, c)
	})
	if cfg.Mode == "debug" {
		api.POST("/credential/verify", h.verifyCredential)
	}

	return r
}
