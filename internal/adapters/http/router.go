// Package http exposes the coordinator over REST and hands websocket
// upgrades to the hub.
package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/config"
	"github.com/huddlekit/huddle/internal/coordinator"
	"github.com/huddlekit/huddle/internal/hub"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware pins a long-lived token to each browser so repeat
// visits keep the same device identity.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, coord *coordinator.Coordinator, h *hub.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Msg("router setup")

	ctl := &MeetingController{Coord: coord}

	api := r.Group("/api")

	api.POST("/meetings", ctl.Create)
	api.GET("/meetings/:id", ctl.Get)
	api.POST("/meetings/join", ctl.Join)
	api.POST("/meetings/:id/end", ctl.End)
	api.POST("/meetings/:id/lock", ctl.Lock)
	api.POST("/sessions/:id/leave", ctl.Leave)

	api.GET("/ws", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("ct", c.GetString("client_token")).Msg("ws endpoint hit")
		h.HandleWS(ctx, c)
	})

	return r
}
