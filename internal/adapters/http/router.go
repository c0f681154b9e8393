package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/CallBridge/internal/adapters/signal"
	"github.com/dkeye/CallBridge/internal/app/callsystem"
	"github.com/dkeye/CallBridge/internal/config"
	transport "github.com/dkeye/CallBridge/internal/transport/http"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const sessionTokenKey = "client_token"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware gives every client a stable token kept in its
// session cookie. The host keys application links by it.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(sessionTokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(sessionTokenKey, token)
			if err := session.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(sessionTokenKey, token)
		c.Next()
	}
}

func setupEngine(cfg *config.Config) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	return r
}

// SetupRouter builds the host call system server: the application link
// endpoint, the demo room service and a view of the current call.
func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.SignalWSController, calls *callsystem.System) *gin.Engine {
	r := setupEngine(cfg)

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("CallBridgeSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Msg("host router setup")

	api := r.Group("/api")

	api.GET("/ws/callsystem", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString(sessionTokenKey)).Msg("ws callsystem endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	transport.NewRoomsHandler(cfg.Rooms.BaseURL).Register(api)

	api.GET("/links", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"links": ctl.Registry.Links()})
	})

	api.GET("/calls/current", func(c *gin.Context) {
		view, ok := calls.Current()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no current call"})
			return
		}
		c.JSON(http.StatusOK, view)
	})

	api.POST("/calls/current/disconnect", func(c *gin.Context) {
		err := calls.Disconnect()
		switch {
		case errors.Is(err, callsystem.ErrNoCall):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusAccepted, gin.H{"status": "disconnecting"})
		}
	})

	return r
}
