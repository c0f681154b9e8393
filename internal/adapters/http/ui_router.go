package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/dkeye/CallBridge/internal/app/lifecycle"
	"github.com/dkeye/CallBridge/internal/config"
	"github.com/dkeye/CallBridge/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// CallControl is the application call surface driven by the UI.
type CallControl interface {
	Snapshot() lifecycle.Snapshot
	StartCall() error
	StartCallIn(room domain.RoomURL) error
	EndCall() error
}

type startCallRequest struct {
	RoomURL domain.RoomURL `json:"roomUrl"`
}

// SetupUIRouter exposes the local start/end intents and the call snapshot.
func SetupUIRouter(cfg *config.Config, calls CallControl) *gin.Engine {
	r := setupEngine(cfg)

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("ui router setup")

	api := r.Group("/api")

	api.GET("/call", func(c *gin.Context) {
		c.JSON(http.StatusOK, calls.Snapshot())
	})

	api.POST("/call/start", func(c *gin.Context) {
		var req startCallRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		room := req.RoomURL
		if room.IsZero() {
			room = domain.RoomURL(cfg.Bridge.RoomURL)
		}

		var err error
		if room.IsZero() {
			err = calls.StartCall()
		} else {
			err = calls.StartCallIn(room)
		}
		respond(c, calls, err)
	})

	api.POST("/call/end", func(c *gin.Context) {
		respond(c, calls, calls.EndCall())
	})

	return r
}

func respond(c *gin.Context, calls CallControl, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, calls.Snapshot())
	case errors.Is(err, lifecycle.ErrStartQueued):
		c.JSON(http.StatusAccepted, gin.H{"queued": true, "error": err.Error()})
	case errors.Is(err, lifecycle.ErrCallInProgress),
		errors.Is(err, lifecycle.ErrInvalidState),
		errors.Is(err, lifecycle.ErrTeardownInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
