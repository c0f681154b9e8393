package http

import (
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/dkeye/CallBridge/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var roomNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type CreateRoomResponse struct {
	URL  domain.RoomURL  `json:"url"`
	Name domain.RoomName `json:"name"`
}

// RoomsHandler is a demo room service: it hands out room URLs under BaseURL
// without tracking them.
type RoomsHandler struct {
	BaseURL string
}

func NewRoomsHandler(baseURL string) *RoomsHandler {
	return &RoomsHandler{BaseURL: baseURL}
}

func (h *RoomsHandler) Register(r gin.IRoutes) {
	r.POST("/rooms", h.handlerCreateRoom)
}

func (h *RoomsHandler) handlerCreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	name := domain.RoomName(strings.TrimSpace(req.Name))
	if name == "" {
		name = domain.GenerateRoomName()
	}
	if !roomNamePattern.MatchString(string(name)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room name"})
		return
	}

	room := domain.NewRoom(domain.RoomID(uuid.NewString()), name, h.BaseURL)
	log.Info().Str("module", "transport.http").Str("room", room.URL.String()).Msg("room provisioned")

	c.JSON(http.StatusOK, CreateRoomResponse{
		URL:  room.URL,
		Name: room.Name,
	})
}
