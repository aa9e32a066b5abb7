package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pjsph/slam/internal/models"
	"github.com/pjsph/slam/internal/service"
)

// CreatePlayerRequest registers a player. A missing rating uses the
// configured default.
type CreatePlayerRequest struct {
	ID     *uint64 `json:"id" binding:"required"`
	Rating *uint64 `json:"rating"`
}

type PlayerHandler struct {
	matchmaking *service.MatchmakingService
}

func NewPlayerHandler(matchmaking *service.MatchmakingService) *PlayerHandler {
	return &PlayerHandler{
		matchmaking: matchmaking,
	}
}

// CreatePlayer adds or overwrites a registry entry.
func (h *PlayerHandler) CreatePlayer(c *gin.Context) {
	var req CreatePlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	id := models.PlayerID(*req.ID)
	var (
		rec models.PlayerRecord
		err error
	)
	if req.Rating == nil {
		rec, err = h.matchmaking.CreatePlayer(c.Request.Context(), id)
	} else {
		rec, err = h.matchmaking.InsertPlayer(c.Request.Context(), id, models.Rating(*req.Rating))
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"player": rec,
	})
}

// GetPlayer returns one registry entry.
func (h *PlayerHandler) GetPlayer(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid player id",
		})
		return
	}

	rec, err := h.matchmaking.Player(c.Request.Context(), models.PlayerID(id))
	if err != nil {
		if errors.Is(err, service.ErrUnknownPlayer) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Player not found",
			})
			return
		}
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"player": rec,
	})
}

func respondServiceError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrServiceStopped) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Matchmaking service stopped",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": err.Error(),
	})
}
