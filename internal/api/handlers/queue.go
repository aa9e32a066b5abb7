package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pjsph/slam/internal/models"
	"github.com/pjsph/slam/internal/service"
)

type EnqueueRequest struct {
	ID *uint64 `json:"id" binding:"required"`
}

type QueueHandler struct {
	matchmaking *service.MatchmakingService
}

func NewQueueHandler(matchmaking *service.MatchmakingService) *QueueHandler {
	return &QueueHandler{
		matchmaking: matchmaking,
	}
}

// Enqueue appends a player to the queue. Players missing from the registry
// are accepted here and dropped at the next poll.
func (h *QueueHandler) Enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if err := h.matchmaking.Enqueue(c.Request.Context(), models.PlayerID(*req.ID)); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"queued": *req.ID,
	})
}

// GetStats returns queue and store counters.
func (h *QueueHandler) GetStats(c *gin.Context) {
	stats, err := h.matchmaking.Stats(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats": stats,
	})
}
