package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	requestmodels "github.com/sentinelmesh/fedagg/internal/api/models"
	coremodels "github.com/sentinelmesh/fedagg/internal/core/models"
	"github.com/sentinelmesh/fedagg/internal/core/services"
	"github.com/sentinelmesh/fedagg/pkg/gologger"
)

type FederationHandler struct {
	rounds *services.FederatedRoundService
}

func NewFederationHandler(rounds *services.FederatedRoundService) *FederationHandler {
	return &FederationHandler{
		rounds: rounds,
	}
}

// RunRound accepts a batch of client updates and executes one aggregation
// round.
func (h *FederationHandler) RunRound(c *gin.Context) {
	log := gologger.WithComponent("federation_handler")

	var req requestmodels.RunRoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Failed to bind run round request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	updates := make([]*coremodels.ClientUpdate, 0, len(req.Updates))
	for _, updateReq := range req.Updates {
		update, err := updateReq.ToClientUpdate()
		if err != nil {
			log.Error().Err(err).Int("client_id", updateReq.ClientID).Msg("Invalid client update")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		updates = append(updates, update)
	}

	version, err := h.rounds.RunRound(c.Request.Context(), req.Epoch, updates, req.ExpectedClients)
	if err != nil {
		log.Error().Err(err).Int("epoch", req.Epoch).Msg("Round execution failed")
		switch {
		case errors.Is(err, services.ErrPartialParticipation):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, coremodels.ErrShapeMismatch):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Round execution failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, requestmodels.NewVersionResponse(version))
}

// ListRounds returns recent aggregation rounds.
func (h *FederationHandler) ListRounds(c *gin.Context) {
	log := gologger.WithComponent("federation_handler")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	rounds, err := h.rounds.History(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list rounds")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list rounds"})
		return
	}

	responses := make([]requestmodels.RoundResponse, 0, len(rounds))
	for _, round := range rounds {
		responses = append(responses, requestmodels.NewRoundResponse(round))
	}

	c.JSON(http.StatusOK, responses)
}
