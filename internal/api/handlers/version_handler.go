package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	requestmodels "github.com/sentinelmesh/fedagg/internal/api/models"
	"github.com/sentinelmesh/fedagg/internal/core/ports"
	"github.com/sentinelmesh/fedagg/internal/core/services"
	"github.com/sentinelmesh/fedagg/pkg/gologger"
)

type VersionHandler struct {
	versions ports.VersionStore
}

func NewVersionHandler(versions ports.VersionStore) *VersionHandler {
	return &VersionHandler{
		versions: versions,
	}
}

func (h *VersionHandler) ListVersions(c *gin.Context) {
	versions := h.versions.ListVersions()

	responses := make([]requestmodels.VersionResponse, 0, len(versions))
	for _, version := range versions {
		responses = append(responses, requestmodels.NewVersionResponse(version))
	}

	c.JSON(http.StatusOK, responses)
}

func (h *VersionHandler) GetVersion(c *gin.Context) {
	log := gologger.WithComponent("version_handler")

	versionID := c.Param("id")
	version, err := h.versions.GetVersionInfo(versionID)
	if err != nil {
		log.Error().Err(err).Str("version_id", versionID).Msg("Failed to get version")
		c.JSON(http.StatusNotFound, gin.H{"error": "Version not found"})
		return
	}

	c.JSON(http.StatusOK, requestmodels.NewVersionResponse(version))
}

func (h *VersionHandler) GetLatestVersion(c *gin.Context) {
	version := h.versions.GetLatestVersion()
	if version == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No versions saved yet"})
		return
	}

	c.JSON(http.StatusOK, requestmodels.NewVersionResponse(version))
}

// GetBestVersion selects the best version by a metric. Loss is minimized,
// everything else maximized.
func (h *VersionHandler) GetBestVersion(c *gin.Context) {
	metric := c.DefaultQuery("metric", "accuracy")

	version := h.versions.GetBestVersion(metric)
	if version == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No version carries metric " + metric})
		return
	}

	c.JSON(http.StatusOK, requestmodels.NewVersionResponse(version))
}

func (h *VersionHandler) CompareVersions(c *gin.Context) {
	log := gologger.WithComponent("version_handler")

	version1 := c.Query("v1")
	version2 := c.Query("v2")
	if version1 == "" || version2 == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Both v1 and v2 query parameters are required"})
		return
	}

	comparison, err := h.versions.CompareVersions(version1, version2)
	if err != nil {
		log.Error().Err(err).Str("v1", version1).Str("v2", version2).Msg("Failed to compare versions")
		if errors.Is(err, services.ErrVersionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compare versions"})
		return
	}

	c.JSON(http.StatusOK, comparison)
}

func (h *VersionHandler) RollbackVersion(c *gin.Context) {
	log := gologger.WithComponent("version_handler")

	var req requestmodels.RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Failed to bind rollback request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	version, err := h.versions.RollbackToVersion(c.Request.Context(), req.VersionID)
	if err != nil {
		log.Error().Err(err).Str("version_id", req.VersionID).Msg("Rollback failed")
		if errors.Is(err, services.ErrVersionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Rollback failed"})
		return
	}

	c.JSON(http.StatusCreated, requestmodels.NewVersionResponse(version))
}

func (h *VersionHandler) CleanupVersions(c *gin.Context) {
	log := gologger.WithComponent("version_handler")

	var req requestmodels.CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Failed to bind cleanup request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.KeepLastN < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "keep_last_n must be non-negative"})
		return
	}

	if err := h.versions.CleanupOldVersions(c.Request.Context(), req.KeepLastN); err != nil {
		log.Error().Err(err).Int("keep_last_n", req.KeepLastN).Msg("Cleanup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cleanup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"kept": len(h.versions.ListVersions())})
}
