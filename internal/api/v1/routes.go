package v1

import (
	"github.com/gin-gonic/gin"

	"github.com/sentinelmesh/fedagg/internal/api/handlers"
)

func registerFederationRoutes(router *gin.RouterGroup, federationHandler *handlers.FederationHandler) {
	rounds := router.Group("/rounds")
	{
		rounds.POST("", federationHandler.RunRound)
		rounds.GET("", federationHandler.ListRounds)
	}
}

func registerVersionRoutes(router *gin.RouterGroup, versionHandler *handlers.VersionHandler) {
	versions := router.Group("/versions")
	{
		versions.GET("", versionHandler.ListVersions)
		versions.GET("/latest", versionHandler.GetLatestVersion)
		versions.GET("/best", versionHandler.GetBestVersion)
		versions.GET("/compare", versionHandler.CompareVersions)
		versions.GET("/:id", versionHandler.GetVersion)
		versions.POST("/rollback", versionHandler.RollbackVersion)
		versions.POST("/cleanup", versionHandler.CleanupVersions)
	}
}

func RegisterRoutes(api *gin.RouterGroup, federationHandler *handlers.FederationHandler, versionHandler *handlers.VersionHandler) {
	registerFederationRoutes(api, federationHandler)
	registerVersionRoutes(api, versionHandler)
}
