package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sentinelmesh/fedagg/internal/api/handlers"
	"github.com/sentinelmesh/fedagg/internal/api/middleware"
	v1 "github.com/sentinelmesh/fedagg/internal/api/v1"
)

func init() {
	// Set Gin to release mode to disable debug logging
	gin.SetMode(gin.ReleaseMode)
}

type Router struct {
	engine   *gin.Engine
	endpoint string
}

func NewRouter(federationHandler *handlers.FederationHandler, versionHandler *handlers.VersionHandler, endpoint string) *Router {
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.Logging())

	r := &Router{
		engine:   engine,
		endpoint: endpoint,
	}

	r.registerRoutes(federationHandler, versionHandler)
	return r
}

func (r *Router) registerRoutes(federationHandler *handlers.FederationHandler, versionHandler *handlers.VersionHandler) {
	api := r.engine.Group(r.endpoint)
	v1.RegisterRoutes(api, federationHandler, versionHandler)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) AddMiddleware(middleware gin.HandlerFunc) {
	r.engine.Use(middleware)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}
