package server

import (
	"github.com/OFFIS-RIT/ontograph/internal/server/middleware"
	"github.com/OFFIS-RIT/ontograph/internal/server/routes"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Ontology routes
	apiRoutes.GET("/ontologies", routes.ListOntologiesHandler)
	apiRoutes.GET("/ontologies/:name", routes.GetOntologyHandler)
	apiRoutes.GET("/ontologies/:name/nodes/:id", routes.GetNodeHandler)
	apiRoutes.GET("/ontologies/:name/nodes/:id/ancestors", routes.NodeRelativesHandler((*graph.Closure).Ancestors))
	apiRoutes.GET("/ontologies/:name/nodes/:id/descendants", routes.NodeRelativesHandler((*graph.Closure).Descendants))
	apiRoutes.GET("/ontologies/:name/nodes/:id/roots", routes.NodeRelativesHandler((*graph.Closure).Roots))

	// Build routes
	apiRoutes.POST("/builds", routes.CreateBuildHandler, middleware.RequirePermission(middleware.PermissionBuild))
	apiRoutes.GET("/builds/:id", routes.GetBuildHandler, middleware.RequireAnyPermission(middleware.PermissionBuild, middleware.PermissionView))
}
