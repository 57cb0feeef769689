package api

import (
	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, handler *Handler) {
	api := router.Group("/api")
	{
		api.GET("/ledgers/:entity_id", handler.GetLedger)
		api.GET("/regions", handler.ListRegions)
		api.GET("/regions/:region_id", handler.GetRegion)
		api.POST("/regions/:region_id/refresh", handler.RefreshRegion)
		api.POST("/observations", handler.IngestObservations)
		api.POST("/archive-events", handler.HandleArchiveEvents)
		api.POST("/sweep", handler.RunSweep)
		api.GET("/runs/latest", handler.GetLatestRun)
	}
}
