package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"despacho/internal/handler"
	"despacho/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	LedgerHandler     *handler.LedgerHandler
	AllocationHandler *handler.AllocationHandler
	DriverHandler     *handler.DriverHandler
	TripHandler       *handler.TripHandler
	DispatchHandler   *handler.DispatchHandler
	RedisClient       *redis.Client
	NewRelicApp       *newrelic.Application
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.Use(middleware.IdempotencyMiddleware(deps.RedisClient))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		// Ledger routes.
		ledgers := v1.Group("/ledgers")
		{
			ledgers.POST("", deps.LedgerHandler.CreateLedger)
			ledgers.GET("", deps.LedgerHandler.GetAll)
			ledgers.GET("/:id", deps.LedgerHandler.GetLedger)
		}

		// Assignment routes: the reconciliation gate for deliveries.
		assignments := v1.Group("/assignments")
		{
			assignments.POST("/:ledgerId/clients/:allocationId", deps.AllocationHandler.UpdateAllocation)
			assignments.POST("/:ledgerId/clients/:allocationId/cancel", deps.AllocationHandler.CancelAllocation)
			assignments.POST("/:ledgerId/clients/:allocationId/evidence", deps.AllocationHandler.AttachEvidence)
			assignments.GET("/:ledgerId/clients/:allocationId/evidence", deps.AllocationHandler.ListEvidence)
		}

		// Driver routes.
		drivers := v1.Group("/drivers")
		{
			drivers.POST("/:id/location", deps.DriverHandler.UpdateLocation)
			drivers.DELETE("/:id/location", deps.DriverHandler.ClearLocation)
			drivers.GET("/:id/trip", deps.DriverHandler.GetActiveTrip)
			drivers.GET("/:id/assignment", deps.DriverHandler.GetActiveAssignment)
		}

		// Fleet routes: the dispatcher's live position view.
		fleet := v1.Group("/fleet")
		{
			fleet.GET("/nearby", deps.DriverHandler.FindNearby)
		}

		// Trip routes.
		trips := v1.Group("/trips")
		{
			trips.POST("", deps.TripHandler.StartTrip)
			trips.GET("/:id", deps.TripHandler.GetTrip)
			trips.POST("/:id/end", deps.TripHandler.EndTrip)
		}

		// Dispatch audit routes.
		dispatch := v1.Group("/despacho")
		{
			dispatch.POST("/:driverId", deps.DispatchHandler.CreateRecord)
			dispatch.GET("/:driverId", deps.DispatchHandler.ListRecords)
		}
	}

	return router
}
