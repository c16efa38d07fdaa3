package router

import (
	"github.com/cuongbtq/inference-queue/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(deps.CORSOrigins))

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Live)
	r.GET("/health/ready", healthHandler.Ready)

	inferenceHandler := handler.NewInferenceHandler(deps)

	api := r.Group(deps.APIPrefix)
	{
		inference := api.Group("/inference")
		{
			// POST /inference/requests - Queue an image for classification
			inference.POST("/requests", inferenceHandler.SubmitRequest)

			// GET /inference/requests/:request_id/result - Poll a request
			inference.GET("/requests/:request_id/result", inferenceHandler.GetResult)

			// GET /inference/failures - Jobs whose retries were exhausted
			inference.GET("/failures", inferenceHandler.ListFailures)
		}
	}

	return r
}
