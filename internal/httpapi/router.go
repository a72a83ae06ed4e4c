package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/gengenie/internal/common"
	"github.com/suPer8Hu/gengenie/internal/config"
	"github.com/suPer8Hu/gengenie/internal/httpapi/handlers"
	"github.com/suPer8Hu/gengenie/internal/httpapi/middleware"
	"github.com/suPer8Hu/gengenie/internal/metrics"
	"github.com/suPer8Hu/gengenie/internal/tryon"
)

type Deps struct {
	Cfg     config.Config
	Tryon   *tryon.Service
	Events  handlers.EventSource  // nil disables /tryon/events
	Uploads handlers.UploadSigner // nil disables /tryon/uploads
	Limiter middleware.Limiter    // nil disables submit rate limiting
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.Recovery(d.Logger))
	r.Use(d.Metrics.GinMiddleware())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(d.Cfg, d.Tryon, d.Events, d.Uploads, d.Logger)

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	// worker callbacks (HMAC signed)
	r.POST("/internal/jobs/:job_id/complete", h.CompleteJobCallback)

	// JWT required
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(d.Cfg.JWTSecret))

	submit := []gin.HandlerFunc{h.SubmitJob}
	if d.Limiter != nil {
		submit = append([]gin.HandlerFunc{middleware.RateLimit(d.Limiter, d.Metrics, d.Logger)}, submit...)
	}
	authGroup.POST("/tryon/jobs", submit...)
	authGroup.GET("/tryon/jobs", h.ListJobs)
	authGroup.GET("/tryon/jobs/:job_id", h.GetJob)
	authGroup.DELETE("/tryon/jobs/:job_id", h.DeleteJob)
	authGroup.POST("/tryon/uploads", h.CreateUpload)
	authGroup.GET("/tryon/events", h.StreamEvents)

	authGroup.GET("/credits", h.GetBalance)
	authGroup.GET("/credits/entries", h.ListCreditEntries)
	return r
}
