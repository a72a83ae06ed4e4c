package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/gengenie/internal/common"
	"github.com/suPer8Hu/gengenie/internal/config"
	"github.com/suPer8Hu/gengenie/internal/httpapi/middleware"
	"github.com/suPer8Hu/gengenie/internal/store/redisstore"
	"github.com/suPer8Hu/gengenie/internal/tryon"
)

type EventSource interface {
	SubscribeJobEvents(ctx context.Context, userID string) (<-chan redisstore.JobEvent, func(), error)
}

type UploadSigner interface {
	PresignedUpload(ctx context.Context, ownerID, name string) (ref, putURL string, err error)
}

type Handler struct {
	Cfg     config.Config
	Tryon   *tryon.Service
	Events  EventSource  // optional
	Uploads UploadSigner // optional
	Logger  zerolog.Logger
}

func NewHandler(cfg config.Config, svc *tryon.Service, events EventSource, uploads UploadSigner, logger zerolog.Logger) *Handler {
	return &Handler{Cfg: cfg, Tryon: svc, Events: events, Uploads: uploads, Logger: logger}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (string, bool) {
	return middleware.UserID(c)
}

func unauthorized(c *gin.Context) {
	common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
}
