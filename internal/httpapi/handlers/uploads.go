package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/gengenie/internal/common"
)

type createUploadReq struct {
	Filename string `json:"filename"`
}

// CreateUpload hands out a presigned PUT URL for an input photo. The returned
// ref is what the client puts in a job's inputs.
func (h *Handler) CreateUpload(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	if h.Uploads == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "uploads are not configured")
		return
	}

	var req createUploadReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	ref, url, err := h.Uploads.PresignedUpload(c.Request.Context(), uid, req.Filename)
	if err != nil {
		h.Logger.Error().Err(err).Str("user_id", uid).Msg("presign upload")
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to create upload")
		return
	}
	common.OK(c, gin.H{"ref": ref, "upload_url": url})
}
