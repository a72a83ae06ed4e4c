package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/gengenie/internal/auth"
	"github.com/suPer8Hu/gengenie/internal/common"
	"github.com/suPer8Hu/gengenie/internal/tryon"
)

const (
	maxCallbackBody = 64 * 1024
	callbackSkew    = 5 * time.Minute
)

type completeJobReq struct {
	Status    string `json:"status"`
	ResultRef string `json:"result_ref"`
	Error     string `json:"error"`
}

// CompleteJobCallback lets an external worker report an outcome over HTTP.
// Duplicate deliveries are answered 200 with applied=false.
func (h *Handler) CompleteJobCallback(c *gin.Context) {
	if h.Cfg.CallbackSecret == "" {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
		return
	}

	jobID := c.Param("job_id")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody+1))
	if err != nil || len(body) > maxCallbackBody {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid body")
		return
	}
	if err := auth.VerifyCallback(
		h.Cfg.CallbackSecret,
		c.GetHeader(auth.TimestampHeader),
		jobID,
		c.GetHeader(auth.SignatureHeader),
		body, time.Now(), callbackSkew,
	); err != nil {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid signature")
		return
	}

	var req completeJobReq
	if err := json.Unmarshal(body, &req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	var outcome tryon.Outcome
	switch tryon.Status(req.Status) {
	case tryon.StatusSucceeded:
		outcome = tryon.Succeeded{ResultRef: req.ResultRef}
	case tryon.StatusFailed:
		outcome = tryon.Failed{Reason: req.Error}
	default:
		common.FailWith(c, http.StatusBadRequest, 10002, "status must be succeeded or failed", gin.H{"field": "status"})
		return
	}

	res, err := h.Tryon.Complete(c.Request.Context(), jobID, outcome)
	if err != nil {
		if errors.Is(err, tryon.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "job not found")
			return
		}
		h.Logger.Error().Err(err).Str("job_id", jobID).Msg("complete job callback")
		common.Fail(c, http.StatusInternalServerError, 50007, "failed to complete job")
		return
	}
	common.OK(c, gin.H{
		"job_id":   jobID,
		"status":   res.Job.Status,
		"applied":  res.Applied,
		"refunded": res.Refunded,
	})
}
