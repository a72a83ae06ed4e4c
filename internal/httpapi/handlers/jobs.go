package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/gengenie/internal/common"
	"github.com/suPer8Hu/gengenie/internal/tryon"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type submitJobReq struct {
	Kind         string   `json:"kind"`
	Inputs       []string `json:"inputs"`
	Prompt       string   `json:"prompt"`
	AspectRatio  string   `json:"aspect_ratio"`
	ProductLabel string   `json:"product_label"`
}

// SubmitJob admits a try-on job and answers 202 with the generating job, or
// 200 with the earlier job when the Idempotency-Key was seen before.
func (h *Handler) SubmitJob(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}

	var req submitJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ctx := c.Request.Context()
	job, created, err := h.Tryon.Submit(ctx, tryon.SubmitInput{
		OwnerID:        uid,
		Kind:           req.Kind,
		Inputs:         req.Inputs,
		Prompt:         req.Prompt,
		AspectRatio:    req.AspectRatio,
		ProductLabel:   req.ProductLabel,
		IdempotencyKey: c.GetHeader(IdempotencyKeyHeader),
	})
	if err != nil {
		h.jobError(c, err)
		return
	}

	view := h.Tryon.View(ctx, job)
	if !created {
		common.OK(c, view)
		return
	}
	common.Created(c, view)
}

func (h *Handler) GetJob(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}

	job, err := h.Tryon.GetJob(c.Request.Context(), c.Param("job_id"), uid)
	if err != nil {
		h.jobError(c, err)
		return
	}
	common.OK(c, h.Tryon.View(c.Request.Context(), job))
}

func (h *Handler) ListJobs(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}

	kind := tryon.KindFilter(strings.ToLower(c.DefaultQuery("kind", "all")))
	switch kind {
	case tryon.KindAll, tryon.KindOnlyImage, tryon.KindOnlyVideo:
	default:
		common.FailWith(c, http.StatusBadRequest, 10002, "kind must be all, image or video", gin.H{"field": "kind"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	jobs, err := h.Tryon.ListJobs(c.Request.Context(), uid, tryon.ListFilter{
		Kind:   kind,
		Limit:  limit,
		Before: c.Query("before"),
	})
	if err != nil {
		h.jobError(c, err)
		return
	}

	var nextBefore string
	if len(jobs) > 0 {
		nextBefore = jobs[len(jobs)-1].ID
	}
	common.OK(c, gin.H{
		"jobs":        h.Tryon.Views(c.Request.Context(), jobs),
		"next_before": nextBefore,
	})
}

func (h *Handler) DeleteJob(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}

	jobID := c.Param("job_id")
	if err := h.Tryon.DeleteJob(c.Request.Context(), jobID, uid); err != nil {
		h.jobError(c, err)
		return
	}
	common.OK(c, gin.H{"job_id": jobID, "deleted": true})
}

func (h *Handler) jobError(c *gin.Context, err error) {
	var verr *tryon.ValidationError
	switch {
	case errors.As(err, &verr):
		common.FailWith(c, http.StatusBadRequest, 10002, verr.Error(), gin.H{"field": verr.Field})
	case errors.Is(err, tryon.ErrInsufficientCredits):
		common.Fail(c, http.StatusPaymentRequired, 40201, "insufficient_credits")
	case errors.Is(err, tryon.ErrForbidden):
		common.Fail(c, http.StatusForbidden, 40301, "forbidden")
	case errors.Is(err, tryon.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "job not found")
	default:
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg("job request failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
