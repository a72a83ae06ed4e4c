package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/gengenie/internal/common"
)

func (h *Handler) GetBalance(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}

	b, err := h.Tryon.Balance(c.Request.Context(), uid)
	if err != nil {
		h.Logger.Error().Err(err).Str("user_id", uid).Msg("read balance")
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to read balance")
		return
	}
	common.OK(c, gin.H{
		"image_credits": b.ImageCredits,
		"video_credits": b.VideoCredits,
	})
}

type entryView struct {
	Kind      string  `json:"kind"`
	Delta     int     `json:"delta"`
	Reason    string  `json:"reason"`
	JobID     *string `json:"job_id,omitempty"`
	Note      string  `json:"note,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func (h *Handler) ListCreditEntries(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.Tryon.Entries(c.Request.Context(), uid, limit)
	if err != nil {
		h.Logger.Error().Err(err).Str("user_id", uid).Msg("list credit entries")
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to list credit entries")
		return
	}

	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{
			Kind:      string(e.Kind),
			Delta:     e.Delta,
			Reason:    string(e.Reason),
			JobID:     e.JobID,
			Note:      e.Note,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	common.OK(c, gin.H{"entries": out})
}
