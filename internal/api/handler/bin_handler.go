package handler

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"

	"resume-intake/internal/lifecycle"
)

// Bin is the lifecycle surface used by the recycle bin routes.
type Bin interface {
	SoftDelete(ctx context.Context, id string, retentionMonths int) bool
	Restore(ctx context.Context, id string) bool
	PermanentlyDelete(ctx context.Context, id string) bool
	ListDeleted(ctx context.Context) []lifecycle.DeletedRecord
}

// BinHandler serves the recycle bin. Every false from the lifecycle manager
// maps to 404.
type BinHandler struct {
	bin             Bin
	retentionMonths int
	log             zerolog.Logger
}

func NewBinHandler(bin Bin, retentionMonths int, log zerolog.Logger) *BinHandler {
	if retentionMonths <= 0 {
		retentionMonths = lifecycle.DefaultRetentionMonths
	}
	return &BinHandler{bin: bin, retentionMonths: retentionMonths, log: log}
}

// HandleList GET /bin
func (h *BinHandler) HandleList(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, h.bin.ListDeleted(ctx))
}

// HandleSoftDelete POST /bin/delete/:id?months=N
func (h *BinHandler) HandleSoftDelete(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	months := h.retentionMonths
	if raw := c.Query("months"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > lifecycle.MaxRetentionMonths {
			c.JSON(consts.StatusBadRequest, utils.H{"error": fmt.Sprintf("months must be an integer between 1 and %d", lifecycle.MaxRetentionMonths)})
			return
		}
		months = v
	}

	if !h.bin.SoftDelete(ctx, id, months) {
		c.JSON(consts.StatusNotFound, utils.H{"error": "Resume not found or soft-delete failed."})
		return
	}
	h.log.Info().Str("id", id).Int("months", months).Msg("resume moved to bin")
	c.JSON(consts.StatusOK, utils.H{"message": "Resume successfully moved to Bin."})
}

// HandleRestore POST /bin/restore/:id
func (h *BinHandler) HandleRestore(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if !h.bin.Restore(ctx, id) {
		c.JSON(consts.StatusNotFound, utils.H{"error": "Resume not found or restore failed."})
		return
	}
	h.log.Info().Str("id", id).Msg("resume restored")
	c.JSON(consts.StatusOK, utils.H{"message": "Resume successfully restored."})
}

// HandlePermanentDelete DELETE /bin/permanent/:id
func (h *BinHandler) HandlePermanentDelete(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if !h.bin.PermanentlyDelete(ctx, id) {
		c.JSON(consts.StatusNotFound, utils.H{"error": "Resume not found or delete failed."})
		return
	}
	h.log.Info().Str("id", id).Msg("resume permanently deleted")
	c.JSON(consts.StatusOK, utils.H{"message": "Resume permanently deleted."})
}
