package handler_test

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/route/param"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-intake/internal/api/handler"
	"resume-intake/internal/lifecycle"
)

type fakeBin struct {
	active  map[string]bool
	deleted map[string]bool
	months  int
}

func newFakeBin() *fakeBin {
	return &fakeBin{
		active:  map[string]bool{"active-1": true},
		deleted: map[string]bool{"binned-1": true},
	}
}

func (b *fakeBin) SoftDelete(_ context.Context, id string, months int) bool {
	if !b.active[id] && !b.deleted[id] {
		return false
	}
	b.months = months
	delete(b.active, id)
	b.deleted[id] = true
	return true
}

func (b *fakeBin) Restore(_ context.Context, id string) bool {
	if !b.deleted[id] {
		return false
	}
	delete(b.deleted, id)
	b.active[id] = true
	return true
}

func (b *fakeBin) PermanentlyDelete(_ context.Context, id string) bool {
	if !b.active[id] && !b.deleted[id] {
		return false
	}
	delete(b.active, id)
	delete(b.deleted, id)
	return true
}

func (b *fakeBin) ListDeleted(context.Context) []lifecycle.DeletedRecord {
	out := []lifecycle.DeletedRecord{}
	for id := range b.deleted {
		now := time.Now()
		out = append(out, lifecycle.DeletedRecord{ID: id, DeletedAt: &now, DaysUntilPermanentDelete: 60})
	}
	return out
}

func newBinContext(id string) *app.RequestContext {
	c := app.NewContext(16)
	if id != "" {
		c.Params = append(c.Params, param.Param{Key: "id", Value: id})
	}
	return c
}

func TestBinSoftDeleteDefaultRetention(t *testing.T) {
	bin := newFakeBin()
	h := handler.NewBinHandler(bin, 0, zerolog.Nop())

	c := newBinContext("active-1")
	h.HandleSoftDelete(context.Background(), c)

	assert.Equal(t, consts.StatusOK, c.Response.StatusCode())
	assert.Equal(t, lifecycle.DefaultRetentionMonths, bin.months)
	assert.Contains(t, string(c.Response.Body()), "moved to Bin")
}

func TestBinSoftDeleteMonthsQuery(t *testing.T) {
	bin := newFakeBin()
	h := handler.NewBinHandler(bin, 2, zerolog.Nop())

	c := newBinContext("active-1")
	c.QueryArgs().Add("months", "6")
	h.HandleSoftDelete(context.Background(), c)
	assert.Equal(t, consts.StatusOK, c.Response.StatusCode())
	assert.Equal(t, 6, bin.months)

	c = newBinContext("active-1")
	c.QueryArgs().Add("months", "-1")
	h.HandleSoftDelete(context.Background(), c)
	assert.Equal(t, consts.StatusBadRequest, c.Response.StatusCode())
}

func TestBinSoftDeleteRejectsHugeMonths(t *testing.T) {
	bin := newFakeBin()
	h := handler.NewBinHandler(bin, 2, zerolog.Nop())

	c := newBinContext("active-1")
	c.QueryArgs().Add("months", "4000")
	h.HandleSoftDelete(context.Background(), c)
	assert.Equal(t, consts.StatusBadRequest, c.Response.StatusCode())
	assert.Zero(t, bin.months)
	assert.True(t, bin.active["active-1"])

	c = newBinContext("active-1")
	c.QueryArgs().Add("months", strconv.Itoa(lifecycle.MaxRetentionMonths))
	h.HandleSoftDelete(context.Background(), c)
	assert.Equal(t, consts.StatusOK, c.Response.StatusCode())
	assert.Equal(t, lifecycle.MaxRetentionMonths, bin.months)
}

func TestBinFalseMapsToNotFound(t *testing.T) {
	h := handler.NewBinHandler(newFakeBin(), 2, zerolog.Nop())
	ctx := context.Background()

	c := newBinContext("missing")
	h.HandleSoftDelete(ctx, c)
	assert.Equal(t, consts.StatusNotFound, c.Response.StatusCode())

	c = newBinContext("active-1")
	h.HandleRestore(ctx, c)
	assert.Equal(t, consts.StatusNotFound, c.Response.StatusCode())

	c = newBinContext("missing")
	h.HandlePermanentDelete(ctx, c)
	assert.Equal(t, consts.StatusNotFound, c.Response.StatusCode())
}

func TestBinRestoreAndPermanentDelete(t *testing.T) {
	bin := newFakeBin()
	h := handler.NewBinHandler(bin, 2, zerolog.Nop())
	ctx := context.Background()

	c := newBinContext("binned-1")
	h.HandleRestore(ctx, c)
	assert.Equal(t, consts.StatusOK, c.Response.StatusCode())
	assert.True(t, bin.active["binned-1"])

	c = newBinContext("binned-1")
	h.HandlePermanentDelete(ctx, c)
	assert.Equal(t, consts.StatusOK, c.Response.StatusCode())
	assert.False(t, bin.active["binned-1"])
}

func TestBinList(t *testing.T) {
	h := handler.NewBinHandler(newFakeBin(), 2, zerolog.Nop())
	c := newBinContext("")
	h.HandleList(context.Background(), c)

	require.Equal(t, consts.StatusOK, c.Response.StatusCode())
	var got []map[string]any
	require.NoError(t, json.Unmarshal(c.Response.Body(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "binned-1", got[0]["id"])
	assert.EqualValues(t, 60, got[0]["days_until_permanent_delete"])
}
