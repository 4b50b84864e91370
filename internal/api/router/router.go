package router

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"

	"resume-intake/internal/api/handler"
)

// APIKeyHeader carries the API key when keys are configured.
const APIKeyHeader = "X-API-Key"

var errInvalidAPIKey = errors.New("invalid api key")

// RegisterRoutes mounts every route under /api/v1. /health stays open; the
// rest require an API key when apiKeys is non-empty.
func RegisterRoutes(h *server.Hertz, resumes *handler.ResumeHandler, bin *handler.BinHandler, apiKeys []string) {
	api := h.Group("/api/v1")

	api.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	secured := api.Group("")
	if len(apiKeys) > 0 {
		secured.Use(APIKeyAuth(apiKeys))
	}

	secured.POST("/resumes/upload", resumes.HandleUpload)
	secured.GET("/resumes", resumes.HandleList)
	secured.GET("/resumes/:id", resumes.HandleGet)

	secured.GET("/bin", bin.HandleList)
	secured.POST("/bin/delete/:id", bin.HandleSoftDelete)
	secured.POST("/bin/restore/:id", bin.HandleRestore)
	secured.DELETE("/bin/permanent/:id", bin.HandlePermanentDelete)
}

// APIKeyAuth checks the X-API-Key header against keys.
func APIKeyAuth(keys []string) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:"+APIKeyHeader, ""),
		keyauth.WithValidator(func(_ context.Context, _ *app.RequestContext, key string) (bool, error) {
			for _, k := range keys {
				if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
					return true, nil
				}
			}
			return false, errInvalidAPIKey
		}),
		keyauth.WithErrorHandler(func(_ context.Context, ctx *app.RequestContext, err error) {
			ctx.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "unauthorized"})
		}),
	)
}
