package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/logging"
	"go.uber.org/zap"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindBusy:
		return http.StatusServiceUnavailable
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {code, message}. Internal causes are logged and
// replaced by a generic message.
func writeError(c *gin.Context, err error) {
	pub := apperr.Public(err)
	if pub.Kind == apperr.KindInternal {
		logging.L().Error("api: internal error",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("path", c.FullPath()),
			zap.Uint("caller", caller(c)),
			zap.Error(err))
	}
	if pub.Kind == apperr.KindBusy {
		c.Header("Retry-After", "1")
	}
	c.AbortWithStatusJSON(statusFor(pub.Kind), errorBody{Code: pub.Code, Message: pub.Message})
}
