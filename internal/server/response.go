package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"order-fulfillment/internal/logger"
	"order-fulfillment/internal/service"
)

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	CanRetry  bool   `json:"can_retry"`
	RequestID string `json:"request_id,omitempty"`
}

func statusFor(e *service.Error) int {
	switch e.Kind {
	case service.KindValidation:
		if e.Code == service.CodeIncompleteShippingInfo {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	case service.KindUnauthorized:
		return http.StatusUnauthorized
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError renders err as the JSON error envelope. Unclassified errors are logged and reported as 500.
func writeError(c *gin.Context, err error) {
	se, ok := service.AsError(err)
	if !ok {
		if err != nil {
			logger.FromContext(c.Request.Context(), nil).Error("request failed", zap.Error(err))
		}
		abortJSON(c, http.StatusInternalServerError, errorBody{
			Error:   "internal_error",
			Message: "internal server error",
		})
		return
	}
	abortJSON(c, statusFor(se), errorBody{
		Error:    se.Code,
		Message:  se.Message,
		CanRetry: se.Retryable,
	})
}

func abortJSON(c *gin.Context, status int, body errorBody) {
	body.Status = status
	body.RequestID = c.GetString(requestIDKey)
	c.AbortWithStatusJSON(status, body)
}
