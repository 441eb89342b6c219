package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-fulfillment/internal/logger"
	"order-fulfillment/internal/metrics"
	"order-fulfillment/internal/service"
)

const (
	requestIDHeader = "X-Request-ID"
	signatureHeader = "X-Signature"
	requestIDKey    = "request_id"
	maxWebhookBody  = 1 << 20
)

// RequestContext assigns a request id and stores a request-scoped logger on the request context.
func RequestContext(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)

		reqLog := log.With(zap.String("request_id", id))
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), reqLog))
		c.Next()
	}
}

// AccessLog logs every request once it completes and records its latency.
func AccessLog(log *zap.Logger, recorder *metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		recorder.Request(route, strconv.Itoa(status), elapsed)

		fields := []zap.Field{
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// Recovery turns panics into the JSON error envelope.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error("panic recovered", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
		writeError(c, nil)
	})
}

// VerifySignature rejects requests whose body does not carry a valid HMAC-SHA256 signature.
// The signature is the hex digest in X-Signature, optionally prefixed with "sha256=".
func VerifySignature(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
		if err != nil {
			writeError(c, service.NewValidation(service.CodeMalformedNotification, "unable to read request body"))
			return
		}
		if len(body) > maxWebhookBody {
			abortJSON(c, http.StatusRequestEntityTooLarge, errorBody{
				Error:   service.CodeMalformedNotification,
				Message: "request body too large",
			})
			return
		}

		if !validSignature(key, body, c.GetHeader(signatureHeader)) {
			writeError(c, service.NewUnauthorized(service.CodeInvalidSignature, "missing or invalid webhook signature"))
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

func validSignature(key, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "sha256=")
	if header == "" || len(key) == 0 {
		return false
	}
	provided, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	return hmac.Equal(provided, Sign(key, body))
}

// Sign computes the HMAC-SHA256 digest of body.
func Sign(key, body []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return mac.Sum(nil)
}
