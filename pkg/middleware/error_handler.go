package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sitestock/stock-ledger/pkg/errors"
)

// APIErrorResponse is the body of every non-2xx answer
type APIErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
	Timestamp string            `json:"timestamp"`
	Path      string            `json:"path"`
}

// render writes appErr. Retryable 503s (a busy stock key, an unreachable
// workflow engine) carry Retry-After.
func render(c *gin.Context, appErr *errors.AppError, abort bool) {
	if appErr.Retryable && appErr.HTTPStatus == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	body := APIErrorResponse{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Details:   appErr.Details,
		Retryable: appErr.Retryable,
		RequestID: GetRequestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      c.Request.URL.Path,
	}
	if abort {
		c.AbortWithStatusJSON(appErr.HTTPStatus, body)
		return
	}
	c.JSON(appErr.HTTPStatus, body)
}

// logError logs client errors at warn and server errors at error
func logError(logger *slog.Logger, c *gin.Context, appErr *errors.AppError) {
	if logger == nil {
		return
	}

	level := slog.LevelWarn
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	attrs := []any{
		"code", appErr.Code,
		"message", appErr.Message,
		"status", appErr.HTTPStatus,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"requestId", GetRequestID(c),
	}
	if appErr.Err != nil {
		attrs = append(attrs, "error", appErr.Err.Error())
	}
	if len(appErr.Details) > 0 {
		attrs = append(attrs, "details", appErr.Details)
	}
	logger.Log(c.Request.Context(), level, "API error", attrs...)
}

// ErrorHandler renders the last error a handler attached with c.Error,
// unless the handler already wrote a response
func ErrorHandler(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		appErr := errors.FromError(c.Errors.Last().Err)
		logError(logger, c, appErr)
		render(c, appErr, false)
	}
}

// ErrorResponder logs and renders errors from inside a handler
type ErrorResponder struct {
	ctx    *gin.Context
	logger *slog.Logger
}

func NewErrorResponder(ctx *gin.Context, logger *slog.Logger) *ErrorResponder {
	return &ErrorResponder{ctx: ctx, logger: logger}
}

// RespondWithError renders err, treating anything that is not an AppError as internal
func (r *ErrorResponder) RespondWithError(err error) {
	r.RespondWithAppError(errors.FromError(err))
}

func (r *ErrorResponder) RespondWithAppError(appErr *errors.AppError) {
	logError(r.logger, r.ctx, appErr)
	render(r.ctx, appErr, false)
}

// AbortWithAppError renders appErr and stops the handler chain
func AbortWithAppError(c *gin.Context, appErr *errors.AppError) {
	render(c, appErr, true)
}
