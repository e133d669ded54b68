package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/terminal-bench/nftauction/internal/apperr"
)

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.ErrValidation:
		return http.StatusBadRequest
	case apperr.ErrAuthorization:
		return http.StatusForbidden
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrState:
		return http.StatusConflict
	case apperr.ErrAdapterFailure:
		return http.StatusBadGateway
	case apperr.ErrReconciliation:
		return http.StatusInternalServerError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func kindName(err error) string {
	switch apperr.KindOf(err) {
	case apperr.ErrValidation:
		return "validation"
	case apperr.ErrAuthorization:
		return "authorization"
	case apperr.ErrNotFound:
		return "not_found"
	case apperr.ErrState:
		return "state"
	case apperr.ErrAdapterFailure:
		return "adapter_failure"
	case apperr.ErrReconciliation:
		return "reconciliation_required"
	}
	return "internal"
}

func (g *Gateway) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		g.logger.Error("request failed",
			"path", c.FullPath(),
			"correlation_id", c.GetString(ctxCorrelationID),
			"error", err,
		)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError && apperr.KindOf(err) == nil {
		msg = "internal error"
	}
	c.JSON(status, gin.H{
		"error":          msg,
		"kind":           kindName(err),
		"correlation_id": c.GetString(ctxCorrelationID),
	})
}
