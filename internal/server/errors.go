package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	billingdomain "github.com/smallbiznis/gatemeter/internal/billing/domain"
	catalogdomain "github.com/smallbiznis/gatemeter/internal/catalog/domain"
	connectiondomain "github.com/smallbiznis/gatemeter/internal/connection/domain"
	consumerdomain "github.com/smallbiznis/gatemeter/internal/consumer/domain"
	enforcementdomain "github.com/smallbiznis/gatemeter/internal/enforcement/domain"
	"github.com/smallbiznis/gatemeter/internal/gateway"
	"github.com/smallbiznis/gatemeter/internal/plan"
	usagedomain "github.com/smallbiznis/gatemeter/internal/usage/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isBadRequestError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, connectiondomain.ErrNotConnected):
		return http.StatusConflict, errorPayload{
			Type:    "not_connected",
			Message: "tenant is not connected",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "rate limit exceeded",
		}
	case errors.Is(err, gateway.ErrConnectivity),
		errors.Is(err, catalogdomain.ErrFetchFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_unreachable",
			Message: "control plane request failed",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isBadRequestError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, connectiondomain.ErrInvalidTenant),
		errors.Is(err, connectiondomain.ErrInvalidEndpoint),
		errors.Is(err, catalogdomain.ErrInvalidTenant),
		errors.Is(err, usagedomain.ErrInvalidTenant),
		errors.Is(err, usagedomain.ErrMalformedPayload),
		errors.Is(err, billingdomain.ErrInvalidTenant),
		errors.Is(err, billingdomain.ErrInvalidAmount),
		errors.Is(err, consumerdomain.ErrInvalidAmount),
		errors.Is(err, consumerdomain.ErrInvalidPlan),
		errors.Is(err, enforcementdomain.ErrInvalidConsumer),
		errors.Is(err, enforcementdomain.ErrInvalidLimits):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, connectiondomain.ErrConnectionNotFound),
		errors.Is(err, consumerdomain.ErrConsumerNotFound),
		errors.Is(err, plan.ErrPlanNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
