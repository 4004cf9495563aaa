package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	usagedomain "github.com/smallbiznis/gatemeter/internal/usage/domain"
)

// maxWebhookBody caps a single http-log delivery at 4 MiB.
const maxWebhookBody = 4 << 20

func (s *Server) IngestUsage(c *gin.Context) {
	tenantID, ok := tenantIDParam(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.usageSvc.Ingest(c.Request.Context(), tenantID, body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ListUsage(c *gin.Context) {
	tenantID, ok := tenantIDParam(c)
	if !ok {
		return
	}

	pageSize := int32(0)
	if raw := c.Query("page_size"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed < 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		pageSize = int32(parsed)
	}

	resp, err := s.usageSvc.List(c.Request.Context(), usagedomain.ListUsageRequest{
		TenantID:   tenantID.String(),
		ConsumerID: c.Query("consumer_id"),
		Resolution: c.Query("resolution"),
		PageToken:  c.Query("page_token"),
		PageSize:   pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
