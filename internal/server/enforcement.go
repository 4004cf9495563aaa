package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/gatemeter/internal/gateway"
)

type enforceLimitsRequest struct {
	GroupID string `json:"group_id"`
	Minute  int    `json:"minute"`
	Hour    int    `json:"hour"`
	Day     int    `json:"day"`
}

// EnforceRateLimits pushes the consumer's plan limits to the tenant's
// gateway. The consumer account identifies both the tenant and the
// remote consumer group.
func (s *Server) EnforceRateLimits(c *gin.Context) {
	accountID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req enforceLimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	account, err := s.consumerSvc.Get(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	groupID := req.GroupID
	if groupID == "" {
		groupID = account.RemoteConsumerID
	}

	err = s.enforcementSvc.EnforceRateLimits(c.Request.Context(), account.TenantID, account.PlanCode, groupID, gateway.RateLimits{
		Minute: req.Minute,
		Hour:   req.Hour,
		Day:    req.Day,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "enforced"})
}
