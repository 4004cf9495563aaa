package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	consumerdomain "github.com/smallbiznis/gatemeter/internal/consumer/domain"
)

type consumerResponse struct {
	ID               string  `json:"id"`
	TenantID         string  `json:"tenant_id"`
	RemoteConsumerID string  `json:"remote_consumer_id"`
	Username         string  `json:"username,omitempty"`
	CustomID         string  `json:"custom_id,omitempty"`
	PlanCode         string  `json:"plan_code"`
	Balance          float64 `json:"balance"`
	Currency         string  `json:"currency"`
	Status           string  `json:"status"`
	LastEnforcedAt   string  `json:"last_enforced_at,omitempty"`
}

func newConsumerResponse(account *consumerdomain.ConsumerAccount) consumerResponse {
	resp := consumerResponse{
		ID:               account.ID.String(),
		TenantID:         account.TenantID.String(),
		RemoteConsumerID: account.RemoteConsumerID,
		Username:         account.Username,
		CustomID:         account.CustomID,
		PlanCode:         account.PlanCode,
		Balance:          account.Balance,
		Currency:         account.Currency,
		Status:           string(account.Status),
	}
	if account.LastEnforcedAt != nil {
		resp.LastEnforcedAt = account.LastEnforcedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (s *Server) SyncConsumers(c *gin.Context) {
	tenantID, ok := tenantIDParam(c)
	if !ok {
		return
	}

	result, err := s.consumerSvc.SyncConsumers(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ListConsumers(c *gin.Context) {
	tenantID, ok := tenantIDParam(c)
	if !ok {
		return
	}

	accounts, err := s.consumerSvc.List(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := make([]consumerResponse, 0, len(accounts))
	for _, account := range accounts {
		resp = append(resp, newConsumerResponse(account))
	}
	c.JSON(http.StatusOK, gin.H{"consumers": resp})
}

func (s *Server) GetConsumer(c *gin.Context) {
	accountID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	account, err := s.consumerSvc.Get(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newConsumerResponse(account))
}

type assignPlanRequest struct {
	PlanCode string `json:"plan_code"`
}

func (s *Server) AssignPlan(c *gin.Context) {
	accountID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req assignPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.PlanCode) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.consumerSvc.AssignPlan(c.Request.Context(), accountID, req.PlanCode); err != nil {
		AbortWithError(c, err)
		return
	}

	account, err := s.consumerSvc.Get(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newConsumerResponse(account))
}
