package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) RunBillingSweep(c *gin.Context) {
	tenantID, ok := tenantIDParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	// Arbitrate with scheduled sweeps when redis is available; overlapping
	// sweeps on one tenant would race the per-account positions.
	token, acquired, err := s.webhookLimiter.TryLockSweep(ctx, tenantID.String())
	if err != nil {
		s.log.Warn("sweep lock failed", zap.Error(err))
		AbortWithError(c, err)
		return
	}
	if !acquired {
		AbortWithError(c, ErrRateLimited)
		return
	}
	defer func() {
		if err := s.webhookLimiter.ReleaseSweep(ctx, tenantID.String(), token); err != nil {
			s.log.Warn("sweep unlock failed", zap.Error(err))
		}
	}()

	result, err := s.billingSvc.ProcessUnbilled(ctx, tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type topUpRequest struct {
	Amount float64 `json:"amount"`
}

func (s *Server) TopUp(c *gin.Context) {
	accountID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	account, err := s.billingSvc.TopUp(c.Request.Context(), accountID, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newConsumerResponse(account))
}

func (s *Server) CheckQuota(c *gin.Context) {
	accountID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	thresholdPct := 80.0
	if raw := c.Query("threshold_pct"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 || parsed > 100 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		thresholdPct = parsed
	}

	near, err := s.billingSvc.IsApproachingQuota(c.Request.Context(), accountID, thresholdPct)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"approaching_quota": near,
		"threshold_pct":     thresholdPct,
	})
}
