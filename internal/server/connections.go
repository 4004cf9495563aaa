package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	connectiondomain "github.com/smallbiznis/gatemeter/internal/connection/domain"
	"github.com/smallbiznis/gatemeter/internal/gateway"
)

type connectRequest struct {
	Endpoint       string `json:"endpoint"`
	Credential     string `json:"credential"`
	Environment    string `json:"environment"`
	ControlPlaneID string `json:"control_plane_id"`
}

type connectionResponse struct {
	TenantID       string `json:"tenant_id"`
	ControlPlaneID string `json:"control_plane_id,omitempty"`
	Endpoint       string `json:"endpoint"`
	Environment    string `json:"environment,omitempty"`
	Status         string `json:"status"`
	LastSyncedAt   string `json:"last_synced_at,omitempty"`
}

func newConnectionResponse(conn *connectiondomain.TenantConnection) connectionResponse {
	resp := connectionResponse{
		TenantID:       conn.TenantID.String(),
		ControlPlaneID: conn.ControlPlaneID,
		Endpoint:       conn.Endpoint,
		Environment:    conn.Environment,
		Status:         string(conn.Status),
	}
	if conn.LastSyncedAt != nil {
		resp.LastSyncedAt = conn.LastSyncedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return resp
}

func (s *Server) Connect(c *gin.Context) {
	tenantID, ok := tenantIDParam(c)
	if !ok {
		return
	}

	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	conn, err := s.connectionSvc.Connect(c.Request.Context(), connectiondomain.ConnectRequest{
		TenantID:       tenantID.String(),
		Endpoint:       req.Endpoint,
		Credential:     req.Credential,
		Environment:    req.Environment,
		ControlPlaneID: req.ControlPlaneID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newConnectionResponse(conn))
}

func (s *Server) GetConnection(c *gin.Context) {
	tenantID, ok := tenantIDParam(c)
	if !ok {
		return
	}

	conn, err := s.connectionSvc.Get(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newConnectionResponse(conn))
}

func (s *Server) TestConnection(c *gin.Context) {
	tenantID, ok := tenantIDParam(c)
	if !ok {
		return
	}

	err := s.connectionSvc.Test(c.Request.Context(), tenantID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": string(connectiondomain.StatusConnected)})
	case errors.Is(err, gateway.ErrConnectivity):
		// An unreachable gateway is a probe outcome, not a request
		// failure.
		c.JSON(http.StatusOK, gin.H{
			"status": string(connectiondomain.StatusFailed),
			"detail": err.Error(),
		})
	default:
		AbortWithError(c, err)
	}
}

func (s *Server) Disconnect(c *gin.Context) {
	tenantID, ok := tenantIDParam(c)
	if !ok {
		return
	}

	if err := s.connectionSvc.Disconnect(c.Request.Context(), tenantID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}
