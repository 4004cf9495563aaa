package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) PreviewCatalog(c *gin.Context) {
	tenantID, ok := tenantIDParam(c)
	if !ok {
		return
	}

	diff, err := s.syncSvc.Preview(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, diff)
}

func (s *Server) SyncCatalog(c *gin.Context) {
	tenantID, ok := tenantIDParam(c)
	if !ok {
		return
	}

	result, err := s.syncSvc.Apply(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
