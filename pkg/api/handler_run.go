package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// getRunHandler handles GET /api/v1/runs/:id.
func (s *Server) getRunHandler(c *gin.Context) {
	view, err := s.svc.GetRun(c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// listRunsHandler handles GET /api/v1/runs.
func (s *Server) listRunsHandler(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid limit: must be 1-500"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, listRunsResponse{Runs: s.svc.ListRuns(limit)})
}

// cancelRunHandler handles POST /api/v1/runs/:id/cancel.
func (s *Server) cancelRunHandler(c *gin.Context) {
	runID := c.Param("id")
	if _, err := s.svc.GetRun(runID); err != nil {
		respondServiceError(c, err)
		return
	}
	if !s.svc.CancelRun(runID) {
		c.JSON(http.StatusConflict, errorResponse{Error: "run is not in a cancellable state"})
		return
	}
	c.JSON(http.StatusOK, cancelResponse{RunID: runID, Message: "Run cancellation requested"})
}
