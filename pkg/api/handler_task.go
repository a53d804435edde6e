package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/toolboxlabs/planner/pkg/service"
)

// createTaskHandler handles POST /api/v1/tasks. The default response is
// 202 with the queued run id; ?wait=true holds the request open and
// returns the finished run.
func (s *Server) createTaskHandler(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = extractUserID(c)
	}

	view, err := s.svc.Submit(service.SubmitRequest{
		Task:         req.Task,
		UserID:       userID,
		Budget:       req.Budget,
		ExtraContext: req.ExtraContext,
		LLMProvider:  req.LLMProvider,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if c.Query("wait") == "true" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), waitCap)
		defer cancel()

		final, err := s.svc.Wait(ctx, view.RunID)
		if err != nil {
			// The client gave up or hit the cap; the run keeps going.
			c.JSON(http.StatusAccepted, final)
			return
		}
		c.JSON(http.StatusOK, final)
		return
	}

	c.JSON(http.StatusAccepted, taskAcceptedResponse{
		RunID:   view.RunID,
		Status:  string(view.Status),
		Message: "Task accepted for execution",
	})
}
