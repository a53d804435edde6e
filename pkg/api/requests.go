package api

import "github.com/toolboxlabs/planner/pkg/models"

// createTaskRequest is the body of POST /api/v1/tasks. UserID is
// optional; proxy identity headers fill it when absent.
type createTaskRequest struct {
	Task         string             `json:"task" binding:"required"`
	UserID       string             `json:"user_id"`
	Budget       *models.BudgetSpec `json:"budget,omitempty"`
	ExtraContext map[string]any     `json:"extra_context,omitempty"`
	LLMProvider  string             `json:"llm_provider,omitempty"`
}
