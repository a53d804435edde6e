package api

import (
	"github.com/toolboxlabs/planner/pkg/queue"
	"github.com/toolboxlabs/planner/pkg/service"
)

// taskAcceptedResponse is returned by POST /api/v1/tasks without
// ?wait=true.
type taskAcceptedResponse struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// cancelResponse is returned by POST /api/v1/runs/:id/cancel.
type cancelResponse struct {
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}

// listRunsResponse is returned by GET /api/v1/runs.
type listRunsResponse struct {
	Runs []service.RunView `json:"runs"`
}

// healthResponse is returned by GET /api/v1/health.
type healthResponse struct {
	Status            string            `json:"status"`
	Version           string            `json:"version"`
	Queue             queue.Health      `json:"queue"`
	FailedProviders   map[string]string `json:"failed_providers,omitempty"`
	EventsDropped     int64             `json:"events_dropped"`
	ActiveConnections int               `json:"active_ws_connections"`
}

type errorResponse struct {
	Error string `json:"error"`
}
