package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/toolboxlabs/planner/pkg/version"
)

// healthHandler handles GET /api/v1/health. A stopped scheduler reports
// 503 so orchestrators stop routing here during shutdown; degraded
// states (failed providers) stay 200, since the runtime still serves
// runs with the remaining providers.
func (s *Server) healthHandler(c *gin.Context) {
	report := s.svc.Health()

	active := 0
	if s.connManager != nil {
		active = s.connManager.ActiveConnections()
	}

	status := http.StatusOK
	if report.Queue.Stopped {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, healthResponse{
		Status:            report.Status,
		Version:           version.GitCommit,
		Queue:             report.Queue,
		FailedProviders:   report.FailedProviders,
		EventsDropped:     report.EventsDropped,
		ActiveConnections: active,
	})
}
