package main

import (
	"encoding/json"
	"net/http"

	"github.com/c360/rtlink/manager"
)

// healthHandler serves the node health report. Unhealthy nodes answer 503.
func healthHandler(mgr *manager.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		report := mgr.HealthReport()
		w.Header().Set("Content-Type", "application/json")
		if report.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}
