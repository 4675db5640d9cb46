package agent

import (
	"encoding/json"
	"net/http"
	"time"
)

// Handler returns the agent's HTTP surface, the one exposed through
// the tunnel.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /stats", a.handleStats)
	mux.HandleFunc("POST /service/{service}", a.handleService)
	return mux
}

func (a *Agent) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !a.launcher.Healthy() {
		status = "degraded"
	}

	body := map[string]any{
		"status":    status,
		"worker_id": a.WorkerID(),
		"services":  a.launcher.States(),
		"uptime":    int(time.Since(a.started).Seconds()),
	}
	if a.cfg.MeshIP != "" {
		body["mesh_ip"] = a.cfg.MeshIP
	}
	agentJSON(w, http.StatusOK, body)
}

func (a *Agent) handleStats(w http.ResponseWriter, r *http.Request) {
	agentJSON(w, http.StatusOK, map[string]any{
		"worker_id": a.WorkerID(),
		"uptime":    int(time.Since(a.started).Seconds()),
		"services":  a.launcher.States(),
		"routing":   a.router.Stats(),
	})
}

func (a *Agent) handleService(w http.ResponseWriter, r *http.Request) {
	a.router.Handle(w, r, r.PathValue("service"))
}

func agentJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
