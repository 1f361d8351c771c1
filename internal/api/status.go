package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/vrm-cloud-mqtt/internal/bridge"
)

// defaultCycleLimit is the number of cycles returned without ?limit.
const defaultCycleLimit = 20

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string   `json:"status"`
	Reasons []string `json:"reasons,omitempty"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	SiteID        string              `json:"site_id"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Poll          bridge.PollState    `json:"poll"`
	LastCycle     *bridge.CycleReport `json:"last_cycle,omitempty"`
	Fatal         string              `json:"fatal,omitempty"`
	MQTT          MQTTStatus          `json:"mqtt"`
}

// MQTTStatus describes the broker connection.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CyclesResponse is the body of GET /api/v1/cycles.
type CyclesResponse struct {
	Cycles []bridge.CycleReport `json:"cycles"`
}

// handleHealth reports 200 while the bridge can do its job.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	var reasons []string
	if !s.mqtt.IsConnected() {
		reasons = append(reasons, "mqtt disconnected")
	}
	if err := s.scheduler.Fatal(); err != nil {
		reasons = append(reasons, "poll loop stopped: "+err.Error())
	}

	if len(reasons) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Reasons: reasons})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		SiteID:        s.scheduler.SiteID(),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Poll:          s.scheduler.State(),
		MQTT: MQTTStatus{
			Connected: s.mqtt.IsConnected(),
			Broker:    s.mqtt.Broker(),
		},
	}
	if last, ok := s.scheduler.LastCycle(); ok {
		resp.LastCycle = &last
	}
	if err := s.scheduler.Fatal(); err != nil {
		resp.Fatal = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "cycle journal not configured")
		return
	}

	limit := defaultCycleLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > bridge.MaxRecentCycles {
			writeBadRequest(w, "limit must be an integer between 1 and "+strconv.Itoa(bridge.MaxRecentCycles))
			return
		}
		limit = n
	}

	cycles, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read cycle journal", "error", err)
		writeInternalError(w, "failed to read cycle journal")
		return
	}
	writeJSON(w, http.StatusOK, CyclesResponse{Cycles: cycles})
}
