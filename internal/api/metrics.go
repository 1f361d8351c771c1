package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	MQTT          MQTTStatus       `json:"mqtt"`
	Poll          PollMetrics      `json:"poll"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
	InfluxDB      *MirrorMetrics   `json:"influxdb,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// PollMetrics summarises the scheduler.
type PollMetrics struct {
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastOutcome         string `json:"last_outcome,omitempty"`
	LastTopics          int    `json:"last_topics"`
	LastDurationMS      int64  `json:"last_duration_ms"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// MirrorMetrics reports the InfluxDB snapshot mirror.
type MirrorMetrics struct {
	WriteFailures int    `json:"write_failures"`
	LastError     string `json:"last_error,omitempty"`
}

// handleMetrics returns runtime, broker, poll and database metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		MQTT: MQTTStatus{
			Connected: s.mqtt.IsConnected(),
			Broker:    s.mqtt.Broker(),
		},
		Poll: PollMetrics{
			ConsecutiveFailures: s.scheduler.State().ConsecutiveFailures,
		},
	}

	if last, ok := s.scheduler.LastCycle(); ok {
		metrics.Poll.LastOutcome = string(last.Outcome)
		metrics.Poll.LastTopics = last.Topics
		metrics.Poll.LastDurationMS = last.FinishedAt.Sub(last.StartedAt).Milliseconds()
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	if s.mirror != nil {
		failures, lastErr := s.mirror.WriteFailures()
		metrics.InfluxDB = &MirrorMetrics{WriteFailures: failures}
		if lastErr != nil {
			metrics.InfluxDB.LastError = lastErr.Error()
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
