package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/authcore"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type healthChecker interface {
	Health(ctx context.Context) authcore.HealthStatus
}

func healthHandler(engine healthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := engine.Health(r.Context())
		code := http.StatusOK
		if !status.Available {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"available":  status.Available,
			"latency_ms": status.Latency.Milliseconds(),
		})
	}
}

type metricPoint struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// metricsHandler collects reader on demand and lists every int64 data point.
func metricsHandler(reader sdkmetric.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(r.Context(), &rm); err != nil {
			http.Error(w, "collect failed", http.StatusInternalServerError)
			return
		}
		points := []metricPoint{}
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				switch data := m.Data.(type) {
				case metricdata.Sum[int64]:
					for _, dp := range data.DataPoints {
						points = append(points, metricPoint{Name: m.Name, Value: dp.Value})
					}
				case metricdata.Gauge[int64]:
					for _, dp := range data.DataPoints {
						points = append(points, metricPoint{Name: m.Name, Value: dp.Value})
					}
				}
			}
		}
		writeJSON(w, http.StatusOK, points)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
