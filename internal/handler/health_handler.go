package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler reports liveness plus database reachability.
type HealthHandler struct {
	DB  Pinger
	Log zerolog.Logger
}

func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok", "database": "ok"}
	if h.DB != nil {
		if err := h.DB.PingContext(ctx); err != nil {
			h.Log.Warn().Err(err).Msg("⚠️ database ping failed")
			status = http.StatusServiceUnavailable
			body = map[string]string{"status": "degraded", "database": "unreachable"}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
