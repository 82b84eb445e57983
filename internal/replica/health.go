package replica

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthHandler answers liveness probes for replica id.
func HealthHandler(id string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "healthy",
			"instance":  id,
			"service":   "inventario",
			"timestamp": float64(time.Now().UnixNano()) / 1e9,
		})
	})
	return mux
}
