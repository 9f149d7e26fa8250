package handler

import "net/http"

// Health reports service liveness.
// @Summary Health check
// @Description Check whether the service is up
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string "Service status"
// @Router /healthz [get]
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
