package handlers

import "net/http"

// Health reports liveness. It does not call the provider.
func Health(env string, subscribers func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": env,
			"subscribers": subscribers(),
			"timestamp":   now(),
		})
	}
}

// Root lists the public endpoints.
func Root() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service": "payrelay",
			"endpoints": map[string]string{
				"stk_push":     "POST /api/v1/stk-push/initiate",
				"stk_callback": "POST /api/v1/stk-push/callback",
				"b2c_payment":  "POST /api/v1/b2c/payment",
				"b2c_result":   "POST /api/v1/b2c/result",
				"b2c_timeout":  "POST /api/v1/b2c/timeout",
				"websocket":    "GET /ws/payments",
				"health":       "GET /health",
			},
		})
	}
}
