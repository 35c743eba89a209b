package handlers

import "net/http"

// Welcome handles GET /.
func Welcome(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Welcome to " + service,
		})
	}
}
