package api

import (
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"quadtree-index/placement"
)

// RegisterRoutes builds the router. Requests are logged to accessLog in combined log
// format when it is not nil.
func RegisterRoutes(svc *placement.Service, accessLog io.Writer) http.Handler {
	h := &Handler{svc: svc}
	router := mux.NewRouter()

	// Point endpoints
	router.HandleFunc("/points", h.CreatePoint).Methods("POST")
	router.HandleFunc("/points/{point_id}", h.GetPoint).Methods("GET")

	// Tree endpoints
	router.HandleFunc("/tree", h.GetTree).Methods("GET")
	router.HandleFunc("/stats", h.GetStats).Methods("GET")
	router.HandleFunc("/audit", h.GetAudit).Methods("GET")
	router.HandleFunc("/cells/{cell_key}", h.GetCell).Methods("GET")

	// Add CORS support
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	var handler http.Handler = cors(router)
	if accessLog != nil {
		handler = handlers.CombinedLoggingHandler(accessLog, handler)
	}
	return handler
}
