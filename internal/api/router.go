package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Verify)
	mux.HandleFunc("POST /{$}", h.Receive)

	mux.HandleFunc("GET /v1/health", h.Health)
	mux.HandleFunc("GET /v1/messages", h.ListMessages)
	mux.HandleFunc("GET /v1/messages/{id}", h.GetMessage)

	return mux
}
