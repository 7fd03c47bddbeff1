package server

import (
	"net/http"
)

// setupRoutes registers all HTTP routes. The webhook POST route carries the
// signature verification middleware; everything else relies on the common
// chain applied in New.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Platform webhook: GET is the subscription challenge, POST delivers
	// comment notifications (signature-verified).
	mux.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.app.WebhookHandler.VerifyHandler(w, r)
		case http.MethodPost:
			s.signatureMiddleware(http.HandlerFunc(s.app.WebhookHandler.EventsHandler)).ServeHTTP(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Ops API
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)
	mux.HandleFunc("/api/search", s.app.SearchHandler.SearchHandler)
	mux.HandleFunc("/api/comments/", s.app.CommentHandler.GetCommentHandler)
	mux.HandleFunc("/api/conversations/", s.app.CommentHandler.ListByConversationHandler)

	// Pipeline event stream
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Load balancer probe
	mux.HandleFunc("/health", s.app.StatusHandler.HealthHandler)

	return mux
}
