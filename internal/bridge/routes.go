package bridge

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all bridge API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// State snapshots
	r.Route("/state", func(r chi.Router) {
		r.Get("/process", s.getProcessState)
		r.Get("/connection", s.getConnectionState)
		r.Get("/stream", s.getStreamState)
	})

	// Server process control
	r.Route("/process", func(r chi.Router) {
		r.Post("/start", s.startProcess)
		r.Post("/stop", s.stopProcess)
		r.Post("/restart", s.restartProcess)
		r.Post("/config", s.updateProcessConfig)
		r.Get("/version", s.getProcessVersion)
	})

	// Connection management
	r.Route("/connection", func(r chi.Router) {
		r.Post("/connect", s.connect)
		r.Post("/disconnect", s.disconnect)
		r.Post("/test", s.testConnection)
		r.Post("/restore", s.restoreConnection)
	})

	// Saved connection registry
	r.Route("/connections", func(r chi.Router) {
		r.Get("/", s.listConnections)
		r.Delete("/{name}", s.deleteConnection)
	})

	// Event stream control
	r.Route("/stream", func(r chi.Router) {
		r.Post("/start", s.startStream)
		r.Post("/stop", s.stopStream)
	})

	// Session access
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)
		r.Post("/refresh", s.refreshSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Post("/select", s.selectSession)
			r.Get("/message", s.getMessages)
			r.Post("/message", s.sendMessage)
		})
	})

	// Event feeds
	r.Get("/events", s.sseEvents)
	r.Get("/ws", s.wsEvents)
}
