package bridge

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ===== State =====

func (s *Server) getProcessState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Info())
}

func (s *Server) getConnectionState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.State())
}

func (s *Server) getStreamState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"streaming": s.streamer.IsStreaming()})
}

// ===== Process control =====

func (s *Server) startProcess(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Start(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sup.Info())
}

func (s *Server) stopProcess(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Stop(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sup.Info())
}

func (s *Server) restartProcess(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Restart(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sup.Info())
}

func (s *Server) updateProcessConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.sup.UpdateConfig(body.Host, body.Port); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sup.Info())
}

func (s *Server) getProcessVersion(w http.ResponseWriter, r *http.Request) {
	version, err := s.sup.Version(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": version})
}

// ===== Connection management =====

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ServerURL string `json:"server_url"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.gw.Connect(r.Context(), body.ServerURL); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.gw.State())
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	// Body is optional for disconnect.
	decodeOptionalBody(r, &body)
	s.gw.Disconnect(body.Reason)
	writeJSON(w, http.StatusOK, s.gw.State())
}

func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ServerURL string `json:"server_url"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	info, err := s.gw.TestConnection(r.Context(), body.ServerURL)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) restoreConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.gw.Restore(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.gw.State())
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.gw.ListConnections(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

func (s *Server) deleteConnection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.gw.DeleteConnection(r.Context(), name); err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w)
}

// ===== Stream control =====

func (s *Server) startStream(w http.ResponseWriter, r *http.Request) {
	if err := s.streamer.Start(); err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) stopStream(w http.ResponseWriter, r *http.Request) {
	s.streamer.Stop()
	writeSuccess(w)
}

// ===== Sessions =====

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Sessions())
}

func (s *Server) refreshSessions(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Refresh(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.Sessions())
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	created, err := s.sessions.Create(r.Context(), body.Title)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	session, ok := s.sessions.Session(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) selectSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.sessions.Select(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	messages, err := s.sessions.Messages(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var body struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	sent, err := s.sessions.Send(r.Context(), id, body.Content)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sent)
}
