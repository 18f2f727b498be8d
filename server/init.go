package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pthm/statesync"
	"github.com/pthm/statesync/lib/encoding"
)

const maxInitBody = 64 << 10

// handleInit creates a session, or resumes the one named by a valid
// session cookie, and returns its starter pack.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		s.logger.Error("session request rejected: only local origins are allowed in edit mode",
			"origin", r.Header.Get("Origin"))
		http.Error(w, "Incorrect origin. Only local origins are allowed.", http.StatusForbidden)
		return
	}

	var req initRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInitBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid init request.", http.StatusBadRequest)
		return
	}

	session, err := s.initSession(r, req.ProposedSessionID)
	if err != nil {
		if statesync.IsSessionRejected(err) {
			s.logger.Warn("session rejected", "error", err)
			http.Error(w, "Session rejected.", http.StatusForbidden)
			return
		}
		s.logger.Error("session init failed", "error", err)
		http.Error(w, "Session init failed.", http.StatusInternalServerError)
		return
	}

	resp, err := s.starterPack(session)
	if err != nil {
		s.logger.Error("starter pack failed", "session", session.ID(), "error", err)
		http.Error(w, "Session init failed.", http.StatusInternalServerError)
		return
	}

	if s.sealer != nil {
		token, err := s.sealer.SealSession(session.ID())
		if err != nil {
			s.logger.Error("seal session token", "error", err)
		} else {
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    token,
				Path:     "/",
				MaxAge:   s.cfg.IdleSessionSeconds,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				Secure:   r.TLS != nil,
			})
		}
	}

	data, err := encoding.JSON.Marshal(resp)
	if err != nil {
		s.logger.Error("encode starter pack", "error", err)
		http.Error(w, "Session init failed.", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) initSession(r *http.Request, proposedID string) (*statesync.Session, error) {
	if proposedID == "" {
		if session, ok := s.resumeSession(r); ok {
			session.Touch()
			return session, nil
		}
	}
	cookies, headers := requestMaps(r)
	return s.app.Sessions.NewSession(cookies, headers, proposedID)
}

// resumeSession returns the live session named by the session cookie.
func (s *Server) resumeSession(r *http.Request) (*statesync.Session, bool) {
	if s.sealer == nil {
		return nil, false
	}
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, false
	}
	id, err := s.sealer.OpenSession(c.Value, s.cfg.IdleTimeout())
	if err != nil {
		s.logger.Debug("ignoring session cookie", "error", err)
		return nil, false
	}
	return s.app.Sessions.Get(id)
}

func (s *Server) starterPack(session *statesync.Session) (*InitResponse, error) {
	u, err := session.Flush()
	if err != nil {
		return nil, err
	}
	snapshot, err := session.Snapshot()
	if err != nil {
		return nil, err
	}
	return &InitResponse{
		Mode:          s.cfg.Mode,
		SessionID:     session.ID(),
		UserState:     snapshot,
		Mail:          mailOrEmpty(u.Mail),
		Components:    session.Tree().ToDict(),
		UserFunctions: s.app.Handlers.Names(),
	}, nil
}
