package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/geohealth-lab/tractindex/internal/tract"
)

const flashCookie = "tractindex_flash"

type generateRequest struct {
	Name      string   `json:"name"`
	Variables []string `json:"variables"`
}

type generateResponse struct {
	Data     json.RawMessage `json:"data"`
	Warnings []string        `json:"warnings,omitempty"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Flash  string
		Loaded bool
	}{
		Flash:  takeFlash(w, r),
		Loaded: s.svc.Loaded(),
	}
	if !data.Loaded {
		data.Flash = "Essential application data failed to load; index generation is unavailable."
	}
	s.render(w, "index.html", data)
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, "login.html", struct {
		Flash string
		Next  string
	}{
		Flash: takeFlash(w, r),
		Next:  sanitizeNext(r.URL.Query().Get("next")),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.loginLimiter.Allow() {
		http.Error(w, "too many login attempts", http.StatusTooManyRequests)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	entered := r.PostFormValue("passcode")
	if subtle.ConstantTimeCompare([]byte(entered), []byte(s.passcode)) != 1 {
		zap.L().Info("login attempt rejected")
		setFlash(w, "Invalid passcode. Please try again.")
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	token := s.sessions.Create()
	setSessionCookie(w, token, s.sessions.TTL())

	next := sanitizeNext(r.URL.Query().Get("next"))
	if next == "" {
		next = "/"
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Destroy(sessionToken(r))
	clearSessionCookie(w)
	setFlash(w, "You have been logged out.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	fc, err := s.svc.SnapshotGeoJSON()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if err := json.NewEncoder(w).Encode(fc); err != nil {
		zap.L().Error("server: encode geojson response", zap.Error(err))
	}
}

func (s *Server) handleIndexFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.IndexFields())
}

func (s *Server) handleGenerateActivity(w http.ResponseWriter, r *http.Request) {
	s.handleGenerate(w, r, s.svc.GenerateActivityIndex)
}

func (s *Server) handleGenerateResidential(w http.ResponseWriter, r *http.Request) {
	s.handleGenerate(w, r, s.svc.GenerateResidentialIndex)
}

type generateFn func(ctx context.Context, name string, variables []string) (*geojson.FeatureCollection, []string, error)

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, generate generateFn) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	fc, warnings, err := generate(r.Context(), req.Name, req.Variables)
	if err != nil {
		s.writeError(w, err)
		return
	}

	raw, err := json.Marshal(fc)
	if err != nil {
		s.writeError(w, eris.Wrap(err, "encode feature collection"))
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Data: raw, Warnings: warnings})
}

// writeError is the single translation point from the tract error taxonomy to
// client-facing responses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case eris.Is(err, tract.ErrDataNotLoaded):
		status = http.StatusServiceUnavailable
	case eris.Is(err, tract.ErrInvalidInput), eris.Is(err, tract.ErrNoValidVariables):
		status = http.StatusBadRequest
	case eris.Is(err, tract.ErrMissingColumn),
		eris.Is(err, tract.ErrAggregationFailure),
		eris.Is(err, tract.ErrMergeInvariant):
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		zap.L().Error("server: request failed", zap.Error(err))
	} else {
		zap.L().Info("server: request rejected", zap.String("reason", err.Error()))
	}
	writeJSONError(w, status, err.Error())
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		zap.L().Error("server: render template", zap.String("template", name), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("server: encode json response", zap.Error(err))
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func setFlash(w http.ResponseWriter, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(msg),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func takeFlash(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Path: "/", MaxAge: -1})
	msg, err := url.QueryUnescape(c.Value)
	if err != nil {
		return ""
	}
	return msg
}

// sanitizeNext keeps post-login redirects on-site.
func sanitizeNext(next string) string {
	if next == "" || next[0] != '/' || len(next) > 1 && next[1] == '/' {
		return ""
	}
	return next
}
