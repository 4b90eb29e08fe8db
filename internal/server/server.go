// Package server exposes the tract index pipeline over a session-gated HTTP
// surface.
package server

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/geohealth-lab/tractindex/internal/tract"
)

//go:embed templates/*.html
var templateFS embed.FS

// Options configures the HTTP server.
type Options struct {
	Passcode       string
	SessionStore   *SessionStore
	LoginRatePerS  float64
	LoginBurst     int
	AllowedOrigins []string
}

// Server holds the request handlers and their collaborators.
type Server struct {
	svc          *tract.Service
	sessions     *SessionStore
	passcode     string
	loginLimiter *rate.Limiter
	tmpl         *template.Template
	origins      []string
}

// New builds a Server over the given service.
func New(svc *tract.Service, opts Options) (*Server, error) {
	if opts.Passcode == "" {
		return nil, eris.New("server: passcode not configured")
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, eris.Wrap(err, "server: parse templates")
	}

	sessions := opts.SessionStore
	if sessions == nil {
		sessions = NewSessionStore(0)
	}
	perSec := opts.LoginRatePerS
	if perSec <= 0 {
		perSec = 1
	}
	burst := opts.LoginBurst
	if burst <= 0 {
		burst = 5
	}

	return &Server{
		svc:          svc,
		sessions:     sessions,
		passcode:     opts.Passcode,
		loginLimiter: rate.NewLimiter(rate.Limit(perSec), burst),
		tmpl:         tmpl,
		origins:      opts.AllowedOrigins,
	}, nil
}

// Router wires up all routes. Everything except the login form sits behind
// the session gate.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true,
		}))
	}

	r.Get("/login", s.handleLoginForm)
	r.Post("/login", s.handleLogin)
	r.Get("/logout", s.handleLogout)

	// Page routes redirect to the login form when unauthenticated.
	r.Group(func(r chi.Router) {
		r.Use(s.requireSession(true))
		r.Get("/", s.handleIndex)
	})

	// Data routes answer JSON errors instead of redirecting.
	r.Group(func(r chi.Router) {
		r.Use(s.requireSession(false))
		r.Get("/geojson", s.handleGeoJSON)
		r.Get("/get_index_fields", s.handleIndexFields)
		r.Post("/generate_index", s.handleGenerateActivity)
		r.Post("/generate_residential_index", s.handleGenerateResidential)
	})

	return r
}

// requireSession gates a route group on a live session. redirect selects the
// browser behavior (redirect to /login) over the API behavior (401 JSON).
func (s *Server) requireSession(redirect bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.sessions.Valid(sessionToken(r)) {
				next.ServeHTTP(w, r)
				return
			}
			if redirect {
				setFlash(w, "Please log in to access this page.")
				http.Redirect(w, r, "/login?next="+r.URL.Path, http.StatusSeeOther)
				return
			}
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
		})
	}
}
