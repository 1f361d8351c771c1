// Package vrmtest provides an in-memory VRM API for tests.
//
// The fake implements the endpoints the vrm package calls, keeps real token
// state (created tokens authorise requests, revoked ones stop doing so) and
// lets tests queue HTTP failures per route.
package vrmtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

// Route names accepted by Fail and CallCount.
const (
	RouteLogin         = "login"
	RouteListTokens    = "list_tokens"
	RouteCreateToken   = "create_token"
	RouteRevokeToken   = "revoke_token"
	RouteInstallations = "installations"
	RouteDiagnostics   = "diagnostics"
)

// sessionKey signs the fake's session JWTs. Clients never verify them.
var sessionKey = []byte("vrmtest-session-key")

type accessToken struct {
	id     int
	name   string
	secret string
}

// Server is a fake VRM API backed by httptest.Server.
type Server struct {
	*httptest.Server

	Username string
	Password string
	UserID   int

	mu         sync.Mutex
	sessionTTL time.Duration
	sites      map[string][]map[string]any
	tokens     []accessToken
	nextID     int
	authorized map[string]bool
	failures   map[string][]int
	calls      map[string]int
	refuseDup  bool
}

// NewServer starts a fake with one account and no sites. Close it with
// t.Cleanup(srv.Close).
func NewServer() *Server {
	s := &Server{
		Username:   "user@example.com",
		Password:   "secret",
		UserID:     22,
		sessionTTL: time.Hour,
		sites:      make(map[string][]map[string]any),
		nextID:     100,
		authorized: make(map[string]bool),
		failures:   make(map[string][]int),
		calls:      make(map[string]int),
	}

	r := chi.NewRouter()
	r.Post("/auth/login", s.route(RouteLogin, s.handleLogin))
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/accesstokens", s.route(RouteListTokens, s.authed(s.handleListTokens)))
		r.Post("/accesstokens", s.route(RouteCreateToken, s.authed(s.handleCreateToken)))
		r.Delete("/accesstokens/{tokenID}", s.route(RouteRevokeToken, s.authed(s.handleRevokeToken)))
		r.Get("/installations", s.route(RouteInstallations, s.authed(s.handleInstallations)))
	})
	r.Get("/installations/{siteID}/diagnostics", s.route(RouteDiagnostics, s.authed(s.handleDiagnostics)))

	s.Server = httptest.NewServer(r)
	return s
}

// AddSite makes siteID visible to the account with the given diagnostics
// records. Records use the API's field names (Device, instance,
// description, rawValue).
func (s *Server) AddSite(siteID string, records ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites[siteID] = records
}

// SetSessionTTL sets the lifetime written into session JWTs.
func (s *Server) SetSessionTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionTTL = ttl
}

// RefuseDuplicateNames makes token creation fail with 400 while a token of
// the same name exists.
func (s *Server) RefuseDuplicateNames(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuseDup = refuse
}

// AddAccessToken registers an existing token and returns its secret.
func (s *Server) AddAccessToken(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addTokenLocked(name)
}

// TokenNames lists the names of live access tokens in creation order.
func (s *Server) TokenNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.tokens))
	for i, t := range s.tokens {
		names[i] = t.name
	}
	return names
}

// Invalidate makes header values stop authorising requests, as if the
// token had expired remotely. authorization is the full header value.
func (s *Server) Invalidate(authorization string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.authorized, authorization)
}

// InvalidateAll drops every credential.
func (s *Server) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = make(map[string]bool)
}

// Authorize accepts authorization as a valid header value.
func (s *Server) Authorize(authorization string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized[authorization] = true
}

// Fail queues HTTP statuses for route. Each request consumes one.
func (s *Server) Fail(route string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], statuses...)
}

// CallCount returns how many requests reached route.
func (s *Server) CallCount(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

func (s *Server) addTokenLocked(name string) string {
	s.nextID++
	secret := fmt.Sprintf("tok%06d", s.nextID)
	s.tokens = append(s.tokens, accessToken{id: s.nextID, name: name, secret: secret})
	s.authorized["Token "+secret] = true
	return secret
}

func (s *Server) route(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[name]++
		var status int
		if queue := s.failures[name]; len(queue) > 0 {
			status, s.failures[name] = queue[0], queue[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			writeJSON(w, status, map[string]any{"success": false, "errors": http.StatusText(status)})
			return
		}
		next(w, r)
	}
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		ok := s.authorized[r.Header.Get("x-authorization")]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false, "errors": "Authentication failed", "error_code": "invalid_token",
			})
			return
		}
		if id := chi.URLParam(r, "userID"); id != "" && id != strconv.Itoa(s.UserID) {
			writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "errors": "Access denied"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "errors": "bad request"})
		return
	}
	if req.Username != s.Username || req.Password != s.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "errors": "Incorrect username or password"})
		return
	}

	s.mu.Lock()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid": s.UserID,
		"exp": time.Now().Add(s.sessionTTL).Unix(),
		"jti": s.nextID,
	}).SignedString(sessionKey)
	s.nextID++
	if err == nil {
		s.authorized["Bearer "+token] = true
	}
	s.mu.Unlock()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "errors": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "login_success", "token": token, "idUser": s.UserID})
}

func (s *Server) handleListTokens(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	tokens := make([]map[string]any, len(s.tokens))
	for i, t := range s.tokens {
		tokens[i] = map[string]any{"idAccessToken": strconv.Itoa(t.id), "name": t.name, "expires": nil}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tokens": tokens})
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "errors": "name is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuseDup {
		for _, t := range s.tokens {
			if t.name == req.Name {
				writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "errors": "Token name already in use"})
				return
			}
		}
	}
	secret := s.addTokenLocked(req.Name)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": secret, "idAccessToken": s.nextID})
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "tokenID")) //nolint:errcheck // unknown ids fall through to 404

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tokens {
		if t.id == id {
			delete(s.authorized, "Token "+t.secret)
			s.tokens = append(s.tokens[:i], s.tokens[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"removed": 1}})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "errors": "Token not found"})
}

func (s *Server) handleInstallations(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	records := make([]map[string]any, 0, len(s.sites))
	for id := range s.sites {
		n, err := strconv.Atoi(id)
		var idSite any = id
		if err == nil {
			idSite = n
		}
		records = append(records, map[string]any{"idSite": idSite, "name": "Site " + id})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "records": records})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	records, ok := s.sites[chi.URLParam(r, "siteID")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "errors": "Access denied"})
		return
	}
	if records == nil {
		records = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "records": records})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test server
}
