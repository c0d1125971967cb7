// Package httpapi is the REST surface of the poll path plus record lookup,
// health, and the websocket mount.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/park285/threeslide-arena/internal/arenaerr"
	"github.com/park285/threeslide-arena/internal/identity"
	"github.com/park285/threeslide-arena/internal/matchmaking"
	"github.com/park285/threeslide-arena/internal/msgcat"
	"github.com/park285/threeslide-arena/internal/records"
	"github.com/park285/threeslide-arena/internal/session"
	"github.com/park285/threeslide-arena/pkg/arenadto"
	"go.uber.org/zap"
)

// Authenticator resolves a request token to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*identity.User, error)
}

type Deps struct {
	Auth     Authenticator
	Searcher *matchmaking.Searcher
	Queue    *matchmaking.Queue
	Rooms    *session.Registry
	Store    records.Store
	Gateway  http.Handler
	Messages *msgcat.Catalog
	Logger   *zap.Logger
}

// Server represents the REST API server
type Server struct {
	d      Deps
	router *mux.Router
	log    *zap.Logger
}

func NewServer(d Deps) *Server {
	s := &Server{d: d, router: mux.NewRouter(), log: d.Logger}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/matchmaking/find", s.withAuth(s.handleFind)).Methods(http.MethodPost)
	api.HandleFunc("/matchmaking/leave", s.withAuth(s.handleLeave)).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}", s.handleGetMatch).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/matches", s.handleUserMatches).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.d.Gateway != nil {
		s.router.Handle("/ws", s.d.Gateway)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondMessage(w http.ResponseWriter, status int, msg, code string) {
	respondJSON(w, status, arenadto.Message{Message: msg, Code: code})
}

func (s *Server) respondError(w http.ResponseWriter, err error, data map[string]string) {
	de := arenaerr.Classify(err, s.d.Messages, data)
	status := arenaerr.HTTPStatus(de.Code)
	if status >= http.StatusInternalServerError {
		s.log.Error("http_error", zap.String("code", de.Code), zap.Error(err))
	}
	respondJSON(w, status, de.Body())
}

type ctxKey struct{}

func userFrom(ctx context.Context) *identity.User {
	u, _ := ctx.Value(ctxKey{}).(*identity.User)
	return u
}

func tokenFrom(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get(identity.TokenHeader)); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := tokenFrom(r)
		if token == "" {
			respondMessage(w, http.StatusUnauthorized, s.d.Messages.Text("error.no_token", nil, "No token, authorization denied"), arenadto.CodeAuthentication)
			return
		}
		u, err := s.d.Auth.Authenticate(r.Context(), token)
		if err != nil {
			s.respondError(w, err, nil)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	}
}

// handleFind blocks until the caller is paired or disconnects.
func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	m, err := s.d.Searcher.Find(r.Context(), matchmaking.Party{UserID: u.ID, Pseudo: u.Pseudo, Rating: u.Rating})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.log.Info("find_client_gone", zap.String("user_id", u.ID))
			return
		}
		if errors.Is(err, matchmaking.ErrLeft) {
			respondMessage(w, http.StatusOK, s.d.Messages.Text("leave.ok", nil, "User removed from matchmaking"), "")
			return
		}
		s.respondError(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"match": m})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	s.d.Searcher.Leave(u.ID)
	respondMessage(w, http.StatusOK, s.d.Messages.Text("leave.ok", nil, "User removed from matchmaking"), "")
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.d.Store == nil {
		s.respondError(w, notFound(s.d.Messages, id), nil)
		return
	}
	rec, err := s.d.Store.GetMatch(r.Context(), id)
	if err != nil {
		s.respondError(w, err, nil)
		return
	}
	if rec == nil {
		s.respondError(w, notFound(s.d.Messages, id), nil)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

const maxUserMatches = 100

func (s *Server) handleUserMatches(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	switch {
	case limit <= 0:
		limit = 20
	case limit > maxUserMatches:
		limit = maxUserMatches
	}
	list := []*records.MatchRecord{}
	if s.d.Store != nil {
		got, err := s.d.Store.RecentByUser(r.Context(), id, limit)
		if err != nil {
			s.respondError(w, err, nil)
			return
		}
		list = append(list, got...)
	}
	respondJSON(w, http.StatusOK, map[string]any{"matches": list})
}

type health struct {
	Status    string `json:"status"`
	Queue     int    `json:"queue"`
	Searching int    `json:"searching"`
	Rooms     int    `json:"rooms"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := health{Status: "ok"}
	if s.d.Queue != nil {
		h.Queue = s.d.Queue.Len()
	}
	if s.d.Searcher != nil {
		h.Searching = s.d.Searcher.Searching()
	}
	if s.d.Rooms != nil {
		h.Rooms = s.d.Rooms.Len()
	}
	respondJSON(w, http.StatusOK, h)
}

func notFound(cat *msgcat.Catalog, matchID string) error {
	return arenadto.DomainError{
		Code:    arenadto.CodeNotFound,
		Message: cat.Text("error.not_found", map[string]string{"MatchID": matchID}, "Match not found"),
	}
}
