package rest

import (
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"multiplymonsters/internal/model"
	"multiplymonsters/internal/service"
	"multiplymonsters/internal/transport/rest/handler"
	"multiplymonsters/internal/transport/rest/middleware"
	"multiplymonsters/internal/transport/ws"
)

// Container holds all dependencies for the router
type Container struct {
	AuthService    *service.AuthService
	SessionService *service.SessionService
	SquadService   *service.SquadService
	WSHub          *ws.Hub
	WSSettings     ws.Settings
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	// Initialize handlers
	sessionHandler := handler.NewSessionHandler(c.SessionService, c.AuthService)
	squadHandler := handler.NewSquadHandler(c.SquadService, c.AuthService)

	// Initialize middleware
	authMW := middleware.NewAuthMiddleware(c.AuthService)
	wsHandler := ws.NewHandler(c.WSHub, authMW, c.SessionService, c.SquadService, c.WSSettings)

	// API v1 routes
	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/sessions", sessionHandler.Create).Methods("POST")
	v1.HandleFunc("/sessions/{code}", sessionHandler.Get).Methods("GET")
	v1.HandleFunc("/sessions/{code}/join", sessionHandler.Join).Methods("POST")
	v1.HandleFunc("/sessions/{code}/ranking", sessionHandler.Ranking).Methods("GET")
	v1.HandleFunc("/squads", squadHandler.Create).Methods("POST")
	v1.HandleFunc("/squads/{code}", squadHandler.Get).Methods("GET")
	v1.HandleFunc("/squads/{code}/join", squadHandler.Join).Methods("POST")
	v1.HandleFunc("/squads/{code}/ranking", squadHandler.Ranking).Methods("GET")

	// WebSocket routes (public with token in query param)
	v1.HandleFunc("/ws/sessions/{code}", wsHandler.SessionWS).Methods("GET")
	v1.HandleFunc("/ws/squads/{code}", wsHandler.SquadWS).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Teacher routes
	teacherRoutes := v1.NewRoute().Subrouter()
	teacherRoutes.Use(authMW.Require(model.CollectionSessions, model.RoleTeacher))

	teacherRoutes.HandleFunc("/sessions/{code}/start", sessionHandler.Start).Methods("POST")
	teacherRoutes.HandleFunc("/sessions/{code}/end", sessionHandler.End).Methods("POST")
	teacherRoutes.HandleFunc("/sessions/{code}", sessionHandler.Delete).Methods("DELETE")

	// Student routes, each acting on the caller's own roster entry
	studentRoutes := v1.NewRoute().Subrouter()
	studentRoutes.Use(authMW.Require(model.CollectionSessions, model.RoleStudent))

	studentRoutes.HandleFunc("/sessions/{code}/leave", sessionHandler.Leave).Methods("POST")
	studentRoutes.HandleFunc("/sessions/{code}/score", sessionHandler.Score).Methods("PUT")
	studentRoutes.HandleFunc("/sessions/{code}/ready", sessionHandler.Ready).Methods("PUT")

	// Squad routes; the host is whoever currently holds the flag, so the
	// service checks it rather than the token role
	squadRoutes := v1.NewRoute().Subrouter()
	squadRoutes.Use(authMW.Require(model.CollectionSquadBattles, model.RoleHost, model.RolePlayer))

	squadRoutes.HandleFunc("/squads/{code}/leave", squadHandler.Leave).Methods("POST")
	squadRoutes.HandleFunc("/squads/{code}/ready", squadHandler.Ready).Methods("POST")
	squadRoutes.HandleFunc("/squads/{code}/start", squadHandler.Start).Methods("POST")
	squadRoutes.HandleFunc("/squads/{code}/end", squadHandler.End).Methods("POST")
	squadRoutes.HandleFunc("/squads/{code}/score", squadHandler.Score).Methods("PUT")
	squadRoutes.HandleFunc("/squads/{code}/eliminate", squadHandler.Eliminate).Methods("POST")

	return corsHandler().Handler(r)
}

func corsHandler() *cors.Cors {
	origins := []string{"*"}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins = strings.Split(v, ",")
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
}
