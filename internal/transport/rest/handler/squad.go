package handler

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"multiplymonsters/internal/battle"
	"multiplymonsters/internal/model"
	"multiplymonsters/internal/service"
	"multiplymonsters/internal/transport/rest/middleware"
)

// SquadHandler handles squad battle endpoints
type SquadHandler struct {
	squads  *service.SquadService
	authSvc *service.AuthService
}

// NewSquadHandler creates a new squad handler
func NewSquadHandler(squads *service.SquadService, authSvc *service.AuthService) *SquadHandler {
	return &SquadHandler{
		squads:  squads,
		authSvc: authSvc,
	}
}

// CreateSquadRequest is the request body for creating a squad battle
type CreateSquadRequest struct {
	HostName   string           `json:"hostName"`
	BattleType model.BattleType `json:"battleType"`
}

// Create handles POST /v1/squads
func (h *SquadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSquadRequest
	if !decode(w, r, &req) {
		return
	}

	code, err := h.squads.CreateSquadBattle(r.Context(), req.HostName, req.BattleType)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.authSvc.IssueToken(model.CollectionSquadBattles, code, strings.TrimSpace(req.HostName), model.RoleHost)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Join handles POST /v1/squads/{code}/join
func (h *SquadHandler) Join(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req JoinRequest
	if !decode(w, r, &req) {
		return
	}
	name := req.Name

	if _, err := h.squads.JoinSquadBattle(r.Context(), code, name); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.authSvc.IssueToken(model.CollectionSquadBattles, code, name, model.RolePlayer)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /v1/squads/{code}
func (h *SquadHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.squads.GetSquadBattle(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Ranking handles GET /v1/squads/{code}/ranking
func (h *SquadHandler) Ranking(w http.ResponseWriter, r *http.Request) {
	b, err := h.squads.GetSquadBattle(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	policy := battle.PolicyFor(b.BattleType)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ranking":  policy.Rank(b.Players),
		"gameOver": b.IsStarted && policy.GameOver(b.Players),
	})
}

// Leave handles POST /v1/squads/{code}/leave
func (h *SquadHandler) Leave(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if err := h.squads.LeaveSquadBattle(r.Context(), claims.Code, claims.Name); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// Ready handles POST /v1/squads/{code}/ready
func (h *SquadHandler) Ready(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())

	var req ReadyRequest
	if !decode(w, r, &req) {
		return
	}

	b, err := h.squads.UpdatePlayerReady(r.Context(), claims.Code, claims.Name, req.Ready)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Start handles POST /v1/squads/{code}/start; the service checks that the
// caller is the current host
func (h *SquadHandler) Start(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if err := h.squads.StartSquadBattle(r.Context(), claims.Code, claims.Name); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// End handles POST /v1/squads/{code}/end
func (h *SquadHandler) End(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if err := h.squads.EndSquadBattle(r.Context(), claims.Code); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// SquadScoreRequest is the request body for a squad score update
type SquadScoreRequest struct {
	Score  int `json:"score"`
	Streak int `json:"streak"`
}

// Score handles PUT /v1/squads/{code}/score
func (h *SquadHandler) Score(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())

	var req SquadScoreRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Score < 0 || req.Streak < 0 {
		writeError(w, http.StatusBadRequest, "invalid score")
		return
	}

	p, err := h.squads.UpdateSquadPlayerScore(r.Context(), claims.Code, claims.Name, req.Score, req.Streak)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Eliminate handles POST /v1/squads/{code}/eliminate. Players only ever
// knock themselves out.
func (h *SquadHandler) Eliminate(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	p, err := h.squads.EliminatePlayer(r.Context(), claims.Code, claims.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
