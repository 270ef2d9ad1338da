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

// SessionHandler handles classroom session endpoints
type SessionHandler struct {
	sessions *service.SessionService
	authSvc  *service.AuthService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *service.SessionService, authSvc *service.AuthService) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		authSvc:  authSvc,
	}
}

// CreateSessionRequest is the request body for creating a session
type CreateSessionRequest struct {
	TeacherName string         `json:"teacherName"`
	GameMode    model.GameMode `json:"gameMode"`
	TimeLimit   int            `json:"timeLimit,omitempty"`
}

// Create handles POST /v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decode(w, r, &req) {
		return
	}

	code, err := h.sessions.CreateSession(r.Context(), req.TeacherName, req.GameMode, req.TimeLimit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.authSvc.IssueToken(model.CollectionSessions, code, strings.TrimSpace(req.TeacherName), model.RoleTeacher)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// JoinRequest is the request body for joining a session or squad battle
type JoinRequest struct {
	Name string `json:"name"`
}

// Join handles POST /v1/sessions/{code}/join
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req JoinRequest
	if !decode(w, r, &req) {
		return
	}
	name := req.Name

	if _, err := h.sessions.JoinSession(r.Context(), code, name); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.authSvc.IssueToken(model.CollectionSessions, code, name, model.RoleStudent)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /v1/sessions/{code}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetSession(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// Ranking handles GET /v1/sessions/{code}/ranking
func (h *SessionHandler) Ranking(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetSession(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ranking": battle.RankStudents(session.Students)})
}

// Leave handles POST /v1/sessions/{code}/leave
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if err := h.sessions.LeaveSession(r.Context(), claims.Code, claims.Name); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// Start handles POST /v1/sessions/{code}/start
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if err := h.sessions.StartSession(r.Context(), code); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// End handles POST /v1/sessions/{code}/end
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if err := h.sessions.EndSession(r.Context(), code); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// Delete handles DELETE /v1/sessions/{code}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if err := h.sessions.DeleteSession(r.Context(), code); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ScoreRequest is the request body for a student score update
type ScoreRequest struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
	Streak  int `json:"streak"`
}

// Score handles PUT /v1/sessions/{code}/score
func (h *SessionHandler) Score(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())

	var req ScoreRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Correct < 0 || req.Total < req.Correct || req.Streak < 0 {
		writeError(w, http.StatusBadRequest, "invalid score")
		return
	}

	student, err := h.sessions.UpdateStudentScore(r.Context(), claims.Code, claims.Name,
		model.Score{Correct: req.Correct, Total: req.Total}, req.Streak)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, student)
}

// ReadyRequest is the request body for a readiness update
type ReadyRequest struct {
	Ready bool `json:"ready"`
}

// Ready handles PUT /v1/sessions/{code}/ready
func (h *SessionHandler) Ready(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())

	var req ReadyRequest
	if !decode(w, r, &req) {
		return
	}

	student, err := h.sessions.SetStudentReady(r.Context(), claims.Code, claims.Name, req.Ready)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, student)
}
