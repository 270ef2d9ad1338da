package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiplymonsters/internal/cache"
	"multiplymonsters/internal/model"
	"multiplymonsters/internal/repository"
	"multiplymonsters/internal/service"
	"multiplymonsters/internal/transport/ws"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store := repository.NewGuard(repository.NewMemoryStore(nil))
	registry := cache.NewMemoryCodeRegistry()
	opts := service.DefaultOptions()
	return NewRouter(&Container{
		AuthService:    service.NewAuthService("test-secret", nil),
		SessionService: service.NewSessionService(store, registry, nil, opts),
		SquadService:   service.NewSquadService(store, registry, nil, opts),
		WSHub:          ws.NewHub(),
	})
}

func do(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func joinResponse(t *testing.T, rec *httptest.ResponseRecorder) model.JoinResponse {
	t.Helper()
	var resp model.JoinResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.Token)
	return resp
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestRouter(t), "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest("OPTIONS", "/v1/sessions", nil)
	req.Header.Set("Origin", "http://classroom.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSessionFlow(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, "POST", "/v1/sessions", "", map[string]interface{}{
		"teacherName": "Ms Park", "gameMode": "timed", "timeLimit": 45,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	teacher := joinResponse(t, rec)
	assert.Equal(t, model.RoleTeacher, teacher.Role)
	assert.Len(t, teacher.Code, 4)
	base := "/v1/sessions/" + teacher.Code

	ana := joinResponse(t, do(t, h, "POST", base+"/join", "", map[string]string{"name": "Ana"}))
	ben := joinResponse(t, do(t, h, "POST", base+"/join", "", map[string]string{"name": " Ben "}))
	assert.Equal(t, "Ben", ben.Name)
	assert.Equal(t, model.RoleStudent, ana.Role)

	rec = do(t, h, "POST", base+"/join", "", map[string]string{"name": "Ana"})
	assert.Equal(t, http.StatusConflict, rec.Code, "duplicate name")

	rec = do(t, h, "POST", base+"/start", ana.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "students cannot start")
	rec = do(t, h, "POST", base+"/start", teacher.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, "POST", base+"/start", teacher.Token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, "PUT", base+"/score", ana.Token, map[string]int{"correct": 2, "total": 3, "streak": 2})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, "PUT", base+"/score", ben.Token, map[string]int{"correct": 5, "total": 5, "streak": 5})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, "PUT", base+"/score", teacher.Token, map[string]int{"correct": 1, "total": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code, "teachers have no roster entry")
	rec = do(t, h, "PUT", base+"/score", ana.Token, map[string]int{"correct": 4, "total": 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "GET", base+"/ranking", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ranking struct {
		Ranking []model.Student `json:"ranking"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ranking))
	require.Len(t, ranking.Ranking, 2)
	assert.Equal(t, "Ben", ranking.Ranking[0].Name)

	rec = do(t, h, "POST", base+"/leave", ben.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, "GET", base, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var session model.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))
	require.Len(t, session.Students, 1)
	assert.Equal(t, model.Score{Correct: 2, Total: 3}, session.Students[0].Score)
	assert.NotNil(t, session.StartedAt)

	rec = do(t, h, "POST", base+"/end", teacher.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, "DELETE", base, teacher.Token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, "GET", base, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionErrors(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, "POST", "/v1/sessions", "", map[string]string{"teacherName": " ", "gameMode": "timed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, "POST", "/v1/sessions", "", map[string]string{"teacherName": "Ms Park", "gameMode": "blitz"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, "POST", "/v1/sessions/ZZZZ/join", "", map[string]string{"name": "Ana"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest("POST", "/v1/sessions", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthScopedToDocument(t *testing.T) {
	h := newTestRouter(t)
	first := joinResponse(t, do(t, h, "POST", "/v1/sessions", "", map[string]string{"teacherName": "Ms Park", "gameMode": "timed"}))
	second := joinResponse(t, do(t, h, "POST", "/v1/sessions", "", map[string]string{"teacherName": "Mr Lee", "gameMode": "timed"}))

	rec := do(t, h, "POST", "/v1/sessions/"+second.Code+"/start", first.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, h, "POST", "/v1/sessions/"+first.Code+"/start", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(t, h, "POST", "/v1/sessions/"+first.Code+"/start", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSquadFlow(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, "POST", "/v1/squads", "", map[string]string{"hostName": "Alex", "battleType": "survival"})
	require.Equal(t, http.StatusCreated, rec.Code)
	host := joinResponse(t, rec)
	assert.Equal(t, model.RoleHost, host.Role)
	assert.Len(t, host.Code, 3)
	base := "/v1/squads/" + host.Code

	sam := joinResponse(t, do(t, h, "POST", base+"/join", "", map[string]string{"name": "Sam"}))

	rec = do(t, h, "POST", base+"/start", host.Token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "nobody is ready")

	for _, tok := range []string{host.Token, sam.Token} {
		rec = do(t, h, "POST", base+"/ready", tok, map[string]bool{"ready": true})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec = do(t, h, "POST", base+"/start", sam.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "only the host starts")
	rec = do(t, h, "POST", base+"/start", host.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, "POST", base+"/join", "", map[string]string{"name": "Kim"})
	assert.Equal(t, http.StatusConflict, rec.Code, "battle already started")

	rec = do(t, h, "PUT", base+"/score", host.Token, map[string]int{"score": 3, "streak": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, "POST", base+"/eliminate", sam.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, "GET", base+"/ranking", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ranking struct {
		Ranking  []model.Player `json:"ranking"`
		GameOver bool           `json:"gameOver"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ranking))
	assert.True(t, ranking.GameOver)
	assert.Equal(t, "Alex", ranking.Ranking[0].Name)

	rec = do(t, h, "POST", base+"/end", host.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, "GET", base, "", nil)
	var b model.SquadBattle
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&b))
	assert.False(t, b.IsActive)
	assert.True(t, b.IsStarted)
}

func TestSquadTokenNotValidForSession(t *testing.T) {
	h := newTestRouter(t)
	host := joinResponse(t, do(t, h, "POST", "/v1/squads", "", map[string]string{"hostName": "Alex", "battleType": "quickClash"}))

	rec := do(t, h, "PUT", "/v1/sessions/"+host.Code+"X/score", host.Token, map[string]int{"correct": 1, "total": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
