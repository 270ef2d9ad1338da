package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"multiplymonsters/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps a service or store failure to its HTTP status
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidName),
		errors.Is(err, service.ErrInvalidGameMode),
		errors.Is(err, service.ErrInvalidBattleType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrAccessDenied),
		errors.Is(err, service.ErrNotHost),
		errors.Is(err, service.ErrNotParticipant):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrDuplicateName),
		errors.Is(err, service.ErrCapacityExceeded),
		errors.Is(err, service.ErrInactiveSession),
		errors.Is(err, service.ErrAlreadyStarted),
		errors.Is(err, service.ErrPlayersNotReady),
		errors.Is(err, service.ErrNotEnoughPlayers):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrUnavailable),
		errors.Is(err, service.ErrCodesExhausted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decode reads a JSON body into v, answering 400 itself on failure
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
