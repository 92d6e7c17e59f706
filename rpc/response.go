package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/alphabill-org/linmem/logger"
	"github.com/alphabill-org/linmem/trap"
)

type errorResponse struct {
	Message string    `json:"message" cbor:"message"`
	Trap    trap.Code `json:"trap,omitempty" cbor:"trap,omitempty"`
}

/*
writeResponse encodes "data" as CBOR when client accepts it, as JSON otherwise.
*/
func writeResponse(w http.ResponseWriter, r *http.Request, status int, data any, log *slog.Logger) {
	if acceptsCBOR(r) {
		w.Header().Set(headerContentType, applicationCBOR)
		w.WriteHeader(status)
		if err := cbor.NewEncoder(w).Encode(data); err != nil {
			log.WarnContext(r.Context(), "failed to write CBOR response", logger.Error(err))
		}
		return
	}

	w.Header().Set(headerContentType, applicationJson)
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		log.WarnContext(r.Context(), "failed to write JSON response", logger.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error, log *slog.Logger) {
	writeResponse(w, r, errorStatus(err), errorResponse{Message: err.Error(), Trap: trap.CodeOf(err)}, log)
}

/*
errorStatus maps the error to HTTP status code, traps of the memory operators
have dedicated status codes.
*/
func errorStatus(err error) int {
	var se statusError
	switch {
	case errors.As(err, &se):
		return se.status
	case errors.Is(err, trap.ErrInvalidModule):
		return http.StatusNotFound
	case errors.Is(err, trap.ErrMemoryOutOfBounds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, trap.ErrAllocationFailure):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// statusError is an error with explicit HTTP status.
type statusError struct {
	status int
	err    error
}

func (e statusError) Error() string { return e.err.Error() }

func (e statusError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return statusError{status: http.StatusBadRequest, err: err}
}

func acceptsCBOR(r *http.Request) bool {
	for _, v := range r.Header.Values(headerAccept) {
		if strings.Contains(v, applicationCBOR) {
			return true
		}
	}
	return false
}
