package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/alphabill-org/linmem/buffer"
	"github.com/alphabill-org/linmem/instance"
	"github.com/alphabill-org/linmem/logger"
	"github.com/alphabill-org/linmem/memory"
)

// maximum number of bytes returned by the memory read endpoint
const maxReadLength = 1 << 20

type (
	instanceInfo struct {
		Handle string        `json:"handle" cbor:"handle"`
		Name   string        `json:"name" cbor:"name"`
		Limits memory.Limits `json:"limits" cbor:"limits"`
		Pages  uint32        `json:"pages" cbor:"pages"`
		Bytes  uint64        `json:"bytes" cbor:"bytes"`
	}

	growRequest struct {
		Delta *uint32 `json:"delta"`
	}

	growResponse struct {
		PreviousPages uint32 `json:"previous_pages" cbor:"previous_pages"`
		Pages         uint32 `json:"pages" cbor:"pages"`
	}

	instantiateRequest struct {
		Name   string        `json:"name"`
		Limits memory.Limits `json:"limits"`
	}

	statsResponse struct {
		Instances int `json:"instances" cbor:"instances"`
		buffer.Stats
	}
)

/*
InstanceEndpoints registers endpoints for inspecting and growing memories of
the instances in the store.
*/
func InstanceEndpoints(store *instance.Store, log *slog.Logger) RegistrarFunc {
	return func(r *mux.Router) {
		r.HandleFunc("/instances", listInstances(store, log)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc("/instances", createInstance(store, log)).Methods(http.MethodPost)
		r.HandleFunc("/instances/{id}", getInstance(store, log)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc("/instances/{id}", closeInstance(store, log)).Methods(http.MethodDelete)
		r.HandleFunc("/instances/{id}/grow", growInstance(store, log)).Methods(http.MethodPost)
		r.HandleFunc("/instances/{id}/memory", readMemory(store, log)).Methods(http.MethodGet)
		r.HandleFunc("/stats", getStats(store, log)).Methods(http.MethodGet, http.MethodOptions)
	}
}

func listInstances(store *instance.Store, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rsp := []instanceInfo{}
		for _, h := range store.Instances() {
			// instance might have been closed meanwhile
			if inst, err := store.Instance(h); err == nil {
				rsp = append(rsp, newInstanceInfo(inst))
			}
		}
		writeResponse(w, r, http.StatusOK, rsp, log)
	}
}

func createInstance(store *instance.Store, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req instantiateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, badRequest(fmt.Errorf("failed to parse request: %w", err)), log)
			return
		}
		h, err := store.Instantiate(r.Context(), req.Name, req.Limits)
		if err != nil {
			if errors.Is(err, memory.ErrInvalidLimits) {
				err = badRequest(err)
			}
			writeError(w, r, err, log)
			return
		}
		inst, err := store.Instance(h)
		if err != nil {
			writeError(w, r, err, log)
			return
		}
		writeResponse(w, r, http.StatusCreated, newInstanceInfo(inst), log)
	}
}

func getInstance(store *instance.Store, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst, err := instanceFromRequest(store, r)
		if err != nil {
			writeError(w, r, err, log)
			return
		}
		writeResponse(w, r, http.StatusOK, newInstanceInfo(inst), log)
	}
}

func closeInstance(store *instance.Store, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := handleFromRequest(r)
		if err != nil {
			writeError(w, r, err, log)
			return
		}
		if err := store.Close(r.Context(), h); err != nil {
			writeError(w, r, err, log)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func growInstance(store *instance.Store, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		h, err := handleFromRequest(r)
		if err != nil {
			writeError(w, r, err, log)
			return
		}
		var req growRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, badRequest(fmt.Errorf("failed to parse request: %w", err)), log)
			return
		}
		if req.Delta == nil {
			writeError(w, r, badRequest(errors.New("delta is required")), log)
			return
		}

		prev, err := store.GrowMemory(r.Context(), h, *req.Delta)
		if err != nil {
			writeError(w, r, err, log)
			return
		}
		writeResponse(w, r, http.StatusOK, growResponse{PreviousPages: prev, Pages: prev + *req.Delta}, log)
	}
}

/*
readMemory returns "length" bytes of the memory starting at "offset", both
are query parameters.
*/
func readMemory(store *instance.Store, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst, err := instanceFromRequest(store, r)
		if err != nil {
			writeError(w, r, err, log)
			return
		}
		query := r.URL.Query()
		offset, err := strconv.ParseUint(query.Get("offset"), 10, 64)
		if err != nil {
			writeError(w, r, badRequest(fmt.Errorf("invalid offset: %w", err)), log)
			return
		}
		length, err := strconv.ParseUint(query.Get("length"), 10, 32)
		if err != nil {
			writeError(w, r, badRequest(fmt.Errorf("invalid length: %w", err)), log)
			return
		}
		if length > maxReadLength {
			writeError(w, r, badRequest(fmt.Errorf("length %d exceeds maximum %d", length, maxReadLength)), log)
			return
		}

		view := inst.Memory()
		if view == nil {
			writeError(w, r, badRequest(fmt.Errorf("instance %s has no memory", inst.Handle())), log)
			return
		}
		data, err := view.Read(offset, uint32(length))
		if err != nil {
			if errors.Is(err, buffer.ErrDetached) {
				// memory grew meanwhile, client should retry
				err = statusError{status: http.StatusConflict, err: err}
			}
			writeError(w, r, err, log)
			return
		}
		w.Header().Set(headerContentType, octetStream)
		if _, err := w.Write(data); err != nil {
			log.WarnContext(r.Context(), "failed to write memory", logger.Error(err))
		}
	}
}

func getStats(store *instance.Store, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, r, http.StatusOK, statsResponse{
			Instances: len(store.Instances()),
			Stats:     store.Registry().Stats(),
		}, log)
	}
}

func handleFromRequest(r *http.Request) (instance.Handle, error) {
	h, err := instance.ParseHandle(mux.Vars(r)["id"])
	if err != nil {
		return h, badRequest(err)
	}
	return h, nil
}

func instanceFromRequest(store *instance.Store, r *http.Request) (*instance.Instance, error) {
	h, err := handleFromRequest(r)
	if err != nil {
		return nil, err
	}
	return store.Instance(h)
}

func newInstanceInfo(inst *instance.Instance) instanceInfo {
	pages := inst.Pages()
	return instanceInfo{
		Handle: inst.Handle().String(),
		Name:   inst.Name(),
		Limits: inst.Limits(),
		Pages:  pages,
		Bytes:  memory.PagesToBytes(pages),
	}
}
