package rpc

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/alphabill-org/linmem/instance"
	"github.com/alphabill-org/linmem/journal"
)

type journalResponse struct {
	LastSeq uint64          `json:"last_seq" cbor:"last_seq"`
	Run     uint64          `json:"run" cbor:"run"`
	Events  []journal.Event `json:"events" cbor:"events"`
}

/*
JournalEndpoints registers endpoint returning the recorded memory growth
events. Optional query parameter "instance" limits the events to single
instance of the current run, or of the run given by the "run" parameter.
*/
func JournalEndpoints(j *journal.Journal, log *slog.Logger) RegistrarFunc {
	return func(r *mux.Router) {
		r.HandleFunc("/journal", getJournal(j, log)).Methods(http.MethodGet, http.MethodOptions)
	}
}

func getJournal(j *journal.Journal, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var events []journal.Event
		var err error
		if id := r.URL.Query().Get("instance"); id != "" {
			h, perr := instance.ParseHandle(id)
			if perr != nil {
				writeError(w, r, badRequest(perr), log)
				return
			}
			run := j.Run()
			if rs := r.URL.Query().Get("run"); rs != "" {
				if run, perr = strconv.ParseUint(rs, 10, 64); perr != nil {
					writeError(w, r, badRequest(fmt.Errorf("invalid run number: %w", perr)), log)
					return
				}
			}
			events, err = j.RunEvents(run, h.ID())
		} else {
			events, err = j.All()
		}
		if err != nil {
			writeError(w, r, err, log)
			return
		}
		if events == nil {
			events = []journal.Event{}
		}
		writeResponse(w, r, http.StatusOK, journalResponse{LastSeq: j.LastSeq(), Run: j.Run(), Events: events}, log)
	}
}
