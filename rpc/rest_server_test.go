package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	testlogr "github.com/alphabill-org/linmem/internal/testutils/logger"
	"github.com/alphabill-org/linmem/internal/testutils/observability"
	"github.com/alphabill-org/linmem/instance"
	"github.com/alphabill-org/linmem/journal"
	"github.com/alphabill-org/linmem/keyvaluedb/memorydb"
	"github.com/alphabill-org/linmem/memory"
	"github.com/alphabill-org/linmem/trap"
)

type testServer struct {
	handler http.Handler
	store   *instance.Store
	journal *journal.Journal
	obs     *observability.Observability
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	obs := observability.Default(t)
	j, err := journal.New(memorydb.New())
	require.NoError(t, err)
	store, err := instance.NewStore(instance.WithLogger(testlogr.New(t)), instance.WithJournal(j))
	require.NoError(t, err)

	srv := NewRESTServer("", 1<<16, obs, obs.Logger(),
		InstanceEndpoints(store, obs.Logger()),
		JournalEndpoints(j, obs.Logger()),
	)
	return &testServer{handler: srv.Handler, store: store, journal: j, obs: obs}
}

func (ts *testServer) do(t *testing.T, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(headerContentType, applicationJson)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	require.Equal(t, applicationJson, rec.Header().Get(headerContentType))
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

func TestRESTServer_instances(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/instances", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decodeJSON[[]instanceInfo](t, rec))

	rec = ts.do(t, http.MethodPost, "/api/v1/instances", `{"name":"first","limits":{"min":1,"max":2}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	info := decodeJSON[instanceInfo](t, rec)
	require.Equal(t, instanceInfo{Handle: "0.1", Name: "first", Limits: memory.Limits{Min: 1, Max: 2}, Pages: 1, Bytes: memory.PageSize}, info)

	rec = ts.do(t, http.MethodGet, "/api/v1/instances/0.1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, info, decodeJSON[instanceInfo](t, rec))

	rec = ts.do(t, http.MethodGet, "/api/v1/instances", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []instanceInfo{info}, decodeJSON[[]instanceInfo](t, rec))

	rec = ts.do(t, http.MethodPost, "/api/v1/instances", `{"name":"bad","limits":{"min":3,"max":2}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, errorResponse{Message: "invalid memory limits: minimum 3 pages is greater than maximum 2 pages"}, decodeJSON[errorResponse](t, rec))

	rec = ts.do(t, http.MethodPost, "/api/v1/instances", `{"name":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/instances/5.1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, errorResponse{Message: "invalid module: unknown instance 5.1", Trap: trap.InvalidModule}, decodeJSON[errorResponse](t, rec))

	rec = ts.do(t, http.MethodGet, "/api/v1/instances/first", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeJSON[errorResponse](t, rec).Message, "invalid instance handle")

	rec = ts.do(t, http.MethodDelete, "/api/v1/instances/0.1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/instances/0.1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/v1/instances/0.1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRESTServer_grow(t *testing.T) {
	ts := newTestServer(t)
	h, err := ts.store.Instantiate(context.Background(), "grow", memory.Limits{Max: 2})
	require.NoError(t, err)
	growPath := "/api/v1/instances/" + h.String() + "/grow"

	rec := ts.do(t, http.MethodPost, growPath, `{"delta":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, growResponse{}, decodeJSON[growResponse](t, rec))

	rec = ts.do(t, http.MethodPost, growPath, `{"delta":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, growResponse{PreviousPages: 0, Pages: 1}, decodeJSON[growResponse](t, rec))

	rec = ts.do(t, http.MethodPost, growPath, `{"delta":2}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rsp := decodeJSON[errorResponse](t, rec)
	require.Equal(t, trap.MemoryOutOfBounds, rsp.Trap)
	require.Equal(t, "memory access out of bounds: from 1 to 3 pages, maximum is 2", rsp.Message)

	rec = ts.do(t, http.MethodPost, growPath, `{"delta":1}`, headerAccept, applicationCBOR)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, applicationCBOR, rec.Header().Get(headerContentType))
	var grsp growResponse
	require.NoError(t, cbor.Unmarshal(rec.Body.Bytes(), &grsp))
	require.Equal(t, growResponse{PreviousPages: 1, Pages: 2}, grsp)

	rec = ts.do(t, http.MethodPost, growPath, `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, errorResponse{Message: "delta is required"}, decodeJSON[errorResponse](t, rec))

	rec = ts.do(t, http.MethodPost, growPath, `{"delta":-1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/instances/1.1/grow", `{"delta":1}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, growPath, "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	// every attempt is in the journal
	rec = ts.do(t, http.MethodGet, "/api/v1/journal?instance="+h.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	jr := decodeJSON[journalResponse](t, rec)
	require.Len(t, jr.Events, 4)
	require.EqualValues(t, 5, jr.LastSeq)
	require.EqualValues(t, 1, jr.Run)
	require.True(t, jr.Events[2].Failed())

	rec = ts.do(t, http.MethodGet, "/api/v1/journal?instance="+h.String()+"&run=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeJSON[journalResponse](t, rec).Events, 4)

	// handle of this run means different instance in other runs
	rec = ts.do(t, http.MethodGet, "/api/v1/journal?instance="+h.String()+"&run=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decodeJSON[journalResponse](t, rec).Events)

	rec = ts.do(t, http.MethodGet, "/api/v1/journal?instance="+h.String()+"&run=last", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/journal", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeJSON[journalResponse](t, rec).Events, 5)

	rec = ts.do(t, http.MethodGet, "/api/v1/journal?instance=7.7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decodeJSON[journalResponse](t, rec).Events)

	rec = ts.do(t, http.MethodGet, "/api/v1/journal?instance=seven", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRESTServer_memory(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	h, err := ts.store.Instantiate(ctx, "mem", memory.Limits{Max: 2})
	require.NoError(t, err)
	memPath := "/api/v1/instances/" + h.String() + "/memory"

	rec := ts.do(t, http.MethodGet, memPath+"?offset=0&length=4", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "instance 0.1 has no memory", decodeJSON[errorResponse](t, rec).Message)

	_, err = ts.store.GrowMemory(ctx, h, 1)
	require.NoError(t, err)
	inst, err := ts.store.Instance(h)
	require.NoError(t, err)
	require.NoError(t, inst.Memory().Write(10, []byte{1, 2, 3}))

	rec = ts.do(t, http.MethodGet, memPath+"?offset=9&length=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, octetStream, rec.Header().Get(headerContentType))
	require.Equal(t, []byte{0, 1, 2, 3, 0}, rec.Body.Bytes())

	rec = ts.do(t, http.MethodGet, memPath+"?offset=65535&length=2", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, trap.MemoryOutOfBounds, decodeJSON[errorResponse](t, rec).Trap)

	for _, query := range []string{"", "?offset=0", "?offset=x&length=1", "?offset=0&length=-1", "?offset=0&length=1048577"} {
		rec = ts.do(t, http.MethodGet, memPath+query, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, "query %q", query)
	}
}

func TestRESTServer_stats(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	for _, limits := range []memory.Limits{{Min: 1, Max: 1}, {Min: 2, Max: 3}, {Max: 1}} {
		_, err := ts.store.Instantiate(ctx, "stats", limits)
		require.NoError(t, err)
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rsp := decodeJSON[map[string]any](t, rec)
	require.EqualValues(t, 3, rsp["instances"])
	require.EqualValues(t, 2, rsp["live_views"])
	require.EqualValues(t, 3*memory.PageSize, rsp["external_bytes"])

	calls, ok := ts.obs.Int64Sum(t, "calls")
	require.True(t, ok)
	require.EqualValues(t, 1, calls)
}

func TestRESTServer_notFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/unknown", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusNotFound, rec.Code, "metrics are not exported")
}

func Test_errorStatus(t *testing.T) {
	var testCases = []struct {
		err    error
		status int
	}{
		{err: trap.Raise(trap.InvalidModule, "x"), status: http.StatusNotFound},
		{err: trap.Raise(trap.MemoryOutOfBounds, "x"), status: http.StatusUnprocessableEntity},
		{err: trap.Raise(trap.AllocationFailure, "x"), status: http.StatusInsufficientStorage},
		{err: badRequest(trap.Raise(trap.AllocationFailure, "x")), status: http.StatusBadRequest},
		{err: context.Canceled, status: http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.status, errorStatus(tc.err), "error %v", tc.err)
	}
}
