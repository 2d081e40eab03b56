package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"serial-allocator/admission/application"
	"serial-allocator/admission/domain"
	"serial-allocator/admission/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	srv     *Server
	locker  *infra.MemoryLocker
	ledger  *infra.MemoryLedger
	queue   *infra.MemoryQueue
	handler http.Handler
}

// newTestServer monta um deployment com uma única estratégia; distributed
// também liga as rotas assíncronas sobre o mesmo contador.
func newTestServer(t *testing.T, strategy string, capacity int64) *testServer {
	t.Helper()
	locker := infra.NewMemoryLocker()
	ledger := infra.NewMemoryLedger()
	queue := infra.NewMemoryQueue(5 * time.Millisecond)
	srv := &Server{
		Strategy: strategy,
		Lookup:   infra.NewStaticLookup(domain.Resource{ID: 5, DoctorID: 1, HospitalID: 2, Capacity: capacity}),
	}
	switch strategy {
	case application.StrategyTransactional:
		srv.Booker = &application.TransactionalSequencer{Store: ledger}
	case application.StrategyDistributed:
		seq := &application.DistributedSequencer{
			Locker:  locker,
			Counter: infra.NewMemoryCounterStore(),
			MaxWait: 20 * time.Millisecond,
		}
		srv.Booker = &application.InlineBooker{Sequencer: seq, Persister: ledger}
		srv.Dispatcher = &application.Dispatcher{
			Sequencer: seq,
			Queue:     queue,
			Status:    infra.NewMemoryStatusTracker(time.Hour),
		}
	default:
		t.Fatalf("unknown strategy %q", strategy)
	}
	return &testServer{srv: srv, locker: locker, ledger: ledger, queue: queue, handler: srv.Router()}
}

func (ts *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, "http://example"+path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

const validBody = `{"doctorId":1,"hospitalId":2,"patientId":77,"appointmentDate":"2024-01-01","notes":"first visit"}`

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), "body: %s", w.Body.String())
	return m
}

func TestHandler_BookTransactional(t *testing.T) {
	ts := newTestServer(t, application.StrategyTransactional, 2)

	w := ts.do(http.MethodPost, "/api/appointments/", validBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.EqualValues(t, 1, body["serialNumber"])
	assert.EqualValues(t, "transactional", body["strategy"])
	assert.NotZero(t, body["appointmentId"])

	recs := ts.ledger.Records(domain.NewKey(5, domain.Date{Year: 2024, Month: time.January, Day: 1}))
	require.Len(t, recs, 1)
	assert.JSONEq(t, `{"patientId":77,"notes":"first visit"}`, string(recs[0].Payload))
}

func TestHandler_BookDistributed(t *testing.T) {
	ts := newTestServer(t, application.StrategyDistributed, 2)

	w := ts.do(http.MethodPost, "/api/appointments/", validBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.EqualValues(t, "distributed", decodeBody(t, w)["strategy"])
}

func TestHandler_SyncAndAsyncShareCapacity(t *testing.T) {
	ts := newTestServer(t, application.StrategyDistributed, 2)

	w := ts.do(http.MethodPost, "/api/appointments/", validBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decodeBody(t, w)["serialNumber"])

	w = ts.do(http.MethodPost, "/api/appointments/async", validBody)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.EqualValues(t, 2, decodeBody(t, w)["serialNumber"])

	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/api/appointments/", validBody).Code)
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/api/appointments/async", validBody).Code)
}

func TestHandler_TransactionalDeploymentHasNoAsync(t *testing.T) {
	ts := newTestServer(t, application.StrategyTransactional, 1)

	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/appointments/", validBody).Code)
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodPost, "/api/appointments/async", validBody).Code)
	// o header antigo não troca o contador usado
	w := ts.do(http.MethodPost, "/api/appointments/", validBody, "X-Allocation-Strategy", "distributed")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_CapacityReachedIsConflict(t *testing.T) {
	ts := newTestServer(t, application.StrategyTransactional, 1)

	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/appointments/", validBody).Code)
	w := ts.do(http.MethodPost, "/api/appointments/", validBody)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "Daily patient limit reached")
}

func TestHandler_LockTimeoutIsRetryable(t *testing.T) {
	ts := newTestServer(t, application.StrategyDistributed, 10)
	held, err := ts.locker.TryAcquire(context.Background(), domain.NewKey(5, domain.Date{Year: 2024, Month: time.January, Day: 1}), time.Second)
	require.NoError(t, err)
	defer held.Release(context.Background())

	w := ts.do(http.MethodPost, "/api/appointments/", validBody)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestHandler_BadRequests(t *testing.T) {
	ts := newTestServer(t, application.StrategyTransactional, 10)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"missing doctor", `{"hospitalId":2,"appointmentDate":"2024-01-01"}`, http.StatusBadRequest},
		{"bad date", `{"doctorId":1,"hospitalId":2,"appointmentDate":"01/01/2024"}`, http.StatusBadRequest},
		{"unknown doctor", `{"doctorId":9,"hospitalId":9,"appointmentDate":"2024-01-01"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := ts.do(http.MethodPost, "/api/appointments/", tc.body)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}
}

func TestHandler_PersistenceFailureHidesDetails(t *testing.T) {
	ts := newTestServer(t, application.StrategyDistributed, 10)
	failing := infra.NewMemoryLedger(infra.WithPersistHook(func(domain.Record) error {
		return errors.New("pq: password authentication failed")
	}))
	inline := ts.srv.Booker.(*application.InlineBooker)
	inline.Persister = failing

	w := ts.do(http.MethodPost, "/api/appointments/", validBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestHandler_AsyncFlow(t *testing.T) {
	ts := newTestServer(t, application.StrategyDistributed, 1)

	w := ts.do(http.MethodPost, "/api/appointments/async", validBody)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decodeBody(t, w)
	ref, _ := body["reference"].(string)
	require.NotEmpty(t, ref)
	assert.EqualValues(t, 1, body["serialNumber"])
	assert.Equal(t, "/api/appointments/status/"+ref, body["statusUrl"])

	st := ts.do(http.MethodGet, fmt.Sprintf("/api/appointments/status/%s", ref), "")
	require.Equal(t, http.StatusOK, st.Code)
	assert.Equal(t, "pending", decodeBody(t, st)["state"])

	again := ts.do(http.MethodPost, "/api/appointments/async", validBody)
	assert.Equal(t, http.StatusConflict, again.Code)

	ready, _ := ts.queue.Depth()
	assert.Equal(t, 1, ready)
}

func TestHandler_StatusUnknownIsNotFound(t *testing.T) {
	ts := newTestServer(t, application.StrategyDistributed, 1)
	w := ts.do(http.MethodGet, "/api/appointments/status/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown", decodeBody(t, w)["state"])
}

func TestHandler_AsyncDisabled(t *testing.T) {
	ts := newTestServer(t, application.StrategyDistributed, 1)
	ts.srv.Dispatcher = nil
	h := ts.srv.Router()

	r := httptest.NewRequest(http.MethodPost, "http://example/api/appointments/async", strings.NewReader(validBody))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandler_Health(t *testing.T) {
	ts := newTestServer(t, application.StrategyDistributed, 1)
	ts.srv.Health = []HealthCheck{
		{Name: "redis", Check: func(context.Context) error { return nil }},
	}
	w := httptest.NewRecorder()
	ts.srv.HealthHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	ts.srv.Health = append(ts.srv.Health, HealthCheck{Name: "postgres", Check: func(context.Context) error { return errors.New("down") }})
	w = httptest.NewRecorder()
	ts.srv.HealthHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"redis": "ok", "postgres": "down"}, body["checks"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(fmt.Errorf("x: %w", domain.ErrNotFound)))
	assert.Equal(t, http.StatusConflict, StatusFor(domain.ErrCapacityExceeded))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(domain.ErrLockTimeout))
	assert.Equal(t, http.StatusGatewayTimeout, StatusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(domain.ErrPersistence))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(domain.ErrDispatch))
}
