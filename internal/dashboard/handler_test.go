package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jayms/healthsync/internal/healthdata"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type storeMock struct {
	records []map[string]string
	rawCSV  []byte
	err     error

	lastNRequested int
}

func (m *storeMock) Record(date string) (map[string]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, r := range m.records {
		if r["date"] == date {
			return r, nil
		}
	}
	return nil, healthdata.ErrNoRecords
}

func (m *storeMock) Records(lastN int) ([]map[string]string, error) {
	m.lastNRequested = lastN
	if m.err != nil {
		return nil, m.err
	}
	if len(m.records) == 0 {
		return nil, healthdata.ErrNoRecords
	}
	return m.records, nil
}

func (m *storeMock) RawCSV() ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.rawCSV == nil {
		return nil, healthdata.ErrNoRecords
	}
	return m.rawCSV, nil
}

type syncerMock struct {
	syncedDates []string
	catchUps    int
	err         error
}

func (m *syncerMock) SyncDate(_ context.Context, date time.Time) (healthdata.DailyRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	dateStr := date.Format("2006-01-02")
	m.syncedDates = append(m.syncedDates, dateStr)
	return healthdata.DailyRecord{"date": dateStr}, nil
}

func (m *syncerMock) SyncCatchUp(context.Context) error {
	if m.err != nil {
		return m.err
	}
	m.catchUps++
	return nil
}

type backupMock struct {
	calls int
	err   error
}

func (m *backupMock) BackupNow(context.Context) error {
	if m.err != nil {
		return m.err
	}
	m.calls++
	return nil
}

func testRouter(store *storeMock, syncer *syncerMock, backups BackupTrigger) *mux.Router {
	handler := NewHandler(store, syncer, backups, "v1.test")
	router := mux.NewRouter()
	handler.SetupRoutes(router)
	return router
}

func doRequest(router *mux.Router, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandler_Root(t *testing.T) {
	router := testRouter(&storeMock{}, &syncerMock{}, nil)
	rr := doRequest(router, "GET", "/")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "I'm fine, thanks ;)", rr.Body.String())
}

func TestHandler_Version(t *testing.T) {
	router := testRouter(&storeMock{}, &syncerMock{}, nil)
	rr := doRequest(router, "GET", "/version")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "v1.test", rr.Body.String())
}

func TestHandler_GetStats(t *testing.T) {
	store := &storeMock{records: []map[string]string{
		{"date": "2025-05-10", "totalSteps": "8000"},
		{"date": "2025-05-11", "totalSteps": "10000"},
	}}
	router := testRouter(store, &syncerMock{}, nil)

	rr := doRequest(router, "GET", "/api/stats?days=2")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, store.lastNRequested)

	var records []map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "8000", records[0]["totalSteps"])
}

func TestHandler_GetStats_Empty(t *testing.T) {
	router := testRouter(&storeMock{}, &syncerMock{}, nil)
	rr := doRequest(router, "GET", "/api/stats")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]", rr.Body.String())
}

func TestHandler_GetStats_BadDays(t *testing.T) {
	router := testRouter(&storeMock{}, &syncerMock{}, nil)
	rr := doRequest(router, "GET", "/api/stats?days=nope")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandler_GetStatsForDate(t *testing.T) {
	store := &storeMock{records: []map[string]string{
		{"date": "2025-05-10", "totalSteps": "8000"},
	}}
	router := testRouter(store, &syncerMock{}, nil)

	rr := doRequest(router, "GET", "/api/stats/2025-05-10")
	require.Equal(t, http.StatusOK, rr.Code)

	var record map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &record))
	assert.Equal(t, "8000", record["totalSteps"])

	rr = doRequest(router, "GET", "/api/stats/2025-05-12")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doRequest(router, "GET", "/api/stats/not-a-date")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandler_GetStatsCSV(t *testing.T) {
	store := &storeMock{rawCSV: []byte("date,totalSteps\n2025-05-10,8000\n")}
	router := testRouter(store, &syncerMock{}, nil)

	rr := doRequest(router, "GET", "/api/stats/csv")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "2025-05-10,8000")
}

func TestHandler_GetSummary(t *testing.T) {
	store := &storeMock{records: []map[string]string{
		{"date": "2025-05-10", "totalSteps": "8000"},
	}}
	router := testRouter(store, &syncerMock{}, nil)

	rr := doRequest(router, "GET", "/api/summary")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, defaultSummaryDays, store.lastNRequested)
	assert.Contains(t, rr.Body.String(), "2025-05-10")
}

func TestHandler_Sync(t *testing.T) {
	syncer := &syncerMock{}
	router := testRouter(&storeMock{}, syncer, nil)

	rr := doRequest(router, "POST", "/api/sync")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "sync:done", rr.Body.String())
	assert.Equal(t, 1, syncer.catchUps)
}

func TestHandler_SyncDate(t *testing.T) {
	syncer := &syncerMock{}
	router := testRouter(&storeMock{}, syncer, nil)

	rr := doRequest(router, "POST", "/api/sync/2025-05-10")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "sync:done:2025-05-10", rr.Body.String())
	assert.Equal(t, []string{"2025-05-10"}, syncer.syncedDates)

	rr = doRequest(router, "POST", "/api/sync/garbage")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandler_SyncFails(t *testing.T) {
	syncer := &syncerMock{err: errors.New("api down")}
	router := testRouter(&storeMock{}, syncer, nil)

	rr := doRequest(router, "POST", "/api/sync")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	rr = doRequest(router, "POST", "/api/sync/2025-05-10")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHandler_Backup(t *testing.T) {
	backups := &backupMock{}
	router := testRouter(&storeMock{}, &syncerMock{}, backups)

	rr := doRequest(router, "POST", "/api/backup")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "backup:done", rr.Body.String())
	assert.Equal(t, 1, backups.calls)
}

func TestHandler_Backup_NotConfigured(t *testing.T) {
	router := testRouter(&storeMock{}, &syncerMock{}, nil)
	rr := doRequest(router, "POST", "/api/backup")
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}
