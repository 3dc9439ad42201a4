package garmin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jayms/healthsync/internal/healthdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// httptest servers keep idle conns around for a moment
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func writeTestToken(t *testing.T, expiresAt int64) string {
	t.Helper()
	dir := t.TempDir()
	token := map[string]any{
		"access_token": "test-access-token",
		"token_type":   "Bearer",
		"expires_at":   expiresAt,
	}
	data, err := json.Marshal(token)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "oauth2_token.json"), data, 0o600))
	return dir
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	session, err := LoadSession(writeTestToken(t, time.Now().Add(time.Hour).Unix()))
	require.NoError(t, err)
	return session
}

func TestLoadSession(t *testing.T) {
	session := newTestSession(t)
	assert.Equal(t, "Bearer test-access-token", session.AuthHeader())
	assert.False(t, session.Expired())

	_, err := LoadSession(t.TempDir())
	assert.Error(t, err)
}

func TestSession_Expired(t *testing.T) {
	session, err := LoadSession(writeTestToken(t, time.Now().Add(-time.Hour).Unix()))
	require.NoError(t, err)
	assert.True(t, session.Expired())
}

func TestClient_GetStatsAndBody(t *testing.T) {
	var requests int
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "Bearer test-access-token", r.Header.Get("Authorization"))
		assert.Equal(t, statsPath, r.URL.Path)
		assert.Equal(t, "2025-05-10", r.URL.Query().Get("calendarDate"))
		w.Write([]byte(`{"totalSteps": 8000, "restingHeartRate": 55}`))
	}))
	defer testServer.Close()

	client := NewClient(testServer.URL, newTestSession(t), testServer.Client())

	payload, err := client.GetStatsAndBody(t.Context(), "2025-05-10")
	require.NoError(t, err)
	assert.Equal(t, float64(8000), payload["totalSteps"])

	// second call for the same date comes from the cache
	payload, err = client.GetStatsAndBody(t.Context(), "2025-05-10")
	require.NoError(t, err)
	assert.Equal(t, float64(8000), payload["totalSteps"])
	assert.Equal(t, 1, requests)
}

func TestClient_GetSleepAndHRV(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == sleepPath:
			assert.Equal(t, "2025-05-10", r.URL.Query().Get("date"))
			w.Write([]byte(`{"dailySleepDTO": {"sleepTimeSeconds": 28800}}`))
		case r.URL.Path == hrvPath+"/2025-05-10":
			w.Write([]byte(`{"hrvSummary": {"weeklyAvg": 48}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer testServer.Close()

	client := NewClient(testServer.URL, newTestSession(t), testServer.Client())

	sleep, err := client.GetSleepData(t.Context(), "2025-05-10")
	require.NoError(t, err)
	dto, ok := sleep["dailySleepDTO"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(28800), dto["sleepTimeSeconds"])

	hrv, err := client.GetHRVData(t.Context(), "2025-05-10")
	require.NoError(t, err)
	summary, ok := hrv["hrvSummary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(48), summary["weeklyAvg"])
}

func TestClient_ErrorStatus(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer testServer.Close()

	client := NewClient(testServer.URL, newTestSession(t), testServer.Client())

	_, err := client.GetStatsAndBody(t.Context(), "2025-05-10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestClient_ExpiredToken(t *testing.T) {
	session, err := LoadSession(writeTestToken(t, time.Now().Add(-time.Hour).Unix()))
	require.NoError(t, err)

	client := NewClient("http://localhost:1", session, http.DefaultClient)
	_, err = client.GetStatsAndBody(t.Context(), "2025-05-10")
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestClient_GetActivities(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, activitiesPath, r.URL.Path)
		assert.Equal(t, "0", r.URL.Query().Get("start"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`[{"activityId": 123, "startTimeLocal": "2025-05-10 07:30:15"}]`))
	}))
	defer testServer.Close()

	client := NewClient(testServer.URL, newTestSession(t), testServer.Client())

	activities, err := client.GetActivities(t.Context(), 0, 5)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, float64(123), activities[0]["activityId"])
}

func TestClient_DownloadActivity(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, downloadPath+"/tcx/activity/123", r.URL.Path)
		w.Write([]byte("<TrainingCenterDatabase/>"))
	}))
	defer testServer.Close()

	client := NewClient(testServer.URL, newTestSession(t), testServer.Client())

	data, err := client.DownloadActivity(t.Context(), "123", "TCX")
	require.NoError(t, err)
	assert.Equal(t, "<TrainingCenterDatabase/>", string(data))
}

func TestActivityFileName(t *testing.T) {
	details := healthdata.Payload{
		"activityName":   "Morning Run",
		"startTimeLocal": "2025-05-10T07:30:15.0",
		"activityType":   map[string]any{"typeKey": "running"},
	}
	name := ActivityFileName(details, "123", "tcx")
	assert.Equal(t, "2025-05-10_073015_running_Morning_Run_123.tcx", name)
}

func TestActivityFileName_SummaryStartTime(t *testing.T) {
	details := healthdata.Payload{
		"summaryDTO": map[string]any{
			"startTimeLocal": "2025-05-10T18:00:00.0",
		},
	}
	name := ActivityFileName(details, "77", "gpx")
	assert.Equal(t, "2025-05-10_180000_77.gpx", name)
}

func TestActivityFileName_GenericTypeOmitted(t *testing.T) {
	details := healthdata.Payload{
		"startTimeLocal": "2025-05-10T07:30:15.0",
		"activityType":   map[string]any{"typeKey": "activity"},
	}
	name := ActivityFileName(details, "9", "tcx")
	assert.Equal(t, "2025-05-10_073015_9.tcx", name)
}
