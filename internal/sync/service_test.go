package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jayms/healthsync/internal/healthdata"
	"github.com/jayms/healthsync/internal/telemetry/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type apiMock struct {
	stats    healthdata.Payload
	sleep    healthdata.Payload
	hrv      healthdata.Payload
	statsErr error
	sleepErr error
	hrvErr   error

	statsCalls []string
}

func (m *apiMock) GetStatsAndBody(_ context.Context, date string) (healthdata.Payload, error) {
	m.statsCalls = append(m.statsCalls, date)
	return m.stats, m.statsErr
}

func (m *apiMock) GetSleepData(context.Context, string) (healthdata.Payload, error) {
	return m.sleep, m.sleepErr
}

func (m *apiMock) GetHRVData(context.Context, string) (healthdata.Payload, error) {
	return m.hrv, m.hrvErr
}

type storeMock struct {
	merged     []healthdata.DailyRecord
	archived   []healthdata.DailyRecord
	rawDumps   []string
	mergeErr   error
	archiveErr error
}

func (m *storeMock) Merge(_ context.Context, record healthdata.DailyRecord) error {
	if m.mergeErr != nil {
		return m.mergeErr
	}
	m.merged = append(m.merged, record)
	return nil
}

func (m *storeMock) Archive(_ context.Context, record healthdata.DailyRecord) error {
	if m.archiveErr != nil {
		return m.archiveErr
	}
	m.archived = append(m.archived, record)
	return nil
}

func (m *storeMock) DumpRaw(date string, _ map[string]healthdata.Payload) error {
	m.rawDumps = append(m.rawDumps, date)
	return nil
}

type downloaderMock struct {
	dates      []string
	downloaded int
	err        error
}

func (m *downloaderMock) DownloadForDate(_ context.Context, date string) (int, error) {
	m.dates = append(m.dates, date)
	return m.downloaded, m.err
}

func newTestService(api *apiMock, store *storeMock, downloader *downloaderMock) (*Service, *metrics.Manager) {
	m := metrics.NewTestManager()
	var dl activityDownloader
	if downloader != nil {
		dl = downloader
	}
	s := &Service{
		api:        api,
		store:      store,
		downloader: dl,
		normalizer: healthdata.NewNormalizer(),
		metrics:    m,
		syncHour:   6,
		now:        time.Now,
	}
	return s, m
}

func syncTestDate(t *testing.T) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", "2025-05-10")
	require.NoError(t, err)
	return d
}

func TestSyncDate(t *testing.T) {
	api := &apiMock{
		stats: healthdata.Payload{"totalSteps": float64(8000), "weight": float64(79000)},
		sleep: healthdata.Payload{
			"dailySleepDTO": map[string]any{"sleepTimeSeconds": float64(28800)},
		},
		hrv: healthdata.Payload{
			"hrvSummary": map[string]any{"lastNightAvg": float64(52)},
		},
	}
	store := &storeMock{}
	downloader := &downloaderMock{downloaded: 2}
	s, m := newTestService(api, store, downloader)

	record, err := s.SyncDate(context.Background(), syncTestDate(t))
	require.NoError(t, err)

	assert.Equal(t, "2025-05-10", record.Date())
	assert.Equal(t, float64(8000), record["totalSteps"])
	assert.Equal(t, float64(79000), record["weightInGrams"])
	assert.Equal(t, float64(28800), record["sleepTimeSeconds"])
	assert.Equal(t, float64(52), record["lastNightAvgHrv"])

	require.Len(t, store.merged, 1)
	require.Len(t, store.archived, 1)
	assert.Equal(t, []string{"2025-05-10"}, store.rawDumps)
	assert.Equal(t, []string{"2025-05-10"}, downloader.dates)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CounterSyncRuns))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CounterSyncErrors))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CounterRecordsMerged))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CounterArchivesWritten))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CounterActivityDownloads))
}

func TestSyncDate_StatsFetchFails(t *testing.T) {
	api := &apiMock{statsErr: errors.New("api down")}
	store := &storeMock{}
	s, m := newTestService(api, store, nil)

	_, err := s.SyncDate(context.Background(), syncTestDate(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api down")

	assert.Empty(t, store.merged)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CounterSyncErrors))
}

func TestSyncDate_SleepAndHRVFailuresTolerated(t *testing.T) {
	api := &apiMock{
		stats:    healthdata.Payload{"totalSteps": float64(8000)},
		sleepErr: errors.New("sleep api down"),
		hrvErr:   errors.New("hrv api down"),
	}
	store := &storeMock{}
	s, _ := newTestService(api, store, nil)

	record, err := s.SyncDate(context.Background(), syncTestDate(t))
	require.NoError(t, err)

	assert.Equal(t, float64(8000), record["totalSteps"])
	_, found := record["sleepTimeSeconds"]
	assert.False(t, found)
	require.Len(t, store.merged, 1)
}

func TestSyncDate_MergeFails(t *testing.T) {
	api := &apiMock{stats: healthdata.Payload{}}
	store := &storeMock{mergeErr: errors.New("disk full")}
	s, m := newTestService(api, store, nil)

	_, err := s.SyncDate(context.Background(), syncTestDate(t))
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CounterSyncErrors))
}

func TestSyncDate_ArchiveFailureNonFatal(t *testing.T) {
	api := &apiMock{stats: healthdata.Payload{}}
	store := &storeMock{archiveErr: errors.New("archive broken")}
	s, m := newTestService(api, store, nil)

	_, err := s.SyncDate(context.Background(), syncTestDate(t))
	require.NoError(t, err)
	require.Len(t, store.merged, 1)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CounterArchivesWritten))
}

func TestSyncCatchUp(t *testing.T) {
	api := &apiMock{stats: healthdata.Payload{}}
	store := &storeMock{}
	s, _ := newTestService(api, store, nil)

	fixedNow, err := time.Parse("2006-01-02", "2025-05-11")
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }

	require.NoError(t, s.SyncCatchUp(context.Background()))
	assert.Equal(t, []string{"2025-05-10", "2025-05-11"}, api.statsCalls)
	require.Len(t, store.merged, 2)
}
