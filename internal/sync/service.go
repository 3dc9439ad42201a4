package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jayms/healthsync/internal/healthdata"
	"github.com/jayms/healthsync/internal/telemetry/metrics"
	"github.com/jayms/healthsync/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

type wellnessApi interface {
	GetStatsAndBody(ctx context.Context, date string) (healthdata.Payload, error)
	GetSleepData(ctx context.Context, date string) (healthdata.Payload, error)
	GetHRVData(ctx context.Context, date string) (healthdata.Payload, error)
}

type recordStore interface {
	Merge(ctx context.Context, record healthdata.DailyRecord) error
	Archive(ctx context.Context, record healthdata.DailyRecord) error
	DumpRaw(date string, payloads map[string]healthdata.Payload) error
}

type activityDownloader interface {
	DownloadForDate(ctx context.Context, date string) (int, error)
}

// Service runs the daily health data sync: fetch the raw payloads,
// collapse them into one record, merge it into the stats store, write
// the per-date archive, and pull down the day's activity files.
type Service struct {
	api        wellnessApi
	store      recordStore
	downloader activityDownloader
	normalizer *healthdata.Normalizer
	metrics    *metrics.Manager
	syncHour   int

	now func() time.Time
}

func NewService(
	api wellnessApi,
	store recordStore,
	downloader activityDownloader,
	metricsManager *metrics.Manager,
	syncHour int,
) *Service {
	return &Service{
		api:        api,
		store:      store,
		downloader: downloader,
		normalizer: healthdata.NewNormalizer(),
		metrics:    metricsManager,
		syncHour:   syncHour,
		now:        time.Now,
	}
}

// SyncDate runs the full pipeline for one date. Sleep and HRV payload
// failures degrade to warnings, the record just ends up sparser; a
// failing wellness summary fetch aborts the run.
func (s *Service) SyncDate(ctx context.Context, date time.Time) (record healthdata.DailyRecord, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "syncService.syncDate")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	start := s.now()
	dateStr := date.Format("2006-01-02")
	log.Debugf("sync: starting for %s", dateStr)

	s.metrics.CounterSyncRuns.Inc()
	defer func() {
		s.metrics.HistSyncDuration.Observe(s.now().Sub(start).Seconds())
		if err != nil {
			s.metrics.CounterSyncErrors.Inc()
		}
	}()

	stats, err := s.api.GetStatsAndBody(ctx, dateStr)
	if err != nil {
		return nil, fmt.Errorf("get wellness summary for %s: %w", dateStr, err)
	}

	sleep, err := s.api.GetSleepData(ctx, dateStr)
	if err != nil {
		log.Warnf("sync: get sleep data for %s: %s", dateStr, err)
		sleep = nil
	}

	hrv, err := s.api.GetHRVData(ctx, dateStr)
	if err != nil {
		log.Warnf("sync: get hrv data for %s: %s", dateStr, err)
		hrv = nil
	}

	if err := s.store.DumpRaw(dateStr, map[string]healthdata.Payload{
		"stats": stats,
		"sleep": sleep,
		"hrv":   hrv,
	}); err != nil {
		log.Warnf("sync: dump raw payloads for %s: %s", dateStr, err)
	}

	record = s.normalizer.Normalize(ctx, healthdata.NormalizeParams{
		Date:  date,
		Stats: stats,
		Sleep: sleep,
		HRV:   hrv,
	})

	if err := s.store.Merge(ctx, record); err != nil {
		return nil, fmt.Errorf("merge record for %s: %w", dateStr, err)
	}
	s.metrics.CounterRecordsMerged.Inc()

	if err := s.store.Archive(ctx, record); err != nil {
		log.Errorf("sync: archive record for %s: %s", dateStr, err)
	} else {
		s.metrics.CounterArchivesWritten.Inc()
	}

	if s.downloader != nil {
		downloaded, err := s.downloader.DownloadForDate(ctx, dateStr)
		if err != nil {
			log.Errorf("sync: download activities for %s: %s", dateStr, err)
		}
		s.metrics.CounterActivityDownloads.Add(float64(downloaded))
	}

	log.Printf("sync: done for %s, %d fields", dateStr, len(record))
	return record, nil
}

// SyncCatchUp syncs yesterday and today: yesterday because sleep and
// HRV summaries settle only after the night ends, today to get the
// partial day in early.
func (s *Service) SyncCatchUp(ctx context.Context) error {
	today := s.now()
	yesterday := today.AddDate(0, 0, -1)

	var errs error
	if _, err := s.SyncDate(ctx, yesterday); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := s.SyncDate(ctx, today); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// RunDaily blocks until ctx is done, running the catch-up sync once
// per day in the configured hour.
func (s *Service) RunDaily(ctx context.Context) {
	log.Debugf("sync: daily runner started, sync hour: %d", s.syncHour)

	var lastRunDay string
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debugf("sync: daily runner stopping: %s", ctx.Err())
			return
		case <-ticker.C:
			now := s.now()
			day := now.Format("2006-01-02")
			if now.Hour() != s.syncHour || day == lastRunDay {
				continue
			}
			lastRunDay = day
			if err := s.SyncCatchUp(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("sync: daily run failed: %s", err)
			}
		}
	}
}
