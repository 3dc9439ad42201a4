package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/jayms/healthsync/internal/telemetry/metrics"
	"github.com/jayms/healthsync/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const storeBackupFileName = "garmin_stats.csv"

type storeSource interface {
	RawCSV() ([]byte, error)
}

type target interface {
	Backup(ctx context.Context, name string, data []byte) error
}

// Service pushes the current stats store to all configured backup
// targets: the local sync folder copy and, when credentials are set
// up, the drive folder with dated snapshots.
type Service struct {
	store   storeSource
	local   target
	remote  target
	metrics *metrics.Manager

	now func() time.Time
}

func NewService(store storeSource, local, remote target, metricsManager *metrics.Manager) *Service {
	return &Service{
		store:   store,
		local:   local,
		remote:  remote,
		metrics: metricsManager,
		now:     time.Now,
	}
}

// BackupNow snapshots the stats store to every target. One failing
// target does not stop the others.
func (s *Service) BackupNow(ctx context.Context) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "backupService.backupNow")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	data, err := s.store.RawCSV()
	if err != nil {
		return fmt.Errorf("read stats store: %w", err)
	}

	datedName := fmt.Sprintf("garmin_stats_%s.csv", s.now().Format("2006-01-02"))

	var errs error
	if s.local != nil {
		// live copy for the sync client plus a dated snapshot
		if err := s.local.Backup(ctx, storeBackupFileName, data); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("local backup: %w", err))
		}
		if err := s.local.Backup(ctx, datedName, data); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("local dated backup: %w", err))
		}
	}
	if s.remote != nil {
		if err := s.remote.Backup(ctx, datedName, data); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("remote backup: %w", err))
		}
	}

	if errs != nil {
		return errs
	}

	s.metrics.CounterStoreBackups.Inc()
	log.Printf("backup: stats store snapshot done [%d bytes]", len(data))
	return nil
}

// RunPeriodic blocks until ctx is done, backing up once per interval.
func (s *Service) RunPeriodic(ctx context.Context, interval time.Duration) {
	log.Debugf("backup: periodic runner started, interval: %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debugf("backup: periodic runner stopping: %s", ctx.Err())
			return
		case <-ticker.C:
			if err := s.BackupNow(ctx); err != nil {
				log.Errorf("backup: periodic run failed: %s", err)
			}
		}
	}
}
