package garmin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jayms/healthsync/internal/healthdata"
	"github.com/jayms/healthsync/internal/telemetry/tracing"
	"github.com/jayms/healthsync/pkg"

	log "github.com/sirupsen/logrus"
)

// Downloader saves activity files (tcx/gpx/...) for the synced dates
// into the exports tree, skipping files already on disk.
type Downloader struct {
	client        *Client
	activitiesDir string
	format        string
}

func NewDownloader(client *Client, exportsRootPath, format string) (*Downloader, error) {
	activitiesDir := filepath.Join(exportsRootPath, "activities")
	if err := pkg.EnsureDir(activitiesDir); err != nil {
		return nil, fmt.Errorf("ensure activities dir: %w", err)
	}
	return &Downloader{
		client:        client,
		activitiesDir: activitiesDir,
		format:        strings.ToLower(format),
	}, nil
}

// DownloadForDate saves all activities recorded on the given date
// (YYYY-MM-DD). Returns the number of newly downloaded files.
func (d *Downloader) DownloadForDate(ctx context.Context, date string) (downloaded int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "downloader.downloadForDate")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	activities, err := d.client.GetActivities(ctx, 0, 20)
	if err != nil {
		return 0, fmt.Errorf("list activities: %w", err)
	}

	for _, activity := range activities {
		startTime, _ := activity["startTimeLocal"].(string)
		if !strings.HasPrefix(startTime, date) {
			continue
		}
		activityID := healthdata.FormatValue(activity["activityId"])
		if activityID == "" {
			log.Warnf("downloader: activity on %s without an id, skipping", date)
			continue
		}

		fresh, err := d.downloadOne(ctx, activityID)
		if err != nil {
			return downloaded, fmt.Errorf("download activity %s: %w", activityID, err)
		}
		if fresh {
			downloaded++
		}
	}

	log.Debugf("downloader: %d new activity files for %s", downloaded, date)
	return downloaded, nil
}

func (d *Downloader) downloadOne(ctx context.Context, activityID string) (fresh bool, err error) {
	details, err := d.client.GetActivityDetails(ctx, activityID)
	if err != nil {
		return false, fmt.Errorf("activity details: %w", err)
	}

	fileName := ActivityFileName(details, activityID, d.format)
	filePath := filepath.Join(d.activitiesDir, fileName)
	if exists, _ := pkg.PathExists(filePath, false); exists {
		log.Tracef("downloader: %s already on disk, skipping", fileName)
		return false, nil
	}

	data, err := d.client.DownloadActivity(ctx, activityID, d.format)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return false, fmt.Errorf("write activity file: %w", err)
	}

	log.Debugf("downloader: saved %s [%d bytes]", fileName, len(data))
	return true, nil
}

// ActivityFileName builds the export file name from the activity
// detail payload: local start time, activity type, activity name and
// the id, joined with underscores. The start time turns into
// YYYY-MM-DD_hhmmss; a missing start time falls back to now.
func ActivityFileName(details healthdata.Payload, activityID, format string) string {
	summary, _ := details["summaryDTO"].(map[string]any)
	if summary == nil {
		summary, _ = details["activitySummary"].(map[string]any)
	}

	startTime, _ := details["startTimeLocal"].(string)
	if startTime == "" && summary != nil {
		startTime, _ = summary["startTimeLocal"].(string)
	}
	if startTime != "" {
		// 2025-05-10T07:30:15.0 -> 2025-05-10_073015
		startTime = strings.SplitN(startTime, ".", 2)[0]
		startTime = strings.ReplaceAll(startTime, "T", "_")
		startTime = strings.ReplaceAll(startTime, ":", "")
	} else {
		startTime = time.Now().Format("2006-01-02_150405")
	}

	parts := []string{startTime}

	if activityType, ok := details["activityType"].(map[string]any); ok {
		if typeKey, ok := activityType["typeKey"].(string); ok && typeKey != "" && typeKey != "activity" {
			parts = append(parts, typeKey)
		}
	}
	if name, ok := details["activityName"].(string); ok && name != "" {
		parts = append(parts, strings.ReplaceAll(name, " ", "_"))
	}
	parts = append(parts, activityID)

	return pkg.SanitizeFilename(strings.Join(parts, "_")) + "." + strings.ToLower(format)
}
