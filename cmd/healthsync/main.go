package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jayms/healthsync/internal/config"
	"github.com/jayms/healthsync/internal/garmin"
	"github.com/jayms/healthsync/internal/healthdata"
	"github.com/jayms/healthsync/internal/logging"
	"github.com/jayms/healthsync/internal/report"
	syncservice "github.com/jayms/healthsync/internal/sync"
	"github.com/jayms/healthsync/internal/telemetry/metrics"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// one-shot CLI: sync a date (or yesterday+today) from the terminal,
// or print the summary of the last days, without the long-running
// service
func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	date := flag.String("date", "", "date to sync [YYYY-MM-DD], empty for yesterday and today")
	summaryDays := flag.Int("summary", 0, "print the summary of the last N days and exit")
	logLevel := flag.String("loglevel", "info", "log level")
	flag.Parse()

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		fmt.Printf("load config: %s\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.LoggerSetupParams{
		LogToStdout: true,
		LogLevel:    *logLevel,
		Environment: cfg.Environment,
	})

	store, err := healthdata.NewCSVStore(cfg.ExportsRootPath)
	if err != nil {
		log.Fatalf("new csv store: %s", err)
	}

	if *summaryDays > 0 {
		records, err := store.Records(*summaryDays)
		if err != nil {
			log.Fatalf("read records: %s", err)
		}
		fmt.Print(report.Summary(records))
		return
	}

	session, err := garmin.LoadSession(cfg.GarminTokenStorePath)
	if err != nil {
		log.Fatalf("load garmin session: %s", err)
	}

	client := garmin.NewClient(cfg.GarminApiUrl, session, &http.Client{
		Timeout: time.Minute,
	})
	downloader, err := garmin.NewDownloader(client, cfg.ExportsRootPath, cfg.ActivityFileFormat)
	if err != nil {
		log.Fatalf("new downloader: %s", err)
	}

	service := syncservice.NewService(
		client,
		store,
		downloader,
		metrics.NewManager("healthsync", "cli", prometheus.NewRegistry()),
		cfg.SyncHour,
	)

	ctx := context.Background()
	if *date == "" {
		if err := service.SyncCatchUp(ctx); err != nil {
			log.Fatalf("sync failed: %s", err)
		}
		fmt.Println("sync done: yesterday and today")
		return
	}

	syncDate, err := time.Parse("2006-01-02", *date)
	if err != nil {
		log.Fatalf("invalid date [%s]: %s", *date, err)
	}

	record, err := service.SyncDate(ctx, syncDate)
	if err != nil {
		log.Fatalf("sync failed: %s", err)
	}
	fmt.Printf("sync done: %s, %d fields\n", record.Date(), len(record))
}
