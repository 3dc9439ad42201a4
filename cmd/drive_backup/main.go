package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jayms/healthsync/internal/backup"
	"github.com/jayms/healthsync/internal/config"
	"github.com/jayms/healthsync/internal/healthdata"
	"github.com/jayms/healthsync/internal/logging"
	"github.com/jayms/healthsync/internal/telemetry/metrics"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// pushes the current stats store to google drive once and exits;
// meant for cron or a manual run before messing with the exports dir
func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	credentialsPath := flag.String("credentials", "", "path to the google drive service account credentials JSON")
	flag.Parse()

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		fmt.Printf("load config: %s\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.LoggerSetupParams{
		LogToStdout: true,
		LogLevel:    "debug",
		Environment: cfg.Environment,
	})

	if *credentialsPath == "" {
		*credentialsPath = os.Getenv("HEALTHSYNC_DRIVE_CREDENTIALS")
	}
	if *credentialsPath == "" {
		log.Fatalln("drive credentials not set, use -credentials or HEALTHSYNC_DRIVE_CREDENTIALS")
	}

	credentialsJson, err := os.ReadFile(*credentialsPath)
	if err != nil {
		log.Fatalf("read drive credentials file: %s", err)
	}

	store, err := healthdata.NewCSVStore(cfg.ExportsRootPath)
	if err != nil {
		log.Fatalf("new csv store: %s", err)
	}

	ctx := context.Background()
	driveBackup, err := backup.NewGoogleDriveBackup(ctx, credentialsJson)
	if err != nil {
		log.Fatalf("new drive backup: %s", err)
	}

	service := backup.NewService(
		store,
		nil,
		driveBackup,
		metrics.NewManager("healthsync", "drive_backup", prometheus.NewRegistry()),
	)
	if err := service.BackupNow(ctx); err != nil {
		log.Fatalf("backup failed: %s", err)
	}

	log.Println("drive backup done")
}
