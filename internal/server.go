package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jayms/healthsync/internal/backup"
	"github.com/jayms/healthsync/internal/config"
	"github.com/jayms/healthsync/internal/dashboard"
	"github.com/jayms/healthsync/internal/garmin"
	"github.com/jayms/healthsync/internal/healthdata"
	"github.com/jayms/healthsync/internal/middleware"
	syncservice "github.com/jayms/healthsync/internal/sync"
	"github.com/jayms/healthsync/internal/telemetry/metrics"
	"github.com/jayms/healthsync/internal/telemetry/tracing"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	syncSecretHash    string
	versionInfo       string

	config        *config.Config
	store         *healthdata.CSVStore
	garminClient  *garmin.Client
	syncService   *syncservice.Service
	backupService *backup.Service

	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()

	cancelBackgroundJobs context.CancelFunc
}

type NewServerParams struct {
	Config                  *config.Config
	SyncSecretHash          string
	VersionInfo             string
	DriveCredentialsJson    []byte
	HoneycombTracingEnabled bool
}

func NewServer(ctx context.Context, params NewServerParams) (*Server, error) {
	promRegistry := metrics.SetupPrometheus()
	metricsManager := metrics.NewManager("healthsync", "main", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0)

	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "healthsync")
	if err != nil {
		return nil, fmt.Errorf("honeycomb setup: %w", err)
	}

	store, err := healthdata.NewCSVStore(params.Config.ExportsRootPath)
	if err != nil {
		return nil, fmt.Errorf("new csv store: %w", err)
	}

	session, err := garmin.LoadSession(params.Config.GarminTokenStorePath)
	if err != nil {
		return nil, fmt.Errorf("load garmin session: %w", err)
	}

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   time.Minute,
	}
	garminClient := garmin.NewClient(params.Config.GarminApiUrl, session, httpClient)

	downloader, err := garmin.NewDownloader(
		garminClient,
		params.Config.ExportsRootPath,
		params.Config.ActivityFileFormat,
	)
	if err != nil {
		return nil, fmt.Errorf("new downloader: %w", err)
	}

	syncService := syncservice.NewService(
		garminClient,
		store,
		downloader,
		metricsManager,
		params.Config.SyncHour,
	)

	var localTarget *backup.LocalBackup
	if params.Config.SyncFolderPath != "" {
		localTarget, err = backup.NewLocalBackup(params.Config.SyncFolderPath)
		if err != nil {
			return nil, fmt.Errorf("new local backup: %w", err)
		}
	}
	var driveTarget *backup.GoogleDriveBackup
	if len(params.DriveCredentialsJson) > 0 {
		driveTarget, err = backup.NewGoogleDriveBackup(ctx, params.DriveCredentialsJson)
		if err != nil {
			// drive is best effort, the local copy still works
			log.Errorf("drive backup setup failed, continuing without it: %s", err)
		}
	}

	var backupService *backup.Service
	if localTarget != nil || driveTarget != nil {
		// interface values need the nil checks here, a typed nil target
		// would dodge the nil guard inside the backup service
		if localTarget != nil && driveTarget != nil {
			backupService = backup.NewService(store, localTarget, driveTarget, metricsManager)
		} else if localTarget != nil {
			backupService = backup.NewService(store, localTarget, nil, metricsManager)
		} else {
			backupService = backup.NewService(store, nil, driveTarget, metricsManager)
		}
	}

	return &Server{
		syncSecretHash: params.SyncSecretHash,
		versionInfo:    params.VersionInfo,
		config:         params.Config,
		store:          store,
		garminClient:   garminClient,
		syncService:    syncService,
		backupService:  backupService,
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}, nil
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("main-router"))

	var backups dashboard.BackupTrigger
	if s.backupService != nil {
		backups = s.backupService
	}
	dashboardHandler := dashboard.NewHandler(s.store, s.syncService, backups, s.versionInfo)
	dashboardHandler.SetupRoutes(r)

	authMiddleware := middleware.NewAuthMiddlewareHandler(s.syncSecretHash)

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors())
	r.Use(authMiddleware.AuthCheck())
	r.Use(middleware.DrainAndCloseRequest())

	return r
}

func (s *Server) Serve(ctx context.Context) {
	router := s.routerSetup()

	ipAndPort := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.HandlerFor(
		s.promRegistry,
		promhttp.HandlerOpts{},
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	jobsCtx, cancel := context.WithCancel(ctx)
	s.cancelBackgroundJobs = cancel
	go s.syncService.RunDaily(jobsCtx)
	if s.backupService != nil {
		go s.backupService.RunPeriodic(jobsCtx, 12*time.Hour)
	}

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	if s.cancelBackgroundJobs != nil {
		s.cancelBackgroundJobs()
	}

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error(" >>> failed to gracefully shutdown http server")
	}
	log.Warnln("server shut down")

	if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
		log.Error(" >>> failed to gracefully shutdown metrics http server")
	}
	log.Warnln("metrics server shut down")
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Sub(1)
	}
}
