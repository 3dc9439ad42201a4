package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jayms/healthsync/internal/healthdata"
	"github.com/jayms/healthsync/internal/report"
	"github.com/jayms/healthsync/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

const defaultSummaryDays = 7

type statsStore interface {
	Record(date string) (map[string]string, error)
	Records(lastN int) ([]map[string]string, error)
	RawCSV() ([]byte, error)
}

type syncService interface {
	SyncDate(ctx context.Context, date time.Time) (healthdata.DailyRecord, error)
	SyncCatchUp(ctx context.Context) error
}

// BackupTrigger kicks off a stats store backup on demand.
type BackupTrigger interface {
	BackupNow(ctx context.Context) error
}

// Handler serves the small personal dashboard: read endpoints over the
// stats store plus the protected sync and backup triggers.
type Handler struct {
	store   statsStore
	syncer  syncService
	backups BackupTrigger
	version string
}

func NewHandler(store statsStore, syncer syncService, backups BackupTrigger, version string) *Handler {
	return &Handler{
		store:   store,
		syncer:  syncer,
		backups: backups,
		version: version,
	}
}

func (handler *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/", handler.handleRoot).Methods("GET")
	router.HandleFunc("/version", handler.handleVersion).Methods("GET")

	router.HandleFunc("/api/stats", handler.handleGetStats).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/stats/csv", handler.handleGetStatsCSV).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/stats/{date}", handler.handleGetStatsForDate).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/summary", handler.handleGetSummary).Methods("GET", "OPTIONS")

	router.HandleFunc("/api/sync", handler.handleSync).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/sync/{date}", handler.handleSyncDate).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/backup", handler.handleBackup).Methods("POST", "OPTIONS")
}

func (handler *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, "I'm fine, thanks ;)")
}

func (handler *Handler) handleVersion(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, handler.version)
}

func (handler *Handler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	days, err := daysParam(r, 0)
	if err != nil {
		http.Error(w, "error, days invalid", http.StatusBadRequest)
		return
	}

	records, err := handler.store.Records(days)
	if err != nil {
		if errors.Is(err, healthdata.ErrNoRecords) {
			pkg.WriteJSONResponseOK(w, "[]")
			return
		}
		log.Errorf("get stats: %s", err)
		http.Error(w, "error, failed to read stats", http.StatusInternalServerError)
		return
	}

	handler.writeJSON(w, records)
}

func (handler *Handler) handleGetStatsForDate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	date := vars["date"]
	if _, err := time.Parse("2006-01-02", date); err != nil {
		http.Error(w, "error, date invalid", http.StatusBadRequest)
		return
	}

	record, err := handler.store.Record(date)
	if err != nil {
		if errors.Is(err, healthdata.ErrNoRecords) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Errorf("get stats for %s: %s", date, err)
		http.Error(w, "error, failed to read stats", http.StatusInternalServerError)
		return
	}

	handler.writeJSON(w, record)
}

func (handler *Handler) handleGetStatsCSV(w http.ResponseWriter, _ *http.Request) {
	data, err := handler.store.RawCSV()
	if err != nil {
		if errors.Is(err, healthdata.ErrNoRecords) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Errorf("get stats csv: %s", err)
		http.Error(w, "error, failed to read stats", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytesOK(w, pkg.ContentType.CSV, data)
}

func (handler *Handler) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	days, err := daysParam(r, defaultSummaryDays)
	if err != nil {
		http.Error(w, "error, days invalid", http.StatusBadRequest)
		return
	}

	records, err := handler.store.Records(days)
	if err != nil && !errors.Is(err, healthdata.ErrNoRecords) {
		log.Errorf("get summary: %s", err)
		http.Error(w, "error, failed to read stats", http.StatusInternalServerError)
		return
	}

	pkg.WriteTextResponseOK(w, report.Summary(records))
}

func (handler *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := handler.syncer.SyncCatchUp(r.Context()); err != nil {
		log.Errorf("sync trigger failed: %s", err)
		http.Error(w, "error, sync failed", http.StatusInternalServerError)
		return
	}

	log.Printf("sync triggered via api: done")
	pkg.WriteTextResponseOK(w, "sync:done")
}

func (handler *Handler) handleSyncDate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	date, err := time.Parse("2006-01-02", vars["date"])
	if err != nil {
		http.Error(w, "error, date invalid", http.StatusBadRequest)
		return
	}

	record, err := handler.syncer.SyncDate(r.Context(), date)
	if err != nil {
		log.Errorf("sync trigger for %s failed: %s", vars["date"], err)
		http.Error(w, "error, sync failed", http.StatusInternalServerError)
		return
	}

	log.Printf("sync triggered via api for %s: %d fields", vars["date"], len(record))
	pkg.WriteTextResponseOK(w, fmt.Sprintf("sync:done:%s", record.Date()))
}

func (handler *Handler) handleBackup(w http.ResponseWriter, r *http.Request) {
	if handler.backups == nil {
		http.Error(w, "error, backups not configured", http.StatusNotImplemented)
		return
	}

	if err := handler.backups.BackupNow(r.Context()); err != nil {
		log.Errorf("backup trigger failed: %s", err)
		http.Error(w, "error, backup failed", http.StatusInternalServerError)
		return
	}

	pkg.WriteTextResponseOK(w, "backup:done")
}

func (handler *Handler) writeJSON(w http.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("marshal response: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, data)
}

func daysParam(r *http.Request, defaultDays int) (int, error) {
	daysStr := r.URL.Query().Get("days")
	if daysStr == "" {
		return defaultDays, nil
	}
	days, err := strconv.Atoi(daysStr)
	if err != nil {
		return 0, fmt.Errorf("invalid days param [%s]: %w", daysStr, err)
	}
	if days < 0 {
		return 0, fmt.Errorf("invalid days param [%s]: negative", daysStr)
	}
	return days, nil
}
