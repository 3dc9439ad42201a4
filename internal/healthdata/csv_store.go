package healthdata

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jayms/healthsync/internal/telemetry/tracing"
	"github.com/jayms/healthsync/pkg"

	log "github.com/sirupsen/logrus"
)

const (
	StoreFileName   = "garmin_stats.csv"
	archiveDirName  = "archive"
	rawDumpsDirName = "raw"
)

var ErrNoRecords = errors.New("no records in store")

// CSVStore keeps the accumulated daily records in one CSV file,
// exactly one row per date, plus a per-date snapshot archive. All
// mutations rewrite the file atomically via a temp file rename.
type CSVStore struct {
	mutex    sync.Mutex
	rootPath string
}

func NewCSVStore(rootPath string) (*CSVStore, error) {
	if err := pkg.EnsureDir(rootPath); err != nil {
		return nil, fmt.Errorf("ensure store root: %w", err)
	}
	if err := pkg.EnsureDir(filepath.Join(rootPath, archiveDirName)); err != nil {
		return nil, fmt.Errorf("ensure archive dir: %w", err)
	}
	if err := pkg.EnsureDir(filepath.Join(rootPath, rawDumpsDirName)); err != nil {
		return nil, fmt.Errorf("ensure raw dumps dir: %w", err)
	}
	return &CSVStore{rootPath: rootPath}, nil
}

func (s *CSVStore) StorePath() string {
	return filepath.Join(s.rootPath, StoreFileName)
}

func (s *CSVStore) archivePath(date string) string {
	return filepath.Join(s.rootPath, archiveDirName, fmt.Sprintf("garmin_stats_%s.csv", date))
}

func (s *CSVStore) rawDumpPath(date string) string {
	return filepath.Join(s.rootPath, rawDumpsDirName, fmt.Sprintf("garmin_stats_%s_raw.json", date))
}

// Merge upserts the record's row into the stats store. The resulting
// header is the canonical catalog followed by any historical extra
// columns in their original order; previous rows are re-projected onto
// the new header without losing a single cell. Merging the same record
// twice is a no-op for the file content.
func (s *CSVStore) Merge(ctx context.Context, record DailyRecord) (err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "csvStore.merge")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	date := record.Date()
	if date == "" {
		return errors.New("record has no date")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	oldHeader, oldRows := s.readAll()

	newHeader := mergedHeader(oldHeader)
	columnOf := make(map[string]int, len(newHeader))
	for i, field := range newHeader {
		columnOf[field] = i
	}

	newRows := make([][]string, 0, len(oldRows)+1)
	replaced := false
	for _, oldRow := range oldRows {
		projected := make([]string, len(newHeader))
		for i, field := range oldHeader {
			if i < len(oldRow) {
				projected[columnOf[field]] = oldRow[i]
			}
		}
		if len(oldRow) > 0 && oldRow[0] == date {
			if replaced {
				// drop duplicate rows for the same date
				log.Warnf("stats store: dropping duplicate row for %s", date)
				continue
			}
			projected = recordRow(record, newHeader)
			replaced = true
		}
		newRows = append(newRows, projected)
	}
	if !replaced {
		newRows = append(newRows, recordRow(record, newHeader))
	}

	if err := s.writeAtomic(newHeader, newRows); err != nil {
		return fmt.Errorf("write stats store: %w", err)
	}

	log.Debugf("stats store: merged row for %s, %d rows, %d columns", date, len(newRows), len(newHeader))
	return nil
}

// Archive writes the per-date snapshot of the record. An existing
// snapshot for the date is never overwritten.
func (s *CSVStore) Archive(ctx context.Context, record DailyRecord) (err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "csvStore.archive")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	date := record.Date()
	if date == "" {
		return errors.New("record has no date")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	path := s.archivePath(date)
	if exists, _ := pkg.PathExists(path, false); exists {
		log.Tracef("stats store: archive for %s already written, skipping", date)
		return nil
	}

	header := CanonicalFields()
	tempFile, err := os.CreateTemp(s.rootPath, "archive-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tempFile.Name())

	writer := csv.NewWriter(tempFile)
	if err := writer.Write(header); err != nil {
		tempFile.Close()
		return fmt.Errorf("write header: %w", err)
	}
	if err := writer.Write(recordRow(record, header)); err != nil {
		tempFile.Close()
		return fmt.Errorf("write row: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tempFile.Close()
		return fmt.Errorf("flush: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempFile.Name(), path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// DumpRaw saves the raw payloads of one sync run next to the store,
// for later debugging of normalization decisions
func (s *CSVStore) DumpRaw(date string, payloads map[string]Payload) error {
	data, err := json.MarshalIndent(payloads, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal raw payloads: %w", err)
	}
	if err := os.WriteFile(s.rawDumpPath(date), data, 0o644); err != nil {
		return fmt.Errorf("write raw dump: %w", err)
	}
	return nil
}

// Record returns the stored row for the given date as a field->cell
// mapping, empty cells omitted.
func (s *CSVStore) Record(date string) (map[string]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	header, rows := s.readAll()
	for _, row := range rows {
		if len(row) > 0 && row[0] == date {
			return rowToMap(header, row), nil
		}
	}
	return nil, ErrNoRecords
}

// Records returns up to lastN stored rows, most recent last; lastN <= 0
// means all of them.
func (s *CSVStore) Records(lastN int) ([]map[string]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	header, rows := s.readAll()
	if len(rows) == 0 {
		return nil, ErrNoRecords
	}
	if lastN > 0 && len(rows) > lastN {
		rows = rows[len(rows)-lastN:]
	}

	records := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, rowToMap(header, row))
	}
	return records, nil
}

// RawCSV returns the store file bytes as-is.
func (s *CSVStore) RawCSV() ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := os.ReadFile(s.StorePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoRecords
		}
		return nil, fmt.Errorf("read stats store: %w", err)
	}
	return data, nil
}

// readAll loads the current store content; a missing or unreadable
// file simply yields an empty store, the next merge rebuilds it
func (s *CSVStore) readAll() (header []string, rows [][]string) {
	file, err := os.Open(s.StorePath())
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("stats store: open failed, starting fresh: %s", err)
		}
		return nil, nil
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	all, err := reader.ReadAll()
	if err != nil {
		log.Warnf("stats store: corrupt content, starting fresh: %s", err)
		return nil, nil
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], all[1:]
}

func (s *CSVStore) writeAtomic(header []string, rows [][]string) error {
	tempFile, err := os.CreateTemp(s.rootPath, "stats-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tempFile.Name())

	writer := csv.NewWriter(tempFile)
	if err := writer.Write(header); err != nil {
		tempFile.Close()
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			tempFile.Close()
			return fmt.Errorf("write row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tempFile.Close()
		return fmt.Errorf("flush: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	return os.Rename(tempFile.Name(), s.StorePath())
}

// mergedHeader builds the store header: the full canonical catalog
// first, then historical extra columns in their original order
func mergedHeader(oldHeader []string) []string {
	header := CanonicalFields()
	seen := make(map[string]bool, len(header))
	for _, field := range header {
		seen[field] = true
	}
	for _, field := range oldHeader {
		if !seen[field] {
			header = append(header, field)
			seen[field] = true
		}
	}
	return header
}

func recordRow(record DailyRecord, header []string) []string {
	row := make([]string, len(header))
	for i, field := range header {
		row[i] = record.CSVValue(field)
	}
	return row
}

func rowToMap(header, row []string) map[string]string {
	m := make(map[string]string, len(row))
	for i, field := range header {
		if i < len(row) && row[i] != "" {
			m[field] = row[i]
		}
	}
	return m
}
