// Package export writes run results to CSV files and the console
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Nexora-Open-Source/site-version-jobs/jobs"
	"github.com/Nexora-Open-Source/site-version-jobs/types"
)

var csvHeader = []string{
	"entity_url",
	"mode",
	"status",
	"error_kind",
	"handle",
	"last_observed",
	"polls",
	"versions_processed",
	"versions_deleted",
	"versions_failed",
	"storage_released_bytes",
	"detail",
	"timestamp",
}

// WriteCSV writes one row per record, sorted by status then entity URL.
// Counters the remote service never reported are left empty.
func WriteCSV(w io.Writer, records []types.OutcomeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range jobs.SortForExport(records) {
		row := []string{
			rec.EntityURL,
			string(rec.Mode),
			string(rec.Status),
			rec.ErrorKind,
			rec.Handle,
			string(rec.LastObserved),
			strconv.Itoa(rec.Polls),
			formatCounter(rec.VersionsProcessed),
			formatCounter(rec.VersionsDeleted),
			formatCounter(rec.VersionsFailed),
			formatCounter(rec.StorageReleasedBytes),
			rec.Detail,
			formatTimestamp(rec.Timestamp),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row for %s: %w", rec.EntityURL, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the records to path, creating parent directories
func WriteCSVFile(path string, records []types.OutcomeRecord) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteCSV(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatCounter(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
