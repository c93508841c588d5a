package jobs

import (
	"sort"

	"github.com/Nexora-Open-Source/site-version-jobs/types"
)

// Summarize counts records by status and error kind and totals the counters.
// Missing counters count as zero. The input is not modified.
func Summarize(records []types.OutcomeRecord) types.RunSummary {
	summary := types.RunSummary{
		Total:       len(records),
		ByStatus:    make(map[types.OutcomeStatus]int),
		ByErrorKind: make(map[string]int),
	}

	for _, rec := range records {
		summary.ByStatus[rec.Status]++
		if rec.ErrorKind != "" {
			summary.ByErrorKind[rec.ErrorKind]++
		}
		summary.VersionsProcessed += valueOrZero(rec.VersionsProcessed)
		summary.VersionsDeleted += valueOrZero(rec.VersionsDeleted)
		summary.VersionsFailed += valueOrZero(rec.VersionsFailed)
		summary.StorageReleasedBytes += valueOrZero(rec.StorageReleasedBytes)
	}

	return summary
}

// SortForExport returns a copy of records ordered by status, following
// types.OutcomeStatuses, then entity URL
func SortForExport(records []types.OutcomeRecord) []types.OutcomeRecord {
	sorted := make([]types.OutcomeRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := statusRank(sorted[i].Status), statusRank(sorted[j].Status)
		if ri != rj {
			return ri < rj
		}
		return sorted[i].EntityURL < sorted[j].EntityURL
	})
	return sorted
}

// statusRank orders unlisted statuses after every known one
func statusRank(status types.OutcomeStatus) int {
	for i, s := range types.OutcomeStatuses {
		if s == status {
			return i
		}
	}
	return len(types.OutcomeStatuses)
}

func valueOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
