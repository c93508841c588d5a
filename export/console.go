package export

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Nexora-Open-Source/site-version-jobs/jobs"
	"github.com/Nexora-Open-Source/site-version-jobs/types"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	colorPass  = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorWarn  = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	colorFail  = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorMuted = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}

	headerStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	labelStyle  = lipgloss.NewStyle().Width(24)
)

const separator = "──────────────────────────────────────────"

func statusStyle(status types.OutcomeStatus) lipgloss.Style {
	switch status {
	case types.OutcomeCompleted, types.OutcomeAccepted:
		return lipgloss.NewStyle().Foreground(colorPass)
	case types.OutcomeTimedOut, types.OutcomeCancelled:
		return lipgloss.NewStyle().Foreground(colorWarn)
	default:
		return lipgloss.NewStyle().Foreground(colorFail)
	}
}

// PrintSummary writes a human readable summary of a finished run
func PrintSummary(w io.Writer, result jobs.RunResult, summary types.RunSummary) {
	var b strings.Builder

	fmt.Fprintln(&b, headerStyle.Render(fmt.Sprintf("Site version %s run %s", result.Mode, result.RunID)))
	fmt.Fprintln(&b, mutedStyle.Render(separator))

	if result.Tenant != nil && result.Tenant.Action != types.TenantActionNone {
		line := fmt.Sprintf("%s: %s", result.Tenant.Action, result.Tenant.Outcome)
		if result.Tenant.Detail != "" {
			line += " (" + result.Tenant.Detail + ")"
		}
		fmt.Fprintln(&b, labelStyle.Render("Tenant action")+line)
	}

	fmt.Fprintln(&b, labelStyle.Render("Sites")+humanize.Comma(int64(summary.Total)))
	for _, status := range types.OutcomeStatuses {
		count := summary.ByStatus[status]
		if count == 0 {
			continue
		}
		fmt.Fprintln(&b, labelStyle.Render("  "+string(status))+statusStyle(status).Render(humanize.Comma(int64(count))))
	}

	if len(summary.ByErrorKind) > 0 {
		fmt.Fprintln(&b, labelStyle.Render("Errors"))
		for _, kind := range sortedKeys(summary.ByErrorKind) {
			fmt.Fprintln(&b, labelStyle.Render("  "+kind)+humanize.Comma(int64(summary.ByErrorKind[kind]))+
				"  "+mutedStyle.Render(jobs.ErrorKind(kind).Description()))
		}
	}

	if summary.VersionsProcessed > 0 || summary.VersionsDeleted > 0 || summary.VersionsFailed > 0 {
		fmt.Fprintln(&b, labelStyle.Render("Versions processed")+humanize.Comma(summary.VersionsProcessed))
		fmt.Fprintln(&b, labelStyle.Render("Versions deleted")+humanize.Comma(summary.VersionsDeleted))
		fmt.Fprintln(&b, labelStyle.Render("Versions failed")+humanize.Comma(summary.VersionsFailed))
	}
	if summary.StorageReleasedBytes > 0 {
		fmt.Fprintln(&b, labelStyle.Render("Storage released")+humanize.Bytes(uint64(summary.StorageReleasedBytes)))
	}

	if !result.FinishedAt.IsZero() {
		elapsed := result.FinishedAt.Sub(result.StartedAt).Round(time.Second)
		fmt.Fprintln(&b, labelStyle.Render("Duration")+elapsed.String())
	}
	fmt.Fprintln(&b, mutedStyle.Render(separator))

	_, _ = io.WriteString(w, b.String())
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
