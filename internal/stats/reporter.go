package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Reporter outputs statistics to console and/or file. The periodic report is
// wall-clock driven: it shows run progress while the virtual-time loop spins.
type Reporter struct {
	collector   *Collector
	intervalSec int
	exportFile  string
}

// NewReporter creates a new statistics reporter.
func NewReporter(collector *Collector, intervalSec int, exportFile string) *Reporter {
	return &Reporter{
		collector:   collector,
		intervalSec: intervalSec,
		exportFile:  exportFile,
	}
}

// StartPeriodicReport begins periodic statistics reporting in a goroutine.
func (r *Reporter) StartPeriodicReport(ctx context.Context) {
	if r.intervalSec <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(time.Duration(r.intervalSec) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Println(r.FormatReport())
			}
		}
	}()
}

// PrintFinalReport prints the final statistics summary.
func (r *Reporter) PrintFinalReport() {
	r.collector.Finish()
	fmt.Println(r.FormatReport())
}

// ExportJSON exports statistics to a JSON file.
func (r *Reporter) ExportJSON() error {
	if r.exportFile == "" {
		return nil
	}

	snap := r.collector.Snapshot()
	report := snap.Report()

	export := map[string]interface{}{
		"start_time":    snap.StartTime.Format(time.RFC3339),
		"end_time":      snap.EndTime.Format(time.RFC3339),
		"wall_time_sec": snap.Duration().Seconds(),
		"metrics":       report,
		"frames":        snap.FramesSent,
		"drops": map[string]uint64{
			"mac_backoff": snap.MACDrops,
			"ttl":         snap.TTLDrops,
			"loop":        snap.LoopDrops,
			"no_route":    snap.NoRouteDrops,
			"duplicate":   snap.Duplicates,
		},
		"sessions": map[string]uint64{
			"started":     snap.SessionsStarted,
			"established": snap.SessionsEstablished,
			"expired":     snap.SessionsExpired,
		},
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats JSON: %w", err)
	}

	if err := os.WriteFile(r.exportFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write stats file %s: %w", r.exportFile, err)
	}

	log.WithField("file", r.exportFile).Info("Statistics exported to JSON")
	return nil
}

// FormatReport generates a formatted statistics report string.
func (r *Reporter) FormatReport() string {
	snap := r.collector.Snapshot()
	report := snap.Report()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n=== FANET Simulation Statistics (wall: %s) ===\n", snap.Duration().Round(time.Millisecond)))

	sb.WriteString("Frames on air:\n")
	kinds := make([]string, 0, len(snap.FramesSent))
	for kind := range snap.FramesSent {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		sb.WriteString(fmt.Sprintf("  %-14s %d\n", kind+":", snap.FramesSent[kind]))
	}

	sb.WriteString("Sessions:\n")
	sb.WriteString(fmt.Sprintf("  Started: %d  |  Established: %d  |  Expired: %d\n",
		snap.SessionsStarted, snap.SessionsEstablished, snap.SessionsExpired))

	sb.WriteString("Drops:\n")
	sb.WriteString(fmt.Sprintf("  MAC: %d  |  TTL: %d  |  Loop: %d  |  No route: %d  |  Duplicate: %d\n",
		snap.MACDrops, snap.TTLDrops, snap.LoopDrops, snap.NoRouteDrops, snap.Duplicates))

	sb.WriteString("Data plane:\n")
	sb.WriteString(fmt.Sprintf("  Attempted: %d  |  Delivered: %d  |  PDR: %.3f\n",
		report.Attempted, report.Delivered, report.PDR))
	if report.Delivered > 0 {
		sb.WriteString(fmt.Sprintf("  Avg latency: %.4f s  |  Avg hops: %.2f\n",
			report.AvgLatencyS, report.AvgHops))
	}

	sb.WriteString("================================================\n")
	return sb.String()
}
