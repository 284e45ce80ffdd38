package events

import "strings"

// Topic names follow a dotted hierarchy. Per-cycle topics let subscribers
// follow a single accounting cycle; the ".all" variants carry everything.
const (
	TopicLedgerEntryAll     = "ledger.entry.all"
	TopicCycleCheckpointAll = "cycle.checkpoint.all"
	TopicExportProgressAll  = "export.progress.all"
)

// LedgerEntryCreated names the topic for journal entries of one cycle.
func LedgerEntryCreated(cycleID string) string {
	cycleID = strings.TrimSpace(cycleID)
	if cycleID == "" {
		return TopicLedgerEntryAll
	}
	return "ledger.entry." + cycleID
}

// CycleCheckpointClosed names the topic for checkpoint announcements.
func CycleCheckpointClosed(cycleID string) string {
	cycleID = strings.TrimSpace(cycleID)
	if cycleID == "" {
		return TopicCycleCheckpointAll
	}
	return "cycle.checkpoint." + cycleID
}

// LicenseUpdated names the per-work license change topic.
func LicenseUpdated(workID string) string {
	return "license.updated." + strings.TrimSpace(workID)
}

// ExportProgress names the per-job export progress topic.
func ExportProgress(jobID string) string {
	return "export.progress." + strings.TrimSpace(jobID)
}
