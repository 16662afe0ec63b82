package export

import (
	"sync"
	"time"
)

// ExportResult is the outcome of one export attempt.
type ExportResult struct {
	Destination string        `json:"destination"`
	Success     bool          `json:"success"`
	Records     int           `json:"records"`
	Duration    time.Duration `json:"duration"`
	Timestamp   time.Time     `json:"timestamp"`
	Err         error         `json:"-"`
}

// DestinationStats is the per-destination slice of the ledger.
type DestinationStats struct {
	Exports     uint64        `json:"exports"`
	Successes   uint64        `json:"successes"`
	Failures    uint64        `json:"failures"`
	Records     uint64        `json:"records"`
	AvgLatency  time.Duration `json:"avg_latency"`
	LastSuccess time.Time     `json:"last_success,omitzero"`
	LastFailure time.Time     `json:"last_failure,omitzero"`
}

// Stats is the cumulative export ledger. Counters only ever grow, except
// through an explicit Reset.
type Stats struct {
	TotalExports  uint64                      `json:"total_exports"`
	Successful    uint64                      `json:"successful"`
	Failed        uint64                      `json:"failed"`
	TotalRecords  uint64                      `json:"total_records"`
	AvgLatency    time.Duration               `json:"avg_latency"`
	ByDestination map[string]DestinationStats `json:"by_destination"`
}

// ledger tracks cumulative export statistics with a running average latency.
type ledger struct {
	mu    sync.Mutex
	stats Stats
}

func newLedger() *ledger {
	return &ledger{stats: Stats{ByDestination: make(map[string]DestinationStats)}}
}

func (l *ledger) record(result ExportResult) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.TotalExports++
	l.stats.AvgLatency += (result.Duration - l.stats.AvgLatency) / time.Duration(l.stats.TotalExports)

	dest := l.stats.ByDestination[result.Destination]
	dest.Exports++
	dest.AvgLatency += (result.Duration - dest.AvgLatency) / time.Duration(dest.Exports)

	if result.Success {
		l.stats.Successful++
		l.stats.TotalRecords += uint64(result.Records)
		dest.Successes++
		dest.Records += uint64(result.Records)
		dest.LastSuccess = result.Timestamp
	} else {
		l.stats.Failed++
		dest.Failures++
		dest.LastFailure = result.Timestamp
	}

	l.stats.ByDestination[result.Destination] = dest
}

// snapshot returns a copy of the ledger.
func (l *ledger) snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := l.stats
	out.ByDestination = make(map[string]DestinationStats, len(l.stats.ByDestination))
	for k, v := range l.stats.ByDestination {
		out.ByDestination[k] = v
	}
	return out
}

// reset zeroes all counters.
func (l *ledger) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats = Stats{ByDestination: make(map[string]DestinationStats)}
}
