package scheduler

import (
	"sort"
	"time"

	"dmvwatch/internal/checker"
)

const sampleCap = 5

// OfficeStatus is the capped per-office summary retained for presentation.
type OfficeStatus struct {
	Office    string   `json:"office"`
	URL       string   `json:"url,omitempty"`
	Available bool     `json:"available"`
	Count     int      `json:"count"`
	Samples   []string `json:"samples"`
}

// Snapshot is the read-only view of the last completed iteration. It is
// swapped atomically as a whole; readers never observe a partial update.
type Snapshot struct {
	At      time.Time      `json:"at"`
	Results []OfficeStatus `json:"results"`
}

// Latest returns the snapshot of the most recent completed iteration
// (zero-valued before the first one finishes).
func (s *Scheduler) Latest() Snapshot {
	p := s.latest.Load()
	if p == nil {
		return Snapshot{Results: []OfficeStatus{}}
	}
	return *p
}

func buildSnapshot(results []checker.Result) *Snapshot {
	statuses := make([]OfficeStatus, 0, len(results))
	for _, res := range results {
		sigs := res.Signatures()
		samples := sigs
		if len(samples) > sampleCap {
			samples = samples[:sampleCap]
		}
		statuses = append(statuses, OfficeStatus{
			Office:    res.Office.Name,
			URL:       res.Office.URL,
			Available: res.Available,
			Count:     len(sigs),
			Samples:   append([]string(nil), samples...),
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Office < statuses[j].Office })
	return &Snapshot{At: time.Now(), Results: statuses}
}
