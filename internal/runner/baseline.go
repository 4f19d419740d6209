package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sadopc/hookwait/internal/core/lifecycle"
)

// Baseline holds callback latencies from a previous run.
type Baseline struct {
	Version   string                   `json:"version"`
	CreatedAt time.Time                `json:"created_at"`
	Entries   map[string]BaselineEntry `json:"entries"` // keyed by test name
}

// BaselineEntry holds the recorded callback latency for one test.
type BaselineEntry struct {
	Name     string        `json:"name"`
	TestID   string        `json:"test_id"`
	Duration time.Duration `json:"duration_ns"`
	DurHuman string        `json:"duration"` // for human readability
}

// Comparison holds a comparison between current and baseline latency.
type Comparison struct {
	Name         string        `json:"name"`
	Current      time.Duration `json:"current_ns"`
	Baseline     time.Duration `json:"baseline_ns"`
	Delta        time.Duration `json:"delta_ns"`
	DeltaPercent float64       `json:"delta_percent"`
	Regressed    bool          `json:"regressed"`
	IsNew        bool          `json:"is_new"`
}

func baselineKey(r *Result) string {
	if r.Name != "" {
		return r.Name
	}
	return r.TestID
}

// SaveBaseline writes the latencies of completed tests to path.
func SaveBaseline(path string, results []*Result) error {
	baseline := Baseline{
		Version:   "1",
		CreatedAt: time.Now(),
		Entries:   make(map[string]BaselineEntry),
	}

	for _, r := range results {
		if r.Status != lifecycle.StatusCompleted {
			continue
		}
		baseline.Entries[baselineKey(r)] = BaselineEntry{
			Name:     baselineKey(r),
			TestID:   r.TestID,
			Duration: r.Duration,
			DurHuman: formatDuration(r.Duration),
		}
	}

	data, err := json.MarshalIndent(baseline, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling baseline: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing baseline: %w", err)
	}
	return nil
}

// LoadBaseline reads a baseline file.
func LoadBaseline(path string) (*Baseline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading baseline: %w", err)
	}
	var baseline Baseline
	if err := json.Unmarshal(data, &baseline); err != nil {
		return nil, fmt.Errorf("parsing baseline: %w", err)
	}
	return &baseline, nil
}

// CompareBaseline compares completed results against a baseline.
// threshold is the percentage increase that counts as a regression (e.g. 20.0 = 20%).
func CompareBaseline(results []*Result, baseline *Baseline, threshold float64) []Comparison {
	var comparisons []Comparison

	for _, r := range results {
		if r.Status != lifecycle.StatusCompleted {
			continue
		}
		comp := Comparison{Name: baselineKey(r), Current: r.Duration}

		entry, ok := baseline.Entries[comp.Name]
		if !ok {
			comp.IsNew = true
			comparisons = append(comparisons, comp)
			continue
		}

		comp.Baseline = entry.Duration
		comp.Delta = r.Duration - entry.Duration
		if entry.Duration > 0 {
			comp.DeltaPercent = float64(comp.Delta) / float64(entry.Duration) * 100
		}
		comp.Regressed = comp.DeltaPercent > threshold
		comparisons = append(comparisons, comp)
	}
	return comparisons
}

// HasRegressions returns true if any comparisons show regressions.
func HasRegressions(comparisons []Comparison) bool {
	for _, c := range comparisons {
		if c.Regressed {
			return true
		}
	}
	return false
}
