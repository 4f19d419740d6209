package runner

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/sadopc/hookwait/internal/core/lifecycle"
)

func TestSaveAndLoadBaseline(t *testing.T) {
	results := []*Result{
		{Name: "create payment", TestID: "pay-1", Status: lifecycle.StatusCompleted, Duration: 120 * time.Millisecond},
		{TestID: "refund-1", Status: lifecycle.StatusCompleted, Duration: 2 * time.Second},
		{TestID: "silent", Status: lifecycle.StatusTimeout, Duration: 30 * time.Second},
	}

	path := filepath.Join(t.TempDir(), "baseline.json")
	if err := SaveBaseline(path, results); err != nil {
		t.Fatal(err)
	}
	b, err := LoadBaseline(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(b.Entries))
	}
	entry := b.Entries["create payment"]
	if entry.TestID != "pay-1" || entry.Duration != 120*time.Millisecond || entry.DurHuman != "120ms" {
		t.Errorf("unexpected entry %+v", entry)
	}
	if _, ok := b.Entries["refund-1"]; !ok {
		t.Error("unnamed results are keyed by test id")
	}
	if _, ok := b.Entries["silent"]; ok {
		t.Error("timed out tests must not be recorded")
	}
}

func TestCompareBaseline(t *testing.T) {
	baseline := &Baseline{Entries: map[string]BaselineEntry{
		"slow":     {Duration: 100 * time.Millisecond},
		"improved": {Duration: 100 * time.Millisecond},
		"stable":   {Duration: 100 * time.Millisecond},
	}}
	results := []*Result{
		{Name: "slow", Status: lifecycle.StatusCompleted, Duration: 150 * time.Millisecond},
		{Name: "improved", Status: lifecycle.StatusCompleted, Duration: 50 * time.Millisecond},
		{Name: "stable", Status: lifecycle.StatusCompleted, Duration: 110 * time.Millisecond},
		{Name: "fresh", Status: lifecycle.StatusCompleted, Duration: 10 * time.Millisecond},
		{Name: "gone", Status: lifecycle.StatusTimeout},
	}

	comps := CompareBaseline(results, baseline, 20)
	if len(comps) != 4 {
		t.Fatalf("expected 4 comparisons, got %d", len(comps))
	}
	if !comps[0].Regressed || comps[0].DeltaPercent != 50 {
		t.Errorf("expected regression, got %+v", comps[0])
	}
	if comps[1].Regressed || comps[1].Delta != -50*time.Millisecond {
		t.Errorf("unexpected improvement %+v", comps[1])
	}
	if comps[2].Regressed {
		t.Errorf("10%% slower is within threshold: %+v", comps[2])
	}
	if !comps[3].IsNew {
		t.Errorf("expected new entry, got %+v", comps[3])
	}
	if !HasRegressions(comps) {
		t.Error("expected regressions")
	}
	if HasRegressions(comps[1:]) {
		t.Error("unexpected regressions")
	}

	var buf bytes.Buffer
	PrintComparison(&buf, comps, 20)
	for _, s := range []string{"Callback Latency Comparison", "regression", "improvement", "stable", "(new)"} {
		if !bytes.Contains(buf.Bytes(), []byte(s)) {
			t.Errorf("expected output to contain %q:\n%s", s, buf.String())
		}
	}
}

func TestLoadBaseline_NonExistent(t *testing.T) {
	if _, err := LoadBaseline("/nonexistent/path"); err == nil {
		t.Error("expected error for non-existent file")
	}
}
