package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/hunter-cli/internal/model"
)

func TestComputeRunStats(t *testing.T) {
	start := time.Now().Add(-10 * time.Minute)
	end := start.Add(2 * time.Minute)

	runs := []model.Run{
		{Status: model.RunCompleted, StartedAt: start, EndedAt: &end, Totals: model.RunTotals{Staged: 100, Cleaned: 80, Enriched: 20, Exported: 15}},
		{Status: model.RunCompletedWithErrors, StartedAt: start, EndedAt: &end, Totals: model.RunTotals{Staged: 50, Cleaned: 30, Errors: 2}},
		{Status: model.RunFailed, StartedAt: start, EndedAt: &end},
		{Status: model.RunPaused, StartedAt: start},
		{Status: model.RunRunning, StartedAt: start},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 1, s.WithErrors)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Paused)
	assert.Equal(t, 1, s.Other)
	assert.Equal(t, 150, s.Staged)
	assert.Equal(t, 110, s.Cleaned)
	assert.InDelta(t, 120.0, s.AvgDurSecs, 0.1)
}

func TestComputeRunStatsEmpty(t *testing.T) {
	s := computeRunStats(nil)
	assert.Equal(t, 0, s.Total)
	assert.Zero(t, s.AvgDurSecs)
}

func TestFormatRunsList(t *testing.T) {
	start := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	var buf bytes.Buffer
	formatRunsList(&buf, []model.Run{
		{
			ID:        "0b5fca34-9f2c-4a64-b1d4-1c8f51f1c001",
			Spec:      model.SearchSpec{State: "SP", Municipality: "Campinas"},
			Status:    model.RunCompleted,
			Totals:    model.RunTotals{Cleaned: 42, Exported: 12},
			StartedAt: start,
			EndedAt:   &end,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "0b5fca34")
	assert.NotContains(t, out, "0b5fca34-9f2c")
	assert.Contains(t, out, "SP/Campinas")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "1m30s")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("1234567890"))
	assert.Equal(t, "short", truncateID("short"))
}
