package main

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTrainingHistoryRecording(t *testing.T) {
	h := NewTrainingHistory()

	h.RecordBatch(0, 0, 2.30, 0.1)
	h.RecordBatch(1, 0, 2.25, 0.1)
	h.RecordEpoch(0, 2, 2.27, math.NaN(), math.NaN())

	if len(h.Steps) != 2 || len(h.EpochNumbers) != 1 {
		t.Fatalf("recorded %d steps, %d epochs", len(h.Steps), len(h.EpochNumbers))
	}
	if h.Losses[0] != 2.30 || h.LearningRates[1] != 0.1 {
		t.Errorf("batch series wrong: %v %v", h.Losses, h.LearningRates)
	}
	if h.HasValidation() {
		t.Error("HasValidation() = true with only NaN entries")
	}
	if !math.IsNaN(h.BestValidError()) {
		t.Error("BestValidError() should be NaN without validation")
	}
}

func TestTrainingHistoryValidation(t *testing.T) {
	h := NewTrainingHistory()
	h.RecordEpoch(0, 10, 1.8, 1.9, 0.52)
	h.RecordEpoch(1, 20, 1.2, 1.4, 0.31)
	h.RecordEpoch(2, 30, 0.9, 1.5, 0.36) // overfitting tail

	if !h.HasValidation() {
		t.Error("HasValidation() = false")
	}
	if got := h.BestValidError(); got != 0.31 {
		t.Errorf("BestValidError() = %f, want 0.31", got)
	}
}

func TestSaveHTMLEmpty(t *testing.T) {
	h := NewTrainingHistory()
	err := h.SaveHTML(filepath.Join(t.TempDir(), "report.html"))
	if err == nil || !strings.Contains(err.Error(), "no metrics") {
		t.Errorf("expected a no-metrics error, got %v", err)
	}
}

func TestSaveHTMLReport(t *testing.T) {
	h := NewTrainingHistory()
	h.RunID = "run-abc"
	for step := 0; step < 20; step++ {
		h.RecordBatch(step, step/10, 2.3-0.1*float64(step), 0.1)
	}
	h.RecordEpoch(0, 10, 1.85, 1.9, 0.42)
	h.RecordEpoch(1, 20, 0.85, 1.1, 0.18)

	path := filepath.Join(t.TempDir(), "report.html")
	if err := h.SaveHTML(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	html := string(data)

	for _, want := range []string{
		"run-abc",
		"<canvas id=\"lossChart\">",
		"<canvas id=\"lrChart\">",
		"<canvas id=\"epochChart\">",
		"<canvas id=\"errChart\">",
		"Best Valid Error",
		"18.00%", // best valid error as a percentage
		"const steps = [0,1,2",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestSaveHTMLWithoutValidation(t *testing.T) {
	h := NewTrainingHistory()
	for step := 0; step < 4; step++ {
		h.RecordBatch(step, 0, 1.0, 0.1)
	}
	h.RecordEpoch(0, 4, 1.0, math.NaN(), math.NaN())

	path := filepath.Join(t.TempDir(), "report.html")
	if err := h.SaveHTML(path); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	html := string(data)

	if strings.Contains(html, "errChart") {
		t.Error("validation-free report should omit the error chart")
	}
	if !strings.Contains(html, "Min Loss") {
		t.Error("fourth stat card should fall back to min loss")
	}
	// NaN validation series must render as JS nulls, not NaN literals.
	if strings.Contains(html, "NaN") {
		t.Error("report leaked NaN into JavaScript")
	}
}

func TestFormatJSArray(t *testing.T) {
	if got := formatJSArray(nil); got != "[]" {
		t.Errorf("formatJSArray(nil) = %q", got)
	}
	if got := formatJSArray([]int{1, 2, 3}); got != "[1,2,3]" {
		t.Errorf("formatJSArray = %q", got)
	}
}

func TestFormatJSArrayFloat(t *testing.T) {
	if got := formatJSArrayFloat(nil); got != "[]" {
		t.Errorf("empty = %q", got)
	}

	got := formatJSArrayFloat([]float64{1.5, math.NaN(), math.Inf(1), math.Inf(-1)})
	want := "[1.500000,null,1e308,-1e308]"
	if got != want {
		t.Errorf("formatJSArrayFloat = %q, want %q", got, want)
	}
}
