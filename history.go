package main

/*
WHAT'S GOING ON HERE?

This file collects metrics during training and renders them as a
self-contained HTML report. We prioritize simplicity and educational
value over fancy graphics.

KEY CONCEPTS:
- TrainingHistory: two time series, one per optimizer step (loss,
  learning rate) and one per epoch (train loss, validation loss,
  validation error)
- HTML-based report: a single file that opens in any browser
- No external plotting libraries: everything generated from pure Go

WHY HTML?
- Works everywhere (just open in browser)
- Self-contained (no server needed)
- Easy to share and archive training runs

The HistoryCallback in callback.go feeds this during Fit; the train
command writes the report into the run directory afterwards.
*/

import (
	"fmt"
	"math"
	"os"
	"strings"
)

// TrainingHistory stores metrics collected during a training run.
//
// Batch-level slices grow by one entry per optimizer step; epoch-level
// slices grow by one entry per epoch. Validation entries are NaN when
// the run had no validation iterator.
type TrainingHistory struct {
	RunID string

	// Per-step series.
	Steps         []int
	Epochs        []int
	Losses        []float64
	LearningRates []float64

	// Per-epoch series.
	EpochNumbers []int
	EpochSteps   []int
	TrainLosses  []float64
	ValidLosses  []float64
	ValidErrors  []float64
}

// NewTrainingHistory creates an empty history tracker.
func NewTrainingHistory() *TrainingHistory {
	return &TrainingHistory{}
}

// RecordBatch adds one per-step data point.
func (h *TrainingHistory) RecordBatch(step, epoch int, loss, lr float64) {
	h.Steps = append(h.Steps, step)
	h.Epochs = append(h.Epochs, epoch)
	h.Losses = append(h.Losses, loss)
	h.LearningRates = append(h.LearningRates, lr)
}

// RecordEpoch adds one per-epoch data point. validLoss and validError
// are NaN when no validation set was evaluated.
func (h *TrainingHistory) RecordEpoch(epoch, step int, trainLoss, validLoss, validError float64) {
	h.EpochNumbers = append(h.EpochNumbers, epoch)
	h.EpochSteps = append(h.EpochSteps, step)
	h.TrainLosses = append(h.TrainLosses, trainLoss)
	h.ValidLosses = append(h.ValidLosses, validLoss)
	h.ValidErrors = append(h.ValidErrors, validError)
}

// HasValidation reports whether any epoch recorded a real (non-NaN)
// validation loss.
func (h *TrainingHistory) HasValidation() bool {
	for _, v := range h.ValidLosses {
		if !math.IsNaN(v) {
			return true
		}
	}
	return false
}

// BestValidError returns the lowest recorded validation error rate,
// or NaN if the run had no validation set.
func (h *TrainingHistory) BestValidError() float64 {
	best := math.NaN()
	for _, v := range h.ValidErrors {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(best) || v < best {
			best = v
		}
	}
	return best
}

// SaveHTML writes the history as an interactive HTML file.
//
// The report contains:
// - Summary statistic cards
// - Per-step loss curve and learning rate schedule
// - Per-epoch train/validation loss and validation error charts
//
// The charts use basic HTML/CSS/JS (no external dependencies).
func (h *TrainingHistory) SaveHTML(filename string) error {
	if len(h.Steps) == 0 {
		return fmt.Errorf("no metrics to save")
	}

	finalLoss := h.Losses[len(h.Losses)-1]
	minLoss := h.Losses[0]
	for _, loss := range h.Losses {
		if loss < minLoss {
			minLoss = loss
		}
	}

	// Fourth stat card shows validation error when we have it,
	// otherwise the minimum batch loss.
	lastLabel := "Min Loss"
	lastValue := fmt.Sprintf("%.4f", minLoss)
	if h.HasValidation() {
		lastLabel = "Best Valid Error"
		lastValue = fmt.Sprintf("%.2f%%", h.BestValidError()*100)
	}

	epochs := 0
	if n := len(h.EpochNumbers); n > 0 {
		epochs = h.EpochNumbers[n-1]
	}

	// Chart sections below the two per-step charts. Only emitted when
	// the data exists, so a validation-free run still gets a clean page.
	var extraCharts, extraDraws strings.Builder
	if len(h.EpochNumbers) > 1 {
		extraCharts.WriteString(`
        <div class="chart-container">
            <div class="chart-title">Loss by Epoch</div>
            <canvas id="epochChart"></canvas>
        </div>
`)
		if h.HasValidation() {
			extraDraws.WriteString(`
            drawChart('epochChart', epochNumbers, [
                {data: trainLosses, color: '#58a6ff', label: 'train'},
                {data: validLosses, color: '#d29922', label: 'valid'},
            ], 'Epoch', 'Loss');`)
		} else {
			extraDraws.WriteString(`
            drawChart('epochChart', epochNumbers, [
                {data: trainLosses, color: '#58a6ff', label: 'train'},
            ], 'Epoch', 'Loss');`)
		}
	}
	if len(h.EpochNumbers) > 1 && h.HasValidation() {
		extraCharts.WriteString(`
        <div class="chart-container">
            <div class="chart-title">Validation Error</div>
            <canvas id="errChart"></canvas>
        </div>
`)
		extraDraws.WriteString(`
            drawChart('errChart', epochNumbers, [
                {data: validErrors, color: '#f85149', label: 'error'},
            ], 'Epoch', 'Error (%)');`)
	}

	validErrPct := make([]float64, len(h.ValidErrors))
	for i, v := range h.ValidErrors {
		validErrPct[i] = v * 100
	}

	html := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Training Run - Local Image Model</title>
    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', 'Roboto', 'Oxygen', 'Ubuntu', 'Cantarell', sans-serif;
            background: #0d1117;
            color: #c9d1d9;
            padding: 20px;
            line-height: 1.6;
        }
        .container {
            max-width: 1200px;
            margin: 0 auto;
        }
        h1 {
            font-size: 28px;
            margin-bottom: 10px;
            color: #58a6ff;
        }
        .subtitle {
            color: #8b949e;
            margin-bottom: 30px;
            font-size: 14px;
        }
        .stats {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(200px, 1fr));
            gap: 15px;
            margin-bottom: 30px;
        }
        .stat-card {
            background: #161b22;
            border: 1px solid #30363d;
            border-radius: 6px;
            padding: 15px;
        }
        .stat-label {
            font-size: 12px;
            color: #8b949e;
            text-transform: uppercase;
            letter-spacing: 0.5px;
            margin-bottom: 5px;
        }
        .stat-value {
            font-size: 24px;
            font-weight: 600;
            color: #58a6ff;
        }
        .chart-container {
            background: #161b22;
            border: 1px solid #30363d;
            border-radius: 6px;
            padding: 20px;
            margin-bottom: 20px;
        }
        .chart-title {
            font-size: 18px;
            font-weight: 600;
            margin-bottom: 15px;
            color: #c9d1d9;
        }
        canvas {
            width: 100%% !important;
            height: 300px !important;
        }
        .footer {
            text-align: center;
            color: #8b949e;
            font-size: 12px;
            margin-top: 40px;
            padding-top: 20px;
            border-top: 1px solid #30363d;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>Training Run</h1>
        <div class="subtitle">Run %s</div>

        <div class="stats">
            <div class="stat-card">
                <div class="stat-label">Total Steps</div>
                <div class="stat-value">%d</div>
            </div>
            <div class="stat-card">
                <div class="stat-label">Epochs</div>
                <div class="stat-value">%d</div>
            </div>
            <div class="stat-card">
                <div class="stat-label">Final Train Loss</div>
                <div class="stat-value">%.4f</div>
            </div>
            <div class="stat-card">
                <div class="stat-label">%s</div>
                <div class="stat-value">%s</div>
            </div>
        </div>

        <div class="chart-container">
            <div class="chart-title">Training Loss</div>
            <canvas id="lossChart"></canvas>
        </div>

        <div class="chart-container">
            <div class="chart-title">Learning Rate Schedule</div>
            <canvas id="lrChart"></canvas>
        </div>
%s
        <div class="footer">
            Generated by Local Image Model | Pure Go Implementation
        </div>
    </div>

    <script>
        // Data from Go
        const steps = %s;
        const losses = %s;
        const learningRates = %s;
        const epochNumbers = %s;
        const trainLosses = %s;
        const validLosses = %s;
        const validErrors = %s;

        // Simple multi-series line chart. series is a list of
        // {data, color, label}; null data points break the line.
        function drawChart(canvasId, xs, series, xLabel, yLabel) {
            const canvas = document.getElementById(canvasId);
            const ctx = canvas.getContext('2d');
            const dpr = window.devicePixelRatio || 1;

            // Set canvas size accounting for device pixel ratio
            const rect = canvas.getBoundingClientRect();
            canvas.width = rect.width * dpr;
            canvas.height = rect.height * dpr;
            ctx.scale(dpr, dpr);

            const width = rect.width;
            const height = rect.height;
            const padding = 50;
            const chartWidth = width - 2 * padding;
            const chartHeight = height - 2 * padding;

            // Find data range across all series
            const vals = [];
            for (const s of series) {
                for (const v of s.data) {
                    if (v !== null) vals.push(v);
                }
            }
            const minVal = Math.min(...vals);
            const maxVal = Math.max(...vals);
            const range = (maxVal - minVal) || 1;
            const minX = Math.min(...xs);
            const maxX = Math.max(...xs);
            const xRange = (maxX - minX) || 1;

            // Draw axes
            ctx.strokeStyle = '#30363d';
            ctx.lineWidth = 1;
            ctx.beginPath();
            ctx.moveTo(padding, padding);
            ctx.lineTo(padding, height - padding);
            ctx.lineTo(width - padding, height - padding);
            ctx.stroke();

            // Draw grid lines
            ctx.strokeStyle = '#21262d';
            ctx.lineWidth = 1;
            for (let i = 1; i < 5; i++) {
                const y = padding + (chartHeight * i / 5);
                ctx.beginPath();
                ctx.moveTo(padding, y);
                ctx.lineTo(width - padding, y);
                ctx.stroke();

                // Y-axis labels
                const val = maxVal - (range * i / 5);
                ctx.fillStyle = '#8b949e';
                ctx.font = '11px monospace';
                ctx.textAlign = 'right';
                ctx.fillText(val.toFixed(4), padding - 10, y + 4);
            }

            // Draw each series
            for (const s of series) {
                ctx.strokeStyle = s.color;
                ctx.lineWidth = 2;
                ctx.beginPath();
                let pen = false;
                for (let i = 0; i < s.data.length; i++) {
                    if (s.data[i] === null) {
                        pen = false;
                        continue;
                    }
                    const x = padding + (chartWidth * (xs[i] - minX) / xRange);
                    const y = height - padding - (chartHeight * (s.data[i] - minVal) / range);
                    if (!pen) {
                        ctx.moveTo(x, y);
                        pen = true;
                    } else {
                        ctx.lineTo(x, y);
                    }
                }
                ctx.stroke();
            }

            // Legend for multi-series charts
            if (series.length > 1) {
                let lx = padding + 10;
                for (const s of series) {
                    ctx.fillStyle = s.color;
                    ctx.fillRect(lx, padding + 8, 12, 3);
                    ctx.fillStyle = '#c9d1d9';
                    ctx.font = '11px sans-serif';
                    ctx.textAlign = 'left';
                    ctx.fillText(s.label, lx + 16, padding + 13);
                    lx += 16 + ctx.measureText(s.label).width + 20;
                }
            }

            // X-axis labels
            ctx.fillStyle = '#8b949e';
            ctx.font = '11px monospace';
            ctx.textAlign = 'center';
            for (let i = 0; i <= 4; i++) {
                const xv = minX + (xRange * i / 4);
                const x = padding + (chartWidth * i / 4);
                ctx.fillText(Math.round(xv).toString(), x, height - padding + 20);
            }

            // Axis labels
            ctx.fillStyle = '#c9d1d9';
            ctx.font = '12px sans-serif';
            ctx.textAlign = 'center';
            ctx.fillText(xLabel, width / 2, height - 10);

            ctx.save();
            ctx.translate(15, height / 2);
            ctx.rotate(-Math.PI / 2);
            ctx.fillText(yLabel, 0, 0);
            ctx.restore();
        }

        function render() {
            drawChart('lossChart', steps, [
                {data: losses, color: '#58a6ff', label: 'loss'},
            ], 'Training Step', 'Loss');
            drawChart('lrChart', steps, [
                {data: learningRates, color: '#56d364', label: 'lr'},
            ], 'Training Step', 'Learning Rate');%s
        }

        // Draw charts when page loads, redraw on resize
        window.onload = render;
        window.onresize = render;
    </script>
</body>
</html>`,
		h.RunID,
		len(h.Steps), epochs, finalLoss, lastLabel, lastValue,
		extraCharts.String(),
		formatJSArray(h.Steps),
		formatJSArrayFloat(h.Losses),
		formatJSArrayFloat(h.LearningRates),
		formatJSArray(h.EpochNumbers),
		formatJSArrayFloat(h.TrainLosses),
		formatJSArrayFloat(h.ValidLosses),
		formatJSArrayFloat(validErrPct),
		extraDraws.String())

	return os.WriteFile(filename, []byte(html), 0o644)
}

// formatJSArray formats an int slice as a JavaScript array literal.
func formatJSArray(arr []int) string {
	if len(arr) == 0 {
		return "[]"
	}
	var sb strings.Builder
	sb.WriteString("[")
	for i, v := range arr {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(fmt.Sprintf("%d", v))
	}
	sb.WriteString("]")
	return sb.String()
}

// formatJSArrayFloat formats a float64 slice as a JavaScript array
// literal. NaN becomes null so charts can skip missing points.
func formatJSArrayFloat(arr []float64) string {
	if len(arr) == 0 {
		return "[]"
	}
	var sb strings.Builder
	sb.WriteString("[")
	for i, v := range arr {
		if i > 0 {
			sb.WriteString(",")
		}
		switch {
		case math.IsNaN(v):
			sb.WriteString("null")
		case math.IsInf(v, 1):
			sb.WriteString("1e308")
		case math.IsInf(v, -1):
			sb.WriteString("-1e308")
		default:
			sb.WriteString(fmt.Sprintf("%.6f", v))
		}
	}
	sb.WriteString("]")
	return sb.String()
}
