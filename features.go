package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
)

// ===========================================================================
// FEATURE SPACE VISUALIZATION - PCA projection of penultimate activations
// ===========================================================================
//
// WHAT'S GOING ON HERE:
// A trained classifier maps every image to a feature vector right before
// the final linear layer (64 dimensions for the resnet, 512 for the
// convnet). If training worked, images of the same class land close
// together in that space. This file projects those vectors down to 2D so
// you can actually look at the clusters.
//
// ALGORITHM (PCA):
// 1. Center the data (subtract mean)
// 2. Compute covariance matrix (how dimensions vary together)
// 3. Find the top 2 eigenvectors with power iteration
// 4. Project data onto them
//
// COMPLEXITY: O(n*d^2) where n=points, d=dimensions. For a few hundred
// test images in 64-512D this runs in well under a second.
//
// EDUCATIONAL PHILOSOPHY:
// Implemented from first principles with clarity over performance. A
// production system would reach for LAPACK bindings here.
//
// ===========================================================================

// PCA reduces high-dimensional feature vectors to 2D.
//
// Input: features is an (n, d) tensor, one row per sample.
// Output: (n, 2) tensor with 2D coordinates.
//
// Power iteration starts from a fixed-seed random vector, so the same
// input always projects to the same coordinates.
func PCA(features *Tensor) (*Tensor, error) {
	if len(features.shape) != 2 {
		return nil, fmt.Errorf("pca: expected 2D tensor, got shape %v", features.shape)
	}

	n := features.shape[0]
	d := features.shape[1]
	if n < 2 {
		return nil, fmt.Errorf("pca: need at least 2 points, got %d", n)
	}

	// Step 1: center each dimension.
	centered := NewTensor(n, d)
	for j := 0; j < d; j++ {
		mean := 0.0
		for i := 0; i < n; i++ {
			mean += features.At(i, j)
		}
		mean /= float64(n)
		for i := 0; i < n; i++ {
			centered.Set(features.At(i, j)-mean, i, j)
		}
	}

	// Step 2: covariance matrix, Cov = (1/n) * X^T * X.
	cov := NewTensor(d, d)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			sum := 0.0
			for k := 0; k < n; k++ {
				sum += centered.At(k, i) * centered.At(k, j)
			}
			cov.Set(sum/float64(n), i, j)
		}
	}

	// Step 3: top two eigenvectors. Power iteration finds the dominant
	// one; deflating the matrix and iterating again finds the second.
	rng := rand.New(rand.NewSource(1))
	pc1 := powerIteration(cov, 100, rng)
	pc2 := powerIteration(deflate(cov, pc1), 100, rng)

	// Step 4: project onto the principal components.
	result := NewTensor(n, 2)
	for i := 0; i < n; i++ {
		proj1, proj2 := 0.0, 0.0
		for j := 0; j < d; j++ {
			proj1 += centered.At(i, j) * pc1[j]
			proj2 += centered.At(i, j) * pc2[j]
		}
		result.Set(proj1, i, 0)
		result.Set(proj2, i, 1)
	}

	return result, nil
}

// powerIteration finds the dominant eigenvector of a symmetric matrix.
//
// Repeatedly multiplying a vector by the matrix and normalizing
// amplifies the component along the largest eigenvalue until it
// dominates.
func powerIteration(matrix *Tensor, iterations int, rng *rand.Rand) []float64 {
	d := matrix.shape[0]

	v := make([]float64, d)
	for i := 0; i < d; i++ {
		v[i] = rng.NormFloat64()
	}
	v = normalize(v)

	for iter := 0; iter < iterations; iter++ {
		vNew := make([]float64, d)
		for i := 0; i < d; i++ {
			for j := 0; j < d; j++ {
				vNew[i] += matrix.At(i, j) * v[j]
			}
		}
		v = normalize(vNew)
	}

	return v
}

// deflate removes an eigenvector's component from a matrix so the next
// power iteration converges to the following eigenvector.
//
// Formula: A_deflated = A - λ * v * v^T, with λ = v^T * A * v.
func deflate(matrix *Tensor, eigenvector []float64) *Tensor {
	d := matrix.shape[0]

	av := make([]float64, d)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			av[i] += matrix.At(i, j) * eigenvector[j]
		}
	}
	eigenvalue := 0.0
	for i := 0; i < d; i++ {
		eigenvalue += eigenvector[i] * av[i]
	}

	result := NewTensor(d, d)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			result.Set(matrix.At(i, j)-eigenvalue*eigenvector[i]*eigenvector[j], i, j)
		}
	}
	return result
}

// normalize scales a vector to unit length.
func normalize(v []float64) []float64 {
	norm := 0.0
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm < 1e-10 {
		return v
	}

	result := make([]float64, len(v))
	for i := range v {
		result[i] = v[i] / norm
	}
	return result
}

// FeatureScatterHTML writes projected feature points as a self-contained
// HTML scatter plot, one color per class. points must be (n, 2) with one
// label per row.
func FeatureScatterHTML(points *Tensor, labels []int, classNames []string, filename string) error {
	if len(points.shape) != 2 || points.shape[1] != 2 {
		return fmt.Errorf("scatter: expected (n, 2) points, got shape %v", points.shape)
	}
	n := points.shape[0]
	if len(labels) != n {
		return fmt.Errorf("scatter: %d points but %d labels", n, len(labels))
	}
	if n == 0 {
		return fmt.Errorf("scatter: no points to plot")
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		xs[i] = points.At(i, 0)
		ys[i] = points.At(i, 1)
	}
	namesJSON, err := json.Marshal(classNames)
	if err != nil {
		return fmt.Errorf("scatter: encode class names: %w", err)
	}

	html := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Feature Space - Local Image Model</title>
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
            max-width: 1000px;
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
        .chart-container {
            background: #161b22;
            border: 1px solid #30363d;
            border-radius: 6px;
            padding: 20px;
            margin-bottom: 20px;
        }
        canvas {
            width: 100%% !important;
            height: 600px !important;
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
        <h1>Feature Space</h1>
        <div class="subtitle">%d samples projected to 2D with PCA, colored by class</div>

        <div class="chart-container">
            <canvas id="scatter"></canvas>
        </div>

        <div class="footer">
            Generated by Local Image Model | Pure Go Implementation
        </div>
    </div>

    <script>
        // Data from Go
        const xs = %s;
        const ys = %s;
        const labels = %s;
        const classNames = %s;
        const palette = ['#58a6ff', '#56d364', '#f85149', '#d29922', '#bc8cff',
                         '#39c5cf', '#ff7b72', '#7ee787', '#ffa657', '#79c0ff'];

        function drawScatter() {
            const canvas = document.getElementById('scatter');
            const ctx = canvas.getContext('2d');
            const dpr = window.devicePixelRatio || 1;

            const rect = canvas.getBoundingClientRect();
            canvas.width = rect.width * dpr;
            canvas.height = rect.height * dpr;
            ctx.scale(dpr, dpr);

            const width = rect.width;
            const height = rect.height;
            const padding = 40;

            const minX = Math.min(...xs), maxX = Math.max(...xs);
            const minY = Math.min(...ys), maxY = Math.max(...ys);
            const rangeX = (maxX - minX) || 1;
            const rangeY = (maxY - minY) || 1;

            // Frame
            ctx.strokeStyle = '#30363d';
            ctx.lineWidth = 1;
            ctx.strokeRect(padding, padding, width - 2 * padding, height - 2 * padding);

            // Points
            for (let i = 0; i < xs.length; i++) {
                const px = padding + (width - 2 * padding) * (xs[i] - minX) / rangeX;
                const py = height - padding - (height - 2 * padding) * (ys[i] - minY) / rangeY;
                ctx.fillStyle = palette[labels[i] %% palette.length];
                ctx.globalAlpha = 0.75;
                ctx.beginPath();
                ctx.arc(px, py, 3, 0, 2 * Math.PI);
                ctx.fill();
            }
            ctx.globalAlpha = 1.0;

            // Legend
            let ly = padding + 14;
            for (let c = 0; c < classNames.length; c++) {
                ctx.fillStyle = palette[c %% palette.length];
                ctx.beginPath();
                ctx.arc(width - padding - 110, ly - 4, 4, 0, 2 * Math.PI);
                ctx.fill();
                ctx.fillStyle = '#c9d1d9';
                ctx.font = '12px sans-serif';
                ctx.textAlign = 'left';
                ctx.fillText(classNames[c], width - padding - 98, ly);
                ly += 18;
            }
        }

        window.onload = drawScatter;
        window.onresize = drawScatter;
    </script>
</body>
</html>`,
		n,
		formatJSArrayFloat(xs),
		formatJSArrayFloat(ys),
		formatJSArray(labels),
		string(namesJSON))

	return os.WriteFile(filename, []byte(html), 0o644)
}
