package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"time"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Network glues layer specs into a runnable model. Construction does all
// the fussy work once: shape inference through the whole stack, weight
// initialization from a seeded RNG, and the softmax convention below.
//
// THE SOFTMAX CONVENTION:
// Classification recipes end with Affine{..., Activation: "softmax"},
// which reads naturally. But training softmax + cross-entropy as separate
// stages is numerically poor - log(exp(...)) overflows where the fused
// form doesn't, and the fused gradient is just (probabilities - onehot).
// So when the final built layer turns out to be a softmax, the network
// pops it and records it as the output activation instead. Forward returns
// logits; the cost function fuses the softmax; Predict applies it
// explicitly to give calibrated probabilities. Checkpoints store the
// original recipe, so the convention survives save/load.
//
// CHECKPOINT FORMAT:
//   1. uint32 little-endian header length
//   2. JSON header: input shape, class names, layer specs
//   3. Raw float64 tensor data, layer by layer - parameters first, then
//      running state (batch norm statistics) for layers that carry it
//
// A naive format - just tensor dumps. Production systems use SafeTensors
// or ONNX. For learning purposes, a format you can read with a hex dump
// is clearest.
//
// ===========================================================================

// Stateful marks layers that carry non-trainable state the checkpoint
// must persist (batch norm running statistics).
type Stateful interface {
	State() []*Tensor
}

// Network is an ordered stack of layers built from a recipe of specs.
type Network struct {
	specs       []LayerSpec
	inShape     []int // per-image shape, e.g. (1, 28, 28)
	outShape    []int
	layers      []Layer
	layerShapes [][]int // output shape after each layer, for Summary

	// outputActivation records a popped trailing softmax ("" otherwise).
	outputActivation string

	// ClassNames maps output indices to labels. Set from the dataset at
	// training time; persisted in checkpoints so Predict can name things.
	ClassNames []string

	// RunID is the UUID of the training run that produced the current
	// parameters. Set by Fit; persisted in checkpoints.
	RunID string

	// Means holds the per-channel pixel means (scaled domain) that were
	// subtracted from training inputs, or nil when training did not
	// center. Persisted in checkpoints so inference preprocessing
	// matches training exactly.
	Means []float64

	rng *rand.Rand
}

// NewNetwork builds a network for per-image input shape inShape.
// seed fixes weight initialization and dropout; pass 0 for a
// time-derived seed.
func NewNetwork(inShape []int, specs []LayerSpec, seed int64) (*Network, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("network: no layers")
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	n := &Network{
		specs:   specs,
		inShape: append([]int(nil), inShape...),
		rng:     rand.New(rand.NewSource(seed)),
	}

	shape := inShape
	for i, spec := range specs {
		built, outShape, err := spec.Build(shape, n.rng)
		if err != nil {
			return nil, fmt.Errorf("network: layer %d: %w", i, err)
		}
		for _, l := range built {
			n.layers = append(n.layers, l)
			n.layerShapes = append(n.layerShapes, append([]int(nil), outShape...))
		}
		shape = outShape
	}
	n.outShape = append([]int(nil), shape...)

	// Trailing softmax becomes the output activation (see file banner).
	if len(n.layers) > 0 {
		if act, ok := n.layers[len(n.layers)-1].(*ActivationLayer); ok && act.atype == ActSoftmax {
			n.layers = n.layers[:len(n.layers)-1]
			n.layerShapes = n.layerShapes[:len(n.layerShapes)-1]
			n.outputActivation = ActSoftmax
		}
	}

	return n, nil
}

// Forward runs the stack and returns raw outputs (logits for classifiers).
func (n *Network) Forward(x *Tensor, train bool) *Tensor {
	out := x
	for _, layer := range n.layers {
		out = layer.Forward(out, train)
	}
	return out
}

// Backward propagates dL/d(output) back through the stack, accumulating
// parameter gradients.
func (n *Network) Backward(grad *Tensor) *Tensor {
	g := grad
	for i := len(n.layers) - 1; i >= 0; i-- {
		g = n.layers[i].Backward(g)
	}
	return g
}

// Predict runs inference and applies the output activation, returning
// per-class probabilities when the recipe ended in softmax.
func (n *Network) Predict(x *Tensor) *Tensor {
	out := n.Forward(x, false)
	if n.outputActivation == ActSoftmax {
		out = Softmax(out)
	}
	return out
}

// Features runs inference up to (not including) the final affine layer and
// returns those activations flattened to (batch, features). This is the
// learned representation the feature-projection report visualizes.
func (n *Network) Features(x *Tensor) *Tensor {
	head := -1
	for i := len(n.layers) - 1; i >= 0; i-- {
		if _, ok := n.layers[i].(*AffineLayer); ok {
			head = i
			break
		}
	}

	out := x
	for i, layer := range n.layers {
		if i == head {
			break
		}
		out = layer.Forward(out, false)
	}

	if len(out.shape) != 2 {
		batch := out.shape[0]
		out = out.Reshape(batch, out.Size()/batch)
	}
	return out
}

// Params returns every trainable tensor in layer order.
func (n *Network) Params() []*Tensor {
	var params []*Tensor
	for _, layer := range n.layers {
		params = append(params, layer.Params()...)
	}
	return params
}

// ZeroGrad clears all parameter gradients. Call before each batch.
func (n *Network) ZeroGrad() {
	for _, p := range n.Params() {
		p.ZeroGrad()
	}
}

// NumParams counts trainable scalars.
func (n *Network) NumParams() int {
	total := 0
	for _, p := range n.Params() {
		total += p.Size()
	}
	return total
}

// InputShape returns the per-image input shape the network was built for.
func (n *Network) InputShape() []int {
	return append([]int(nil), n.inShape...)
}

// OutputShape returns the per-image output shape (e.g. [10] for a
// ten-class head).
func (n *Network) OutputShape() []int {
	return append([]int(nil), n.outShape...)
}

// Classes returns the output width, assuming a flat classification head.
func (n *Network) Classes() int {
	w := 1
	for _, d := range n.outShape {
		w *= d
	}
	return w
}

// ClassName returns the label for output index i, falling back to a
// generated name when the network carries no class list.
func (n *Network) ClassName(i int) string {
	if i >= 0 && i < len(n.ClassNames) {
		return n.ClassNames[i]
	}
	return fmt.Sprintf("class%d", i)
}

// Summary renders a per-layer table: name, output shape, parameter count.
func (n *Network) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %-12s %-16s %s\n", "#", "layer", "output", "params")

	shapeStr := func(s []int) string {
		parts := make([]string, len(s))
		for i, d := range s {
			parts[i] = fmt.Sprintf("%d", d)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}

	for i, layer := range n.layers {
		count := 0
		for _, p := range layer.Params() {
			count += p.Size()
		}
		fmt.Fprintf(&b, "%-4d %-12s %-16s %d\n", i, layer.Name(), shapeStr(n.layerShapes[i]), count)
	}

	if n.outputActivation != "" {
		fmt.Fprintf(&b, "output activation: %s\n", n.outputActivation)
	}
	fmt.Fprintf(&b, "total parameters: %d\n", n.NumParams())
	return b.String()
}

// checkpointTensors returns every tensor the checkpoint persists, in a
// deterministic order: per layer, parameters then running state.
func (n *Network) checkpointTensors() []*Tensor {
	var tensors []*Tensor
	for _, layer := range n.layers {
		tensors = append(tensors, layer.Params()...)
		if s, ok := layer.(Stateful); ok {
			tensors = append(tensors, s.State()...)
		}
	}
	return tensors
}

// networkHeader is the JSON header of a checkpoint file.
type networkHeader struct {
	Version    int               `json:"version"`
	InputShape []int             `json:"input_shape"`
	ClassNames []string          `json:"class_names,omitempty"`
	RunID      string            `json:"run_id,omitempty"`
	Means      []float64         `json:"means,omitempty"`
	Layers     []layerSpecRecord `json:"layers"`
}

const checkpointVersion = 1

// Save writes the network to a file.
func (n *Network) Save(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	records, err := encodeLayerSpecs(n.specs)
	if err != nil {
		return fmt.Errorf("failed to encode layer specs: %w", err)
	}

	headerJSON, err := json.Marshal(networkHeader{
		Version:    checkpointVersion,
		InputShape: n.inShape,
		ClassNames: n.ClassNames,
		RunID:      n.RunID,
		Means:      n.Means,
		Layers:     records,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	// Write header length (4 bytes), then the JSON header.
	headerLen := uint32(len(headerJSON))
	if err := binary.Write(f, binary.LittleEndian, headerLen); err != nil {
		return fmt.Errorf("failed to write header length: %w", err)
	}
	if _, err := f.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, t := range n.checkpointTensors() {
		if err := binary.Write(f, binary.LittleEndian, t.data); err != nil {
			return fmt.Errorf("failed to write tensor %d: %w", i, err)
		}
	}

	return nil
}

// LoadNetwork reads a network from a checkpoint file, rebuilding the
// architecture from the header and then filling in the saved tensors.
func LoadNetwork(filename string) (*Network, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var headerLen uint32
	if err := binary.Read(f, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("failed to read header length: %w", err)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerJSON); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var header networkHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("failed to unmarshal header: %w", err)
	}
	if header.Version != checkpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", header.Version)
	}

	specs, err := decodeLayerSpecs(header.Layers)
	if err != nil {
		return nil, fmt.Errorf("failed to decode layer specs: %w", err)
	}

	n, err := NewNetwork(header.InputShape, specs, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild network: %w", err)
	}
	n.ClassNames = header.ClassNames
	n.RunID = header.RunID
	n.Means = header.Means

	for i, t := range n.checkpointTensors() {
		if err := binary.Read(f, binary.LittleEndian, t.data); err != nil {
			return nil, fmt.Errorf("failed to read tensor %d: %w", i, err)
		}
	}

	return n, nil
}
