package main

import (
	"fmt"
	"math/rand"
)

// Residual declares a residual module: out = act(body(x) + skip(x)).
//
// Body is the main branch, typically conv -> batchnorm -> relu -> conv ->
// batchnorm. The skip path is the identity when the body preserves shape;
// when the body changes channel count or downsamples, Build inserts a
// strided 1×1 convolution projection so the addition lines up. Activation
// is applied after the merge and defaults to relu, the standard choice
// since He et al. (2015).
type Residual struct {
	Body       []LayerSpec `json:"body"`
	Activation string      `json:"activation,omitempty"`
}

// Build constructs the body, works out whether a projection is needed,
// and wraps everything in a single ResidualLayer.
func (s Residual) Build(inShape []int, rng *rand.Rand) ([]Layer, []int, error) {
	if len(s.Body) == 0 {
		return nil, nil, fmt.Errorf("residual: empty body")
	}

	var body []Layer
	shape := inShape
	for i, spec := range s.Body {
		built, outShape, err := spec.Build(shape, rng)
		if err != nil {
			return nil, nil, fmt.Errorf("residual body layer %d: %w", i, err)
		}
		body = append(body, built...)
		shape = outShape
	}

	var proj *ConvLayer
	if !shapeEqual(inShape, shape) {
		if len(inShape) != 3 || len(shape) != 3 {
			return nil, nil, fmt.Errorf("residual: cannot project %v onto %v", inShape, shape)
		}
		if shape[1] == 0 || inShape[1]%shape[1] != 0 {
			return nil, nil, fmt.Errorf("residual: body downsamples %v to %v unevenly", inShape, shape)
		}
		stride := inShape[1] / shape[1]
		oh := (inShape[1]-1)/stride + 1
		ow := (inShape[2]-1)/stride + 1
		if oh != shape[1] || ow != shape[2] {
			return nil, nil, fmt.Errorf("residual: 1x1 projection gives %dx%d, body gives %dx%d",
				oh, ow, shape[1], shape[2])
		}
		proj = NewConvLayer(inShape[0], shape[0], 1, stride, 0, HeNormal(), rng)
	}

	act := s.Activation
	if act == ActIdentity {
		act = ActReLU
	}
	if !validActivation(act) {
		return nil, nil, fmt.Errorf("residual: unknown activation %q", s.Activation)
	}

	layer := &ResidualLayer{
		body:    body,
		proj:    proj,
		postAct: NewActivationLayer(act),
	}
	return []Layer{layer}, shape, nil
}

// ResidualLayer runs a body branch and a skip branch and merges them by
// addition. It is a compound layer: it owns its sublayers and presents
// their parameters as one flat list.
type ResidualLayer struct {
	body    []Layer
	proj    *ConvLayer // nil means identity skip
	postAct *ActivationLayer
}

func (l *ResidualLayer) Name() string { return "residual" }

func (l *ResidualLayer) Forward(x *Tensor, train bool) *Tensor {
	out := x
	for _, layer := range l.body {
		out = layer.Forward(out, train)
	}

	skip := x
	if l.proj != nil {
		skip = l.proj.Forward(x, train)
	}

	return l.postAct.Forward(Add(out, skip), train)
}

// Backward splits the merged gradient back into the two branches and sums
// their input gradients - addition fans the gradient out unchanged, so
// both branches receive the post-activation gradient as-is.
func (l *ResidualLayer) Backward(grad *Tensor) *Tensor {
	g := l.postAct.Backward(grad)

	gBody := g
	for i := len(l.body) - 1; i >= 0; i-- {
		gBody = l.body[i].Backward(gBody)
	}

	gSkip := g
	if l.proj != nil {
		gSkip = l.proj.Backward(g)
	}

	return Add(gBody, gSkip)
}

func (l *ResidualLayer) Params() []*Tensor {
	var params []*Tensor
	for _, layer := range l.body {
		params = append(params, layer.Params()...)
	}
	if l.proj != nil {
		params = append(params, l.proj.Params()...)
	}
	return params
}

// State exposes the running statistics of any batch norm layers in the
// body so checkpoints capture them.
func (l *ResidualLayer) State() []*Tensor {
	var state []*Tensor
	for _, layer := range l.body {
		if s, ok := layer.(Stateful); ok {
			state = append(state, s.State()...)
		}
	}
	return state
}
