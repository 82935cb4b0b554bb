package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The two halves of the model descriptor:
//
//   LayerSpec - declarative. A plain struct you write in a model recipe
//       (models.go) or decode from a checkpoint header. Specs know how to
//       Build themselves into runtime layers given an input shape.
//
//   Layer - operational. Holds parameters and activations, runs Forward
//       and Backward. Built once per network, stateful across a batch
//       (Forward caches what Backward needs).
//
// One spec may build several layers: Affine{Nout: 100, Activation: "relu",
// BatchNorm: true} expands to affine -> batchnorm -> relu, the composition
// order image classifiers conventionally use. Shape inference happens at
// Build time so that an inconsistent architecture fails before any data is
// touched, with an error naming the offending stage.
//
// Forward takes a train flag because two layers behave differently between
// training and inference: Dropout (active vs identity) and BatchNorm
// (batch statistics vs running averages).
//
// ===========================================================================

// Activation function names accepted by layer specs.
const (
	ActIdentity = ""
	ActReLU     = "relu"
	ActSigmoid  = "sigmoid"
	ActTanh     = "tanh"
	ActSoftmax  = "softmax"
)

// Layer is a differentiable stage of a network.
//
// Forward consumes the previous stage's output and caches whatever the
// backward pass will need. Backward consumes dL/d(output), accumulates
// parameter gradients in place, and returns dL/d(input). Params returns
// the trainable tensors, in a stable order, for the optimizer and the
// checkpoint writer.
type Layer interface {
	Name() string
	Forward(x *Tensor, train bool) *Tensor
	Backward(grad *Tensor) *Tensor
	Params() []*Tensor
}

// LayerSpec is a declarative layer description. Build instantiates the
// runtime layers for the given input shape (excluding the batch dimension)
// and returns them with the resulting output shape.
type LayerSpec interface {
	Build(inShape []int, rng *rand.Rand) ([]Layer, []int, error)
}

// ===========================================================================
// SPEC SERIALIZATION
// ===========================================================================
//
// Checkpoints store the architecture as JSON so a saved model can be
// reloaded without the recipe that created it. Go's encoding/json can't
// round-trip an interface slice directly, so specs travel as a tagged
// union: one record struct with a kind discriminator and one pointer field
// per spec type.

type layerSpecRecord struct {
	Kind       string          `json:"kind"`
	Affine     *Affine         `json:"affine,omitempty"`
	Conv       *Conv           `json:"conv,omitempty"`
	Pool       *Pool           `json:"pool,omitempty"`
	Activation *Activation     `json:"activation,omitempty"`
	Dropout    *Dropout        `json:"dropout,omitempty"`
	BatchNorm  *BatchNorm      `json:"batchnorm,omitempty"`
	Flatten    *Flatten        `json:"flatten,omitempty"`
	Residual   *residualRecord `json:"residual,omitempty"`
}

type residualRecord struct {
	Body       []layerSpecRecord `json:"body"`
	Activation string            `json:"activation,omitempty"`
}

func encodeLayerSpecs(specs []LayerSpec) ([]layerSpecRecord, error) {
	records := make([]layerSpecRecord, 0, len(specs))
	for i, spec := range specs {
		rec, err := encodeLayerSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func encodeLayerSpec(spec LayerSpec) (layerSpecRecord, error) {
	switch s := spec.(type) {
	case Affine:
		return layerSpecRecord{Kind: "affine", Affine: &s}, nil
	case Conv:
		return layerSpecRecord{Kind: "conv", Conv: &s}, nil
	case Pool:
		return layerSpecRecord{Kind: "pool", Pool: &s}, nil
	case Activation:
		return layerSpecRecord{Kind: "activation", Activation: &s}, nil
	case Dropout:
		return layerSpecRecord{Kind: "dropout", Dropout: &s}, nil
	case BatchNorm:
		return layerSpecRecord{Kind: "batchnorm", BatchNorm: &s}, nil
	case Flatten:
		return layerSpecRecord{Kind: "flatten", Flatten: &s}, nil
	case Residual:
		body, err := encodeLayerSpecs(s.Body)
		if err != nil {
			return layerSpecRecord{}, err
		}
		return layerSpecRecord{Kind: "residual", Residual: &residualRecord{
			Body:       body,
			Activation: s.Activation,
		}}, nil
	default:
		return layerSpecRecord{}, fmt.Errorf("cannot serialize layer spec of type %T", spec)
	}
}

func decodeLayerSpecs(records []layerSpecRecord) ([]LayerSpec, error) {
	specs := make([]LayerSpec, 0, len(records))
	for i, rec := range records {
		spec, err := decodeLayerSpec(rec)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func decodeLayerSpec(rec layerSpecRecord) (LayerSpec, error) {
	switch rec.Kind {
	case "affine":
		if rec.Affine == nil {
			return nil, fmt.Errorf("affine record missing body")
		}
		return *rec.Affine, nil
	case "conv":
		if rec.Conv == nil {
			return nil, fmt.Errorf("conv record missing body")
		}
		return *rec.Conv, nil
	case "pool":
		if rec.Pool == nil {
			return nil, fmt.Errorf("pool record missing body")
		}
		return *rec.Pool, nil
	case "activation":
		if rec.Activation == nil {
			return nil, fmt.Errorf("activation record missing body")
		}
		return *rec.Activation, nil
	case "dropout":
		if rec.Dropout == nil {
			return nil, fmt.Errorf("dropout record missing body")
		}
		return *rec.Dropout, nil
	case "batchnorm":
		if rec.BatchNorm == nil {
			return nil, fmt.Errorf("batchnorm record missing body")
		}
		return *rec.BatchNorm, nil
	case "flatten":
		if rec.Flatten == nil {
			return nil, fmt.Errorf("flatten record missing body")
		}
		return *rec.Flatten, nil
	case "residual":
		if rec.Residual == nil {
			return nil, fmt.Errorf("residual record missing body")
		}
		body, err := decodeLayerSpecs(rec.Residual.Body)
		if err != nil {
			return nil, err
		}
		return Residual{Body: body, Activation: rec.Residual.Activation}, nil
	default:
		return nil, fmt.Errorf("unknown layer kind %q", rec.Kind)
	}
}

// MarshalLayerSpecs renders an architecture as JSON for checkpoint headers
// and the describe/serve endpoints.
func MarshalLayerSpecs(specs []LayerSpec) ([]byte, error) {
	records, err := encodeLayerSpecs(specs)
	if err != nil {
		return nil, err
	}
	return json.Marshal(records)
}

// UnmarshalLayerSpecs parses an architecture previously rendered by
// MarshalLayerSpecs.
func UnmarshalLayerSpecs(data []byte) ([]LayerSpec, error) {
	var records []layerSpecRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse layer specs: %w", err)
	}
	return decodeLayerSpecs(records)
}

// validActivation reports whether name is a recognized activation.
func validActivation(name string) bool {
	switch name {
	case ActIdentity, ActReLU, ActSigmoid, ActTanh, ActSoftmax:
		return true
	}
	return false
}

// buildActivation appends an activation layer for name, if any.
// Affine and Conv use this to expand their Activation field.
func buildActivation(layers []Layer, name string) ([]Layer, error) {
	if name == ActIdentity {
		return layers, nil
	}
	if !validActivation(name) {
		return nil, fmt.Errorf("unknown activation %q", name)
	}
	return append(layers, NewActivationLayer(name)), nil
}
