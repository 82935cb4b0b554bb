package main

/*
WHAT'S GOING ON HERE?

Canned model descriptors: the three architectures the train command
offers out of the box. Each is just a []LayerSpec literal, the same
thing you would write by hand, kept here so the CLI, the tests, and
the docs all train the exact same stacks.

THE THREE STACKS:

1. MNISTMLP: the hello-world of neural networks. Flatten the image,
   one hidden layer of 100 ReLU units, softmax over ten digits.
   Trains to ~2% test error in a couple of minutes on a laptop.

2. CIFAR10ConvNet: a small VGG-style net. Two conv pairs with max
   pooling and dropout between them, then a 512-unit dense layer.
   The first conv of each pair pads to keep the feature map size, the
   second shrinks it, matching the classic recipe for this dataset.

3. CIFAR10ResNet: the 6n+2 residual family (n=3 gives the 20-layer
   variant). A conv stem, three stages of n residual blocks at 16, 32
   and 64 filters with stride-2 transitions between stages, global
   average pooling, and a linear head. Batchnorm everywhere, post-add
   ReLU, projection shortcuts inserted automatically where the shape
   changes.
*/

import "fmt"

// MNISTMLP returns the descriptor stack for a one-hidden-layer
// perceptron: Flatten, 100 ReLU units, softmax over 10 classes.
func MNISTMLP() []LayerSpec {
	init := Gaussian(0, 0.01)
	return []LayerSpec{
		Flatten{},
		Affine{Nout: 100, Init: init, Activation: ActReLU},
		Affine{Nout: 10, Init: init, Activation: ActSoftmax},
	}
}

// CIFAR10ConvNet returns a small VGG-style convolutional stack for
// 32x32 RGB images: two conv pairs with pooling and dropout, then a
// 512-unit dense layer.
func CIFAR10ConvNet() []LayerSpec {
	init := GlorotUniform()
	return []LayerSpec{
		Conv{Filters: 32, Size: 3, Pad: 1, Init: init, Activation: ActReLU},
		Conv{Filters: 32, Size: 3, Init: init, Activation: ActReLU},
		Pool{Size: 2},
		Dropout{Ratio: 0.25},
		Conv{Filters: 64, Size: 3, Pad: 1, Init: init, Activation: ActReLU},
		Conv{Filters: 64, Size: 3, Init: init, Activation: ActReLU},
		Pool{Size: 2},
		Dropout{Ratio: 0.25},
		Flatten{},
		Affine{Nout: 512, Init: init, Activation: ActReLU},
		Dropout{Ratio: 0.5},
		Affine{Nout: 10, Init: init, Activation: ActSoftmax},
	}
}

// CIFAR10ResNet returns the 6n+2 residual architecture: a conv stem,
// three stages of n residual blocks at 16, 32 and 64 filters, global
// average pooling, and a 10-way linear head. n=3 is the 20-layer
// network; n must be at least 1.
func CIFAR10ResNet(n int) []LayerSpec {
	if n < 1 {
		panic(fmt.Sprintf("resnet: n must be at least 1, got %d", n))
	}

	specs := []LayerSpec{
		Conv{Filters: 16, Size: 3, Pad: 1, Init: HeNormal(), Activation: ActReLU, BatchNorm: true},
	}
	for _, stage := range []struct{ filters, stride int }{
		{16, 1},
		{32, 2},
		{64, 2},
	} {
		specs = append(specs, residualBlock(stage.filters, stage.stride))
		for i := 1; i < n; i++ {
			specs = append(specs, residualBlock(stage.filters, 1))
		}
	}
	specs = append(specs,
		Pool{Op: "global-avg"},
		Affine{Nout: 10, Init: HeNormal(), Activation: ActSoftmax},
	)
	return specs
}

// residualBlock builds one two-conv residual unit. The first conv
// carries the stride; the post-add ReLU comes from the Residual spec,
// so the second conv has no activation of its own.
func residualBlock(filters, stride int) LayerSpec {
	return Residual{
		Body: []LayerSpec{
			Conv{Filters: filters, Size: 3, Stride: stride, Pad: 1, Init: HeNormal(), Activation: ActReLU, BatchNorm: true},
			Conv{Filters: filters, Size: 3, Pad: 1, Init: HeNormal(), BatchNorm: true},
		},
		Activation: ActReLU,
	}
}

// BuildModel maps a CLI model name to its descriptor stack. resnetN
// sets the block count per stage for the resnet family.
func BuildModel(name string, resnetN int) ([]LayerSpec, error) {
	switch name {
	case "mlp":
		return MNISTMLP(), nil
	case "convnet":
		return CIFAR10ConvNet(), nil
	case "resnet":
		if resnetN == 0 {
			resnetN = 3
		}
		return CIFAR10ResNet(resnetN), nil
	default:
		return nil, fmt.Errorf("unknown model %q (want mlp, convnet, or resnet)", name)
	}
}

// DefaultModelFor picks the conventional architecture for a dataset
// when the user does not name one.
func DefaultModelFor(dataset string) string {
	if dataset == "mnist" {
		return "mlp"
	}
	return "convnet"
}
