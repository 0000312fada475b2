package nn

import (
	"fmt"
	"strings"
	"sync"

	"github.com/neuralhe/neuralhe/fhe"
	"github.com/neuralhe/neuralhe/utils"
)

// LayerSpec describes one layer of a model. The fields read depend on Kind.
type LayerSpec struct {
	Kind string `json:"kind" yaml:"kind"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// gemm, conv2d, averagepool; batchnorm reads a single row of weights
	Weights [][]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	Bias    []float64   `json:"bias,omitempty" yaml:"bias,omitempty"`

	// conv2d from a kernel, averagepool from a window
	Kernel     [][][][]float64 `json:"kernel,omitempty" yaml:"kernel,omitempty"`
	InputShape *Shape          `json:"input_shape,omitempty" yaml:"input_shape,omitempty"`
	KernelSize int             `json:"kernel_size,omitempty" yaml:"kernel_size,omitempty"`
	Stride     int             `json:"stride,omitempty" yaml:"stride,omitempty"`
	Padding    int             `json:"padding,omitempty" yaml:"padding,omitempty"`

	// batchnorm from running statistics
	Gamma    []float64 `json:"gamma,omitempty" yaml:"gamma,omitempty"`
	Beta     []float64 `json:"beta,omitempty" yaml:"beta,omitempty"`
	Mean     []float64 `json:"mean,omitempty" yaml:"mean,omitempty"`
	Variance []float64 `json:"variance,omitempty" yaml:"variance,omitempty"`
	Epsilon  float64   `json:"epsilon,omitempty" yaml:"epsilon,omitempty"`

	// relu, sigmoid, silu
	A      float64 `json:"a,omitempty" yaml:"a,omitempty"`
	B      float64 `json:"b,omitempty" yaml:"b,omitempty"`
	Degree int     `json:"degree,omitempty" yaml:"degree,omitempty"`
}

// ModelSpec is a named sequence of layers.
type ModelSpec struct {
	Name   string      `json:"name" yaml:"name"`
	Layers []LayerSpec `json:"layers" yaml:"layers"`
}

// Factory builds an operator of a registered kind.
type Factory func(ctx *fhe.Context, spec LayerSpec) (Operator, error)

var registry = struct {
	sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{
		"gemm":        buildGemm,
		"conv2d":      buildConv2D,
		"averagepool": buildAveragePool,
		"batchnorm":   buildBatchNorm,
		"relu":        buildActivation(NewReLU),
		"sigmoid":     buildActivation(NewSigmoid),
		"silu":        buildActivation(NewSiLU),
	},
}

// Register makes a factory available to [Build] under the given kind. Kinds
// are case-insensitive and cannot be registered twice.
func Register(kind string, factory Factory) error {

	kind = strings.ToLower(strings.TrimSpace(kind))

	if kind == "" || factory == nil {
		return fmt.Errorf("cannot Register: %w: empty kind or nil factory", fhe.ErrInvalidArgument)
	}

	registry.Lock()
	defer registry.Unlock()

	if _, ok := registry.factories[kind]; ok {
		return fmt.Errorf("cannot Register: %w: kind %q is already registered", fhe.ErrInvalidArgument, kind)
	}

	registry.factories[kind] = factory

	return nil
}

// Kinds returns the sorted registered kinds.
func Kinds() []string {
	registry.RLock()
	defer registry.RUnlock()
	return utils.GetSortedKeys(registry.factories)
}

// Build returns the operator described by spec, evaluated under ctx.
func Build(ctx *fhe.Context, spec LayerSpec) (Operator, error) {

	kind := strings.ToLower(strings.TrimSpace(spec.Kind))

	registry.RLock()
	factory, ok := registry.factories[kind]
	registry.RUnlock()

	if !ok {
		return nil, fmt.Errorf("cannot Build: %w: unknown operator kind %q", fhe.ErrInvalidArgument, spec.Kind)
	}

	if spec.Name == "" {
		spec.Name = kind
	}

	op, err := factory(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("cannot Build %s: %w", spec.Name, err)
	}

	return op, nil
}

// BuildModel returns the [Sequential] composition of the layers of spec.
// Unnamed layers are named after their kind and position.
func BuildModel(ctx *fhe.Context, spec ModelSpec) (*Sequential, error) {

	if len(spec.Layers) == 0 {
		return nil, fmt.Errorf("cannot BuildModel: %w: model %q has no layer", fhe.ErrInvalidArgument, spec.Name)
	}

	ops := make([]Operator, len(spec.Layers))

	for i, layer := range spec.Layers {

		if layer.Name == "" {
			layer.Name = fmt.Sprintf("%s%d", strings.ToLower(layer.Kind), i)
		}

		op, err := Build(ctx, layer)
		if err != nil {
			return nil, fmt.Errorf("cannot BuildModel: %w", err)
		}

		ops[i] = op
	}

	return NewSequential(spec.Name, ops...), nil
}

func buildGemm(ctx *fhe.Context, spec LayerSpec) (Operator, error) {
	return NewGemm(ctx, spec.Name, spec.Weights, spec.Bias)
}

func buildConv2D(ctx *fhe.Context, spec LayerSpec) (Operator, error) {

	if spec.Kernel == nil {
		return NewConv2D(ctx, spec.Name, spec.Weights, spec.Bias)
	}

	if spec.InputShape == nil {
		return nil, fmt.Errorf("%w: conv2d with a kernel needs input_shape", fhe.ErrInvalidArgument)
	}

	stride := max(spec.Stride, 1)

	weights, out, err := UnrollConv2D(spec.Kernel, *spec.InputShape, stride, spec.Padding)
	if err != nil {
		return nil, err
	}

	bias := spec.Bias
	if len(bias) == out.Channels {
		bias = ChannelBias(bias, out)
	}

	return NewConv2D(ctx, spec.Name, weights, bias)
}

func buildAveragePool(ctx *fhe.Context, spec LayerSpec) (Operator, error) {

	if spec.Weights != nil {
		return NewAveragePool(ctx, spec.Name, spec.Weights)
	}

	if spec.InputShape == nil {
		return nil, fmt.Errorf("%w: averagepool without weights needs input_shape", fhe.ErrInvalidArgument)
	}

	stride := spec.Stride
	if stride == 0 {
		stride = spec.KernelSize
	}

	weights, _, err := AveragePoolMatrix(*spec.InputShape, spec.KernelSize, stride)
	if err != nil {
		return nil, err
	}

	return NewAveragePool(ctx, spec.Name, weights)
}

func buildBatchNorm(ctx *fhe.Context, spec LayerSpec) (Operator, error) {

	if spec.Gamma != nil {
		return NewBatchNormFromStatistics(ctx, spec.Name, spec.Gamma, spec.Beta, spec.Mean, spec.Variance, spec.Epsilon)
	}

	var weights []float64
	if len(spec.Weights) == 1 {
		weights = spec.Weights[0]
	}

	return NewBatchNorm(ctx, spec.Name, weights, spec.Bias)
}

func buildActivation(newActivation func(a, b float64, degree int) (*Activation, error)) Factory {
	return func(_ *fhe.Context, spec LayerSpec) (Operator, error) {
		act, err := newActivation(spec.A, spec.B, spec.Degree)
		if err != nil {
			return nil, err
		}
		act.name = spec.Name
		return act, nil
	}
}
