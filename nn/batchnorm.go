package nn

import (
	"fmt"
	"math"

	"github.com/neuralhe/neuralhe/fhe"
)

// BatchNorm is the slot-wise affine map x -> w*x + b.
type BatchNorm struct {
	Base
	ctx     *fhe.Context
	weights []float64
	biases  []float64
}

// NewBatchNorm returns a normalization layer with the given folded weights
// and biases, which must have the same length.
func NewBatchNorm(ctx *fhe.Context, name string, weights, biases []float64) (*BatchNorm, error) {

	switch {
	case ctx == nil:
		return nil, fmt.Errorf("cannot NewBatchNorm: %w: context is nil", fhe.ErrInvalidArgument)
	case len(weights) == 0 || len(weights) != len(biases):
		return nil, fmt.Errorf("cannot NewBatchNorm: %w: %d weights and %d biases", fhe.ErrInvalidArgument, len(weights), len(biases))
	case len(weights) > ctx.BatchSize():
		return nil, fmt.Errorf("cannot NewBatchNorm: %w: %d weights exceed the batch size %d", fhe.ErrInvalidArgument, len(weights), ctx.BatchSize())
	}

	return &BatchNorm{
		Base:    NewBase(name, len(weights)),
		ctx:     ctx,
		weights: append([]float64(nil), weights...),
		biases:  append([]float64(nil), biases...),
	}, nil
}

// NewBatchNormFromStatistics folds the running statistics of a batch
// normalization into a [BatchNorm]: w = gamma/sqrt(variance+eps) and
// b = beta - mean*w.
func NewBatchNormFromStatistics(ctx *fhe.Context, name string, gamma, beta, mean, variance []float64, eps float64) (*BatchNorm, error) {

	n := len(gamma)

	if len(beta) != n || len(mean) != n || len(variance) != n {
		return nil, fmt.Errorf("cannot NewBatchNormFromStatistics: %w: statistics have different lengths", fhe.ErrInvalidArgument)
	}

	weights := make([]float64, n)
	biases := make([]float64, n)

	for i := range gamma {

		if variance[i]+eps <= 0 {
			return nil, fmt.Errorf("cannot NewBatchNormFromStatistics: %w: variance+eps=%f at index %d", fhe.ErrInvalidArgument, variance[i]+eps, i)
		}

		weights[i] = gamma[i] / math.Sqrt(variance[i]+eps)
		biases[i] = beta[i] - mean[i]*weights[i]
	}

	return NewBatchNorm(ctx, name, weights, biases)
}

// Weights returns the folded weights.
func (bn *BatchNorm) Weights() []float64 {
	return bn.weights
}

// Biases returns the folded biases.
func (bn *BatchNorm) Biases() []float64 {
	return bn.biases
}

// Forward evaluates the layer. It consumes one level.
func (bn *BatchNorm) Forward(ct *fhe.Ciphertext) (*fhe.Ciphertext, error) {

	if err := checkInput(bn.ctx, ct); err != nil {
		return nil, bn.Fail(err)
	}

	if err := bn.ctx.CheckDepth(ct, 1); err != nil {
		return nil, bn.Fail(err)
	}

	out, err := mulPlain(bn.ctx, bn.weights, ct)
	if err != nil {
		return nil, bn.Fail(err)
	}

	if out, err = bn.ctx.EvalAddPlain(bn.biases, out); err != nil {
		return nil, bn.Fail(err)
	}

	out.SetSlots(ct.Slots())

	return out, nil
}
