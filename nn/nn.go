// Package nn implements neural-network layers evaluated on CKKS ciphertexts.
//
// Linear layers ([Gemm], [Conv2D], [AveragePool]) compute a matrix-vector
// product with a rotate-and-add reduction over the batch and consume two
// levels. [BatchNorm] is a slot-wise affine map and consumes one level.
// Activations ([NewReLU], [NewSigmoid], [NewSiLU] or any [ActivationFunction])
// are evaluated as Chebyshev interpolants with [Approximate].
package nn

import (
	"fmt"

	"github.com/neuralhe/neuralhe/fhe"
)

// Operator is a layer evaluated on a ciphertext.
type Operator interface {
	// Name returns the name of the operator, used in errors and logs.
	Name() string
	// OutputLen returns the number of meaningful slots of the output.
	OutputLen() int
	// Forward evaluates the operator on ct. The input is not modified.
	Forward(ct *fhe.Ciphertext) (*fhe.Ciphertext, error)
}

// Base implements the Name and OutputLen methods of [Operator].
type Base struct {
	name      string
	outputLen int
}

// NewBase returns a Base for an operator kind defined outside of this package.
func NewBase(name string, outputLen int) Base {
	return Base{name: name, outputLen: outputLen}
}

// Name returns the name given at construction.
func (b Base) Name() string {
	return b.name
}

// OutputLen returns the number of meaningful slots of the output.
func (b Base) OutputLen() int {
	return b.outputLen
}

// Fail tags err with the name of the operator.
func (b Base) Fail(err error) error {
	return &OperatorError{Name: b.name, Err: err}
}

// OperatorError is returned by [Operator.Forward] and carries the name of
// the failing operator.
type OperatorError struct {
	Name string
	Err  error
}

func (e *OperatorError) Error() string {
	return fmt.Sprintf("operator %s: %s", e.Name, e.Err)
}

// Unwrap returns the error of the operator.
func (e *OperatorError) Unwrap() error {
	return e.Err
}

// checkInput returns an error if ct is nil, if ctx is nil or if ct was not
// produced under ctx.
func checkInput(ctx *fhe.Context, ct *fhe.Ciphertext) error {

	if ct == nil || ct.Value() == nil {
		return fmt.Errorf("%w: ciphertext is nil", fhe.ErrInvalidArgument)
	}

	if ctx == nil {
		return fmt.Errorf("%w: operator is not bound to a context", fhe.ErrInvalidArgument)
	}

	if owner := fhe.GetContext(ct); owner == nil || owner.Fingerprint() != ctx.Fingerprint() {
		return fmt.Errorf("%w: ciphertext was not produced by the operator's context", fhe.ErrContextMismatch)
	}

	return nil
}

// mulPlain multiplies ct by values and rescales, whatever the scaling
// technique of ctx.
func mulPlain(ctx *fhe.Context, values []float64, ct *fhe.Ciphertext) (out *fhe.Ciphertext, err error) {

	if out, err = ctx.EvalMultPlain(values, ct); err != nil {
		return
	}

	if !ctx.AutoRescale() {
		return ctx.Rescale(out)
	}

	return
}
