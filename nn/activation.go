package nn

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"
	"sync"

	"github.com/ALTree/bigfloat"
	"github.com/tuneinsight/lattigo/v6/circuits/ckks/polynomial"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
	"github.com/tuneinsight/lattigo/v6/utils/bignum"

	"github.com/neuralhe/neuralhe/fhe"
)

// ActivationFunction is a non-linear operator evaluated as a polynomial
// approximation of Function on the domain [a, b]. Implementations usually
// define Forward as a call to [Approximate].
type ActivationFunction interface {
	Operator
	Domain() (a, b float64)
	Degree() int
	Function() func(x float64) float64
}

// bigFunction is implemented by activations providing an arbitrary
// precision version of their function.
type bigFunction interface {
	BigFunction() func(x *big.Float) *big.Float
}

// ChebyshevPrecision is the precision in bits of the interpolation nodes.
const ChebyshevPrecision = 128

// Polynomial returns the Chebyshev interpolant of act on its domain, with
// Degree()+1 nodes.
func Polynomial(act ActivationFunction) (bignum.Polynomial, error) {

	if cached, ok := act.(*Activation); ok {
		return cached.polynomial()
	}

	return interpolate(act)
}

func interpolate(act ActivationFunction) (poly bignum.Polynomial, err error) {

	a, b := act.Domain()
	degree := act.Degree()

	if err = checkDomain(a, b, degree); err != nil {
		return
	}

	var f interface{} = act.Function()

	if bf, ok := act.(bigFunction); ok {
		if g := bf.BigFunction(); g != nil {
			f = g
		}
	}

	interval := bignum.Interval{
		A:     *bignum.NewFloat(a, ChebyshevPrecision),
		B:     *bignum.NewFloat(b, ChebyshevPrecision),
		Nodes: degree,
	}

	return bignum.ChebyshevApproximation(f, interval), nil
}

func checkDomain(a, b float64, degree int) error {
	switch {
	case math.IsNaN(a) || math.IsNaN(b) || math.IsInf(a, 0) || math.IsInf(b, 0) || a >= b:
		return fmt.Errorf("%w: invalid domain [%v, %v]", fhe.ErrInvalidArgument, a, b)
	case degree < 1:
		return fmt.Errorf("%w: degree %d must be positive", fhe.ErrInvalidArgument, degree)
	}
	return nil
}

// Depth returns the number of rescalings consumed by [Approximate] for a
// polynomial of the given degree on [a, b].
func Depth(a, b float64, degree int) int {
	depth := bits.Len(uint(degree))
	if scalar := 2 / (b - a); scalar != math.Trunc(scalar) {
		depth++
	}
	return depth
}

// Approximate evaluates the Chebyshev interpolant of act on ct, under the
// Context of ct. Inputs outside of the domain of act give unspecified
// results. It requires [fhe.AdvancedSHE] and, for degrees above one, the
// multiplication key.
func Approximate(act ActivationFunction, ct *fhe.Ciphertext) (*fhe.Ciphertext, error) {

	if ct == nil || ct.Value() == nil {
		return nil, fmt.Errorf("cannot Approximate: %w: ciphertext is nil", fhe.ErrInvalidArgument)
	}

	ctx := fhe.GetContext(ct)

	if ctx == nil {
		return nil, fmt.Errorf("cannot Approximate: %w: ciphertext has no context", fhe.ErrInvalidState)
	}

	if !ctx.IsEnabled(fhe.AdvancedSHE) {
		return nil, fmt.Errorf("cannot Approximate: %w: feature %s is not enabled", fhe.ErrInvalidState, fhe.AdvancedSHE)
	}

	bp, err := Polynomial(act)
	if err != nil {
		return nil, fmt.Errorf("cannot Approximate: %w", err)
	}

	if act.Degree() > 1 && !ctx.HasMultKey() {
		return nil, fmt.Errorf("cannot Approximate: %w: relinearization key is not installed", fhe.ErrMissingEvaluationKey)
	}

	a, b := act.Domain()

	if err = ctx.CheckDepth(ct, Depth(a, b, act.Degree())); err != nil {
		return nil, fmt.Errorf("cannot Approximate: %w", err)
	}

	poly := polynomial.NewPolynomial(bp)

	scalar, constant := poly.ChangeOfBasis()

	params := ctx.EngineParameters()

	var out *rlwe.Ciphertext
	err = ctx.WithEvaluator(func(eval *ckks.Evaluator) (err error) {

		x := ct.Value().CopyNew()

		// Maps [a, b] to [-1, 1], the domain of the Chebyshev basis.
		if err = eval.Mul(x, scalar, x); err != nil {
			return
		}

		if err = eval.Add(x, constant, x); err != nil {
			return
		}

		if !scalar.IsInt() {
			if err = eval.Rescale(x, x); err != nil {
				return
			}
		}

		out, err = polynomial.NewEvaluator(params, eval).Evaluate(x, poly, params.DefaultScale())
		return
	})

	if err != nil {
		return nil, fmt.Errorf("cannot Approximate: %w", err)
	}

	return fhe.NewCiphertext(ctx, out, ct.Slots()), nil
}

// Activation is an [ActivationFunction] defined by a function, a domain and
// a degree. Its interpolant is computed once, on first use.
type Activation struct {
	Base
	a, b   float64
	degree int
	f      func(x float64) float64
	fBig   func(x *big.Float) *big.Float

	once sync.Once
	poly bignum.Polynomial
	err  error
}

// NewActivation returns the activation approximating f on [a, b] with a
// polynomial of the given degree. Its OutputLen is zero: an activation keeps
// the slot count of its input.
func NewActivation(name string, a, b float64, degree int, f func(x float64) float64) (*Activation, error) {

	if f == nil {
		return nil, fmt.Errorf("cannot NewActivation: %w: function is nil", fhe.ErrInvalidArgument)
	}

	if err := checkDomain(a, b, degree); err != nil {
		return nil, fmt.Errorf("cannot NewActivation: %w", err)
	}

	return &Activation{Base: NewBase(name, 0), a: a, b: b, degree: degree, f: f}, nil
}

func newBigActivation(name string, a, b float64, degree int, f func(x float64) float64, fBig func(x *big.Float) *big.Float) (*Activation, error) {
	act, err := NewActivation(name, a, b, degree, f)
	if err != nil {
		return nil, err
	}
	act.fBig = fBig
	return act, nil
}

// Domain returns the interpolation interval.
func (act *Activation) Domain() (a, b float64) {
	return act.a, act.b
}

// Degree returns the degree of the interpolant.
func (act *Activation) Degree() int {
	return act.degree
}

// Function returns the approximated function.
func (act *Activation) Function() func(x float64) float64 {
	return act.f
}

// BigFunction returns the arbitrary precision version of the function, or
// nil if the activation has none.
func (act *Activation) BigFunction() func(x *big.Float) *big.Float {
	return act.fBig
}

func (act *Activation) polynomial() (bignum.Polynomial, error) {
	act.once.Do(func() {
		act.poly, act.err = interpolate(act)
	})
	return act.poly, act.err
}

// Forward evaluates the activation on ct, see [Approximate]. The output has
// the slot count of the input.
func (act *Activation) Forward(ct *fhe.Ciphertext) (*fhe.Ciphertext, error) {
	out, err := Approximate(act, ct)
	if err != nil {
		return nil, act.Fail(err)
	}
	return out, nil
}

// NewReLU returns the rectified linear unit max(x, 0) approximated on [a, b].
func NewReLU(a, b float64, degree int) (*Activation, error) {
	return newBigActivation("relu", a, b, degree, ReLU, reluBig)
}

// NewSigmoid returns the logistic function 1/(1+e^-x) approximated on [a, b].
func NewSigmoid(a, b float64, degree int) (*Activation, error) {
	return newBigActivation("sigmoid", a, b, degree, Sigmoid, sigmoidBig)
}

// NewSiLU returns the sigmoid linear unit x/(1+e^-x) approximated on [a, b].
func NewSiLU(a, b float64, degree int) (*Activation, error) {
	return newBigActivation("silu", a, b, degree, SiLU, siluBig)
}

// NewSwish is an alias of [NewSiLU].
func NewSwish(a, b float64, degree int) (*Activation, error) {
	return NewSiLU(a, b, degree)
}

// ReLU returns max(x, 0).
func ReLU(x float64) float64 {
	return math.Max(x, 0)
}

// Sigmoid returns 1/(1+e^-x).
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// SiLU returns x*Sigmoid(x).
func SiLU(x float64) float64 {
	return x * Sigmoid(x)
}

func reluBig(x *big.Float) *big.Float {
	y := new(big.Float).SetPrec(x.Prec())
	if x.Sign() > 0 {
		y.Set(x)
	}
	return y
}

func sigmoidBig(x *big.Float) *big.Float {
	prec := x.Prec()
	if prec == 0 {
		prec = ChebyshevPrecision
	}
	one := new(big.Float).SetPrec(prec).SetInt64(1)
	e := bigfloat.Exp(new(big.Float).SetPrec(prec).Neg(x))
	return new(big.Float).SetPrec(prec).Quo(one, e.Add(e, one))
}

func siluBig(x *big.Float) *big.Float {
	y := sigmoidBig(x)
	return y.Mul(y, x)
}
