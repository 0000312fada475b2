package nn

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/neuralhe/neuralhe/fhe"
)

// Sequential chains operators, feeding the output of each one to the next.
type Sequential struct {
	Base
	ops []Operator
}

// NewSequential returns the composition of ops, applied in order.
func NewSequential(name string, ops ...Operator) *Sequential {
	var outputLen int
	for _, op := range ops {
		if op == nil {
			continue
		}
		if n := op.OutputLen(); n != 0 {
			outputLen = n
		}
	}
	return &Sequential{Base: NewBase(name, outputLen), ops: append([]Operator(nil), ops...)}
}

// Operators returns the chained operators.
func (s *Sequential) Operators() []Operator {
	return s.ops
}

// Forward evaluates the operators in order. Errors of the chained operators
// are returned as is, other errors are tagged with the name of s.
func (s *Sequential) Forward(ct *fhe.Ciphertext) (out *fhe.Ciphertext, err error) {

	if len(s.ops) == 0 {
		if err = checkInput(fhe.GetContext(ct), ct); err != nil {
			return nil, s.Fail(err)
		}
		return ct.CopyNew(), nil
	}

	out = ct
	for i, op := range s.ops {
		if op == nil {
			return nil, s.Fail(fmt.Errorf("%w: operator %d is nil", fhe.ErrInvalidArgument, i))
		}
		if out, err = op.Forward(out); err != nil {
			var opErr *OperatorError
			if errors.As(err, &opErr) {
				return nil, err
			}
			return nil, s.Fail(err)
		}
	}

	return
}

// WithLogging wraps op so that every evaluation is logged on logger, or on
// [slog.Default] if logger is nil. Activation functions stay activation
// functions once wrapped.
func WithLogging(op Operator, logger *slog.Logger) Operator {

	if logger == nil {
		logger = slog.Default()
	}

	l := logged{Operator: op, logger: logger}

	if act, ok := op.(ActivationFunction); ok {
		return &loggedActivation{logged: l, act: act}
	}

	return &l
}

type logged struct {
	Operator
	logger *slog.Logger
}

func (l *logged) Forward(ct *fhe.Ciphertext) (*fhe.Ciphertext, error) {

	start := time.Now()

	out, err := l.Operator.Forward(ct)

	if err != nil {
		l.logger.Error("operator failed",
			slog.String("operator", l.Name()),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err))
		return nil, err
	}

	l.logger.Info("operator evaluated",
		slog.String("operator", l.Name()),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("level", out.Level()),
		slog.Int("slots", out.Slots()))

	return out, nil
}

type loggedActivation struct {
	logged
	act ActivationFunction
}

func (l *loggedActivation) Domain() (a, b float64) {
	return l.act.Domain()
}

func (l *loggedActivation) Degree() int {
	return l.act.Degree()
}

func (l *loggedActivation) Function() func(x float64) float64 {
	return l.act.Function()
}

func (l *loggedActivation) BigFunction() func(x *big.Float) *big.Float {
	if bf, ok := l.act.(bigFunction); ok {
		return bf.BigFunction()
	}
	return nil
}
