package fhe

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// evaluatorPool hands out shallow copies of an evaluator bound to one
// immutable evaluation key set.
type evaluatorPool struct {
	evk  *rlwe.MemEvaluationKeySet
	pool sync.Pool
}

func newEvaluatorPool(params ckks.Parameters, evk *rlwe.MemEvaluationKeySet) *evaluatorPool {
	base := ckks.NewEvaluator(params, evk)
	p := &evaluatorPool{evk: evk}
	p.pool.New = func() any {
		return base.ShallowCopy()
	}
	return p
}

// WithEvaluator calls f with an engine evaluator bound to the installed
// evaluation keys. The evaluator must not be retained after f returns.
// It requires [LeveledSHE].
func (c *Context) WithEvaluator(f func(eval *ckks.Evaluator) error) error {

	if err := c.require("WithEvaluator", LeveledSHE); err != nil {
		return err
	}

	return c.withEvaluator(f)
}

func (c *Context) withEvaluator(f func(eval *ckks.Evaluator) error) error {

	c.mu.RLock()
	p := c.evaluators
	c.mu.RUnlock()

	eval := p.pool.Get().(*ckks.Evaluator)
	defer p.pool.Put(eval)

	return f(eval)
}

// checkDepth returns an error wrapping [ErrDepthExhausted] if ct cannot be
// rescaled levels more times.
func (c *Context) checkDepth(op string, ct *Ciphertext, rescalings int) error {
	if need := rescalings * c.LevelsPerRescale(); ct.Level() < need {
		return fmt.Errorf("cannot %s: %w: ciphertext at level %d, %d level(s) needed", op, ErrDepthExhausted, ct.Level(), need)
	}
	return nil
}

// CheckDepth returns an error wrapping [ErrDepthExhausted] if ct cannot
// undergo the given number of rescalings.
func (c *Context) CheckDepth(ct *Ciphertext, rescalings int) error {
	return c.checkDepth("CheckDepth", ct, rescalings)
}

func (c *Context) prepare(op string, cts ...*Ciphertext) error {

	if err := c.require(op, LeveledSHE); err != nil {
		return err
	}

	for _, ct := range cts {
		if err := c.checkOperand(op, ct); err != nil {
			return err
		}
	}

	return nil
}

func (c *Context) checkVector(op string, values []float64) error {
	if len(values) == 0 || len(values) > c.params.BatchSize {
		return fmt.Errorf("cannot %s: %w: len(values)=%d must be in [1, %d]", op, ErrInvalidArgument, len(values), c.params.BatchSize)
	}
	return nil
}

// mapEngineError maps level exhaustion reported by the engine to [ErrDepthExhausted].
func mapEngineError(op string, err error) error {
	if strings.Contains(err.Error(), "level is too low") {
		return fmt.Errorf("cannot %s: %w: %w", op, ErrDepthExhausted, err)
	}
	return fmt.Errorf("cannot %s: %w", op, err)
}

func (c *Context) result(ct *rlwe.Ciphertext, slots int) *Ciphertext {
	return &Ciphertext{ctx: c, slots: slots, value: ct}
}

// EvalAdd returns a + b.
func (c *Context) EvalAdd(a, b *Ciphertext) (*Ciphertext, error) {

	if err := c.prepare("EvalAdd", a, b); err != nil {
		return nil, err
	}

	var out *rlwe.Ciphertext
	err := c.withEvaluator(func(eval *ckks.Evaluator) (err error) {
		out, err = eval.AddNew(a.value, b.value)
		return
	})

	if err != nil {
		return nil, mapEngineError("EvalAdd", err)
	}

	return c.result(out, max(a.slots, b.slots)), nil
}

// EvalAddPlain returns packed(values) + b.
func (c *Context) EvalAddPlain(values []float64, b *Ciphertext) (*Ciphertext, error) {

	if err := c.prepare("EvalAddPlain", b); err != nil {
		return nil, err
	}

	if err := c.checkVector("EvalAddPlain", values); err != nil {
		return nil, err
	}

	var out *rlwe.Ciphertext
	err := c.withEvaluator(func(eval *ckks.Evaluator) (err error) {
		out, err = eval.AddNew(b.value, values)
		return
	})

	if err != nil {
		return nil, mapEngineError("EvalAddPlain", err)
	}

	return c.result(out, max(len(values), b.slots)), nil
}

// EvalAddScalar returns s + b.
func (c *Context) EvalAddScalar(s float64, b *Ciphertext) (*Ciphertext, error) {

	if err := c.prepare("EvalAddScalar", b); err != nil {
		return nil, err
	}

	var out *rlwe.Ciphertext
	err := c.withEvaluator(func(eval *ckks.Evaluator) (err error) {
		out, err = eval.AddNew(b.value, s)
		return
	})

	if err != nil {
		return nil, mapEngineError("EvalAddScalar", err)
	}

	return c.result(out, b.slots), nil
}

// EvalSub returns a - b.
func (c *Context) EvalSub(a, b *Ciphertext) (*Ciphertext, error) {

	if err := c.prepare("EvalSub", a, b); err != nil {
		return nil, err
	}

	var out *rlwe.Ciphertext
	err := c.withEvaluator(func(eval *ckks.Evaluator) (err error) {
		out, err = eval.SubNew(a.value, b.value)
		return
	})

	if err != nil {
		return nil, mapEngineError("EvalSub", err)
	}

	return c.result(out, max(a.slots, b.slots)), nil
}

// EvalSubPlain returns packed(values) - b, or b - packed(values) if reverse is true.
func (c *Context) EvalSubPlain(values []float64, b *Ciphertext, reverse bool) (*Ciphertext, error) {

	if err := c.prepare("EvalSubPlain", b); err != nil {
		return nil, err
	}

	if err := c.checkVector("EvalSubPlain", values); err != nil {
		return nil, err
	}

	out, err := c.subOperand(b, values, reverse)
	if err != nil {
		return nil, mapEngineError("EvalSubPlain", err)
	}

	return c.result(out, max(len(values), b.slots)), nil
}

// EvalSubScalar returns s - b, or b - s if reverse is true.
func (c *Context) EvalSubScalar(s float64, b *Ciphertext, reverse bool) (*Ciphertext, error) {

	if err := c.prepare("EvalSubScalar", b); err != nil {
		return nil, err
	}

	out, err := c.subOperand(b, s, reverse)
	if err != nil {
		return nil, mapEngineError("EvalSubScalar", err)
	}

	return c.result(out, b.slots), nil
}

// subOperand computes op - b, or b - op if reverse is true. The engine only
// subtracts operands from a ciphertext, so op - b is evaluated as (-b) + op.
func (c *Context) subOperand(b *Ciphertext, op rlwe.Operand, reverse bool) (out *rlwe.Ciphertext, err error) {
	err = c.withEvaluator(func(eval *ckks.Evaluator) (err error) {

		if reverse {
			out, err = eval.SubNew(b.value, op)
			return
		}

		if out, err = eval.MulNew(b.value, -1); err != nil {
			return
		}

		return eval.Add(out, op, out)
	})
	return
}

// EvalNegate returns -a.
func (c *Context) EvalNegate(a *Ciphertext) (*Ciphertext, error) {

	if err := c.prepare("EvalNegate", a); err != nil {
		return nil, err
	}

	var out *rlwe.Ciphertext
	err := c.withEvaluator(func(eval *ckks.Evaluator) (err error) {
		out, err = eval.MulNew(a.value, -1)
		return
	})

	if err != nil {
		return nil, mapEngineError("EvalNegate", err)
	}

	return c.result(out, a.slots), nil
}

// EvalMult returns a * b, relinearized. It requires the multiplication key
// (see [Context.EvalMultKeyGen]) and one level of depth on both operands.
func (c *Context) EvalMult(a, b *Ciphertext) (*Ciphertext, error) {

	if err := c.prepare("EvalMult", a, b); err != nil {
		return nil, err
	}

	if !c.HasMultKey() {
		return nil, fmt.Errorf("cannot EvalMult: %w: relinearization key is not installed", ErrMissingEvaluationKey)
	}

	for _, ct := range []*Ciphertext{a, b} {
		if err := c.checkDepth("EvalMult", ct, 1); err != nil {
			return nil, err
		}
	}

	var out *rlwe.Ciphertext
	err := c.withEvaluator(func(eval *ckks.Evaluator) (err error) {
		if out, err = eval.MulRelinNew(a.value, b.value); err != nil {
			return
		}
		return c.rescaleIfAuto(eval, out)
	})

	if err != nil {
		return nil, mapEngineError("EvalMult", err)
	}

	return c.result(out, max(a.slots, b.slots)), nil
}

// EvalMultPlain returns packed(values) * b.
func (c *Context) EvalMultPlain(values []float64, b *Ciphertext) (*Ciphertext, error) {

	if err := c.prepare("EvalMultPlain", b); err != nil {
		return nil, err
	}

	if err := c.checkVector("EvalMultPlain", values); err != nil {
		return nil, err
	}

	if err := c.checkDepth("EvalMultPlain", b, 1); err != nil {
		return nil, err
	}

	var out *rlwe.Ciphertext
	err := c.withEvaluator(func(eval *ckks.Evaluator) (err error) {
		if out, err = eval.MulNew(b.value, values); err != nil {
			return
		}
		return c.rescaleIfAuto(eval, out)
	})

	if err != nil {
		return nil, mapEngineError("EvalMultPlain", err)
	}

	return c.result(out, max(len(values), b.slots)), nil
}

// EvalMultScalar returns s * b. Integer scalars do not consume depth.
func (c *Context) EvalMultScalar(s float64, b *Ciphertext) (*Ciphertext, error) {

	if err := c.prepare("EvalMultScalar", b); err != nil {
		return nil, err
	}

	integer := s == math.Trunc(s)

	if !integer {
		if err := c.checkDepth("EvalMultScalar", b, 1); err != nil {
			return nil, err
		}
	}

	var out *rlwe.Ciphertext
	err := c.withEvaluator(func(eval *ckks.Evaluator) (err error) {
		if out, err = eval.MulNew(b.value, s); err != nil || integer {
			return
		}
		return c.rescaleIfAuto(eval, out)
	})

	if err != nil {
		return nil, mapEngineError("EvalMultScalar", err)
	}

	return c.result(out, b.slots), nil
}

// Rescale returns a rescaled copy of a. Only needed with [FixedManual].
func (c *Context) Rescale(a *Ciphertext) (*Ciphertext, error) {

	if err := c.prepare("Rescale", a); err != nil {
		return nil, err
	}

	if err := c.checkDepth("Rescale", a, 1); err != nil {
		return nil, err
	}

	out := a.value.CopyNew()
	err := c.withEvaluator(func(eval *ckks.Evaluator) error {
		return eval.Rescale(out, out)
	})

	if err != nil {
		return nil, mapEngineError("Rescale", err)
	}

	return c.result(out, a.slots), nil
}

func (c *Context) rescaleIfAuto(eval *ckks.Evaluator, ct *rlwe.Ciphertext) error {
	if !c.AutoRescale() {
		return nil
	}
	return eval.Rescale(ct, ct)
}
