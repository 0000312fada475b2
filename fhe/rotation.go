package fhe

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"

	"github.com/neuralhe/neuralhe/utils"
)

// RotationIndices returns the rotation steps needed to sum batchSize slots
// with a rotate-and-add ladder: 1, 2, 4, ..., batchSize/2. The result is empty
// for a batch size of one or less.
func RotationIndices(batchSize int) (steps []int) {
	for k := 1; k < batchSize; k <<= 1 {
		steps = append(steps, k)
	}
	return
}

// GenRotationKeys generates and installs the rotation keys for exactly
// [RotationIndices] of the batch size, replacing any installed rotation key.
// It requires [KeySwitch].
func (c *Context) GenRotationKeys(sk *PrivateKey) error {

	if err := c.require("GenRotationKeys", KeySwitch); err != nil {
		return err
	}

	if err := c.checkKey("GenRotationKeys", sk); err != nil {
		return err
	}

	keys := c.genGaloisKeys(RotationIndices(c.params.BatchSize), sk)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.galoisKeys = keys
	c.installedEvalKeysLocked()

	return nil
}

// GenRotationKeysFor generates rotation keys for the given steps and adds
// them to the installed ones. It requires [KeySwitch].
func (c *Context) GenRotationKeysFor(sk *PrivateKey, steps []int) error {

	if err := c.require("GenRotationKeysFor", KeySwitch); err != nil {
		return err
	}

	if err := c.checkKey("GenRotationKeysFor", sk); err != nil {
		return err
	}

	keys := c.genGaloisKeys(steps, sk)

	c.mu.Lock()
	defer c.mu.Unlock()

	galoisKeys := make(map[int]*rlwe.GaloisKey, len(c.galoisKeys)+len(keys))
	for step, gk := range c.galoisKeys {
		galoisKeys[step] = gk
	}
	for step, gk := range keys {
		galoisKeys[step] = gk
	}

	c.galoisKeys = galoisKeys
	c.installedEvalKeysLocked()

	return nil
}

func (c *Context) genGaloisKeys(steps []int, sk *PrivateKey) map[int]*rlwe.GaloisKey {

	kgen := rlwe.NewKeyGenerator(c.ckksParams)

	keys := make(map[int]*rlwe.GaloisKey, len(steps))
	for _, step := range steps {
		if _, ok := keys[step]; ok {
			continue
		}
		keys[step] = kgen.GenGaloisKeyNew(c.ckksParams.GaloisElement(step), sk.value)
	}

	return keys
}

// RotationSteps returns the sorted rotation steps with an installed key.
func (c *Context) RotationSteps() []int {
	if !c.initialized() {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return utils.GetSortedKeys(c.galoisKeys)
}

// RequireRotations returns an error wrapping [ErrMissingEvaluationKey] if a
// key is missing for one of the steps.
func (c *Context) RequireRotations(steps ...int) error {

	if !c.initialized() {
		return fmt.Errorf("cannot RequireRotations: %w: context is not initialized", ErrInvalidState)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, step := range steps {
		if _, ok := c.galoisKeys[step]; !ok {
			return fmt.Errorf("cannot RequireRotations: %w: no rotation key for step %d", ErrMissingEvaluationKey, step)
		}
	}

	return nil
}

// EvalRotate returns a rotated k positions to the left, cyclically over the
// batch size.
func (c *Context) EvalRotate(a *Ciphertext, k int) (*Ciphertext, error) {

	if err := c.prepare("EvalRotate", a); err != nil {
		return nil, err
	}

	if err := c.RequireRotations(k); err != nil {
		return nil, fmt.Errorf("cannot EvalRotate: %w", err)
	}

	var out *rlwe.Ciphertext
	err := c.withEvaluator(func(eval *ckks.Evaluator) (err error) {
		out, err = eval.RotateNew(a.value, k)
		return
	})

	if err != nil {
		return nil, mapEngineError("EvalRotate", err)
	}

	return c.result(out, a.slots), nil
}

// EvalSum returns a ciphertext whose every slot holds the sum of n
// consecutive slots of a (cyclically), with n a power of two not larger than
// the batch size. It needs the rotation keys of [RotationIndices](n).
func (c *Context) EvalSum(a *Ciphertext, n int) (*Ciphertext, error) {

	if err := c.prepare("EvalSum", a); err != nil {
		return nil, err
	}

	if !utils.IsPowerOfTwo(n) || n > c.params.BatchSize {
		return nil, fmt.Errorf("cannot EvalSum: %w: n=%d must be a power of two smaller or equal to %d", ErrInvalidArgument, n, c.params.BatchSize)
	}

	steps := RotationIndices(n)

	if err := c.RequireRotations(steps...); err != nil {
		return nil, fmt.Errorf("cannot EvalSum: %w", err)
	}

	out := a.value.CopyNew()
	err := c.withEvaluator(func(eval *ckks.Evaluator) error {
		for _, step := range steps {
			rot, err := eval.RotateNew(out, step)
			if err != nil {
				return err
			}
			if err = eval.Add(out, rot, out); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return nil, mapEngineError("EvalSum", err)
	}

	return c.result(out, a.slots), nil
}
