package fhe

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"

	"github.com/neuralhe/neuralhe/utils"
)

func (c *Context) getEncoder() *ckks.Encoder {
	return c.encoders.Get().(*ckks.Encoder)
}

func (c *Context) putEncoder(ecd *ckks.Encoder) {
	c.encoders.Put(ecd)
}

// PackPlaintext encodes values at the top level and default scale, with the
// batch size of the Context as the number of slots. The values are copied.
func (c *Context) PackPlaintext(values []float64) (*Plaintext, error) {

	if !c.initialized() {
		return nil, fmt.Errorf("cannot PackPlaintext: %w: context is not initialized", ErrInvalidState)
	}

	if len(values) == 0 || len(values) > c.params.BatchSize {
		return nil, fmt.Errorf("cannot PackPlaintext: %w: len(values)=%d must be in [1, %d]", ErrInvalidArgument, len(values), c.params.BatchSize)
	}

	pt := ckks.NewPlaintext(c.ckksParams, c.ckksParams.MaxLevel())
	pt.LogDimensions.Cols = utils.Log2(c.params.BatchSize)

	ecd := c.getEncoder()
	defer c.putEncoder(ecd)

	if err := ecd.Encode(values, pt); err != nil {
		return nil, fmt.Errorf("cannot PackPlaintext: %w", err)
	}

	return &Plaintext{
		ctx:    c,
		value:  pt,
		values: utils.ResizeSlice(values, len(values)),
		length: len(values),
	}, nil
}

// Encrypt encrypts a packed plaintext under pk. The slot count of the result
// is the number of packed values. It requires [PKE].
func (c *Context) Encrypt(pt *Plaintext, pk *PublicKey) (*Ciphertext, error) {

	if err := c.require("Encrypt", PKE); err != nil {
		return nil, err
	}

	if err := c.checkKey("Encrypt", pk); err != nil {
		return nil, err
	}

	if pt == nil || pt.value == nil {
		return nil, fmt.Errorf("cannot Encrypt: %w: plaintext is not packed", ErrInvalidArgument)
	}

	if !c.compatible(pt.ctx) {
		return nil, fmt.Errorf("cannot Encrypt: %w: plaintext packed by another context", ErrContextMismatch)
	}

	ct, err := rlwe.NewEncryptor(c.ckksParams, pk.value).EncryptNew(pt.value)
	if err != nil {
		return nil, fmt.Errorf("cannot Encrypt: %w", err)
	}

	return &Ciphertext{ctx: c, slots: len(pt.values), value: ct}, nil
}

// Decrypt raises the slot count of ct to the smallest power of two strictly
// greater than its current value, then decrypts it with sk. It requires [PKE].
//
// The returned plaintext holds the aligned number of values, repeating the
// batch-periodic slot vector when the aligned count exceeds the batch size,
// and its length is set to the slot count of ct before alignment.
//
// The slot count of ct must be in [0, N) with N the ring dimension, so that
// the aligned count is at most N. Other counts are rejected with
// [ErrInvalidArgument] and ct is left unchanged.
func (c *Context) Decrypt(ct *Ciphertext, sk *PrivateKey) (*Plaintext, error) {

	if err := c.require("Decrypt", PKE); err != nil {
		return nil, err
	}

	if err := c.checkKey("Decrypt", sk); err != nil {
		return nil, err
	}

	if err := c.checkOperand("Decrypt", ct); err != nil {
		return nil, err
	}

	slots := ct.slots
	if slots < 0 || slots >= c.params.RingDim {
		return nil, fmt.Errorf("cannot Decrypt: %w: slot count %d must be in [0, %d)", ErrInvalidArgument, slots, c.params.RingDim)
	}

	power := utils.PowerOfTwoAbove(slots)
	ct.SetSlots(power)

	pt := rlwe.NewDecryptor(c.ckksParams, sk.value).DecryptNew(ct.value)

	decoded := make([]float64, pt.Slots())

	ecd := c.getEncoder()
	defer c.putEncoder(ecd)

	if err := ecd.Decode(pt, decoded); err != nil {
		return nil, fmt.Errorf("cannot Decrypt: %w", err)
	}

	return &Plaintext{
		ctx:    c,
		value:  pt,
		values: utils.TileSlice(decoded, power),
		length: slots,
	}, nil
}

func (c *Context) checkOperand(op string, ct *Ciphertext) error {
	if ct == nil || ct.value == nil {
		return fmt.Errorf("cannot %s: %w: ciphertext is nil", op, ErrInvalidArgument)
	}
	if !c.compatible(ct.ctx) {
		return fmt.Errorf("cannot %s: %w: ciphertext produced by another context", op, ErrContextMismatch)
	}
	return nil
}

// compatible returns true if other is c, or a Context loaded from the same
// persisted Context.
func (c *Context) compatible(other *Context) bool {
	return other == c || (other != nil && other.fingerprint == c.fingerprint)
}
