package fhe

import (
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// Ciphertext is an encrypted vector of real values together with its slot
// count, the number of meaningful values it holds.
//
// A Ciphertext is owned by one goroutine at a time: [Context.Decrypt] and
// [Ciphertext.SetSlots] mutate the slot count without synchronization.
type Ciphertext struct {
	ctx   *Context
	slots int
	value *rlwe.Ciphertext
}

// NewCiphertext wraps an engine ciphertext produced under ctx, for operators
// that evaluate directly with the engine (see [Context.WithEvaluator]).
func NewCiphertext(ctx *Context, value *rlwe.Ciphertext, slots int) *Ciphertext {
	return &Ciphertext{ctx: ctx, slots: slots, value: value}
}

// Context returns the Context that produced the ciphertext.
func (ct *Ciphertext) Context() *Context {
	return ct.ctx
}

// GetContext returns the Context that produced ct.
func GetContext(ct *Ciphertext) *Context {
	if ct == nil {
		return nil
	}
	return ct.ctx
}

// Slots returns the slot count.
func (ct *Ciphertext) Slots() int {
	return ct.slots
}

// SetSlots sets the slot count.
func (ct *Ciphertext) SetSlots(slots int) {
	ct.slots = slots
}

// Level returns the number of rescalings the ciphertext can still undergo,
// in units of engine levels.
func (ct *Ciphertext) Level() int {
	return ct.value.Level()
}

// Value returns the engine ciphertext.
func (ct *Ciphertext) Value() *rlwe.Ciphertext {
	return ct.value
}

// CopyNew returns a deep copy of the ciphertext.
func (ct *Ciphertext) CopyNew() *Ciphertext {
	return &Ciphertext{ctx: ct.ctx, slots: ct.slots, value: ct.value.CopyNew()}
}
