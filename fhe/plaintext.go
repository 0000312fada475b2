package fhe

import (
	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"github.com/neuralhe/neuralhe/utils"
)

// Plaintext is either a packed vector ready for encryption, or the decoded
// result of a decryption.
type Plaintext struct {
	ctx    *Context
	value  *rlwe.Plaintext
	values []float64
	length int
}

// GetPackedValue returns a copy of the values, truncated or zero-padded to
// the length of the plaintext.
func (pt *Plaintext) GetPackedValue() []float64 {
	return utils.ResizeSlice(pt.values, pt.length)
}

// SetLength overrides the number of values returned by [Plaintext.GetPackedValue].
// Negative lengths are treated as zero.
func (pt *Plaintext) SetLength(n int) {
	pt.length = max(n, 0)
}

// Len returns the number of values returned by [Plaintext.GetPackedValue].
func (pt *Plaintext) Len() int {
	return pt.length
}

// Value returns the encoded engine plaintext. It is nil for decoded plaintexts
// that were not produced by a decryption.
func (pt *Plaintext) Value() *rlwe.Plaintext {
	return pt.value
}

// Context returns the Context that produced the plaintext.
func (pt *Plaintext) Context() *Context {
	return pt.ctx
}
