// Package fhe implements a runtime facade over the CKKS scheme of Lattigo:
// scheme parameters, a Context owning the engine and its evaluation keys,
// key pairs, packed plaintexts, ciphertexts with a slot count, mixed-operand
// arithmetic and binary persistence of every object.
//
// The lifecycle of a Context is
//
//	NewContext -> Enable -> KeyGen -> EvalMultKeyGen / GenRotationKeys
//
// and each operation returns an error wrapping [ErrInvalidState] if called
// before its prerequisite step.
package fhe
