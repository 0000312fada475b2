package fhe

import (
	"fmt"
	"math/bits"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/ring"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"

	"github.com/neuralhe/neuralhe/utils"
)

const (
	// LogAuxModulus is the bit size of the auxiliary prime used by key switching.
	LogAuxModulus = 61

	// SparseTernaryHammingWeight is the Hamming weight of [SparseTernary] secrets.
	SparseTernaryHammingWeight = 192

	minLogN = 10
	maxLogN = 17

	minModSize = 20
	maxModSize = 60
)

// heStdMaxLogQP is the largest log2(QP) allowed by the homomorphic encryption
// standard for ring dimensions 2^10 to 2^16, with ternary secrets.
var heStdMaxLogQP = map[SecurityLevel][]int{
	HEStd128Classic: {27, 54, 109, 218, 438, 881, 1772},
	HEStd192Classic: {19, 37, 75, 152, 305, 611, 1228},
	HEStd256Classic: {14, 29, 58, 118, 237, 476, 956},
}

// SchemeParameters is the user-facing configuration of a CKKS [Context].
// It is a value type: a [Context] keeps its own copy.
type SchemeParameters struct {
	// RingDim is the ring dimension N. Zero selects the smallest power of two
	// satisfying SecurityLevel.
	RingDim int `json:"ring_dim" yaml:"ring_dim"`
	// ScalingModSize is the bit size of the rescaling primes and of the default scale.
	ScalingModSize int `json:"scaling_mod_size" yaml:"scaling_mod_size"`
	// FirstModSize is the bit size of the first prime of the modulus chain.
	FirstModSize int `json:"first_mod_size" yaml:"first_mod_size"`
	// MultiplicativeDepth is the number of rescalings a fresh ciphertext supports.
	MultiplicativeDepth int `json:"multiplicative_depth" yaml:"multiplicative_depth"`
	SecurityLevel       SecurityLevel `json:"security_level" yaml:"security_level"`
	// BatchSize is the number of slots packed per ciphertext. Zero selects N/2.
	BatchSize          int                `json:"batch_size" yaml:"batch_size"`
	ScalingTechnique   ScalingTechnique   `json:"scaling_technique" yaml:"scaling_technique"`
	SecretKeyDist      SecretKeyDist      `json:"secret_key_dist" yaml:"secret_key_dist"`
	KeySwitchTechnique KeySwitchTechnique `json:"key_switch_technique" yaml:"key_switch_technique"`
}

// LogQ returns the bit sizes of the modulus chain.
func (p SchemeParameters) LogQ() (logQ []int) {
	logQ = make([]int, p.MultiplicativeDepth+1)
	logQ[0] = p.FirstModSize
	for i := 1; i < len(logQ); i++ {
		logQ[i] = p.ScalingModSize
	}
	return
}

// LogQP returns the total bit size of the modulus chain and the auxiliary prime.
func (p SchemeParameters) LogQP() int {
	return p.FirstModSize + p.MultiplicativeDepth*p.ScalingModSize + LogAuxModulus
}

// Validate checks the parameters and returns an error wrapping
// [ErrInvalidArgument] if they cannot instantiate a [Context].
func (p SchemeParameters) Validate() (err error) {
	_, err = p.Resolve()
	return
}

// Resolve validates the parameters and returns a copy where the ring
// dimension and the batch size are set.
func (p SchemeParameters) Resolve() (SchemeParameters, error) {

	switch {
	case p.ScalingModSize < minModSize || p.ScalingModSize > maxModSize:
		return p, fmt.Errorf("cannot Resolve: %w: ScalingModSize=%d must be in [%d, %d]", ErrInvalidArgument, p.ScalingModSize, minModSize, maxModSize)
	case p.FirstModSize < minModSize || p.FirstModSize > maxModSize:
		return p, fmt.Errorf("cannot Resolve: %w: FirstModSize=%d must be in [%d, %d]", ErrInvalidArgument, p.FirstModSize, minModSize, maxModSize)
	case p.MultiplicativeDepth < 0:
		return p, fmt.Errorf("cannot Resolve: %w: MultiplicativeDepth=%d is negative", ErrInvalidArgument, p.MultiplicativeDepth)
	case p.ScalingTechnique == NoRescale || p.ScalingTechnique == InvalidScalingTechnique:
		return p, fmt.Errorf("cannot Resolve: %w: ScalingTechnique %s is not supported", ErrInvalidArgument, p.ScalingTechnique)
	case p.ScalingTechnique < 0 || p.ScalingTechnique > InvalidScalingTechnique:
		return p, fmt.Errorf("cannot Resolve: %w: unknown ScalingTechnique %d", ErrInvalidArgument, int(p.ScalingTechnique))
	case p.SecretKeyDist < UniformTernary || p.SecretKeyDist > Gaussian:
		return p, fmt.Errorf("cannot Resolve: %w: unknown SecretKeyDist %d", ErrInvalidArgument, int(p.SecretKeyDist))
	case p.KeySwitchTechnique < Hybrid || p.KeySwitchTechnique > BV:
		return p, fmt.Errorf("cannot Resolve: %w: unknown KeySwitchTechnique %d", ErrInvalidArgument, int(p.KeySwitchTechnique))
	case p.SecurityLevel < HEStd128Classic || p.SecurityLevel > HEStdNotSet:
		return p, fmt.Errorf("cannot Resolve: %w: unknown SecurityLevel %d", ErrInvalidArgument, int(p.SecurityLevel))
	}

	logQP := p.LogQP()

	if p.RingDim == 0 {

		if p.SecurityLevel == HEStdNotSet {
			return p, fmt.Errorf("cannot Resolve: %w: RingDim must be set when SecurityLevel is %s", ErrInvalidArgument, HEStdNotSet)
		}

		for i, maxLogQP := range heStdMaxLogQP[p.SecurityLevel] {
			if logQP <= maxLogQP {
				p.RingDim = 1 << (minLogN + i)
				break
			}
		}

		if p.RingDim == 0 {
			return p, fmt.Errorf("cannot Resolve: %w: no ring dimension supports LogQP=%d at %s", ErrInvalidArgument, logQP, p.SecurityLevel)
		}
	}

	if !utils.IsPowerOfTwo(p.RingDim) {
		return p, fmt.Errorf("cannot Resolve: %w: RingDim=%d is not a power of two", ErrInvalidArgument, p.RingDim)
	}

	logN := bits.Len(uint(p.RingDim)) - 1

	if logN < minLogN || logN > maxLogN {
		return p, fmt.Errorf("cannot Resolve: %w: RingDim=2^%d must be in [2^%d, 2^%d]", ErrInvalidArgument, logN, minLogN, maxLogN)
	}

	if p.SecurityLevel != HEStdNotSet {
		table := heStdMaxLogQP[p.SecurityLevel]
		if logN-minLogN >= len(table) {
			return p, fmt.Errorf("cannot Resolve: %w: RingDim=2^%d has no entry for %s", ErrInvalidArgument, logN, p.SecurityLevel)
		}
		if maxLogQP := table[logN-minLogN]; logQP > maxLogQP {
			return p, fmt.Errorf("cannot Resolve: %w: LogQP=%d exceeds %d, the maximum for RingDim=2^%d at %s", ErrInvalidArgument, logQP, maxLogQP, logN, p.SecurityLevel)
		}
	}

	maxSlots := p.RingDim >> 1

	if p.BatchSize == 0 {
		p.BatchSize = maxSlots
	}

	if !utils.IsPowerOfTwo(p.BatchSize) || p.BatchSize > maxSlots {
		return p, fmt.Errorf("cannot Resolve: %w: BatchSize=%d must be a power of two smaller or equal to %d", ErrInvalidArgument, p.BatchSize, maxSlots)
	}

	return p, nil
}

// ParametersLiteral returns the [ckks.ParametersLiteral] described by the
// parameters.
func (p SchemeParameters) ParametersLiteral() (lit ckks.ParametersLiteral, err error) {

	if p, err = p.Resolve(); err != nil {
		return
	}

	var xs ring.DistributionParameters
	switch p.SecretKeyDist {
	case UniformTernary:
		xs = rlwe.DefaultXs
	case SparseTernary:
		xs = ring.Ternary{H: SparseTernaryHammingWeight}
	case Gaussian:
		xs = rlwe.DefaultXe
	}

	return ckks.ParametersLiteral{
		LogN:            bits.Len(uint(p.RingDim)) - 1,
		LogQ:            p.LogQ(),
		LogP:            []int{LogAuxModulus},
		Xs:              xs,
		Xe:              rlwe.DefaultXe,
		RingType:        ring.Standard,
		LogDefaultScale: p.ScalingModSize,
	}, nil
}

// AutoRescale returns true if multiplications are followed by an automatic rescaling.
func (p SchemeParameters) AutoRescale() bool {
	return p.ScalingTechnique != FixedManual
}
