package fhe

import (
	"fmt"
	"strings"
)

// SecurityLevel is a named classical security target of the homomorphic
// encryption standard. It constrains the ring dimension and the size of the
// modulus chain.
type SecurityLevel int

const (
	HEStd128Classic SecurityLevel = iota
	HEStd192Classic
	HEStd256Classic
	// HEStdNotSet disables the security check. The ring dimension must then
	// be given explicitly.
	HEStdNotSet
)

var securityLevelNames = []string{"HEStd_128_classic", "HEStd_192_classic", "HEStd_256_classic", "HEStd_NotSet"}

func (s SecurityLevel) String() string { return enumString(securityLevelNames, s) }

// MarshalText implements [encoding.TextMarshaler].
func (s SecurityLevel) MarshalText() ([]byte, error) { return enumMarshal(securityLevelNames, s) }

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *SecurityLevel) UnmarshalText(text []byte) (err error) {
	*s, err = enumParse[SecurityLevel](securityLevelNames, text)
	return
}

// ScalingTechnique selects how rescaling is triggered after multiplications.
type ScalingTechnique int

const (
	// FlexibleAuto rescales after every multiplication.
	FlexibleAuto ScalingTechnique = iota
	FlexibleAutoExt
	FixedAuto
	// FixedManual leaves rescaling to the caller, see [Context.Rescale].
	FixedManual
	// NoRescale is recognized but rejected: CKKS cannot run without rescaling.
	NoRescale
	InvalidScalingTechnique
)

var scalingTechniqueNames = []string{"FLEXIBLEAUTO", "FLEXIBLEAUTOEXT", "FIXEDAUTO", "FIXEDMANUAL", "NORESCALE", "INVALID_RS_TECHNIQUE"}

func (s ScalingTechnique) String() string { return enumString(scalingTechniqueNames, s) }

// MarshalText implements [encoding.TextMarshaler].
func (s ScalingTechnique) MarshalText() ([]byte, error) { return enumMarshal(scalingTechniqueNames, s) }

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *ScalingTechnique) UnmarshalText(text []byte) (err error) {
	*s, err = enumParse[ScalingTechnique](scalingTechniqueNames, text)
	return
}

// SecretKeyDist is the distribution of the secret key coefficients.
type SecretKeyDist int

const (
	UniformTernary SecretKeyDist = iota
	SparseTernary
	Gaussian
)

var secretKeyDistNames = []string{"UNIFORM_TERNARY", "SPARSE_TERNARY", "GAUSSIAN"}

func (s SecretKeyDist) String() string { return enumString(secretKeyDistNames, s) }

// MarshalText implements [encoding.TextMarshaler].
func (s SecretKeyDist) MarshalText() ([]byte, error) { return enumMarshal(secretKeyDistNames, s) }

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *SecretKeyDist) UnmarshalText(text []byte) (err error) {
	*s, err = enumParse[SecretKeyDist](secretKeyDistNames, text)
	return
}

// KeySwitchTechnique names the key-switching method. Both values are
// evaluated with hybrid key switching over a single auxiliary prime.
type KeySwitchTechnique int

const (
	Hybrid KeySwitchTechnique = iota
	BV
)

var keySwitchTechniqueNames = []string{"HYBRID", "BV"}

func (k KeySwitchTechnique) String() string { return enumString(keySwitchTechniqueNames, k) }

// MarshalText implements [encoding.TextMarshaler].
func (k KeySwitchTechnique) MarshalText() ([]byte, error) {
	return enumMarshal(keySwitchTechniqueNames, k)
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (k *KeySwitchTechnique) UnmarshalText(text []byte) (err error) {
	*k, err = enumParse[KeySwitchTechnique](keySwitchTechniqueNames, text)
	return
}

func enumString[T ~int](names []string, v T) string {
	if v < 0 || int(v) >= len(names) {
		return fmt.Sprintf("%T(%d)", v, int(v))
	}
	return names[v]
}

func enumMarshal[T ~int](names []string, v T) ([]byte, error) {
	if v < 0 || int(v) >= len(names) {
		return nil, fmt.Errorf("cannot MarshalText: %w: unknown %T %d", ErrInvalidArgument, v, int(v))
	}
	return []byte(names[v]), nil
}

func enumParse[T ~int](names []string, text []byte) (T, error) {
	s := strings.TrimSpace(string(text))
	for i, name := range names {
		if strings.EqualFold(s, name) {
			return T(i), nil
		}
	}
	var v T
	return v, fmt.Errorf("cannot UnmarshalText: %w: unknown %T %q", ErrInvalidArgument, v, s)
}
