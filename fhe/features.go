package fhe

import (
	"fmt"
	"math/bits"
	"strings"
)

// Feature is a scheme capability that must be enabled on a [Context] before
// the operations depending on it can be used.
type Feature uint8

const (
	// PKE enables key generation, encryption and decryption.
	PKE Feature = 1 << iota
	// KeySwitch enables rotation key generation.
	KeySwitch
	// PRE is proxy re-encryption. Not supported.
	PRE
	// LeveledSHE enables homomorphic addition, subtraction and multiplication.
	LeveledSHE
	// AdvancedSHE enables polynomial evaluation, used by activations.
	AdvancedSHE
	// Multiparty is threshold key generation and decryption. Not supported.
	Multiparty
	// FHE is bootstrapping. Not supported.
	FHE
)

// SupportedFeatures is the set of features [Context.Enable] accepts.
const SupportedFeatures = PKE | KeySwitch | LeveledSHE | AdvancedSHE

var featureNames = map[Feature]string{
	PKE:         "PKE",
	KeySwitch:   "KEYSWITCH",
	PRE:         "PRE",
	LeveledSHE:  "LEVELEDSHE",
	AdvancedSHE: "ADVANCEDSHE",
	Multiparty:  "MULTIPARTY",
	FHE:         "FHE",
}

// AllFeatures lists every known feature in declaration order.
var AllFeatures = []Feature{PKE, KeySwitch, PRE, LeveledSHE, AdvancedSHE, Multiparty, FHE}

// Has returns true if every feature of other is set in f.
func (f Feature) Has(other Feature) bool {
	return f&other == other
}

// List returns the features set in f, in declaration order.
func (f Feature) List() (list []Feature) {
	for _, feature := range AllFeatures {
		if f.Has(feature) {
			list = append(list, feature)
		}
	}
	return
}

func (f Feature) String() string {
	if name, ok := featureNames[f]; ok {
		return name
	}

	if bits.OnesCount8(uint8(f)) > 1 {
		names := make([]string, 0, bits.OnesCount8(uint8(f)))
		for _, feature := range f.List() {
			names = append(names, featureNames[feature])
		}
		return strings.Join(names, "|")
	}

	return fmt.Sprintf("Feature(%d)", uint8(f))
}

// MarshalText implements [encoding.TextMarshaler] for a single feature.
func (f Feature) MarshalText() ([]byte, error) {
	if name, ok := featureNames[f]; ok {
		return []byte(name), nil
	}
	return nil, fmt.Errorf("cannot MarshalText: %w: %d is not a single feature", ErrInvalidArgument, uint8(f))
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (f *Feature) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	for feature, name := range featureNames {
		if strings.EqualFold(s, name) {
			*f = feature
			return nil
		}
	}
	return fmt.Errorf("cannot UnmarshalText: %w: unknown feature %q", ErrInvalidArgument, s)
}
