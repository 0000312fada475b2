package fhe

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
	"github.com/tuneinsight/lattigo/v6/utils/sampling"
	"github.com/zeebo/blake3"

	"github.com/neuralhe/neuralhe/utils"
)

// State is the lifecycle state of a [Context]. Transitions are monotonic.
type State int

const (
	// Unconfigured is the state of the zero value of [Context].
	Unconfigured State = iota
	// Initialized means the parameters are set and the engine is built.
	Initialized
	// FeatureEnabled means at least one [Feature] is enabled.
	FeatureEnabled
	// KeysGenerated means a key pair bound to the Context exists.
	KeysGenerated
	// EvalKeysReady means multiplication or rotation keys have been installed.
	// Clearing or failing to load evaluation keys does not leave this state.
	EvalKeysReady
)

var stateNames = []string{"Unconfigured", "Initialized", "FeatureEnabled", "KeysGenerated", "EvalKeysReady"}

func (s State) String() string { return enumString(stateNames, s) }

// Fingerprint identifies a [Context]. Keys and ciphertexts carry the
// fingerprint of the Context that produced them.
type Fingerprint [32]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:8])
}

// fingerprintNonce is the random part of a [Fingerprint]. It is persisted
// with the Context and the fingerprint is recomputed on load.
type fingerprintNonce [16]byte

// Context owns one CKKS parameter set, its enabled features and its
// evaluation keys. All methods are safe for concurrent use. A Context must not
// be copied after first use.
type Context struct {
	params      SchemeParameters
	ckksParams  ckks.Parameters
	nonce       fingerprintNonce
	fingerprint Fingerprint

	encoders sync.Pool

	mu            sync.RWMutex
	features      Feature
	keysGenerated bool
	evalKeysReady bool
	relinKey      *rlwe.RelinearizationKey
	galoisKeys    map[int]*rlwe.GaloisKey
	evaluators    *evaluatorPool
}

// NewContext validates the parameters and instantiates the engine.
func NewContext(params SchemeParameters) (*Context, error) {

	resolved, err := params.Resolve()
	if err != nil {
		return nil, fmt.Errorf("cannot NewContext: %w", err)
	}

	lit, err := resolved.ParametersLiteral()
	if err != nil {
		return nil, fmt.Errorf("cannot NewContext: %w", err)
	}

	ckksParams, err := ckks.NewParametersFromLiteral(lit)
	if err != nil {
		return nil, fmt.Errorf("cannot NewContext: %w: %w", ErrInvalidArgument, err)
	}

	nonce, err := newFingerprintNonce()
	if err != nil {
		return nil, fmt.Errorf("cannot NewContext: %w", err)
	}

	fingerprint, err := computeFingerprint(ckksParams, nonce)
	if err != nil {
		return nil, fmt.Errorf("cannot NewContext: %w", err)
	}

	return newContext(resolved, ckksParams, nonce, fingerprint, 0), nil
}

// MakeContext is an alias of [NewContext].
func MakeContext(params SchemeParameters) (*Context, error) {
	return NewContext(params)
}

func newContext(params SchemeParameters, ckksParams ckks.Parameters, nonce fingerprintNonce, fingerprint Fingerprint, features Feature) *Context {

	c := &Context{
		params:      params,
		ckksParams:  ckksParams,
		nonce:       nonce,
		fingerprint: fingerprint,
		features:    features,
		galoisKeys:  map[int]*rlwe.GaloisKey{},
	}

	encoder := ckks.NewEncoder(ckksParams)
	c.encoders.New = func() any {
		return encoder.ShallowCopy()
	}

	c.evaluators = newEvaluatorPool(ckksParams, rlwe.NewMemEvaluationKeySet(nil))

	return c
}

func newFingerprintNonce() (nonce fingerprintNonce, err error) {

	prng, err := sampling.NewPRNG()
	if err != nil {
		return nonce, fmt.Errorf("cannot newFingerprintNonce: %w", err)
	}

	if _, err = prng.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("cannot newFingerprintNonce: %w", err)
	}

	return
}

// computeFingerprint returns the blake3 hash of the marshalled engine
// parameters followed by the nonce.
func computeFingerprint(params ckks.Parameters, nonce fingerprintNonce) (fingerprint Fingerprint, err error) {

	data, err := params.MarshalBinary()
	if err != nil {
		return fingerprint, fmt.Errorf("cannot computeFingerprint: %w: %w", ErrSerialization, err)
	}

	h := blake3.New()
	if _, err = h.Write(data); err != nil {
		return fingerprint, fmt.Errorf("cannot computeFingerprint: %w", err)
	}
	if _, err = h.Write(nonce[:]); err != nil {
		return fingerprint, fmt.Errorf("cannot computeFingerprint: %w", err)
	}

	copy(fingerprint[:], h.Sum(nil))

	return
}

func (c *Context) initialized() bool {
	return c != nil && c.params.RingDim != 0
}

// require returns an error wrapping [ErrInvalidState] if the Context is not
// initialized or if one of the given features is not enabled.
func (c *Context) require(op string, features Feature) error {

	if !c.initialized() {
		return fmt.Errorf("cannot %s: %w: context is not initialized", op, ErrInvalidState)
	}

	c.mu.RLock()
	enabled := c.features
	c.mu.RUnlock()

	if missing := features &^ enabled; missing != 0 {
		return fmt.Errorf("cannot %s: %w: feature %s is not enabled", op, ErrInvalidState, missing)
	}

	return nil
}

// Enable activates the given features. It is idempotent and features are
// never disabled. Features outside of [SupportedFeatures] are rejected with
// [ErrUnsupportedFeature].
func (c *Context) Enable(feature Feature) error {

	if !c.initialized() {
		return fmt.Errorf("cannot Enable: %w: context is not initialized", ErrInvalidState)
	}

	var known Feature
	for _, f := range AllFeatures {
		known |= f
	}

	if feature == 0 || feature&^known != 0 {
		return fmt.Errorf("cannot Enable: %w: unknown feature %d", ErrInvalidArgument, uint8(feature))
	}

	if unsupported := feature &^ SupportedFeatures; unsupported != 0 {
		return fmt.Errorf("cannot Enable: %w: %s", ErrUnsupportedFeature, unsupported)
	}

	c.mu.Lock()
	c.features |= feature
	c.mu.Unlock()

	return nil
}

// Features returns the set of enabled features.
func (c *Context) Features() Feature {
	if !c.initialized() {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.features
}

// IsEnabled returns true if all the given features are enabled.
func (c *Context) IsEnabled(feature Feature) bool {
	return c.Features().Has(feature)
}

// State returns the current lifecycle state.
func (c *Context) State() State {

	if !c.initialized() {
		return Unconfigured
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.features == 0:
		return Initialized
	case !c.keysGenerated:
		return FeatureEnabled
	case !c.evalKeysReady:
		return KeysGenerated
	default:
		return EvalKeysReady
	}
}

func (c *Context) markKeysGenerated() {
	c.mu.Lock()
	c.keysGenerated = true
	c.mu.Unlock()
}

// Parameters returns the resolved scheme parameters.
func (c *Context) Parameters() SchemeParameters {
	return c.params
}

// EngineParameters returns the underlying CKKS parameters.
func (c *Context) EngineParameters() ckks.Parameters {
	return c.ckksParams
}

// Fingerprint returns the identifier shared by every key and ciphertext
// produced from this Context.
func (c *Context) Fingerprint() Fingerprint {
	return c.fingerprint
}

// RingDimension returns the ring dimension N.
func (c *Context) RingDimension() int {
	return c.params.RingDim
}

// BatchSize returns the number of slots packed per ciphertext.
func (c *Context) BatchSize() int {
	return c.params.BatchSize
}

// MaxLevel returns the level of freshly encrypted ciphertexts.
func (c *Context) MaxLevel() int {
	return c.ckksParams.MaxLevel()
}

// LevelsPerRescale returns the number of levels consumed by one rescaling.
func (c *Context) LevelsPerRescale() int {
	return c.ckksParams.LevelsConsumedPerRescaling()
}

// AutoRescale returns true if multiplications rescale their result.
func (c *Context) AutoRescale() bool {
	return c.params.AutoRescale()
}

// KeyGen generates a new key pair bound to the Context. It requires [PKE].
func (c *Context) KeyGen() (*KeyPair, error) {

	if err := c.require("KeyGen", PKE); err != nil {
		return nil, err
	}

	sk, pk := rlwe.NewKeyGenerator(c.ckksParams).GenKeyPairNew()

	c.markKeysGenerated()

	return &KeyPair{
		Public:  &PublicKey{fingerprint: c.fingerprint, value: pk},
		Private: &PrivateKey{fingerprint: c.fingerprint, value: sk},
	}, nil
}

// EvalMultKeyGen generates and installs the relinearization key used by
// ciphertext-ciphertext multiplications. It requires [LeveledSHE].
func (c *Context) EvalMultKeyGen(sk *PrivateKey) error {

	if err := c.require("EvalMultKeyGen", LeveledSHE); err != nil {
		return err
	}

	if err := c.checkKey("EvalMultKeyGen", sk); err != nil {
		return err
	}

	rlk := rlwe.NewKeyGenerator(c.ckksParams).GenRelinearizationKeyNew(sk.value)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.relinKey = rlk
	c.installedEvalKeysLocked()

	return nil
}

// HasMultKey returns true if a relinearization key is installed.
func (c *Context) HasMultKey() bool {
	if !c.initialized() {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.relinKey != nil
}

// ClearMultKeys removes the installed relinearization key. The [State] of
// the Context is unchanged.
func (c *Context) ClearMultKeys() {
	if !c.initialized() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relinKey = nil
	c.rebuildEvaluatorsLocked()
}

// ClearRotKeys removes every installed rotation key. The [State] of the
// Context is unchanged.
func (c *Context) ClearRotKeys() {
	if !c.initialized() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.galoisKeys = map[int]*rlwe.GaloisKey{}
	c.rebuildEvaluatorsLocked()
}

// installedEvalKeysLocked latches the key states once an evaluation key is
// installed, then rebuilds the evaluator pool.
func (c *Context) installedEvalKeysLocked() {
	c.keysGenerated = true
	c.evalKeysReady = c.evalKeysReady || c.relinKey != nil || len(c.galoisKeys) != 0
	c.rebuildEvaluatorsLocked()
}

// rebuildEvaluatorsLocked replaces the evaluator pool with one bound to the
// current key set. Evaluators already checked out keep the previous keys.
func (c *Context) rebuildEvaluatorsLocked() {

	gks := make([]*rlwe.GaloisKey, 0, len(c.galoisKeys))
	for _, step := range utils.GetSortedKeys(c.galoisKeys) {
		gks = append(gks, c.galoisKeys[step])
	}

	c.evaluators = newEvaluatorPool(c.ckksParams, rlwe.NewMemEvaluationKeySet(c.relinKey, gks...))
}

// owns returns an error wrapping [ErrContextMismatch] if the fingerprint was
// not produced by this Context.
func (c *Context) owns(op string, fingerprint Fingerprint) error {
	if fingerprint != c.fingerprint {
		return fmt.Errorf("cannot %s: %w: object bound to %s, context is %s", op, ErrContextMismatch, fingerprint, c.fingerprint)
	}
	return nil
}

type boundKey interface {
	Fingerprint() Fingerprint
}

func (c *Context) checkKey(op string, key boundKey) error {
	switch k := key.(type) {
	case *PrivateKey:
		if k == nil || k.value == nil {
			return fmt.Errorf("cannot %s: %w: private key is nil", op, ErrInvalidArgument)
		}
	case *PublicKey:
		if k == nil || k.value == nil {
			return fmt.Errorf("cannot %s: %w: public key is nil", op, ErrInvalidArgument)
		}
	}
	return c.owns(op, key.Fingerprint())
}
