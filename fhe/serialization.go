package fhe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
	"github.com/tuneinsight/lattigo/v6/utils/buffer"
	"golang.org/x/crypto/blake2b"

	"github.com/neuralhe/neuralhe/utils"
)

// Every persisted object is framed as
//
//	magic [4]byte | kind uint8 | version uint8 | fingerprint [32]byte |
//	payload length uint64 | payload | blake2b-256 checksum of all the above
//
// with integers in little endian.

type objectKind uint8

const (
	kindContext objectKind = iota + 1
	kindPublicKey
	kindPrivateKey
	kindCiphertext
	kindMultKeys
	kindRotKeys
)

var objectKindNames = map[objectKind]string{
	kindContext:    "context",
	kindPublicKey:  "public key",
	kindPrivateKey: "private key",
	kindCiphertext: "ciphertext",
	kindMultKeys:   "multiplication keys",
	kindRotKeys:    "rotation keys",
}

func (k objectKind) String() string {
	if name, ok := objectKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("objectKind(%d)", uint8(k))
}

var envelopeMagic = [4]byte{'N', 'H', 'E', '1'}

const (
	envelopeVersion    = 1
	envelopeHeaderSize = 4 + 1 + 1 + 32 + 8
	envelopeSumSize    = blake2b.Size256
)

func writeEnvelope(w io.Writer, kind objectKind, fingerprint Fingerprint, payload []byte) (n int64, err error) {

	buf := buffer.NewBufferSize(envelopeHeaderSize + len(payload))

	if _, err = buffer.Write(buf, envelopeMagic[:]); err != nil {
		return
	}

	if _, err = buffer.WriteUint8(buf, uint8(kind)); err != nil {
		return
	}

	if _, err = buffer.WriteUint8(buf, envelopeVersion); err != nil {
		return
	}

	if _, err = buffer.Write(buf, fingerprint[:]); err != nil {
		return
	}

	if _, err = buffer.WriteUint64(buf, uint64(len(payload))); err != nil {
		return
	}

	if _, err = buffer.Write(buf, payload); err != nil {
		return
	}

	sum := blake2b.Sum256(buf.Bytes())

	var inc int
	for _, b := range [][]byte{buf.Bytes(), sum[:]} {
		if inc, err = w.Write(b); err != nil {
			return n + int64(inc), fmt.Errorf("%w: %w", ErrIO, err)
		}
		n += int64(inc)
	}

	return
}

// envelopeSize returns the number of bytes of the envelope framing payload.
func envelopeSize(payload []byte) int64 {
	return int64(envelopeHeaderSize + len(payload) + envelopeSumSize)
}

func readEnvelope(r io.Reader, kind objectKind) (fingerprint Fingerprint, payload []byte, err error) {

	data, err := io.ReadAll(r)
	if err != nil {
		return fingerprint, nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	if len(data) < envelopeHeaderSize+envelopeSumSize {
		return fingerprint, nil, fmt.Errorf("%w: %s: truncated data (%d bytes)", ErrSerialization, kind, len(data))
	}

	body, sum := data[:len(data)-envelopeSumSize], data[len(data)-envelopeSumSize:]

	if want := blake2b.Sum256(body); !bytes.Equal(want[:], sum) {
		return fingerprint, nil, fmt.Errorf("%w: %s: checksum mismatch", ErrSerialization, kind)
	}

	buf := buffer.NewBuffer(body)

	magic := make([]byte, len(envelopeMagic))
	if _, err = buffer.ReadUint8Slice(buf, magic); err != nil {
		return fingerprint, nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	if !bytes.Equal(magic, envelopeMagic[:]) {
		return fingerprint, nil, fmt.Errorf("%w: %s: bad magic %q", ErrSerialization, kind, magic)
	}

	var k, version uint8
	if _, err = buffer.ReadUint8(buf, &k); err != nil {
		return fingerprint, nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	if objectKind(k) != kind {
		return fingerprint, nil, fmt.Errorf("%w: expected %s, found %s", ErrSerialization, kind, objectKind(k))
	}

	if _, err = buffer.ReadUint8(buf, &version); err != nil {
		return fingerprint, nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	if version != envelopeVersion {
		return fingerprint, nil, fmt.Errorf("%w: %s: unsupported version %d", ErrSerialization, kind, version)
	}

	if _, err = buffer.ReadUint8Slice(buf, fingerprint[:]); err != nil {
		return fingerprint, nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	var size uint64
	if _, err = buffer.ReadUint64(buf, &size); err != nil {
		return fingerprint, nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	if size != uint64(len(body)-envelopeHeaderSize) {
		return fingerprint, nil, fmt.Errorf("%w: %s: payload size %d does not match %d", ErrSerialization, kind, size, len(body)-envelopeHeaderSize)
	}

	return fingerprint, body[envelopeHeaderSize:], nil
}

func saveFile(path string, write func(w io.Writer) (int64, error)) (err error) {

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %w", ErrIO, cerr)
		}
	}()

	_, err = write(f)
	return
}

func loadFile[T any](path string, read func(r io.Reader) (T, error)) (v T, err error) {

	f, err := os.Open(path)
	if err != nil {
		return v, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.Close()

	return read(f)
}

// contextHeader is the JSON part of a persisted Context.
type contextHeader struct {
	Parameters SchemeParameters `json:"parameters"`
	Features   []Feature        `json:"features"`
}

// WriteTo writes the parameters, the enabled features and the fingerprint of
// the Context on w, together with the nonce the fingerprint is derived from.
// Evaluation keys are not included.
func (c *Context) WriteTo(w io.Writer) (int64, error) {

	if !c.initialized() {
		return 0, fmt.Errorf("cannot WriteTo: %w: context is not initialized", ErrInvalidState)
	}

	header, err := json.Marshal(contextHeader{Parameters: c.params, Features: c.Features().List()})
	if err != nil {
		return 0, fmt.Errorf("cannot WriteTo: %w: %w", ErrSerialization, err)
	}

	engine, err := c.ckksParams.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("cannot WriteTo: %w: %w", ErrSerialization, err)
	}

	payload := buffer.NewBufferSize(24 + len(header) + len(engine) + len(c.nonce))

	for _, chunk := range [][]byte{header, engine, c.nonce[:]} {
		if err = writeChunk(payload, chunk); err != nil {
			return 0, fmt.Errorf("cannot WriteTo: %w", err)
		}
	}

	n, err := writeEnvelope(w, kindContext, c.fingerprint, payload.Bytes())
	if err != nil {
		return n, fmt.Errorf("cannot WriteTo: %w", err)
	}

	return n, nil
}

// Save writes the Context to a file, see [Context.WriteTo].
func (c *Context) Save(path string) error {
	if err := saveFile(path, c.WriteTo); err != nil {
		return fmt.Errorf("cannot Save: %w", err)
	}
	return nil
}

// ReadContext reads a Context written by [Context.WriteTo]. The returned
// Context has the same fingerprint as the written one, so keys and
// ciphertexts of the written Context can be loaded into it.
//
// The fingerprint is recomputed from the engine parameters and the nonce,
// and the parameters of the header must describe the engine parameters.
// Any mismatch is reported as [ErrSerialization].
func ReadContext(r io.Reader) (*Context, error) {

	fingerprint, payload, err := readEnvelope(r, kindContext)
	if err != nil {
		return nil, fmt.Errorf("cannot ReadContext: %w", err)
	}

	buf := buffer.NewBuffer(payload)

	header, err := readChunk(buf)
	if err != nil {
		return nil, fmt.Errorf("cannot ReadContext: %w", err)
	}

	engine, err := readChunk(buf)
	if err != nil {
		return nil, fmt.Errorf("cannot ReadContext: %w", err)
	}

	nonceBytes, err := readChunk(buf)
	if err != nil {
		return nil, fmt.Errorf("cannot ReadContext: %w", err)
	}

	var nonce fingerprintNonce
	if len(nonceBytes) != len(nonce) {
		return nil, fmt.Errorf("cannot ReadContext: %w: nonce of %d bytes, expected %d", ErrSerialization, len(nonceBytes), len(nonce))
	}
	copy(nonce[:], nonceBytes)

	var h contextHeader
	if err = json.Unmarshal(header, &h); err != nil {
		return nil, fmt.Errorf("cannot ReadContext: %w: %w", ErrSerialization, err)
	}

	params, err := h.Parameters.Resolve()
	if err != nil {
		return nil, fmt.Errorf("cannot ReadContext: %w: %w", ErrSerialization, err)
	}

	var ckksParams ckks.Parameters
	if err = ckksParams.UnmarshalBinary(engine); err != nil {
		return nil, fmt.Errorf("cannot ReadContext: %w: %w", ErrSerialization, err)
	}

	have, err := computeFingerprint(ckksParams, nonce)
	if err != nil {
		return nil, fmt.Errorf("cannot ReadContext: %w", err)
	}

	if have != fingerprint {
		return nil, fmt.Errorf("cannot ReadContext: %w: fingerprint %s does not match the recomputed %s", ErrSerialization, fingerprint, have)
	}

	lit, err := params.ParametersLiteral()
	if err != nil {
		return nil, fmt.Errorf("cannot ReadContext: %w: %w", ErrSerialization, err)
	}

	expected, err := ckks.NewParametersFromLiteral(lit)
	if err != nil {
		return nil, fmt.Errorf("cannot ReadContext: %w: %w", ErrSerialization, err)
	}

	if !expected.Equal(&ckksParams) {
		return nil, fmt.Errorf("cannot ReadContext: %w: header parameters do not match the engine parameters", ErrSerialization)
	}

	var features Feature
	for _, f := range h.Features {
		if !SupportedFeatures.Has(f) {
			return nil, fmt.Errorf("cannot ReadContext: %w: feature %s", ErrUnsupportedFeature, f)
		}
		features |= f
	}

	return newContext(params, ckksParams, nonce, fingerprint, features), nil
}

// LoadContext reads a Context from a file written by [Context.Save].
func LoadContext(path string) (*Context, error) {
	c, err := loadFile(path, ReadContext)
	if err != nil {
		return nil, fmt.Errorf("cannot LoadContext: %w", err)
	}
	return c, nil
}

type binaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}

func writeObject(w io.Writer, kind objectKind, fingerprint Fingerprint, obj binaryMarshaler) (int64, error) {

	data, err := obj.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	return writeEnvelope(w, kind, fingerprint, data)
}

// WriteTo writes the key on w.
func (pk *PublicKey) WriteTo(w io.Writer) (int64, error) {
	n, err := writeObject(w, kindPublicKey, pk.fingerprint, pk.value)
	if err != nil {
		return n, fmt.Errorf("cannot WriteTo: %w", err)
	}
	return n, nil
}

// Save writes the key to a file.
func (pk *PublicKey) Save(path string) error {
	if err := saveFile(path, pk.WriteTo); err != nil {
		return fmt.Errorf("cannot Save: %w", err)
	}
	return nil
}

// ReadPublicKey reads a public key of ctx written by [PublicKey.WriteTo].
func ReadPublicKey(r io.Reader, ctx *Context) (*PublicKey, error) {

	fingerprint, payload, err := ctx.readBound(r, kindPublicKey)
	if err != nil {
		return nil, fmt.Errorf("cannot ReadPublicKey: %w", err)
	}

	pk := new(rlwe.PublicKey)
	if err = pk.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("cannot ReadPublicKey: %w: %w", ErrSerialization, err)
	}

	ctx.markKeysGenerated()

	return &PublicKey{fingerprint: fingerprint, value: pk}, nil
}

// LoadPublicKey reads a public key of ctx from a file written by [PublicKey.Save].
func LoadPublicKey(path string, ctx *Context) (*PublicKey, error) {
	return loadFile(path, func(r io.Reader) (*PublicKey, error) {
		return ReadPublicKey(r, ctx)
	})
}

// WriteTo writes the key on w.
func (sk *PrivateKey) WriteTo(w io.Writer) (int64, error) {
	n, err := writeObject(w, kindPrivateKey, sk.fingerprint, sk.value)
	if err != nil {
		return n, fmt.Errorf("cannot WriteTo: %w", err)
	}
	return n, nil
}

// Save writes the key to a file.
func (sk *PrivateKey) Save(path string) error {
	if err := saveFile(path, sk.WriteTo); err != nil {
		return fmt.Errorf("cannot Save: %w", err)
	}
	return nil
}

// ReadPrivateKey reads a private key of ctx written by [PrivateKey.WriteTo].
func ReadPrivateKey(r io.Reader, ctx *Context) (*PrivateKey, error) {

	fingerprint, payload, err := ctx.readBound(r, kindPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("cannot ReadPrivateKey: %w", err)
	}

	sk := new(rlwe.SecretKey)
	if err = sk.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("cannot ReadPrivateKey: %w: %w", ErrSerialization, err)
	}

	ctx.markKeysGenerated()

	return &PrivateKey{fingerprint: fingerprint, value: sk}, nil
}

// LoadPrivateKey reads a private key of ctx from a file written by [PrivateKey.Save].
func LoadPrivateKey(path string, ctx *Context) (*PrivateKey, error) {
	return loadFile(path, func(r io.Reader) (*PrivateKey, error) {
		return ReadPrivateKey(r, ctx)
	})
}

// WriteTo writes the slot count and the ciphertext on w.
func (ct *Ciphertext) WriteTo(w io.Writer) (int64, error) {

	if ct.ctx == nil {
		return 0, fmt.Errorf("cannot WriteTo: %w: ciphertext has no context", ErrInvalidState)
	}

	data, err := ct.value.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("cannot WriteTo: %w: %w", ErrSerialization, err)
	}

	payload := buffer.NewBufferSize(8 + len(data))

	if _, err = buffer.WriteUint64(payload, uint64(ct.slots)); err != nil {
		return 0, fmt.Errorf("cannot WriteTo: %w", err)
	}

	if _, err = buffer.Write(payload, data); err != nil {
		return 0, fmt.Errorf("cannot WriteTo: %w", err)
	}

	n, err := writeEnvelope(w, kindCiphertext, ct.ctx.fingerprint, payload.Bytes())
	if err != nil {
		return n, fmt.Errorf("cannot WriteTo: %w", err)
	}

	return n, nil
}

// Save writes the ciphertext to a file.
func (ct *Ciphertext) Save(path string) error {
	if err := saveFile(path, ct.WriteTo); err != nil {
		return fmt.Errorf("cannot Save: %w", err)
	}
	return nil
}

// ReadCiphertext reads a ciphertext of ctx written by [Ciphertext.WriteTo].
func ReadCiphertext(r io.Reader, ctx *Context) (*Ciphertext, error) {

	_, payload, err := ctx.readBound(r, kindCiphertext)
	if err != nil {
		return nil, fmt.Errorf("cannot ReadCiphertext: %w", err)
	}

	buf := buffer.NewBuffer(payload)

	var slots uint64
	if _, err = buffer.ReadUint64(buf, &slots); err != nil {
		return nil, fmt.Errorf("cannot ReadCiphertext: %w: %w", ErrSerialization, err)
	}

	if slots > uint64(ctx.RingDimension()) {
		return nil, fmt.Errorf("cannot ReadCiphertext: %w: slot count %d exceeds the ring dimension %d", ErrSerialization, slots, ctx.RingDimension())
	}

	ct := new(rlwe.Ciphertext)
	if err = ct.UnmarshalBinary(payload[8:]); err != nil {
		return nil, fmt.Errorf("cannot ReadCiphertext: %w: %w", ErrSerialization, err)
	}

	return &Ciphertext{ctx: ctx, slots: int(slots), value: ct}, nil
}

// LoadCiphertext reads a ciphertext of ctx from a file written by [Ciphertext.Save].
func LoadCiphertext(path string, ctx *Context) (*Ciphertext, error) {
	return loadFile(path, func(r io.Reader) (*Ciphertext, error) {
		return ReadCiphertext(r, ctx)
	})
}

// WriteMultKeys writes the installed relinearization key on w.
func (c *Context) WriteMultKeys(w io.Writer) (int64, error) {

	if !c.initialized() {
		return 0, fmt.Errorf("cannot WriteMultKeys: %w: context is not initialized", ErrInvalidState)
	}

	c.mu.RLock()
	rlk := c.relinKey
	c.mu.RUnlock()

	if rlk == nil {
		return 0, fmt.Errorf("cannot WriteMultKeys: %w: relinearization key is not installed", ErrMissingEvaluationKey)
	}

	n, err := writeObject(w, kindMultKeys, c.fingerprint, rlk)
	if err != nil {
		return n, fmt.Errorf("cannot WriteMultKeys: %w", err)
	}

	return n, nil
}

// SaveMultKeys writes the installed relinearization key to a file.
func (c *Context) SaveMultKeys(path string) error {
	if err := saveFile(path, c.WriteMultKeys); err != nil {
		return fmt.Errorf("cannot SaveMultKeys: %w", err)
	}
	return nil
}

// ReadMultKeys reads the relinearization key written by
// [Context.WriteMultKeys] and replaces the installed one with it. The
// installed key is left untouched if reading fails.
func (c *Context) ReadMultKeys(r io.Reader) (int64, error) {

	if !c.initialized() {
		return 0, fmt.Errorf("cannot ReadMultKeys: %w: context is not initialized", ErrInvalidState)
	}

	_, payload, err := c.readBound(r, kindMultKeys)
	if err != nil {
		return 0, fmt.Errorf("cannot ReadMultKeys: %w", err)
	}

	rlk := new(rlwe.RelinearizationKey)
	if err = rlk.UnmarshalBinary(payload); err != nil {
		return 0, fmt.Errorf("cannot ReadMultKeys: %w: %w", ErrSerialization, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.relinKey = rlk
	c.installedEvalKeysLocked()

	return envelopeSize(payload), nil
}

// LoadMultKeys replaces the installed relinearization key with the one saved
// by [Context.SaveMultKeys].
func (c *Context) LoadMultKeys(path string) error {
	if _, err := loadFile(path, c.ReadMultKeys); err != nil {
		return fmt.Errorf("cannot LoadMultKeys: %w", err)
	}
	return nil
}

// WriteRotKeys writes the batch size and the installed rotation keys on w.
func (c *Context) WriteRotKeys(w io.Writer) (int64, error) {

	if !c.initialized() {
		return 0, fmt.Errorf("cannot WriteRotKeys: %w: context is not initialized", ErrInvalidState)
	}

	c.mu.RLock()
	galoisKeys := c.galoisKeys
	c.mu.RUnlock()

	if len(galoisKeys) == 0 {
		return 0, fmt.Errorf("cannot WriteRotKeys: %w: no rotation key is installed", ErrMissingEvaluationKey)
	}

	steps := utils.GetSortedKeys(galoisKeys)

	size := 16
	blobs := make([][]byte, len(steps))
	for i, step := range steps {
		data, err := galoisKeys[step].MarshalBinary()
		if err != nil {
			return 0, fmt.Errorf("cannot WriteRotKeys: %w: %w", ErrSerialization, err)
		}
		blobs[i] = data
		size += 24 + len(data)
	}

	payload := buffer.NewBufferSize(size)

	if _, err := buffer.WriteUint64(payload, uint64(c.params.BatchSize)); err != nil {
		return 0, fmt.Errorf("cannot WriteRotKeys: %w", err)
	}

	if _, err := buffer.WriteUint64(payload, uint64(len(steps))); err != nil {
		return 0, fmt.Errorf("cannot WriteRotKeys: %w", err)
	}

	for i, step := range steps {

		if _, err := buffer.WriteUint64(payload, uint64(int64(step))); err != nil {
			return 0, fmt.Errorf("cannot WriteRotKeys: %w", err)
		}

		if _, err := buffer.WriteUint64(payload, galoisKeys[step].GaloisElement); err != nil {
			return 0, fmt.Errorf("cannot WriteRotKeys: %w", err)
		}

		if err := writeChunk(payload, blobs[i]); err != nil {
			return 0, fmt.Errorf("cannot WriteRotKeys: %w", err)
		}
	}

	n, err := writeEnvelope(w, kindRotKeys, c.fingerprint, payload.Bytes())
	if err != nil {
		return n, fmt.Errorf("cannot WriteRotKeys: %w", err)
	}

	return n, nil
}

// SaveRotKeys writes the installed rotation keys to a file.
func (c *Context) SaveRotKeys(path string) error {
	if err := saveFile(path, c.WriteRotKeys); err != nil {
		return fmt.Errorf("cannot SaveRotKeys: %w", err)
	}
	return nil
}

// ReadRotKeys reads the rotation keys written by [Context.WriteRotKeys] and
// replaces the installed ones with them. The installed keys are left
// untouched if reading fails.
func (c *Context) ReadRotKeys(r io.Reader) (int64, error) {

	if !c.initialized() {
		return 0, fmt.Errorf("cannot ReadRotKeys: %w: context is not initialized", ErrInvalidState)
	}

	_, payload, err := c.readBound(r, kindRotKeys)
	if err != nil {
		return 0, fmt.Errorf("cannot ReadRotKeys: %w", err)
	}

	buf := buffer.NewBuffer(payload)

	var batchSize, count uint64

	if _, err = buffer.ReadUint64(buf, &batchSize); err != nil {
		return 0, fmt.Errorf("cannot ReadRotKeys: %w: %w", ErrSerialization, err)
	}

	if batchSize != uint64(c.params.BatchSize) {
		return 0, fmt.Errorf("cannot ReadRotKeys: %w: keys generated for batch size %d, context has %d", ErrSerialization, batchSize, c.params.BatchSize)
	}

	if _, err = buffer.ReadUint64(buf, &count); err != nil {
		return 0, fmt.Errorf("cannot ReadRotKeys: %w: %w", ErrSerialization, err)
	}

	galoisKeys := map[int]*rlwe.GaloisKey{}

	for i := uint64(0); i < count; i++ {

		var step, galEl uint64

		if _, err = buffer.ReadUint64(buf, &step); err != nil {
			return 0, fmt.Errorf("cannot ReadRotKeys: %w: %w", ErrSerialization, err)
		}

		if _, err = buffer.ReadUint64(buf, &galEl); err != nil {
			return 0, fmt.Errorf("cannot ReadRotKeys: %w: %w", ErrSerialization, err)
		}

		data, err := readChunk(buf)
		if err != nil {
			return 0, fmt.Errorf("cannot ReadRotKeys: %w", err)
		}

		gk := new(rlwe.GaloisKey)
		if err = gk.UnmarshalBinary(data); err != nil {
			return 0, fmt.Errorf("cannot ReadRotKeys: %w: %w", ErrSerialization, err)
		}

		k := int(int64(step))

		if want := c.ckksParams.GaloisElement(k); gk.GaloisElement != galEl || galEl != want {
			return 0, fmt.Errorf("cannot ReadRotKeys: %w: key for step %d has Galois element %d, expected %d", ErrSerialization, k, gk.GaloisElement, want)
		}

		galoisKeys[k] = gk
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.galoisKeys = galoisKeys
	c.installedEvalKeysLocked()

	return envelopeSize(payload), nil
}

// LoadRotKeys replaces the installed rotation keys with the ones saved by
// [Context.SaveRotKeys].
func (c *Context) LoadRotKeys(path string) error {
	if _, err := loadFile(path, c.ReadRotKeys); err != nil {
		return fmt.Errorf("cannot LoadRotKeys: %w", err)
	}
	return nil
}

// readBound reads an envelope and checks that it was produced by c.
func (c *Context) readBound(r io.Reader, kind objectKind) (fingerprint Fingerprint, payload []byte, err error) {

	if !c.initialized() {
		return fingerprint, nil, fmt.Errorf("%w: context is not initialized", ErrInvalidState)
	}

	if fingerprint, payload, err = readEnvelope(r, kind); err != nil {
		return
	}

	if err = c.owns(fmt.Sprintf("read %s", kind), fingerprint); err != nil {
		return
	}

	return
}

func writeChunk(w buffer.Writer, data []byte) (err error) {
	if _, err = buffer.WriteUint64(w, uint64(len(data))); err != nil {
		return
	}
	_, err = buffer.Write(w, data)
	return
}

func readChunk(r *buffer.Buffer) ([]byte, error) {

	var size uint64
	if _, err := buffer.ReadUint64(r, &size); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	if size > uint64(r.Size()) {
		return nil, fmt.Errorf("%w: chunk of %d bytes exceeds the %d remaining", ErrSerialization, size, r.Size())
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	return data, nil
}
