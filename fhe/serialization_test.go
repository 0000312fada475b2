package fhe

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v6/utils/buffer"
)

func testSerialization(tc *testContext, t *testing.T) {

	batch := tc.ctx.BatchSize()
	dir := t.TempDir()

	path := func(name string) string {
		return filepath.Join(dir, name)
	}

	values := newTestVector(5, -1, 1)
	ct := newTestCiphertext(tc, values, t)

	require.NoError(t, tc.ctx.Save(path("context.bin")))
	require.NoError(t, tc.keys.Public.Save(path("public.bin")))
	require.NoError(t, tc.keys.Private.Save(path("private.bin")))
	require.NoError(t, ct.Save(path("ciphertext.bin")))
	require.NoError(t, tc.ctx.SaveMultKeys(path("mult.bin")))
	require.NoError(t, tc.ctx.SaveRotKeys(path("rot.bin")))

	t.Run(GetTestName(tc.ctx, "Serialization/Context"), func(t *testing.T) {

		var first, second bytes.Buffer
		_, err := tc.ctx.WriteTo(&first)
		require.NoError(t, err)
		_, err = tc.ctx.WriteTo(&second)
		require.NoError(t, err)
		require.Equal(t, first.Bytes(), second.Bytes())

		loaded, err := ReadContext(bytes.NewReader(first.Bytes()))
		require.NoError(t, err)

		if diff := cmp.Diff(tc.ctx.Parameters(), loaded.Parameters()); diff != "" {
			t.Fatalf("parameters mismatch (-want +have):\n%s", diff)
		}

		require.Equal(t, tc.ctx.Fingerprint(), loaded.Fingerprint())
		require.Equal(t, tc.ctx.Features(), loaded.Features())
		require.True(t, tc.ctx.EngineParameters().Equal(&loaded.ckksParams))
		require.Equal(t, FeatureEnabled, loaded.State())

		var third bytes.Buffer
		_, err = loaded.WriteTo(&third)
		require.NoError(t, err)
		require.Equal(t, first.Bytes(), third.Bytes())
	})

	t.Run(GetTestName(tc.ctx, "Serialization/Files"), func(t *testing.T) {

		ctx, err := LoadContext(path("context.bin"))
		require.NoError(t, err)

		pk, err := LoadPublicKey(path("public.bin"), ctx)
		require.NoError(t, err)

		sk, err := LoadPrivateKey(path("private.bin"), ctx)
		require.NoError(t, err)
		require.Equal(t, KeysGenerated, ctx.State())

		loadedCt, err := LoadCiphertext(path("ciphertext.bin"), ctx)
		require.NoError(t, err)
		require.Equal(t, ct.Slots(), loadedCt.Slots())
		require.Equal(t, ct.Level(), loadedCt.Level())

		pt, err := ctx.Decrypt(loadedCt, sk)
		require.NoError(t, err)
		require.InDeltaSlice(t, values, pt.GetPackedValue(), 1e-6)

		// A ciphertext encrypted under the loaded public key decrypts under the first private key.
		pt, err = ctx.PackPlaintext(values)
		require.NoError(t, err)
		fresh, err := ctx.Encrypt(pt, pk)
		require.NoError(t, err)
		verifyTestVector(tc, fresh, values, 1e-6, t)

		_, err = ctx.EvalMult(fresh, fresh)
		require.ErrorIs(t, err, ErrMissingEvaluationKey)

		require.NoError(t, ctx.LoadMultKeys(path("mult.bin")))
		require.True(t, ctx.HasMultKey())
		require.Equal(t, EvalKeysReady, ctx.State())

		prod, err := ctx.EvalMult(fresh, fresh)
		require.NoError(t, err)
		if !ctx.AutoRescale() {
			prod, err = ctx.Rescale(prod)
			require.NoError(t, err)
		}

		want := make([]float64, len(values))
		for i := range want {
			want[i] = values[i] * values[i]
		}
		verifyTestVector(tc, prod, want, 1e-5, t)

		require.NoError(t, ctx.LoadRotKeys(path("rot.bin")))
		require.Equal(t, RotationIndices(batch), ctx.RotationSteps())
	})

	t.Run(GetTestName(tc.ctx, "Serialization/ReplaceKeys"), func(t *testing.T) {

		ctx, err := LoadContext(path("context.bin"))
		require.NoError(t, err)

		sk, err := LoadPrivateKey(path("private.bin"), ctx)
		require.NoError(t, err)

		require.NoError(t, ctx.GenRotationKeysFor(sk, []int{3, 5}))
		require.Equal(t, []int{3, 5}, ctx.RotationSteps())

		require.NoError(t, ctx.LoadRotKeys(path("rot.bin")))
		require.Equal(t, RotationIndices(batch), ctx.RotationSteps())
	})

	t.Run(GetTestName(tc.ctx, "Serialization/FailedKeyLoad"), func(t *testing.T) {

		ctx, err := LoadContext(path("context.bin"))
		require.NoError(t, err)
		require.NoError(t, ctx.LoadMultKeys(path("mult.bin")))
		require.NoError(t, ctx.LoadRotKeys(path("rot.bin")))
		require.Equal(t, EvalKeysReady, ctx.State())

		garbage := []byte("these bytes are not an evaluation key")

		_, err = ctx.ReadMultKeys(bytes.NewReader(garbage))
		require.ErrorIs(t, err, ErrSerialization)

		_, err = ctx.ReadRotKeys(bytes.NewReader(garbage))
		require.ErrorIs(t, err, ErrSerialization)

		var mult bytes.Buffer
		_, err = ctx.WriteMultKeys(&mult)
		require.NoError(t, err)
		_, err = ctx.ReadMultKeys(bytes.NewReader(mult.Bytes()[:mult.Len()-1]))
		require.ErrorIs(t, err, ErrSerialization)

		// A well-framed payload announcing another batch size.
		payload := buffer.NewBufferSize(16)
		_, err = buffer.WriteUint64(payload, uint64(2*batch))
		require.NoError(t, err)
		_, err = buffer.WriteUint64(payload, 0)
		require.NoError(t, err)

		var rot bytes.Buffer
		_, err = writeEnvelope(&rot, kindRotKeys, ctx.Fingerprint(), payload.Bytes())
		require.NoError(t, err)
		_, err = ctx.ReadRotKeys(bytes.NewReader(rot.Bytes()))
		require.ErrorIs(t, err, ErrSerialization)

		require.True(t, ctx.HasMultKey())
		require.Equal(t, RotationIndices(batch), ctx.RotationSteps())
		require.Equal(t, EvalKeysReady, ctx.State())
	})

	t.Run(GetTestName(tc.ctx, "Serialization/ByteCount"), func(t *testing.T) {

		ctx, err := LoadContext(path("context.bin"))
		require.NoError(t, err)

		var mult, rot bytes.Buffer

		n, err := tc.ctx.WriteMultKeys(&mult)
		require.NoError(t, err)
		require.Equal(t, int64(mult.Len()), n)

		m, err := ctx.ReadMultKeys(bytes.NewReader(mult.Bytes()))
		require.NoError(t, err)
		require.Equal(t, n, m)

		n, err = tc.ctx.WriteRotKeys(&rot)
		require.NoError(t, err)
		require.Equal(t, int64(rot.Len()), n)

		m, err = ctx.ReadRotKeys(bytes.NewReader(rot.Bytes()))
		require.NoError(t, err)
		require.Equal(t, n, m)
	})

	t.Run(GetTestName(tc.ctx, "Serialization/ContextIntegrity"), func(t *testing.T) {

		var buf bytes.Buffer
		_, err := tc.ctx.WriteTo(&buf)
		require.NoError(t, err)

		fingerprint, payload, err := readEnvelope(bytes.NewReader(buf.Bytes()), kindContext)
		require.NoError(t, err)

		chunks := buffer.NewBuffer(payload)
		header, err := readChunk(chunks)
		require.NoError(t, err)
		engine, err := readChunk(chunks)
		require.NoError(t, err)
		nonce, err := readChunk(chunks)
		require.NoError(t, err)

		// reframe re-encodes the chunks under a valid checksum.
		reframe := func(fingerprint Fingerprint, parts ...[]byte) *bytes.Reader {
			payload := buffer.NewBufferSize(0)
			for _, part := range parts {
				require.NoError(t, writeChunk(payload, part))
			}
			var out bytes.Buffer
			_, err := writeEnvelope(&out, kindContext, fingerprint, payload.Bytes())
			require.NoError(t, err)
			return bytes.NewReader(out.Bytes())
		}

		loaded, err := ReadContext(reframe(fingerprint, header, engine, nonce))
		require.NoError(t, err)
		require.Equal(t, tc.ctx.Fingerprint(), loaded.Fingerprint())

		var h contextHeader
		require.NoError(t, json.Unmarshal(header, &h))
		h.Parameters.MultiplicativeDepth++
		edited, err := json.Marshal(h)
		require.NoError(t, err)

		_, err = ReadContext(reframe(fingerprint, edited, engine, nonce))
		require.ErrorIs(t, err, ErrSerialization)

		otherNonce := bytes.Clone(nonce)
		otherNonce[0] ^= 0x01
		_, err = ReadContext(reframe(fingerprint, header, engine, otherNonce))
		require.ErrorIs(t, err, ErrSerialization)

		otherFingerprint := fingerprint
		otherFingerprint[0] ^= 0x01
		_, err = ReadContext(reframe(otherFingerprint, header, engine, nonce))
		require.ErrorIs(t, err, ErrSerialization)

		_, err = ReadContext(reframe(fingerprint, header, engine, nonce[:8]))
		require.ErrorIs(t, err, ErrSerialization)

		_, err = ReadContext(reframe(fingerprint, header, engine))
		require.ErrorIs(t, err, ErrSerialization)
	})

	t.Run(GetTestName(tc.ctx, "Serialization/CiphertextSlots"), func(t *testing.T) {

		data, err := newTestCiphertext(tc, newTestVector(2, -1, 1), t).Value().MarshalBinary()
		require.NoError(t, err)

		payload := buffer.NewBufferSize(8 + len(data))
		_, err = buffer.WriteUint64(payload, 1<<40)
		require.NoError(t, err)
		_, err = buffer.Write(payload, data)
		require.NoError(t, err)

		var out bytes.Buffer
		_, err = writeEnvelope(&out, kindCiphertext, tc.ctx.Fingerprint(), payload.Bytes())
		require.NoError(t, err)

		_, err = ReadCiphertext(bytes.NewReader(out.Bytes()), tc.ctx)
		require.ErrorIs(t, err, ErrSerialization)
	})

	t.Run(GetTestName(tc.ctx, "Serialization/Tampered"), func(t *testing.T) {

		var buf bytes.Buffer
		_, err := newTestCiphertext(tc, newTestVector(batch, -1, 1), t).WriteTo(&buf)
		require.NoError(t, err)

		data := buf.Bytes()

		tampered := bytes.Clone(data)
		tampered[len(tampered)/2] ^= 0x01
		_, err = ReadCiphertext(bytes.NewReader(tampered), tc.ctx)
		require.ErrorIs(t, err, ErrSerialization)

		_, err = ReadCiphertext(bytes.NewReader(data[:len(data)-1]), tc.ctx)
		require.ErrorIs(t, err, ErrSerialization)

		_, err = ReadPublicKey(bytes.NewReader(data), tc.ctx)
		require.ErrorIs(t, err, ErrSerialization)

		_, err = ReadContext(bytes.NewReader(nil))
		require.ErrorIs(t, err, ErrSerialization)
	})

	t.Run(GetTestName(tc.ctx, "Serialization/MissingFile"), func(t *testing.T) {
		_, err := LoadContext(path("missing.bin"))
		require.ErrorIs(t, err, ErrIO)
		require.ErrorIs(t, tc.ctx.LoadRotKeys(path("missing.bin")), ErrIO)
	})

	t.Run(GetTestName(tc.ctx, "Serialization/ContextMismatch"), func(t *testing.T) {

		other, err := NewContext(tc.ctx.Parameters())
		require.NoError(t, err)
		require.NotEqual(t, tc.ctx.Fingerprint(), other.Fingerprint())

		var buf bytes.Buffer
		_, err = newTestCiphertext(tc, newTestVector(batch, -1, 1), t).WriteTo(&buf)
		require.NoError(t, err)

		_, err = ReadCiphertext(bytes.NewReader(buf.Bytes()), other)
		require.ErrorIs(t, err, ErrContextMismatch)

		_, err = LoadPrivateKey(path("private.bin"), other)
		require.ErrorIs(t, err, ErrContextMismatch)
	})
}
