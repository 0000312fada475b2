package fhe

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v6/utils/sampling"

	"github.com/neuralhe/neuralhe/utils"
)

var flagParamString = flag.String("params", "", "specify the test scheme parameters as a JSON string. Overrides -short.")
var printPrecisionStats = flag.Bool("print-precision", false, "print precision stats")

// testParams are insecure parameters sized for fast tests.
var testParams = SchemeParameters{
	RingDim:             1 << 12,
	ScalingModSize:      40,
	FirstModSize:        60,
	MultiplicativeDepth: 3,
	SecurityLevel:       HEStdNotSet,
	BatchSize:           8,
}

func GetTestName(ctx *Context, opname string) string {
	p := ctx.Parameters()
	return fmt.Sprintf("%s/N=%d/LogQP=%d/Depth=%d/Batch=%d/%s",
		opname,
		p.RingDim,
		p.LogQP(),
		p.MultiplicativeDepth,
		p.BatchSize,
		p.ScalingTechnique)
}

type testContext struct {
	ctx  *Context
	keys *KeyPair
}

func genTestContext(params SchemeParameters) (tc *testContext, err error) {

	tc = new(testContext)

	if tc.ctx, err = NewContext(params); err != nil {
		return nil, err
	}

	if err = tc.ctx.Enable(PKE | KeySwitch | LeveledSHE | AdvancedSHE); err != nil {
		return nil, err
	}

	if tc.keys, err = tc.ctx.KeyGen(); err != nil {
		return nil, err
	}

	if err = tc.ctx.EvalMultKeyGen(tc.keys.Private); err != nil {
		return nil, err
	}

	if err = tc.ctx.GenRotationKeys(tc.keys.Private); err != nil {
		return nil, err
	}

	return
}

func getTestParams(t *testing.T) (params []SchemeParameters) {
	switch {
	case *flagParamString != "":
		var p SchemeParameters
		if err := json.Unmarshal([]byte(*flagParamString), &p); err != nil {
			t.Fatal(err)
		}
		return []SchemeParameters{p}
	case testing.Short():
		p := testParams
		p.RingDim = 1 << 11
		return []SchemeParameters{p}
	default:
		manual := testParams
		manual.ScalingTechnique = FixedManual
		return []SchemeParameters{testParams, manual}
	}
}

func TestFHE(t *testing.T) {

	for _, params := range getTestParams(t) {

		tc, err := genTestContext(params)
		require.NoError(t, err)

		for _, testSet := range []func(tc *testContext, t *testing.T){
			testEncryptDecrypt,
			testEvaluatorAdd,
			testEvaluatorSub,
			testEvaluatorMul,
			testRotations,
			testSerialization,
		} {
			testSet(tc, t)
			runtime.GC()
		}
	}
}

func newTestVector(n int, a, b float64) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = sampling.RandFloat64(a, b)
	}
	return values
}

func newTestCiphertext(tc *testContext, values []float64, t *testing.T) *Ciphertext {
	pt, err := tc.ctx.PackPlaintext(values)
	require.NoError(t, err)
	ct, err := tc.ctx.Encrypt(pt, tc.keys.Public)
	require.NoError(t, err)
	return ct
}

func verifyTestVector(tc *testContext, ct *Ciphertext, want []float64, delta float64, t *testing.T) {

	pt, err := tc.ctx.Decrypt(ct, tc.keys.Private)
	require.NoError(t, err)

	have := pt.GetPackedValue()
	require.Len(t, have, len(want))

	if *printPrecisionStats {
		stats, err := GetPrecisionStats(want, have, float64(tc.ctx.Parameters().ScalingModSize))
		require.NoError(t, err)
		t.Log(stats.String())
	}

	require.InDeltaSlice(t, want, have, delta)
}

func testEncryptDecrypt(tc *testContext, t *testing.T) {

	batch := tc.ctx.BatchSize()

	t.Run(GetTestName(tc.ctx, "Encrypt/Decrypt/RoundTrip"), func(t *testing.T) {
		for _, n := range []int{1, 5, batch} {
			values := newTestVector(n, -1, 1)
			ct := newTestCiphertext(tc, values, t)
			require.Equal(t, n, ct.Slots())
			require.Equal(t, tc.ctx.MaxLevel(), ct.Level())
			verifyTestVector(tc, ct, values, 1e-6, t)
		}
	})

	t.Run(GetTestName(tc.ctx, "Decrypt/SlotAlignment"), func(t *testing.T) {
		for s, want := range map[int]int{5: 8, 8: 16, 1: 2, 3: 4} {
			ct := newTestCiphertext(tc, newTestVector(min(s, batch), -1, 1), t)
			ct.SetSlots(s)
			_, err := tc.ctx.Decrypt(ct, tc.keys.Private)
			require.NoError(t, err)
			require.Equal(t, want, ct.Slots(), "slots=%d", s)
		}
	})

	t.Run(GetTestName(tc.ctx, "Decrypt/SlotBounds"), func(t *testing.T) {
		n := tc.ctx.RingDimension()

		for _, s := range []int{-1, n, 1 << 34, math.MaxInt} {
			ct := newTestCiphertext(tc, newTestVector(2, -1, 1), t)
			ct.SetSlots(s)
			_, err := tc.ctx.Decrypt(ct, tc.keys.Private)
			require.ErrorIs(t, err, ErrInvalidArgument, "slots=%d", s)
			require.Equal(t, s, ct.Slots())
		}

		ct := newTestCiphertext(tc, newTestVector(2, -1, 1), t)
		ct.SetSlots(n - 1)
		pt, err := tc.ctx.Decrypt(ct, tc.keys.Private)
		require.NoError(t, err)
		require.Equal(t, n, ct.Slots())
		require.Equal(t, n-1, pt.Len())
	})

	t.Run(GetTestName(tc.ctx, "Decrypt/AlignedValues"), func(t *testing.T) {
		values := newTestVector(batch, -1, 1)
		ct := newTestCiphertext(tc, values, t)

		pt, err := tc.ctx.Decrypt(ct, tc.keys.Private)
		require.NoError(t, err)
		require.Equal(t, batch, pt.Len())

		pt.SetLength(2 * batch)
		require.InDeltaSlice(t, utils.TileSlice(values, 2*batch), pt.GetPackedValue(), 1e-6)

		pt.SetLength(3 * batch)
		have := pt.GetPackedValue()
		require.Len(t, have, 3*batch)
		require.Equal(t, make([]float64, batch), have[2*batch:])

		pt.SetLength(2)
		require.InDeltaSlice(t, values[:2], pt.GetPackedValue(), 1e-6)
	})

	t.Run(GetTestName(tc.ctx, "PackPlaintext/InvalidLength"), func(t *testing.T) {
		_, err := tc.ctx.PackPlaintext(nil)
		require.ErrorIs(t, err, ErrInvalidArgument)
		_, err = tc.ctx.PackPlaintext(make([]float64, batch+1))
		require.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func testEvaluatorAdd(tc *testContext, t *testing.T) {

	batch := tc.ctx.BatchSize()

	t.Run(GetTestName(tc.ctx, "Evaluator/Add/CtCt"), func(t *testing.T) {
		x, y := newTestVector(batch, -1, 1), newTestVector(batch, -1, 1)
		ct, err := tc.ctx.EvalAdd(newTestCiphertext(tc, x, t), newTestCiphertext(tc, y, t))
		require.NoError(t, err)

		want := make([]float64, batch)
		for i := range want {
			want[i] = x[i] + y[i]
		}
		verifyTestVector(tc, ct, want, 1e-6, t)
	})

	t.Run(GetTestName(tc.ctx, "Evaluator/Add/PtCt"), func(t *testing.T) {
		x, y := newTestVector(batch, -1, 1), newTestVector(batch, -1, 1)
		ct, err := tc.ctx.EvalAddPlain(x, newTestCiphertext(tc, y, t))
		require.NoError(t, err)

		want := make([]float64, batch)
		for i := range want {
			want[i] = x[i] + y[i]
		}
		verifyTestVector(tc, ct, want, 1e-6, t)
	})

	t.Run(GetTestName(tc.ctx, "Evaluator/Add/ScalarCt"), func(t *testing.T) {
		y := newTestVector(batch, -1, 1)
		ct, err := tc.ctx.EvalAddScalar(3.25, newTestCiphertext(tc, y, t))
		require.NoError(t, err)

		want := make([]float64, batch)
		for i := range want {
			want[i] = 3.25 + y[i]
		}
		verifyTestVector(tc, ct, want, 1e-6, t)
	})

	t.Run(GetTestName(tc.ctx, "Evaluator/Add/SlotCount"), func(t *testing.T) {
		a := newTestCiphertext(tc, newTestVector(3, -1, 1), t)
		b := newTestCiphertext(tc, newTestVector(5, -1, 1), t)
		ct, err := tc.ctx.EvalAdd(a, b)
		require.NoError(t, err)
		require.Equal(t, 5, ct.Slots())
	})
}

func testEvaluatorSub(tc *testContext, t *testing.T) {

	batch := tc.ctx.BatchSize()

	t.Run(GetTestName(tc.ctx, "Evaluator/Sub/CtCt"), func(t *testing.T) {
		x, y := newTestVector(batch, -1, 1), newTestVector(batch, -1, 1)
		ct, err := tc.ctx.EvalSub(newTestCiphertext(tc, x, t), newTestCiphertext(tc, y, t))
		require.NoError(t, err)

		want := make([]float64, batch)
		for i := range want {
			want[i] = x[i] - y[i]
		}
		verifyTestVector(tc, ct, want, 1e-6, t)
	})

	for _, reverse := range []bool{false, true} {

		t.Run(GetTestName(tc.ctx, fmt.Sprintf("Evaluator/Sub/PtCt/reverse=%t", reverse)), func(t *testing.T) {
			v, y := newTestVector(batch, -1, 1), newTestVector(batch, -1, 1)
			ct, err := tc.ctx.EvalSubPlain(v, newTestCiphertext(tc, y, t), reverse)
			require.NoError(t, err)

			want := make([]float64, batch)
			for i := range want {
				if reverse {
					want[i] = y[i] - v[i]
				} else {
					want[i] = v[i] - y[i]
				}
			}
			verifyTestVector(tc, ct, want, 1e-6, t)
		})

		t.Run(GetTestName(tc.ctx, fmt.Sprintf("Evaluator/Sub/ScalarCt/reverse=%t", reverse)), func(t *testing.T) {
			y := newTestVector(batch, -1, 1)
			ct, err := tc.ctx.EvalSubScalar(2.5, newTestCiphertext(tc, y, t), reverse)
			require.NoError(t, err)

			want := make([]float64, batch)
			for i := range want {
				if reverse {
					want[i] = y[i] - 2.5
				} else {
					want[i] = 2.5 - y[i]
				}
			}
			verifyTestVector(tc, ct, want, 1e-6, t)
		})
	}

	t.Run(GetTestName(tc.ctx, "Evaluator/Negate"), func(t *testing.T) {
		y := newTestVector(batch, -1, 1)
		ct, err := tc.ctx.EvalNegate(newTestCiphertext(tc, y, t))
		require.NoError(t, err)

		want := make([]float64, batch)
		for i := range want {
			want[i] = -y[i]
		}
		verifyTestVector(tc, ct, want, 1e-6, t)
	})
}

func rescaleIfManual(tc *testContext, ct *Ciphertext, t *testing.T) *Ciphertext {
	if tc.ctx.AutoRescale() {
		return ct
	}
	ct, err := tc.ctx.Rescale(ct)
	require.NoError(t, err)
	return ct
}

func testEvaluatorMul(tc *testContext, t *testing.T) {

	batch := tc.ctx.BatchSize()

	t.Run(GetTestName(tc.ctx, "Evaluator/Mul/CtCt"), func(t *testing.T) {
		x, y := newTestVector(batch, -1, 1), newTestVector(batch, -1, 1)
		ct, err := tc.ctx.EvalMult(newTestCiphertext(tc, x, t), newTestCiphertext(tc, y, t))
		require.NoError(t, err)
		ct = rescaleIfManual(tc, ct, t)
		require.Equal(t, tc.ctx.MaxLevel()-tc.ctx.LevelsPerRescale(), ct.Level())

		want := make([]float64, batch)
		for i := range want {
			want[i] = x[i] * y[i]
		}
		verifyTestVector(tc, ct, want, 1e-5, t)
	})

	t.Run(GetTestName(tc.ctx, "Evaluator/Mul/PtCt"), func(t *testing.T) {
		x, y := newTestVector(batch, -1, 1), newTestVector(batch, -1, 1)
		ct, err := tc.ctx.EvalMultPlain(x, newTestCiphertext(tc, y, t))
		require.NoError(t, err)
		ct = rescaleIfManual(tc, ct, t)

		want := make([]float64, batch)
		for i := range want {
			want[i] = x[i] * y[i]
		}
		verifyTestVector(tc, ct, want, 1e-5, t)
	})

	t.Run(GetTestName(tc.ctx, "Evaluator/Mul/ScalarCt"), func(t *testing.T) {
		y := newTestVector(batch, -1, 1)
		ct, err := tc.ctx.EvalMultScalar(0.75, newTestCiphertext(tc, y, t))
		require.NoError(t, err)
		ct = rescaleIfManual(tc, ct, t)

		want := make([]float64, batch)
		for i := range want {
			want[i] = 0.75 * y[i]
		}
		verifyTestVector(tc, ct, want, 1e-5, t)
	})

	t.Run(GetTestName(tc.ctx, "Evaluator/Mul/IntegerScalarKeepsLevel"), func(t *testing.T) {
		y := newTestVector(batch, -1, 1)
		ct, err := tc.ctx.EvalMultScalar(3, newTestCiphertext(tc, y, t))
		require.NoError(t, err)
		require.Equal(t, tc.ctx.MaxLevel(), ct.Level())

		want := make([]float64, batch)
		for i := range want {
			want[i] = 3 * y[i]
		}
		verifyTestVector(tc, ct, want, 1e-5, t)
	})

	t.Run(GetTestName(tc.ctx, "Evaluator/Mul/DepthExhausted"), func(t *testing.T) {
		ct := newTestCiphertext(tc, newTestVector(batch, -1, 1), t)

		var err error
		for i := 0; i < tc.ctx.Parameters().MultiplicativeDepth; i++ {
			ct, err = tc.ctx.EvalMultScalar(0.5, ct)
			require.NoError(t, err)
			ct = rescaleIfManual(tc, ct, t)
		}

		require.Equal(t, 0, ct.Level())

		_, err = tc.ctx.EvalMultScalar(0.5, ct)
		require.ErrorIs(t, err, ErrDepthExhausted)

		_, err = tc.ctx.EvalMult(ct, ct)
		require.ErrorIs(t, err, ErrDepthExhausted)

		_, err = tc.ctx.EvalMultPlain([]float64{1}, ct)
		require.ErrorIs(t, err, ErrDepthExhausted)
	})
}

func testRotations(tc *testContext, t *testing.T) {

	batch := tc.ctx.BatchSize()

	t.Run(GetTestName(tc.ctx, "Rotation/InstalledSteps"), func(t *testing.T) {
		require.Equal(t, RotationIndices(batch), tc.ctx.RotationSteps())
	})

	t.Run(GetTestName(tc.ctx, "Rotation/Rotate"), func(t *testing.T) {
		values := newTestVector(batch, -1, 1)
		for _, k := range RotationIndices(batch) {
			ct, err := tc.ctx.EvalRotate(newTestCiphertext(tc, values, t), k)
			require.NoError(t, err)
			verifyTestVector(tc, ct, utils.RotateSlice(values, k), 1e-6, t)
		}
	})

	t.Run(GetTestName(tc.ctx, "Rotation/MissingStep"), func(t *testing.T) {
		_, err := tc.ctx.EvalRotate(newTestCiphertext(tc, newTestVector(batch, -1, 1), t), 3)
		require.ErrorIs(t, err, ErrMissingEvaluationKey)
	})

	t.Run(GetTestName(tc.ctx, "Rotation/Sum"), func(t *testing.T) {
		values := newTestVector(batch, -1, 1)

		ct, err := tc.ctx.EvalSum(newTestCiphertext(tc, values, t), batch)
		require.NoError(t, err)

		var sum float64
		for _, v := range values {
			sum += v
		}

		want := make([]float64, batch)
		for i := range want {
			want[i] = sum
		}
		verifyTestVector(tc, ct, want, 1e-5, t)
	})
}
