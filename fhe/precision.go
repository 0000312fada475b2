package fhe

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

// PrecisionStats stores statistics about the precision of decrypted values
// against reference values.
type PrecisionStats struct {
	MINLog2Prec float64
	MAXLog2Prec float64
	AVGLog2Prec float64
	MEDLog2Prec float64
	STDLog2Prec float64

	MINErr float64
	MAXErr float64
	AVGErr float64

	Log2Scale float64
}

func (prec PrecisionStats) String() string {
	return fmt.Sprintf(`
┌─────────┬──────────┐
│    Log2 │ REAL     │
├─────────┼──────────┤
│MIN Prec │ %8.2f │
│MAX Prec │ %8.2f │
│AVG Prec │ %8.2f │
│MED Prec │ %8.2f │
│STD Prec │ %8.2f │
├─────────┼──────────┤
│MIN Err  │ %8.2e │
│MAX Err  │ %8.2e │
│AVG Err  │ %8.2e │
└─────────┴──────────┘
`,
		prec.MINLog2Prec, prec.MAXLog2Prec, prec.AVGLog2Prec, prec.MEDLog2Prec, prec.STDLog2Prec,
		prec.MINErr, prec.MAXErr, prec.AVGErr)
}

// GetPrecisionStats compares have against want. The log2 precision of an
// exact value is capped at log2Scale.
func GetPrecisionStats(want, have []float64, log2Scale float64) (prec PrecisionStats, err error) {

	if len(want) == 0 || len(want) != len(have) {
		return prec, fmt.Errorf("cannot GetPrecisionStats: %w: len(want)=%d, len(have)=%d", ErrInvalidArgument, len(want), len(have))
	}

	log2Prec := make(stats.Float64Data, len(want))
	absErr := make(stats.Float64Data, len(want))

	for i := range want {
		e := math.Abs(have[i] - want[i])
		absErr[i] = e
		if e == 0 {
			log2Prec[i] = log2Scale
		} else {
			log2Prec[i] = math.Min(-math.Log2(e), log2Scale)
		}
	}

	prec.Log2Scale = log2Scale

	for _, s := range []struct {
		out *float64
		f   func(stats.Float64Data) (float64, error)
		in  stats.Float64Data
	}{
		{&prec.MINLog2Prec, stats.Min, log2Prec},
		{&prec.MAXLog2Prec, stats.Max, log2Prec},
		{&prec.AVGLog2Prec, stats.Mean, log2Prec},
		{&prec.MEDLog2Prec, stats.Median, log2Prec},
		{&prec.STDLog2Prec, stats.StandardDeviation, log2Prec},
		{&prec.MINErr, stats.Min, absErr},
		{&prec.MAXErr, stats.Max, absErr},
		{&prec.AVGErr, stats.Mean, absErr},
	} {
		if *s.out, err = s.f(s.in); err != nil {
			return prec, fmt.Errorf("cannot GetPrecisionStats: %w", err)
		}
	}

	return
}

// PrecisionStats decodes pt and compares its packed values against want.
func (c *Context) PrecisionStats(want []float64, pt *Plaintext) (PrecisionStats, error) {
	have := pt.GetPackedValue()
	if len(have) > len(want) {
		have = have[:len(want)]
	}
	return GetPrecisionStats(want, have, float64(c.params.ScalingModSize))
}
