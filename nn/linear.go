package nn

import (
	"fmt"

	"github.com/neuralhe/neuralhe/fhe"
	"github.com/neuralhe/neuralhe/utils"
)

// linear evaluates y = Wx + b with one ciphertext-plaintext product, one
// rotate-and-add reduction and one masking product per row of W.
type linear struct {
	ctx     *fhe.Context
	weights [][]float64
	bias    []float64
	rows    int
	cols    int
}

func newLinear(ctx *fhe.Context, weights [][]float64, bias []float64) (l linear, err error) {

	if ctx == nil {
		return l, fmt.Errorf("%w: context is nil", fhe.ErrInvalidArgument)
	}

	batch := ctx.BatchSize()

	rows, cols := len(weights), utils.MaxLen(weights)

	if rows == 0 || cols == 0 {
		return l, fmt.Errorf("%w: weights are empty", fhe.ErrInvalidArgument)
	}

	if rows > batch || cols > batch {
		return l, fmt.Errorf("%w: weights are %dx%d but the batch size is %d", fhe.ErrInvalidArgument, rows, cols, batch)
	}

	if len(bias) != 0 && len(bias) != rows {
		return l, fmt.Errorf("%w: %d biases for %d rows", fhe.ErrInvalidArgument, len(bias), rows)
	}

	l = linear{
		ctx:     ctx,
		weights: make([][]float64, rows),
		rows:    rows,
		cols:    cols,
	}

	for i := range weights {
		l.weights[i] = utils.ResizeSlice(weights[i], batch)
	}

	if len(bias) != 0 {
		l.bias = utils.ResizeSlice(bias, rows)
	}

	return
}

func (l *linear) forward(ct *fhe.Ciphertext) (*fhe.Ciphertext, error) {

	ctx := l.ctx

	if err := checkInput(ctx, ct); err != nil {
		return nil, err
	}

	batch := ctx.BatchSize()

	if err := ctx.RequireRotations(fhe.RotationIndices(batch)...); err != nil {
		return nil, err
	}

	if err := ctx.CheckDepth(ct, 2); err != nil {
		return nil, err
	}

	mask := make([]float64, batch)

	var acc *fhe.Ciphertext

	for i, row := range l.weights {

		prod, err := mulPlain(ctx, row, ct)
		if err != nil {
			return nil, err
		}

		if prod, err = ctx.EvalSum(prod, batch); err != nil {
			return nil, err
		}

		mask[i] = 1
		prod, err = mulPlain(ctx, mask, prod)
		mask[i] = 0

		if err != nil {
			return nil, err
		}

		if acc == nil {
			acc = prod
		} else if acc, err = ctx.EvalAdd(acc, prod); err != nil {
			return nil, err
		}
	}

	if l.bias != nil {
		var err error
		if acc, err = ctx.EvalAddPlain(l.bias, acc); err != nil {
			return nil, err
		}
	}

	acc.SetSlots(l.rows)

	return acc, nil
}

// Gemm is a fully connected layer: output_i = sum_j W_ij x_j + b_i.
type Gemm struct {
	Base
	linear
}

// NewGemm returns a fully connected layer evaluated under ctx. The number of
// rows and columns of weights must not exceed the batch size. bias is either
// empty or has one entry per row.
func NewGemm(ctx *fhe.Context, name string, weights [][]float64, bias []float64) (*Gemm, error) {
	l, err := newLinear(ctx, weights, bias)
	if err != nil {
		return nil, fmt.Errorf("cannot NewGemm: %w", err)
	}
	return &Gemm{Base: NewBase(name, l.rows), linear: l}, nil
}

// InputLen returns the number of input values read by the layer.
func (g *Gemm) InputLen() int {
	return g.cols
}

// Forward evaluates the layer. It needs the rotation keys of
// [fhe.RotationIndices] of the batch size and two levels.
func (g *Gemm) Forward(ct *fhe.Ciphertext) (*fhe.Ciphertext, error) {
	out, err := g.forward(ct)
	if err != nil {
		return nil, g.Fail(err)
	}
	return out, nil
}

// Conv2D is a convolution evaluated as the product with its unrolled matrix,
// see [UnrollConv2D].
type Conv2D struct {
	Base
	linear
}

// NewConv2D returns a convolution layer from its unrolled matrix and its
// per-output bias.
func NewConv2D(ctx *fhe.Context, name string, weights [][]float64, bias []float64) (*Conv2D, error) {
	l, err := newLinear(ctx, weights, bias)
	if err != nil {
		return nil, fmt.Errorf("cannot NewConv2D: %w", err)
	}
	return &Conv2D{Base: NewBase(name, l.rows), linear: l}, nil
}

// Forward evaluates the convolution on ct and consumes two levels.
func (c *Conv2D) Forward(ct *fhe.Ciphertext) (*fhe.Ciphertext, error) {
	out, err := c.forward(ct)
	if err != nil {
		return nil, c.Fail(err)
	}
	return out, nil
}

// AveragePool is an average pooling evaluated as the product with its
// averaging matrix, see [AveragePoolMatrix].
type AveragePool struct {
	Base
	linear
}

// NewAveragePool returns an average pooling layer from its averaging matrix.
func NewAveragePool(ctx *fhe.Context, name string, weights [][]float64) (*AveragePool, error) {
	l, err := newLinear(ctx, weights, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot NewAveragePool: %w", err)
	}
	return &AveragePool{Base: NewBase(name, l.rows), linear: l}, nil
}

// Forward evaluates the pooling on ct and consumes two levels.
func (p *AveragePool) Forward(ct *fhe.Ciphertext) (*fhe.Ciphertext, error) {
	out, err := p.forward(ct)
	if err != nil {
		return nil, p.Fail(err)
	}
	return out, nil
}

// Shape is the (channels, height, width) shape of a feature map, flattened
// in channel-major then row-major order.
type Shape struct {
	Channels int `json:"channels" yaml:"channels"`
	Height   int `json:"height" yaml:"height"`
	Width    int `json:"width" yaml:"width"`
}

// Size returns the number of values of the feature map.
func (s Shape) Size() int {
	return s.Channels * s.Height * s.Width
}

func (s Shape) index(c, y, x int) int {
	return (c*s.Height+y)*s.Width + x
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Channels, s.Height, s.Width)
}

// UnrollConv2D returns the matrix M such that M·flatten(x) = flatten(conv(x))
// for a kernel of shape (out channels, in channels, kernel height, kernel
// width), together with the output shape.
func UnrollConv2D(kernel [][][][]float64, in Shape, stride, padding int) ([][]float64, Shape, error) {

	var out Shape

	if len(kernel) == 0 || len(kernel[0]) == 0 || len(kernel[0][0]) == 0 || len(kernel[0][0][0]) == 0 {
		return nil, out, fmt.Errorf("cannot UnrollConv2D: %w: kernel is empty", fhe.ErrInvalidArgument)
	}

	kh, kw := len(kernel[0][0]), len(kernel[0][0][0])

	switch {
	case stride < 1 || padding < 0:
		return nil, out, fmt.Errorf("cannot UnrollConv2D: %w: stride=%d, padding=%d", fhe.ErrInvalidArgument, stride, padding)
	case len(kernel[0]) != in.Channels:
		return nil, out, fmt.Errorf("cannot UnrollConv2D: %w: kernel has %d input channels, input has %d", fhe.ErrInvalidArgument, len(kernel[0]), in.Channels)
	case in.Height+2*padding < kh || in.Width+2*padding < kw:
		return nil, out, fmt.Errorf("cannot UnrollConv2D: %w: kernel %dx%d larger than padded input %s", fhe.ErrInvalidArgument, kh, kw, in)
	}

	out = Shape{
		Channels: len(kernel),
		Height:   (in.Height+2*padding-kh)/stride + 1,
		Width:    (in.Width+2*padding-kw)/stride + 1,
	}

	m := make([][]float64, out.Size())

	for o := range kernel {

		if len(kernel[o]) != in.Channels {
			return nil, out, fmt.Errorf("cannot UnrollConv2D: %w: ragged kernel at output channel %d", fhe.ErrInvalidArgument, o)
		}

		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {

				row := make([]float64, in.Size())

				for c := range kernel[o] {
					for ky := range kernel[o][c] {
						iy := y*stride + ky - padding
						if iy < 0 || iy >= in.Height {
							continue
						}
						for kx, w := range kernel[o][c][ky] {
							ix := x*stride + kx - padding
							if ix < 0 || ix >= in.Width {
								continue
							}
							row[in.index(c, iy, ix)] += w
						}
					}
				}

				m[out.index(o, y, x)] = row
			}
		}
	}

	return m, out, nil
}

// ChannelBias expands one bias per output channel to one bias per output value.
func ChannelBias(bias []float64, out Shape) []float64 {
	expanded := make([]float64, out.Size())
	for c := 0; c < out.Channels && c < len(bias); c++ {
		for i := 0; i < out.Height*out.Width; i++ {
			expanded[c*out.Height*out.Width+i] = bias[c]
		}
	}
	return expanded
}

// AveragePoolMatrix returns the matrix averaging every size×size window of
// each channel, moving by stride, together with the output shape.
func AveragePoolMatrix(in Shape, size, stride int) ([][]float64, Shape, error) {

	var out Shape

	if size < 1 || stride < 1 || size > in.Height || size > in.Width {
		return nil, out, fmt.Errorf("cannot AveragePoolMatrix: %w: window %d with stride %d on input %s", fhe.ErrInvalidArgument, size, stride, in)
	}

	out = Shape{
		Channels: in.Channels,
		Height:   (in.Height-size)/stride + 1,
		Width:    (in.Width-size)/stride + 1,
	}

	w := 1 / float64(size*size)

	m := make([][]float64, out.Size())

	for c := 0; c < out.Channels; c++ {
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				row := make([]float64, in.Size())
				for ky := 0; ky < size; ky++ {
					for kx := 0; kx < size; kx++ {
						row[in.index(c, y*stride+ky, x*stride+kx)] = w
					}
				}
				m[out.index(c, y, x)] = row
			}
		}
	}

	return m, out, nil
}
