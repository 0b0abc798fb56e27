// Package preprocess converts a decoded image into the input tensor of the
// fundus classifier.
package preprocess

import (
	"image"

	"github.com/nfnt/resize"
)

const (
	ImageSize = 224
	Channels  = 3
)

// Shape is the NHWC input shape of the classifier, batch size 1.
var Shape = [4]int64{1, ImageSize, ImageSize, Channels}

// Per-channel affine normalization applied after resizing, value*Scale+Offset
// on 0..255 inputs. The classifier is an EfficientNet-B0 whose Keras
// preprocessing is the identity; rescaling happens inside the network. These
// values are tied to the model artifact and must change with it.
var (
	Scale  = [Channels]float32{1, 1, 1}
	Offset = [Channels]float32{0, 0, 0}
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Len returns the number of elements implied by Shape.
func (t Tensor) Len() int {
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// Preprocess resizes img to ImageSize x ImageSize with bicubic resampling and
// lays it out as a (1, 224, 224, 3) tensor.
func Preprocess(img image.Image) Tensor {
	resized := resize.Resize(ImageSize, ImageSize, img, resize.Bicubic)
	b := resized.Bounds()

	data := make([]float32, ImageSize*ImageSize*Channels)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := resized.At(x, y).RGBA()
			data[i] = float32(r>>8)*Scale[0] + Offset[0]
			data[i+1] = float32(g>>8)*Scale[1] + Offset[1]
			data[i+2] = float32(bl>>8)*Scale[2] + Offset[2]
			i += Channels
		}
	}

	return Tensor{Shape: []int64{1, ImageSize, ImageSize, Channels}, Data: data}
}

// Bounds returns the smallest and largest value Preprocess can produce.
func Bounds() (lo, hi float32) {
	lo, hi = Offset[0], Offset[0]
	for c := 0; c < Channels; c++ {
		for _, v := range [2]float32{Offset[c], 255*Scale[c] + Offset[c]} {
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}
	return lo, hi
}
