package preprocess

import (
	"image"
	"image/color"
	"math/rand"
	"testing"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func noise(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 0xff
	}
	return img
}

func TestPreprocessShapeAndRange(t *testing.T) {
	lo, hi := Bounds()
	sizes := []image.Point{{224, 224}, {640, 480}, {31, 97}, {1, 1}}

	for _, size := range sizes {
		tensor := Preprocess(noise(size.X, size.Y, int64(size.X*size.Y)))

		want := []int64{1, 224, 224, 3}
		if len(tensor.Shape) != len(want) {
			t.Fatalf("%v: unexpected shape %v", size, tensor.Shape)
		}
		for i := range want {
			if tensor.Shape[i] != want[i] {
				t.Fatalf("%v: unexpected shape %v", size, tensor.Shape)
			}
		}
		if len(tensor.Data) != tensor.Len() || tensor.Len() != 224*224*3 {
			t.Fatalf("%v: expected %d values, got %d", size, 224*224*3, len(tensor.Data))
		}
		for i, v := range tensor.Data {
			if v < lo || v > hi {
				t.Fatalf("%v: value %f at %d outside [%f, %f]", size, v, i, lo, hi)
			}
		}
	}
}

func TestPreprocessChannelOrder(t *testing.T) {
	tensor := Preprocess(solid(50, 40, color.RGBA{R: 10, G: 120, B: 250, A: 255}))

	for px := 0; px < len(tensor.Data); px += Channels {
		if tensor.Data[px] != 10 || tensor.Data[px+1] != 120 || tensor.Data[px+2] != 250 {
			t.Fatalf("pixel %d: got %v, expected [10 120 250]", px/Channels, tensor.Data[px:px+Channels])
		}
	}
}

func TestPreprocessIsDeterministic(t *testing.T) {
	img := noise(300, 200, 7)
	a := Preprocess(img)
	b := Preprocess(img)
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("value %d differs between runs: %f vs %f", i, a.Data[i], b.Data[i])
		}
	}
}

func TestBoundsMatchPinnedNormalization(t *testing.T) {
	lo, hi := Bounds()
	if lo != 0 || hi != 255 {
		t.Fatalf("expected [0, 255], got [%f, %f]", lo, hi)
	}
}
