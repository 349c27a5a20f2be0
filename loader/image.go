package loader

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/embedkit/trihard/catalog"
	"github.com/embedkit/trihard/util"
)

// maxRotation bounds the random rotation angle in radians.
const maxRotation = math.Pi / 4

// ImageOption configures an ImageLoader.
type ImageOption func(*ImageLoader)

// WithFlipAugment enables random horizontal flipping.
func WithFlipAugment() ImageOption {
	return func(l *ImageLoader) {
		l.flip = true
	}
}

// WithRotateAugment enables random rotation by a uniform angle in
// [-maxRotation, maxRotation] around the image center.
func WithRotateAugment() ImageOption {
	return func(l *ImageLoader) {
		l.rotate = true
	}
}

// WithCropAugment enables random cropping: images are first resized to the
// given pre-crop size and a random net-input-sized window is cut out.
func WithCropAugment(preCropHeight, preCropWidth int) ImageOption {
	return func(l *ImageLoader) {
		l.crop = true
		l.preCropH = preCropHeight
		l.preCropW = preCropWidth
	}
}

// WithImageRNG injects the random source used for augmentation decisions.
func WithImageRNG(rng *util.RNG) ImageOption {
	return func(l *ImageLoader) {
		l.rng = rng
	}
}

// ImageLoader decodes JPEG/PNG files relative to an image root, resizes them
// to a fixed network input size and converts them to float32 tensors in HWC
// layout with values in [0,1].
type ImageLoader struct {
	root   string
	height int
	width  int

	flip     bool
	rotate   bool
	crop     bool
	preCropH int
	preCropW int
	rng      *util.RNG
}

// NewImageLoader creates an image loader. height and width are the network
// input size.
func NewImageLoader(root string, height, width int, optFns ...ImageOption) *ImageLoader {
	l := &ImageLoader{
		root:   root,
		height: height,
		width:  width,
	}
	for _, fn := range optFns {
		fn(l)
	}
	if l.rng == nil {
		l.rng = util.NewRNG(1)
	}
	return l
}

// Load implements Loader.
func (l *ImageLoader) Load(ctx context.Context, ref catalog.SampleRef) (*Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(l.root, filepath.FromSlash(ref.Path))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load sample %s: %w", ref.Path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode sample %s: %w", ref.Path, err)
	}

	decodeH, decodeW := l.height, l.width
	if l.crop {
		decodeH, decodeW = l.preCropH, l.preCropW
	}

	resized := image.NewRGBA(image.Rect(0, 0, decodeW, decodeH))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Over, nil)

	if l.rotate {
		resized = l.randomRotate(resized)
	}
	if l.crop {
		resized = l.randomCrop(resized)
	}
	if l.flip && l.rng.IntN(2) == 1 {
		flipHorizontal(resized)
	}

	return &Sample{
		Ref:      ref,
		Data:     rgbaToFloats(resized),
		Width:    l.width,
		Height:   l.height,
		Channels: 3,
	}, nil
}

// randomRotate rotates src around its center by a random angle. Corners the
// rotated image does not cover stay black.
func (l *ImageLoader) randomRotate(src *image.RGBA) *image.RGBA {
	angle := (l.rng.Float64()*2 - 1) * maxRotation
	sin, cos := math.Sincos(angle)

	cx := float64(src.Bounds().Dx()) / 2
	cy := float64(src.Bounds().Dy()) / 2
	m := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}

	dst := image.NewRGBA(src.Bounds())
	draw.BiLinear.Transform(dst, m, src, src.Bounds(), draw.Src, nil)
	return dst
}

// randomCrop cuts a random height×width window out of src.
func (l *ImageLoader) randomCrop(src *image.RGBA) *image.RGBA {
	maxY := src.Bounds().Dy() - l.height
	maxX := src.Bounds().Dx() - l.width

	var offY, offX int
	if maxY > 0 {
		offY = l.rng.IntN(maxY + 1)
	}
	if maxX > 0 {
		offX = l.rng.IntN(maxX + 1)
	}

	dst := image.NewRGBA(image.Rect(0, 0, l.width, l.height))
	draw.Copy(dst, image.Point{}, src, image.Rect(offX, offY, offX+l.width, offY+l.height), draw.Over, nil)
	return dst
}

func flipHorizontal(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x1, x2 := b.Min.X, b.Max.X-1; x1 < x2; x1, x2 = x1+1, x2-1 {
			c1 := img.RGBAAt(x1, y)
			img.SetRGBA(x1, y, img.RGBAAt(x2, y))
			img.SetRGBA(x2, y, c1)
		}
	}
}

// rgbaToFloats flattens an RGBA image into HWC float32 data in [0,1],
// dropping the alpha channel.
func rgbaToFloats(img *image.RGBA) []float32 {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()

	data := make([]float32, 0, h*w*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			data = append(data, float32(c.R)/255, float32(c.G)/255, float32(c.B)/255)
		}
	}
	return data
}
