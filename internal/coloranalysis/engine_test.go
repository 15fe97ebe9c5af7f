package coloranalysis

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// blockImage builds an image whose left portion is one solid color and the
// right portion another, split at the given fraction.
func blockImage(w, h int, split float64, left, right color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	cut := int(float64(w) * split)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < cut {
				img.SetNRGBA(x, y, left)
			} else {
				img.SetNRGBA(x, y, right)
			}
		}
	}
	return img
}

func TestAnalyzeImageSolidColor(t *testing.T) {
	eng := NewEngine(DefaultOptions())

	img := blockImage(64, 64, 1.0, color.NRGBA{R: 0x20, G: 0x40, B: 0xc8, A: 0xff}, color.NRGBA{})
	res, err := eng.AnalyzeImage(img)
	require.NoError(t, err)
	require.NotEmpty(t, res.Clusters)

	for _, c := range res.Clusters {
		assert.Regexp(t, hexRe, c.Hex)
		assert.NotEmpty(t, c.Bucket)
		assert.NotEmpty(t, c.BucketKey)
		assert.Greater(t, c.Coverage, 0.0)
	}

	assert.Equal(t, "blue", res.DominantBucket())
	assert.InDelta(t, 1.0, res.Clusters[0].Coverage, 0.01)
	assert.Equal(t, 0.0, res.IgnoredPixels)
}

func TestAnalyzeImageTwoColors(t *testing.T) {
	eng := NewEngine(DefaultOptions())

	// 70% red, 30% near-white
	img := blockImage(100, 40, 0.7,
		color.NRGBA{R: 0xd0, G: 0x20, B: 0x20, A: 0xff},
		color.NRGBA{R: 0xf5, G: 0xf5, B: 0xf5, A: 0xff},
	)
	res, err := eng.AnalyzeImage(img)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res.Clusters), 2)

	// Sorted by descending coverage, red first.
	assert.Equal(t, "red", res.Clusters[0].Bucket)
	assert.InDelta(t, 0.7, res.Clusters[0].Coverage, 0.05)
	for i := 1; i < len(res.Clusters); i++ {
		assert.LessOrEqual(t, res.Clusters[i].Coverage, res.Clusters[i-1].Coverage)
	}

	var total float64
	for _, c := range res.Clusters {
		total += c.Coverage
	}
	assert.InDelta(t, 1.0, total, 0.001)
}

func TestAnalyzeImageDeterministic(t *testing.T) {
	eng := NewEngine(DefaultOptions())
	img := blockImage(80, 80, 0.5,
		color.NRGBA{R: 0x20, G: 0x90, B: 0x30, A: 0xff},
		color.NRGBA{R: 0x10, G: 0x10, B: 0x10, A: 0xff},
	)

	a, err := eng.AnalyzeImage(img)
	require.NoError(t, err)
	b, err := eng.AnalyzeImage(img)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAnalyzeImageIgnoresTransparentPixels(t *testing.T) {
	eng := NewEngine(DefaultOptions())

	// Half opaque green, half fully transparent.
	img := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			if y < 20 {
				img.SetNRGBA(x, y, color.NRGBA{R: 0x20, G: 0x90, B: 0x30, A: 0xff})
			} else {
				img.SetNRGBA(x, y, color.NRGBA{})
			}
		}
	}

	res, err := eng.AnalyzeImage(img)
	require.NoError(t, err)
	assert.Equal(t, "green", res.DominantBucket())
	assert.InDelta(t, 0.5, res.IgnoredPixels, 0.01)
}

func TestAnalyzeImageAllTransparent(t *testing.T) {
	eng := NewEngine(DefaultOptions())
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))

	_, err := eng.AnalyzeImage(img)
	assert.ErrorIs(t, err, ErrNoOpaquePixels)
}

func TestAnalyzeDecodesEncodedImage(t *testing.T) {
	eng := NewEngine(DefaultOptions())

	img := blockImage(32, 32, 1.0, color.NRGBA{R: 0xf0, G: 0xd8, B: 0x20, A: 0xff}, color.NRGBA{})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	res, err := eng.Analyze(&buf)
	require.NoError(t, err)
	require.NotEmpty(t, res.Clusters)
	assert.Equal(t, "yellow", res.DominantBucket())
}

func TestAnalyzeRejectsGarbage(t *testing.T) {
	eng := NewEngine(DefaultOptions())
	_, err := eng.Analyze(bytes.NewReader([]byte("not an image")))
	assert.Error(t, err)
}

func TestParseHex(t *testing.T) {
	rgb, err := ParseHex("#D02020")
	require.NoError(t, err)
	assert.Equal(t, [3]uint8{0xd0, 0x20, 0x20}, rgb)

	rgb, err = ParseHex("f5f5f5")
	require.NoError(t, err)
	assert.Equal(t, [3]uint8{0xf5, 0xf5, 0xf5}, rgb)

	_, err = ParseHex("#fff")
	assert.Error(t, err)
}

func TestBucketKeyQuantization(t *testing.T) {
	assert.Equal(t, "L50_A10_B20", BucketKey([3]float64{52.1, 11.4, 18.2}))
	assert.Equal(t, "L0_A0_B0", BucketKey([3]float64{2.0, -3.0, 4.0}))
	assert.Equal(t, "L100_A-10_B-20", BucketKey([3]float64{98.0, -12.0, -17.0}))
}
