package coloranalysis

import (
	"errors"
	"fmt"
	"image"
	"io"
	"sort"

	"github.com/disintegration/imaging"
)

// ErrNoOpaquePixels is returned when every sampled pixel was discarded as
// near-transparent. A successful analysis always yields at least one
// cluster; an unanalyzable image is an explicit error, never an empty
// success.
var ErrNoOpaquePixels = errors.New("coloranalysis: no opaque pixels to sample")

type Options struct {
	Clusters       int   // k for the clustering pass
	MaxIterations  int   // k-means iteration cap
	SampleSize     int   // max dimension the image is downscaled to before sampling
	AlphaThreshold uint8 // pixels at or below this alpha are ignored
}

func DefaultOptions() Options {
	return Options{
		Clusters:       4,
		MaxIterations:  16,
		SampleSize:     128,
		AlphaThreshold: 32,
	}
}

// Cluster is one dominant color group. Hex is always a valid 6-digit value
// derived from the cluster's mean RGB; Lab is the centroid used for
// distance computations.
type Cluster struct {
	Lab       [3]float64 `json:"lab"`
	RGB       [3]uint8   `json:"rgb"`
	Hex       string     `json:"hex"`
	Coverage  float64    `json:"coverage"`
	Bucket    string     `json:"bucket"`
	BucketKey string     `json:"bucket_key"`
}

type Result struct {
	Clusters      []Cluster `json:"clusters"`
	IgnoredPixels float64   `json:"ignored_pixels"`
}

// DominantBucket is the named bucket of the highest-coverage cluster.
func (r *Result) DominantBucket() string {
	if len(r.Clusters) == 0 {
		return ""
	}
	return r.Clusters[0].Bucket
}

// Engine extracts dominant color clusters from rendered raster thumbnails.
// It expects rasterized input; vector and AVIF sources are rasterized by the
// thumbnail renderer before they reach this engine.
type Engine struct {
	opts Options
}

func NewEngine(opts Options) *Engine {
	if opts.Clusters <= 0 {
		opts.Clusters = DefaultOptions().Clusters
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultOptions().SampleSize
	}
	return &Engine{opts: opts}
}

// Analyze decodes a raster image and clusters its pixels.
func (e *Engine) Analyze(r io.Reader) (*Result, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode thumbnail: %w", err)
	}
	return e.AnalyzeImage(img)
}

type samplePoint struct {
	lab [3]float64
	rgb [3]uint8
}

// AnalyzeImage clusters an already-decoded image.
func (e *Engine) AnalyzeImage(img image.Image) (*Result, error) {
	bounds := img.Bounds()
	if bounds.Dx() > e.opts.SampleSize || bounds.Dy() > e.opts.SampleSize {
		img = imaging.Fit(img, e.opts.SampleSize, e.opts.SampleSize, imaging.NearestNeighbor)
		bounds = img.Bounds()
	}

	var points []samplePoint
	total := 0
	ignored := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			total++
			r16, g16, b16, a16 := img.At(x, y).RGBA()
			if uint8(a16>>8) <= e.opts.AlphaThreshold {
				ignored++
				continue
			}
			r8, g8, b8 := uint8(r16>>8), uint8(g16>>8), uint8(b16>>8)
			points = append(points, samplePoint{
				lab: rgbToLab(r8, g8, b8),
				rgb: [3]uint8{r8, g8, b8},
			})
		}
	}

	if len(points) == 0 {
		return nil, ErrNoOpaquePixels
	}

	clusters := e.cluster(points)

	result := &Result{
		Clusters:      clusters,
		IgnoredPixels: float64(ignored) / float64(total),
	}
	return result, nil
}

// cluster runs a deterministic k-means in Lab space. Seeding is maximin
// (farthest point) starting from the global mean, so identical inputs
// always produce identical clusters.
func (e *Engine) cluster(points []samplePoint) []Cluster {
	k := e.opts.Clusters
	if k > len(points) {
		k = len(points)
	}

	centroids := seedCentroids(points, k)

	assignment := make([]int, len(points))
	for iter := 0; iter < e.opts.MaxIterations; iter++ {
		changed := false
		for i, p := range points {
			best := 0
			bestDist := labDistance(p.lab, centroids[0])
			for c := 1; c < len(centroids); c++ {
				if d := labDistance(p.lab, centroids[c]); d < bestDist {
					best = c
					bestDist = d
				}
			}
			if assignment[i] != best {
				assignment[i] = best
				changed = true
			}
		}

		if !changed && iter > 0 {
			break
		}

		sums := make([][3]float64, len(centroids))
		counts := make([]int, len(centroids))
		for i, p := range points {
			c := assignment[i]
			sums[c][0] += p.lab[0]
			sums[c][1] += p.lab[1]
			sums[c][2] += p.lab[2]
			counts[c]++
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			centroids[c] = [3]float64{
				sums[c][0] / float64(counts[c]),
				sums[c][1] / float64(counts[c]),
				sums[c][2] / float64(counts[c]),
			}
		}
	}

	// Reduce to output clusters; empty clusters are dropped, never emitted.
	type accum struct {
		lab   [3]float64
		rgb   [3]float64
		count int
	}
	accums := make([]accum, len(centroids))
	for i, p := range points {
		c := assignment[i]
		accums[c].lab[0] += p.lab[0]
		accums[c].lab[1] += p.lab[1]
		accums[c].lab[2] += p.lab[2]
		accums[c].rgb[0] += float64(p.rgb[0])
		accums[c].rgb[1] += float64(p.rgb[1])
		accums[c].rgb[2] += float64(p.rgb[2])
		accums[c].count++
	}

	var out []Cluster
	for _, a := range accums {
		if a.count == 0 {
			continue
		}
		n := float64(a.count)
		lab := [3]float64{a.lab[0] / n, a.lab[1] / n, a.lab[2] / n}
		rgb := [3]uint8{
			uint8(a.rgb[0]/n + 0.5),
			uint8(a.rgb[1]/n + 0.5),
			uint8(a.rgb[2]/n + 0.5),
		}
		out = append(out, Cluster{
			Lab:       lab,
			RGB:       rgb,
			Hex:       rgbToHex(rgb[0], rgb[1], rgb[2]),
			Coverage:  n / float64(len(points)),
			Bucket:    BucketName(lab),
			BucketKey: BucketKey(lab),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Coverage > out[j].Coverage
	})
	return out
}

func seedCentroids(points []samplePoint, k int) [][3]float64 {
	var mean [3]float64
	for _, p := range points {
		mean[0] += p.lab[0]
		mean[1] += p.lab[1]
		mean[2] += p.lab[2]
	}
	n := float64(len(points))
	mean[0] /= n
	mean[1] /= n
	mean[2] /= n

	centroids := [][3]float64{mean}
	for len(centroids) < k {
		farIdx := 0
		farDist := -1.0
		for i, p := range points {
			nearest := labDistance(p.lab, centroids[0])
			for _, c := range centroids[1:] {
				if d := labDistance(p.lab, c); d < nearest {
					nearest = d
				}
			}
			if nearest > farDist {
				farDist = nearest
				farIdx = i
			}
		}
		centroids = append(centroids, points[farIdx].lab)
	}
	return centroids
}
