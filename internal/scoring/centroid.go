package scoring

import (
	"github.com/ilovetoast/brandlens/internal/models"
)

// Centroid is the dimension-wise arithmetic mean of the reference vectors —
// the brand's "visual average". It is deterministic for a given reference
// set and shifts measurably when the set changes.
func Centroid(refs []models.BrandVisualReference) []float32 {
	if len(refs) == 0 {
		return nil
	}

	dim := len(refs[0].Vector)
	sums := make([]float64, dim)
	count := 0
	for _, ref := range refs {
		if len(ref.Vector) != dim {
			// Mixed dimensions indicate a misconfigured reference set;
			// skip rather than corrupt the mean.
			continue
		}
		for i, v := range ref.Vector {
			sums[i] += float64(v)
		}
		count++
	}
	if count == 0 {
		return nil
	}

	out := make([]float32, dim)
	for i, s := range sums {
		out[i] = float32(s / float64(count))
	}
	return out
}
