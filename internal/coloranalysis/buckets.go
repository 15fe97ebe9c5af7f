package coloranalysis

import "fmt"

// Coarse named buckets. A cluster maps to the bucket whose centroid is
// nearest in Lab space.
type bucket struct {
	name string
	lab  [3]float64
}

var namedBuckets []bucket

func init() {
	seeds := []struct {
		name string
		rgb  [3]uint8
	}{
		{"red", [3]uint8{0xd0, 0x20, 0x20}},
		{"orange", [3]uint8{0xf0, 0x8c, 0x1e}},
		{"yellow", [3]uint8{0xf0, 0xd8, 0x20}},
		{"green", [3]uint8{0x20, 0x90, 0x30}},
		{"teal", [3]uint8{0x20, 0x90, 0x90}},
		{"blue", [3]uint8{0x20, 0x40, 0xc8}},
		{"purple", [3]uint8{0x80, 0x30, 0xa0}},
		{"pink", [3]uint8{0xe8, 0x90, 0xb8}},
		{"brown", [3]uint8{0x80, 0x50, 0x20}},
		{"black", [3]uint8{0x10, 0x10, 0x10}},
		{"white", [3]uint8{0xf5, 0xf5, 0xf5}},
		{"gray", [3]uint8{0x80, 0x80, 0x80}},
	}
	for _, s := range seeds {
		namedBuckets = append(namedBuckets, bucket{
			name: s.name,
			lab:  rgbToLab(s.rgb[0], s.rgb[1], s.rgb[2]),
		})
	}
}

// BucketName returns the coarse named bucket for a Lab triple.
func BucketName(lab [3]float64) string {
	best := namedBuckets[0].name
	bestDist := labDistance(lab, namedBuckets[0].lab)
	for _, b := range namedBuckets[1:] {
		if d := labDistance(lab, b.lab); d < bestDist {
			best = b.name
			bestDist = d
		}
	}
	return best
}

// BucketKey is the finer composite key used for exact-match filtering,
// quantizing each Lab channel to steps of 10.
func BucketKey(lab [3]float64) string {
	return fmt.Sprintf("L%d_A%d_B%d", quantize(lab[0]), quantize(lab[1]), quantize(lab[2]))
}

func quantize(v float64) int {
	q := int(v/10.0+0.5) * 10
	if v < 0 {
		q = int(v/10.0-0.5) * 10
	}
	return q
}
