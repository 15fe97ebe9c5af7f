package scoring

import (
	"math"
	"strings"

	"github.com/ilovetoast/brandlens/internal/coloranalysis"
	"github.com/ilovetoast/brandlens/internal/embedding"
	"github.com/ilovetoast/brandlens/internal/models"
)

// scoreColor measures how much of the asset's dominant coverage falls on
// allowed palette entries. A cluster matches when it sits within the Lab
// delta-E threshold of any palette color; the score is the coverage-weighted
// match fraction on a 0-100 scale.
func scoreColor(clusters []coloranalysis.Cluster, palette []string, weight, threshold float64) models.DimensionResult {
	res := models.DimensionResult{Dimension: models.DimensionColor, Weight: weight}

	if weight <= 0 {
		res.Status = models.DimensionNotApplicable
		res.Reason = "dimension weight is zero"
		return res
	}
	if len(palette) == 0 {
		res.Status = models.DimensionNotApplicable
		res.Reason = "no allowed color palette configured"
		return res
	}
	if len(clusters) == 0 {
		res.Status = models.DimensionNotApplicable
		res.Reason = "no color analysis available"
		return res
	}

	paletteLabs := make([][3]float64, 0, len(palette))
	for _, hex := range palette {
		lab, err := coloranalysis.HexToLab(hex)
		if err != nil {
			continue
		}
		paletteLabs = append(paletteLabs, lab)
	}
	if len(paletteLabs) == 0 {
		res.Status = models.DimensionNotApplicable
		res.Reason = "allowed color palette has no parseable entries"
		return res
	}

	var total, matched float64
	for _, c := range clusters {
		total += c.Coverage
		for _, p := range paletteLabs {
			if labDelta(c.Lab, p) <= threshold {
				matched += c.Coverage
				break
			}
		}
	}
	if total == 0 {
		res.Status = models.DimensionNotApplicable
		res.Reason = "color analysis has zero coverage"
		return res
	}

	score := 100.0 * matched / total
	res.Status = models.DimensionScored
	res.Score = &score
	res.Reason = "Dominant colors matched against allowed palette"
	return res
}

// scoreKeywords is the shared tone/typography check: the fraction of
// configured keywords present in the asset's textual corpus.
func scoreKeywords(dimension string, keywords []string, corpus string, weight float64, reason string) models.DimensionResult {
	res := models.DimensionResult{Dimension: dimension, Weight: weight}

	if weight <= 0 {
		res.Status = models.DimensionNotApplicable
		res.Reason = "dimension weight is zero"
		return res
	}
	if len(keywords) == 0 {
		res.Status = models.DimensionNotApplicable
		res.Reason = "no keywords configured"
		return res
	}
	if strings.TrimSpace(corpus) == "" {
		res.Status = models.DimensionNotApplicable
		res.Reason = "asset has no textual metadata"
		return res
	}

	found := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(corpus, kw) {
			found++
		}
	}

	score := 100.0 * float64(found) / float64(len(keywords))
	res.Status = models.DimensionScored
	res.Score = &score
	res.Reason = reason
	return res
}

// textCorpus flattens the asset's textual metadata (title, tags,
// description) into one lowercase haystack.
func textCorpus(asset *models.Asset) string {
	parts := []string{asset.Title}
	parts = append(parts, asset.Metadata.StringSlice(models.MetaTags)...)
	if d := asset.Metadata.String("description"); d != "" {
		parts = append(parts, d)
	}
	return strings.ToLower(strings.Join(parts, "\n"))
}

// similarityToScore maps cosine similarity [-1, 1] onto [0, 100]. Cosine 1
// lands on exactly 100.
func similarityToScore(cos float64) float64 {
	return (cos + 1.0) / 2.0 * 100.0
}

func cosineSimilarity(a, b []float32) float64 {
	return embedding.CosineSimilarity(a, b)
}

func labDelta(a, b [3]float64) float64 {
	dl := a[0] - b[0]
	da := a[1] - b[1]
	db := a[2] - b[2]
	return math.Sqrt(dl*dl + da*da + db*db)
}

// combine renormalizes weights over the dimensions that actually scored and
// returns the weighted average. Dimensions with zero weight or no
// applicable data are excluded, not counted as zero.
func combine(breakdown []models.DimensionResult) (float64, bool) {
	var weightSum, weighted float64
	for _, d := range breakdown {
		if d.Status != models.DimensionScored || d.Score == nil || d.Weight <= 0 {
			continue
		}
		weightSum += d.Weight
		weighted += d.Weight * *d.Score
	}
	if weightSum == 0 {
		return 0, false
	}
	return weighted / weightSum, true
}
