// Package fusion merges dense and sparse candidates into one ranked list
// with calibrated confidence.
package fusion

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/sparse"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/vector"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/config"
)

// Item is one fused candidate.
type Item struct {
	Code        string               `json:"code"`
	Confidence  float64              `json:"confidence"`
	Fused       float64              `json:"fused"`
	DenseScore  float64              `json:"dense_score"`
	SparseScore float64              `json:"sparse_score"`
	MatchType   occupation.MatchType `json:"match_type"`
	Highlights  []string             `json:"highlights,omitempty"`
	Explanation string               `json:"explanation"`

	hasDense  bool
	hasSparse bool
}

// Result is the ranked output of Fuse.
type Result struct {
	Items []Item `json:"items"`
	// LowConfidence is set when the best item falls below the configured
	// threshold or nothing matched at all.
	LowConfidence bool `json:"low_confidence"`
}

// Options control one Fuse call.
type Options struct {
	DenseWeight  float64
	SparseWeight float64
	// DenseAvailable is false when the dense path did not run; all weight
	// then moves to the sparse score.
	DenseAvailable         bool
	Calibrator             Calibrator
	Limit                  int
	LowConfidenceThreshold float64
	MinConfidence          float64
	// Prefix keeps only codes under this hierarchy prefix.
	Prefix string
}

// OptionsFromConfig fills the weight, calibration and threshold fields.
func OptionsFromConfig(cfg config.FusionConfig) Options {
	return Options{
		DenseWeight:            cfg.DenseWeight,
		SparseWeight:           cfg.SparseWeight,
		DenseAvailable:         true,
		Calibrator:             Calibrator{Steepness: cfg.Steepness, Midpoint: cfg.Midpoint},
		LowConfidenceThreshold: cfg.LowConfidenceThreshold,
	}
}

// Weights returns the normalised (dense, sparse) weights in effect.
func (o Options) Weights() (float64, float64) {
	if !o.DenseAvailable {
		return 0, 1
	}
	d, s := math.Max(o.DenseWeight, 0), math.Max(o.SparseWeight, 0)
	if d+s == 0 {
		return 0.5, 0.5
	}
	return d / (d + s), s / (d + s)
}

// Fuse unions dense and sparse candidates, scores and calibrates them, and
// returns at most opts.Limit items. A code missing from one path contributes
// nothing from that path. Identical inputs give identical output.
func Fuse(dense []vector.Hit, lexical []sparse.Match, opts Options) Result {
	wd, ws := opts.Weights()
	byCode := make(map[string]*Item, len(dense)+len(lexical))
	get := func(code string) *Item {
		it, ok := byCode[code]
		if !ok {
			it = &Item{Code: code, MatchType: occupation.MatchSemantic}
			byCode[code] = it
		}
		return it
	}
	for _, h := range dense {
		if !occupation.Code(h.Code).HasPrefix(opts.Prefix) {
			continue
		}
		it := get(h.Code)
		if !it.hasDense || h.Similarity > it.DenseScore {
			it.DenseScore = h.Similarity
		}
		it.hasDense = true
	}
	for _, m := range lexical {
		if !occupation.Code(m.Code).HasPrefix(opts.Prefix) {
			continue
		}
		it := get(m.Code)
		if it.hasSparse && m.Score <= it.SparseScore {
			continue
		}
		it.SparseScore = m.Score
		it.MatchType = m.MatchType
		it.Highlights = m.Highlights
		it.hasSparse = true
	}

	items := make([]Item, 0, len(byCode))
	for _, it := range byCode {
		var fused float64
		if it.hasDense {
			fused += wd * NormalizeDense(it.DenseScore)
		}
		if it.hasSparse {
			fused += ws * NormalizeSparse(it.SparseScore)
		}
		it.Fused = round(fused)
		it.Confidence = round(opts.Calibrator.Calibrate(fused))
		if it.Confidence < opts.MinConfidence {
			continue
		}
		it.Explanation = explain(it, wd, ws)
		items = append(items, *it)
	}

	slices.SortFunc(items, func(a, b Item) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		if c := cmp.Compare(b.MatchType.Priority(), a.MatchType.Priority()); c != 0 {
			return c
		}
		return strings.Compare(a.Code, b.Code)
	})
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return Result{
		Items:         items,
		LowConfidence: len(items) == 0 || items[0].Confidence < opts.LowConfidenceThreshold,
	}
}

// NormalizeDense maps a cosine similarity in [-1, 1] onto [0, 1].
func NormalizeDense(s float64) float64 {
	return (clamp(s, -1, 1) + 1) / 2
}

// NormalizeSparse clamps a lexical score onto [0, 1].
func NormalizeSparse(s float64) float64 {
	return clamp(s, 0, 1)
}

func explain(it *Item, wd, ws float64) string {
	var parts []string
	if it.hasSparse {
		label := "partial lexical match"
		switch it.MatchType {
		case occupation.MatchExact:
			label = "exact phrase match"
		case occupation.MatchSynonym:
			label = "synonym match"
		}
		if len(it.Highlights) > 0 {
			label += " on " + strings.Join(it.Highlights, ", ")
		}
		parts = append(parts, fmt.Sprintf("%s (lexical %.2f, weight %.2f)", label, it.SparseScore, ws))
	}
	if it.hasDense {
		parts = append(parts, fmt.Sprintf("semantic similarity %.2f (weight %.2f)", it.DenseScore, wd))
	}
	return strings.Join(parts, "; ")
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round(s float64) float64 {
	return math.Round(s*10000) / 10000
}
