// Package retrieval provides keyword search over an index's passages and the fusion of
// keyword and vector rankings.
package retrieval

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"docchat/internal/model"
)

type Mode string

const (
	ModeVector  Mode = "vector"
	ModeKeyword Mode = "keyword"
	ModeHybrid  Mode = "hybrid"
)

// DefaultRRFConstant is the usual reciprocal-rank smoothing constant.
const DefaultRRFConstant = 60

var ErrUnknownMode = errors.New("unknown retrieval mode")

// ParseMode maps the empty string to ModeVector.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return ModeVector, nil
	case ModeVector, ModeKeyword, ModeHybrid:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, raw)
	}
}

// Fuse merges two ranked lists with reciprocal rank fusion: score(p) = sum 1/(k + rank).
// Ties keep document order.
func Fuse(keyword, vector []model.ScoredPassage, k, limit int) []model.ScoredPassage {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	fused := make(map[string]*model.ScoredPassage, len(keyword)+len(vector))
	add := func(list []model.ScoredPassage) {
		for rank, hit := range list {
			entry, ok := fused[hit.ID]
			if !ok {
				entry = &model.ScoredPassage{Passage: hit.Passage}
				fused[hit.ID] = entry
			}
			entry.Score += 1 / float64(k+rank+1)
		}
	}
	add(keyword)
	add(vector)

	out := make([]model.ScoredPassage, 0, len(fused))
	for _, entry := range fused {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
