package search

import (
	"slices"

	"github.com/Aman-CERP/codeindex/internal/store"
)

// DefaultRRFConstant is the rank smoothing constant k.
const DefaultRRFConstant = 60

// Weights sets the contribution of each ranked list.
type Weights struct {
	Keyword  float64
	Semantic float64
}

// DefaultWeights favours semantic matches.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.35, Semantic: 0.65}
}

// fused is one chunk after reciprocal rank fusion.
type fused struct {
	id           string
	score        float64
	keywordScore float64
	keywordRank  int // 1-based, 0 if absent
	vectorScore  float64
	vectorRank   int // 1-based, 0 if absent
	vector       *store.Result
	keyword      *store.KeywordHit
}

func (f *fused) inBoth() bool {
	return f.keywordRank > 0 && f.vectorRank > 0
}

// fuse merges keyword and vector rankings:
//
//	score(d) = Σ weight_i / (k + rank_i)
//
// A chunk missing from one list is scored there at max(len) + 1. Scores are
// normalised so the best result is 1.
func fuse(keyword []store.KeywordHit, vector []store.Result, w Weights, k int) []*fused {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	byID := make(map[string]*fused, len(keyword)+len(vector))
	get := func(id string) *fused {
		if f, ok := byID[id]; ok {
			return f
		}
		f := &fused{id: id}
		byID[id] = f
		return f
	}

	for i := range keyword {
		f := get(keyword[i].ID)
		f.keyword = &keyword[i]
		f.keywordScore = keyword[i].Score
		f.keywordRank = i + 1
		f.score += w.Keyword / float64(k+i+1)
	}
	for i := range vector {
		f := get(vector[i].ID)
		f.vector = &vector[i]
		f.vectorScore = float64(vector[i].Score)
		f.vectorRank = i + 1
		f.score += w.Semantic / float64(k+i+1)
	}

	missing := max(len(keyword), len(vector)) + 1
	out := make([]*fused, 0, len(byID))
	for _, f := range byID {
		if f.keywordRank == 0 {
			f.score += w.Keyword / float64(k+missing)
		}
		if f.vectorRank == 0 {
			f.score += w.Semantic / float64(k+missing)
		}
		out = append(out, f)
	}

	slices.SortFunc(out, compareFused)
	if len(out) > 0 && out[0].score > 0 {
		top := out[0].score
		for _, f := range out {
			f.score /= top
		}
	}
	return out
}

// compareFused orders by score, then presence in both lists, then keyword
// score, then id.
func compareFused(a, b *fused) int {
	switch {
	case a.score != b.score:
		if a.score > b.score {
			return -1
		}
		return 1
	case a.inBoth() != b.inBoth():
		if a.inBoth() {
			return -1
		}
		return 1
	case a.keywordScore != b.keywordScore:
		if a.keywordScore > b.keywordScore {
			return -1
		}
		return 1
	case a.id < b.id:
		return -1
	case a.id > b.id:
		return 1
	}
	return 0
}
