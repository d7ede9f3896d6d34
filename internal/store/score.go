package store

import (
	"math"
	"sort"
)

// similarity scores b against a; higher is closer. Cosine returns the cosine
// similarity, euclid returns 1/(1+distance).
func similarity(distance Distance, a, b []float32) float32 {
	if distance == DistanceEuclid {
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return float32(1 / (1 + math.Sqrt(sum)))
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// scored is a candidate with its insertion sequence for tie-breaking.
type scored struct {
	result Result
	seq    uint64
}

// rank orders candidates by score descending, then insertion sequence, and
// keeps topK.
func rank(cands []scored, topK int) []Result {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].result.Score != cands[j].result.Score {
			return cands[i].result.Score > cands[j].result.Score
		}
		return cands[i].seq < cands[j].seq
	})
	if topK < len(cands) {
		cands = cands[:topK]
	}
	out := make([]Result, len(cands))
	for i, c := range cands {
		out[i] = c.result
	}
	return out
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	mag := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= mag
	}
}
