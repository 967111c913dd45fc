package model

import "sort"

// Gini returns 1 - Σ p(c)² over the labels, 0 for an empty slice.
func Gini(y []Label) float64 {
	counts := make(map[Label]int)
	for _, c := range y {
		counts[c]++
	}
	return giniFromCounts(counts, len(y))
}

// WeightedGini is the size-weighted impurity of a two-way partition.
func WeightedGini(left, right []Label) float64 {
	n := len(left) + len(right)
	if n == 0 {
		return 0
	}
	return (float64(len(left))*Gini(left) + float64(len(right))*Gini(right)) / float64(n)
}

func giniFromCounts(counts map[Label]int, n int) float64 {
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		sum += p * p
	}
	return 1 - sum
}

// distinctLabels 返回 y[idx] 中出现的类别 (升序)
func distinctLabels(y []Label, idx []int) []Label {
	seen := make(map[Label]struct{})
	out := make([]Label, 0, 2)
	for _, i := range idx {
		if _, ok := seen[y[i]]; ok {
			continue
		}
		seen[y[i]] = struct{}{}
		out = append(out, y[i])
	}
	sort.Ints(out)
	return out
}

// distinctValues 返回特征 f 在 X[idx] 中的取值 (升序)
func distinctValues(X [][]float64, idx []int, f int) []float64 {
	seen := make(map[float64]struct{}, len(idx))
	out := make([]float64, 0, len(idx))
	for _, i := range idx {
		v := X[i][f]
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}
