package model

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Node 树数组中的一个节点。叶子只有 Class；
// 分裂节点把 row[Feature] <= Threshold 的行送到 Left，其余送到 Right。
// 子节点下标总是大于父节点。
type Node struct {
	Leaf      bool
	Class     Label
	Feature   int
	Threshold float64
	Left      int
	Right     int
}

// DecisionTree is a CART classifier grown by exhaustive Gini search.
// The root is nodes[0]; an empty arena means the tree is untrained.
type DecisionTree struct {
	MaxDepth int

	nodes     []Node
	nFeatures int
	rng       *rand.Rand
}

type TreeOption func(*DecisionTree)

func WithTreeMaxDepth(d int) TreeOption {
	return func(t *DecisionTree) { t.MaxDepth = d }
}

// WithRand 设置每个节点特征扫描顺序所用的随机源
func WithRand(r *rand.Rand) TreeOption {
	return func(t *DecisionTree) { t.rng = r }
}

func WithTreeSeed(seed int64) TreeOption {
	return func(t *DecisionTree) { t.rng = rand.New(rand.NewSource(seed)) }
}

func NewDecisionTree(opts ...TreeOption) *DecisionTree {
	t := &DecisionTree{MaxDepth: Unlimited}
	for _, o := range opts {
		o(t)
	}
	if t.rng == nil {
		t.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return t
}

// Fit 训练过程，会覆盖之前的结果
func (t *DecisionTree) Fit(X [][]float64, y []Label) error {
	m, err := validate(X, y)
	if err != nil {
		return err
	}
	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	t.nodes = make([]Node, 0, 2*len(X))
	t.nFeatures = m
	t.build(X, y, idx, 0)
	return nil
}

func (t *DecisionTree) build(X [][]float64, y []Label, idx []int, depth int) int {
	classes := distinctLabels(y, idx)
	// 深度上限时取最小的类别，而不是多数类
	if len(classes) == 1 || (t.MaxDepth >= 0 && depth >= t.MaxDepth) {
		return t.addLeaf(classes[0])
	}

	s, ok := t.bestSplit(X, y, idx)
	if !ok {
		return t.addLeaf(classes[0])
	}

	self := len(t.nodes)
	t.nodes = append(t.nodes, Node{Feature: s.feature, Threshold: s.threshold})
	left := t.build(X, y, s.left, depth+1)
	right := t.build(X, y, s.right, depth+1)
	t.nodes[self].Left = left
	t.nodes[self].Right = right
	return self
}

func (t *DecisionTree) addLeaf(c Label) int {
	t.nodes = append(t.nodes, Node{Leaf: true, Class: c})
	return len(t.nodes) - 1
}

type split struct {
	feature   int
	threshold float64
	impurity  float64
	left      []int
	right     []int
}

// bestSplit scans every (feature, observed value) pair. Candidates that put
// all rows on one side are not eligible; ok is false when none remain.
func (t *DecisionTree) bestSplit(X [][]float64, y []Label, idx []int) (split, bool) {
	best := split{impurity: math.Inf(1)}
	found := false
	for _, f := range t.rng.Perm(t.nFeatures) {
		for _, v := range distinctValues(X, idx, f) {
			imp, nLeft := candidateImpurity(X, y, idx, f, v)
			if nLeft == 0 || nLeft == len(idx) {
				continue
			}
			if imp < best.impurity {
				best.feature, best.threshold, best.impurity = f, v, imp
				found = true
			}
		}
	}
	if !found {
		return best, false
	}
	best.left, best.right = partition(X, idx, best.feature, best.threshold)
	return best, true
}

func candidateImpurity(X [][]float64, y []Label, idx []int, f int, v float64) (float64, int) {
	left := make(map[Label]int)
	right := make(map[Label]int)
	nLeft := 0
	for _, i := range idx {
		if X[i][f] <= v {
			left[y[i]]++
			nLeft++
		} else {
			right[y[i]]++
		}
	}
	nRight := len(idx) - nLeft
	imp := (float64(nLeft)*giniFromCounts(left, nLeft) + float64(nRight)*giniFromCounts(right, nRight)) / float64(len(idx))
	return imp, nLeft
}

func partition(X [][]float64, idx []int, f int, v float64) (left, right []int) {
	for _, i := range idx {
		if X[i][f] <= v {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

// Predict 预测，每行一个类别，保持输入顺序
func (t *DecisionTree) Predict(X [][]float64) ([]Label, error) {
	if len(t.nodes) == 0 {
		return nil, ErrUntrained
	}
	out := make([]Label, len(X))
	for i, row := range X {
		if len(row) != t.nFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrInvalidInput, i, len(row), t.nFeatures)
		}
		out[i] = t.predictRow(row)
	}
	return out, nil
}

func (t *DecisionTree) predictRow(row []float64) Label {
	n := &t.nodes[0]
	for !n.Leaf {
		if row[n.Feature] <= n.Threshold {
			n = &t.nodes[n.Left]
		} else {
			n = &t.nodes[n.Right]
		}
	}
	return n.Class
}

func (t *DecisionTree) Trained() bool { return len(t.nodes) > 0 }

// Features is the row width the tree was trained on.
func (t *DecisionTree) Features() int { return t.nFeatures }

// Nodes 返回节点数组的副本
func (t *DecisionTree) Nodes() []Node {
	out := make([]Node, len(t.nodes))
	copy(out, t.nodes)
	return out
}

func (t *DecisionTree) Leaves() int {
	n := 0
	for _, node := range t.nodes {
		if node.Leaf {
			n++
		}
	}
	return n
}

// Depth is the longest root-to-leaf edge count; a single leaf has depth 0.
func (t *DecisionTree) Depth() int {
	if len(t.nodes) == 0 {
		return 0
	}
	return t.depthAt(0)
}

func (t *DecisionTree) depthAt(i int) int {
	n := t.nodes[i]
	if n.Leaf {
		return 0
	}
	return 1 + max(t.depthAt(n.Left), t.depthAt(n.Right))
}
