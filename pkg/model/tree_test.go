package model

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestGini(t *testing.T) {
	if g := Gini([]Label{1, 1, 1}); g != 0 {
		t.Fatalf("pure subset: got %v, want 0", g)
	}
	if g := Gini([]Label{0, 1}); g != 0.5 {
		t.Fatalf("even split: got %v, want 0.5", g)
	}
	if g := Gini([]Label{0, 0, 1, 1}); g != 0.5 {
		t.Fatalf("even split of 4: got %v, want 0.5", g)
	}
	if g := Gini(nil); g != 0 {
		t.Fatalf("empty subset: got %v, want 0", g)
	}
	if g := WeightedGini([]Label{0, 0}, nil); g != 0 {
		t.Fatalf("weighted with empty side: got %v, want 0", g)
	}
}

func TestTreeSplitsAtThreshold(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}, {3}}
	y := []Label{0, 0, 1, 1}

	tree := NewDecisionTree(WithTreeSeed(1))
	if err := tree.Fit(X, y); err != nil {
		t.Fatalf("fit: %v", err)
	}

	root := tree.Nodes()[0]
	if root.Leaf {
		t.Fatalf("expected split at root, got leaf %+v", root)
	}
	if root.Feature != 0 || root.Threshold != 1 {
		t.Fatalf("expected split on feature 0 at 1, got feature=%d threshold=%v", root.Feature, root.Threshold)
	}

	got, err := tree.Predict([][]float64{{-5}, {0}, {1}, {1.5}, {2}, {3}, {100}})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	want := []Label{0, 0, 0, 1, 1, 1, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d: got %d want %d (all=%v)", i, got[i], want[i], got)
		}
	}
	if tree.Depth() != 1 || tree.Leaves() != 2 {
		t.Fatalf("expected depth 1 with 2 leaves, got depth=%d leaves=%d", tree.Depth(), tree.Leaves())
	}
}

func TestTreeSingleClass(t *testing.T) {
	X := [][]float64{{1, 5}, {2, 6}, {3, 7}}
	y := []Label{1, 1, 1}

	tree := NewDecisionTree(WithTreeSeed(7))
	if err := tree.Fit(X, y); err != nil {
		t.Fatalf("fit: %v", err)
	}
	got, err := tree.Predict([][]float64{{0, 0}, {99, -3}, {2, 6}})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	for i, c := range got {
		if c != 1 {
			t.Fatalf("row %d: got %d want 1", i, c)
		}
	}
	if len(tree.Nodes()) != 1 {
		t.Fatalf("expected a single leaf, got %d nodes", len(tree.Nodes()))
	}
}

func TestTreeZeroDepthUsesSmallestClass(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}, {3}, {4}}
	y := []Label{1, 1, 1, 0, 2}

	tree := NewDecisionTree(WithTreeMaxDepth(0), WithTreeSeed(3))
	if err := tree.Fit(X, y); err != nil {
		t.Fatalf("fit: %v", err)
	}
	got, err := tree.Predict(X)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	for i, c := range got {
		if c != 0 {
			t.Fatalf("row %d: got %d, want smallest class 0 even though 1 is the majority", i, c)
		}
	}
}

func TestTreeDepthCap(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	X, y := noisyDataset(rng, 200, 4)

	tree := NewDecisionTree(WithTreeMaxDepth(3), WithTreeSeed(5))
	if err := tree.Fit(X, y); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if d := tree.Depth(); d > 3 {
		t.Fatalf("depth %d exceeds cap 3", d)
	}
}

func TestTreeInseparableRowsTerminate(t *testing.T) {
	X := [][]float64{{1, 2}, {1, 2}, {1, 2}, {1, 2}}
	y := []Label{1, 0, 1, 1}

	tree := NewDecisionTree(WithTreeSeed(1))
	if err := tree.Fit(X, y); err != nil {
		t.Fatalf("fit: %v", err)
	}
	nodes := tree.Nodes()
	if len(nodes) != 1 || !nodes[0].Leaf || nodes[0].Class != 0 {
		t.Fatalf("expected single leaf with class 0, got %+v", nodes)
	}
}

func TestTreePartiallySeparableTerminates(t *testing.T) {
	X := [][]float64{{0}, {0}, {1}, {1}, {2}}
	y := []Label{0, 1, 0, 1, 1}

	tree := NewDecisionTree(WithTreeSeed(2))
	if err := tree.Fit(X, y); err != nil {
		t.Fatalf("fit: %v", err)
	}
	got, err := tree.Predict([][]float64{{2}})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if got[0] != 1 {
		t.Fatalf("pure region x=2: got %d want 1", got[0])
	}
}

func TestBestSplitIsOptimal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	X, y := noisyDataset(rng, 60, 3)

	tree := NewDecisionTree(WithTreeSeed(9))
	tree.nFeatures = 3
	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}

	best, ok := tree.bestSplit(X, y, idx)
	if !ok {
		t.Fatal("expected an eligible split")
	}
	if len(best.left)+len(best.right) != len(X) {
		t.Fatalf("partition lost rows: %d + %d != %d", len(best.left), len(best.right), len(X))
	}

	for f := 0; f < 3; f++ {
		for _, v := range distinctValues(X, idx, f) {
			var left, right []Label
			for i := range X {
				if X[i][f] <= v {
					left = append(left, y[i])
				} else {
					right = append(right, y[i])
				}
			}
			if len(right) == 0 {
				continue
			}
			if imp := WeightedGini(left, right); best.impurity > imp+1e-12 {
				t.Fatalf("candidate feature=%d value=%v has impurity %v < chosen %v", f, v, imp, best.impurity)
			}
		}
	}
}

func TestTreeErrors(t *testing.T) {
	tree := NewDecisionTree()
	if _, err := tree.Predict([][]float64{{1}}); !errors.Is(err, ErrUntrained) {
		t.Fatalf("expected ErrUntrained, got %v", err)
	}

	cases := []struct {
		name string
		X    [][]float64
		y    []Label
	}{
		{"empty", nil, nil},
		{"mismatched", [][]float64{{1}, {2}}, []Label{0}},
		{"zero columns", [][]float64{{}, {}}, []Label{0, 1}},
		{"ragged", [][]float64{{1, 2}, {3}}, []Label{0, 1}},
		{"nan", [][]float64{{1}, {math.NaN()}}, []Label{0, 1}},
	}
	for _, tc := range cases {
		if err := tree.Fit(tc.X, tc.y); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}

	if err := tree.Fit([][]float64{{0, 1}, {1, 0}}, []Label{0, 1}); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if _, err := tree.Predict([][]float64{{1}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for narrow row, got %v", err)
	}
}

// noisyDataset labels rows by the sign of a linear score with some noise.
func noisyDataset(rng *rand.Rand, n, m int) ([][]float64, []Label) {
	X := make([][]float64, n)
	y := make([]Label, n)
	for i := range X {
		X[i] = make([]float64, m)
		score := 0.0
		for j := range X[i] {
			X[i][j] = float64(rng.Intn(20))
			score += X[i][j] * float64(j+1)
		}
		if score+float64(rng.Intn(10)) > float64(10*m*(m+1)/2) {
			y[i] = 1
		}
	}
	return X, y
}
