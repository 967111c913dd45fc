package model

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// Forest is a bagging ensemble of decision trees with majority voting.
type Forest struct {
	NEstimators int
	MaxDepth    int
	Seed        int64
	Workers     int // 0 => GOMAXPROCS

	trees []*DecisionTree
}

type ForestOption func(*Forest)

func WithEstimators(n int) ForestOption { return func(f *Forest) { f.NEstimators = n } }
func WithMaxDepth(d int) ForestOption   { return func(f *Forest) { f.MaxDepth = d } }
func WithSeed(seed int64) ForestOption  { return func(f *Forest) { f.Seed = seed } }
func WithWorkers(n int) ForestOption    { return func(f *Forest) { f.Workers = n } }

func NewForest(opts ...ForestOption) *Forest {
	f := &Forest{
		NEstimators: 100,
		MaxDepth:    Unlimited,
		Seed:        time.Now().UnixNano(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Forest) Fit(X [][]float64, y []Label) error {
	return f.FitContext(context.Background(), X, y)
}

// FitContext trains NEstimators trees on bootstrap resamples. Seeds and
// samples are drawn up front from Seed, so the result does not depend on
// how the workers get scheduled.
func (f *Forest) FitContext(ctx context.Context, X [][]float64, y []Label) error {
	if f.NEstimators < 1 {
		return fmt.Errorf("%w: n_estimators must be >= 1, got %d", ErrInvalidInput, f.NEstimators)
	}
	if _, err := validate(X, y); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(f.Seed))
	seeds := make([]int64, f.NEstimators)
	samples := make([][]int, f.NEstimators)
	for i := range seeds {
		seeds[i] = rng.Int63()
		samples[i] = Bootstrap(rng, len(X))
	}

	workers := f.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]*DecisionTree, f.NEstimators)
	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx).WithCancelOnError()
	for i := range trees {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			Xb, yb := resample(X, y, samples[i])
			tree := NewDecisionTree(
				WithTreeMaxDepth(f.MaxDepth),
				WithRand(rand.New(rand.NewSource(seeds[i]))),
			)
			if err := tree.Fit(Xb, yb); err != nil {
				return err
			}
			trees[i] = tree
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	f.trees = trees
	return nil
}

// Bootstrap 有放回地抽取 n 个 [0, n) 下标
func Bootstrap(rng *rand.Rand, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.Intn(n)
	}
	return idx
}

func resample(X [][]float64, y []Label, idx []int) ([][]float64, []Label) {
	Xb := make([][]float64, len(idx))
	yb := make([]Label, len(idx))
	for i, j := range idx {
		Xb[i] = X[j]
		yb[i] = y[j]
	}
	return Xb, yb
}

// Predict returns the majority-vote class per row, in input order.
func (f *Forest) Predict(X [][]float64) ([]Label, error) {
	votes, err := f.Votes(X)
	if err != nil {
		return nil, err
	}
	out := make([]Label, len(votes))
	for i, v := range votes {
		out[i] = v.Winner()
	}
	return out, nil
}

// Votes returns each row's per-class tree count.
func (f *Forest) Votes(X [][]float64) ([]Tally, error) {
	if len(f.trees) == 0 {
		return nil, ErrUntrained
	}
	tallies := make([]Tally, len(X))
	for i := range tallies {
		tallies[i] = make(Tally, 2)
	}
	for _, t := range f.trees {
		preds, err := t.Predict(X)
		if err != nil {
			return nil, err
		}
		for i, p := range preds {
			tallies[i][p]++
		}
	}
	return tallies, nil
}

func (f *Forest) Trees() []*DecisionTree { return f.trees }

func (f *Forest) Trained() bool { return len(f.trees) > 0 }

// Features is the row width of the training data, 0 when untrained.
func (f *Forest) Features() int {
	if len(f.trees) == 0 {
		return 0
	}
	return f.trees[0].Features()
}

// Tally 每个类别的票数
type Tally map[Label]int

// Winner is the most voted class; ties go to the lowest label.
func (t Tally) Winner() Label {
	var best Label
	bestCount := -1
	for c, n := range t {
		if n > bestCount || (n == bestCount && c < best) {
			best, bestCount = c, n
		}
	}
	return best
}

func (t Tally) Total() int {
	n := 0
	for _, c := range t {
		n += c
	}
	return n
}

// Share is the fraction of votes cast for c.
func (t Tally) Share(c Label) float64 {
	total := t.Total()
	if total == 0 {
		return 0
	}
	return float64(t[c]) / float64(total)
}

// MajorityVote 对一行的各树预测做多数表决
func MajorityVote(preds []Label) Label {
	t := make(Tally, 2)
	for _, p := range preds {
		t[p]++
	}
	return t.Winner()
}
