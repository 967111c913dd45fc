// Package dataset loads startup training data and scores holdout predictions.
package dataset

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"

	"github.com/go-gota/gota/dataframe"

	"thrivesight/pkg/common"
	"thrivesight/pkg/model"
)

// LoadCSV reads the schema columns plus labelColumn from a headed CSV.
// Extra columns are ignored; column order in the file does not matter.
func LoadCSV(r io.Reader, labelColumn string) (model.Dataset, error) {
	df := dataframe.ReadCSV(r)
	if df.Err != nil {
		return model.Dataset{}, fmt.Errorf("dataset: read csv: %w", df.Err)
	}
	if df.Nrow() == 0 {
		return model.Dataset{}, fmt.Errorf("dataset: no rows")
	}

	names := make(map[string]bool, df.Ncol())
	for _, n := range df.Names() {
		names[n] = true
	}
	for _, n := range append(append([]string{}, common.FeatureNames...), labelColumn) {
		if !names[n] {
			return model.Dataset{}, fmt.Errorf("dataset: missing column %q", n)
		}
	}

	n := df.Nrow()
	X := make([][]float64, n)
	for i := range X {
		X[i] = make([]float64, common.NumFeatures)
	}
	for j, name := range common.FeatureNames {
		col := df.Col(name).Float()
		for i, v := range col {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return model.Dataset{}, fmt.Errorf("dataset: column %q row %d is not a finite number", name, i+1)
			}
			X[i][j] = v
		}
	}

	y := make([]model.Label, n)
	for i, v := range df.Col(labelColumn).Float() {
		if math.IsNaN(v) || v != math.Trunc(v) {
			return model.Dataset{}, fmt.Errorf("dataset: label %q row %d is not an integer class", labelColumn, i+1)
		}
		y[i] = model.Label(v)
	}

	return model.Dataset{X: X, Y: y}, nil
}

func LoadFile(path, labelColumn string) (model.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Dataset{}, err
	}
	defer f.Close()
	return LoadCSV(f, labelColumn)
}

func FromSamples(samples []common.Sample) model.Dataset {
	ds := model.Dataset{
		X: make([][]float64, len(samples)),
		Y: make([]model.Label, len(samples)),
	}
	for i, s := range samples {
		ds.X[i] = s.Profile.Vector()
		ds.Y[i] = s.Label
	}
	return ds
}

// Merge concatenates b after a.
func Merge(a, b model.Dataset) model.Dataset {
	out := model.Dataset{
		X: make([][]float64, 0, len(a.X)+len(b.X)),
		Y: make([]model.Label, 0, len(a.Y)+len(b.Y)),
	}
	out.X = append(append(out.X, a.X...), b.X...)
	out.Y = append(append(out.Y, a.Y...), b.Y...)
	return out
}

// Split shuffles ds and moves round(n*testRatio) rows to the test set,
// always leaving at least one training row.
func Split(ds model.Dataset, testRatio float64, rng *rand.Rand) (train, test model.Dataset) {
	n := ds.Len()
	nTest := int(math.Round(float64(n) * testRatio))
	if nTest >= n {
		nTest = n - 1
	}
	if nTest < 0 {
		nTest = 0
	}

	perm := rng.Perm(n)
	for k, i := range perm {
		if k < nTest {
			test.X = append(test.X, ds.X[i])
			test.Y = append(test.Y, ds.Y[i])
		} else {
			train.X = append(train.X, ds.X[i])
			train.Y = append(train.Y, ds.Y[i])
		}
	}
	return train, test
}

// Evaluate scores predictions with success (1) as the positive class.
func Evaluate(yTrue, yPred []model.Label) common.Metrics {
	m := common.Metrics{Support: len(yTrue)}
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return m
	}

	var tp, fp, fn, correct int
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
		switch {
		case yPred[i] == common.ClassSuccess && yTrue[i] == common.ClassSuccess:
			tp++
		case yPred[i] == common.ClassSuccess:
			fp++
		case yTrue[i] == common.ClassSuccess:
			fn++
		}
	}

	m.Accuracy = float64(correct) / float64(len(yTrue))
	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}
