package model

import (
	"errors"
	"fmt"
	"math"
)

// Label is a class value. Success/failure models use 1 and 0.
type Label = int

// Unlimited disables the depth cap.
const Unlimited = -1

var (
	ErrUntrained      = errors.New("model: untrained")
	ErrInvalidInput   = errors.New("model: invalid input")
	ErrMalformedModel = errors.New("model: malformed serialized model")
)

// Classifier is implemented by DecisionTree and Forest.
type Classifier interface {
	Fit(X [][]float64, y []Label) error
	Predict(X [][]float64) ([]Label, error)
}

var (
	_ Classifier = (*DecisionTree)(nil)
	_ Classifier = (*Forest)(nil)
)

// Dataset pairs a feature matrix with its labels.
type Dataset struct {
	X [][]float64
	Y []Label
}

func (d Dataset) Len() int { return len(d.Y) }

// Features returns the column count, 0 for an empty dataset.
func (d Dataset) Features() int {
	if len(d.X) == 0 {
		return 0
	}
	return len(d.X[0])
}

// Validate reports ErrInvalidInput unless the dataset is non-empty,
// rectangular, label-matched and finite.
func (d Dataset) Validate() error {
	_, err := validate(d.X, d.Y)
	return err
}

func validate(X [][]float64, y []Label) (int, error) {
	if len(X) == 0 {
		return 0, fmt.Errorf("%w: empty feature matrix", ErrInvalidInput)
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("%w: %d rows but %d labels", ErrInvalidInput, len(X), len(y))
	}
	m := len(X[0])
	if m == 0 {
		return 0, fmt.Errorf("%w: zero feature columns", ErrInvalidInput)
	}
	for i, row := range X {
		if len(row) != m {
			return 0, fmt.Errorf("%w: row %d has %d features, want %d", ErrInvalidInput, i, len(row), m)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, fmt.Errorf("%w: non-finite value at row %d column %d", ErrInvalidInput, i, j)
			}
		}
	}
	return m, nil
}
