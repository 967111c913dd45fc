package model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
)

type treeSnapshot struct {
	MaxDepth int
	Features int
	Nodes    []Node
}

type forestSnapshot struct {
	NEstimators int
	MaxDepth    int
	Seed        int64
	Trees       []treeSnapshot
}

// MarshalBinary implements encoding.BinaryMarshaler using gob.
func (f *Forest) MarshalBinary() ([]byte, error) {
	if len(f.trees) == 0 {
		return nil, ErrUntrained
	}
	snap := forestSnapshot{
		NEstimators: f.NEstimators,
		MaxDepth:    f.MaxDepth,
		Seed:        f.Seed,
		Trees:       make([]treeSnapshot, len(f.trees)),
	}
	for i, t := range f.trees {
		snap.Trees[i] = treeSnapshot{MaxDepth: t.MaxDepth, Features: t.nFeatures, Nodes: t.nodes}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a forest and checks every arena is well formed.
func (f *Forest) UnmarshalBinary(data []byte) error {
	var snap forestSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedModel, err)
	}
	if len(snap.Trees) == 0 {
		return fmt.Errorf("%w: no trees", ErrMalformedModel)
	}
	trees := make([]*DecisionTree, len(snap.Trees))
	for i, ts := range snap.Trees {
		if err := checkArena(ts); err != nil {
			return fmt.Errorf("%w: tree %d: %v", ErrMalformedModel, i, err)
		}
		trees[i] = NewDecisionTree(WithTreeMaxDepth(ts.MaxDepth), WithTreeSeed(int64(i)))
		trees[i].nFeatures = ts.Features
		trees[i].nodes = ts.Nodes
	}
	f.NEstimators = snap.NEstimators
	f.MaxDepth = snap.MaxDepth
	f.Seed = snap.Seed
	f.trees = trees
	return nil
}

func checkArena(ts treeSnapshot) error {
	if len(ts.Nodes) == 0 {
		return fmt.Errorf("empty arena")
	}
	if ts.Features <= 0 {
		return fmt.Errorf("feature width %d", ts.Features)
	}
	for i, n := range ts.Nodes {
		if n.Leaf {
			continue
		}
		if n.Feature < 0 || n.Feature >= ts.Features {
			return fmt.Errorf("node %d: feature %d out of range", i, n.Feature)
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(ts.Nodes) || n.Right >= len(ts.Nodes) {
			return fmt.Errorf("node %d: bad children %d/%d", i, n.Left, n.Right)
		}
	}
	return nil
}

// WriteTo writes the gob encoding of f to w.
func (f *Forest) WriteTo(w io.Writer) (int64, error) {
	data, err := f.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// ReadForest decodes a forest written by WriteTo.
func ReadForest(r io.Reader) (*Forest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f := &Forest{}
	if err := f.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return f, nil
}

// ExportNode 树的嵌套结构，方便 JSON 输出给前端
type ExportNode struct {
	Leaf      *Label      `json:"leaf,omitempty"`
	Feature   *int        `json:"feature,omitempty"`
	Threshold *float64    `json:"threshold,omitempty"`
	Left      *ExportNode `json:"left,omitempty"`
	Right     *ExportNode `json:"right,omitempty"`
}

type ForestExport struct {
	NEstimators int           `json:"n_estimators"`
	MaxDepth    int           `json:"max_depth"`
	Features    int           `json:"features"`
	Trees       []*ExportNode `json:"trees"`
}

func (f *Forest) Export() (*ForestExport, error) {
	if len(f.trees) == 0 {
		return nil, ErrUntrained
	}
	out := &ForestExport{
		NEstimators: f.NEstimators,
		MaxDepth:    f.MaxDepth,
		Features:    f.Features(),
		Trees:       make([]*ExportNode, len(f.trees)),
	}
	for i, t := range f.trees {
		out.Trees[i] = exportNode(t.nodes, 0)
	}
	return out, nil
}

func exportNode(nodes []Node, i int) *ExportNode {
	n := nodes[i]
	if n.Leaf {
		c := n.Class
		return &ExportNode{Leaf: &c}
	}
	feat, thr := n.Feature, n.Threshold
	return &ExportNode{
		Feature:   &feat,
		Threshold: &thr,
		Left:      exportNode(nodes, n.Left),
		Right:     exportNode(nodes, n.Right),
	}
}
