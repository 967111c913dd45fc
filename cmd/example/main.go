package main

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"thrivesight/pkg/common"
	"thrivesight/pkg/dataset"
	"thrivesight/pkg/model"
)

func main() {
	rng := rand.New(rand.NewSource(1))

	// A toy market: startups with enough milestones and funding make it.
	var ds model.Dataset
	for i := 0; i < 400; i++ {
		p := common.Profile{
			Age:           rng.Float64() * 12,
			Relationships: float64(rng.Intn(25)),
			Milestones:    float64(rng.Intn(7)),
			FundingRounds: float64(rng.Intn(6)),
			IsTop500:      float64(rng.Intn(2)),
			HasRoundABCD:  float64(rng.Intn(2)),
		}
		label := common.ClassFailure
		if p.Milestones+p.FundingRounds >= 6 || (p.IsTop500 == 1 && p.Milestones >= 3) {
			label = common.ClassSuccess
		}
		ds.X = append(ds.X, p.Vector())
		ds.Y = append(ds.Y, label)
	}

	train, test := dataset.Split(ds, 0.25, rng)
	forest := model.NewForest(model.WithEstimators(50), model.WithMaxDepth(8), model.WithSeed(42))

	start := time.Now()
	if err := forest.Fit(train.X, train.Y); err != nil {
		log.Fatalf("Fit failed: %v", err)
	}
	fmt.Printf("Trained %d trees on %d rows in %v\n", len(forest.Trees()), train.Len(), time.Since(start))

	yPred, err := forest.Predict(test.X)
	if err != nil {
		log.Fatalf("Predict failed: %v", err)
	}
	m := dataset.Evaluate(test.Y, yPred)
	fmt.Printf("Holdout accuracy %.3f, precision %.3f, recall %.3f, f1 %.3f\n", m.Accuracy, m.Precision, m.Recall, m.F1)

	candidate := common.Profile{Age: 4, Relationships: 9, Milestones: 4, FundingRounds: 3, IsTop500: 1, HasRoundABCD: 1}
	votes, err := forest.Votes([][]float64{candidate.Vector()})
	if err != nil {
		log.Fatalf("Votes failed: %v", err)
	}
	label := votes[0].Winner()
	fmt.Printf("Candidate startup: %s (%.0f%% of trees vote success)\n",
		common.Outcome(label), votes[0].Share(common.ClassSuccess)*100)
}
