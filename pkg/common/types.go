package common

import (
	"fmt"
	"time"
)

// ID 预测记录主键 (snowflake)
type ID int64

// 模型使用的类别值
const (
	ClassFailure = 0
	ClassSuccess = 1
)

// FeatureNames 训练和预测共用的特征顺序
var FeatureNames = []string{
	"age",
	"relationships",
	"age_last_milestone_year",
	"milestones",
	"is_top500",
	"has_RoundABCD",
	"age_first_milestone_year",
	"funding_rounds",
	"avg_participants",
	"is_otherstate",
}

// NumFeatures is len(FeatureNames).
const NumFeatures = 10

// Profile 前端表单收集的创业公司属性
type Profile struct {
	Age                   float64 `json:"age" binding:"finite,gte=0"`
	Relationships         float64 `json:"relationships" binding:"finite,gte=0"`
	AgeLastMilestoneYear  float64 `json:"age_last_milestone_year" binding:"finite,gte=0"`
	Milestones            float64 `json:"milestones" binding:"finite,gte=0"`
	IsTop500              float64 `json:"is_top500" binding:"finite,binary"`
	HasRoundABCD          float64 `json:"has_RoundABCD" binding:"finite,binary"`
	AgeFirstMilestoneYear float64 `json:"age_first_milestone_year" binding:"finite,gte=0"`
	FundingRounds         float64 `json:"funding_rounds" binding:"finite,gte=0"`
	AvgParticipants       float64 `json:"avg_participants" binding:"finite,gte=0"`
	IsOtherState          float64 `json:"is_otherstate" binding:"finite,binary"`
}

// Vector returns the features in FeatureNames order.
func (p Profile) Vector() []float64 {
	return []float64{
		p.Age,
		p.Relationships,
		p.AgeLastMilestoneYear,
		p.Milestones,
		p.IsTop500,
		p.HasRoundABCD,
		p.AgeFirstMilestoneYear,
		p.FundingRounds,
		p.AvgParticipants,
		p.IsOtherState,
	}
}

// ProfileFromVector is the inverse of Vector.
func ProfileFromVector(v []float64) (Profile, error) {
	if len(v) != NumFeatures {
		return Profile{}, fmt.Errorf("profile: got %d features, want %d", len(v), NumFeatures)
	}
	return Profile{
		Age:                   v[0],
		Relationships:         v[1],
		AgeLastMilestoneYear:  v[2],
		Milestones:            v[3],
		IsTop500:              v[4],
		HasRoundABCD:          v[5],
		AgeFirstMilestoneYear: v[6],
		FundingRounds:         v[7],
		AvgParticipants:       v[8],
		IsOtherState:          v[9],
	}, nil
}

// Outcome maps a class to the text shown on the result banner.
func Outcome(label int) string {
	switch label {
	case ClassSuccess:
		return "success"
	case ClassFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Prediction 一次预测的结果，也是历史记录的基本单元
type Prediction struct {
	ID           ID        `json:"id,string"`
	ModelVersion int64     `json:"model_version"`
	Profile      Profile   `json:"profile"`
	Label        int       `json:"label"`
	Outcome      string    `json:"outcome"`
	SuccessShare float64   `json:"success_share"`
	Cached       bool      `json:"cached"`
	CreatedAt    time.Time `json:"created_at"`
}

// Sample 带标签的样本，用于下一次训练
type Sample struct {
	Profile Profile `json:"profile"`
	Label   int     `json:"label" binding:"binary"`
}

// Metrics are holdout scores for the success class.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"` // holdout rows
}
