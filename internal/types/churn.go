package types

// ChurnRiskLevel buckets a churn risk score.
type ChurnRiskLevel string

const (
	ChurnRiskLow      ChurnRiskLevel = "low"
	ChurnRiskMedium   ChurnRiskLevel = "medium"
	ChurnRiskHigh     ChurnRiskLevel = "high"
	ChurnRiskCritical ChurnRiskLevel = "critical"
)

func (l ChurnRiskLevel) String() string {
	return string(l)
}

// ChurnRiskLevelForScore maps a clamped 0-100 score to its level.
func ChurnRiskLevelForScore(score int) ChurnRiskLevel {
	switch {
	case score >= 70:
		return ChurnRiskCritical
	case score >= 50:
		return ChurnRiskHigh
	case score >= 30:
		return ChurnRiskMedium
	default:
		return ChurnRiskLow
	}
}

// RecommendationPriority orders retention recommendations.
type RecommendationPriority string

const (
	RecommendationPriorityLow      RecommendationPriority = "low"
	RecommendationPriorityMedium   RecommendationPriority = "medium"
	RecommendationPriorityHigh     RecommendationPriority = "high"
	RecommendationPriorityCritical RecommendationPriority = "critical"
)

func (p RecommendationPriority) String() string {
	return string(p)
}
