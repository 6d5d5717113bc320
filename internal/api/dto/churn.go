package dto

// AtRiskQuery filters the at-risk customer sweep.
type AtRiskQuery struct {
	MinScore int `form:"min_score,default=50" binding:"omitempty,gte=0,lte=100"`
	Limit    int `form:"limit,default=100" binding:"omitempty,gt=0"`
}
