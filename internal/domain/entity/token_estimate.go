package entity

// TokenEstimate 生成成本估算，由当前配置推导，没有独立生命周期
type TokenEstimate struct {
	CharacterCount       int                  `json:"characterCount"`
	ContentTokens        int                  `json:"contentTokens"`
	QuestionTokens       int                  `json:"questionTokens"`
	PerTypeBreakdown     map[QuestionType]int `json:"perTypeBreakdown"`
	DifficultyMultiplier float64              `json:"difficultyMultiplier"`
	TotalEstimatedTokens int                  `json:"totalEstimatedTokens"`
}
