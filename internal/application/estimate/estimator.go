// Package estimate 提供生成成本的 Token 估算
package estimate

import (
	"math"
	"unicode/utf8"

	"quiz-wizard-api/internal/domain/entity"
)

// CharsPerToken 经验值：约 4 个字符折合 1 个 token
const CharsPerToken = 4

// questionWeights 每道题的生成开销（token），题型越复杂越高
var questionWeights = map[entity.QuestionType]int{
	entity.QuestionTrueFalse:  60,
	entity.QuestionFillGap:    90,
	entity.QuestionMCQSingle:  120,
	entity.QuestionMCQMulti:   150,
	entity.QuestionCompliance: 150,
	entity.QuestionMatching:   170,
	entity.QuestionOrdering:   180,
	entity.QuestionHotspot:    180,
	entity.QuestionOpen:       200,
}

// difficultyMultipliers 只作用于题目部分，不作用于内容部分
var difficultyMultipliers = map[entity.Difficulty]float64{
	entity.DifficultyEasy:   0.8,
	entity.DifficultyMedium: 1.0,
	entity.DifficultyHard:   1.3,
}

// QuestionWeight 题型权重
func QuestionWeight(t entity.QuestionType) int {
	return questionWeights[t]
}

// DifficultyMultiplier 难度系数，未知难度按 MEDIUM 处理
func DifficultyMultiplier(d entity.Difficulty) float64 {
	if m, ok := difficultyMultipliers[d]; ok {
		return m
	}
	return difficultyMultipliers[entity.DifficultyMedium]
}

// Estimate 根据内容长度、题型数量与难度估算 token。
// 内容不足 minChars 或没有请求任何题目时返回 nil（不可估算），而不是 0。
func Estimate(characterCount, minChars int, counts entity.QuestionCounts, difficulty entity.Difficulty) *entity.TokenEstimate {
	if characterCount < minChars || characterCount <= 0 || !counts.HasAny() {
		return nil
	}

	multiplier := DifficultyMultiplier(difficulty)
	breakdown := make(map[entity.QuestionType]int)
	questionTokens := 0.0
	counts.Each(func(t entity.QuestionType, n int) {
		raw := float64(n*questionWeights[t]) * multiplier
		breakdown[t] = int(math.Round(raw))
		questionTokens += raw
	})

	contentTokens := (characterCount + CharsPerToken - 1) / CharsPerToken
	qt := int(math.Round(questionTokens))

	return &entity.TokenEstimate{
		CharacterCount:       characterCount,
		ContentTokens:        contentTokens,
		QuestionTokens:       qt,
		PerTypeBreakdown:     breakdown,
		DifficultyMultiplier: multiplier,
		TotalEstimatedTokens: contentTokens + qt,
	}
}

// EstimateText 文本方式的估算
func EstimateText(text string, counts entity.QuestionCounts, difficulty entity.Difficulty) *entity.TokenEstimate {
	return Estimate(utf8.RuneCountInString(text), entity.SourceTextMinLength, counts, difficulty)
}

// EstimateConfig 按生成配置估算，nil 配置（手动创建）不可估算
func EstimateConfig(cfg entity.GenerationConfig) *entity.TokenEstimate {
	if cfg == nil {
		return nil
	}
	return Estimate(cfg.ContentLength(), entity.MinContentLength(cfg.Method()), *cfg.Counts(), cfg.GetDifficulty())
}
