package entity

import (
	"encoding/json"
	"fmt"
)

// QuestionType 题型
type QuestionType string

const (
	QuestionMCQSingle  QuestionType = "MCQ_SINGLE"
	QuestionMCQMulti   QuestionType = "MCQ_MULTI"
	QuestionTrueFalse  QuestionType = "TRUE_FALSE"
	QuestionOpen       QuestionType = "OPEN"
	QuestionFillGap    QuestionType = "FILL_GAP"
	QuestionCompliance QuestionType = "COMPLIANCE"
	QuestionOrdering   QuestionType = "ORDERING"
	QuestionHotspot    QuestionType = "HOTSPOT"
	QuestionMatching   QuestionType = "MATCHING"
)

// AllQuestionTypes 固定顺序，保证遍历结果确定
var AllQuestionTypes = []QuestionType{
	QuestionMCQSingle,
	QuestionMCQMulti,
	QuestionTrueFalse,
	QuestionOpen,
	QuestionFillGap,
	QuestionCompliance,
	QuestionOrdering,
	QuestionHotspot,
	QuestionMatching,
}

var questionTypeMax = map[QuestionType]int{
	QuestionMCQSingle:  10,
	QuestionTrueFalse:  10,
	QuestionMCQMulti:   5,
	QuestionOpen:       5,
	QuestionFillGap:    5,
	QuestionCompliance: 5,
	QuestionMatching:   5,
	QuestionOrdering:   3,
	QuestionHotspot:    3,
}

// Valid 是否为已知题型
func (t QuestionType) Valid() bool {
	_, ok := questionTypeMax[t]
	return ok
}

// MaxCount 单次生成该题型的上限，未知题型为 0
func (t QuestionType) MaxCount() int {
	return questionTypeMax[t]
}

// ParseQuestionType 解析题型
func ParseQuestionType(s string) (QuestionType, error) {
	t := QuestionType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown question type: %s", s)
	}
	return t, nil
}

// QuestionCounts 每种题型的请求数量。
// 所有写入都经过 Set，数量始终落在 [0, MaxCount]。
type QuestionCounts struct {
	counts map[QuestionType]int
}

// NewQuestionCounts 从 map 构造并逐项截断
func NewQuestionCounts(in map[QuestionType]int) QuestionCounts {
	var qc QuestionCounts
	for t, n := range in {
		qc.Set(t, n)
	}
	return qc
}

// Set 设置数量并返回实际存储的值；未知题型被忽略并返回 0
func (qc *QuestionCounts) Set(t QuestionType, n int) int {
	max, ok := questionTypeMax[t]
	if !ok {
		return 0
	}
	if n < 0 {
		n = 0
	}
	if n > max {
		n = max
	}
	if qc.counts == nil {
		qc.counts = make(map[QuestionType]int)
	}
	if n == 0 {
		delete(qc.counts, t)
		return 0
	}
	qc.counts[t] = n
	return n
}

// Get 读取数量
func (qc QuestionCounts) Get(t QuestionType) int {
	return qc.counts[t]
}

// Total 请求的题目总数
func (qc QuestionCounts) Total() int {
	total := 0
	for _, n := range qc.counts {
		total += n
	}
	return total
}

// HasAny 至少一个题型数量为正
func (qc QuestionCounts) HasAny() bool {
	return qc.Total() > 0
}

// Map 返回按题型的拷贝，只含正数项
func (qc QuestionCounts) Map() map[QuestionType]int {
	out := make(map[QuestionType]int, len(qc.counts))
	for t, n := range qc.counts {
		out[t] = n
	}
	return out
}

// Each 按固定顺序遍历正数项
func (qc QuestionCounts) Each(fn func(t QuestionType, n int)) {
	for _, t := range AllQuestionTypes {
		if n := qc.counts[t]; n > 0 {
			fn(t, n)
		}
	}
}

// Clone 拷贝
func (qc QuestionCounts) Clone() QuestionCounts {
	return NewQuestionCounts(qc.counts)
}

// MarshalJSON 序列化为 {"MCQ_SINGLE": 3}
func (qc QuestionCounts) MarshalJSON() ([]byte, error) {
	return json.Marshal(qc.Map())
}

// UnmarshalJSON 反序列化时同样截断
func (qc *QuestionCounts) UnmarshalJSON(data []byte) error {
	var raw map[QuestionType]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*qc = NewQuestionCounts(raw)
	return nil
}
