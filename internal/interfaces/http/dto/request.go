package dto

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"quiz-wizard-api/internal/domain/entity"
)

// SelectMethodRequest 选择创建方式
type SelectMethodRequest struct {
	Method entity.CreationMethod `json:"method" binding:"required,oneof=MANUAL FROM_TEXT FROM_DOCUMENT"`
}

// UpdateConfigRequest 局部更新生成配置，未提供的字段保持不变
type UpdateConfigRequest struct {
	SourceText       *string                     `json:"source_text,omitempty"`
	QuestionCounts   map[entity.QuestionType]int `json:"question_counts,omitempty"`
	Difficulty       *entity.Difficulty          `json:"difficulty,omitempty" binding:"omitempty,oneof=EASY MEDIUM HARD"`
	Language         *string                     `json:"language,omitempty"`
	ChunkingStrategy entity.ChunkingStrategy     `json:"chunking_strategy,omitempty" binding:"omitempty,oneof=AUTO CHAPTER_BASED SECTION_BASED SIZE_BASED PAGE_BASED"`
	MaxChunkSize     int                         `json:"max_chunk_size,omitempty" binding:"omitempty,min=0"`
}

// SetQuestionCountRequest 设置单个题型数量
type SetQuestionCountRequest struct {
	Count int `json:"count" binding:"min=0"`
}

// BindSessionID 从 URI 绑定会话 ID
func BindSessionID(c *gin.Context) string {
	return c.Param("sid")
}

// ParseChunkIndices 解析 "0,2,5" 形式的分块序号
func ParseChunkIndices(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid chunk index %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}
