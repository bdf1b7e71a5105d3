package entity

import (
	"strings"
)

// Difficulty 难度
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Valid 是否为已知难度
func (d Difficulty) Valid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// Visibility 可见性
type Visibility string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityPublic  Visibility = "PUBLIC"
)

// 草稿字段边界
const (
	TitleMinLength       = 3
	TitleMaxLength       = 100
	DescriptionMaxLength = 1000
	MinutesMin           = 1
	MinutesMax           = 180
)

// TimerSettings 答题计时设置
type TimerSettings struct {
	Enabled         bool `json:"enabled"`
	DurationMinutes int  `json:"durationMinutes"`
}

// QuizDraft 创建向导中的测验草稿，仅存在于一次会话的内存中
type QuizDraft struct {
	Title                string        `json:"title" validate:"min=3,max=100"`
	Description          string        `json:"description" validate:"max=1000"`
	Difficulty           Difficulty    `json:"difficulty" validate:"oneof=EASY MEDIUM HARD"`
	Visibility           Visibility    `json:"visibility" validate:"oneof=PRIVATE PUBLIC"`
	Timer                TimerSettings `json:"timer"`
	EstimatedTimeMinutes int           `json:"estimatedTime" validate:"min=1,max=180"`
	RepetitionAllowed    bool          `json:"isRepetitionEnabled"`
	CategoryID           *string       `json:"categoryId,omitempty" validate:"omitempty,min=1"`
	TagIDs               []string      `json:"tagIds,omitempty" validate:"omitempty,unique,dive,min=1"`
}

// NewQuizDraft 默认草稿
func NewQuizDraft() QuizDraft {
	return QuizDraft{
		Difficulty:           DifficultyMedium,
		Visibility:           VisibilityPrivate,
		EstimatedTimeMinutes: 30,
		Timer: TimerSettings{
			DurationMinutes: 30,
		},
	}
}

// Normalize 去掉首尾空白、空分类与重复标签
func (d *QuizDraft) Normalize() {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	if d.CategoryID != nil && strings.TrimSpace(*d.CategoryID) == "" {
		d.CategoryID = nil
	}
	if len(d.TagIDs) > 0 {
		seen := make(map[string]struct{}, len(d.TagIDs))
		tags := d.TagIDs[:0]
		for _, id := range d.TagIDs {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			tags = append(tags, id)
		}
		d.TagIDs = tags
	}
}

// Clone 拷贝，切片与指针不共享
func (d QuizDraft) Clone() QuizDraft {
	cp := d
	if d.CategoryID != nil {
		id := *d.CategoryID
		cp.CategoryID = &id
	}
	if d.TagIDs != nil {
		cp.TagIDs = append([]string(nil), d.TagIDs...)
	}
	return cp
}
