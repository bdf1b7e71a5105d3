package entity

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// CreationMethod 创建方式
type CreationMethod string

const (
	CreationManual       CreationMethod = "MANUAL"
	CreationFromText     CreationMethod = "FROM_TEXT"
	CreationFromDocument CreationMethod = "FROM_DOCUMENT"
)

// Valid 是否为已知创建方式
func (m CreationMethod) Valid() bool {
	return m == CreationManual || m == CreationFromText || m == CreationFromDocument
}

// UsesGeneration 是否需要提交生成任务
func (m CreationMethod) UsesGeneration() bool {
	return m == CreationFromText || m == CreationFromDocument
}

// ChunkingStrategy 源内容切分方式
type ChunkingStrategy string

const (
	ChunkingAuto         ChunkingStrategy = "AUTO"
	ChunkingChapterBased ChunkingStrategy = "CHAPTER_BASED"
	ChunkingSectionBased ChunkingStrategy = "SECTION_BASED"
	ChunkingSizeBased    ChunkingStrategy = "SIZE_BASED"
	ChunkingPageBased    ChunkingStrategy = "PAGE_BASED"
)

// 生成配置边界
const (
	SourceTextMinLength   = 10
	SourceTextMaxLength   = 300000
	DocumentMinCharacters = 100
	DefaultMaxChunkSize   = 50000
	MinChunkSize          = 1000
	MaxChunkSize          = 100000
	DefaultLanguage       = "en"
)

// GenerationConfig 随创建方式变化的生成配置。
// 只有本包内的类型实现它，新增创建方式时调用方的类型分支需要同步修改。
type GenerationConfig interface {
	Method() CreationMethod
	Counts() *QuestionCounts
	ContentLength() int
	GetDifficulty() Difficulty
	SetDifficulty(d Difficulty)
	isGenerationConfig()
}

// TextGenerationConfig 基于粘贴文本生成
type TextGenerationConfig struct {
	SourceText       string           `json:"text" validate:"min=10,max=300000"`
	QuestionCounts   QuestionCounts   `json:"questionsPerType"`
	Difficulty       Difficulty       `json:"difficulty" validate:"oneof=EASY MEDIUM HARD"`
	Language         string           `json:"language" validate:"omitempty,min=2,max=10"`
	ChunkingStrategy ChunkingStrategy `json:"chunkingStrategy" validate:"oneof=AUTO CHAPTER_BASED SECTION_BASED SIZE_BASED PAGE_BASED"`
	MaxChunkSize     int              `json:"maxChunkSize" validate:"min=1000,max=100000"`
}

// NewTextGenerationConfig 默认文本配置
func NewTextGenerationConfig(difficulty Difficulty) *TextGenerationConfig {
	return &TextGenerationConfig{
		Difficulty:       difficulty,
		Language:         DefaultLanguage,
		ChunkingStrategy: ChunkingAuto,
		MaxChunkSize:     DefaultMaxChunkSize,
	}
}

func (c *TextGenerationConfig) Method() CreationMethod     { return CreationFromText }
func (c *TextGenerationConfig) Counts() *QuestionCounts    { return &c.QuestionCounts }
func (c *TextGenerationConfig) ContentLength() int         { return utf8.RuneCountInString(c.SourceText) }
func (c *TextGenerationConfig) GetDifficulty() Difficulty  { return c.Difficulty }
func (c *TextGenerationConfig) SetDifficulty(d Difficulty) { c.Difficulty = d }
func (c *TextGenerationConfig) isGenerationConfig()        {}

// PageRange 文档页码区间（闭区间，从 1 开始）
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// String 格式化为 "3" 或 "1-3"
func (r PageRange) String() string {
	if r.Start == r.End {
		return strconv.Itoa(r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// ParsePageRanges 解析 "1-3,5" 形式的页码选择，结果有序且合并重叠区间
func ParsePageRanges(s string) ([]PageRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var ranges []PageRange
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, found := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid page %q", part)
		}
		end := start
		if found {
			end, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("invalid page range %q", part)
			}
		}
		if start < 1 || end < start {
			return nil, fmt.Errorf("invalid page range %q", part)
		}
		ranges = append(ranges, PageRange{Start: start, End: end})
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	merged := ranges[:0]
	for _, r := range ranges {
		if n := len(merged); n > 0 && r.Start <= merged[n-1].End+1 {
			if r.End > merged[n-1].End {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged, nil
}

// SourceDocument 上传的源文档
type SourceDocument struct {
	FileName     string      `json:"fileName" validate:"required,max=255"`
	ContentType  string      `json:"contentType"`
	Data         []byte      `json:"-" validate:"min=1"`
	PageRanges   []PageRange `json:"pageRanges,omitempty"`
	ChunkIndices []int       `json:"chunkIndices,omitempty" validate:"omitempty,unique,dive,min=0"`
	// TextLength 已知的抽取文本字符数，0 表示未知
	TextLength int `json:"textLength,omitempty"`
}

// Size 文档字节数
func (d *SourceDocument) Size() int {
	if d == nil {
		return 0
	}
	return len(d.Data)
}

// DocumentGenerationConfig 基于上传文档生成
type DocumentGenerationConfig struct {
	Document         *SourceDocument  `json:"document" validate:"required"`
	QuestionCounts   QuestionCounts   `json:"questionsPerType"`
	Difficulty       Difficulty       `json:"difficulty" validate:"oneof=EASY MEDIUM HARD"`
	ChunkingStrategy ChunkingStrategy `json:"chunkingStrategy" validate:"oneof=AUTO CHAPTER_BASED SECTION_BASED SIZE_BASED PAGE_BASED"`
	MaxChunkSize     int              `json:"maxChunkSize" validate:"min=1000,max=100000"`
}

// NewDocumentGenerationConfig 默认文档配置
func NewDocumentGenerationConfig(difficulty Difficulty) *DocumentGenerationConfig {
	return &DocumentGenerationConfig{
		Difficulty:       difficulty,
		ChunkingStrategy: ChunkingAuto,
		MaxChunkSize:     DefaultMaxChunkSize,
	}
}

func (c *DocumentGenerationConfig) Method() CreationMethod     { return CreationFromDocument }
func (c *DocumentGenerationConfig) Counts() *QuestionCounts    { return &c.QuestionCounts }
func (c *DocumentGenerationConfig) GetDifficulty() Difficulty  { return c.Difficulty }
func (c *DocumentGenerationConfig) SetDifficulty(d Difficulty) { c.Difficulty = d }
func (c *DocumentGenerationConfig) isGenerationConfig()        {}

// ContentLength 优先使用抽取文本长度，否则按字节数近似
func (c *DocumentGenerationConfig) ContentLength() int {
	if c.Document == nil {
		return 0
	}
	if c.Document.TextLength > 0 {
		return c.Document.TextLength
	}
	return len(c.Document.Data)
}

// NewGenerationConfig 按创建方式构造默认配置，MANUAL 返回 nil
func NewGenerationConfig(method CreationMethod, difficulty Difficulty) GenerationConfig {
	switch method {
	case CreationFromText:
		return NewTextGenerationConfig(difficulty)
	case CreationFromDocument:
		return NewDocumentGenerationConfig(difficulty)
	default:
		return nil
	}
}

// MinContentLength 各创建方式可估算/可提交的最小内容长度
func MinContentLength(method CreationMethod) int {
	switch method {
	case CreationFromText:
		return SourceTextMinLength
	case CreationFromDocument:
		return DocumentMinCharacters
	default:
		return 0
	}
}

// CloneConfig 拷贝生成配置，文档内容字节共享（只整体替换，不原地修改）
func CloneConfig(cfg GenerationConfig) GenerationConfig {
	switch c := cfg.(type) {
	case nil:
		return nil
	case *TextGenerationConfig:
		cp := *c
		cp.QuestionCounts = c.QuestionCounts.Clone()
		return &cp
	case *DocumentGenerationConfig:
		cp := *c
		cp.QuestionCounts = c.QuestionCounts.Clone()
		if c.Document != nil {
			doc := *c.Document
			doc.PageRanges = append([]PageRange(nil), c.Document.PageRanges...)
			doc.ChunkIndices = append([]int(nil), c.Document.ChunkIndices...)
			cp.Document = &doc
		}
		return &cp
	default:
		panic(fmt.Sprintf("entity: unhandled generation config %T", cfg))
	}
}
