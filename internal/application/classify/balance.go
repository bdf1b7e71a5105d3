package classify

import (
	"regexp"
	"strconv"
	"strings"
)

// BalanceMatcher 判定 409 响应是否表示余额不足。
// 服务端目前没有专用错误码，提供错误码后替换实现即可。
type BalanceMatcher interface {
	Match(p Payload) bool
	// Extract 尝试提取所需与可用 token 数，缺失或格式错误时返回 nil
	Extract(p Payload) (required, available *int64)
}

var (
	requiredPattern  = regexp.MustCompile(`(?i)required\s*[=:]\s*(\d+)`)
	availablePattern = regexp.MustCompile(`(?i)available\s*[=:]\s*(\d+)`)
)

// DefaultBalanceKeywords 默认匹配词
var DefaultBalanceKeywords = []string{"insufficient", "balance", "token"}

// KeywordBalanceMatcher 对 message 与 title 做小写关键词匹配
type KeywordBalanceMatcher struct {
	keywords []string
}

// NewKeywordBalanceMatcher 创建关键词匹配器，不传参时使用默认关键词
func NewKeywordBalanceMatcher(keywords ...string) *KeywordBalanceMatcher {
	if len(keywords) == 0 {
		keywords = DefaultBalanceKeywords
	}
	lower := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lower = append(lower, k)
		}
	}
	return &KeywordBalanceMatcher{keywords: lower}
}

// Match 实现 BalanceMatcher
func (m *KeywordBalanceMatcher) Match(p Payload) bool {
	text := strings.ToLower(p.Message + " " + p.Title)
	if strings.TrimSpace(text) == "" {
		text = strings.ToLower(p.Raw)
	}
	for _, k := range m.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// Extract 先查 detail 再查 message
func (m *KeywordBalanceMatcher) Extract(p Payload) (required, available *int64) {
	for _, text := range []string{p.Detail, p.Message, p.Raw} {
		if required == nil {
			required = findCount(requiredPattern, text)
		}
		if available == nil {
			available = findCount(availablePattern, text)
		}
	}
	return required, available
}

func findCount(re *regexp.Regexp, text string) *int64 {
	if text == "" {
		return nil
	}
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return nil
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
