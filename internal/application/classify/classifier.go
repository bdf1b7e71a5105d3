// Package classify 将生成 API 的原始失败归类为 ClassifiedError
package classify

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"strings"

	"quiz-wizard-api/internal/domain/service"
	"quiz-wizard-api/pkg/errors"
	"quiz-wizard-api/pkg/logger"
	"quiz-wizard-api/pkg/metrics"
)

// ValidationPrefix 服务端校验失败消息前缀
const ValidationPrefix = "Invalid request: "

// Payload 解析后的错误响应体，兼容 {message} 与 RFC 7807 {title, detail, status}
type Payload struct {
	Message string
	Title   string
	Detail  string
	Raw     string
}

// Text 面向用户展示的消息
func (p Payload) Text() string {
	for _, s := range []string{p.Message, p.Detail, p.Title, p.Raw} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Headline 简短标题：message 优先，其次 RFC 7807 title，都没有时退回 Text
func (p Payload) Headline() string {
	for _, s := range []string{p.Message, p.Title} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return p.Text()
}

// ParsePayload 解析错误响应体，任何输入都不会失败
func ParsePayload(body []byte) Payload {
	raw := strings.TrimSpace(string(body))
	p := Payload{Raw: raw}
	if raw == "" {
		return p
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return p
	}
	p.Message = stringField(fields, "message")
	if p.Message == "" {
		p.Message = stringField(fields, "error")
	}
	p.Title = stringField(fields, "title")
	p.Detail = stringField(fields, "detail")
	if p.Message != "" || p.Title != "" || p.Detail != "" {
		p.Raw = ""
	}
	return p
}

func stringField(fields map[string]any, key string) string {
	if s, ok := fields[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// HeuristicClassifier 基于状态码与消息文本的分类器
type HeuristicClassifier struct {
	balance BalanceMatcher
}

// Option 分类器选项
type Option func(*HeuristicClassifier)

// WithBalanceMatcher 替换余额不足的判定规则
func WithBalanceMatcher(m BalanceMatcher) Option {
	return func(c *HeuristicClassifier) {
		if m != nil {
			c.balance = m
		}
	}
}

// New 创建分类器
func New(opts ...Option) *HeuristicClassifier {
	c := &HeuristicClassifier{balance: NewKeywordBalanceMatcher()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ service.ErrorClassifier = (*HeuristicClassifier)(nil)

// Classify 实现 service.ErrorClassifier
func (c *HeuristicClassifier) Classify(err error) *errors.ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *errors.ClassifiedError
	if stderrors.As(err, &ce) {
		return ce
	}

	var se service.StatusError
	if stderrors.As(err, &se) {
		ce = c.classifyStatus(se)
	} else {
		ce = classifyTransport(err)
	}

	metrics.ClassifiedErrorsTotal.WithLabelValues(string(ce.Kind)).Inc()
	if ce.Kind == errors.KindUnknown {
		logger.Warn(context.Background(), "unclassified backend failure",
			"message", ce.Message,
			"error", err.Error(),
		)
	}
	return ce
}

func (c *HeuristicClassifier) classifyStatus(se service.StatusError) *errors.ClassifiedError {
	status := se.StatusCode()
	p := ParsePayload(se.ResponseBody())
	msg := p.Text()
	if msg == "" {
		msg = http.StatusText(status)
	}
	if msg == "" {
		msg = se.Error()
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return errors.Wrap(se, errors.KindValidation, ValidationPrefix+msg)
	case status == http.StatusConflict:
		if c.balance.Match(p) {
			// 余额弹窗展示标题，token 数单独携带
			required, available := c.balance.Extract(p)
			return errors.Wrap(se, errors.KindInsufficientBalance, p.Headline()).WithTokens(required, available)
		}
		return errors.Wrap(se, errors.KindUnknown, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Wrap(se, errors.KindAuth, msg)
	case status == http.StatusNotFound:
		return errors.Wrap(se, errors.KindNotFound, msg)
	case status >= 500 && status <= 599:
		return errors.Wrap(se, errors.KindServer, msg)
	default:
		return errors.Wrap(se, errors.KindUnknown, msg)
	}
}

func classifyTransport(err error) *errors.ClassifiedError {
	switch {
	case stderrors.Is(err, context.Canceled):
		return errors.Wrap(err, errors.KindUnknown, "request cancelled")
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(err, errors.KindServer, "request timed out")
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return errors.Wrap(err, errors.KindServer, "generation service unreachable")
	}
	return errors.Wrap(err, errors.KindUnknown, err.Error())
}
