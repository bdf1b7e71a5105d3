// Package errors 提供统一的错误定义
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrorKind 错误分类
type ErrorKind string

// 预定义错误分类
const (
	KindValidation          ErrorKind = "VALIDATION"
	KindInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	KindAuth                ErrorKind = "AUTH"
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindServer              ErrorKind = "SERVER"
	KindUnknown             ErrorKind = "UNKNOWN"
)

// ClassifiedError 经过分类的失败
type ClassifiedError struct {
	Kind            ErrorKind `json:"kind"`
	Message         string    `json:"message"`
	RequiredTokens  *int64    `json:"required_tokens,omitempty"`
	AvailableTokens *int64    `json:"available_tokens,omitempty"`
	HTTPStatus      int       `json:"-"`
	Err             error     `json:"-"`
}

// Error 实现 error 接口
func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap 返回底层错误
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// WithError 添加底层错误
func (e *ClassifiedError) WithError(err error) *ClassifiedError {
	e.Err = err
	return e
}

// WithTokens 附加余额信息（均为可选）
func (e *ClassifiedError) WithTokens(required, available *int64) *ClassifiedError {
	e.RequiredTokens = required
	e.AvailableTokens = available
	return e
}

// Is 按分类比较，便于 errors.Is(err, ErrNotFound)
func (e *ClassifiedError) Is(target error) bool {
	t, ok := target.(*ClassifiedError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Retryable 重新提交是否可能成功
func (e *ClassifiedError) Retryable() bool {
	return e.Kind == KindServer
}

// New 创建新的分类错误
func New(kind ErrorKind, message string) *ClassifiedError {
	return &ClassifiedError{
		Kind:       kind,
		Message:    message,
		HTTPStatus: kindToHTTPStatus(kind),
	}
}

// Wrap 包装错误
func Wrap(err error, kind ErrorKind, message string) *ClassifiedError {
	return &ClassifiedError{
		Kind:       kind,
		Message:    message,
		HTTPStatus: kindToHTTPStatus(kind),
		Err:        err,
	}
}

// kindToHTTPStatus 分类转网关响应码
func kindToHTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindInsufficientBalance:
		return http.StatusPaymentRequired
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrNotFound = New(KindNotFound, "")
	ErrAuth     = New(KindAuth, "")
	ErrServer   = New(KindServer, "")
)

// IsClassified 检查是否为 ClassifiedError
func IsClassified(err error) bool {
	var ce *ClassifiedError
	return stderrors.As(err, &ce)
}

// AsClassified 将错误转换为 ClassifiedError
func AsClassified(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce
	}
	return Wrap(err, KindUnknown, err.Error())
}

// ValidationError 字段级校验失败
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError 创建字段校验错误
func NewValidationError(fields map[string]string) *ValidationError {
	return &ValidationError{Fields: fields}
}

// Error 实现 error 接口
func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsValidation 提取字段校验错误
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if stderrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
